package relay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"refiner/internal/domain"
	"refiner/internal/providers/runpod"
	"refiner/internal/storage"
)

// memRepo is an in-memory ProjectRepository with the same conditional
// update semantics as the Postgres implementation.
type memRepo struct {
	mu          sync.Mutex
	projects    map[string]*domain.Project
	createErr   error
	mergeErr    error
	transitions int
	// beforeTransition runs once, letting tests simulate a concurrent writer.
	beforeTransition func(r *memRepo, id string)
}

func newMemRepo() *memRepo {
	return &memRepo{projects: map[string]*domain.Project{}}
}

func (r *memRepo) put(p *domain.Project) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects[p.ID] = p.Clone()
}

func (r *memRepo) get(id string) *domain.Project {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.projects[id].Clone()
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.projects)
}

func (r *memRepo) Create(_ context.Context, p *domain.Project) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p.Version = 0
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	r.projects[p.ID] = p.Clone()
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*domain.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *memRepo) GetForUser(_ context.Context, id, userID string) (*domain.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok || p.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *memRepo) MergeData(_ context.Context, id string, patch domain.ProjectData) error {
	if r.mergeErr != nil {
		return r.mergeErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return domain.ErrNotFound
	}
	for k, v := range patch {
		p.Data[k] = v
	}
	p.Version++
	return nil
}

func (r *memRepo) Transition(_ context.Context, id string, version int, status domain.JobStatus, patch domain.ProjectData) (bool, error) {
	if hook := r.beforeTransition; hook != nil {
		r.beforeTransition = nil
		hook(r, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok || p.Status != domain.JobStatusProcessing || p.Version != version {
		return false, nil
	}
	p.Status = status
	for k, v := range patch {
		p.Data[k] = v
	}
	p.Version++
	r.transitions++
	return true, nil
}

func (r *memRepo) ListStale(_ context.Context, tool string, cutoff time.Time, limit int) ([]domain.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Project
	for _, p := range r.projects {
		if p.Tool == tool && p.Status == domain.JobStatusProcessing && p.CreatedAt.Before(cutoff) {
			out = append(out, *p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memStore struct {
	configured bool
	putErr     error
	objects    map[string][]byte
	deleted    []string
}

func newMemStore() *memStore {
	return &memStore{configured: true, objects: map[string][]byte{}}
}

func (s *memStore) Configured() bool { return s.configured }
func (s *memStore) Bucket() string   { return "uploads" }

func (s *memStore) Put(_ context.Context, key, _ string, data []byte) (storage.Object, error) {
	if s.putErr != nil {
		return storage.Object{}, s.putErr
	}
	s.objects[key] = data
	return storage.Object{Key: key, FileID: "f-" + key, Size: int64(len(data))}, nil
}

func (s *memStore) Delete(_ context.Context, obj storage.Object) error {
	delete(s.objects, obj.Key)
	s.deleted = append(s.deleted, obj.Key)
	return nil
}

type fakeRunner struct {
	apiKey    bool
	submitErr error
	calls     []runpod.JobInput
	webhooks  []string
	statuses  map[string]*runpod.JobStatus
	statusErr error
	polled    int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{apiKey: true, statuses: map[string]*runpod.JobStatus{}}
}

func (f *fakeRunner) HasCredentials() bool { return f.apiKey }

func (f *fakeRunner) Submit(_ context.Context, input runpod.JobInput, webhookURL string) (*runpod.Job, error) {
	f.calls = append(f.calls, input)
	f.webhooks = append(f.webhooks, webhookURL)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &runpod.Job{ID: "job-" + input.ProjectID, Status: domain.RemoteInQueue}, nil
}

func (f *fakeRunner) Status(_ context.Context, jobID string) (*runpod.JobStatus, error) {
	f.polled++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	st, ok := f.statuses[jobID]
	if !ok {
		return nil, errors.New("unknown job")
	}
	return st, nil
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func processingProject(id, userID, jobID string) *domain.Project {
	data := domain.ProjectData{domain.KeyOriginalImageKey: userID + "/1_face.jpg"}
	if jobID != "" {
		data[domain.KeyRunPodJobID] = jobID
	}
	return &domain.Project{
		ID:        id,
		UserID:    userID,
		Name:      "face.jpg",
		Tool:      domain.ToolSkinRefiner,
		Status:    domain.JobStatusProcessing,
		Data:      data,
		Version:   1,
		CreatedAt: fixedNow.Add(-time.Minute),
	}
}

var runpodStatusCompleted = runpod.JobStatus{
	ID:     "job-1",
	Status: "COMPLETED",
	Output: map[string]any{"refined_image_url": "https://x/y.png"},
}
