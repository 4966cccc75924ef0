package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"refiner/internal/domain"
	"refiner/internal/providers/runpod"
)

func newTestSweeper(repo *memRepo, runner *fakeRunner) *Sweeper {
	return NewSweeper(SweeperConfig{
		Repo:       repo,
		Source:     runner,
		Reconciler: NewReconciler(repo, nil, WithClock(fixedClock)),
		StaleAfter: 2 * time.Minute,
		Timeout:    30 * time.Minute,
		Batch:      10,
		Now:        fixedClock,
	})
}

func aged(p *domain.Project, age time.Duration) *domain.Project {
	p.CreatedAt = fixedNow.Add(-age)
	return p
}

func TestSweepReconcilesStaleProjects(t *testing.T) {
	repo, runner := newMemRepo(), newFakeRunner()
	repo.put(aged(processingProject("done", "u1", "job-done"), 5*time.Minute))
	repo.put(aged(processingProject("broken", "u1", "job-broken"), 5*time.Minute))
	repo.put(aged(processingProject("busy", "u1", "job-busy"), 5*time.Minute))
	repo.put(aged(processingProject("fresh", "u1", "job-fresh"), 30*time.Second))
	runner.statuses["job-done"] = &runpod.JobStatus{Status: "COMPLETED", Output: map[string]any{"refined_image_url": "https://x/1.png"}}
	runner.statuses["job-broken"] = &runpod.JobStatus{Status: "FAILED", Error: "cuda"}
	runner.statuses["job-busy"] = &runpod.JobStatus{Status: "IN_PROGRESS"}
	runner.statuses["job-fresh"] = &runpod.JobStatus{Status: "COMPLETED"}

	stats, err := newTestSweeper(repo, runner).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Checked != 3 || stats.Completed != 1 || stats.Failed != 1 || stats.Expired != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if got := repo.get("done"); got.Status != domain.JobStatusCompleted || got.Data.String(domain.KeyCompletedVia) != "sweep" {
		t.Fatalf("done project: %+v", got)
	}
	if got := repo.get("broken"); got.Status != domain.JobStatusFailed || got.Data.String(domain.KeyErrorMessage) != "cuda" {
		t.Fatalf("broken project: %+v", got)
	}
	if repo.get("busy").Status != domain.JobStatusProcessing {
		t.Fatalf("in-progress project should stay processing")
	}
	if repo.get("fresh").Status != domain.JobStatusProcessing {
		t.Fatalf("fresh project should not be swept")
	}
}

func TestSweepExpiresTimedOutProjects(t *testing.T) {
	repo, runner := newMemRepo(), newFakeRunner()
	repo.put(aged(processingProject("stuck", "u1", "job-stuck"), time.Hour))
	repo.put(aged(processingProject("orphan", "u1", ""), time.Hour))
	repo.put(aged(processingProject("unreachable", "u1", "job-x"), time.Hour))
	runner.statuses["job-stuck"] = &runpod.JobStatus{Status: "IN_QUEUE"}

	stats, err := newTestSweeper(repo, runner).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Expired != 3 || stats.Errors != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	for _, id := range []string{"stuck", "orphan", "unreachable"} {
		got := repo.get(id)
		if got.Status != domain.JobStatusFailed || got.Data.String(domain.KeyErrorMessage) != "job timed out" {
			t.Fatalf("%s: %+v", id, got)
		}
	}
}

func TestSweepIgnoresOtherTools(t *testing.T) {
	repo, runner := newMemRepo(), newFakeRunner()
	other := aged(processingProject("other", "u1", "job-o"), time.Hour)
	other.Tool = "background_remover"
	repo.put(other)

	stats, err := newTestSweeper(repo, runner).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Checked != 0 || runner.polled != 0 {
		t.Fatalf("foreign tool swept: %+v", stats)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	repo, runner := newMemRepo(), newFakeRunner()
	sweeper := newTestSweeper(repo, runner)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx, time.Millisecond) }()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop")
	}
}

func TestSweepCompletesStringOutputInsteadOfExpiring(t *testing.T) {
	repo, runner := newMemRepo(), newFakeRunner()
	repo.put(aged(processingProject("late", "u1", "job-late"), time.Hour))
	runner.statuses["job-late"] = &runpod.JobStatus{Status: "COMPLETED", Output: "https://x/late.png"}

	stats, err := newTestSweeper(repo, runner).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Completed != 1 || stats.Expired != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if got := repo.get("late"); got.Status != domain.JobStatusCompleted || got.Data.String(domain.KeyRefinedImageURL) != "https://x/late.png" {
		t.Fatalf("late project: %+v", got)
	}
}
