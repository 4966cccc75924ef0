package domain

import "time"

// JobStatus enumerates project lifecycle states.
type JobStatus string

const (
	JobStatusDraft      JobStatus = "draft"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further relay transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ToolSkinRefiner tags projects created by the relay.
const ToolSkinRefiner = "skin_refiner"

// Remote job statuses reported by RunPod. Only the first two are acted upon.
const (
	RemoteCompleted  = "COMPLETED"
	RemoteFailed     = "FAILED"
	RemoteInQueue    = "IN_QUEUE"
	RemoteInProgress = "IN_PROGRESS"
)

// project_data keys.
const (
	KeyOriginalImageKey   = "original_image_key"
	KeyFaceParsingOptions = "face_parsing_options"
	KeyRunPodJobID        = "runpod_job_id"
	KeyRefinedImageURL    = "refined_image_url"
	KeyCompletedAt        = "completed_at"
	KeyErrorMessage       = "error_message"
	KeyFailedAt           = "failed_at"
	KeyRemoteStatus       = "remote_status"
	KeyCompletedVia       = "completed_via"
	KeyFailedVia          = "failed_via"
)

// ProjectData is the open key/value bag stored in projects.project_data.
type ProjectData map[string]any

// String returns the string stored at key, or "".
func (d ProjectData) String(key string) string {
	if d == nil {
		return ""
	}
	v, _ := d[key].(string)
	return v
}

// Project is the job record: one row of the shared projects table.
type Project struct {
	ID        string
	UserID    string
	Name      string
	Tool      string
	Status    JobStatus
	Data      ProjectData
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RemoteJobID returns the correlated RunPod job id, if attached.
func (p *Project) RemoteJobID() string {
	return p.Data.String(KeyRunPodJobID)
}

// Clone returns a deep-enough copy for callers that mutate Data.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Data = make(ProjectData, len(p.Data))
	for k, v := range p.Data {
		cp.Data[k] = v
	}
	return &cp
}
