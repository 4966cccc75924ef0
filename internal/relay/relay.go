// Package relay moves skin refiner jobs between the API, object storage and
// RunPod. Submissions, polls, webhooks and the sweeper all converge on the
// same Reconciler so a project transitions at most once.
package relay

import (
	"context"
	"time"

	"refiner/internal/providers/runpod"
	"refiner/internal/storage"
)

// Channel names the path through which a remote result was observed.
type Channel string

const (
	ChannelSubmit  Channel = "submit"
	ChannelPoll    Channel = "poll"
	ChannelWebhook Channel = "webhook"
	ChannelSweep   Channel = "sweep"
)

// ObjectStore receives uploaded inputs. Implemented by storage.B2Client and storage.FileStore.
type ObjectStore interface {
	Configured() bool
	Bucket() string
	Put(ctx context.Context, key, contentType string, data []byte) (storage.Object, error)
	Delete(ctx context.Context, obj storage.Object) error
}

// Runner queues remote jobs. Implemented by runpod.Client.
type Runner interface {
	HasCredentials() bool
	Submit(ctx context.Context, input runpod.JobInput, webhookURL string) (*runpod.Job, error)
}

// StatusSource reports remote job state. Implemented by runpod.Client and cache.StatusCache.
type StatusSource interface {
	Status(ctx context.Context, jobID string) (*runpod.JobStatus, error)
}

// Metrics receives relay events. Implemented by observability.Metrics.
type Metrics interface {
	SubmissionFinished(ctx context.Context, outcome string)
	Transitioned(ctx context.Context, channel, status string)
	UpstreamCall(ctx context.Context, op string, elapsed time.Duration, err error)
}

type nopMetrics struct{}

func (nopMetrics) SubmissionFinished(context.Context, string)                 {}
func (nopMetrics) Transitioned(context.Context, string, string)               {}
func (nopMetrics) UpstreamCall(context.Context, string, time.Duration, error) {}

// RemoteResult is the normalized remote view shared by every channel.
// Output is passed through untouched.
type RemoteResult struct {
	Status string
	Output any
	Error  string
}

func resultFromStatus(st *runpod.JobStatus) RemoteResult {
	if st == nil {
		return RemoteResult{}
	}
	return RemoteResult{Status: st.Status, Output: st.Output, Error: st.Error}
}

// timed reports the duration and outcome of an upstream call.
func timed(ctx context.Context, m Metrics, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	m.UpstreamCall(ctx, op, time.Since(start), err)
	return err
}
