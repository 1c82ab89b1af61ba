package scrape

import (
	"context"
	"errors"
	"io"
	"time"
)

// Sentinel errors returned by JobStore implementations.
var (
	// ErrJobNotFound indicates the job id is unknown to the store.
	ErrJobNotFound = errors.New("job not found")
	// ErrNotQueued indicates a transition that requires the queued state
	// was attempted against a running or terminal job.
	ErrNotQueued = errors.New("job is not queued")
)

// JobStore persists scrape job records. Status moves only through the
// transition methods below; rows are never deleted.
type JobStore interface {
	CreateJob(ctx context.Context, job ScrapeJob) error
	// ClaimJob transitions queued -> running and returns the claimed job.
	// Any other current status yields ErrNotQueued, making running
	// non-re-entrant.
	ClaimJob(ctx context.Context, jobID string) (ScrapeJob, error)
	UpdateProgress(ctx context.Context, jobID string, progress Progress) error
	// FinishJob transitions running -> completed/failed.
	FinishJob(ctx context.Context, jobID string, status JobStatus, errText string) error
	// CancelJob transitions queued -> cancelled; running and terminal jobs
	// are rejected with ErrNotQueued.
	CancelJob(ctx context.Context, jobID string) error
	GetJob(ctx context.Context, jobID string) (ScrapeJob, error)
}

// SeenStore supplies and records the dedup index of previously-seen entity
// ids, scoped by campaign and entity kind ("item" or "comment").
type SeenStore interface {
	KnownIDs(ctx context.Context, campaignRef, kind string) (map[string]struct{}, error)
	RecordIDs(ctx context.Context, campaignRef, kind string, ids []string) error
}

// Queue hands queued job ids to the drain loop. TryDequeue never blocks:
// the second return is false once the queue is empty.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	TryDequeue(ctx context.Context) (string, bool, error)
}

// BlobStore writes the output artifact and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Discoverer produces raw platform items for one target. Item order is
// response arrival order and is not stable across runs.
type Discoverer interface {
	Discover(ctx context.Context, target Target) ([]RawItem, error)
}

// ActorRunner invokes a remote managed scraping actor, waits for the run to
// finish, and returns its full output dataset. No retry happens at this
// layer; retry policy belongs to callers.
type ActorRunner interface {
	RunActor(ctx context.Context, actorID string, input map[string]any, opts RunOptions) ([]RawItem, error)
}

// Hasher computes digests for artifact integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
