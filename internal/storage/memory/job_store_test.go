package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowdlens/social-crawler/internal/scrape"
)

func newJob(id string) scrape.ScrapeJob {
	return scrape.ScrapeJob{
		ID:          id,
		CampaignRef: "campaign-1",
		Sources: []scrape.SourceSpec{
			{Platform: scrape.PlatformTikTok, Type: scrape.SourceHashtag, Value: "golang"},
		},
	}
}

func TestCreateAndGetJob(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, newJob("j1")))

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, scrape.JobStatusQueued, job.Status)
	assert.False(t, job.QueuedAt.IsZero())

	assert.Error(t, store.CreateJob(ctx, newJob("j1")), "duplicate ids must be rejected")
}

func TestGetJobUnknownID(t *testing.T) {
	store := NewJobStore()
	_, err := store.GetJob(context.Background(), "nope")
	assert.ErrorIs(t, err, scrape.ErrJobNotFound)
}

func TestClaimJobTransitionsToRunning(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, newJob("j1")))

	job, err := store.ClaimJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, scrape.JobStatusRunning, job.Status)
	require.NotNil(t, job.StartedAt)

	_, err = store.ClaimJob(ctx, "j1")
	assert.ErrorIs(t, err, scrape.ErrNotQueued, "claiming a running job must fail")
}

func TestFinishJobRequiresRunning(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, newJob("j1")))

	err := store.FinishJob(ctx, "j1", scrape.JobStatusCompleted, "")
	require.Error(t, err, "finishing a queued job must fail")

	_, err = store.ClaimJob(ctx, "j1")
	require.NoError(t, err)
	require.NoError(t, store.FinishJob(ctx, "j1", scrape.JobStatusFailed, "actor quota exhausted"))

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, scrape.JobStatusFailed, job.Status)
	assert.Equal(t, "actor quota exhausted", job.Error)
	assert.NotNil(t, job.CompletedAt)
}

func TestFinishJobRejectsNonTerminalStatus(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, newJob("j1")))
	_, err := store.ClaimJob(ctx, "j1")
	require.NoError(t, err)

	err = store.FinishJob(ctx, "j1", scrape.JobStatusRunning, "")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "completed or failed"))
}

func TestCancelJobOnlyWhileQueued(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, newJob("queued")))
	require.NoError(t, store.CancelJob(ctx, "queued"))
	job, err := store.GetJob(ctx, "queued")
	require.NoError(t, err)
	assert.Equal(t, scrape.JobStatusCancelled, job.Status)

	require.NoError(t, store.CreateJob(ctx, newJob("running")))
	_, err = store.ClaimJob(ctx, "running")
	require.NoError(t, err)
	assert.ErrorIs(t, store.CancelJob(ctx, "running"), scrape.ErrNotQueued,
		"running jobs are never interrupted")

	assert.ErrorIs(t, store.CancelJob(ctx, "queued"), scrape.ErrNotQueued,
		"cancel must not be re-entrant")
}

func TestUpdateProgress(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, newJob("j1")))
	_, err := store.ClaimJob(ctx, "j1")
	require.NoError(t, err)

	p := scrape.Progress{Current: 2, Total: 5, Message: "enriching tiktok batch 1/2"}
	require.NoError(t, store.UpdateProgress(ctx, "j1", p))

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, p, job.Progress)
}

func TestSeenStoreScopesByCampaignAndKind(t *testing.T) {
	store := NewSeenStore()
	ctx := context.Background()

	require.NoError(t, store.RecordIDs(ctx, "c1", "item", []string{"a", "b"}))
	require.NoError(t, store.RecordIDs(ctx, "c1", "comment", []string{"x"}))
	require.NoError(t, store.RecordIDs(ctx, "c2", "item", []string{"a"}))

	items, err := store.KnownIDs(ctx, "c1", "item")
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Contains(t, items, "a")

	comments, err := store.KnownIDs(ctx, "c1", "comment")
	require.NoError(t, err)
	assert.Len(t, comments, 1)

	other, err := store.KnownIDs(ctx, "c2", "comment")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestBlobStoreRoundTrip(t *testing.T) {
	store := NewBlobStore()

	uri, err := store.PutObject(context.Background(), "jobs/j1/result.json", "application/json",
		strings.NewReader(`{"job_id":"j1"}`))
	require.NoError(t, err)
	assert.Equal(t, "memory://jobs/j1/result.json", uri)

	content, ok := store.Object("jobs/j1/result.json")
	require.True(t, ok)
	assert.JSONEq(t, `{"job_id":"j1"}`, string(content))
}
