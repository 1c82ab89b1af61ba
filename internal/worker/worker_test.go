package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crowdlens/social-crawler/internal/actor"
	systemclock "github.com/crowdlens/social-crawler/internal/clock/system"
	"github.com/crowdlens/social-crawler/internal/config"
	"github.com/crowdlens/social-crawler/internal/enrich"
	sha256hash "github.com/crowdlens/social-crawler/internal/hash/sha256"
	"github.com/crowdlens/social-crawler/internal/metrics"
	pubmemory "github.com/crowdlens/social-crawler/internal/publisher/memory"
	queuememory "github.com/crowdlens/social-crawler/internal/queue/memory"
	"github.com/crowdlens/social-crawler/internal/scrape"
	storememory "github.com/crowdlens/social-crawler/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

// fakeDiscoverer serves canned raw items per source value.
type fakeDiscoverer struct {
	itemsByValue map[string][]scrape.RawItem
	errByValue   map[string]error
}

func (d *fakeDiscoverer) Discover(_ context.Context, target scrape.Target) ([]scrape.RawItem, error) {
	if err := d.errByValue[target.Value]; err != nil {
		return nil, err
	}
	return d.itemsByValue[target.Value], nil
}

// fakeCommentRunner returns one comment per requested URL.
type fakeCommentRunner struct{}

func (fakeCommentRunner) RunActor(_ context.Context, _ string, input map[string]any, _ scrape.RunOptions) ([]scrape.RawItem, error) {
	urls, _ := input["postURLs"].([]string)
	out := make([]scrape.RawItem, 0, len(urls))
	for _, u := range urls {
		out = append(out, scrape.RawItem{
			"cid":         u + "#c0",
			"text":        "nice",
			"videoWebUrl": u,
		})
	}
	return out, nil
}

func rawTikTok(id string) scrape.RawItem {
	return scrape.RawItem{
		"id": id,
		"author": map[string]any{
			"uniqueId": "someone",
		},
		"statsV2": map[string]any{
			"diggCount": "10",
		},
	}
}

type fixture struct {
	worker    *Worker
	queue     *queuememory.Queue
	jobs      *storememory.JobStore
	seen      *storememory.SeenStore
	blobs     *storememory.BlobStore
	publisher *pubmemory.Publisher
}

func newFixture(t *testing.T, d scrape.Discoverer) *fixture {
	t.Helper()
	q := queuememory.NewQueue(8)
	jobs := storememory.NewJobStore()
	seen := storememory.NewSeenStore()
	blobs := storememory.NewBlobStore()
	pub := pubmemory.New()

	enricher := enrich.New(fakeCommentRunner{}, config.EnrichmentConfig{
		BatchSize:          50,
		MaxCommentsPerItem: 20,
		InterBatchDelayMs:  1,
	}, map[scrape.Platform]string{
		scrape.PlatformTikTok: "clockworks~tiktok-comments-scraper",
	}, zap.NewNop())

	w := New(q, jobs, seen, blobs, pub, sha256hash.New(), systemclock.New(),
		map[scrape.Platform]scrape.Discoverer{scrape.PlatformTikTok: d},
		enricher,
		Config{Topic: "scrape-done", BlobPrefix: "jobs"},
		zap.NewNop(),
	)
	return &fixture{worker: w, queue: q, jobs: jobs, seen: seen, blobs: blobs, publisher: pub}
}

func (f *fixture) enqueueJob(t *testing.T, id string, values ...string) {
	t.Helper()
	ctx := context.Background()
	sources := make([]scrape.SourceSpec, len(values))
	for i, v := range values {
		sources[i] = scrape.SourceSpec{
			Platform: scrape.PlatformTikTok,
			Type:     scrape.SourceHashtag,
			Value:    v,
			MaxItems: 100,
		}
	}
	require.NoError(t, f.jobs.CreateJob(ctx, scrape.ScrapeJob{
		ID:          id,
		CampaignRef: "campaign-1",
		Sources:     sources,
		QueuedAt:    time.Now().UTC(),
	}))
	require.NoError(t, f.queue.Enqueue(ctx, id))
}

func TestDrainRunsJobEndToEnd(t *testing.T) {
	d := &fakeDiscoverer{itemsByValue: map[string][]scrape.RawItem{
		"golang": {rawTikTok("v1"), rawTikTok("v2")},
	}}
	f := newFixture(t, d)
	f.enqueueJob(t, "job-1", "golang")

	processed, err := f.worker.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	job, err := f.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, scrape.JobStatusCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, job.Progress.Total, job.Progress.Current, "progress should end full")

	content, ok := f.blobs.Object("jobs/job-1/result.json")
	require.True(t, ok, "artifact should be stored")
	var artifact scrape.Artifact
	require.NoError(t, json.Unmarshal(content, &artifact))
	assert.Equal(t, "job-1", artifact.JobID)
	require.Len(t, artifact.Items, 2)
	assert.Len(t, artifact.Items[0].Comments, 1, "items should carry enriched comments")
	assert.Equal(t, 2, artifact.Summary.NewItems)
	assert.Equal(t, 2, artifact.Summary.TotalComments)

	msgs := f.publisher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "scrape-done", msgs[0].Topic)
	event, ok := msgs[0].Payload.(CompletionEvent)
	require.True(t, ok)
	assert.Equal(t, "completed", event.Status)
	assert.Equal(t, "memory://jobs/job-1/result.json", event.ArtifactURI)
	assert.Len(t, event.ArtifactSHA256, 64, "digest should be hex sha-256")

	// The run recorded its ids for future dedup.
	known, err := f.seen.KnownIDs(context.Background(), "campaign-1", "item")
	require.NoError(t, err)
	assert.Len(t, known, 2)
}

func TestDrainReturnsZeroOnEmptyQueue(t *testing.T) {
	f := newFixture(t, &fakeDiscoverer{})
	processed, err := f.worker.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, processed)
}

func TestRepeatScrapeDeduplicatesItems(t *testing.T) {
	d := &fakeDiscoverer{itemsByValue: map[string][]scrape.RawItem{
		"golang": {rawTikTok("v1"), rawTikTok("v2"), rawTikTok("v3")},
	}}
	f := newFixture(t, d)
	require.NoError(t, f.seen.RecordIDs(context.Background(), "campaign-1", "item", []string{"v1", "v2"}))

	f.enqueueJob(t, "job-1", "golang")
	_, err := f.worker.Drain(context.Background())
	require.NoError(t, err)

	content, ok := f.blobs.Object("jobs/job-1/result.json")
	require.True(t, ok)
	var artifact scrape.Artifact
	require.NoError(t, json.Unmarshal(content, &artifact))
	assert.Equal(t, 3, artifact.Summary.TotalItems)
	assert.Equal(t, 1, artifact.Summary.NewItems)
	require.Len(t, artifact.Items, 1, "only unseen items belong in the artifact")
	assert.Equal(t, "v3", artifact.Items[0].ID)
}

func TestFailedSourceDegradesJob(t *testing.T) {
	d := &fakeDiscoverer{
		itemsByValue: map[string][]scrape.RawItem{"good": {rawTikTok("v1")}},
		errByValue:   map[string]error{"bad": fmt.Errorf("blocked by captcha")},
	}
	f := newFixture(t, d)
	f.enqueueJob(t, "job-1", "good", "bad")

	_, err := f.worker.Drain(context.Background())
	require.NoError(t, err)

	job, err := f.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, scrape.JobStatusCompleted, job.Status, "one dead source must not fail the job")

	content, _ := f.blobs.Object("jobs/job-1/result.json")
	var artifact scrape.Artifact
	require.NoError(t, json.Unmarshal(content, &artifact))
	assert.Equal(t, 1, artifact.Summary.SourcesProcessed)
	assert.Equal(t, 1, artifact.Summary.TotalItems)
}

func TestAllSourcesFailedFailsJob(t *testing.T) {
	d := &fakeDiscoverer{errByValue: map[string]error{
		"one": fmt.Errorf("blocked"),
		"two": fmt.Errorf("blocked"),
	}}
	f := newFixture(t, d)
	f.enqueueJob(t, "job-1", "one", "two")

	_, err := f.worker.Drain(context.Background())
	require.NoError(t, err)

	job, err := f.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, scrape.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "all 2 sources failed")

	// Failure events still publish, without an artifact.
	msgs := f.publisher.Messages()
	require.Len(t, msgs, 1)
	event := msgs[0].Payload.(CompletionEvent)
	assert.Equal(t, "failed", event.Status)
	assert.Empty(t, event.ArtifactURI)
}

func TestMissingActorTokenIsFatal(t *testing.T) {
	d := &fakeDiscoverer{errByValue: map[string]error{
		"golang": fmt.Errorf("start run: %w", actor.ErrMissingToken),
	}}
	f := newFixture(t, d)
	f.enqueueJob(t, "job-1", "golang")

	_, err := f.worker.Drain(context.Background())
	require.NoError(t, err)

	job, err := f.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, scrape.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "token")
}

func TestCancelledJobIsSkipped(t *testing.T) {
	f := newFixture(t, &fakeDiscoverer{})
	f.enqueueJob(t, "job-1", "golang")
	require.NoError(t, f.jobs.CancelJob(context.Background(), "job-1"))

	processed, err := f.worker.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed, "the queue entry is consumed")

	job, err := f.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, scrape.JobStatusCancelled, job.Status, "job must stay cancelled")
	assert.Empty(t, f.publisher.Messages(), "skipped jobs publish nothing")
}
