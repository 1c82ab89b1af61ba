// Package worker executes scrape jobs: discovery, dedup, enrichment, and
// artifact publication.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/crowdlens/social-crawler/internal/actor"
	"github.com/crowdlens/social-crawler/internal/dedup"
	"github.com/crowdlens/social-crawler/internal/enrich"
	"github.com/crowdlens/social-crawler/internal/metrics"
	"github.com/crowdlens/social-crawler/internal/normalize"
	"github.com/crowdlens/social-crawler/internal/scrape"
)

// Config controls Worker behavior.
type Config struct {
	ContentType string
	BlobPrefix  string
	Topic       string
}

// CompletionEvent is the message published when a job reaches a terminal
// status.
type CompletionEvent struct {
	JobID          string         `json:"job_id"`
	CampaignRef    string         `json:"campaign_ref"`
	Status         string         `json:"status"`
	ArtifactURI    string         `json:"artifact_uri,omitempty"`
	ArtifactSHA256 string         `json:"artifact_sha256,omitempty"`
	Summary        scrape.Summary `json:"summary"`
	CompletedAt    time.Time      `json:"completed_at"`
}

// Worker drains the queue and runs each job through the full pipeline.
type Worker struct {
	queue       scrape.Queue
	jobStore    scrape.JobStore
	seenStore   scrape.SeenStore
	blobStore   scrape.BlobStore
	publisher   scrape.Publisher
	hasher      scrape.Hasher
	clock       scrape.Clock
	discoverers map[scrape.Platform]scrape.Discoverer
	enricher    *enrich.Pipeline
	cfg         Config
	logger      *zap.Logger
}

// New constructs a Worker.
func New(
	queue scrape.Queue,
	jobStore scrape.JobStore,
	seenStore scrape.SeenStore,
	blobStore scrape.BlobStore,
	publisher scrape.Publisher,
	hasher scrape.Hasher,
	clock scrape.Clock,
	discoverers map[scrape.Platform]scrape.Discoverer,
	enricher *enrich.Pipeline,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	if cfg.BlobPrefix == "" {
		cfg.BlobPrefix = "jobs"
	}
	return &Worker{
		queue:       queue,
		jobStore:    jobStore,
		seenStore:   seenStore,
		blobStore:   blobStore,
		publisher:   publisher,
		hasher:      hasher,
		clock:       clock,
		discoverers: discoverers,
		enricher:    enricher,
		cfg:         cfg,
		logger:      logger,
	}
}

// Drain processes queued jobs one at a time until the queue is empty or
// the context ends, returning how many jobs it ran.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	processed := 0
	for {
		jobID, ok, err := w.queue.TryDequeue(ctx)
		if err != nil {
			return processed, err
		}
		if !ok {
			return processed, nil
		}
		w.processJob(ctx, jobID)
		processed++
	}
}

func (w *Worker) processJob(ctx context.Context, jobID string) {
	job, err := w.jobStore.ClaimJob(ctx, jobID)
	if errors.Is(err, scrape.ErrNotQueued) {
		// Cancelled between enqueue and claim; nothing to do.
		w.logger.Info("skipping job no longer queued", zap.String("job_id", jobID))
		return
	}
	if err != nil {
		w.logger.Error("job claim failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	metrics.IncJobsInFlight()
	defer metrics.DecJobsInFlight()

	w.logger.Info("job started",
		zap.String("job_id", job.ID),
		zap.String("campaign_ref", job.CampaignRef),
		zap.Int("sources", len(job.Sources)),
	)

	summary, art, runErr := w.runPipeline(ctx, job)

	status := scrape.JobStatusCompleted
	errText := ""
	if runErr != nil {
		status = scrape.JobStatusFailed
		errText = runErr.Error()
	}
	if err := w.jobStore.FinishJob(ctx, job.ID, status, errText); err != nil {
		w.logger.Error("job finish failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	metrics.ObserveJob(string(status))

	w.publishCompletion(ctx, job, status, art, summary)

	w.logger.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(status)),
		zap.Int("total_items", summary.TotalItems),
		zap.Int("new_items", summary.NewItems),
		zap.Int("total_comments", summary.TotalComments),
		zap.String("error", errText),
	)
}

// artifactRef points at a stored artifact together with its digest.
type artifactRef struct {
	URI    string
	SHA256 string
}

// runPipeline executes discovery, dedup, enrichment, and artifact upload.
// Per-source failures degrade the summary; only configuration errors,
// context cancellation, or an entirely failed run abort the job.
func (w *Worker) runPipeline(ctx context.Context, job scrape.ScrapeJob) (scrape.Summary, artifactRef, error) {
	var summary scrape.Summary
	var items []scrape.CanonicalItem
	sourceErrors := 0

	total := len(job.Sources)
	for i, source := range job.Sources {
		if err := ctx.Err(); err != nil {
			return summary, artifactRef{}, fmt.Errorf("job interrupted: %w", err)
		}
		target := scrape.Target{
			Platform: source.Platform,
			Type:     source.Type,
			Value:    source.Value,
			MaxItems: source.MaxItems,
		}

		discovered, err := w.discoverSource(ctx, target)
		if err != nil {
			if errors.Is(err, actor.ErrMissingToken) {
				return summary, artifactRef{}, err
			}
			sourceErrors++
			w.logger.Warn("source discovery failed",
				zap.String("job_id", job.ID),
				zap.String("platform", string(source.Platform)),
				zap.String("source_type", string(source.Type)),
				zap.String("source_value", source.Value),
				zap.Error(err),
			)
		} else {
			items = append(items, discovered...)
			summary.SourcesProcessed++
		}

		w.updateProgress(ctx, job.ID, scrape.Progress{
			Current: i + 1,
			Total:   total,
			Message: fmt.Sprintf("discovered %s %s", source.Platform, source.Value),
		})
	}

	if sourceErrors == len(job.Sources) && len(job.Sources) > 0 {
		return summary, artifactRef{}, fmt.Errorf("all %d sources failed", len(job.Sources))
	}

	summary.TotalItems = len(items)

	// Dedup against everything this campaign has already seen.
	knownItems, err := w.seenStore.KnownIDs(ctx, job.CampaignRef, "item")
	if err != nil {
		return summary, artifactRef{}, fmt.Errorf("load known item ids: %w", err)
	}
	split := dedup.Partition(items, knownItems, func(it scrape.CanonicalItem) string { return it.ID })
	fresh := split.Fresh
	summary.NewItems = len(fresh)

	// Progress total now includes the enrichment batches.
	batches := w.enricher.BatchCount(fresh)
	total = len(job.Sources) + batches
	w.updateProgress(ctx, job.ID, scrape.Progress{
		Current: len(job.Sources),
		Total:   total,
		Message: fmt.Sprintf("enriching %d new items in %d batches", len(fresh), batches),
	})

	attached, err := w.enricher.Enrich(ctx, fresh, func(done, _ int) {
		w.updateProgress(ctx, job.ID, scrape.Progress{
			Current: len(job.Sources) + done,
			Total:   total,
			Message: fmt.Sprintf("enrichment batch %d/%d", done, batches),
		})
	})
	if err != nil {
		return summary, artifactRef{}, fmt.Errorf("enrichment interrupted: %w", err)
	}
	summary.TotalComments = attached
	summary.NewComments = w.countNewComments(ctx, job.CampaignRef, fresh)

	if err := w.recordSeen(ctx, job.CampaignRef, fresh); err != nil {
		return summary, artifactRef{}, err
	}

	art, err := w.storeArtifact(ctx, job.ID, fresh, summary)
	if err != nil {
		return summary, artifactRef{}, err
	}
	return summary, art, nil
}

func (w *Worker) discoverSource(ctx context.Context, target scrape.Target) ([]scrape.CanonicalItem, error) {
	discoverer, ok := w.discoverers[target.Platform]
	if !ok {
		return nil, fmt.Errorf("no discoverer for platform %q", target.Platform)
	}

	start := w.clock.Now()
	raws, err := discoverer.Discover(ctx, target)
	if err != nil {
		return nil, err
	}
	metrics.ObserveDiscovery(string(target.Platform), string(target.Type), w.clock.Now().Sub(start))

	items, skipped := normalize.Items(target, raws)
	if skipped > 0 {
		w.logger.Warn("items without identifiers dropped",
			zap.String("platform", string(target.Platform)),
			zap.String("source_value", target.Value),
			zap.Int("skipped", skipped),
		)
	}
	metrics.ObserveItems(string(target.Platform), string(target.Type), len(items))
	return items, nil
}

// countNewComments compares attached comment ids against the campaign's
// seen index. A lookup failure degrades to zero new comments rather than
// failing the job this late.
func (w *Worker) countNewComments(ctx context.Context, campaignRef string, items []scrape.CanonicalItem) int {
	known, err := w.seenStore.KnownIDs(ctx, campaignRef, "comment")
	if err != nil {
		w.logger.Warn("load known comment ids failed", zap.Error(err))
		return 0
	}
	fresh := 0
	for _, item := range items {
		for _, c := range item.Comments {
			if c.ID == "" {
				continue
			}
			if _, ok := known[c.ID]; !ok {
				fresh++
			}
		}
	}
	return fresh
}

func (w *Worker) recordSeen(ctx context.Context, campaignRef string, items []scrape.CanonicalItem) error {
	itemIDs := dedup.Keys(items, func(it scrape.CanonicalItem) string { return it.ID })
	if err := w.seenStore.RecordIDs(ctx, campaignRef, "item", itemIDs); err != nil {
		return fmt.Errorf("record item ids: %w", err)
	}
	var commentIDs []string
	for _, item := range items {
		for _, c := range item.Comments {
			if c.ID != "" {
				commentIDs = append(commentIDs, c.ID)
			}
		}
	}
	if err := w.seenStore.RecordIDs(ctx, campaignRef, "comment", commentIDs); err != nil {
		return fmt.Errorf("record comment ids: %w", err)
	}
	return nil
}

// storeArtifact uploads the result document and returns its URI and
// digest so event consumers can verify the download.
func (w *Worker) storeArtifact(ctx context.Context, jobID string, items []scrape.CanonicalItem, summary scrape.Summary) (artifactRef, error) {
	artifact := scrape.Artifact{JobID: jobID, Items: items, Summary: summary}
	payload, err := json.Marshal(artifact)
	if err != nil {
		return artifactRef{}, fmt.Errorf("marshal artifact: %w", err)
	}
	digest, err := w.hasher.Hash(payload)
	if err != nil {
		return artifactRef{}, fmt.Errorf("hash artifact: %w", err)
	}
	path := fmt.Sprintf("%s/%s/result.json", w.cfg.BlobPrefix, jobID)
	uri, err := w.blobStore.PutObject(ctx, path, w.cfg.ContentType, bytes.NewReader(payload))
	if err != nil {
		return artifactRef{}, fmt.Errorf("store artifact: %w", err)
	}
	return artifactRef{URI: uri, SHA256: digest}, nil
}

func (w *Worker) publishCompletion(ctx context.Context, job scrape.ScrapeJob, status scrape.JobStatus, art artifactRef, summary scrape.Summary) {
	if w.cfg.Topic == "" {
		return
	}
	event := CompletionEvent{
		JobID:          job.ID,
		CampaignRef:    job.CampaignRef,
		Status:         string(status),
		ArtifactURI:    art.URI,
		ArtifactSHA256: art.SHA256,
		Summary:        summary,
		CompletedAt:    w.clock.Now(),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
		w.logger.Error("completion publish failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (w *Worker) updateProgress(ctx context.Context, jobID string, progress scrape.Progress) {
	if err := w.jobStore.UpdateProgress(ctx, jobID, progress); err != nil {
		w.logger.Warn("progress update failed", zap.String("job_id", jobID), zap.Error(err))
	}
}
