// Package enrich attaches top-level comments to discovered items by
// batching item URLs through per-platform comment actors.
package enrich

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/crowdlens/social-crawler/internal/config"
	"github.com/crowdlens/social-crawler/internal/metrics"
	"github.com/crowdlens/social-crawler/internal/normalize"
	"github.com/crowdlens/social-crawler/internal/scrape"
)

// batch is one actor call worth of items, referenced by index so results
// write back without disturbing item order.
type batch struct {
	platform scrape.Platform
	indices  []int
}

// Pipeline runs comment enrichment. Batches execute strictly one at a
// time with a fixed pause between calls; a failed batch degrades to empty
// comments for its items instead of failing the run.
type Pipeline struct {
	runner scrape.ActorRunner
	cfg    config.EnrichmentConfig
	actors map[scrape.Platform]string
	logger *zap.Logger
}

// New builds a Pipeline. actors maps each platform to its comment actor id.
func New(runner scrape.ActorRunner, cfg config.EnrichmentConfig, actors map[scrape.Platform]string, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		runner: runner,
		cfg:    cfg,
		actors: actors,
		logger: logger,
	}
}

// BatchCount reports how many actor calls enriching the items will take,
// letting callers size progress totals before work starts.
func (p *Pipeline) BatchCount(items []scrape.CanonicalItem) int {
	return len(p.plan(items))
}

// Enrich fetches comments for every item with a URL and writes them onto
// the items in place, preserving item order. It returns the number of
// comments attached. Only context cancellation aborts the pass; everything
// else degrades per batch.
func (p *Pipeline) Enrich(ctx context.Context, items []scrape.CanonicalItem, onBatch func(done, total int)) (int, error) {
	batches := p.plan(items)
	attached := 0

	for n, b := range batches {
		if n > 0 {
			// Fixed pause between consecutive actor calls.
			select {
			case <-ctx.Done():
				return attached, ctx.Err()
			case <-time.After(p.cfg.InterBatchDelay()):
			}
		}

		urls := make([]string, len(b.indices))
		for i, idx := range b.indices {
			urls[i] = items[idx].URL
		}

		byURL, err := p.fetchBatchWithRetry(ctx, b.platform, urls)
		if err != nil {
			if ctx.Err() != nil {
				return attached, ctx.Err()
			}
			metrics.ObserveEnrichmentBatch("failed")
			p.logger.Warn("enrichment batch failed, items keep empty comments",
				zap.String("platform", string(b.platform)),
				zap.Int("batch_size", len(b.indices)),
				zap.Error(err),
			)
		} else {
			metrics.ObserveEnrichmentBatch("ok")
			count := 0
			for _, idx := range b.indices {
				comments := byURL[items[idx].URL]
				if max := p.cfg.MaxCommentsPerItem; max > 0 && len(comments) > max {
					comments = comments[:max]
				}
				for i := range comments {
					comments[i].ItemID = items[idx].ID
				}
				items[idx].Comments = comments
				count += len(comments)
			}
			attached += count
			metrics.ObserveComments(string(b.platform), count)
		}

		if onBatch != nil {
			onBatch(n+1, len(batches))
		}
	}
	return attached, nil
}

// plan splits enrichable items into per-platform batches of at most
// BatchSize, keeping input order inside each platform group. Items without
// a URL are left alone; they surface with empty comments.
func (p *Pipeline) plan(items []scrape.CanonicalItem) []batch {
	groups := make(map[scrape.Platform][]int)
	order := make([]scrape.Platform, 0, 2)
	for i, item := range items {
		if item.URL == "" {
			continue
		}
		if _, ok := p.actors[item.Platform]; !ok {
			continue
		}
		if _, ok := groups[item.Platform]; !ok {
			order = append(order, item.Platform)
		}
		groups[item.Platform] = append(groups[item.Platform], i)
	}

	size := p.cfg.BatchSize
	if size <= 0 {
		size = 50
	}
	var batches []batch
	for _, platform := range order {
		indices := groups[platform]
		for start := 0; start < len(indices); start += size {
			end := start + size
			if end > len(indices) {
				end = len(indices)
			}
			batches = append(batches, batch{platform: platform, indices: indices[start:end]})
		}
	}
	return batches
}

// fetchBatchWithRetry retries transient comment-actor failures with
// doubling backoff before letting the batch degrade.
func (p *Pipeline) fetchBatchWithRetry(ctx context.Context, platform scrape.Platform, urls []string) (map[string][]scrape.Comment, error) {
	attempts := p.cfg.FetchAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := p.cfg.RetryBackoff()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		byURL, err := p.fetchBatch(ctx, platform, urls)
		if err == nil {
			return byURL, nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == attempts {
			break
		}
		p.logger.Warn("comment fetch failed, retrying",
			zap.String("platform", string(platform)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}

// fetchBatch runs one comment actor call and groups its output by parent
// item URL.
func (p *Pipeline) fetchBatch(ctx context.Context, platform scrape.Platform, urls []string) (map[string][]scrape.Comment, error) {
	actorID := p.actors[platform]
	input, err := commentInput(platform, urls, p.cfg.MaxCommentsPerItem)
	if err != nil {
		return nil, err
	}
	raws, err := p.runner.RunActor(ctx, actorID, input, scrape.RunOptions{})
	if err != nil {
		return nil, err
	}

	byURL := make(map[string][]scrape.Comment)
	for _, raw := range raws {
		comment, postURL, ok := normalize.Comment(raw)
		if !ok || postURL == "" {
			continue
		}
		byURL[postURL] = append(byURL[postURL], comment)
	}
	return byURL, nil
}

func commentInput(platform scrape.Platform, urls []string, perItem int) (map[string]any, error) {
	if perItem <= 0 {
		perItem = 20
	}
	switch platform {
	case scrape.PlatformTikTok:
		return map[string]any{
			"postURLs":        urls,
			"commentsPerPost": perItem,
		}, nil
	case scrape.PlatformInstagram:
		return map[string]any{
			"directUrls":   urls,
			"resultsLimit": perItem,
		}, nil
	default:
		return nil, fmt.Errorf("no comment actor for platform %q", platform)
	}
}
