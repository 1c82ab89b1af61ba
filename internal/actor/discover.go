package actor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/crowdlens/social-crawler/internal/scrape"
)

// InstagramDiscoverer implements scrape.Discoverer by delegating to a
// managed Instagram scraping actor. Instagram's web surface is too hostile
// to unauthenticated headless browsing, so discovery runs remotely.
type InstagramDiscoverer struct {
	runner  scrape.ActorRunner
	actorID string
	wait    time.Duration
	logger  *zap.Logger
}

// NewInstagramDiscoverer wires a discoverer to the given actor.
func NewInstagramDiscoverer(runner scrape.ActorRunner, actorID string, wait time.Duration, logger *zap.Logger) *InstagramDiscoverer {
	return &InstagramDiscoverer{
		runner:  runner,
		actorID: actorID,
		wait:    wait,
		logger:  logger,
	}
}

// Discover runs the actor for one target and returns its raw dataset.
func (d *InstagramDiscoverer) Discover(ctx context.Context, target scrape.Target) ([]scrape.RawItem, error) {
	if target.Platform != scrape.PlatformInstagram {
		return nil, fmt.Errorf("platform %q is not actor-discoverable here", target.Platform)
	}
	input, err := instagramInput(target)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	items, err := d.runner.RunActor(ctx, d.actorID, input, scrape.RunOptions{WaitTimeout: d.wait})
	if err != nil {
		return nil, fmt.Errorf("instagram %s %q: %w", target.Type, target.Value, err)
	}
	// resultsLimit is advisory upstream; the cap is only honored here.
	if target.MaxItems > 0 && len(items) > target.MaxItems {
		items = items[:target.MaxItems]
	}

	d.logger.Info("actor discovery pass finished",
		zap.String("platform", string(target.Platform)),
		zap.String("source_type", string(target.Type)),
		zap.String("source_value", target.Value),
		zap.Int("items", len(items)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return items, nil
}

func instagramInput(target scrape.Target) (map[string]any, error) {
	limit := target.MaxItems
	if limit <= 0 {
		limit = 100
	}
	switch target.Type {
	case scrape.SourceProfile:
		return map[string]any{
			"directUrls":   []string{fmt.Sprintf("https://www.instagram.com/%s/", target.Value)},
			"resultsType":  "posts",
			"resultsLimit": limit,
		}, nil
	case scrape.SourceHashtag:
		return map[string]any{
			"directUrls":   []string{fmt.Sprintf("https://www.instagram.com/explore/tags/%s/", target.Value)},
			"resultsType":  "posts",
			"resultsLimit": limit,
		}, nil
	case scrape.SourceKeyword:
		// No keyword feed exists; run the actor's search and take post
		// results.
		return map[string]any{
			"search":       target.Value,
			"searchType":   "hashtag",
			"resultsType":  "posts",
			"resultsLimit": limit,
		}, nil
	default:
		return nil, fmt.Errorf("unknown source type %q", target.Type)
	}
}
