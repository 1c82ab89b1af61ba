package discover

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/crowdlens/social-crawler/internal/config"
	"github.com/crowdlens/social-crawler/internal/scrape"
)

// Static is a degraded scrape.Discoverer for deployments without a
// browser. It fetches the target page once with colly and pulls whatever
// items the server hydrated into the initial HTML. No scrolling means a
// single page worth of results, typically far below MaxItems.
type Static struct {
	cfg    config.DiscoveryConfig
	logger *zap.Logger
	base   *colly.Collector
}

// NewStatic builds a static-page discoverer.
func NewStatic(cfg config.DiscoveryConfig, logger *zap.Logger) *Static {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.NavTimeout())
	return &Static{cfg: cfg, logger: logger, base: c}
}

// Discover fetches the target page and extracts hydrated items.
func (s *Static) Discover(ctx context.Context, target scrape.Target) ([]scrape.RawItem, error) {
	spec, err := endpointsFor(target)
	if err != nil {
		return nil, err
	}
	// Search results hydrate client-side only; there is nothing to pull
	// from the initial HTML without a browser.
	if target.Type == scrape.SourceKeyword {
		return nil, fmt.Errorf("keyword discovery requires the headless engine")
	}
	maxItems := target.MaxItems
	if maxItems <= 0 {
		maxItems = s.cfg.DefaultMaxItems
	}
	col := newCollector(maxItems)

	collector := s.base.Clone()
	collector.UserAgent = s.base.UserAgent
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(s.cfg.NavTimeout())

	collector.OnRequest(func(r *colly.Request) {
		if err := ctx.Err(); err != nil {
			r.Abort()
		}
	})
	// Current pages hydrate via __UNIVERSAL_DATA_FOR_REHYDRATION__; older
	// ones shipped SIGI_STATE with an ItemModule map. Accept either.
	collector.OnHTML(`script#__UNIVERSAL_DATA_FOR_REHYDRATION__`, func(el *colly.HTMLElement) {
		absorbHydration(col, []byte(el.Text))
	})
	collector.OnHTML(`script#SIGI_STATE`, func(el *colly.HTMLElement) {
		absorbSigiState(col, []byte(el.Text))
	})

	var fetchErr error
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	start := time.Now()
	if err := collector.Visit(spec.pageURL); err != nil {
		return nil, fmt.Errorf("visit %s: %w", spec.pageURL, err)
	}
	collector.Wait()
	if fetchErr != nil {
		return nil, fmt.Errorf("fetch %s: %w", spec.pageURL, fetchErr)
	}

	s.logger.Info("static discovery pass finished",
		zap.String("platform", string(target.Platform)),
		zap.String("source_type", string(target.Type)),
		zap.String("source_value", target.Value),
		zap.Int("items", len(col.items)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return col.items, nil
}

// absorbHydration walks the hydration document and absorbs every itemList
// array found at any depth.
func absorbHydration(col *collector, body []byte) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return
	}
	walkForItemLists(doc, col)
}

func walkForItemLists(node any, col *collector) {
	m, ok := node.(map[string]any)
	if !ok {
		return
	}
	if list, ok := m["itemList"].([]any); ok {
		for _, entry := range list {
			if raw, err := json.Marshal(entry); err == nil {
				col.add(raw)
			}
		}
	}
	for _, v := range m {
		switch child := v.(type) {
		case map[string]any:
			walkForItemLists(child, col)
		case []any:
			for _, entry := range child {
				walkForItemLists(entry, col)
			}
		}
	}
}

func absorbSigiState(col *collector, body []byte) {
	var doc struct {
		ItemModule map[string]json.RawMessage `json:"ItemModule"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return
	}
	for _, raw := range doc.ItemModule {
		col.add(raw)
	}
}
