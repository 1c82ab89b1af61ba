// Package discover drives a headless browser through platform pages and
// captures the item-list API responses the pages load while scrolling.
package discover

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/crowdlens/social-crawler/internal/config"
	"github.com/crowdlens/social-crawler/internal/scrape"
)

// Engine implements scrape.Discoverer using chromedp and headless Chrome.
// One browser process is shared; each Discover call runs in its own tab.
type Engine struct {
	cfg         config.DiscoveryConfig
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewEngine creates a discovery engine backed by chromedp.
func NewEngine(cfg config.DiscoveryConfig, logger *zap.Logger) (*Engine, error) {
	if cfg.MaxIdleSteps <= 0 {
		return nil, fmt.Errorf("max idle steps must be > 0")
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Engine{
		cfg:         cfg,
		logger:      logger,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context, shutting the browser down.
func (e *Engine) Close() {
	e.allocCancel()
}

// Discover opens the target's page in a fresh tab, scrolls until the feed
// is exhausted, the item cap is met, or no new responses arrive for the
// configured number of idle steps, and returns the captured raw items.
func (e *Engine) Discover(ctx context.Context, target scrape.Target) ([]scrape.RawItem, error) {
	spec, err := endpointsFor(target)
	if err != nil {
		return nil, err
	}
	maxItems := target.MaxItems
	if maxItems <= 0 {
		maxItems = e.cfg.DefaultMaxItems
	}

	taskCtx, taskCancel := chromedp.NewContext(e.allocator)
	defer taskCancel()

	// Worst-case tab lifetime: navigate, settle, every scroll step idle,
	// then the final grace period.
	budget := e.cfg.NavTimeout() + e.cfg.SettleWait() +
		time.Duration(e.cfg.MaxIdleSteps+5)*e.cfg.ScrollInterval() + e.cfg.FinalWait()
	taskCtx, budgetCancel := context.WithTimeout(taskCtx, budget)
	defer budgetCancel()
	stop := forwardCancel(ctx, taskCancel)
	defer stop()

	bodies := make(chan []byte, e.queueSize())
	e.listenForItemLists(taskCtx, spec, bodies)

	start := time.Now()
	if err := chromedp.Run(taskCtx,
		e.setupAction(),
		chromedp.Navigate(spec.pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(e.cfg.SettleWait()),
	); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", spec.pageURL, err)
	}

	col := newCollector(maxItems)
	drainBodies(bodies, col)
	e.scrollLoop(taskCtx, tabDriver{taskCtx}, bodies, col)

	// Let in-flight responses land before the tab closes.
	select {
	case <-taskCtx.Done():
	case <-time.After(e.cfg.FinalWait()):
	}
	drainBodies(bodies, col)

	e.logger.Info("discovery pass finished",
		zap.String("platform", string(target.Platform)),
		zap.String("source_type", string(target.Type)),
		zap.String("source_value", target.Value),
		zap.Int("items", len(col.items)),
		zap.Bool("feed_exhausted", col.noMore),
		zap.Duration("elapsed", time.Since(start)),
	)
	return col.items, nil
}

// listenForItemLists watches network events on the tab and fetches the body
// of every response whose URL matches the endpoint spec. Bodies are pushed
// to the bounded channel; when the consumer falls behind, excess bodies are
// dropped rather than blocking the event loop.
func (e *Engine) listenForItemLists(taskCtx context.Context, spec endpointSpec, bodies chan<- []byte) {
	var mu sync.Mutex
	pending := make(map[network.RequestID]struct{})

	chromedp.ListenTarget(taskCtx, func(ev any) {
		switch event := ev.(type) {
		case *network.EventResponseReceived:
			if !wantsResponse(spec, event.Response) {
				return
			}
			mu.Lock()
			pending[event.RequestID] = struct{}{}
			mu.Unlock()
		case *network.EventLoadingFinished:
			mu.Lock()
			_, watched := pending[event.RequestID]
			delete(pending, event.RequestID)
			mu.Unlock()
			if !watched {
				return
			}
			// Body retrieval talks to the browser and must not run on the
			// event goroutine.
			go func(id network.RequestID) {
				c := chromedp.FromContext(taskCtx)
				body, err := network.GetResponseBody(id).Do(cdp.WithExecutor(taskCtx, c.Target))
				if err != nil {
					e.logger.Debug("response body fetch failed", zap.Error(err))
					return
				}
				select {
				case bodies <- body:
				default:
					e.logger.Warn("response queue full, dropping body")
				}
			}(event.RequestID)
		}
	})
}

// wantsResponse accepts only successful JSON responses from the target's
// item-list endpoints. Pages load redirects, error pages, and HTML from
// the same paths; none of those carry items.
func wantsResponse(spec endpointSpec, resp *network.Response) bool {
	if resp == nil || !spec.matches(resp.URL) {
		return false
	}
	if resp.Status != 200 {
		return false
	}
	return strings.Contains(resp.MimeType, "json")
}

// scrollLoop nudges the page down one step at a time, absorbing whatever
// bodies arrived since the previous step. A step that absorbs nothing new
// counts as idle; MaxIdleSteps consecutive idle steps end the pass.
func (e *Engine) scrollLoop(ctx context.Context, driver pageDriver, bodies <-chan []byte, col *collector) {
	idle := 0
	for idle < e.cfg.MaxIdleSteps && !col.done() {
		if err := driver.ScrollBy(ctx, e.cfg.ScrollStepPx); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.ScrollInterval()):
		}
		if drainBodies(bodies, col) > 0 {
			idle = 0
		} else {
			idle++
		}
	}
}

func (e *Engine) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if e.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(e.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (e *Engine) queueSize() int {
	if e.cfg.ResponseQueueSize > 0 {
		return e.cfg.ResponseQueueSize
	}
	return 64
}

// drainBodies absorbs every body currently buffered without blocking.
func drainBodies(bodies <-chan []byte, col *collector) int {
	added := 0
	for {
		select {
		case body := <-bodies:
			added += col.absorb(body)
		default:
			return added
		}
	}
}

// pageDriver abstracts the single browser interaction the scroll loop
// needs, keeping the loop testable without a browser.
type pageDriver interface {
	ScrollBy(ctx context.Context, px int) error
}

type tabDriver struct {
	taskCtx context.Context
}

func (d tabDriver) ScrollBy(_ context.Context, px int) error {
	return chromedp.Run(d.taskCtx,
		chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", px), nil))
}

// forwardCancel cancels the tab when the caller's context ends. The
// returned stop function releases the watcher once the pass completes.
func forwardCancel(ctx context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
