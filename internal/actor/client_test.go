package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crowdlens/social-crawler/internal/config"
	"github.com/crowdlens/social-crawler/internal/metrics"
	"github.com/crowdlens/social-crawler/internal/ratelimit"
	"github.com/crowdlens/social-crawler/internal/scrape"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

// fakeActorAPI is a minimal in-memory stand-in for the actor platform.
type fakeActorAPI struct {
	t            *testing.T
	finalStatus  string
	pollsToFinal int32
	polls        atomic.Int32
	dataset      []map[string]any
	lastInput    map[string]any
}

func (f *fakeActorAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case r.Method == http.MethodPost && strings.HasPrefix(path, "/v2/acts/") && strings.HasSuffix(path, "/runs"):
			if r.URL.Query().Get("token") != "tok" {
				http.Error(w, "bad token", http.StatusUnauthorized)
				return
			}
			require.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.lastInput))
			writeRun(w, "run-1", "RUNNING", "")
		case r.Method == http.MethodGet && strings.HasPrefix(path, "/v2/actor-runs/"):
			if f.polls.Add(1) >= f.pollsToFinal {
				writeRun(w, "run-1", f.finalStatus, "boom")
				return
			}
			writeRun(w, "run-1", "RUNNING", "")
		case r.Method == http.MethodGet && strings.HasPrefix(path, "/v2/datasets/") && strings.HasSuffix(path, "/items"):
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
			end := offset + limit
			if end > len(f.dataset) {
				end = len(f.dataset)
			}
			page := []map[string]any{}
			if offset < len(f.dataset) {
				page = f.dataset[offset:end]
			}
			require.NoError(f.t, json.NewEncoder(w).Encode(page))
		default:
			http.NotFound(w, r)
		}
	})
}

func writeRun(w http.ResponseWriter, id, status, message string) {
	resp := map[string]any{"data": map[string]any{
		"id":               id,
		"status":           status,
		"statusMessage":    message,
		"defaultDatasetId": "ds-1",
	}}
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestClient(t *testing.T, baseURL, token string) *Client {
	t.Helper()
	return NewClient(config.ActorConfig{
		BaseURL:         baseURL,
		Token:           token,
		WaitSeconds:     5,
		PollIntervalMs:  5,
		DatasetPageSize: 2,
	}, ratelimit.New(0, 0), zap.NewNop())
}

func TestRunActorCollectsPaginatedDataset(t *testing.T) {
	api := &fakeActorAPI{
		t:            t,
		finalStatus:  "SUCCEEDED",
		pollsToFinal: 2,
		dataset: []map[string]any{
			{"id": "1"}, {"id": "2"}, {"id": "3"}, {"id": "4"}, {"id": "5"},
		},
	}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	client := newTestClient(t, srv.URL, "tok")
	items, err := client.RunActor(context.Background(), "acme~scraper",
		map[string]any{"search": "golang"}, scrape.RunOptions{})

	require.NoError(t, err)
	require.Len(t, items, 5)
	assert.Equal(t, "1", items[0]["id"])
	assert.Equal(t, "5", items[4]["id"])
	assert.Equal(t, "golang", api.lastInput["search"])
	assert.GreaterOrEqual(t, api.polls.Load(), int32(2), "should poll until terminal status")
}

func TestRunActorSurfacesRunError(t *testing.T) {
	api := &fakeActorAPI{t: t, finalStatus: "FAILED", pollsToFinal: 1}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	client := newTestClient(t, srv.URL, "tok")
	_, err := client.RunActor(context.Background(), "acme~scraper", nil, scrape.RunOptions{})

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, "FAILED", runErr.Status)
	assert.Contains(t, runErr.Error(), "boom")
}

func TestRunActorRequiresToken(t *testing.T) {
	client := newTestClient(t, "http://localhost:0", "")
	_, err := client.RunActor(context.Background(), "acme~scraper", nil, scrape.RunOptions{})
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestRunActorHonorsWaitTimeout(t *testing.T) {
	api := &fakeActorAPI{t: t, finalStatus: "SUCCEEDED", pollsToFinal: 1_000_000}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	client := newTestClient(t, srv.URL, "tok")
	_, err := client.RunActor(context.Background(), "acme~scraper", nil,
		scrape.RunOptions{WaitTimeout: 30 * time.Millisecond})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunActorRejectsBadUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, "tok")
	_, err := client.RunActor(context.Background(), "acme~scraper", nil, scrape.RunOptions{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "402")
}

type stubRunner struct {
	lastActor string
	lastInput map[string]any
	items     []scrape.RawItem
	err       error
}

func (s *stubRunner) RunActor(_ context.Context, actorID string, input map[string]any, _ scrape.RunOptions) ([]scrape.RawItem, error) {
	s.lastActor = actorID
	s.lastInput = input
	return s.items, s.err
}

func TestInstagramDiscovererBuildsProfileInput(t *testing.T) {
	runner := &stubRunner{items: []scrape.RawItem{{"id": "p1"}}}
	d := NewInstagramDiscoverer(runner, "apify~instagram-scraper", time.Minute, zap.NewNop())

	items, err := d.Discover(context.Background(), scrape.Target{
		Platform: scrape.PlatformInstagram,
		Type:     scrape.SourceProfile,
		Value:    "natgeo",
		MaxItems: 40,
	})

	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, "apify~instagram-scraper", runner.lastActor)
	assert.Equal(t, []string{"https://www.instagram.com/natgeo/"}, runner.lastInput["directUrls"])
	assert.Equal(t, 40, runner.lastInput["resultsLimit"])
}

func TestInstagramDiscovererBuildsHashtagAndKeywordInput(t *testing.T) {
	runner := &stubRunner{}
	d := NewInstagramDiscoverer(runner, "apify~instagram-scraper", time.Minute, zap.NewNop())

	_, err := d.Discover(context.Background(), scrape.Target{
		Platform: scrape.PlatformInstagram, Type: scrape.SourceHashtag, Value: "wildlife",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.instagram.com/explore/tags/wildlife/"}, runner.lastInput["directUrls"])

	_, err = d.Discover(context.Background(), scrape.Target{
		Platform: scrape.PlatformInstagram, Type: scrape.SourceKeyword, Value: "bird photography",
	})
	require.NoError(t, err)
	assert.Equal(t, "bird photography", runner.lastInput["search"])
}

func TestInstagramDiscovererClampsToMaxItems(t *testing.T) {
	over := make([]scrape.RawItem, 12)
	for i := range over {
		over[i] = scrape.RawItem{"id": fmt.Sprintf("p%d", i)}
	}
	runner := &stubRunner{items: over}
	d := NewInstagramDiscoverer(runner, "apify~instagram-scraper", time.Minute, zap.NewNop())

	items, err := d.Discover(context.Background(), scrape.Target{
		Platform: scrape.PlatformInstagram,
		Type:     scrape.SourceHashtag,
		Value:    "wildlife",
		MaxItems: 5,
	})

	require.NoError(t, err)
	require.Len(t, items, 5, "upstream limit is advisory, the cap is enforced locally")
	assert.Equal(t, "p0", items[0]["id"])
	assert.Equal(t, "p4", items[4]["id"])
}

func TestInstagramDiscovererRejectsOtherPlatforms(t *testing.T) {
	d := NewInstagramDiscoverer(&stubRunner{}, "apify~instagram-scraper", time.Minute, zap.NewNop())
	_, err := d.Discover(context.Background(), scrape.Target{
		Platform: scrape.PlatformTikTok, Type: scrape.SourceProfile, Value: "x",
	})
	assert.Error(t, err)
}

func TestInstagramDiscovererWrapsRunnerError(t *testing.T) {
	runner := &stubRunner{err: fmt.Errorf("upstream down")}
	d := NewInstagramDiscoverer(runner, "apify~instagram-scraper", time.Minute, zap.NewNop())

	_, err := d.Discover(context.Background(), scrape.Target{
		Platform: scrape.PlatformInstagram, Type: scrape.SourceProfile, Value: "natgeo",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "natgeo")
}
