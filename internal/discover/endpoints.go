package discover

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/crowdlens/social-crawler/internal/scrape"
)

// endpointSpec pairs the page a target renders on with the internal API
// paths that feed it. Only responses whose URL contains one of the API
// paths are captured; everything else the page loads is ignored.
type endpointSpec struct {
	pageURL  string
	apiPaths []string
}

// endpointsFor resolves a browser-discoverable target to its endpoint
// spec. Instagram targets go through the actor client instead and are
// rejected here.
func endpointsFor(target scrape.Target) (endpointSpec, error) {
	if target.Platform != scrape.PlatformTikTok {
		return endpointSpec{}, fmt.Errorf("platform %q is not browser-discoverable", target.Platform)
	}
	value := strings.TrimPrefix(strings.TrimSpace(target.Value), "@")
	value = strings.TrimPrefix(value, "#")
	if value == "" {
		return endpointSpec{}, fmt.Errorf("empty source value for %s %s", target.Platform, target.Type)
	}
	switch target.Type {
	case scrape.SourceProfile:
		return endpointSpec{
			pageURL:  "https://www.tiktok.com/@" + url.PathEscape(value),
			apiPaths: []string{"/api/post/item_list"},
		}, nil
	case scrape.SourceHashtag:
		return endpointSpec{
			pageURL:  "https://www.tiktok.com/tag/" + url.PathEscape(value),
			apiPaths: []string{"/api/challenge/item_list"},
		}, nil
	case scrape.SourceKeyword:
		return endpointSpec{
			pageURL:  "https://www.tiktok.com/search?q=" + url.QueryEscape(value),
			apiPaths: []string{"/api/search/general/full", "/api/search/general/preview", "/api/search/item/full"},
		}, nil
	default:
		return endpointSpec{}, fmt.Errorf("unknown source type %q", target.Type)
	}
}

// matches reports whether a response URL belongs to one of the watched API
// paths.
func (s endpointSpec) matches(responseURL string) bool {
	for _, p := range s.apiPaths {
		if strings.Contains(responseURL, p) {
			return true
		}
	}
	return false
}
