package discover

import (
	"encoding/json"
	"regexp"

	"github.com/crowdlens/social-crawler/internal/scrape"
)

// Item-list endpoints prefix their JSON with an anti-hijacking guard that
// must be stripped before parsing.
var guardPrefix = regexp.MustCompile(`^\s*for\s*\(.*?\);\s*`)

// collector accumulates raw items out of captured item-list responses for
// one discovery pass. It deduplicates by item id within the pass and stops
// accepting once max is reached or the feed reports it is exhausted.
type collector struct {
	items  []scrape.RawItem
	seen   map[string]struct{}
	max    int
	noMore bool
}

func newCollector(max int) *collector {
	return &collector{
		seen: make(map[string]struct{}),
		max:  max,
	}
}

// absorb parses one captured response body and appends its items. Bodies
// that fail to parse are skipped silently: pages load plenty of unrelated
// or truncated payloads and one bad body must not end the pass. Returns
// how many new items were added.
func (c *collector) absorb(body []byte) int {
	body = guardPrefix.ReplaceAll(body, nil)

	var envelope struct {
		ItemList []json.RawMessage `json:"itemList"`
		Data     []json.RawMessage `json:"data"`
		HasMore  *flexibleBool     `json:"hasMore"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return 0
	}

	added := 0
	for _, raw := range envelope.ItemList {
		if c.add(raw) {
			added++
		}
	}
	for _, raw := range envelope.Data {
		// Search endpoints wrap items: {"type": 1, "item": {...}}. Typed
		// sections other than 1 carry user cards and suggested queries,
		// not items. Untyped entries are bare items.
		var wrapper struct {
			Type *int            `json:"type"`
			Item json.RawMessage `json:"item"`
		}
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			continue
		}
		if wrapper.Type != nil {
			if *wrapper.Type == 1 && len(wrapper.Item) > 0 && c.add(wrapper.Item) {
				added++
			}
			continue
		}
		if c.add(raw) {
			added++
		}
	}

	if envelope.HasMore != nil && !bool(*envelope.HasMore) {
		c.noMore = true
	}
	return added
}

func (c *collector) add(raw json.RawMessage) bool {
	if c.max > 0 && len(c.items) >= c.max {
		return false
	}
	var item scrape.RawItem
	if err := json.Unmarshal(raw, &item); err != nil || len(item) == 0 {
		return false
	}
	if id, ok := item["id"].(string); ok && id != "" {
		if _, dup := c.seen[id]; dup {
			return false
		}
		c.seen[id] = struct{}{}
	}
	c.items = append(c.items, item)
	return true
}

// done reports whether the pass can stop scrolling.
func (c *collector) done() bool {
	if c.noMore {
		return true
	}
	return c.max > 0 && len(c.items) >= c.max
}

// flexibleBool accepts the bool, 0/1 and "true"/"1" encodings the item-list
// endpoints emit for hasMore across versions.
type flexibleBool bool

func (f *flexibleBool) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true", "1", `"true"`, `"1"`:
		*f = true
	default:
		*f = false
	}
	return nil
}
