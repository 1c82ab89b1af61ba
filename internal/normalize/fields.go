package normalize

import (
	"strconv"
	"strings"

	"github.com/crowdlens/social-crawler/internal/scrape"
)

// lookup walks a dot-separated path into a raw item, descending through
// nested map[string]any values. The boolean is false when any segment is
// missing or a non-map value appears mid-path.
func lookup(raw scrape.RawItem, path string) (any, bool) {
	var cur any = map[string]any(raw)
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// firstString tries paths in order and returns the first value that
// renders as a non-empty string. Numeric ids arriving as JSON numbers are
// formatted without an exponent.
func firstString(raw scrape.RawItem, paths ...string) string {
	for _, p := range paths {
		v, ok := lookup(raw, p)
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			if s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64)
		case int64:
			return strconv.FormatInt(s, 10)
		case int:
			return strconv.Itoa(s)
		}
	}
	return ""
}

// firstInt tries paths in order and returns the first value coercible to
// an integer. Platform APIs flip between numeric and string encodings of
// the same counter across versions, so both are accepted.
func firstInt(raw scrape.RawItem, paths ...string) int64 {
	for _, p := range paths {
		v, ok := lookup(raw, p)
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int64(n)
		case int64:
			return n
		case int:
			return int64(n)
		case string:
			if parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
				return parsed
			}
		}
	}
	return 0
}

// firstBool tries paths in order for a boolean, tolerating the string
// forms "true"/"false" some endpoints emit.
func firstBool(raw scrape.RawItem, paths ...string) bool {
	for _, p := range paths {
		v, ok := lookup(raw, p)
		if !ok || v == nil {
			continue
		}
		switch b := v.(type) {
		case bool:
			return b
		case string:
			if parsed, err := strconv.ParseBool(b); err == nil {
				return parsed
			}
		}
	}
	return false
}
