// Package dedup partitions scraped entities against a set of
// previously-seen identifiers.
package dedup

// Result splits a slice into entries whose keys were absent from the seen
// set and entries whose keys were already present. Relative order within
// each slice follows the input.
type Result[T any] struct {
	Fresh []T
	Known []T
}

// Partition walks items in order and routes each to Fresh or Known by
// looking up keyFn(item) in seen. Keys encountered for the first time
// within the same call also count as seen for later elements, so
// duplicates inside a single batch collapse to one Fresh entry. Items with
// an empty key are kept as Fresh: an entity we cannot identify is safer to
// double-process than to drop.
func Partition[T any](items []T, seen map[string]struct{}, keyFn func(T) string) Result[T] {
	res := Result[T]{}
	if seen == nil {
		seen = make(map[string]struct{})
	}
	local := make(map[string]struct{})
	for _, it := range items {
		key := keyFn(it)
		if key == "" {
			res.Fresh = append(res.Fresh, it)
			continue
		}
		if _, ok := seen[key]; ok {
			res.Known = append(res.Known, it)
			continue
		}
		if _, ok := local[key]; ok {
			res.Known = append(res.Known, it)
			continue
		}
		local[key] = struct{}{}
		res.Fresh = append(res.Fresh, it)
	}
	return res
}

// Keys extracts the non-empty keys of items in order, dropping duplicates.
func Keys[T any](items []T, keyFn func(T) string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		key := keyFn(it)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
