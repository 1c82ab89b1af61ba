package memory

import (
	"context"
	"sync"
)

// SeenStore keeps the per-campaign dedup index in memory.
type SeenStore struct {
	mu   sync.RWMutex
	seen map[string]map[string]struct{} // campaignRef/kind -> ids
}

// NewSeenStore constructs a SeenStore.
func NewSeenStore() *SeenStore {
	return &SeenStore{seen: make(map[string]map[string]struct{})}
}

// KnownIDs returns a copy of the recorded ids for a campaign and kind.
func (s *SeenStore) KnownIDs(_ context.Context, campaignRef, kind string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.seen[scopeKey(campaignRef, kind)]
	out := make(map[string]struct{}, len(src))
	for id := range src {
		out[id] = struct{}{}
	}
	return out, nil
}

// RecordIDs marks ids as seen for a campaign and kind.
func (s *SeenStore) RecordIDs(_ context.Context, campaignRef, kind string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopeKey(campaignRef, kind)
	bucket, ok := s.seen[key]
	if !ok {
		bucket = make(map[string]struct{}, len(ids))
		s.seen[key] = bucket
	}
	for _, id := range ids {
		bucket[id] = struct{}{}
	}
	return nil
}

func scopeKey(campaignRef, kind string) string {
	return campaignRef + "/" + kind
}
