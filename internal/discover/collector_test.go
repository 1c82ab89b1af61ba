package discover

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func itemListBody(t *testing.T, ids ...string) []byte {
	t.Helper()
	items := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		items = append(items, map[string]any{"id": id, "desc": "video " + id})
	}
	body, err := json.Marshal(map[string]any{"itemList": items, "hasMore": true})
	require.NoError(t, err)
	return body
}

func TestAbsorbStripsGuardPrefix(t *testing.T) {
	col := newCollector(0)
	body := append([]byte(`for (;;);`), itemListBody(t, "1", "2")...)

	assert.Equal(t, 2, col.absorb(body))
	assert.Len(t, col.items, 2)
}

func TestAbsorbSearchWrapperShape(t *testing.T) {
	col := newCollector(0)
	body := []byte(`{
		"data": [
			{"type": 1, "item": {"id": "v1", "desc": "match"}},
			{"type": 4, "user": {"id": "not-a-video"}},
			{"type": 1, "item": {"id": "v2"}}
		],
		"hasMore": 1
	}`)

	assert.Equal(t, 2, col.absorb(body))
	assert.Equal(t, "v1", col.items[0]["id"])
	assert.Equal(t, "v2", col.items[1]["id"])
	assert.False(t, col.noMore)
}

func TestAbsorbSearchSectionsDoNotConsumeBudget(t *testing.T) {
	col := newCollector(2)
	body := []byte(`{
		"data": [
			{"type": 4, "user": {"id": "u1"}},
			{"type": 1, "item": {"id": "v1"}},
			{"type": 6, "suggest": {"query": "more sneakers"}},
			{"type": 1, "item": {"id": "v2"}}
		]
	}`)

	assert.Equal(t, 2, col.absorb(body))
	assert.True(t, col.done())
	assert.Equal(t, "v1", col.items[0]["id"])
	assert.Equal(t, "v2", col.items[1]["id"])
}

func TestAbsorbBareDataEntries(t *testing.T) {
	col := newCollector(0)
	body := []byte(`{"data": [{"id": "v1"}, {"id": "v2"}]}`)

	assert.Equal(t, 2, col.absorb(body))
	assert.Len(t, col.items, 2)
}

func TestAbsorbHasMoreFalseEndsPass(t *testing.T) {
	col := newCollector(0)
	body := []byte(`{"itemList": [{"id": "a"}], "hasMore": false}`)

	col.absorb(body)
	assert.True(t, col.noMore)
	assert.True(t, col.done())
}

func TestAbsorbDeduplicatesAcrossResponses(t *testing.T) {
	col := newCollector(0)

	assert.Equal(t, 2, col.absorb(itemListBody(t, "a", "b")))
	assert.Equal(t, 1, col.absorb(itemListBody(t, "b", "c")))
	assert.Len(t, col.items, 3)
}

func TestAbsorbHonorsMaxItems(t *testing.T) {
	col := newCollector(30)

	total := 0
	for page := 0; page < 50; page++ {
		ids := make([]string, 10)
		for i := range ids {
			ids[i] = fmt.Sprintf("item-%d-%d", page, i)
		}
		total += col.absorb(itemListBody(t, ids...))
		if col.done() {
			break
		}
	}

	assert.Equal(t, 30, total)
	assert.Len(t, col.items, 30)
	assert.True(t, col.done())
}

func TestAbsorbSkipsMalformedBody(t *testing.T) {
	col := newCollector(0)

	assert.Equal(t, 0, col.absorb([]byte(`<!DOCTYPE html><html>captcha</html>`)))
	assert.Equal(t, 0, col.absorb([]byte(`{"itemList": "not-an-array"}`)))
	assert.Equal(t, 0, col.absorb(nil))
	assert.Empty(t, col.items)
	assert.False(t, col.done())
}
