package document

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge(t *testing.T) {
	t.Run("later fields accumulate over earlier ones", func(t *testing.T) {
		merged := Merge(Document{"a": 1}, Document{"b": 2})
		assert.Equal(t, Document{"a": 1, "b": 2}, merged)
	})

	t.Run("collisions overwrite at the top level only", func(t *testing.T) {
		base := Document{"address": map[string]any{"line1": "1 High St", "postcode": "AB1"}}
		patch := Document{"address": map[string]any{"line1": "2 Low St"}}

		merged := Merge(base, patch)

		assert.Equal(t, map[string]any{"line1": "2 Low St"}, merged["address"])
	})

	t.Run("inputs are not modified", func(t *testing.T) {
		base := Document{"a": 1}
		patch := Document{"a": 2}
		_ = Merge(base, patch)

		assert.Equal(t, 1, base["a"])
		assert.Equal(t, 2, patch["a"])
	})

	t.Run("nil base behaves as empty", func(t *testing.T) {
		assert.Equal(t, Document{"x": true}, Merge(nil, Document{"x": true}))
	})
}

func TestAccessorsAreTotal(t *testing.T) {
	doc := Document{
		"name":      "A",
		"blank":     "   ",
		"confirmed": true,
		"declined":  false,
		"formTrue":  "true",
		"count":     float64(3),
		"empty":     []any{},
		"nothing":   nil,
		"dob":       "2000-01-01",
		"at":        "2024-06-15T12:00:00Z",
	}

	assert.True(t, doc.Has("name"))
	assert.False(t, doc.Has("blank"))
	assert.False(t, doc.Has("declined"))
	assert.False(t, doc.Has("empty"))
	assert.False(t, doc.Has("nothing"))
	assert.False(t, doc.Has("missing"))
	assert.True(t, doc.Has("count"))

	assert.True(t, doc.Bool("confirmed"))
	assert.True(t, doc.Bool("formTrue"))
	assert.False(t, doc.Bool("name"))
	assert.False(t, doc.Bool("missing"))

	assert.Equal(t, "A", doc.String("name"))
	assert.Equal(t, "", doc.String("count"))

	dob, ok := doc.Time("dob")
	require.True(t, ok)
	assert.Equal(t, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), dob)
	_, ok = doc.Time("at")
	assert.True(t, ok)
	_, ok = doc.Time("name")
	assert.False(t, ok)
}

func TestEqual_NormalizesNumbers(t *testing.T) {
	doc := Document{"tier": float64(2), "kind": "full"}

	assert.True(t, doc.Equal("tier", 2))
	assert.True(t, doc.Equal("kind", "full"))
	assert.False(t, doc.Equal("kind", "provisional"))
	assert.False(t, doc.Equal("missing", nil))
}

func TestNormalize(t *testing.T) {
	at := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	doc := Document{"n": 1, "at": at, "list": []string{"a"}}

	normalized, err := Normalize(doc)
	require.NoError(t, err)

	assert.Equal(t, float64(1), normalized["n"])
	assert.Equal(t, "2024-06-15T12:00:00Z", normalized["at"])
	assert.Equal(t, []any{"a"}, normalized["list"])
}

func TestUnmarshal_NullIsEmpty(t *testing.T) {
	doc, err := Unmarshal([]byte("null"))
	require.NoError(t, err)
	assert.NotNil(t, doc)
	assert.Empty(t, doc)

	_, err = Unmarshal([]byte("[1,2]"))
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	doc := Document{"address": map[string]any{"postcode": "AB1"}}
	var target struct {
		Postcode string `json:"postcode"`
	}

	require.NoError(t, doc.Decode("address", &target))
	assert.Equal(t, "AB1", target.Postcode)
	require.NoError(t, doc.Decode("missing", &target))
	assert.Error(t, Document{"address": "flat"}.Decode("address", &target))
}
