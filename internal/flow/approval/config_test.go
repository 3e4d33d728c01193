package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "portal/pkg/domain-errors"
)

func TestNewStageConfig(t *testing.T) {
	t.Run("rejects empty configuration", func(t *testing.T) {
		_, err := NewStageConfig(nil)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))
	})

	t.Run("rejects duplicate keys", func(t *testing.T) {
		_, err := NewStageConfig([]Stage{{Key: "review1"}, {Key: "review1"}})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))
	})

	t.Run("rejects invalid keys", func(t *testing.T) {
		_, err := NewStageConfig([]Stage{{Key: "1st review"}})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))
	})

	t.Run("keeps order and copies", func(t *testing.T) {
		in := []Stage{{Key: "review1", Title: "Identity"}, {Key: "review2"}}
		cfg, err := NewStageConfig(in)
		require.NoError(t, err)
		in[0].Key = "mutated"

		assert.Equal(t, 2, cfg.Len())
		assert.Equal(t, "review1", string(cfg.Stages()[0].Key))
		assert.False(t, cfg.IsZero())
	})

	t.Run("zero value has no pipeline", func(t *testing.T) {
		assert.True(t, StageConfig{}.IsZero())
	})
}
