package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "portal/pkg/domain-errors"
)

// TestParseSubjectID_Invariants validates the parsing invariant:
// "subject IDs must be valid, non-empty, non-nil UUIDs"
func TestParseSubjectID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseSubjectID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseSubjectID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseSubjectID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseSubjectID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, SubjectID(validUUID), id)
		assert.False(t, id.IsNil())
	})
}

func TestParseSubjectID_HostileInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE flow_documents;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Whitespace only", "   ", true},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},
		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSubjectID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestParseKeys(t *testing.T) {
	t.Run("accepts kebab and camel case", func(t *testing.T) {
		fk, err := ParseFlowKey("renew-driving-licence")
		require.NoError(t, err)
		assert.Equal(t, FlowKey("renew-driving-licence"), fk)

		sk, err := ParseStageKey("reviewStage1")
		require.NoError(t, err)
		assert.Equal(t, StageKey("reviewStage1"), sk)
	})

	t.Run("rejects keys that cannot be identifiers", func(t *testing.T) {
		for _, in := range []string{"", "1st-step", "has space", "a/b", strings.Repeat("k", 65)} {
			_, err := ParseFlowKey(in)
			assert.Error(t, err, "input %q", in)
			_, err = ParseStepKey(in)
			assert.Error(t, err, "input %q", in)
		}
	})

	t.Run("empty step key is none", func(t *testing.T) {
		assert.True(t, NoStep.IsNone())
		assert.False(t, StepKey("details").IsNone())
	})
}

func TestIDsMarshalAsStrings(t *testing.T) {
	subject, err := ParseSubjectID("0b9c3a52-6f0e-4a8c-9c1e-2d4f5a6b7c8d")
	require.NoError(t, err)

	raw, err := json.Marshal(struct {
		Subject SubjectID `json:"subject"`
	}{subject})
	require.NoError(t, err)
	assert.JSONEq(t, `{"subject":"0b9c3a52-6f0e-4a8c-9c1e-2d4f5a6b7c8d"}`, string(raw))

	var back struct {
		Subject SubjectID `json:"subject"`
	}
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, subject, back.Subject)
}
