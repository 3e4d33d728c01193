package approval

import (
	"fmt"

	"portal/pkg/domain"
	dErrors "portal/pkg/domain-errors"
)

// Stage is one configured review checkpoint.
type Stage struct {
	Key   domain.StageKey `yaml:"key" json:"key"`
	Title string          `yaml:"title,omitempty" json:"title,omitempty"`
}

// StageConfig is the ordered list of approvals a flow requires. It is
// immutable once built.
type StageConfig struct {
	stages []Stage
}

// NewStageConfig validates and freezes a stage list. Zero stages, invalid
// keys, and duplicate keys are configuration errors.
func NewStageConfig(stages []Stage) (StageConfig, error) {
	if len(stages) == 0 {
		return StageConfig{}, dErrors.New(dErrors.CodeConfiguration, "approval stage configuration must contain at least one stage")
	}
	seen := make(map[domain.StageKey]bool, len(stages))
	out := make([]Stage, 0, len(stages))
	for i, s := range stages {
		if _, err := domain.ParseStageKey(string(s.Key)); err != nil {
			return StageConfig{}, dErrors.Wrap(err, dErrors.CodeConfiguration, fmt.Sprintf("stage %d", i+1))
		}
		if seen[s.Key] {
			return StageConfig{}, dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("duplicate stage key %q", s.Key))
		}
		seen[s.Key] = true
		out = append(out, s)
	}
	return StageConfig{stages: out}, nil
}

// MustStageConfig is NewStageConfig for static configuration known to be valid.
func MustStageConfig(keys ...domain.StageKey) StageConfig {
	stages := make([]Stage, 0, len(keys))
	for _, k := range keys {
		stages = append(stages, Stage{Key: k})
	}
	cfg, err := NewStageConfig(stages)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Len is the total number of required approvals.
func (c StageConfig) Len() int {
	return len(c.stages)
}

// Stages returns a copy of the configured stages in order.
func (c StageConfig) Stages() []Stage {
	return append([]Stage(nil), c.stages...)
}

// IsZero reports whether the flow has no review pipeline.
func (c StageConfig) IsZero() bool {
	return len(c.stages) == 0
}
