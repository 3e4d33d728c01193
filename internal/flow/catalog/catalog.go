// Package catalog loads flow definitions: per-flow schema, rule chain, and
// review stages. Definitions are authored as YAML and compiled once at
// startup; a malformed catalog never reaches a request.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"

	"portal/internal/flow/approval"
	"portal/internal/flow/document"
	"portal/internal/flow/steps"
	"portal/pkg/domain"
	dErrors "portal/pkg/domain-errors"
)

//go:embed flows.yaml
var defaultFlows []byte

// FlowSpec is the authored form of one flow.
type FlowSpec struct {
	Key            string                   `yaml:"key"`
	Category       string                   `yaml:"category"`
	Title          string                   `yaml:"title"`
	SubmittedField string                   `yaml:"submittedField,omitempty"`
	Fields         map[string]document.Kind `yaml:"fields"`
	Rules          []steps.RuleSpec         `yaml:"rules"`
	Stages         []approval.Stage         `yaml:"stages,omitempty"`
}

type catalogFile struct {
	Flows []FlowSpec `yaml:"flows"`
}

// Definition is a compiled, immutable flow.
type Definition struct {
	Key      domain.FlowKey
	Category string
	Title    string
	Schema   document.Schema
	Chain    steps.Chain
	Rules    []steps.RuleSpec
	Stages   approval.StageConfig
	// SubmittedField marks a document as handed over for review. Only set
	// on flows with stages.
	SubmittedField string
	// CompletionField is the citizen's final confirmation: SubmittedField
	// on reviewed flows, otherwise the marker of a trailing whenPresent
	// rule. Empty when the flow never completes.
	CompletionField string
	// confirmRule names the rule that asks for CompletionField.
	confirmRule string
}

// Reviewed reports whether the flow has an approval pipeline.
func (d *Definition) Reviewed() bool {
	return !d.Stages.IsZero()
}

// Completed reports whether doc carries the completion marker. Completed
// documents accept no further submissions.
func (d *Definition) Completed(doc document.Document) bool {
	return d.CompletionField != "" && doc.Has(d.CompletionField)
}

// ReadyToComplete reports whether routing doc, with any completion marker
// removed, stops at the confirmation rule. Anything earlier means a wizard
// step is still unanswered.
func (d *Definition) ReadyToComplete(doc document.Document) bool {
	if d.confirmRule == "" {
		return true
	}
	pending := doc.Clone()
	delete(pending, d.CompletionField)
	return steps.Resolve(d.Chain, pending).Rule == d.confirmRule
}

// Catalog is the set of known flows, in authored order.
type Catalog struct {
	flows map[domain.FlowKey]*Definition
	order []domain.FlowKey
}

// Default compiles the embedded catalog with the built-in predicates.
func Default() (*Catalog, error) {
	return Load(defaultFlows, steps.NewRegistry())
}

// Load parses and compiles a catalog. Unknown YAML keys, duplicate flows,
// and every rule or stage error are configuration errors.
func Load(data []byte, reg *steps.Registry) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var file catalogFile
	if err := dec.Decode(&file); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "parse flow catalog")
	}
	if len(file.Flows) == 0 {
		return nil, dErrors.New(dErrors.CodeConfiguration, "flow catalog is empty")
	}

	c := &Catalog{flows: make(map[domain.FlowKey]*Definition, len(file.Flows))}
	for i, spec := range file.Flows {
		def, err := compile(spec, reg)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, fmt.Sprintf("flow %d (%s)", i+1, spec.Key))
		}
		if _, dup := c.flows[def.Key]; dup {
			return nil, dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("duplicate flow %q", def.Key))
		}
		c.flows[def.Key] = def
		c.order = append(c.order, def.Key)
	}
	return c, nil
}

func compile(spec FlowSpec, reg *steps.Registry) (*Definition, error) {
	key, err := domain.ParseFlowKey(spec.Key)
	if err != nil {
		return nil, err
	}
	schema, err := document.NewSchema(spec.Fields)
	if err != nil {
		return nil, err
	}
	chain, err := steps.Compile(spec.Rules, reg, steps.WithFieldCheck(declaredField(schema)))
	if err != nil {
		return nil, err
	}

	def := &Definition{
		Key:      key,
		Category: spec.Category,
		Title:    spec.Title,
		Schema:   schema,
		Chain:    chain,
		Rules:    spec.Rules,
	}
	if len(spec.Stages) == 0 {
		if spec.SubmittedField != "" {
			return nil, fmt.Errorf("submittedField is only meaningful on reviewed flows")
		}
		if n := len(spec.Rules); spec.Rules[n-1].Kind == steps.KindWhenPresent {
			def.CompletionField = spec.Rules[n-1].Field
			def.confirmRule = confirmationRule(spec.Rules, def.CompletionField)
		}
		return def, nil
	}

	def.Stages, err = approval.NewStageConfig(spec.Stages)
	if err != nil {
		return nil, err
	}
	if spec.SubmittedField == "" {
		return nil, fmt.Errorf("reviewed flows require submittedField")
	}
	if _, ok := schema.Kind(spec.SubmittedField); !ok {
		return nil, fmt.Errorf("submittedField %q is not a declared field", spec.SubmittedField)
	}
	def.SubmittedField = spec.SubmittedField
	def.CompletionField = spec.SubmittedField
	def.confirmRule = confirmationRule(spec.Rules, spec.SubmittedField)
	if def.confirmRule == "" {
		return nil, fmt.Errorf("no fieldsPresent rule asks for submittedField %q", spec.SubmittedField)
	}
	return def, nil
}

// confirmationRule names the first fieldsPresent rule that requires field.
func confirmationRule(rules []steps.RuleSpec, field string) string {
	for _, r := range rules {
		if r.Kind == steps.KindFieldsPresent && slices.Contains(r.Fields, field) {
			return r.RuleName()
		}
	}
	return ""
}

// declaredField rejects rules that read undeclared fields, which would
// otherwise never be satisfiable.
func declaredField(schema document.Schema) steps.FieldCheck {
	return func(f string) error {
		if _, ok := schema.Kind(f); ok || document.IsReserved(f) {
			return nil
		}
		return fmt.Errorf("reads undeclared field %q", f)
	}
}

// Get returns the definition for key.
func (c *Catalog) Get(key domain.FlowKey) (*Definition, error) {
	def, ok := c.flows[key]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("unknown flow %q", key))
	}
	return def, nil
}

// All returns every definition in authored order.
func (c *Catalog) All() []*Definition {
	out := make([]*Definition, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.flows[k])
	}
	return out
}

// Keys returns flow keys in authored order.
func (c *Catalog) Keys() []domain.FlowKey {
	return append([]domain.FlowKey(nil), c.order...)
}
