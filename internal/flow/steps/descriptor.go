package steps

import (
	"fmt"

	"portal/internal/flow/document"
	"portal/pkg/domain"
	dErrors "portal/pkg/domain-errors"
)

// RuleKind tags a serializable rule descriptor.
type RuleKind string

const (
	// KindFieldsPresent redirects unless every listed field is present.
	KindFieldsPresent RuleKind = "fieldsPresent"
	// KindFieldTrue redirects unless the field is boolean true.
	KindFieldTrue RuleKind = "fieldTrue"
	// KindFieldEquals redirects unless the field equals Value.
	KindFieldEquals RuleKind = "fieldEquals"
	// KindWhenPresent redirects when the field is present. Chains end with
	// one of these on their terminal marker.
	KindWhenPresent RuleKind = "whenPresent"
	// KindPredicate redirects when the named registry predicate holds and
	// the optional Unless field is absent.
	KindPredicate RuleKind = "predicate"
)

// default StepValid per kind: missing upstream details make the viewed step
// unsafe to act on; the other kinds leave it actionable.
var defaultStepValid = map[RuleKind]bool{
	KindFieldsPresent: false,
	KindFieldTrue:     true,
	KindFieldEquals:   true,
	KindWhenPresent:   true,
	KindPredicate:     true,
}

// RuleSpec is the data-driven form of a rule, authored in flow configuration.
type RuleSpec struct {
	Name       string         `yaml:"name" json:"name"`
	Kind       RuleKind       `yaml:"kind" json:"kind"`
	Fields     []string       `yaml:"fields,omitempty" json:"fields,omitempty"`
	Field      string         `yaml:"field,omitempty" json:"field,omitempty"`
	Value      any            `yaml:"value,omitempty" json:"value,omitempty"`
	Predicate  string         `yaml:"predicate,omitempty" json:"predicate,omitempty"`
	Args       map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
	Unless     string         `yaml:"unless,omitempty" json:"unless,omitempty"`
	RedirectTo string         `yaml:"redirectTo" json:"redirectTo"`
	StepValid  *bool          `yaml:"stepValid,omitempty" json:"stepValid,omitempty"`
}

// RuleName is the name a compiled rule reports in Resolution.Rule.
// Unnamed rules are called kind:redirectTo.
func (r RuleSpec) RuleName() string {
	if r.Name != "" {
		return r.Name
	}
	return string(r.Kind) + ":" + r.RedirectTo
}

type compiledRule struct {
	name      string
	redirect  domain.StepKey
	stepValid bool
	// satisfied reports whether the rule's concern is met for the document.
	satisfied func(doc document.Document) bool
}

func (r compiledRule) Name() string { return r.name }

func (r compiledRule) Evaluate(doc document.Document) Outcome {
	if r.satisfied(doc) {
		return Continue()
	}
	return Redirect(r.redirect, r.stepValid)
}

// CompileOption adjusts Compile.
type CompileOption func(*compileOptions)

type compileOptions struct {
	check FieldCheck
}

// WithFieldCheck validates every field a rule reads, including the fields
// named in predicate arguments.
func WithFieldCheck(check FieldCheck) CompileOption {
	return func(o *compileOptions) {
		o.check = check
	}
}

// Compile turns descriptors into a chain. Every malformed descriptor is a
// configuration error; nothing is tolerated at runtime.
func Compile(specs []RuleSpec, reg *Registry, opts ...CompileOption) (Chain, error) {
	if len(specs) == 0 {
		return nil, dErrors.New(dErrors.CodeConfiguration, "rule chain must contain at least one rule")
	}
	o := compileOptions{check: anyField}
	for _, opt := range opts {
		opt(&o)
	}
	chain := make(Chain, 0, len(specs))
	for i, spec := range specs {
		rule, err := compileRule(spec, reg, o.check)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, fmt.Sprintf("rule %d (%s)", i+1, spec.Name))
		}
		chain = append(chain, rule)
	}
	return chain, nil
}

func compileRule(spec RuleSpec, reg *Registry, check FieldCheck) (compiledRule, error) {
	redirect, err := domain.ParseStepKey(spec.RedirectTo)
	if err != nil {
		return compiledRule{}, fmt.Errorf("redirectTo %q is not a valid step key", spec.RedirectTo)
	}
	base, known := defaultStepValid[spec.Kind]
	if !known {
		return compiledRule{}, fmt.Errorf("unknown rule kind %q", spec.Kind)
	}
	if spec.StepValid != nil {
		base = *spec.StepValid
	}
	for _, f := range ruleFields(spec) {
		if err := check(f); err != nil {
			return compiledRule{}, err
		}
	}
	rule := compiledRule{
		name:      spec.RuleName(),
		redirect:  redirect,
		stepValid: base,
	}

	switch spec.Kind {
	case KindFieldsPresent:
		if len(spec.Fields) == 0 {
			return compiledRule{}, fmt.Errorf("fieldsPresent requires fields")
		}
		fields := append([]string(nil), spec.Fields...)
		rule.satisfied = func(doc document.Document) bool {
			for _, f := range fields {
				if !doc.Has(f) {
					return false
				}
			}
			return true
		}
	case KindFieldTrue:
		if spec.Field == "" {
			return compiledRule{}, fmt.Errorf("fieldTrue requires field")
		}
		field := spec.Field
		rule.satisfied = func(doc document.Document) bool { return doc.Bool(field) }
	case KindFieldEquals:
		if spec.Field == "" {
			return compiledRule{}, fmt.Errorf("fieldEquals requires field")
		}
		field, value := spec.Field, spec.Value
		rule.satisfied = func(doc document.Document) bool { return doc.Equal(field, value) }
	case KindWhenPresent:
		if spec.Field == "" {
			return compiledRule{}, fmt.Errorf("whenPresent requires field")
		}
		field := spec.Field
		rule.satisfied = func(doc document.Document) bool { return !doc.Has(field) }
	case KindPredicate:
		pred, err := reg.Build(spec.Predicate, spec.Args, check)
		if err != nil {
			return compiledRule{}, err
		}
		unless := spec.Unless
		rule.satisfied = func(doc document.Document) bool {
			if unless != "" && doc.Has(unless) {
				return true
			}
			return !pred(doc)
		}
	}
	return rule, nil
}

// ruleFields lists the fields a descriptor reads outside predicate args.
func ruleFields(spec RuleSpec) []string {
	fields := append([]string(nil), spec.Fields...)
	if spec.Field != "" {
		fields = append(fields, spec.Field)
	}
	if spec.Unless != "" {
		fields = append(fields, spec.Unless)
	}
	return fields
}
