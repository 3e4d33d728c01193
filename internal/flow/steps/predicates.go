package steps

import (
	"fmt"
	"sort"

	"portal/internal/flow/document"
)

// Predicate is an opaque condition over a document. It must be total.
type Predicate func(doc document.Document) bool

// FieldCheck rejects document fields a rule may not read.
type FieldCheck func(field string) error

// PredicateFactory builds a predicate from descriptor arguments, failing on
// malformed arguments at compile time. Factories pass every field name they
// read from args through check.
type PredicateFactory func(args map[string]any, check FieldCheck) (Predicate, error)

func anyField(string) error { return nil }

// Registry holds the named predicates rule descriptors may reference.
type Registry struct {
	factories map[string]PredicateFactory
}

// NewRegistry returns a registry preloaded with the built-in predicates.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]PredicateFactory)}
	r.Register("ageAtLeast", ageAtLeast)
	r.Register("anyPresent", anyPresent)
	return r
}

// Register adds or replaces a predicate factory.
func (r *Registry) Register(name string, factory PredicateFactory) {
	r.factories[name] = factory
}

// Names lists registered predicates, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build instantiates the named predicate. A nil check accepts any field.
func (r *Registry) Build(name string, args map[string]any, check FieldCheck) (Predicate, error) {
	if r == nil {
		return nil, fmt.Errorf("predicate %q referenced without a registry", name)
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown predicate %q", name)
	}
	if check == nil {
		check = anyField
	}
	pred, err := factory(args, check)
	if err != nil {
		return nil, fmt.Errorf("predicate %q: %w", name, err)
	}
	return pred, nil
}

// ageAtLeast holds when the date in field is at least `years` before the
// date in asOf. Both dates come from the document so resolution stays
// deterministic; a missing or unparsable date never satisfies it.
//
//	args: {field: dateOfBirth, asOf: applicationDate, years: 70}
func ageAtLeast(args map[string]any, check FieldCheck) (Predicate, error) {
	field, _ := args["field"].(string)
	asOf, _ := args["asOf"].(string)
	if field == "" || asOf == "" {
		return nil, fmt.Errorf("field and asOf are required")
	}
	for _, f := range []string{field, asOf} {
		if err := check(f); err != nil {
			return nil, err
		}
	}
	years, ok := intArg(args["years"])
	if !ok || years <= 0 {
		return nil, fmt.Errorf("years must be a positive integer")
	}
	return func(doc document.Document) bool {
		born, ok := doc.Time(field)
		if !ok {
			return false
		}
		ref, ok := doc.Time(asOf)
		if !ok {
			return false
		}
		return !born.AddDate(years, 0, 0).After(ref)
	}, nil
}

// anyPresent holds when at least one of fields is present.
//
//	args: {fields: [a, b]}
func anyPresent(args map[string]any, check FieldCheck) (Predicate, error) {
	raw, ok := args["fields"].([]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("fields must be a non-empty list")
	}
	fields := make([]string, 0, len(raw))
	for _, f := range raw {
		s, ok := f.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("fields must be strings")
		}
		if err := check(s); err != nil {
			return nil, err
		}
		fields = append(fields, s)
	}
	return func(doc document.Document) bool {
		for _, f := range fields {
			if doc.Has(f) {
				return true
			}
		}
		return false
	}, nil
}

func intArg(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
