package document

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	dErrors "portal/pkg/domain-errors"
)

// Kind is the declared type of one flow field.
type Kind string

const (
	KindString    Kind = "string"
	KindBool      Kind = "bool"
	KindNumber    Kind = "number"
	KindDate      Kind = "date"
	KindTimestamp Kind = "timestamp"
	KindObject    Kind = "object"
	KindArray     Kind = "array"
)

var validKinds = map[Kind]bool{
	KindString:    true,
	KindBool:      true,
	KindNumber:    true,
	KindDate:      true,
	KindTimestamp: true,
	KindObject:    true,
	KindArray:     true,
}

var reservedFields = map[string]bool{
	FieldApprovalStages: true,
	FieldRejectedAt:     true,
	FieldRejectReason:   true,
	FieldSuccessfulAt:   true,
}

// IsReserved reports whether field is owned by the review pipeline.
func IsReserved(field string) bool {
	return reservedFields[field]
}

// Schema declares the fields a flow accepts from citizen submissions, so a
// merge is a typed partial update rather than an arbitrary object spread.
type Schema struct {
	fields map[string]Kind
}

// NewSchema builds a schema. Unknown kinds and reserved field names are
// configuration errors.
func NewSchema(fields map[string]Kind) (Schema, error) {
	out := Schema{fields: make(map[string]Kind, len(fields))}
	for name, kind := range fields {
		if name == "" {
			return Schema{}, dErrors.New(dErrors.CodeConfiguration, "schema field name cannot be empty")
		}
		if IsReserved(name) {
			return Schema{}, dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("schema field %q is reserved", name))
		}
		if !validKinds[kind] {
			return Schema{}, dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("schema field %q has unknown kind %q", name, kind))
		}
		out.fields[name] = kind
	}
	return out, nil
}

// Fields returns the declared field names in sorted order.
func (s Schema) Fields() []string {
	names := make([]string, 0, len(s.fields))
	for name := range s.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Kind returns the declared kind of field.
func (s Schema) Kind(field string) (Kind, bool) {
	k, ok := s.fields[field]
	return k, ok
}

// Validate checks a citizen patch. Fields are checked in sorted order so the
// reported error is deterministic. A null value is accepted for any field.
func (s Schema) Validate(patch Document) error {
	if len(patch) == 0 {
		return dErrors.New(dErrors.CodeValidation, "submission must contain at least one field")
	}
	for _, field := range patch.Keys() {
		if IsReserved(field) {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("field %q is managed by the review pipeline", field))
		}
		kind, ok := s.fields[field]
		if !ok {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown field %q", field))
		}
		if v := patch[field]; v != nil && !matches(kind, v) {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("field %q must be a %s", field, kind))
		}
	}
	return nil
}

func matches(kind Kind, v any) bool {
	switch kind {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64, json.Number:
			return true
		}
		return false
	case KindDate:
		s, ok := v.(string)
		if !ok {
			return false
		}
		_, err := time.Parse(DateLayout, s)
		return err == nil
	case KindTimestamp:
		switch val := v.(type) {
		case time.Time:
			return true
		case string:
			_, err := time.Parse(time.RFC3339Nano, val)
			return err == nil
		}
		return false
	case KindObject:
		_, ok := v.(map[string]any)
		return ok
	case KindArray:
		_, ok := v.([]any)
		return ok
	}
	return false
}
