// Package document defines the Flow Document: the accumulated JSON state of
// one subject's progress through one flow, and the shallow-merge semantics
// every store must implement.
package document

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Fields written by the review pipeline. Citizen submissions may not set them.
const (
	FieldApprovalStages = "approvalStages"
	FieldRejectedAt     = "rejectedAt"
	FieldRejectReason   = "rejectReason"
	FieldSuccessfulAt   = "successfulAt"
)

// DateLayout is the wire format of date-only fields (e.g. date of birth).
const DateLayout = "2006-01-02"

// Document maps field name to a JSON-compatible value. Fields accumulate over
// the lifetime of an application; they are added or overwritten, never removed.
type Document map[string]any

// New returns an empty document.
func New() Document {
	return Document{}
}

// Clone returns a shallow copy. Values are shared; callers replace rather
// than mutate nested values.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Merge returns base with every top-level key of patch written over it.
// Neither argument is modified. A nil base behaves as an empty document.
func Merge(base, patch Document) Document {
	out := make(Document, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Keys returns the document's field names in sorted order.
func (d Document) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether field is present with a non-empty value. nil, blank
// strings, false, and empty arrays or objects all count as absent.
func (d Document) Has(field string) bool {
	v, ok := d[field]
	if !ok {
		return false
	}
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(val) != ""
	case bool:
		return val
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

// Bool reports whether field holds boolean true. The string "true" is
// accepted because form posts arrive as strings.
func (d Document) Bool(field string) bool {
	switch val := d[field].(type) {
	case bool:
		return val
	case string:
		return val == "true"
	default:
		return false
	}
}

// String returns field as a string, or "" when absent or not a string.
func (d Document) String(field string) string {
	if s, ok := d[field].(string); ok {
		return s
	}
	return ""
}

// Time parses field as an RFC 3339 timestamp or a date-only value.
func (d Document) Time(field string) (time.Time, bool) {
	switch val := d[field].(type) {
	case time.Time:
		return val, !val.IsZero()
	case string:
		if t, err := time.Parse(time.RFC3339Nano, val); err == nil {
			return t, true
		}
		if t, err := time.Parse(DateLayout, val); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Equal reports whether field holds value after JSON normalization, so an
// int in configuration matches a float64 read back from a store.
func (d Document) Equal(field string, value any) bool {
	got, ok := d[field]
	if !ok {
		return false
	}
	a, errA := json.Marshal(got)
	b, errB := json.Marshal(value)
	if errA != nil || errB != nil {
		return false
	}
	return string(a) == string(b)
}

// Decode unmarshals field into target through a JSON round trip. Absent
// fields leave target untouched.
func (d Document) Decode(field string, target any) error {
	v, ok := d[field]
	if !ok || v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", field, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("unmarshal %s: %w", field, err)
	}
	return nil
}

// Normalize round-trips d through JSON so values have the exact shapes a
// store returns (float64 numbers, []any arrays, RFC 3339 strings).
func Normalize(d Document) (Document, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return Unmarshal(raw)
}

// Unmarshal decodes a stored JSON object. null decodes as an empty document.
func Unmarshal(raw []byte) (Document, error) {
	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	if out == nil {
		out = New()
	}
	return out, nil
}
