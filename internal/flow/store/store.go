// Package store persists Flow Documents keyed by (subject, flow).
//
// Every implementation provides the same two atomic writes: a shallow
// merge-upsert for citizen submissions and a guarded append for review
// decisions. Stores are pure I/O; flow rules live in the service.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"portal/internal/flow/document"
	"portal/pkg/domain"
)

// Entry is one stored document with its bookkeeping columns.
type Entry struct {
	SubjectID domain.SubjectID
	FlowKey   domain.FlowKey
	Category  string
	Document  document.Document
	CreatedAt time.Time
	UpdatedAt time.Time
}

// guardState returns the length of the stored approval history and whether
// the document carries a rejection marker.
func guardState(doc document.Document) (count int, rejected bool, err error) {
	var stages []json.RawMessage
	if err := doc.Decode(document.FieldApprovalStages, &stages); err != nil {
		return 0, false, fmt.Errorf("decode approval history: %w", err)
	}
	_, rejected = doc[document.FieldRejectedAt]
	return len(stages), rejected, nil
}

func encodePatch(patch document.Document) ([]byte, error) {
	if patch == nil {
		patch = document.New()
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("marshal patch: %w", err)
	}
	return raw, nil
}
