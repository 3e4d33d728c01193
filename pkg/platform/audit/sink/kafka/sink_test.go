package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"portal/pkg/domain"
	audit "portal/pkg/platform/audit"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.records = append(f.records, rs...)
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func TestPublishKeysBySubject(t *testing.T) {
	fp := &fakeProducer{}
	s := &Sink{producer: fp, topic: "portal.audit"}
	subject := domain.SubjectID(uuid.New())

	err := s.Publish(context.Background(), audit.Event{
		ID:        domain.NewEventID(),
		Category:  audit.CategoryCompliance,
		SubjectID: subject,
		FlowKey:   "notify-death",
		Action:    audit.ActionFlowApproved,
	})
	require.NoError(t, err)
	require.Len(t, fp.records, 1)

	rec := fp.records[0]
	assert.Equal(t, "portal.audit", rec.Topic)
	assert.Equal(t, subject.String(), string(rec.Key))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Value, &payload))
	assert.Equal(t, "flow_approved", payload["action"])
	assert.Equal(t, subject.String(), payload["subject_id"])
}

func TestPublishSurfacesBrokerErrors(t *testing.T) {
	fp := &fakeProducer{err: errors.New("not leader for partition")}
	s := &Sink{producer: fp, topic: "portal.audit"}

	err := s.Publish(context.Background(), audit.Event{Action: audit.ActionStageApproved})
	assert.ErrorContains(t, err, "not leader")
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := New(nil, "portal.audit")
	assert.Error(t, err)
	_, err = New([]string{"localhost:9092"}, "")
	assert.Error(t, err)
}
