package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"portal/internal/flow/document"
	"portal/pkg/domain"
	"portal/pkg/platform/sentinel"
	"portal/pkg/requestcontext"
)

// Each document is one hash. Top-level document keys live under fieldPrefix
// holding their raw JSON, so the server never decodes values. Bookkeeping
// lives under metaPrefix.
const (
	redisKeyPrefix = "portal:flow:"
	fieldPrefix    = "f:"
	metaPrefix     = "m:"

	metaCategory  = metaPrefix + "category"
	metaCreatedAt = metaPrefix + "created_at"
	metaUpdatedAt = metaPrefix + "updated_at"
	metaStages    = metaPrefix + "stage_count"
)

// Runs atomically. The literal field names are fieldPrefix+rejectedAt,
// metaStages and metaUpdatedAt. ARGV: expected count, updated_at, new
// count, then field/value pairs.
var appendStageScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if redis.call('HEXISTS', KEYS[1], 'f:rejectedAt') == 1 then
	return 0
end
local count = tonumber(redis.call('HGET', KEYS[1], 'm:stage_count') or '0')
if count ~= tonumber(ARGV[1]) then
	return 0
end
for i = 4, #ARGV, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
redis.call('HSET', KEYS[1], 'm:stage_count', ARGV[3], 'm:updated_at', ARGV[2])
return 1
`)

// RedisStore keeps each document in a hash with a per-subject set of flow
// keys for listing.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Keys share a {subject} hash tag so a transaction touches one cluster slot.
func docHashKey(subject domain.SubjectID, flow domain.FlowKey) string {
	return redisKeyPrefix + "{" + subject.String() + "}:doc:" + string(flow)
}

func subjectSetKey(subject domain.SubjectID) string {
	return redisKeyPrefix + "{" + subject.String() + "}:flows"
}

// patchFields flattens a patch into hash field/value pairs, one per
// top-level key.
func patchFields(patch document.Document) ([]any, error) {
	pairs := make([]any, 0, 2*len(patch))
	for _, k := range patch.Keys() {
		raw, err := json.Marshal(patch[k])
		if err != nil {
			return nil, fmt.Errorf("marshal patch field %s: %w", k, err)
		}
		pairs = append(pairs, fieldPrefix+k, string(raw))
	}
	return pairs, nil
}

func (s *RedisStore) Read(ctx context.Context, subject domain.SubjectID, flow domain.FlowKey) (document.Document, error) {
	fields, err := s.client.HGetAll(ctx, docHashKey(subject, flow)).Result()
	if err != nil {
		return nil, fmt.Errorf("read flow document: %w", err)
	}
	if len(fields) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return decodeHashDocument(fields)
}

func (s *RedisStore) MergeUpsert(ctx context.Context, subject domain.SubjectID, flow domain.FlowKey, patch document.Document, category string) error {
	pairs, err := patchFields(patch)
	if err != nil {
		return err
	}
	stages := -1
	if _, ok := patch[document.FieldApprovalStages]; ok {
		if stages, _, err = guardState(patch); err != nil {
			return err
		}
	}
	now := requestcontext.Now(ctx).UTC().Format(time.RFC3339Nano)
	key := docHashKey(subject, flow)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(pairs) > 0 {
			pipe.HSet(ctx, key, pairs...)
		}
		if stages >= 0 {
			pipe.HSet(ctx, key, metaStages, stages)
		}
		pipe.HSetNX(ctx, key, metaCreatedAt, now)
		pipe.HSet(ctx, key, metaUpdatedAt, now)
		if category != "" {
			pipe.HSet(ctx, key, metaCategory, category)
		}
		pipe.SAdd(ctx, subjectSetKey(subject), string(flow))
		return nil
	})
	if err != nil {
		return fmt.Errorf("merge upsert flow document: %w", err)
	}
	return nil
}

func (s *RedisStore) AppendStage(ctx context.Context, subject domain.SubjectID, flow domain.FlowKey, expectedCount int, patch document.Document) error {
	pairs, err := patchFields(patch)
	if err != nil {
		return err
	}
	newCount := expectedCount
	if _, ok := patch[document.FieldApprovalStages]; ok {
		if newCount, _, err = guardState(patch); err != nil {
			return err
		}
	}
	now := requestcontext.Now(ctx).UTC().Format(time.RFC3339Nano)
	args := append([]any{expectedCount, now, newCount}, pairs...)
	res, err := appendStageScript.Run(ctx, s.client, []string{docHashKey(subject, flow)}, args...).Int()
	if err != nil {
		return fmt.Errorf("append approval stage: %w", err)
	}
	switch res {
	case 1:
		return nil
	case -1:
		return sentinel.ErrNotFound
	default:
		return sentinel.ErrConflict
	}
}

func (s *RedisStore) ListBySubject(ctx context.Context, subject domain.SubjectID) ([]Entry, error) {
	flows, err := s.client.SMembers(ctx, subjectSetKey(subject)).Result()
	if err != nil {
		return nil, fmt.Errorf("list flow keys: %w", err)
	}
	sort.Strings(flows)

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(flows))
	for i, flow := range flows {
		cmds[i] = pipe.HGetAll(ctx, docHashKey(subject, domain.FlowKey(flow)))
	}
	if len(flows) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("load flow documents: %w", err)
		}
	}

	entries := make([]Entry, 0, len(flows))
	for i, flow := range flows {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		entry, err := decodeHashEntry(fields)
		if err != nil {
			return nil, fmt.Errorf("flow %s: %w", flow, err)
		}
		entry.SubjectID = subject
		entry.FlowKey = domain.FlowKey(flow)
		entries = append(entries, entry)
	}
	return entries, nil
}

// decodeHashDocument rebuilds the document from its raw JSON fields.
func decodeHashDocument(fields map[string]string) (document.Document, error) {
	obj := make(map[string]json.RawMessage, len(fields))
	for name, raw := range fields {
		if key, ok := strings.CutPrefix(name, fieldPrefix); ok {
			obj[key] = json.RawMessage(raw)
		}
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("assemble flow document: %w", err)
	}
	return document.Unmarshal(raw)
}

func decodeHashEntry(fields map[string]string) (Entry, error) {
	doc, err := decodeHashDocument(fields)
	if err != nil {
		return Entry{}, err
	}
	created, err := parseHashTime(fields, metaCreatedAt)
	if err != nil {
		return Entry{}, err
	}
	updated, err := parseHashTime(fields, metaUpdatedAt)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Category:  fields[metaCategory],
		Document:  doc,
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}

func parseHashTime(fields map[string]string, name string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, fields[name])
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s %s: %w", strings.TrimPrefix(name, metaPrefix), strconv.Quote(fields[name]), err)
	}
	return t, nil
}
