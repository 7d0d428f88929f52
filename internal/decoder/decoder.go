// Package decoder turns Debezium envelopes delivered by the broker into
// change records.
package decoder

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/syntrixbase/cdc-stitcher/internal/broker"
	"github.com/syntrixbase/cdc-stitcher/internal/change"
)

const (
	// PrefixContext marks a logical message carrying application context.
	PrefixContext = "_bemi"
	// PrefixHeartbeat marks a liveness-only logical message.
	PrefixHeartbeat = "_bemi_heartbeat"

	// UnavailableValue is written by the capture tool in place of values it
	// did not read, such as unchanged TOAST columns.
	UnavailableValue = "__bemi_unavailable_value"
)

// ErrMalformedRecord is returned for envelopes that cannot be turned into a record.
var ErrMalformedRecord = errors.New("malformed record")

// Decoder decodes broker messages.
type Decoder struct {
	now func() time.Time
}

// New returns a decoder stamping records with the wall clock.
func New() *Decoder {
	return &Decoder{now: time.Now}
}

// NewWithClock returns a decoder stamping records with now.
func NewWithClock(now func() time.Time) *Decoder {
	return &Decoder{now: now}
}

// Decode converts msg into a record. It returns nil without error when the
// envelope is a logical message that does not belong to us.
func (d *Decoder) Decode(msg broker.Message) (*change.Record, error) {
	env, err := parseEnvelope(msg.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: sequence %d: %w", ErrMalformedRecord, msg.Sequence, err)
	}

	prefix := env.prefix()
	if prefix != "" && prefix != PrefixContext && prefix != PrefixHeartbeat {
		return nil, nil
	}

	kind, err := change.ParseKind(env.Op)
	if err != nil {
		return nil, fmt.Errorf("%w: sequence %d: %w", ErrMalformedRecord, msg.Sequence, err)
	}
	if kind == change.KindAnnotation && prefix == "" {
		return nil, nil
	}

	position, err := parseLSN(env.Source.LSN)
	if err != nil {
		return nil, fmt.Errorf("%w: sequence %d: %w", ErrMalformedRecord, msg.Sequence, err)
	}

	before := orEmpty(env.Before)
	after := orEmpty(env.After)

	rec := &change.Record{
		ShardKey:      msg.Subject,
		Sequence:      msg.Sequence,
		Kind:          kind,
		Position:      position,
		TransactionID: env.Source.TxID,
		Database:      env.Source.DB,
		Schema:        env.Source.Schema,
		Table:         env.Source.Table,
		Before:        before,
		After:         after,
		Context:       map[string]any{},
		CommittedAt:   time.UnixMilli(env.Source.TsMs).UTC(),
		ObservedAt:    time.UnixMilli(env.TsMs).UTC(),
		CreatedAt:     d.now(),
	}

	switch kind {
	case change.KindCreate, change.KindUpdate:
		rec.PrimaryKey = stringify(after["id"])
	case change.KindDelete:
		rec.PrimaryKey = stringify(before["id"])
	case change.KindTruncate:
	case change.KindAnnotation:
		if prefix == PrefixHeartbeat {
			rec.Heartbeat = true
			break
		}
		ctx, err := decodeContext(env.Message.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: sequence %d: %w", ErrMalformedRecord, msg.Sequence, err)
		}
		rec.Context = ctx
	case change.KindUnknown:
		return nil, fmt.Errorf("%w: sequence %d: %w", ErrMalformedRecord, msg.Sequence, change.ErrUnknownOperation)
	}

	if err := normalizeUnavailable(before, after); err != nil {
		return nil, fmt.Errorf("%w: %s#%s %w", ErrMalformedRecord, rec.Table, rec.PrimaryKey, err)
	}
	return rec, nil
}

// decodeContext reads base64 encoded JSON. An explicit null yields an empty context.
func decodeContext(content string) (map[string]any, error) {
	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("invalid context encoding: %w", err)
	}

	var ctx map[string]any
	if err := json.Unmarshal(raw, &ctx); err != nil {
		return nil, fmt.Errorf("invalid context payload: %w", err)
	}
	if ctx == nil {
		ctx = map[string]any{}
	}
	return ctx, nil
}

// normalizeUnavailable replaces unavailable values with the value on the
// other side of the change. An unavailable before value needs an available
// after value. An unavailable after value with no before counterpart is
// left untouched.
func normalizeUnavailable(before, after map[string]any) error {
	keys := make([]string, 0, len(before)+len(after))
	for k := range before {
		keys = append(keys, k)
	}
	for k := range after {
		if _, ok := before[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	for _, key := range keys {
		bv, inBefore := before[key]
		av, inAfter := after[key]
		beforeMissing := inBefore && isUnavailable(bv)
		afterMissing := inAfter && isUnavailable(av)

		switch {
		case beforeMissing && afterMissing:
			return fmt.Errorf("(%s): before and after values are unavailable", key)
		case beforeMissing && !inAfter:
			return fmt.Errorf("(%s): before and after values are unavailable", key)
		case beforeMissing:
			before[key] = av
		case afterMissing && inBefore:
			after[key] = bv
		}
	}
	return nil
}

func isUnavailable(v any) bool {
	switch val := v.(type) {
	case string:
		return val == UnavailableValue
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok && s == UnavailableValue {
				return true
			}
		}
	}
	return false
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
