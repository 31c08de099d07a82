package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// TaskEnvelope is a unit of work addressed to one agent. The orchestrator
// never inspects or mutates the payload.
type TaskEnvelope struct {
	Type    string  `json:"type"`
	Payload Payload `json:"payload,omitempty"`
}

// NewTask builds an envelope.
func NewTask(taskType string, payload Payload) TaskEnvelope {
	return TaskEnvelope{Type: taskType, Payload: payload}
}

// Payload is a key/value document carried by envelopes and results.
type Payload map[string]any

// Clone returns a deep copy of p. Nested maps and slices are copied; other
// values are shared.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case Payload:
		return tv.Clone()
	case map[string]any:
		return map[string]any(Payload(tv).Clone())
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = cloneValue(e)
		}
		return out
	case []Payload:
		out := make([]Payload, len(tv))
		for i, e := range tv {
			out[i] = e.Clone()
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(tv))
		for i, e := range tv {
			out[i] = map[string]any(Payload(e).Clone())
		}
		return out
	case []string:
		out := make([]string, len(tv))
		copy(out, tv)
		return out
	default:
		return v
	}
}

// HandlerFunc processes one task payload.
type HandlerFunc func(ctx context.Context, payload Payload) (Payload, error)

// Route binds a task type to its handler. Schema, when set, is a JSON Schema
// document the payload must satisfy before the handler runs.
type Route struct {
	Type   string
	Schema string
	Handle HandlerFunc
}

// DecodePayload converts p into the struct pointed to by dst through its JSON
// form. Decoding failures are reported as invalid payloads.
func DecodePayload(p Payload, dst any) error {
	data, err := json.Marshal(p)
	if err != nil {
		return InvalidPayload("encode: %v", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return InvalidPayload("decode: %v", err)
	}
	return nil
}

// EncodePayload converts a struct into a Payload through its JSON form.
func EncodePayload(v any) (Payload, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return p, nil
}

// String returns the string at key, or "" when absent or not a string.
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// RequireString returns the non-empty string at key.
func (p Payload) RequireString(key string) (string, error) {
	s, ok := p[key].(string)
	if !ok || s == "" {
		return "", InvalidPayload("%s is required", key)
	}
	return s, nil
}

// Float returns the number at key, converting the integer types JSON decoding
// and Go literals produce. ok is false when the key is absent or not numeric.
func (p Payload) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// FloatOr returns the number at key or def.
func (p Payload) FloatOr(key string, def float64) float64 {
	if f, ok := p.Float(key); ok {
		return f
	}
	return def
}

// Map returns the nested document at key.
func (p Payload) Map(key string) (Payload, bool) {
	switch v := p[key].(type) {
	case Payload:
		return v, true
	case map[string]any:
		return Payload(v), true
	default:
		return nil, false
	}
}

// Timestamp returns the RFC 3339 time at key.
func (p Payload) Timestamp(key string) (time.Time, error) {
	s, err := p.RequireString(key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, InvalidPayload("%s: %v", key, err)
	}
	return t, nil
}
