// Package gate implements the durable pending-gate payload stored on the
// session row: the current gate descriptor, and a bounded queue of user
// responses that arrived while the pipeline was busy. The payload is plain
// JSON (a map) so older rows written by previous schema revisions remain
// readable; legacy single-slot fields are folded into the queue on read.
package gate

import (
	"encoding/json"
	"time"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/config"
)

// TruncationMarker terminates any queued response body that exceeded the
// per-item byte cap. Clients surface it verbatim.
const TruncationMarker = "[truncated for size]"

// Payload field names.
const (
	fieldGate        = "gate"
	fieldCreatedAt   = "created_at"
	fieldRespondedAt = "responded_at"
	fieldResponse    = "response"
	fieldQueue       = "response_queue"

	// Legacy single-slot buffered response fields, folded into the queue
	// on read and stripped on write.
	legacyQueuedGate     = "queued_gate"
	legacyQueuedResponse = "queued_response"
	legacyQueuedAt       = "queued_at"
)

// Descriptor is the current gate the pipeline is suspended on.
type Descriptor struct {
	Gate        string
	CreatedAt   time.Time
	RespondedAt *time.Time
	Response    any
}

// QueuedResponse is one buffered user response awaiting its gate.
type QueuedResponse struct {
	Gate        string `json:"gate"`
	Response    any    `json:"response"`
	RespondedAt string `json:"responded_at"`
}

// Parse normalizes a raw pending-gate payload. Any non-object input
// (nil, arrays, scalars, malformed JSON) yields an empty map.
func Parse(raw any) map[string]any {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = val
		}
		return out
	case []byte:
		return parseJSON(v)
	case string:
		return parseJSON([]byte(v))
	case json.RawMessage:
		return parseJSON(v)
	default:
		return map[string]any{}
	}
}

func parseJSON(b []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

// CurrentGate extracts the current gate descriptor, or nil when no gate is
// pending.
func CurrentGate(payload map[string]any) *Descriptor {
	name, _ := payload[fieldGate].(string)
	if name == "" {
		return nil
	}
	d := &Descriptor{Gate: name, Response: payload[fieldResponse]}
	if ts, ok := payload[fieldCreatedAt].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			d.CreatedAt = t
		}
	}
	if ts, ok := payload[fieldRespondedAt].(string); ok && ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			d.RespondedAt = &t
		}
	}
	return d
}

// WithPendingGate returns a payload with a fresh unanswered gate descriptor,
// preserving the buffered response queue.
func WithPendingGate(payload map[string]any, gateName string, at time.Time) map[string]any {
	out := Parse(payload)
	out[fieldGate] = gateName
	out[fieldCreatedAt] = at.UTC().Format(time.RFC3339Nano)
	delete(out, fieldRespondedAt)
	delete(out, fieldResponse)
	return out
}

// WithResponse marks the current gate answered. Answered gates stay
// answered: if responded_at is already set, the payload is returned
// unchanged and ok is false (idempotent second response).
func WithResponse(payload map[string]any, response any, at time.Time) (out map[string]any, ok bool) {
	out = Parse(payload)
	if rt, _ := out[fieldRespondedAt].(string); rt != "" {
		return out, false
	}
	out[fieldRespondedAt] = at.UTC().Format(time.RFC3339Nano)
	out[fieldResponse] = response
	return out, true
}

// ClearGate removes the current gate descriptor, preserving the queue.
func ClearGate(payload map[string]any) map[string]any {
	out := Parse(payload)
	delete(out, fieldGate)
	delete(out, fieldCreatedAt)
	delete(out, fieldRespondedAt)
	delete(out, fieldResponse)
	return out
}

// GetResponseQueue returns the buffered responses with legacy single-slot
// fields folded in, keeping only the most recent response per gate and
// enforcing the configured caps.
func GetResponseQueue(payload map[string]any, cfg *config.GateQueueConfig) []QueuedResponse {
	p := Parse(payload)
	var queue []QueuedResponse

	if raw, ok := p[fieldQueue].([]any); ok {
		for _, entry := range raw {
			if m, ok := entry.(map[string]any); ok {
				q := QueuedResponse{Response: m[fieldResponse]}
				q.Gate, _ = m[fieldGate].(string)
				q.RespondedAt, _ = m[fieldRespondedAt].(string)
				if q.Gate != "" {
					queue = append(queue, q)
				}
			}
		}
	} else if raw, ok := p[fieldQueue].([]QueuedResponse); ok {
		queue = append(queue, raw...)
	}

	// Fold the legacy single-slot response in as the oldest entry.
	if lg, _ := p[legacyQueuedGate].(string); lg != "" {
		at, _ := p[legacyQueuedAt].(string)
		queue = append([]QueuedResponse{{
			Gate:        lg,
			Response:    p[legacyQueuedResponse],
			RespondedAt: at,
		}}, queue...)
	}

	return enforceCaps(dedupeByGate(queue), cfg)
}

// WithResponseQueue returns a new payload with the queue set (caps applied)
// and all legacy single-slot fields stripped.
func WithResponseQueue(payload map[string]any, queue []QueuedResponse, cfg *config.GateQueueConfig) map[string]any {
	out := Parse(payload)
	delete(out, legacyQueuedGate)
	delete(out, legacyQueuedResponse)
	delete(out, legacyQueuedAt)

	bounded := enforceCaps(dedupeByGate(queue), cfg)
	entries := make([]any, 0, len(bounded))
	for _, q := range bounded {
		entries = append(entries, map[string]any{
			fieldGate:        q.Gate,
			fieldResponse:    q.Response,
			fieldRespondedAt: q.RespondedAt,
		})
	}
	out[fieldQueue] = entries
	return out
}

// AppendQueuedResponse buffers a response for a gate the pipeline has not
// reached yet.
func AppendQueuedResponse(payload map[string]any, gateName string, response any, at time.Time, cfg *config.GateQueueConfig) map[string]any {
	queue := GetResponseQueue(payload, cfg)
	queue = append(queue, QueuedResponse{
		Gate:        gateName,
		Response:    response,
		RespondedAt: at.UTC().Format(time.RFC3339Nano),
	})
	return WithResponseQueue(payload, queue, cfg)
}

// TakeQueuedResponse removes and returns the buffered response for gateName,
// if any.
func TakeQueuedResponse(payload map[string]any, gateName string, cfg *config.GateQueueConfig) (map[string]any, *QueuedResponse) {
	queue := GetResponseQueue(payload, cfg)
	for i, q := range queue {
		if q.Gate == gateName {
			taken := q
			queue = append(queue[:i], queue[i+1:]...)
			return WithResponseQueue(payload, queue, cfg), &taken
		}
	}
	return Parse(payload), nil
}

// dedupeByGate keeps only the most recent (last-appended) response per gate,
// preserving the relative order of the survivors.
func dedupeByGate(queue []QueuedResponse) []QueuedResponse {
	last := make(map[string]int, len(queue))
	for i, q := range queue {
		last[q.Gate] = i
	}
	out := queue[:0:0]
	for i, q := range queue {
		if last[q.Gate] == i {
			out = append(out, q)
		}
	}
	return out
}

// enforceCaps applies the three bounds in a fixed order: per-item responses
// over the item byte cap are truncated first, then the oldest entries are
// evicted until the count cap holds, then until the total byte cap holds.
func enforceCaps(queue []QueuedResponse, cfg *config.GateQueueConfig) []QueuedResponse {
	if cfg == nil {
		cfg = config.DefaultGateQueueConfig()
	}

	for i := range queue {
		if itemSize(queue[i]) > cfg.MaxBufferedResponseItemBytes {
			queue[i].Response = truncateResponse(queue[i].Response, cfg.MaxBufferedResponseItemBytes)
		}
	}

	if over := len(queue) - cfg.MaxBufferedResponses; over > 0 {
		queue = queue[over:]
	}

	for len(queue) > 1 && totalSize(queue) > cfg.MaxBufferedResponsesTotalBytes {
		queue = queue[1:]
	}
	return queue
}

func itemSize(q QueuedResponse) int {
	b, err := json.Marshal(q)
	if err != nil {
		return 0
	}
	return len(b)
}

func totalSize(queue []QueuedResponse) int {
	b, err := json.Marshal(queue)
	if err != nil {
		return 0
	}
	return len(b)
}

// truncateResponse replaces an oversized response with a string holding a
// prefix of its JSON form, ending in the truncation marker.
func truncateResponse(response any, itemCap int) string {
	b, err := json.Marshal(response)
	if err != nil {
		return TruncationMarker
	}
	keep := itemCap - len(TruncationMarker) - 128 // envelope headroom for gate + timestamp fields
	if keep < 0 {
		keep = 0
	}
	if keep > len(b) {
		keep = len(b)
	}
	return string(b[:keep]) + TruncationMarker
}
