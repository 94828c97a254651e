package gate

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/config"
)

func testQueueConfig() *config.GateQueueConfig {
	return &config.GateQueueConfig{
		MaxBufferedResponses:           50,
		MaxBufferedResponsesTotalBytes: 256 * 1024,
		MaxBufferedResponseItemBytes:   16 * 1024,
	}
}

func TestParseNonObjectInputs(t *testing.T) {
	assert.Empty(t, Parse(nil))
	assert.Empty(t, Parse("not json"))
	assert.Empty(t, Parse([]byte(`[1,2,3]`)))
	assert.Empty(t, Parse(42))
	assert.Empty(t, Parse([]byte(`"scalar"`)))

	m := Parse(map[string]any{"gate": "architect_review"})
	assert.Equal(t, "architect_review", m["gate"])
}

func TestParseCopiesInput(t *testing.T) {
	in := map[string]any{"gate": "g"}
	out := Parse(in)
	out["gate"] = "other"
	assert.Equal(t, "g", in["gate"])
}

func TestPendingGateRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	p := WithPendingGate(nil, "architect_review", now)

	d := CurrentGate(p)
	require.NotNil(t, d)
	assert.Equal(t, "architect_review", d.Gate)
	assert.Nil(t, d.RespondedAt)
	assert.WithinDuration(t, now, d.CreatedAt, time.Second)
}

func TestWithResponseIsIdempotent(t *testing.T) {
	p := WithPendingGate(nil, "architect_review", time.Now())

	p, ok := WithResponse(p, map[string]any{"approved": true}, time.Now())
	require.True(t, ok)

	first := CurrentGate(p)
	require.NotNil(t, first.RespondedAt)

	// A second response for the same gate is silently dropped.
	p2, ok := WithResponse(p, map[string]any{"approved": false}, time.Now().Add(time.Minute))
	assert.False(t, ok)

	second := CurrentGate(p2)
	assert.Equal(t, *first.RespondedAt, *second.RespondedAt)
	assert.Equal(t, first.Response, second.Response)
}

func TestLegacySingleSlotFolding(t *testing.T) {
	payload := map[string]any{
		"queued_gate":     "questionnaire_1",
		"queued_response": map[string]any{"answers": []any{"a"}},
		"queued_at":       time.Now().UTC().Format(time.RFC3339Nano),
		"response_queue": []any{
			map[string]any{"gate": "section_review_summary", "response": true, "responded_at": "2026-01-01T00:00:00Z"},
		},
	}

	queue := GetResponseQueue(payload, testQueueConfig())
	require.Len(t, queue, 2)
	assert.Equal(t, "questionnaire_1", queue[0].Gate, "legacy entry folds in as oldest")
	assert.Equal(t, "section_review_summary", queue[1].Gate)

	// Writing strips legacy fields.
	out := WithResponseQueue(payload, queue, testQueueConfig())
	assert.NotContains(t, out, "queued_gate")
	assert.NotContains(t, out, "queued_response")
	assert.NotContains(t, out, "queued_at")
}

func TestMostRecentResponsePerGateWins(t *testing.T) {
	cfg := testQueueConfig()
	var queue []QueuedResponse
	for i := 0; i < 3; i++ {
		queue = append(queue, QueuedResponse{
			Gate:        "architect_review",
			Response:    i,
			RespondedAt: fmt.Sprintf("2026-01-01T00:00:0%dZ", i),
		})
	}
	p := WithResponseQueue(nil, queue, cfg)
	got := GetResponseQueue(p, cfg)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Response)
}

func TestQueueCountCapEvictsOldest(t *testing.T) {
	cfg := testQueueConfig()
	cfg.MaxBufferedResponses = 5

	var queue []QueuedResponse
	for i := 0; i < 12; i++ {
		queue = append(queue, QueuedResponse{
			Gate:        fmt.Sprintf("gate_%d", i),
			Response:    "ok",
			RespondedAt: "2026-01-01T00:00:00Z",
		})
	}

	p := WithResponseQueue(nil, queue, cfg)
	got := GetResponseQueue(p, cfg)
	require.Len(t, got, 5)
	assert.Equal(t, "gate_7", got[0].Gate, "oldest entries evicted first")
	assert.Equal(t, "gate_11", got[4].Gate)
}

func TestOversizedItemTruncatedWithMarker(t *testing.T) {
	cfg := testQueueConfig()
	cfg.MaxBufferedResponseItemBytes = 512

	big := strings.Repeat("x", 4096)
	p := AppendQueuedResponse(nil, "questionnaire_1", big, time.Now(), cfg)

	got := GetResponseQueue(p, cfg)
	require.Len(t, got, 1)
	s, ok := got[0].Response.(string)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(s, TruncationMarker))
	assert.LessOrEqual(t, itemSize(got[0]), cfg.MaxBufferedResponseItemBytes)
}

func TestQueueEvictionUnderBothCaps(t *testing.T) {
	// 60 responses of ~80KB each against the default caps: the queue must
	// respect both the count cap and the total byte cap, oldest dropped.
	cfg := testQueueConfig()
	payload := map[string]any{}
	big := strings.Repeat("e", 80*1024)
	for i := 0; i < 60; i++ {
		payload = AppendQueuedResponse(payload, fmt.Sprintf("gate_%d", i), big, time.Now(), cfg)
	}

	got := GetResponseQueue(payload, cfg)
	assert.LessOrEqual(t, len(got), cfg.MaxBufferedResponses)

	raw, err := json.Marshal(got)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(raw), cfg.MaxBufferedResponsesTotalBytes)

	// Newest entry survives.
	found := false
	for _, q := range got {
		if q.Gate == "gate_59" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestTakeQueuedResponse(t *testing.T) {
	cfg := testQueueConfig()
	p := AppendQueuedResponse(nil, "architect_review", map[string]any{"approved": true}, time.Now(), cfg)
	p = AppendQueuedResponse(p, "section_review_summary", true, time.Now(), cfg)

	p, taken := TakeQueuedResponse(p, "architect_review", cfg)
	require.NotNil(t, taken)
	assert.Equal(t, "architect_review", taken.Gate)

	rest := GetResponseQueue(p, cfg)
	require.Len(t, rest, 1)
	assert.Equal(t, "section_review_summary", rest[0].Gate)

	_, missing := TakeQueuedResponse(p, "architect_review", cfg)
	assert.Nil(t, missing)
}

func TestClearGatePreservesQueue(t *testing.T) {
	cfg := testQueueConfig()
	p := WithPendingGate(nil, "architect_review", time.Now())
	p = AppendQueuedResponse(p, "questionnaire_1", "a", time.Now(), cfg)

	p = ClearGate(p)
	assert.Nil(t, CurrentGate(p))
	assert.Len(t, GetResponseQueue(p, cfg), 1)
}
