package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/config"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/events"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/models"
)

func stageStartEvent() events.Event {
	return events.Event{Type: events.TypeStageStart, Payload: events.StageStartPayload{
		Stage: models.StageIntake, Message: "Analyzing your resume and the target role",
	}}
}

// streamRequest performs a GET against the SSE endpoint with the given
// context; a cancelled context makes the handler return right after the
// replay frames.
func streamRequest(ts *testServer, ctx context.Context, sessionID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/sessions/"+sessionID+"/sse", nil).WithContext(ctx)
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

func cancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func TestStreamConnectAndRestore(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) { cfg.SSE.RestoreMessageLimit = 2 })
	ts.sessions.records["s1"].CurrentPhase = "section_writing"
	ts.sessions.records["s1"].Messages = []models.ChatMessage{
		{Role: "user", Content: "oldest message"},
		{Role: "tool_result", Content: "internal tool payload"},
		{Role: "assistant", Content: "working on the blueprint"},
		{Role: "user", Content: "looks good"},
	}

	rec := streamRequest(ts, cancelledContext(), "s1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event: connected")
	assert.Contains(t, body, "event: session_restore")
	assert.Contains(t, body, `"current_phase":"section_writing"`)

	assert.Contains(t, body, "working on the blueprint")
	assert.Contains(t, body, "looks good")
	assert.NotContains(t, body, "internal tool payload", "tool results are excluded from replay")
	assert.NotContains(t, body, "oldest message", "replay is capped to the configured limit")
}

func TestStreamUnknownSession(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := streamRequest(ts, context.Background(), "nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamPerUserCap(t *testing.T) {
	ts := newTestServer(t, nil)
	for i := 0; i < ts.cfg.SSE.MaxPerUser; i++ {
		_, err := ts.streams.Subscribe("s1", "u1")
		require.NoError(t, err)
	}

	rec := streamRequest(ts, cancelledContext(), "s1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "per-user stream limit")
}

func TestStreamGlobalCap(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.SSE.MaxPerUser = 1
		cfg.SSE.MaxTotalConnections = 1
	})
	_, err := ts.streams.Subscribe("s1", "someone-else")
	require.NoError(t, err)

	rec := streamRequest(ts, cancelledContext(), "s1")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStreamConnectRateLimited(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) { cfg.Guards.SSEConnectRatePerMinute = 1 })

	first := streamRequest(ts, cancelledContext(), "s1")
	require.Equal(t, http.StatusOK, first.Code)

	second := streamRequest(ts, cancelledContext(), "s1")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), "connection attempts")
}

func TestStreamUnsubscribesOnDisconnect(t *testing.T) {
	ts := newTestServer(t, nil)
	streamRequest(ts, cancelledContext(), "s1")
	assert.Equal(t, 0, ts.streams.ActiveStreams())
}

func TestHeartbeatTouchesLivenessWhileRunning(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) { cfg.SSE.HeartbeatInterval = 5 * time.Millisecond })
	ts.running.Add("s1")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	rec := streamRequest(ts, ctx, "s1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event: heartbeat")
	assert.Greater(t, ts.sessions.touchCount(), 0)
}

func TestHeartbeatSkipsLivenessWhenRunFinished(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) { cfg.SSE.HeartbeatInterval = 5 * time.Millisecond })
	// Session is not in the running set: heartbeats keep flowing but no
	// liveness write may occur.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	rec := streamRequest(ts, ctx, "s1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event: heartbeat")
	assert.Equal(t, 0, ts.sessions.touchCount())
}

func TestStreamForwardsPublishedEvents(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) { cfg.SSE.HeartbeatInterval = time.Hour })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- streamRequest(ts, ctx, "s1") }()

	require.Eventually(t, func() bool { return ts.streams.SessionStreams("s1") == 1 },
		time.Second, 5*time.Millisecond)
	ts.streams.Publish("s1", stageStartEvent())

	time.Sleep(20 * time.Millisecond)
	cancel()

	rec := <-done
	body := rec.Body.String()
	assert.Contains(t, body, "event: stage_start")
	assert.Contains(t, body, `"stage":"intake"`)
}
