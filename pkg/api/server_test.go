package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/config"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/events"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/gate"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/guard"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/models"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/services"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/session"
)

type fakeSessions struct {
	mu      sync.Mutex
	records map[string]*models.SessionRecord
	touches int
}

func (f *fakeSessions) Get(_ context.Context, id string) (*models.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, services.ErrNotFound)
	}
	return rec, nil
}

func (f *fakeSessions) TouchLiveness(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches++
	return nil
}

func (f *fakeSessions) touchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.touches
}

type gateCall struct {
	gate     string
	response any
}

type fakeGates struct {
	mu     sync.Mutex
	status gate.DeliveryStatus
	err    error
	calls  []gateCall
}

func (f *fakeGates) Respond(_ context.Context, _ string, gateName string, response any) (gate.DeliveryStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, gateCall{gate: gateName, response: response})
	if f.err != nil {
		return "", f.err
	}
	return f.status, nil
}

type fakeQuestions struct {
	mu       sync.Mutex
	batches  [][]models.QuestionAnswer
	deferred [][]string
}

func (f *fakeQuestions) UpsertBatch(_ context.Context, answers []models.QuestionAnswer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, answers)
	return nil
}

func (f *fakeQuestions) Defer(_ context.Context, _ string, questionIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deferred = append(f.deferred, questionIDs)
	return nil
}

type fakeArtifacts struct {
	mu       sync.Mutex
	appended []*models.WorkflowArtifact
	latest   map[string]*models.WorkflowArtifact // artifact type -> stored artifact
}

func (f *fakeArtifacts) Append(_ context.Context, a *models.WorkflowArtifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.Version = len(f.appended) + 1
	f.appended = append(f.appended, a)
	return nil
}

func (f *fakeArtifacts) LatestByType(_ context.Context, sessionID, artifactType string) (*models.WorkflowArtifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.latest[artifactType]
	if !ok {
		return nil, fmt.Errorf("artifact %s for session %s: %w", artifactType, sessionID, services.ErrNotFound)
	}
	return a, nil
}

type fakeProcessor struct {
	mu       sync.Mutex
	contents []string
}

func (f *fakeProcessor) Process(_ context.Context, _ *models.SessionRecord, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contents = append(f.contents, content)
	return nil
}

func (f *fakeProcessor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.contents)
}

type fakeStarter struct {
	mu       sync.Mutex
	requests []*models.StartRequest
}

func (f *fakeStarter) Start(_ context.Context, req *models.StartRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeStarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type testServer struct {
	e         *echo.Echo
	srv       *Server
	cfg       *config.Config
	sessions  *fakeSessions
	gates     *fakeGates
	questions *fakeQuestions
	artifacts *fakeArtifacts
	processor *fakeProcessor
	starter   *fakeStarter
	streams   *events.StreamManager
	running   *session.RunningSet
	tracker   *session.ProcessingTracker
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := &config.Config{
		HTTPPort:   "8080",
		Pipeline:   config.DefaultPipelineConfig(),
		SSE:        config.DefaultSSEConfig(),
		Processing: config.DefaultProcessingConfig(),
		Guards:     config.DefaultGuardConfig(),
		GateQueue:  config.DefaultGateQueueConfig(),
		LLM:        config.DefaultLLMConfig(),
		Pricing:    config.DefaultPricingConfig(),
		Features:   &config.FeatureGates{BlueprintApproval: true},
	}
	if mutate != nil {
		mutate(cfg)
	}

	ts := &testServer{
		cfg: cfg,
		sessions: &fakeSessions{records: map[string]*models.SessionRecord{
			"s1": {ID: "s1", UserID: "u1", Status: models.SessionActive, CurrentPhase: "intake"},
		}},
		gates:     &fakeGates{status: gate.Delivered},
		questions: &fakeQuestions{},
		artifacts: &fakeArtifacts{latest: map[string]*models.WorkflowArtifact{}},
		processor: &fakeProcessor{},
		starter:   &fakeStarter{},
		streams:   events.NewStreamManager(cfg.SSE),
		running:   session.NewRunningSet(),
		tracker:   session.NewProcessingTracker(cfg.Processing),
	}
	ts.srv = NewServer(cfg, Deps{
		Sessions:  ts.sessions,
		Gates:     ts.gates,
		Questions: ts.questions,
		Artifacts: ts.artifacts,
		Processor: ts.processor,
		Pipeline:  ts.starter,
		Streams:   ts.streams,
		Running:   ts.running,
		Tracker:   ts.tracker,
		Limiter: guard.NewLocalRateLimiter(
			cfg.Guards.MessageRatePerMinute, cfg.Guards.SSEConnectRatePerMinute, cfg.Guards.MaxRateUsers),
		Idem: guard.NewIdempotencyCache(
			cfg.Guards.IdempotencyMaxEntries, cfg.Guards.IdempotencyTTL, cfg.Guards.IdempotencyKeyMaxLen),
	})
	ts.e = echo.New()
	ts.srv.Routes(ts.e)
	return ts
}

// do performs one request against the routed server as user u1.
func (ts *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	e.Use(securityHeaders())
	e.GET("/test", func(c *echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
}

func TestBearerAuth(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) { cfg.AuthToken = "secret" })

	req := httptest.NewRequest(http.MethodPost, "/sessions/s1/gate-response",
		bytes.NewReader([]byte(`{"gate":"architect_review","response":true}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "missing token is rejected")

	req = httptest.NewRequest(http.MethodPost, "/sessions/s1/gate-response",
		bytes.NewReader([]byte(`{"gate":"architect_review","response":true}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "wrong token is rejected")

	req = httptest.NewRequest(http.MethodPost, "/sessions/s1/gate-response",
		bytes.NewReader([]byte(`{"gate":"architect_review","response":true}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthIsUnauthenticated(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) { cfg.AuthToken = "secret" })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestGateResponseDelivery(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/sessions/s1/gate-response",
		map[string]any{"gate": "architect_review", "response": map[string]any{"approved": true}})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "delivered", body["status"])
	assert.Equal(t, "architect_review", body["gate"])
	require.Len(t, ts.gates.calls, 1)
	assert.Equal(t, "architect_review", ts.gates.calls[0].gate)
}

func TestGateResponseRequiresGateName(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodPost, "/sessions/s1/gate-response", map[string]any{"response": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGateResponseBufferedStatus(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.gates.status = gate.Buffered

	rec := ts.do(http.MethodPost, "/sessions/s1/gate-response",
		map[string]any{"gate": "section_review_summary", "response": true})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "buffered", decodeBody(t, rec)["status"])
}
