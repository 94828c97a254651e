package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/events"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/gate"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/models"
)

type fakeResponder struct {
	mu     sync.Mutex
	gates  []string
	values []any
}

func (f *fakeResponder) Respond(_ context.Context, _ string, gateName string, response any) (gate.DeliveryStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gates = append(f.gates, gateName)
	f.values = append(f.values, response)
	return gate.Delivered, nil
}

type fakeAppender struct {
	mu       sync.Mutex
	appended []*models.WorkflowArtifact
}

func (f *fakeAppender) Append(_ context.Context, a *models.WorkflowArtifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.Version = len(f.appended) + 1
	f.appended = append(f.appended, a)
	return nil
}

type fakeCheckpointer struct {
	mu    sync.Mutex
	saved []*models.Checkpoint
	err   error
}

func (f *fakeCheckpointer) SaveCheckpoint(_ context.Context, _ string, cp *models.Checkpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	saved := *cp
	saved.Messages = append([]models.ChatMessage(nil), cp.Messages...)
	f.saved = append(f.saved, &saved)
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeResponder, *fakeAppender) {
	t.Helper()
	cfg := testConfig()
	coord, _ := newTestCoordinator(cfg, happyAgents)
	responder := &fakeResponder{}
	appender := &fakeAppender{}
	svc := NewService(coord, events.NewStreamManager(cfg.SSE), nil, nil, responder, nil, appender)
	return svc, responder, appender
}

func TestStartRecordsStartRequestAndRuns(t *testing.T) {
	svc, _, appender := newTestService(t)

	err := svc.Start(context.Background(), &models.StartRequest{
		SessionID:      "s1",
		UserID:         "u1",
		RawResumeText:  "resume text",
		JobDescription: "job description",
		CompanyName:    "TechCorp",
	})

	require.NoError(t, err)
	require.Len(t, appender.appended, 1)
	assert.Equal(t, StartRequestArtifactType, appender.appended[0].ArtifactType)
	assert.Contains(t, string(appender.appended[0].Payload), "TechCorp")
}

func TestProcessStartRequestMessage(t *testing.T) {
	svc, responder, appender := newTestService(t)
	sess := &models.SessionRecord{ID: "s1", UserID: "u1"}

	err := svc.Process(context.Background(), sess,
		`{"raw_resume_text":"resume text","job_description":"jd","company_name":"TechCorp"}`)

	require.NoError(t, err)
	assert.Len(t, appender.appended, 1, "a start-request message launches a run")
	assert.Empty(t, responder.gates)
}

func TestProcessRoutesTextToPendingGate(t *testing.T) {
	svc, responder, appender := newTestService(t)
	sess := &models.SessionRecord{ID: "s1", UserID: "u1", PendingGate: "questionnaire_core"}

	err := svc.Process(context.Background(), sess, "my biggest win was the migration")

	require.NoError(t, err)
	require.Equal(t, []string{"questionnaire_core"}, responder.gates)
	assert.Equal(t, "my biggest win was the migration", responder.values[0])
	assert.Empty(t, appender.appended)
}

func TestProcessRejectsUnroutableMessage(t *testing.T) {
	svc, _, _ := newTestService(t)
	sess := &models.SessionRecord{ID: "s1", UserID: "u1"}

	err := svc.Process(context.Background(), sess, "free text with no pending gate")
	require.Error(t, err)
}

func TestProcessCheckpointsUserTurn(t *testing.T) {
	cfg := testConfig()
	coord, _ := newTestCoordinator(cfg, happyAgents)
	responder := &fakeResponder{}
	cpr := &fakeCheckpointer{}
	svc := NewService(coord, events.NewStreamManager(cfg.SSE), cpr, nil, responder, nil, nil)
	sess := &models.SessionRecord{
		ID: "s1", UserID: "u1",
		PendingGate: "questionnaire_core", CurrentPhase: "section_writing",
	}

	err := svc.Process(context.Background(), sess, "my answer")
	require.NoError(t, err)

	require.Len(t, cpr.saved, 1)
	cp := cpr.saved[0]
	require.Len(t, cp.Messages, 1)
	assert.Equal(t, "user", cp.Messages[0].Role)
	assert.Equal(t, "my answer", cp.Messages[0].Content)
	assert.Equal(t, "section_writing", cp.CurrentPhase)
}

func TestProcessCheckpointFailureEmitsRetryErrorEvent(t *testing.T) {
	cfg := testConfig()
	coord, _ := newTestCoordinator(cfg, happyAgents)
	streams := events.NewStreamManager(cfg.SSE)
	stream, err := streams.Subscribe("s1", "u1")
	require.NoError(t, err)
	defer streams.Unsubscribe(stream)

	cpr := &fakeCheckpointer{err: errors.New("db down")}
	svc := NewService(coord, streams, cpr, nil, &fakeResponder{}, nil, nil)
	sess := &models.SessionRecord{ID: "s1", UserID: "u1", PendingGate: "questionnaire_core"}

	err = svc.Process(context.Background(), sess, "my answer")
	require.NoError(t, err, "checkpoint failures are non-fatal")

	select {
	case ev := <-stream.Events():
		assert.Equal(t, events.TypeError, ev.Type)
		assert.Contains(t, ev.Payload.(events.ErrorPayload).Message, "retry")
	default:
		t.Fatal("expected an error event on the session stream")
	}
}
