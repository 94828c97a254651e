package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/events"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/models"
)

func TestBatchSubmitPersistsAndForwardsToGate(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.sessions.records["s1"].PendingGate = "questionnaire_core"

	rec := ts.do(http.MethodPost, "/workflow/s1/questions/batch-submit", map[string]any{
		"answers": []map[string]any{
			{"question_id": "q1", "answer": "Led a platform migration", "category": "impact"},
			{"question_id": "q2", "skipped": true},
		},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "saved", body["status"])
	assert.Equal(t, "delivered", body["delivery"])

	require.Len(t, ts.questions.batches, 1)
	batch := ts.questions.batches[0]
	require.Len(t, batch, 2)
	assert.Equal(t, "s1", batch[0].SessionID)
	assert.Equal(t, "q1", batch[0].QuestionID)
	assert.True(t, batch[1].Skipped)

	require.Len(t, ts.gates.calls, 1)
	assert.Equal(t, "questionnaire_core", ts.gates.calls[0].gate)
}

func TestBatchSubmitWithoutPendingGateJustPersists(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/workflow/s1/questions/batch-submit", map[string]any{
		"answers": []map[string]any{{"question_id": "q1", "answer": "yes"}},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, ts.questions.batches, 1)
	assert.Empty(t, ts.gates.calls)
}

func TestBatchSubmitValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/workflow/s1/questions/batch-submit", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/workflow/s1/questions/batch-submit", map[string]any{
		"answers": []map[string]any{{"answer": "missing id"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeferQuestions(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/workflow/s1/questions/defer",
		map[string]any{"question_ids": []string{"q1", "q2"}})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ts.questions.deferred, 1)
	assert.Equal(t, []string{"q1", "q2"}, ts.questions.deferred[0])
}

func TestUpdatePreferences(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/workflow/s1/preferences",
		map[string]any{"workflow_mode": "deep_dive", "minimum_evidence_target": 12})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ts.artifacts.appended, 1)
	a := ts.artifacts.appended[0]
	assert.Equal(t, "user_preferences", a.ArtifactType)
	assert.Contains(t, string(a.Payload), "deep_dive")
	assert.Equal(t, float64(1), decodeBody(t, rec)["version"])
}

func TestUpdatePreferencesValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/workflow/s1/preferences", map[string]any{"workflow_mode": "turbo"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/workflow/s1/preferences", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBenchmarkEditBeforeSectionWriting(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.sessions.records["s1"].PipelineStage = string(models.StageGapAnalysis)

	rec := ts.do(http.MethodPost, "/workflow/s1/benchmark/assumptions",
		map[string]any{"assumptions": map[string]any{"target_level": "director"}})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["requires_restart"])
	require.Len(t, ts.artifacts.appended, 1)
	assert.Equal(t, "benchmark_assumptions", ts.artifacts.appended[0].ArtifactType)
}

func TestBenchmarkEditAfterSectionWritingNeedsConfirm(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.sessions.records["s1"].PipelineStage = string(models.StageSectionWriting)
	stream, err := ts.streams.Subscribe("s1", "watcher")
	require.NoError(t, err)
	defer ts.streams.Unsubscribe(stream)

	rec := ts.do(http.MethodPost, "/workflow/s1/benchmark/assumptions", map[string]any{
		"assumptions": map[string]any{"target_level": "vp"},
		"reason":      "level changed",
	})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, ts.artifacts.appended, "nothing is saved without confirmation")

	select {
	case ev := <-stream.Events():
		assert.Equal(t, events.TypeWorkflowReplanRequested, ev.Type)
		payload := ev.Payload.(events.WorkflowReplanPayload)
		assert.True(t, payload.RequiresRestart)
		assert.Equal(t, models.StageSectionWriting, payload.RebuildFromStage)
	default:
		t.Fatal("expected a workflow_replan_requested event")
	}
}

func TestBenchmarkEditWithConfirmRunsReplan(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.sessions.records["s1"].PipelineStage = string(models.StageQualityReview)
	stream, err := ts.streams.Subscribe("s1", "watcher")
	require.NoError(t, err)
	defer ts.streams.Unsubscribe(stream)

	rec := ts.do(http.MethodPost, "/workflow/s1/benchmark/assumptions", map[string]any{
		"assumptions":     map[string]any{"target_level": "vp"},
		"confirm_rebuild": true,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["requires_restart"])
	assert.Equal(t, float64(1), body["benchmark_edit_version"])

	var types []events.EventType
	for len(stream.Events()) > 0 {
		types = append(types, (<-stream.Events()).Type)
	}
	assert.Equal(t, []events.EventType{
		events.TypeWorkflowReplanStarted, events.TypeWorkflowReplanCompleted,
	}, types)
}

func TestGenerateDraftNowAutoResponses(t *testing.T) {
	tests := []struct {
		name string
		gate string
		data map[string]any
		want any
	}{
		{
			name: "positioning question defers with draft flag",
			gate: "positioning_q_3",
			want: map[string]any{"deferred": true, "draft_now": true},
		},
		{
			name: "questionnaire synthesizes all-skipped submission",
			gate: "questionnaire_batch_1",
			data: map[string]any{"questions": []any{
				map[string]any{"question_id": "q1"},
				map[string]any{"id": "q2"},
			}},
			want: map[string]any{
				"answers": []any{
					map[string]any{"question_id": "q1", "skipped": true},
					map[string]any{"question_id": "q2", "skipped": true},
				},
				"skipped_all": true,
			},
		},
		{name: "architect review approves", gate: "architect_review", want: true},
		{name: "section review approves", gate: "section_review_summary", want: true},
		{name: "profile choice picks fresh", gate: "positioning_profile_choice", want: "fresh"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.sessions.records["s1"].PendingGate = tt.gate
			ts.sessions.records["s1"].PendingGateData = tt.data

			rec := ts.do(http.MethodPost, "/workflow/s1/generate-draft-now", nil)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.gate, decodeBody(t, rec)["gate"])
			require.Len(t, ts.gates.calls, 1)
			assert.Equal(t, tt.want, ts.gates.calls[0].response)
		})
	}
}

func TestGenerateDraftNowWithoutGate(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodPost, "/workflow/s1/generate-draft-now", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGenerateDraftNowUnknownGate(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.sessions.records["s1"].PendingGate = "mystery_gate"
	rec := ts.do(http.MethodPost, "/workflow/s1/generate-draft-now", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, ts.gates.calls)
}

func TestRestartFromStoredStartRequest(t *testing.T) {
	ts := newTestServer(t, nil)
	payload, err := json.Marshal(models.StartRequest{
		SessionID:      "s1",
		UserID:         "u1",
		RawResumeText:  "resume text",
		JobDescription: "job description",
		CompanyName:    "TechCorp",
	})
	require.NoError(t, err)
	ts.artifacts.latest["pipeline_start_request"] = &models.WorkflowArtifact{
		SessionID: "s1", ArtifactType: "pipeline_start_request", Version: 3, Payload: payload,
	}

	rec := ts.do(http.MethodPost, "/workflow/s1/restart", nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "restarting", decodeBody(t, rec)["status"])
	require.Eventually(t, func() bool { return ts.starter.count() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, "TechCorp", ts.starter.requests[0].CompanyName)
	require.Eventually(t, func() bool { return ts.tracker.Active() == 0 },
		time.Second, 5*time.Millisecond, "the processing slot is released when the run ends")
}

func TestRestartWithoutStoredRequest(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodPost, "/workflow/s1/restart", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRestartConflictsWithActiveProcessing(t *testing.T) {
	ts := newTestServer(t, nil)
	payload, _ := json.Marshal(models.StartRequest{SessionID: "s1", UserID: "u1"})
	ts.artifacts.latest["pipeline_start_request"] = &models.WorkflowArtifact{
		SessionID: "s1", ArtifactType: "pipeline_start_request", Version: 1, Payload: payload,
	}
	require.NoError(t, ts.tracker.Acquire("s1", "u1"))
	defer ts.tracker.Release("s1")

	rec := ts.do(http.MethodPost, "/workflow/s1/restart", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 0, ts.starter.count())
}
