package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/agent"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/bus"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/events"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/llm"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/models"
)

// funcTool adapts a closure into the agent.Tool interface.
type funcTool struct {
	def      llm.ToolDefinition
	parallel bool
	run      func(ctx context.Context, input json.RawMessage, sp *agent.Scratchpad) (string, error)
}

func (t *funcTool) Definition() llm.ToolDefinition { return t.def }
func (t *funcTool) Parallel() bool                 { return t.parallel }
func (t *funcTool) Execute(ctx context.Context, input json.RawMessage, sp *agent.Scratchpad) (string, error) {
	return t.run(ctx, input, sp)
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// saveTool builds one strategist persistence tool: decode the input into its
// model type, store it, advance to the next sub-stage, and announce it.
func saveTool[T any](rt *Runtime, name, description string, next models.Stage, nextMessage string, store func(*models.PipelineState, *T)) *funcTool {
	return &funcTool{
		def: llm.ToolDefinition{
			Name:        name,
			Description: description,
			InputSchema: objectSchema(map[string]any{}),
		},
		run: func(_ context.Context, input json.RawMessage, _ *agent.Scratchpad) (string, error) {
			var v T
			if err := json.Unmarshal(input, &v); err != nil {
				return "", fmt.Errorf("invalid %s payload: %w", name, err)
			}
			rt.State.Update(func(s *models.PipelineState) { store(s, &v) })
			if next != "" {
				advanceTo(rt.State, next)
				rt.Emit(events.Event{Type: events.TypeStageStart, Payload: events.StageStartPayload{
					Stage: next, Message: nextMessage,
				}})
			}
			return "saved", nil
		},
	}
}

func strategistRegistry(rt *Runtime) *agent.Registry {
	return agent.NewRegistry(
		saveTool(rt, "save_intake",
			"Persist the structured parse of the resume: contact info, role history, education, certifications, raw skills.",
			models.StagePositioning, "Positioning the candidate for the role",
			func(s *models.PipelineState, v *models.IntakeResult) { s.Intake = v }),
		saveTool(rt, "save_positioning",
			"Persist the positioning analysis: target role, angle, strengths, differentiators.",
			models.StageResearch, "Researching the company and role",
			func(s *models.PipelineState, v *models.PositioningResult) { s.Positioning = v }),
		saveTool(rt, "save_research",
			"Persist company and role research: signals and role keywords.",
			models.StageGapAnalysis, "Analyzing requirement coverage",
			func(s *models.PipelineState, v *models.ResearchResult) { s.Research = v }),
		saveTool(rt, "save_gap_analysis",
			"Persist the gap analysis: covered requirements, gaps, interview questions.",
			models.StageArchitect, "Designing the resume blueprint",
			func(s *models.PipelineState, v *models.GapAnalysisResult) { s.GapAnalysis = v }),
		saveTool(rt, "save_blueprint",
			"Persist the blueprint: section plan, positioning angle, keyword map, evidence allocation, age protection, global rules.",
			"", "",
			func(s *models.PipelineState, v *models.Blueprint) { s.Architect = v }),
		askUserTool(rt),
	)
}

// askUserTool suspends the agent at a named gate until the user answers.
func askUserTool(rt *Runtime) *funcTool {
	return &funcTool{
		def: llm.ToolDefinition{
			Name:        "ask_user",
			Description: "Suspend and ask the user for input at a named gate. Returns the user's response.",
			InputSchema: objectSchema(map[string]any{
				"gate":   map[string]any{"type": "string"},
				"prompt": map[string]any{"type": "object"},
			}, "gate"),
		},
		run: func(ctx context.Context, input json.RawMessage, _ *agent.Scratchpad) (string, error) {
			var req struct {
				Gate   string         `json:"gate"`
				Prompt map[string]any `json:"prompt"`
			}
			if err := json.Unmarshal(input, &req); err != nil || req.Gate == "" {
				return "", fmt.Errorf("ask_user requires a gate name")
			}
			if strings.HasPrefix(req.Gate, "questionnaire") {
				rt.Emit(events.Event{Type: events.TypeQuestionnaire, Payload: req.Prompt})
			}
			resp, err := rt.Wait(ctx, req.Gate)
			if err != nil {
				return "", fmt.Errorf("gate %s interrupted: %w", req.Gate, err)
			}
			b, err := json.Marshal(resp)
			if err != nil {
				return fmt.Sprintf("%v", resp), nil
			}
			return string(b), nil
		},
	}
}

func craftsmanRegistry(rt *Runtime) *agent.Registry {
	return agent.NewRegistry(writeSectionTool(rt))
}

// writeSectionTool stores one written section into both the pipeline state and
// the scratchpad under the section_ prefix the coordinator harvests. Sections
// are independent, so the tool is parallel-safe.
func writeSectionTool(rt *Runtime) *funcTool {
	return &funcTool{
		parallel: true,
		def: llm.ToolDefinition{
			Name:        "write_section",
			Description: "Write or rewrite one resume section. Replaces any prior content for the section.",
			InputSchema: objectSchema(map[string]any{
				"section":                map[string]any{"type": "string"},
				"content":                map[string]any{"type": "string"},
				"keywords_used":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"requirements_addressed": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"evidence_ids_used":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			}, "section", "content"),
		},
		run: func(_ context.Context, input json.RawMessage, sp *agent.Scratchpad) (string, error) {
			var req struct {
				Section               string   `json:"section"`
				Content               string   `json:"content"`
				KeywordsUsed          []string `json:"keywords_used"`
				RequirementsAddressed []string `json:"requirements_addressed"`
				EvidenceIDsUsed       []string `json:"evidence_ids_used"`
			}
			if err := json.Unmarshal(input, &req); err != nil {
				return "", fmt.Errorf("invalid write_section payload: %w", err)
			}
			if req.Section == "" || req.Content == "" {
				return "", fmt.Errorf("write_section requires section and content")
			}
			sec := req.Section
			rt.State.SetSection(sec, &models.Section{
				Content:               req.Content,
				KeywordsUsed:          req.KeywordsUsed,
				RequirementsAddressed: req.RequirementsAddressed,
				EvidenceIDsUsed:       req.EvidenceIDsUsed,
			})
			sp.Set("section_"+sec, map[string]any{
				"content":                req.Content,
				"keywords_used":          req.KeywordsUsed,
				"requirements_addressed": req.RequirementsAddressed,
				"evidence_ids_used":      req.EvidenceIDsUsed,
			})
			return fmt.Sprintf("section %s written (%d chars)", sec, len(req.Content)), nil
		},
	}
}

func producerRegistry(rt *Runtime) *agent.Registry {
	return agent.NewRegistry(submitQualityReviewTool(rt), requestRevisionTool(rt))
}

// submitQualityReviewTool records the verdict. An approve verdict ends the
// producer's loop; a revise verdict keeps it running so the model can issue
// revision requests and re-check.
func submitQualityReviewTool(rt *Runtime) *funcTool {
	return &funcTool{
		def: llm.ToolDefinition{
			Name:        "submit_quality_review",
			Description: "Record the quality verdict with scores, issues, and detailed findings. Approving concludes the review.",
			InputSchema: objectSchema(map[string]any{
				"decision": map[string]any{"type": "string", "enum": []string{"approve", "revise"}},
				"scores":   map[string]any{"type": "object"},
				"issues":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"details":  map[string]any{"type": "object"},
			}, "decision"),
		},
		run: func(_ context.Context, input json.RawMessage, sp *agent.Scratchpad) (string, error) {
			var req struct {
				Decision string             `json:"decision"`
				Scores   map[string]float64 `json:"scores"`
				Issues   []string           `json:"issues"`
				Details  map[string]any     `json:"details"`
			}
			if err := json.Unmarshal(input, &req); err != nil {
				return "", fmt.Errorf("invalid submit_quality_review payload: %w", err)
			}
			decision := models.QualityDecision(req.Decision)
			if decision != models.QualityApprove && decision != models.QualityRevise {
				return "", fmt.Errorf("decision must be approve or revise, got %q", req.Decision)
			}
			rt.State.Update(func(s *models.PipelineState) {
				s.Quality = &models.QualityReview{Decision: decision, Scores: req.Scores, Issues: req.Issues}
			})
			if req.Details != nil {
				sp.Set("quality_details", req.Details)
			}
			if decision == models.QualityApprove {
				sp.Set(agent.FinalTextKey, "Quality review approved.")
			}
			return fmt.Sprintf("quality review recorded: %s", decision), nil
		},
	}
}

// requestRevisionTool routes a revision batch to the craftsman over the bus.
// Delivery is synchronous, so the revision sub-loop has finished by the time
// the tool returns.
func requestRevisionTool(rt *Runtime) *funcTool {
	return &funcTool{
		def: llm.ToolDefinition{
			Name:        "request_revision",
			Description: "Send revision instructions to the section writer. Batched form: revision_instructions array with target_section, issue, instruction, priority, severity. Flat form: section, issue, instruction, severity.",
			InputSchema: objectSchema(map[string]any{
				"revision_instructions": map[string]any{"type": "array"},
				"section":               map[string]any{"type": "string"},
				"issue":                 map[string]any{"type": "string"},
				"instruction":           map[string]any{"type": "string"},
				"severity":              map[string]any{"type": "string", "enum": []string{"revision", "rewrite"}},
			}),
		},
		run: func(_ context.Context, input json.RawMessage, _ *agent.Scratchpad) (string, error) {
			var payload map[string]any
			if err := json.Unmarshal(input, &payload); err != nil {
				return "", fmt.Errorf("invalid request_revision payload: %w", err)
			}
			rt.Bus.Send(bus.Message{
				From:    agentProducer,
				To:      agentCraftsman,
				Type:    bus.TypeRequest,
				Domain:  "revision",
				Payload: payload,
			})
			return "revision batch dispatched; re-read the updated sections before your next verdict", nil
		},
	}
}

// advanceTo moves state forward to target if the transition is legal, and is
// a no-op when the state is already at or past it.
func advanceTo(state *models.PipelineState, target models.Stage) {
	if state.Stage().CanTransition(target) {
		_ = state.AdvanceStage(target)
	}
}

func stageStart(stage models.Stage, message string) events.Event {
	return events.Event{Type: events.TypeStageStart, Payload: events.StageStartPayload{Stage: stage, Message: message}}
}

func stageComplete(stage models.Stage, message string, since time.Time) events.Event {
	return events.Event{Type: events.TypeStageComplete, Payload: events.StageCompletePayload{
		Stage: stage, Message: message, DurationMS: time.Since(since).Milliseconds(),
	}}
}

func transparency(stage models.Stage, message string) events.Event {
	return events.Event{Type: events.TypeTransparency, Payload: events.TransparencyPayload{Stage: stage, Message: message}}
}
