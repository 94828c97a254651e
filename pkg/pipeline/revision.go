package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/bus"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/events"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/models"
)

// revisionHandler services producer revision requests addressed to the
// craftsman during the quality-review phase. It enforces approved-section
// immutability and the per-section revision cap before invoking the
// craftsman sub-loop.
type revisionHandler struct {
	ctx       context.Context
	rt        *Runtime
	craftsman Runner
	maxRounds int
}

func newRevisionHandler(ctx context.Context, rt *Runtime, craftsman Runner, maxRounds int) *revisionHandler {
	return &revisionHandler{ctx: ctx, rt: rt, craftsman: craftsman, maxRounds: maxRounds}
}

// Handle processes one bus message. Delivery is synchronous on the sender's
// goroutine, so the producer's request_revision tool does not return until
// the sub-loop has finished.
func (h *revisionHandler) Handle(msg bus.Message) {
	if msg.Type != bus.TypeRequest || msg.From != agentProducer {
		return
	}
	instructions := NormalizeRevisionInstructions(msg.Payload)
	if len(instructions) == 0 {
		return
	}

	var surviving []models.RevisionInstruction
	for _, inst := range instructions {
		if h.rt.State.IsApproved(inst.TargetSection) {
			slog.Info("Revision skipped for approved section",
				"session_id", h.rt.State.SessionID, "section", inst.TargetSection)
			continue
		}
		if h.rt.State.RevisionCount(inst.TargetSection) >= h.maxRounds {
			h.rt.Emit(transparency(models.StageRevision, fmt.Sprintf(
				"Revision cap reached for %s — accepting current content.", inst.TargetSection)))
			continue
		}
		h.rt.State.IncrementRevision(inst.TargetSection)
		surviving = append(surviving, inst)
	}
	if len(surviving) == 0 {
		return
	}

	advanceTo(h.rt.State, models.StageRevision)
	h.rt.Emit(events.Event{Type: events.TypeRevisionStart,
		Payload: events.RevisionStartPayload{Instructions: surviving}})
	h.rt.Emit(transparency(models.StageRevision, fmt.Sprintf(
		"Revising %d section(s): %s", len(surviving), strings.Join(sectionNames(surviving), ", "))))

	var rewrites, revisions []models.RevisionInstruction
	for _, inst := range surviving {
		if inst.Severity == models.SeverityRewrite {
			rewrites = append(rewrites, inst)
		} else {
			revisions = append(revisions, inst)
		}
	}

	if _, err := h.craftsman.Run(h.ctx, BuildRevisionMessages(h.rt.State, rewrites, revisions)); err != nil {
		// Revision failures never fail the enclosing pipeline.
		slog.Error("Revision sub-loop failed",
			"session_id", h.rt.State.SessionID, "sections", sectionNames(surviving), "error", err)
	}
	advanceTo(h.rt.State, models.StageQualityReview)
}

func sectionNames(instructions []models.RevisionInstruction) []string {
	names := make([]string, 0, len(instructions))
	for _, inst := range instructions {
		names = append(names, inst.TargetSection)
	}
	return names
}

// NormalizeRevisionInstructions accepts both payload shapes the producer may
// emit: a batched revision_instructions array, or a flat single-section form
// which is implicitly high priority. Instructions without a target section
// are dropped.
func NormalizeRevisionInstructions(payload map[string]any) []models.RevisionInstruction {
	if payload == nil {
		return nil
	}

	if raw, ok := payload["revision_instructions"].([]any); ok {
		var out []models.RevisionInstruction
		for _, entry := range raw {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			inst := instructionFromMap(m, "target_section")
			if inst.TargetSection != "" {
				out = append(out, inst)
			}
		}
		return out
	}

	inst := instructionFromMap(payload, "section")
	if inst.TargetSection == "" {
		return nil
	}
	inst.Priority = "high"
	return []models.RevisionInstruction{inst}
}

func instructionFromMap(m map[string]any, sectionKey string) models.RevisionInstruction {
	str := func(key string) string {
		s, _ := m[key].(string)
		return s
	}
	inst := models.RevisionInstruction{
		TargetSection: str(sectionKey),
		Issue:         str("issue"),
		Instruction:   str("instruction"),
		Priority:      str("priority"),
		Severity:      models.RevisionSeverity(str("severity")),
	}
	if inst.Priority == "" {
		inst.Priority = "medium"
	}
	if inst.Severity != models.SeverityRewrite {
		inst.Severity = models.SeverityRevision
	}
	return inst
}
