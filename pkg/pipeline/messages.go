package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/config"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/llm"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/models"
)

// BuildStrategistMessages assembles the strategist's opening conversation:
// raw inputs, preferences, and a size-bounded projection of the prior master
// resume so a huge history cannot blow out the context window.
func BuildStrategistMessages(rc *RunConfig, cfg *config.PipelineConfig) []llm.Message {
	var b strings.Builder
	b.WriteString("RESUME:\n")
	b.WriteString(rc.RawResumeText)
	b.WriteString("\n\nJOB DESCRIPTION:\n")
	b.WriteString(rc.JobDescription)
	if rc.CompanyName != "" {
		fmt.Fprintf(&b, "\n\nCOMPANY: %s\n", rc.CompanyName)
	}

	b.WriteString("\nPREFERENCES:\n")
	fmt.Fprintf(&b, "- workflow mode: %s\n", rc.Preferences.WorkflowMode)
	if rc.Preferences.ResumePriority != "" {
		fmt.Fprintf(&b, "- resume priority: %s\n", rc.Preferences.ResumePriority)
	}
	if rc.Preferences.SeniorityDelta != 0 {
		fmt.Fprintf(&b, "- seniority delta: %+d\n", rc.Preferences.SeniorityDelta)
	}
	if rc.Preferences.MinimumEvidenceTarget > 0 {
		fmt.Fprintf(&b, "- minimum evidence target: %d\n", rc.Preferences.MinimumEvidenceTarget)
	}

	if rc.MasterResume != nil {
		b.WriteString("\nPRIOR MASTER RESUME (projection):\n")
		b.WriteString(ProjectMasterResume(rc.MasterResume, cfg.MaxBulletsPerRole, cfg.MaxEvidenceItemsInjected))
	}

	return []llm.Message{{Role: llm.RoleUser, Text: b.String()}}
}

// ProjectMasterResume renders a bounded text view of a master resume: at most
// maxBullets bullets per role and maxEvidence evidence items across all
// sources.
func ProjectMasterResume(mr *models.MasterResume, maxBullets, maxEvidence int) string {
	var b strings.Builder
	if mr.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", mr.Summary)
	}
	for _, role := range mr.Experience {
		fmt.Fprintf(&b, "\n%s, %s", role.Title, role.Company)
		if role.Start != "" || role.End != "" {
			fmt.Fprintf(&b, " (%s - %s)", role.Start, role.End)
		}
		b.WriteString("\n")
		bullets := role.Bullets
		if len(bullets) > maxBullets {
			bullets = bullets[:maxBullets]
		}
		for _, bullet := range bullets {
			fmt.Fprintf(&b, "- %s\n", bullet)
		}
	}
	if len(mr.Skills) > 0 {
		b.WriteString("\nSkills:\n")
		for category, items := range mr.Skills {
			fmt.Fprintf(&b, "- %s: %s\n", category, strings.Join(items, ", "))
		}
	}
	if len(mr.Education) > 0 {
		fmt.Fprintf(&b, "\nEducation: %s\n", strings.Join(mr.Education, "; "))
	}
	if len(mr.Certifications) > 0 {
		fmt.Fprintf(&b, "Certifications: %s\n", strings.Join(mr.Certifications, "; "))
	}

	items := mr.EvidenceItems
	if len(items) > maxEvidence {
		items = items[:maxEvidence]
	}
	if len(items) > 0 {
		b.WriteString("\nEvidence library:\n")
		for _, item := range items {
			fmt.Fprintf(&b, "- [%s] %s\n", item.Source, item.Text)
		}
	}
	return b.String()
}

// BuildCraftsmanMessages assembles the section writer's opening conversation:
// the blueprint, the positioning analysis, the interview transcript, the gap
// analysis, and the blueprint's global rules.
func BuildCraftsmanMessages(state *models.PipelineState) []llm.Message {
	var b strings.Builder
	state.Read(func(s *models.PipelineState) {
		if s.Architect != nil {
			b.WriteString("BLUEPRINT:\n")
			b.WriteString(asJSON(s.Architect))
			b.WriteString("\n")
		}
		if s.Positioning != nil {
			b.WriteString("\nPOSITIONING:\n")
			b.WriteString(asJSON(s.Positioning))
			b.WriteString("\n")
		}
		if s.GapAnalysis != nil {
			b.WriteString("\nGAP ANALYSIS:\n")
			b.WriteString(asJSON(s.GapAnalysis))
			b.WriteString("\n")
		}
		if len(s.InterviewTranscript) > 0 {
			b.WriteString("\nINTERVIEW TRANSCRIPT:\n")
			for _, e := range s.InterviewTranscript {
				fmt.Fprintf(&b, "Q: %s\nA: %s\n", e.QuestionText, e.Answer)
			}
		}
		if s.Architect != nil && len(s.Architect.GlobalRules) > 0 {
			b.WriteString("\nGLOBAL RULES:\n")
			for _, r := range s.Architect.GlobalRules {
				fmt.Fprintf(&b, "- %s\n", r)
			}
		}
	})
	b.WriteString("\nWrite every section in the blueprint's section plan with write_section.")
	return []llm.Message{{Role: llm.RoleUser, Text: b.String()}}
}

// BuildProducerMessages assembles the reviewer's opening conversation: the
// draft sections in plan order plus the positioning targets to judge against.
func BuildProducerMessages(state *models.PipelineState) []llm.Message {
	var b strings.Builder
	state.Read(func(s *models.PipelineState) {
		if s.Architect != nil {
			fmt.Fprintf(&b, "TARGET ROLE: %s\nPOSITIONING ANGLE: %s\n",
				s.Architect.TargetRole, s.Architect.PositioningAngle)
		}
		b.WriteString("\nDRAFT SECTIONS:\n")
		for _, name := range orderedSectionNames(s) {
			fmt.Fprintf(&b, "\n## %s\n%s\n", name, s.Sections[name].Content)
		}
	})
	b.WriteString("\nReview the draft. Request revisions where needed, then record your verdict with submit_quality_review.")
	return []llm.Message{{Role: llm.RoleUser, Text: b.String()}}
}

// BuildRevisionMessages builds the focused instruction set for a revision
// sub-loop: rewrites start from scratch, revisions preserve surrounding
// content.
func BuildRevisionMessages(state *models.PipelineState, rewrites, revisions []models.RevisionInstruction) []llm.Message {
	var b strings.Builder
	b.WriteString("The quality review requested changes to the draft.\n")

	writeCurrent := func(section string) {
		if sec := state.Section(section); sec != nil {
			fmt.Fprintf(&b, "Current content:\n%s\n", sec.Content)
		}
	}
	for _, inst := range rewrites {
		fmt.Fprintf(&b, "\nREWRITE %s from scratch with write_section.\nIssue: %s\nInstruction: %s\n",
			inst.TargetSection, inst.Issue, inst.Instruction)
		writeCurrent(inst.TargetSection)
	}
	for _, inst := range revisions {
		fmt.Fprintf(&b, "\nREVISE %s with write_section: apply the targeted change and preserve the surrounding content.\nIssue: %s\nInstruction: %s\n",
			inst.TargetSection, inst.Issue, inst.Instruction)
		writeCurrent(inst.TargetSection)
	}
	return []llm.Message{{Role: llm.RoleUser, Text: b.String()}}
}

func asJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
