package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/models"
)

// defaultSectionOrder is used when the blueprint carries no section plan.
var defaultSectionOrder = []string{"summary", "experience", "skills", "education_and_certifications"}

var (
	roleIndexRe = regexp.MustCompile(`^experience_role_(\d+)$`)
	yearRe      = regexp.MustCompile(`\b(19|20)\d{2}\b`)
)

// ExpandSectionOrder expands the blueprint's section plan into concrete
// written-section names. "experience" becomes the numerically sorted
// experience_role_{i} sections plus earlier_career when present;
// "education_and_certifications" becomes education then certifications.
// Everything else passes through in plan order; names with no written
// section are dropped.
func ExpandSectionOrder(order []string, sections map[string]*models.Section) []string {
	var out []string
	appendIfWritten := func(name string) {
		if _, ok := sections[name]; ok {
			out = append(out, name)
		}
	}
	for _, entry := range order {
		switch entry {
		case "experience":
			out = append(out, sortedRoleSections(sections)...)
			appendIfWritten("earlier_career")
		case "education_and_certifications":
			appendIfWritten("education")
			appendIfWritten("certifications")
		default:
			appendIfWritten(entry)
		}
	}
	return out
}

func sortedRoleSections(sections map[string]*models.Section) []string {
	type role struct {
		name  string
		index int
	}
	var roles []role
	for name := range sections {
		if m := roleIndexRe.FindStringSubmatch(name); m != nil {
			idx, _ := strconv.Atoi(m[1])
			roles = append(roles, role{name: name, index: idx})
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].index < roles[j].index })
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.name)
	}
	return names
}

// orderedSectionNames expands the state's section plan. The caller must hold
// the state lock (it is invoked from inside Read callbacks).
func orderedSectionNames(s *models.PipelineState) []string {
	order := defaultSectionOrder
	if s.Architect != nil && len(s.Architect.SectionPlan.Order) > 0 {
		order = s.Architect.SectionPlan.Order
	}
	return ExpandSectionOrder(order, s.Sections)
}

// Finalize assembles the structured final resume from the written sections in
// section-plan order and runs the ATS compliance check.
func Finalize(state *models.PipelineState, currentYear int) (*models.FinalResume, *models.ExportValidation) {
	resume := &models.FinalResume{}
	var fullText strings.Builder

	state.Read(func(s *models.PipelineState) {
		audit := models.AgeProtectionAudit{Clean: true}
		if s.Architect != nil {
			audit = s.Architect.AgeProtection
		}
		for _, name := range orderedSectionNames(s) {
			content := s.Sections[name].Content
			switch {
			case name == "summary":
				resume.Summary = content
			case strings.HasPrefix(name, "experience_role_"):
				resume.Experience = append(resume.Experience, content)
			case name == "earlier_career":
				resume.EarlierCareer = content
			case name == "skills":
				resume.Skills = ParseSkills(content)
			case name == "education":
				content = SanitizeEducationYears(content, audit, currentYear)
				resume.Education = content
			case name == "certifications":
				resume.Certifications = content
			case name == "selected_accomplishments":
				resume.SelectedAccomplishments = content
			}
			fmt.Fprintf(&fullText, "## %s\n%s\n\n", sectionHeading(name), content)
		}
	})

	resume.FullText = strings.TrimSpace(fullText.String())
	return resume, ValidateForATS(resume)
}

func sectionHeading(name string) string {
	words := strings.Split(strings.ReplaceAll(name, "_", " "), " ")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// ParseSkills converts the written skills section back into categorized
// lists. Lines shaped "Category: a, b, c" keep their category; bare lines
// land under General.
func ParseSkills(content string) map[string][]string {
	out := map[string][]string{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*• \t"))
		if line == "" {
			continue
		}
		category, rest := "General", line
		if idx := strings.Index(line, ":"); idx > 0 {
			category = strings.TrimSpace(line[:idx])
			rest = line[idx+1:]
		}
		var items []string
		for _, item := range strings.Split(rest, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		if len(items) > 0 {
			out[category] = append(out[category], items...)
		}
	}
	return out
}

// SanitizeEducationYears strips 4-digit years the age-protection audit
// flagged, and, when the audit is not clean, any year 20+ years in the past.
func SanitizeEducationYears(text string, audit models.AgeProtectionAudit, currentYear int) string {
	flagged := make(map[string]struct{}, len(audit.FlaggedYears))
	for _, y := range audit.FlaggedYears {
		flagged[strings.TrimSpace(y)] = struct{}{}
	}
	stripped := yearRe.ReplaceAllStringFunc(text, func(year string) string {
		if _, ok := flagged[year]; ok {
			return ""
		}
		if !audit.Clean {
			if n, err := strconv.Atoi(year); err == nil && currentYear-n >= 20 {
				return ""
			}
		}
		return year
	})
	return tidyAfterYearStrip(stripped)
}

var multiSpaceRe = regexp.MustCompile(`[ \t]{2,}`)

// tidyAfterYearStrip cleans up the punctuation a removed year leaves behind.
func tidyAfterYearStrip(s string) string {
	s = strings.ReplaceAll(s, "()", "")
	s = strings.ReplaceAll(s, "( )", "")
	s = strings.ReplaceAll(s, "(- )", "")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		line = multiSpaceRe.ReplaceAllString(line, " ")
		line = strings.TrimRight(line, " ,-–")
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}

// ValidateForATS runs the export compliance rules over the assembled resume.
func ValidateForATS(resume *models.FinalResume) *models.ExportValidation {
	findings := []string{}
	if strings.TrimSpace(resume.Summary) == "" {
		findings = append(findings, "missing summary section")
	}
	if len(resume.Experience) == 0 {
		findings = append(findings, "missing experience sections")
	}
	if strings.Contains(resume.FullText, "|") {
		findings = append(findings, "table characters detected; ATS parsers drop table content")
	}
	return &models.ExportValidation{Passed: len(findings) == 0, Findings: findings}
}

// CollectEvidence distills evidence items for the master resume: interview
// answers plus the bullets of the written experience sections.
func CollectEvidence(state *models.PipelineState, sessionID string) []models.EvidenceItem {
	var items []models.EvidenceItem
	state.Read(func(s *models.PipelineState) {
		for _, e := range s.InterviewTranscript {
			if item, ok := models.NewEvidenceItem(e.Answer, models.EvidenceInterview, e.Category, sessionID); ok {
				items = append(items, item)
			}
		}
		for _, name := range orderedSectionNames(s) {
			if !strings.HasPrefix(name, "experience_role_") {
				continue
			}
			for _, line := range strings.Split(s.Sections[name].Content, "\n") {
				bullet := strings.TrimSpace(line)
				var ok bool
				for _, prefix := range []string{"- ", "* ", "• "} {
					if cut, found := strings.CutPrefix(bullet, prefix); found {
						bullet, ok = cut, true
						break
					}
				}
				if !ok {
					continue
				}
				if item, valid := models.NewEvidenceItem(bullet, models.EvidenceCrafted, "experience", sessionID); valid {
					items = append(items, item)
				}
			}
		}
	})
	return items
}
