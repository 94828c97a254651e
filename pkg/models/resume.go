package models

// Section is one written unit of resume content.
type Section struct {
	Content               string   `json:"content"`
	KeywordsUsed          []string `json:"keywords_used,omitempty"`
	RequirementsAddressed []string `json:"requirements_addressed,omitempty"`
	EvidenceIDsUsed       []string `json:"evidence_ids_used,omitempty"`
}

// ContactInfo is parsed from the raw resume during intake.
type ContactInfo struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Location string `json:"location,omitempty"`
	LinkedIn string `json:"linkedin,omitempty"`
}

// IntakeResult is the strategist's structured parse of the inputs.
type IntakeResult struct {
	Contact        ContactInfo    `json:"contact"`
	Roles          []RoleHistory  `json:"roles,omitempty"`
	Education      []string       `json:"education,omitempty"`
	Certifications []string       `json:"certifications,omitempty"`
	RawSkills      []string       `json:"raw_skills,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// RoleHistory is one position from the work history.
type RoleHistory struct {
	Title   string   `json:"title"`
	Company string   `json:"company"`
	Start   string   `json:"start,omitempty"`
	End     string   `json:"end,omitempty"`
	Bullets []string `json:"bullets,omitempty"`
}

// PositioningResult captures the strategist's positioning analysis.
type PositioningResult struct {
	TargetRole  string         `json:"target_role,omitempty"`
	Angle       string         `json:"angle,omitempty"`
	Strengths   []string       `json:"strengths,omitempty"`
	Differentia []string       `json:"differentiators,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// ResearchResult captures company and role research.
type ResearchResult struct {
	CompanySignals []string       `json:"company_signals,omitempty"`
	RoleKeywords   []string       `json:"role_keywords,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// GapAnalysisResult lists requirement coverage gaps.
type GapAnalysisResult struct {
	CoveredRequirements []string       `json:"covered_requirements,omitempty"`
	Gaps                []string       `json:"gaps,omitempty"`
	InterviewQuestions  []string       `json:"interview_questions,omitempty"`
	Extra               map[string]any `json:"extra,omitempty"`
}

// SectionPlan orders the sections of the final document.
type SectionPlan struct {
	Order []string `json:"order"`
}

// AgeProtectionAudit records whether the work history exposes age signals
// and which years must be stripped from education entries.
type AgeProtectionAudit struct {
	Clean        bool     `json:"clean"`
	FlaggedYears []string `json:"flagged_years,omitempty"`
	Notes        string   `json:"notes,omitempty"`
}

// Blueprint is the strategist's structured plan for the resume.
type Blueprint struct {
	TargetRole         string              `json:"target_role"`
	PositioningAngle   string              `json:"positioning_angle"`
	SectionPlan        SectionPlan         `json:"section_plan"`
	KeywordMap         map[string][]string `json:"keyword_map,omitempty"`
	EvidenceAllocation map[string][]string `json:"evidence_allocation,omitempty"`
	AgeProtection      AgeProtectionAudit  `json:"age_protection"`
	GlobalRules        []string            `json:"global_rules,omitempty"`
}

// QualityDecision is the producer's verdict on the assembled draft.
type QualityDecision string

// Quality review decisions.
const (
	QualityApprove QualityDecision = "approve"
	QualityRevise  QualityDecision = "revise"
)

// QualityReview is the producer's scored review of the draft.
type QualityReview struct {
	Decision QualityDecision    `json:"decision"`
	Scores   map[string]float64 `json:"scores,omitempty"`
	Issues   []string           `json:"issues,omitempty"`
}

// QualityDetails carries the detailed findings harvested from the
// producer's scratchpad and re-emitted with quality_scores.
type QualityDetails struct {
	NarrativeCoherence string   `json:"narrative_coherence,omitempty"`
	HumanizeIssues     []string `json:"humanize_issues,omitempty"`
	CoherenceIssues    []string `json:"coherence_issues,omitempty"`
	ATSFindings        []string `json:"ats_findings,omitempty"`
}

// InterviewEntry is one question/answer pair from the evidence interview.
type InterviewEntry struct {
	QuestionID   string `json:"question_id"`
	QuestionText string `json:"question_text"`
	Category     string `json:"category,omitempty"`
	Answer       string `json:"answer"`
}

// RevisionSeverity distinguishes targeted edits from full rewrites.
type RevisionSeverity string

// Revision severities.
const (
	SeverityRevision RevisionSeverity = "revision"
	SeverityRewrite  RevisionSeverity = "rewrite"
)

// RevisionInstruction is one normalized revision request from the producer.
type RevisionInstruction struct {
	TargetSection string           `json:"target_section"`
	Issue         string           `json:"issue"`
	Instruction   string           `json:"instruction"`
	Priority      string           `json:"priority"` // high, medium, low
	Severity      RevisionSeverity `json:"severity"`
}

// ExportValidation is the ATS-compliance outcome attached to the final resume.
type ExportValidation struct {
	Passed   bool     `json:"passed"`
	Findings []string `json:"findings"`
}

// FinalResume is the assembled output emitted with pipeline_complete.
type FinalResume struct {
	Summary                 string              `json:"summary,omitempty"`
	Experience              []string            `json:"experience,omitempty"`
	EarlierCareer           string              `json:"earlier_career,omitempty"`
	Skills                  map[string][]string `json:"skills,omitempty"`
	Education               string              `json:"education,omitempty"`
	Certifications          string              `json:"certifications,omitempty"`
	SelectedAccomplishments string              `json:"selected_accomplishments,omitempty"`
	FullText                string              `json:"full_text"`
}
