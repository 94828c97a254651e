package models

// Stage identifies a pipeline stage.
type Stage string

// Pipeline stages in canonical order. Revision is the one stage that may
// re-occur: quality_review → revision → quality_review.
const (
	StageIntake          Stage = "intake"
	StagePositioning     Stage = "positioning"
	StageResearch        Stage = "research"
	StageGapAnalysis     Stage = "gap_analysis"
	StageArchitect       Stage = "architect"
	StageArchitectReview Stage = "architect_review"
	StageSectionWriting  Stage = "section_writing"
	StageSectionReview   Stage = "section_review"
	StageQualityReview   Stage = "quality_review"
	StageRevision        Stage = "revision"
	StageComplete        Stage = "complete"
)

// stageOrder maps each stage to its position in the canonical order.
var stageOrder = map[Stage]int{
	StageIntake:          0,
	StagePositioning:     1,
	StageResearch:        2,
	StageGapAnalysis:     3,
	StageArchitect:       4,
	StageArchitectReview: 5,
	StageSectionWriting:  6,
	StageSectionReview:   7,
	StageQualityReview:   8,
	StageRevision:        9,
	StageComplete:        10,
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// Index returns the stage's position in the canonical order, or -1.
func (s Stage) Index() int {
	if i, ok := stageOrder[s]; ok {
		return i
	}
	return -1
}

// CanTransition reports whether moving from s to next respects stage
// monotonicity. Forward moves are always allowed; the only permitted
// backward move is revision → quality_review.
func (s Stage) CanTransition(next Stage) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if next.Index() >= s.Index() {
		return true
	}
	return s == StageRevision && next == StageQualityReview
}
