package store

// ReportStatus is the pipeline stage a report is in.
type ReportStatus string

const (
	ReportPlanning      ReportStatus = "PLANNING"
	ReportPlanFailed    ReportStatus = "PLAN_FAILED"
	ReportResearching   ReportStatus = "RESEARCHING"
	ReportScoringFailed ReportStatus = "SCORING_FAILED"
	ReportReview        ReportStatus = "REVIEW"
	ReportComplete      ReportStatus = "COMPLETE"
)

// QuestionStatus is the resolution state of a research question.
type QuestionStatus string

const (
	QuestionPending        QuestionStatus = "PENDING"
	QuestionComplete       QuestionStatus = "COMPLETE"
	QuestionResearchFailed QuestionStatus = "RESEARCH_FAILED"
	QuestionSaveFailed     QuestionStatus = "SAVE_FAILED"
)

// reportTransitions defines the forward-only report state machine.
// Statuses with no entry are terminal.
var reportTransitions = map[ReportStatus]map[ReportStatus]struct{}{
	ReportPlanning: {
		ReportResearching: {},
		ReportPlanFailed:  {},
	},
	ReportResearching: {
		ReportReview:        {},
		ReportScoringFailed: {},
	},
	ReportReview: {
		ReportComplete: {},
	},
}

// questionTransitions defines the question state machine. All outcomes
// are terminal: a resolved question is never re-queued.
var questionTransitions = map[QuestionStatus]map[QuestionStatus]struct{}{
	QuestionPending: {
		QuestionComplete:       {},
		QuestionResearchFailed: {},
		QuestionSaveFailed:     {},
	},
}

// ValidReportTransition reports whether a report may move from one
// status to another.
func ValidReportTransition(from, to ReportStatus) bool {
	targets, ok := reportTransitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// ValidQuestionTransition reports whether a question may move from one
// status to another.
func ValidQuestionTransition(from, to QuestionStatus) bool {
	targets, ok := questionTransitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// TerminalReportStatus reports whether no component will advance a
// report further.
func TerminalReportStatus(s ReportStatus) bool {
	_, ok := reportTransitions[s]
	return !ok
}
