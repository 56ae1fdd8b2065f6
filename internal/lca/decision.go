package lca

import "fmt"

// ReviewThreshold is the confidence below which a decision needs human review.
const ReviewThreshold = 0.7

// Confidence levels assigned by the decision engine.
const (
	ConfidenceDirect   = 1.0
	ConfidenceGapFill  = 0.5
	ConfidenceOperator = 1.0
)

// Reasoning strings attached to non-oracle decisions.
const (
	ReasonDirectMapping = "directly mapped"
	ReasonGapFill       = "default value assigned (field not mapped or decided by AI)"
	ReasonOperator      = "provided by operator"
)

// FieldDecision is the resolved value for one form field.
type FieldDecision struct {
	FieldID    string  `json:"field_id"`
	Value      any     `json:"value"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

// NeedsReview reports whether the decision falls below the review threshold.
func (d FieldDecision) NeedsReview() bool {
	return d.Confidence < ReviewThreshold
}

// ReviewReason formats the audit line recorded for a low-confidence decision.
func (d FieldDecision) ReviewReason(section string) string {
	return fmt.Sprintf("Low confidence (%.2f) for field %s in section %s: %s", d.Confidence, d.FieldID, section, d.Reasoning)
}

// SectionResult aggregates the outcome of one section-fill pass.
type SectionResult struct {
	Section      string   `json:"section"`
	FieldsTotal  int      `json:"fields_total"`
	FieldsFilled int      `json:"fields_filled"`
	FieldsFailed int      `json:"fields_failed"`
	Errors       []string `json:"errors,omitempty"`
	// FailedFields lists schema fields whose widget could not be filled.
	FailedFields []string `json:"failed_fields,omitempty"`
}

// FieldFailed records a field that could not be filled.
func (r *SectionResult) FieldFailed(fieldID, msg string) {
	r.FieldsFailed++
	r.Errors = append(r.Errors, msg)
	if fieldID != "" {
		r.FailedFields = append(r.FailedFields, fieldID)
	}
}

// FieldError is a validation message shown by the portal, tied to a field id
// when one could be discovered.
type FieldError struct {
	FieldID string `json:"field_id,omitempty"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	if e.FieldID == "" {
		return e.Message
	}
	return e.FieldID + ": " + e.Message
}

// FieldFix is a corrected value proposed for an erroring field.
type FieldFix struct {
	Value     any    `json:"value"`
	Reasoning string `json:"reasoning"`
}

// ValidationIssue is one problem reported by AI validation.
type ValidationIssue struct {
	Field       string `json:"field"`
	IssueType   string `json:"issue_type"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// ValidationReport is the decision oracle's verdict on an application.
type ValidationReport struct {
	Valid       bool              `json:"valid"`
	Notes       string            `json:"notes"`
	CleanedData map[string]any    `json:"cleaned_data,omitempty"`
	Issues      []ValidationIssue `json:"issues,omitempty"`
}
