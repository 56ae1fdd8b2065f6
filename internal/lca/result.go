package lca

import (
	"sync"
	"time"
)

// FilingStatus is the lifecycle state of a filing.
type FilingStatus string

const (
	StatusStarted             FilingStatus = "started"
	StatusSuccess             FilingStatus = "success"
	StatusValidationFailed    FilingStatus = "validation_failed"
	StatusNavigationFailed    FilingStatus = "navigation_failed"
	StatusLoginFailed         FilingStatus = "login_failed"
	StatusFormSelectionFailed FilingStatus = "form_selection_failed"
	StatusSubmissionFailed    FilingStatus = "submission_failed"
	StatusConfirmationFailed  FilingStatus = "confirmation_failed"
	StatusInteractionRequired FilingStatus = "interaction_required"
	StatusError               FilingStatus = "error"
)

// Terminal reports whether no further transitions are allowed.
func (s FilingStatus) Terminal() bool {
	return s != StatusStarted && s != ""
}

// FilingResult is the record of one filing attempt.
type FilingResult struct {
	FilingID            string        `json:"filing_id" dynamodbav:"filingId"`
	ApplicationID       string        `json:"application_id" dynamodbav:"applicationId"`
	Status              FilingStatus  `json:"status" dynamodbav:"status"`
	StepsCompleted      []string      `json:"steps_completed" dynamodbav:"stepsCompleted"`
	ConfirmationNumber  string        `json:"confirmation_number,omitempty" dynamodbav:"confirmationNumber,omitempty"`
	Error               string        `json:"error,omitempty" dynamodbav:"errorMessage,omitempty"`
	ProcessingTime      time.Duration `json:"processing_time" dynamodbav:"processingTimeNanos"`
	RequiresHumanReview bool          `json:"requires_human_review" dynamodbav:"requiresHumanReview"`
	ReviewReasons       []string      `json:"review_reasons,omitempty" dynamodbav:"reviewReasons,omitempty"`
	StartedAt           time.Time     `json:"started_at" dynamodbav:"startedAt"`
	CompletedAt         time.Time     `json:"completed_at,omitempty" dynamodbav:"completedAt,omitempty"`
}

// Recorder is the only writer of a FilingResult. Once a terminal status is
// set every further mutation is ignored.
type Recorder struct {
	mu     sync.Mutex
	result FilingResult
	now    func() time.Time
}

// NewRecorder starts a result in the "started" state.
func NewRecorder(filingID, applicationID string, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{
		now: now,
		result: FilingResult{
			FilingID:       filingID,
			ApplicationID:  applicationID,
			Status:         StatusStarted,
			StepsCompleted: []string{},
			StartedAt:      now().UTC(),
		},
	}
}

// Step appends a completed transition.
func (r *Recorder) Step(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result.Status.Terminal() {
		return
	}
	r.result.StepsCompleted = append(r.result.StepsCompleted, name)
}

// AddReviewReasons records advisory review reasons.
func (r *Recorder) AddReviewReasons(reasons ...string) {
	if len(reasons) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result.Status.Terminal() {
		return
	}
	r.result.ReviewReasons = append(r.result.ReviewReasons, reasons...)
	r.result.RequiresHumanReview = true
}

// SetConfirmation stores the portal confirmation number.
func (r *Recorder) SetConfirmation(number string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result.Status.Terminal() {
		return
	}
	r.result.ConfirmationNumber = number
}

// Finish freezes the result. The first call wins.
func (r *Recorder) Finish(status FilingStatus, errMsg string) FilingResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.result.Status.Terminal() {
		now := r.now().UTC()
		r.result.Status = status
		r.result.Error = errMsg
		r.result.CompletedAt = now
		r.result.ProcessingTime = now.Sub(r.result.StartedAt)
	}
	return r.snapshot()
}

// Result returns a copy of the current record.
func (r *Recorder) Result() FilingResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

func (r *Recorder) snapshot() FilingResult {
	out := r.result
	out.StepsCompleted = append([]string(nil), r.result.StepsCompleted...)
	out.ReviewReasons = append([]string(nil), r.result.ReviewReasons...)
	return out
}
