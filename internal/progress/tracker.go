// Package progress keeps a monotonically advancing view of each filing and
// broadcasts every change to observers.
package progress

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/wolfman30/lca-filing-automation/internal/lca"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

// Stage is a coarse phase of a filing.
type Stage string

const (
	StageInitialization Stage = "initialization"
	StageNavigation     Stage = "navigation"
	StageAuthentication Stage = "authentication"
	StageFormSelection  Stage = "form_selection"
	StageFormFilling    Stage = "form_filling"
	StageReview         Stage = "review"
	StageSubmission     Stage = "submission"
)

// Stages lists every stage in filing order.
var Stages = []Stage{
	StageInitialization, StageNavigation, StageAuthentication,
	StageFormSelection, StageFormFilling, StageReview, StageSubmission,
}

type span struct{ lo, hi float64 }

var ranges = map[Stage]span{
	StageInitialization: {0, 5},
	StageNavigation:     {5, 10},
	StageAuthentication: {10, 15},
	StageFormSelection:  {15, 20},
	StageFormFilling:    {20, 80},
	StageReview:         {80, 90},
	StageSubmission:     {90, 100},
}

// Range returns the percentage range of a stage.
func Range(s Stage) (lo, hi float64, ok bool) {
	r, ok := ranges[s]
	return r.lo, r.hi, ok
}

type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// Step is the per-stage view.
type Step struct {
	Stage     Stage      `json:"stage"`
	Status    StepStatus `json:"status"`
	Percent   int        `json:"percent"`
	Message   string     `json:"message,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Overall filing status values.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusPaused     = "paused"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// State is a point-in-time copy of a filing's progress.
type State struct {
	FilingID            string        `json:"filing_id"`
	Stage               Stage         `json:"stage"`
	Percentage          float64       `json:"percentage"`
	CurrentSection      string        `json:"current_section,omitempty"`
	CurrentStep         string        `json:"current_step,omitempty"`
	SectionsCompleted   int           `json:"sections_completed"`
	SectionsTotal       int           `json:"sections_total"`
	Steps               []Step        `json:"steps"`
	Status              string        `json:"status"`
	AwaitingInteraction bool          `json:"awaiting_interaction"`
	Message             string        `json:"message,omitempty"`
	StartedAt           time.Time     `json:"started_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
	Elapsed             time.Duration `json:"elapsed"`
}

type EventType string

const (
	EventStepStarted         EventType = "step_started"
	EventStepCompleted       EventType = "step_completed"
	EventStepFailed          EventType = "step_failed"
	EventStepProgress        EventType = "step_progress"
	EventSectionStarted      EventType = "section_started"
	EventSectionCompleted    EventType = "section_completed"
	EventInteractionRequired EventType = "interaction_required"
	EventInteractionResolved EventType = "interaction_resolved"
	EventFilingFinished      EventType = "filing_finished"
)

// Event is delivered to observers after every tracker mutation.
type Event struct {
	FilingID string    `json:"filing_id"`
	Type     EventType `json:"type"`
	Message  string    `json:"message,omitempty"`
	State    State     `json:"state"`
	At       time.Time `json:"at"`
}

// Observer watches a filing. Returned errors and panics are logged and
// otherwise ignored.
type Observer interface {
	OnStatusUpdate(ctx context.Context, ev Event) error
}

type ObserverFunc func(ctx context.Context, ev Event) error

func (f ObserverFunc) OnStatusUpdate(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Tracker records one filing's progress.
type Tracker struct {
	mu        sync.Mutex
	state     State
	steps     map[Stage]*Step
	observers []Observer
	logger    *logging.Logger
	now       func() time.Time
}

type Option func(*Tracker)

func WithObservers(obs ...Observer) Option {
	return func(t *Tracker) { t.observers = append(t.observers, obs...) }
}

func WithLogger(l *logging.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker starts tracking filingID, whose form has totalSections sections.
func NewTracker(filingID string, totalSections int, opts ...Option) *Tracker {
	t := &Tracker{
		steps:  make(map[Stage]*Step, len(Stages)),
		logger: logging.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	for _, s := range Stages {
		t.steps[s] = &Step{Stage: s, Status: StepPending}
	}
	started := t.now()
	t.state = State{
		FilingID:      filingID,
		Stage:         StageInitialization,
		SectionsTotal: totalSections,
		Status:        StatusPending,
		StartedAt:     started,
		UpdatedAt:     started,
	}
	return t
}

// AddObserver registers another observer.
func (t *Tracker) AddObserver(o Observer) {
	if o == nil {
		return
	}
	t.mu.Lock()
	t.observers = append(t.observers, o)
	t.mu.Unlock()
}

// FilingID returns the tracked filing.
func (t *Tracker) FilingID() string { return t.state.FilingID }

func (t *Tracker) StartStep(ctx context.Context, stage Stage, message string) {
	t.mutate(ctx, EventStepStarted, message, func(now time.Time) {
		step := t.step(stage)
		step.Status = StepInProgress
		step.StartedAt = &now
		step.EndedAt = nil
		step.Message = message
		t.state.Stage = stage
		t.state.CurrentStep = string(stage)
		t.state.Status = StatusInProgress
		t.advance(ranges[stage].lo)
	})
}

func (t *Tracker) CompleteStep(ctx context.Context, stage Stage, message string) {
	t.mutate(ctx, EventStepCompleted, message, func(now time.Time) {
		step := t.step(stage)
		step.Status = StepCompleted
		step.Percent = 100
		step.EndedAt = &now
		if message != "" {
			step.Message = message
		}
		t.advance(ranges[stage].hi)
	})
}

func (t *Tracker) FailStep(ctx context.Context, stage Stage, message string) {
	t.mutate(ctx, EventStepFailed, message, func(now time.Time) {
		step := t.step(stage)
		step.Status = StepFailed
		step.EndedAt = &now
		step.Message = message
		t.state.Status = StatusFailed
	})
}

// UpdateStepProgress moves a stage to pct percent of its range. A step does
// not reach 100 until it completes.
func (t *Tracker) UpdateStepProgress(ctx context.Context, stage Stage, pct int, message string) {
	pct = min(max(pct, 0), 99)
	t.mutate(ctx, EventStepProgress, message, func(time.Time) {
		step := t.step(stage)
		if pct > step.Percent {
			step.Percent = pct
		}
		if message != "" {
			step.Message = message
		}
		r := ranges[stage]
		t.advance(r.lo + (r.hi-r.lo)*float64(pct)/100)
	})
}

func (t *Tracker) SectionStarted(ctx context.Context, section string) {
	t.mutate(ctx, EventSectionStarted, section, func(time.Time) {
		t.state.CurrentSection = section
		t.state.CurrentStep = "section:" + section
	})
}

// SectionCompleted interpolates the form filling range by completed sections.
func (t *Tracker) SectionCompleted(ctx context.Context, section string) {
	t.mutate(ctx, EventSectionCompleted, section, func(time.Time) {
		t.state.SectionsCompleted++
		total := t.state.SectionsTotal
		if total <= 0 {
			return
		}
		done := min(t.state.SectionsCompleted, total)
		frac := float64(done) / float64(total)
		step := t.step(StageFormFilling)
		if p := int(frac * 100); p > step.Percent && p < 100 {
			step.Percent = p
		}
		r := ranges[StageFormFilling]
		t.advance(r.lo + (r.hi-r.lo)*frac)
	})
}

func (t *Tracker) InteractionRequired(ctx context.Context, section, message string) {
	t.mutate(ctx, EventInteractionRequired, message, func(time.Time) {
		t.state.AwaitingInteraction = true
		t.state.CurrentSection = section
		t.state.Status = StatusPaused
	})
}

func (t *Tracker) InteractionResolved(ctx context.Context, section string) {
	t.mutate(ctx, EventInteractionResolved, section, func(time.Time) {
		t.state.AwaitingInteraction = false
		t.state.Status = StatusInProgress
	})
}

// Finish records the terminal filing status. Success pins the percentage to
// 100; every other status keeps the percentage reached.
func (t *Tracker) Finish(ctx context.Context, status lca.FilingStatus, message string) {
	t.mutate(ctx, EventFilingFinished, message, func(time.Time) {
		t.state.AwaitingInteraction = false
		if status == lca.StatusSuccess {
			t.state.Status = StatusCompleted
			t.advance(100)
			return
		}
		t.state.Status = StatusFailed
	})
}

// State returns a copy of the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot(t.now())
}

func (t *Tracker) step(s Stage) *Step {
	st, ok := t.steps[s]
	if !ok {
		st = &Step{Stage: s, Status: StepPending}
		t.steps[s] = st
	}
	return st
}

// advance never lowers the percentage.
func (t *Tracker) advance(pct float64) {
	pct = math.Round(min(max(pct, 0), 100)*100) / 100
	if pct > t.state.Percentage {
		t.state.Percentage = pct
	}
}

func (t *Tracker) snapshot(now time.Time) State {
	s := t.state
	s.Steps = make([]Step, 0, len(t.steps))
	for _, stage := range Stages {
		s.Steps = append(s.Steps, *t.steps[stage])
	}
	s.Elapsed = now.Sub(s.StartedAt)
	return s
}

func (t *Tracker) mutate(ctx context.Context, typ EventType, message string, fn func(now time.Time)) {
	t.mu.Lock()
	now := t.now()
	fn(now)
	t.state.UpdatedAt = now
	if message != "" {
		t.state.Message = message
	}
	ev := Event{FilingID: t.state.FilingID, Type: typ, Message: message, State: t.snapshot(now), At: now}
	observers := append([]Observer(nil), t.observers...)
	t.mu.Unlock()

	for _, o := range observers {
		t.notify(ctx, o, ev)
	}
}

func (t *Tracker) notify(ctx context.Context, o Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("progress observer panicked", "filing_id", ev.FilingID, "event", ev.Type, "panic", fmt.Sprint(r))
		}
	}()
	if err := o.OnStatusUpdate(ctx, ev); err != nil {
		t.logger.Warn("progress observer failed", "filing_id", ev.FilingID, "event", ev.Type, "error", err)
	}
}
