// Package filing runs LCA filings end to end: validation, portal login, the
// section-by-section fill with error recovery and operator hand-off, and the
// final submission.
package filing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/lca-filing-automation/internal/browser"
	"github.com/wolfman30/lca-filing-automation/internal/decision"
	"github.com/wolfman30/lca-filing-automation/internal/formschema"
	"github.com/wolfman30/lca-filing-automation/internal/interaction"
	"github.com/wolfman30/lca-filing-automation/internal/lca"
	"github.com/wolfman30/lca-filing-automation/internal/observability/metrics"
	"github.com/wolfman30/lca-filing-automation/internal/portal"
	"github.com/wolfman30/lca-filing-automation/internal/progress"
	"github.com/wolfman30/lca-filing-automation/internal/recovery"
	"github.com/wolfman30/lca-filing-automation/internal/validation"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

// SessionPool hands out browser sessions exclusively.
type SessionPool interface {
	Acquire(ctx context.Context) (browser.PooledDriver, error)
	Release(d browser.PooledDriver, healthy bool)
}

// Validator checks and normalizes an application.
type Validator interface {
	Validate(ctx context.Context, app lca.Application) validation.Result
}

// Portal is the page-flow capability of the FLAG portal.
type Portal interface {
	Open(ctx context.Context, d browser.Driver) error
	Login(ctx context.Context, d browser.Driver, creds *lca.Credentials) error
	SelectForm(ctx context.Context, d browser.Driver, formType string) error
	Save(ctx context.Context, d browser.Driver) error
	Continue(ctx context.Context, d browser.Driver) error
	Submit(ctx context.Context, d browser.Driver) error
	ConfirmationNumber(ctx context.Context, d browser.Driver) (string, error)
}

// Decider resolves field values for a section.
type Decider interface {
	DecideSection(ctx context.Context, section formschema.Section, app lca.Application, known map[string]any) (decision.SectionDecisions, error)
}

// Filler writes values into the page.
type Filler interface {
	FillSection(ctx context.Context, d browser.Driver, section formschema.Section, decisions []lca.FieldDecision) lca.SectionResult
	Apply(ctx context.Context, d browser.Driver, field formschema.Field, value any) error
}

// Recoverer detects and auto-fixes section validation errors.
type Recoverer interface {
	Recover(ctx context.Context, section formschema.Section, d browser.Driver) (recovery.Outcome, error)
	Scan(ctx context.Context, d browser.Driver) ([]lca.FieldError, error)
}

// Sweeper clears portal-level error pages.
type Sweeper interface {
	Check(ctx context.Context, d browser.Driver) error
}

// Interactor suspends a filing until an operator answers.
type Interactor interface {
	Request(ctx context.Context, filingID string, req interaction.Request) (interaction.Result, error)
}

// ScreenshotStore keeps screenshots and returns a reference to them.
type ScreenshotStore interface {
	PutScreenshot(ctx context.Context, filingID, label string, png []byte) (string, error)
}

// Deps are the collaborators of an Orchestrator. Sweep, Bridge, Screenshots,
// Progress and Metrics are optional.
type Deps struct {
	Schema      *formschema.Schema
	Pool        SessionPool
	Validator   Validator
	Portal      Portal
	Decider     Decider
	Filler      Filler
	Recoverer   Recoverer
	Sweep       Sweeper
	Bridge      Interactor
	Screenshots ScreenshotStore
	Progress    *progress.Registry
	Metrics     *metrics.FilingMetrics
}

// Config bounds the orchestrator's waits.
type Config struct {
	StepTimeout          time.Duration
	MaxInteractionRounds int
}

const (
	defaultStepTimeout          = 60 * time.Second
	defaultMaxInteractionRounds = 3
)

// Steps recorded in FilingResult.StepsCompleted.
const (
	StepValidating     = "validating"
	StepNavigating     = "navigating"
	StepAuthenticating = "authenticating"
	StepSelectingForm  = "selecting_form"
	StepSubmitting     = "submitting"
	StepConfirming     = "confirming"
)

// SectionStep names a per-section transition, e.g. "section:<name>:filling".
func SectionStep(section, phase string) string {
	return "section:" + section + ":" + phase
}

// Orchestrator drives one filing at a time per call; calls for different
// filings may run concurrently.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *logging.Logger
	now    func() time.Time
}

// NewOrchestrator panics when a required collaborator is missing.
func NewOrchestrator(deps Deps, cfg Config, logger *logging.Logger) *Orchestrator {
	switch {
	case deps.Schema == nil || len(deps.Schema.Sections) == 0:
		panic("filing: form schema cannot be empty")
	case deps.Pool == nil:
		panic("filing: session pool cannot be nil")
	case deps.Validator == nil:
		panic("filing: validator cannot be nil")
	case deps.Portal == nil:
		panic("filing: portal cannot be nil")
	case deps.Decider == nil:
		panic("filing: decider cannot be nil")
	case deps.Filler == nil:
		panic("filing: filler cannot be nil")
	case deps.Recoverer == nil:
		panic("filing: recoverer cannot be nil")
	}
	if deps.Progress == nil {
		deps.Progress = progress.NewRegistry()
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = defaultStepTimeout
	}
	if cfg.MaxInteractionRounds <= 0 {
		cfg.MaxInteractionRounds = defaultMaxInteractionRounds
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger, now: time.Now}
}

// Progress returns the registry trackers are created in.
func (o *Orchestrator) Progress() *progress.Registry { return o.deps.Progress }

// run is the state of one filing.
type run struct {
	o        *Orchestrator
	filingID string
	rec      *lca.Recorder
	tracker  *progress.Tracker
	logger   *logging.Logger
	known    map[string]any
}

// FileApplication files app and returns the terminal result. It never
// panics; unexpected failures end in status "error".
func (o *Orchestrator) FileApplication(ctx context.Context, filingID string, app lca.Application) (res lca.FilingResult) {
	r := &run{
		o:        o,
		filingID: filingID,
		rec:      lca.NewRecorder(filingID, app.ID, o.now),
		tracker:  o.deps.Progress.Create(filingID, len(o.deps.Schema.Sections)),
		logger:   o.logger.With("filing_id", filingID, "application_id", app.ID),
		known:    make(map[string]any),
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("filing panicked", "panic", fmt.Sprint(p))
			res = r.finish(ctx, lca.StatusError, fmt.Sprintf("Unexpected error: %v", p))
		}
	}()
	return r.execute(ctx, app)
}

func (r *run) execute(ctx context.Context, app lca.Application) lca.FilingResult {
	o := r.o
	r.logger.Info("filing started", "form_type", app.EffectiveFormType())

	r.rec.Step(StepValidating)
	r.tracker.StartStep(ctx, progress.StageInitialization, "Validating application data")
	verdict := o.deps.Validator.Validate(ctx, app)
	if !verdict.Valid {
		r.tracker.FailStep(ctx, progress.StageInitialization, verdict.Notes)
		return r.finish(ctx, lca.StatusValidationFailed, verdict.Notes)
	}
	if verdict.Notes != "" {
		r.logger.Info("validation notes", "notes", verdict.Notes)
	}
	app = verdict.Application
	r.tracker.CompleteStep(ctx, progress.StageInitialization, "Application validated")

	d, err := o.deps.Pool.Acquire(ctx)
	if err != nil {
		return r.finish(ctx, lca.StatusNavigationFailed, "No browser session available: "+err.Error())
	}
	// A session that has seen credentials is never handed to another filing.
	loggedIn := false
	defer func() { o.deps.Pool.Release(d, !loggedIn) }()
	r.logger = r.logger.With("session_id", d.ID())

	r.rec.Step(StepNavigating)
	r.tracker.StartStep(ctx, progress.StageNavigation, "Opening the FLAG portal")
	if err := r.within(ctx, func(ctx context.Context) error { return o.deps.Portal.Open(ctx, d) }); err != nil {
		r.tracker.FailStep(ctx, progress.StageNavigation, err.Error())
		r.screenshot(ctx, d, "navigation failed")
		return r.finish(ctx, lca.StatusNavigationFailed, "Failed to navigate to FLAG portal: "+err.Error())
	}
	r.tracker.CompleteStep(ctx, progress.StageNavigation, "")

	r.rec.Step(StepAuthenticating)
	r.tracker.StartStep(ctx, progress.StageAuthentication, "Logging in")
	loggedIn = true
	if err := r.within(ctx, func(ctx context.Context) error { return o.deps.Portal.Login(ctx, d, app.Credentials) }); err != nil {
		r.tracker.FailStep(ctx, progress.StageAuthentication, err.Error())
		r.screenshot(ctx, d, "login failed")
		return r.finish(ctx, lca.StatusLoginFailed, loginMessage(err))
	}
	r.tracker.CompleteStep(ctx, progress.StageAuthentication, "")

	formType := app.EffectiveFormType()
	r.rec.Step(StepSelectingForm)
	r.tracker.StartStep(ctx, progress.StageFormSelection, "Selecting form "+formType)
	if err := r.within(ctx, func(ctx context.Context) error { return o.deps.Portal.SelectForm(ctx, d, formType) }); err != nil {
		r.tracker.FailStep(ctx, progress.StageFormSelection, err.Error())
		r.screenshot(ctx, d, "form selection failed")
		return r.finish(ctx, lca.StatusFormSelectionFailed, fmt.Sprintf("Failed to select %s form type: %v", formType, err))
	}
	r.tracker.CompleteStep(ctx, progress.StageFormSelection, "")

	r.tracker.StartStep(ctx, progress.StageFormFilling, "Filling form sections")
	sections := o.deps.Schema.Sections
	for i, section := range sections {
		last := i == len(sections)-1
		if status, msg, ok := r.fillSection(ctx, d, section, app, last); !ok {
			r.tracker.FailStep(ctx, progress.StageFormFilling, msg)
			return r.finish(ctx, status, msg)
		}
	}
	r.tracker.CompleteStep(ctx, progress.StageFormFilling, "")

	r.tracker.StartStep(ctx, progress.StageReview, "Reviewing form before submission")
	if err := r.sweep(ctx, d); err != nil {
		r.tracker.FailStep(ctx, progress.StageReview, err.Error())
		return r.finish(ctx, lca.StatusError, "Portal error before submission: "+err.Error())
	}
	r.tracker.CompleteStep(ctx, progress.StageReview, "")

	r.rec.Step(StepSubmitting)
	r.tracker.StartStep(ctx, progress.StageSubmission, "Submitting LCA form")
	if err := r.within(ctx, func(ctx context.Context) error { return o.deps.Portal.Submit(ctx, d) }); err != nil {
		r.tracker.FailStep(ctx, progress.StageSubmission, err.Error())
		r.screenshot(ctx, d, "submission failed")
		return r.finish(ctx, lca.StatusSubmissionFailed, "Failed to submit LCA form: "+err.Error())
	}
	r.tracker.UpdateStepProgress(ctx, progress.StageSubmission, 50, "Reading confirmation")

	r.rec.Step(StepConfirming)
	var number string
	err = r.within(ctx, func(ctx context.Context) error {
		var err error
		number, err = o.deps.Portal.ConfirmationNumber(ctx, d)
		return err
	})
	if err != nil {
		r.tracker.FailStep(ctx, progress.StageSubmission, err.Error())
		r.screenshot(ctx, d, "confirmation missing")
		return r.finish(ctx, lca.StatusConfirmationFailed, "Failed to get confirmation number: "+err.Error())
	}
	r.rec.SetConfirmation(number)
	r.tracker.CompleteStep(ctx, progress.StageSubmission, "Confirmation "+number)
	return r.finish(ctx, lca.StatusSuccess, "")
}

func loginMessage(err error) string {
	switch {
	case errors.Is(err, portal.ErrCaptcha):
		return "Failed to login to FLAG portal: CAPTCHA challenge requires manual login"
	case errors.Is(err, portal.ErrTOTPRequired):
		return "Failed to login to FLAG portal: two-factor code requested but no TOTP secret configured"
	default:
		return "Failed to login to FLAG portal: " + err.Error()
	}
}

// finish freezes the result and reports it. Observers still get the final
// event when ctx has been cancelled.
func (r *run) finish(ctx context.Context, status lca.FilingStatus, msg string) lca.FilingResult {
	res := r.rec.Finish(status, msg)
	r.tracker.Finish(context.WithoutCancel(ctx), res.Status, res.Error)
	r.o.deps.Metrics.ObserveFiling(string(res.Status), res.ProcessingTime)

	if res.Status == lca.StatusSuccess {
		r.logger.Info("filing succeeded", "confirmation_number", res.ConfirmationNumber,
			"requires_human_review", res.RequiresHumanReview, "elapsed", res.ProcessingTime)
	} else {
		r.logger.Warn("filing ended", "status", res.Status, "error", res.Error, "steps", len(res.StepsCompleted))
	}
	return res
}

// within runs fn under the per-step timeout.
func (r *run) within(ctx context.Context, fn func(ctx context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, r.o.cfg.StepTimeout)
	defer cancel()
	return fn(sctx)
}

func (r *run) sweep(ctx context.Context, d browser.Driver) error {
	if r.o.deps.Sweep == nil {
		return nil
	}
	return r.within(ctx, func(ctx context.Context) error { return r.o.deps.Sweep.Check(ctx, d) })
}

// screenshot captures the page and archives it when a store is configured.
// Failures are logged only.
func (r *run) screenshot(ctx context.Context, d browser.Driver, label string) (string, []byte) {
	ctx = context.WithoutCancel(ctx)
	png, err := d.Screenshot(ctx)
	if err != nil {
		r.logger.Warn("screenshot failed", "label", label, "error", err)
		return "", nil
	}
	if r.o.deps.Screenshots == nil {
		return "", png
	}
	ref, err := r.o.deps.Screenshots.PutScreenshot(ctx, r.filingID, label, png)
	if err != nil {
		r.logger.Warn("screenshot archive failed", "label", label, "error", err)
		return "", png
	}
	if ref != "" {
		r.logger.Info("screenshot archived", "label", label, "ref", ref)
	}
	return ref, png
}

func joinErrors(errs []lca.FieldError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, "; ")
}
