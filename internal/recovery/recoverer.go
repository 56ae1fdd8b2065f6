package recovery

import (
	"context"
	"fmt"

	"github.com/wolfman30/lca-filing-automation/internal/browser"
	"github.com/wolfman30/lca-filing-automation/internal/formschema"
	"github.com/wolfman30/lca-filing-automation/internal/lca"
	"github.com/wolfman30/lca-filing-automation/internal/portal"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

// Fixer proposes corrected values for erroring fields.
type Fixer interface {
	ProposeErrorFixes(ctx context.Context, section formschema.Section, errs []lca.FieldError, state map[string]any) (map[string]lca.FieldFix, error)
}

// Outcome reports one recovery pass.
type Outcome struct {
	// Errors found before any fix was attempted.
	Errors []lca.FieldError
	// Remaining errors after the fix attempt.
	Remaining []lca.FieldError
	Attempted bool
	Fixes     map[string]lca.FieldFix
	FixErr    error
}

// Clean reports whether the page had no errors to begin with.
func (o Outcome) Clean() bool { return len(o.Errors) == 0 }

// Resolved is true only when no error remains. Fewer errors is still failure.
func (o Outcome) Resolved() bool { return len(o.Errors) == 0 || (o.Attempted && len(o.Remaining) == 0) }

// Recoverer runs the single automatic fix attempt for a section.
type Recoverer struct {
	detector Detector
	fixer    Fixer
	filler   *portal.Filler
	logger   *logging.Logger
}

// NewRecoverer builds a Recoverer. A nil fixer means errors always escalate.
func NewRecoverer(fixer Fixer, filler *portal.Filler, logger *logging.Logger) *Recoverer {
	if filler == nil {
		panic("recovery: filler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Recoverer{fixer: fixer, filler: filler, logger: logger}
}

// Scan exposes the detector.
func (r *Recoverer) Scan(ctx context.Context, d browser.Driver) ([]lca.FieldError, error) {
	return r.detector.Scan(ctx, d)
}

// Recover scans the page and, when errors are present, applies one round of
// oracle fixes and rescans. The error return is reserved for page access
// failures; an unfixable page is reported through Outcome.
func (r *Recoverer) Recover(ctx context.Context, section formschema.Section, d browser.Driver) (Outcome, error) {
	errs, err := r.detector.Scan(ctx, d)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Errors: errs, Remaining: errs}
	if len(errs) == 0 || r.fixer == nil {
		return out, nil
	}

	r.logger.Warn("validation errors detected", "section", section.Name, "count", len(errs))
	state, err := portal.Snapshot(ctx, d)
	if err != nil {
		return out, err
	}

	out.Attempted = true
	fixes, err := r.fixer.ProposeErrorFixes(ctx, section, errs, state)
	if err != nil {
		r.logger.Warn("error fix proposal failed", "section", section.Name, "error", err)
		out.FixErr = err
		return out, nil
	}
	out.Fixes = fixes

	for fieldID, fix := range fixes {
		field, ok := section.Field(fieldID)
		if !ok {
			field = formschema.Field{ID: fieldID, Type: formschema.TypeText}
		}
		if err := r.filler.Apply(ctx, d, field, fix.Value); err != nil {
			r.logger.Warn("failed to apply fix", "section", section.Name, "field", fieldID, "error", err)
			continue
		}
		r.logger.Info("applied fix", "section", section.Name, "field", fieldID, "reasoning", fix.Reasoning)
	}

	remaining, err := r.detector.Scan(ctx, d)
	if err != nil {
		return out, fmt.Errorf("recovery: rescan: %w", err)
	}
	out.Remaining = remaining
	if len(remaining) > 0 {
		r.logger.Warn("errors remain after fix attempt", "section", section.Name, "before", len(errs), "after", len(remaining))
	}
	return out, nil
}
