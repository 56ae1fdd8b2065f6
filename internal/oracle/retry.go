package oracle

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/wolfman30/lca-filing-automation/internal/formschema"
	"github.com/wolfman30/lca-filing-automation/internal/lca"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

// RetryPolicy bounds how often an oracle call is repeated.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Limiter, when set, paces every attempt across all filings.
	Limiter *rate.Limiter

	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy makes three attempts with 4s to 10s backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 4 * time.Second, MaxDelay: 10 * time.Second}
}

// Delay returns the wait before the given retry (1-based).
func (p RetryPolicy) Delay(retry int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < retry; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, the attempts run out, or ctx ends. The last
// error is returned unchanged.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if p.Limiter != nil {
			if werr := p.Limiter.Wait(ctx); werr != nil {
				return werr
			}
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return err
		}
		if attempt == attempts {
			break
		}
		if serr := sleep(ctx, p.Delay(attempt)); serr != nil {
			return serr
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryingOracle applies a RetryPolicy to every call of the wrapped oracle.
type RetryingOracle struct {
	next   Oracle
	policy RetryPolicy
	logger *logging.Logger
}

func NewRetryingOracle(next Oracle, policy RetryPolicy, logger *logging.Logger) *RetryingOracle {
	if next == nil {
		panic("oracle: wrapped oracle cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RetryingOracle{next: next, policy: policy, logger: logger}
}

func (r *RetryingOracle) ProposeSectionDecisions(ctx context.Context, section formschema.Section, app lca.Application) ([]lca.FieldDecision, error) {
	var out []lca.FieldDecision
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.next.ProposeSectionDecisions(ctx, section, app)
		r.logAttempt("section_decisions", err)
		return err
	})
	return out, err
}

func (r *RetryingOracle) ProposeErrorFixes(ctx context.Context, section formschema.Section, errs []lca.FieldError, state map[string]any) (map[string]lca.FieldFix, error) {
	var out map[string]lca.FieldFix
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.next.ProposeErrorFixes(ctx, section, errs, state)
		r.logAttempt("error_fixes", err)
		return err
	})
	return out, err
}

func (r *RetryingOracle) Validate(ctx context.Context, app lca.Application) (lca.ValidationReport, error) {
	var out lca.ValidationReport
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.next.Validate(ctx, app)
		r.logAttempt("validate", err)
		return err
	})
	return out, err
}

func (r *RetryingOracle) logAttempt(op string, err error) {
	if err != nil {
		r.logger.Warn("oracle attempt failed", "op", op, "error", err)
	}
}
