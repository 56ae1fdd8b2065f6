package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/lca-filing-automation/internal/browser"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

// ErrSystemUnavailable means the portal kept showing a system error after
// every reload.
var ErrSystemUnavailable = errors.New("recovery: portal system error persisted after retries")

var systemErrorPhrases = []string{
	"system maintenance",
	"an unexpected error occurred",
	"service unavailable",
	"technical difficulties",
	"system error",
	"try again later",
}

var sessionExpiryPhrases = []string{
	"your session will expire",
	"session is about to expire",
}

// SessionExtender dismisses the session expiry warning.
type SessionExtender interface {
	ExtendSession(ctx context.Context, d browser.Driver) (bool, error)
}

// SystemSweep clears portal-level interruptions before a section is worked.
type SystemSweep struct {
	extender   SessionExtender
	maxRetries int
	backoff    time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *logging.Logger
}

// SweepOption configures a SystemSweep.
type SweepOption func(*SystemSweep)

func WithMaxRetries(n int) SweepOption {
	return func(s *SystemSweep) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithBackoff sets the wait between reloads; sleep may be replaced in tests.
func WithBackoff(d time.Duration, sleep func(ctx context.Context, d time.Duration) error) SweepOption {
	return func(s *SystemSweep) {
		s.backoff = d
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

func NewSystemSweep(extender SessionExtender, logger *logging.Logger, opts ...SweepOption) *SystemSweep {
	if logger == nil {
		logger = logging.Default()
	}
	s := &SystemSweep{
		extender:   extender,
		maxRetries: 3,
		backoff:    2 * time.Second,
		sleep:      sleepCtx,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check dismisses a session expiry warning and reloads through system error
// pages. It returns ErrSystemUnavailable once the retries are spent.
func (s *SystemSweep) Check(ctx context.Context, d browser.Driver) error {
	for attempt := 0; ; attempt++ {
		text, err := d.PageText(ctx)
		if err != nil {
			return fmt.Errorf("recovery: read page text: %w", err)
		}
		lower := strings.ToLower(text)

		if containsAny(lower, sessionExpiryPhrases) && s.extender != nil {
			if ok, err := s.extender.ExtendSession(ctx, d); err != nil {
				return err
			} else if ok {
				s.logger.Info("extended portal session")
			}
		}

		phrase, found := firstMatch(lower, systemErrorPhrases)
		if !found {
			return nil
		}
		if attempt >= s.maxRetries {
			return fmt.Errorf("%w: %q", ErrSystemUnavailable, phrase)
		}
		s.logger.Warn("portal system error, reloading", "phrase", phrase, "attempt", attempt+1)
		if err := s.sleep(ctx, time.Duration(attempt+1)*s.backoff); err != nil {
			return err
		}
		if err := d.Reload(ctx); err != nil {
			return fmt.Errorf("recovery: reload: %w", err)
		}
		if err := d.WaitForLoad(ctx); err != nil {
			return fmt.Errorf("recovery: wait after reload: %w", err)
		}
	}
}

func containsAny(s string, phrases []string) bool {
	_, ok := firstMatch(s, phrases)
	return ok
}

func firstMatch(s string, phrases []string) (string, bool) {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return p, true
		}
	}
	return "", false
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
