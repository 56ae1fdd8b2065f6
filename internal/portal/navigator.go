package portal

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/wolfman30/lca-filing-automation/internal/browser"
	"github.com/wolfman30/lca-filing-automation/internal/lca"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

var (
	// ErrCaptcha means the login page shows a CAPTCHA. There is no solver; an
	// operator has to log in manually.
	ErrCaptcha = errors.New("portal: CAPTCHA challenge on login page requires manual login")
	// ErrTOTPRequired means the portal asked for a second factor but the
	// credentials carry no TOTP secret.
	ErrTOTPRequired = errors.New("portal: two-factor code requested but no TOTP secret configured")
	// ErrLoginRejected wraps the portal's own login error text.
	ErrLoginRejected = errors.New("portal: login rejected")
	// ErrNoDashboard means login completed without reaching the dashboard.
	ErrNoDashboard = errors.New("portal: dashboard not reached after login")
	// ErrNoConfirmation means no confirmation number appeared after submit.
	ErrNoConfirmation = errors.New("portal: confirmation number not found")
)

// Navigator moves a browser session through the portal.
type Navigator struct {
	portalURL string
	sel       Selectors
	retries   int
	backoff   time.Duration
	logger    *logging.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NavigatorOption customizes a Navigator.
type NavigatorOption func(*Navigator)

func WithSelectors(sel Selectors) NavigatorOption {
	return func(n *Navigator) { n.sel = sel }
}

// WithNavigationRetries sets how many times a failed page load is retried.
func WithNavigationRetries(retries int) NavigatorOption {
	return func(n *Navigator) {
		if retries >= 0 {
			n.retries = retries
		}
	}
}

func WithNavigatorLogger(logger *logging.Logger) NavigatorOption {
	return func(n *Navigator) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithNavigatorClock overrides the clock used for TOTP codes and the retry
// sleep. Tests pass a fixed clock and a no-op sleep.
func WithNavigatorClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) NavigatorOption {
	return func(n *Navigator) {
		if now != nil {
			n.now = now
		}
		if sleep != nil {
			n.sleep = sleep
		}
	}
}

func NewNavigator(portalURL string, opts ...NavigatorOption) *Navigator {
	n := &Navigator{
		portalURL: portalURL,
		sel:       DefaultSelectors(),
		retries:   2,
		backoff:   2 * time.Second,
		logger:    logging.Default(),
		now:       time.Now,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Selectors returns the bindings in use.
func (n *Navigator) Selectors() Selectors { return n.sel }

// Open loads the portal landing page, retrying transport failures.
func (n *Navigator) Open(ctx context.Context, d browser.Driver) error {
	var err error
	for attempt := 0; attempt <= n.retries; attempt++ {
		if attempt > 0 {
			n.logger.Warn("retrying portal navigation", "attempt", attempt, "error", err)
			if serr := n.sleep(ctx, time.Duration(attempt)*n.backoff); serr != nil {
				return serr
			}
		}
		if err = d.Navigate(ctx, n.portalURL); err == nil {
			if err = d.WaitForLoad(ctx); err == nil {
				n.logger.Info("navigated to FLAG portal", "url", n.portalURL)
				return nil
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("portal: open %s: %w", n.portalURL, err)
}

// Login authenticates with username, password and, when asked, a TOTP code.
func (n *Navigator) Login(ctx context.Context, d browser.Driver, creds *lca.Credentials) error {
	if creds == nil || creds.Username == "" || creds.Password == "" {
		return fmt.Errorf("%w: missing username or password", ErrLoginRejected)
	}
	if err := d.Fill(ctx, n.sel.Username, creds.Username); err != nil {
		return fmt.Errorf("portal: enter username: %w", err)
	}
	if err := d.Fill(ctx, n.sel.Password, creds.Password); err != nil {
		return fmt.Errorf("portal: enter password: %w", err)
	}

	captcha, err := d.IsVisible(ctx, n.sel.Captcha)
	if err != nil {
		return fmt.Errorf("portal: check captcha: %w", err)
	}
	if captcha {
		return ErrCaptcha
	}

	if err := d.Click(ctx, n.sel.LoginButton); err != nil {
		return fmt.Errorf("portal: submit login: %w", err)
	}
	if err := d.WaitForLoad(ctx); err != nil {
		return fmt.Errorf("portal: wait for login: %w", err)
	}

	if err := n.secondFactor(ctx, d, creds); err != nil {
		return err
	}

	if msg, shown := n.textOf(ctx, d, n.sel.LoginError); shown {
		return fmt.Errorf("%w: %s", ErrLoginRejected, msg)
	}

	ok, err := d.IsVisible(ctx, n.sel.Dashboard)
	if err != nil {
		return fmt.Errorf("portal: check dashboard: %w", err)
	}
	if !ok {
		return ErrNoDashboard
	}
	n.logger.Info("logged in to FLAG portal")
	return nil
}

func (n *Navigator) secondFactor(ctx context.Context, d browser.Driver, creds *lca.Credentials) error {
	prompted, err := d.IsVisible(ctx, n.sel.TOTPInput)
	if err != nil {
		return fmt.Errorf("portal: check two-factor prompt: %w", err)
	}
	if !prompted {
		return nil
	}
	if strings.TrimSpace(creds.TOTPSecret) == "" {
		return ErrTOTPRequired
	}
	code, err := totp.GenerateCode(creds.TOTPSecret, n.now())
	if err != nil {
		return fmt.Errorf("portal: generate TOTP code: %w", err)
	}
	if err := d.Fill(ctx, n.sel.TOTPInput, code); err != nil {
		return fmt.Errorf("portal: enter TOTP code: %w", err)
	}
	if err := d.Click(ctx, n.sel.TOTPSubmit); err != nil {
		return fmt.Errorf("portal: submit TOTP code: %w", err)
	}
	if err := d.WaitForLoad(ctx); err != nil {
		return fmt.Errorf("portal: wait for TOTP verification: %w", err)
	}
	n.logger.Info("two-factor authentication completed")
	return nil
}

// SelectForm opens a new LCA and picks the form type.
func (n *Navigator) SelectForm(ctx context.Context, d browser.Driver, formType string) error {
	if err := d.Click(ctx, n.sel.NewLCA); err != nil {
		return fmt.Errorf("portal: open new LCA: %w", err)
	}
	if err := d.WaitForLoad(ctx); err != nil {
		return fmt.Errorf("portal: wait for new LCA: %w", err)
	}
	option := fmt.Sprintf(n.sel.FormTypeRadio, quoteAttr(formType))
	if err := d.Click(ctx, option); err != nil {
		return fmt.Errorf("portal: select form type %q: %w", formType, err)
	}
	if err := d.Click(ctx, n.sel.Continue); err != nil {
		return fmt.Errorf("portal: continue after form type: %w", err)
	}
	if err := d.WaitForLoad(ctx); err != nil {
		return fmt.Errorf("portal: wait for first section: %w", err)
	}
	n.logger.Info("selected form type", "form_type", formType)
	return nil
}

// Save clicks the section's save button when the portal shows one.
func (n *Navigator) Save(ctx context.Context, d browser.Driver) error {
	visible, err := d.IsVisible(ctx, n.sel.Save)
	if err != nil {
		return fmt.Errorf("portal: check save button: %w", err)
	}
	if !visible {
		return nil
	}
	if err := d.Click(ctx, n.sel.Save); err != nil {
		return fmt.Errorf("portal: save section: %w", err)
	}
	return d.WaitForLoad(ctx)
}

// Continue advances to the next section.
func (n *Navigator) Continue(ctx context.Context, d browser.Driver) error {
	visible, err := d.IsVisible(ctx, n.sel.Continue)
	if err != nil {
		return fmt.Errorf("portal: check continue button: %w", err)
	}
	if !visible {
		return fmt.Errorf("portal: continue button not found")
	}
	if err := d.Click(ctx, n.sel.Continue); err != nil {
		return fmt.Errorf("portal: continue: %w", err)
	}
	return d.WaitForLoad(ctx)
}

// Submit sends the completed form and accepts the confirm dialog if shown.
func (n *Navigator) Submit(ctx context.Context, d browser.Driver) error {
	if err := d.Click(ctx, n.sel.Submit); err != nil {
		return fmt.Errorf("portal: submit: %w", err)
	}
	if err := d.WaitForLoad(ctx); err != nil {
		return fmt.Errorf("portal: wait for submit: %w", err)
	}
	confirm, err := d.IsVisible(ctx, n.sel.Confirm)
	if err != nil {
		return fmt.Errorf("portal: check confirm dialog: %w", err)
	}
	if confirm {
		if err := d.Click(ctx, n.sel.Confirm); err != nil {
			return fmt.Errorf("portal: confirm submit: %w", err)
		}
		if err := d.WaitForLoad(ctx); err != nil {
			return fmt.Errorf("portal: wait for confirmation: %w", err)
		}
	}
	return nil
}

var confirmationPattern = regexp.MustCompile(`(?i)confirmation\s*(?:number|no\.?|#)?\s*[:#]?\s*([A-Z0-9][A-Z0-9-]{5,})`)

// ConfirmationNumber reads the confirmation number from the result page,
// falling back to the page text.
func (n *Navigator) ConfirmationNumber(ctx context.Context, d browser.Driver) (string, error) {
	if text, ok := n.textOf(ctx, d, n.sel.Confirmation); ok && text != "" {
		return text, nil
	}
	page, err := d.PageText(ctx)
	if err != nil {
		return "", fmt.Errorf("portal: read confirmation page: %w", err)
	}
	if m := confirmationPattern.FindStringSubmatch(page); m != nil {
		return m[1], nil
	}
	return "", ErrNoConfirmation
}

// ExtendSession dismisses the session expiry warning if present.
func (n *Navigator) ExtendSession(ctx context.Context, d browser.Driver) (bool, error) {
	visible, err := d.IsVisible(ctx, n.sel.SessionExtend)
	if err != nil || !visible {
		return false, err
	}
	if err := d.Click(ctx, n.sel.SessionExtend); err != nil {
		return false, fmt.Errorf("portal: extend session: %w", err)
	}
	return true, nil
}

func (n *Navigator) textOf(ctx context.Context, d browser.Driver, selector string) (string, bool) {
	el, err := d.FindElement(ctx, selector)
	if err != nil || !el.Visible {
		return "", false
	}
	return strings.TrimSpace(el.Text), true
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
