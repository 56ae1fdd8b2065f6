package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/lca-filing-automation/internal/browser"
	"github.com/wolfman30/lca-filing-automation/internal/browser/browsertest"
	"github.com/wolfman30/lca-filing-automation/internal/formschema"
	"github.com/wolfman30/lca-filing-automation/internal/lca"
	"github.com/wolfman30/lca-filing-automation/internal/portal"
)

const feinErrorPage = `<form>
  <div class="form-group">
    <label for="employer_fein">FEIN</label>
    <input id="employer_fein" value="12-3456789" aria-invalid="true">
    <span class="usa-error-message">FEIN must be 9 digits</span>
  </div>
</form>`

const cleanPage = `<form><div class="form-group"><input id="employer_fein" value="123456789"></div></form>`

func TestParseErrorsAssociation(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		want   []lca.FieldError
	}{
		{
			name:   "form group container",
			markup: feinErrorPage,
			want:   []lca.FieldError{{FieldID: "employer_fein", Message: "FEIN must be 9 digits"}},
		},
		{
			name:   "explicit attribute",
			markup: `<input id="a"><div class="field-error" data-field-id="employer_phone">Phone is required</div>`,
			want:   []lca.FieldError{{FieldID: "employer_phone", Message: "Phone is required"}},
		},
		{
			name:   "preceding input",
			markup: `<input id="wage_rate" value="10"><p class="error-message">Wage must exceed prevailing wage</p>`,
			want:   []lca.FieldError{{FieldID: "wage_rate", Message: "Wage must exceed prevailing wage"}},
		},
		{
			name:   "page level alert",
			markup: `<div role="alert"> Please correct   the errors below </div>`,
			want:   []lca.FieldError{{Message: "Please correct the errors below"}},
		},
		{
			name:   "radio group uses name",
			markup: `<div class="form-group"><input type="radio" name="full_time_position" value="Yes"><input type="radio" name="full_time_position" value="No"><span class="field-error">Select one</span></div>`,
			want:   []lca.FieldError{{FieldID: "full_time_position", Message: "Select one"}},
		},
		{
			name:   "empty messages ignored",
			markup: `<input id="x"><span class="error-message">   </span>`,
			want:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseErrors(tt.markup)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type fakeFixer struct {
	fixes map[string]lca.FieldFix
	err   error
	calls int
	state map[string]any
}

func (f *fakeFixer) ProposeErrorFixes(_ context.Context, _ formschema.Section, _ []lca.FieldError, state map[string]any) (map[string]lca.FieldFix, error) {
	f.calls++
	f.state = state
	return f.fixes, f.err
}

var employerSection = formschema.Section{
	Name:   "Section B: Employer Information",
	Fields: []formschema.Field{{ID: "employer_fein", Type: formschema.TypeText}},
}

func newRecoverer(fixer Fixer) *Recoverer {
	return NewRecoverer(fixer, portal.NewFiller(portal.DefaultSelectors(), nil), nil)
}

func TestRecoverCleanPage(t *testing.T) {
	fixer := &fakeFixer{}
	page := browsertest.NewPage("s1")
	page.HTML = cleanPage

	out, err := newRecoverer(fixer).Recover(context.Background(), employerSection, page)
	require.NoError(t, err)
	assert.True(t, out.Clean())
	assert.True(t, out.Resolved())
	assert.Zero(t, fixer.calls)
}

func TestRecoverFixSucceeds(t *testing.T) {
	fixer := &fakeFixer{fixes: map[string]lca.FieldFix{"employer_fein": {Value: "123456789", Reasoning: "digits only"}}}
	page := browsertest.NewPage("s1")
	page.HTML = feinErrorPage
	page.OnFill["#employer_fein"] = func(p *browsertest.Page, v string) {
		if v == "123456789" {
			p.HTML = cleanPage
		}
	}

	out, err := newRecoverer(fixer).Recover(context.Background(), employerSection, page)
	require.NoError(t, err)
	assert.True(t, out.Attempted)
	assert.True(t, out.Resolved())
	assert.Equal(t, 1, fixer.calls)
	assert.Equal(t, "12-3456789", fixer.state["employer_fein"])
	assert.Equal(t, "123456789", page.Value("#employer_fein"))
}

func TestRecoverPartialFixIsFailure(t *testing.T) {
	twoErrors := `<div class="form-group"><input id="employer_fein"><span class="error-message">bad fein</span></div>
<div class="form-group"><input id="employer_phone"><span class="error-message">bad phone</span></div>`
	oneError := `<div class="form-group"><input id="employer_phone"><span class="error-message">bad phone</span></div>`

	fixer := &fakeFixer{fixes: map[string]lca.FieldFix{"employer_fein": {Value: "123456789"}}}
	page := browsertest.NewPage("s1")
	page.HTML = twoErrors
	page.OnFill["#employer_fein"] = func(p *browsertest.Page, _ string) { p.HTML = oneError }

	out, err := newRecoverer(fixer).Recover(context.Background(), employerSection, page)
	require.NoError(t, err)
	assert.False(t, out.Resolved(), "fewer errors is still failure")
	assert.Len(t, out.Errors, 2)
	assert.Len(t, out.Remaining, 1)
	assert.Equal(t, 1, fixer.calls, "exactly one attempt")
}

func TestRecoverOracleFailureEscalates(t *testing.T) {
	fixer := &fakeFixer{err: errors.New("timeout")}
	page := browsertest.NewPage("s1")
	page.HTML = feinErrorPage

	out, err := newRecoverer(fixer).Recover(context.Background(), employerSection, page)
	require.NoError(t, err)
	assert.False(t, out.Resolved())
	assert.Error(t, out.FixErr)
	assert.Len(t, out.Remaining, 1)
}

func TestRecoverWithoutFixer(t *testing.T) {
	page := browsertest.NewPage("s1")
	page.HTML = feinErrorPage

	out, err := newRecoverer(nil).Recover(context.Background(), employerSection, page)
	require.NoError(t, err)
	assert.False(t, out.Attempted)
	assert.False(t, out.Resolved())
}

type extender struct{ calls int }

func (e *extender) ExtendSession(context.Context, browser.Driver) (bool, error) {
	e.calls++
	return true, nil
}

func TestSystemSweep(t *testing.T) {
	noSleep := func(context.Context, time.Duration) error { return nil }

	t.Run("reload clears system error", func(t *testing.T) {
		page := browsertest.NewPage("s1")
		page.Text = "An unexpected error occurred. Please try again."
		page.OnReload = func(p *browsertest.Page) { p.Text = "Section C" }

		s := NewSystemSweep(nil, nil, WithBackoff(time.Second, noSleep))
		require.NoError(t, s.Check(context.Background(), page))
		assert.True(t, page.Did("reload", ""))
	})

	t.Run("persistent error exhausts retries", func(t *testing.T) {
		page := browsertest.NewPage("s1")
		page.Text = "Service Unavailable"
		reloads := 0
		page.OnReload = func(*browsertest.Page) { reloads++ }

		s := NewSystemSweep(nil, nil, WithMaxRetries(3), WithBackoff(time.Second, noSleep))
		err := s.Check(context.Background(), page)
		assert.ErrorIs(t, err, ErrSystemUnavailable)
		assert.Equal(t, 3, reloads)
	})

	t.Run("session expiry is extended", func(t *testing.T) {
		page := browsertest.NewPage("s1")
		page.Text = "Warning: your session will expire in 2 minutes"
		ext := &extender{}

		require.NoError(t, NewSystemSweep(ext, nil).Check(context.Background(), page))
		assert.Equal(t, 1, ext.calls)
		assert.False(t, page.Did("reload", ""))
	})
}
