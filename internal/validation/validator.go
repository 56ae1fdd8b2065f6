// Package validation rejects unusable applications before any browser work
// starts and normalizes the ones that pass.
package validation

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/wolfman30/lca-filing-automation/internal/lca"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

// Oracle performs the AI plausibility review.
type Oracle interface {
	Validate(ctx context.Context, app lca.Application) (lca.ValidationReport, error)
}

// Result is the validator verdict. Application holds the normalized copy
// when Valid is true.
type Result struct {
	Valid       bool
	Notes       string
	Issues      []lca.ValidationIssue
	Application lca.Application
}

// Validator runs the rule-based checks and then the optional AI review.
type Validator struct {
	oracle Oracle
	logger *logging.Logger
}

// New creates a validator. oracle may be nil to skip the AI review.
func New(oracle Oracle, logger *logging.Logger) *Validator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Validator{oracle: oracle, logger: logger}
}

var validRateTypes = []string{"hour", "hourly", "week", "weekly", "biweekly", "bi-weekly", "month", "monthly", "year", "yearly", "annual"}

// Validate checks app. The input is never modified.
func (v *Validator) Validate(ctx context.Context, app lca.Application) Result {
	if msg, ok := Basic(app); !ok {
		v.logger.Warn("basic validation failed", "application_id", app.ID, "reason", msg)
		return Result{Notes: msg}
	}

	notes := "Basic validation passed"
	var issues []lca.ValidationIssue
	if v.oracle != nil {
		report, err := v.oracle.Validate(ctx, app)
		switch {
		case err != nil:
			v.logger.Warn("ai validation unavailable; continuing with rule checks",
				"application_id", app.ID, "error", err)
		case rejects(report):
			v.logger.Warn("ai validation failed", "application_id", app.ID, "issues", len(report.Issues))
			return Result{Notes: describe(report), Issues: report.Issues}
		default:
			issues = report.Issues
			if report.Notes != "" {
				notes = report.Notes
			}
		}
	}

	return Result{
		Valid:       true,
		Notes:       notes,
		Issues:      issues,
		Application: Normalize(app),
	}
}

// Basic runs the deterministic checks. It returns the first failure message.
func Basic(app lca.Application) (string, bool) {
	var missing []string
	if app.Employer == nil {
		missing = append(missing, "employer")
	}
	if app.Job == nil {
		missing = append(missing, "job")
	}
	if app.Wages == nil {
		missing = append(missing, "wages")
	}
	if app.Worksite == nil {
		missing = append(missing, "worksite")
	}
	if len(missing) > 0 {
		return "Missing required sections: " + strings.Join(missing, ", "), false
	}

	if c := app.Credentials; c == nil || strings.TrimSpace(c.Username) == "" || c.Password == "" {
		return "Missing credentials for FLAG portal", false
	}

	if msg, ok := checkWages(app.Wages); !ok {
		return msg, false
	}

	if fields := missingWorksiteFields(*app.Worksite); len(fields) > 0 {
		return "Missing required primary worksite fields: " + strings.Join(fields, ", "), false
	}

	if app.MultipleWorksites {
		if len(app.AdditionalWorksites) == 0 {
			return "Multiple worksites flag is set but no additional worksites provided", false
		}
		var problems []string
		for i, ws := range app.AdditionalWorksites {
			if fields := missingWorksiteFields(ws); len(fields) > 0 {
				problems = append(problems, fmt.Sprintf("Worksite #%d is missing required fields: %s", i+1, strings.Join(fields, ", ")))
			}
		}
		if len(problems) > 0 {
			return strings.Join(problems, "\n"), false
		}
	}
	return "", true
}

func checkWages(w *lca.Wages) (string, bool) {
	rate, pw := 0.0, 0.0
	var err error
	if !w.Rate.IsZero() {
		if rate, err = w.Rate.Float(); err != nil {
			return "Wage rate and prevailing wage must be numeric values", false
		}
	}
	if !w.PrevailingWage.IsZero() {
		if pw, err = w.PrevailingWage.Float(); err != nil {
			return "Wage rate and prevailing wage must be numeric values", false
		}
	}
	if rate < pw {
		return fmt.Sprintf("The offered wage rate ($%s) is less than the prevailing wage rate ($%s). The employer must pay at least the prevailing wage.",
			lca.FormatAmount(rate), lca.FormatAmount(pw)), false
	}

	rateType := strings.ToLower(strings.TrimSpace(w.RateType))
	if rateType == "" {
		return "Missing wage rate type (hourly, weekly, monthly, annual, etc.)", false
	}
	if _, ok := lca.WageUnit(rateType); !ok {
		return fmt.Sprintf("Invalid wage rate type: %s. Must be one of: %s", rateType, strings.Join(validRateTypes, ", ")), false
	}
	return "", true
}

func missingWorksiteFields(ws lca.Worksite) []string {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"address", ws.Address},
		{"city", ws.City},
		{"state", ws.State},
		{"zip", ws.Zip},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

var blockingSeverities = map[string]bool{"error": true, "critical": true, "high": true}

func rejects(r lca.ValidationReport) bool {
	for _, issue := range r.Issues {
		if blockingSeverities[strings.ToLower(issue.Severity)] {
			return true
		}
	}
	return !r.Valid && len(r.Issues) == 0
}

func describe(r lca.ValidationReport) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(r.Notes))
	if b.Len() == 0 {
		b.WriteString("AI validation rejected the application")
	}
	for _, issue := range r.Issues {
		field := issue.Field
		if field == "" {
			field = "unknown"
		}
		severity := issue.Severity
		if severity == "" {
			severity = "unknown"
		}
		fmt.Fprintf(&b, "\n- %s: %s (%s severity)", field, issue.Description, severity)
	}
	return b.String()
}

var (
	nonDigits = regexp.MustCompile(`\D`)
	nonZip    = regexp.MustCompile(`[^0-9\-]`)
	zipShape  = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
)

// Normalize returns a copy of app with phone numbers, ZIP codes, state codes,
// FEINs and wage figures in the shapes the portal accepts.
func Normalize(app lca.Application) lca.Application {
	out := app.Clone()
	if e := out.Employer; e != nil {
		e.Phone = phone(e.Phone)
		e.Zip = zip(e.Zip)
		e.State = state(e.State)
		e.FEIN = nonDigits.ReplaceAllString(e.FEIN, "")
	}
	if c := out.Contact; c != nil {
		c.Phone = phone(c.Phone)
		c.Zip = zip(c.Zip)
		c.State = state(c.State)
	}
	if a := out.Attorney; a != nil {
		a.Phone = phone(a.Phone)
		a.Zip = zip(a.Zip)
		a.State = state(a.State)
		a.FirmFEIN = nonDigits.ReplaceAllString(a.FirmFEIN, "")
	}
	if w := out.Worksite; w != nil {
		normalizeWorksite(w)
	}
	if len(out.AdditionalWorksites) > 0 {
		sites := out.AdditionalWorksites[:0:0]
		for _, ws := range out.AdditionalWorksites {
			if ws == (lca.Worksite{}) {
				continue
			}
			normalizeWorksite(&ws)
			sites = append(sites, ws)
		}
		out.AdditionalWorksites = sites
	}
	if w := out.Wages; w != nil {
		w.Rate = figure(w.Rate)
		w.RateTo = figure(w.RateTo)
		w.PrevailingWage = figure(w.PrevailingWage)
	}
	return out
}

func normalizeWorksite(w *lca.Worksite) {
	w.Zip = zip(w.Zip)
	w.State = state(w.State)
}

func phone(s string) string {
	digits := nonDigits.ReplaceAllString(s, "")
	if len(digits) >= 10 {
		digits = digits[len(digits)-10:]
	}
	return digits
}

func zip(s string) string {
	z := nonZip.ReplaceAllString(s, "")
	if !zipShape.MatchString(z) && len(z) > 5 {
		z = z[:5]
	}
	return z
}

func state(s string) string {
	s = strings.TrimSpace(s)
	if len(s) == 2 {
		return strings.ToUpper(s)
	}
	return s
}

func figure(a lca.Amount) lca.Amount {
	if a.IsZero() {
		return a
	}
	v, err := a.Float()
	if err != nil {
		return a
	}
	return lca.Amount(lca.FormatAmount(v))
}
