package decision

import (
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/lca-filing-automation/internal/lca"
)

// rule resolves one form field from application data. ok is false when the
// application does not carry the value.
type rule func(app *lca.Application, now time.Time) (value any, ok bool)

func required(s string) (any, bool) {
	s = strings.TrimSpace(s)
	return s, s != ""
}

func optional(s string) (any, bool) {
	return strings.TrimSpace(s), true
}

func employerRule(fn func(e *lca.Employer) (any, bool)) rule {
	return func(app *lca.Application, _ time.Time) (any, bool) {
		if app.Employer == nil {
			return nil, false
		}
		return fn(app.Employer)
	}
}

func contactRule(fn func(c *lca.Contact) (any, bool)) rule {
	return func(app *lca.Application, _ time.Time) (any, bool) {
		if app.Contact == nil {
			return nil, false
		}
		return fn(app.Contact)
	}
}

func jobRule(fn func(j *lca.Job) (any, bool)) rule {
	return func(app *lca.Application, _ time.Time) (any, bool) {
		if app.Job == nil {
			return nil, false
		}
		return fn(app.Job)
	}
}

func wageRule(fn func(w *lca.Wages) (any, bool)) rule {
	return func(app *lca.Application, _ time.Time) (any, bool) {
		if app.Wages == nil {
			return nil, false
		}
		return fn(app.Wages)
	}
}

func worksiteRule(fn func(w *lca.Worksite) (any, bool)) rule {
	return func(app *lca.Application, _ time.Time) (any, bool) {
		if app.Worksite == nil {
			return nil, false
		}
		return fn(app.Worksite)
	}
}

// attorneyRule only maps when the employer is represented.
func attorneyRule(fn func(a *lca.Attorney) (any, bool)) rule {
	return func(app *lca.Application, _ time.Time) (any, bool) {
		if !represented(app) {
			return nil, false
		}
		return fn(app.Attorney)
	}
}

func represented(app *lca.Application) bool {
	a := app.Attorney
	return a != nil && (strings.TrimSpace(a.Name) != "" || strings.TrimSpace(a.LastName) != "")
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func amount(a lca.Amount) (any, bool) {
	v, err := a.Float()
	if err != nil {
		return nil, false
	}
	return lca.FormatAmount(v), true
}

// attorneyName returns first and last names, splitting the full name when the
// parts were not supplied separately.
func attorneyName(a *lca.Attorney) (first, last string) {
	first, last = strings.TrimSpace(a.FirstName), strings.TrimSpace(a.LastName)
	if first != "" && last != "" {
		return first, last
	}
	parts := strings.Fields(a.Name)
	if len(parts) >= 2 {
		return parts[0], strings.Join(parts[1:], " ")
	}
	if last == "" && len(parts) == 1 {
		last = parts[0]
	}
	return first, last
}

func signature(app *lca.Application) (any, bool) {
	if app.Employer != nil && strings.TrimSpace(app.Employer.Name) != "" {
		return strings.TrimSpace(app.Employer.Name), true
	}
	if app.Attorney != nil && strings.TrimSpace(app.Attorney.Name) != "" {
		return strings.TrimSpace(app.Attorney.Name), true
	}
	return nil, false
}

func checked(*lca.Application, time.Time) (any, bool) { return true, true }

// rules is the fixed mapping table, keyed by section category and form field id.
var rules = map[string]map[string]rule{
	"job": {
		"visa_type": func(app *lca.Application, _ time.Time) (any, bool) {
			return app.EffectiveFormType(), true
		},
		"job_title": jobRule(func(j *lca.Job) (any, bool) { return required(j.Title) }),
		"soc_code":  jobRule(func(j *lca.Job) (any, bool) { return required(j.SOCCode) }),
		"soc_title": jobRule(func(j *lca.Job) (any, bool) { return required(j.SOCTitle) }),
		"job_duties": jobRule(func(j *lca.Job) (any, bool) {
			return optional(j.Duties)
		}),
		"full_time_position": jobRule(func(j *lca.Job) (any, bool) {
			if j.FullTime == nil {
				return nil, false
			}
			return yesNo(*j.FullTime), true
		}),
		"begin_date": jobRule(func(j *lca.Job) (any, bool) { return required(j.BeginDate) }),
		"end_date":   jobRule(func(j *lca.Job) (any, bool) { return required(j.EndDate) }),
		"total_workers": jobRule(func(j *lca.Job) (any, bool) {
			if j.TotalWorkers <= 0 {
				return nil, false
			}
			return strconv.Itoa(j.TotalWorkers), true
		}),
	},
	"employer": {
		"employer_name":        employerRule(func(e *lca.Employer) (any, bool) { return required(e.Name) }),
		"trade_name_dba":       employerRule(func(e *lca.Employer) (any, bool) { return optional(e.TradeName) }),
		"employer_fein":        employerRule(func(e *lca.Employer) (any, bool) { return required(e.FEIN) }),
		"naics_code":           employerRule(func(e *lca.Employer) (any, bool) { return required(e.NAICSCode) }),
		"employer_address1":    employerRule(func(e *lca.Employer) (any, bool) { return required(e.Address) }),
		"employer_address2":    employerRule(func(e *lca.Employer) (any, bool) { return optional(e.Address2) }),
		"employer_city":        employerRule(func(e *lca.Employer) (any, bool) { return required(e.City) }),
		"employer_state":       employerRule(func(e *lca.Employer) (any, bool) { return required(e.State) }),
		"employer_postal_code": employerRule(func(e *lca.Employer) (any, bool) { return required(e.Zip) }),
		"employer_country":     employerRule(func(e *lca.Employer) (any, bool) { return country(e.Country) }),
		"employer_phone":       employerRule(func(e *lca.Employer) (any, bool) { return required(e.Phone) }),
		"employer_phone_ext":   employerRule(func(e *lca.Employer) (any, bool) { return optional(e.PhoneExt) }),
	},
	"contact": {
		"contact_last_name":   contactRule(func(c *lca.Contact) (any, bool) { return required(c.LastName) }),
		"contact_first_name":  contactRule(func(c *lca.Contact) (any, bool) { return required(c.FirstName) }),
		"contact_middle_name": contactRule(func(c *lca.Contact) (any, bool) { return optional(c.MiddleName) }),
		"contact_job_title":   contactRule(func(c *lca.Contact) (any, bool) { return required(c.JobTitle) }),
		"contact_address1":    contactRule(func(c *lca.Contact) (any, bool) { return required(c.Address) }),
		"contact_address2":    contactRule(func(c *lca.Contact) (any, bool) { return optional(c.Address2) }),
		"contact_city":        contactRule(func(c *lca.Contact) (any, bool) { return required(c.City) }),
		"contact_state":       contactRule(func(c *lca.Contact) (any, bool) { return required(c.State) }),
		"contact_postal_code": contactRule(func(c *lca.Contact) (any, bool) { return required(c.Zip) }),
		"contact_country":     contactRule(func(c *lca.Contact) (any, bool) { return country(c.Country) }),
		"contact_phone":       contactRule(func(c *lca.Contact) (any, bool) { return required(c.Phone) }),
		"contact_phone_ext":   contactRule(func(c *lca.Contact) (any, bool) { return optional(c.PhoneExt) }),
		"contact_email":       contactRule(func(c *lca.Contact) (any, bool) { return required(c.Email) }),
	},
	"attorney": {
		"attorney_represented": func(app *lca.Application, _ time.Time) (any, bool) {
			return yesNo(represented(app)), true
		},
		"attorney_type": attorneyRule(func(a *lca.Attorney) (any, bool) {
			if strings.EqualFold(strings.TrimSpace(a.Type), "agent") {
				return "Agent", true
			}
			if strings.TrimSpace(a.Type) == "" || strings.EqualFold(strings.TrimSpace(a.Type), "attorney") {
				return "Attorney", true
			}
			return nil, false
		}),
		"attorney_last_name": attorneyRule(func(a *lca.Attorney) (any, bool) {
			_, last := attorneyName(a)
			return required(last)
		}),
		"attorney_first_name": attorneyRule(func(a *lca.Attorney) (any, bool) {
			first, _ := attorneyName(a)
			return required(first)
		}),
		"attorney_middle_name": attorneyRule(func(a *lca.Attorney) (any, bool) { return optional(a.MiddleName) }),
		"attorney_address1":    attorneyRule(func(a *lca.Attorney) (any, bool) { return optional(a.Address) }),
		"attorney_address2":    attorneyRule(func(a *lca.Attorney) (any, bool) { return optional(a.Address2) }),
		"attorney_city":        attorneyRule(func(a *lca.Attorney) (any, bool) { return optional(a.City) }),
		"attorney_state":       attorneyRule(func(a *lca.Attorney) (any, bool) { return optional(a.State) }),
		"attorney_postal_code": attorneyRule(func(a *lca.Attorney) (any, bool) { return optional(a.Zip) }),
		"attorney_country":     attorneyRule(func(a *lca.Attorney) (any, bool) { return country(a.Country) }),
		"attorney_phone":       attorneyRule(func(a *lca.Attorney) (any, bool) { return optional(a.Phone) }),
		"attorney_phone_ext":   attorneyRule(func(a *lca.Attorney) (any, bool) { return optional(a.PhoneExt) }),
		"attorney_email":       attorneyRule(func(a *lca.Attorney) (any, bool) { return optional(a.Email) }),
		"attorney_firm_name":   attorneyRule(func(a *lca.Attorney) (any, bool) { return optional(a.Firm) }),
		"attorney_firm_fein":   attorneyRule(func(a *lca.Attorney) (any, bool) { return optional(a.FirmFEIN) }),
	},
	"wages": {
		"wage_rate": wageRule(func(w *lca.Wages) (any, bool) { return amount(w.Rate) }),
		"wage_rate_to": wageRule(func(w *lca.Wages) (any, bool) {
			if w.RateTo.IsZero() {
				return "", true
			}
			return amount(w.RateTo)
		}),
		"wage_rate_unit": wageRule(func(w *lca.Wages) (any, bool) {
			unit, ok := lca.WageUnit(w.RateType)
			return unit, ok
		}),
		"prevailing_wage": wageRule(func(w *lca.Wages) (any, bool) { return amount(w.PrevailingWage) }),
		"pw_unit": wageRule(func(w *lca.Wages) (any, bool) {
			if w.PWUnit != "" {
				unit, ok := lca.WageUnit(w.PWUnit)
				return unit, ok
			}
			unit, ok := lca.WageUnit(w.RateType)
			return unit, ok
		}),
		"pw_source": wageRule(func(w *lca.Wages) (any, bool) {
			return pwSource(w.PWSource)
		}),
		"pw_source_year":     wageRule(func(w *lca.Wages) (any, bool) { return required(w.PWYear) }),
		"pw_source_other":    wageRule(func(w *lca.Wages) (any, bool) { return required(w.PWSourceOther) }),
		"pw_tracking_number": wageRule(func(w *lca.Wages) (any, bool) { return optional(w.PWTrackingNumber) }),
	},
	"worksite": {
		"multiple_worksites": func(app *lca.Application, _ time.Time) (any, bool) {
			return yesNo(app.MultipleWorksites), true
		},
		"worksite_address1":    worksiteRule(func(w *lca.Worksite) (any, bool) { return required(w.Address) }),
		"worksite_address2":    worksiteRule(func(w *lca.Worksite) (any, bool) { return optional(w.Address2) }),
		"worksite_city":        worksiteRule(func(w *lca.Worksite) (any, bool) { return required(w.City) }),
		"worksite_county":      worksiteRule(func(w *lca.Worksite) (any, bool) { return required(w.County) }),
		"worksite_state":       worksiteRule(func(w *lca.Worksite) (any, bool) { return required(w.State) }),
		"worksite_postal_code": worksiteRule(func(w *lca.Worksite) (any, bool) { return required(w.Zip) }),
	},
	"declaration": {
		"declaration_subsection_1": checked,
		"declaration_subsection_2": checked,
		"declaration_subsection_3": checked,
		"declaration_subsection_4": checked,
		"declaration_signature": func(app *lca.Application, _ time.Time) (any, bool) {
			return signature(app)
		},
		"declaration_date": func(_ *lca.Application, now time.Time) (any, bool) {
			return now.Format("01/02/2006"), true
		},
	},
}

func country(s string) (any, bool) {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "", "US", "USA", "UNITED STATES", "UNITED STATES OF AMERICA":
		return "United States", true
	}
	return s, true
}

var pwSources = map[string]string{
	"oes": "OES", "oflc": "OES", "oes/oflc": "OES",
	"cba": "CBA", "dba": "DBA", "sca": "SCA", "other": "Other",
}

func pwSource(s string) (any, bool) {
	v, ok := pwSources[strings.ToLower(strings.TrimSpace(s))]
	return v, ok
}

// WorksiteRows formats the additional worksites for the dynamic table.
func WorksiteRows(sites []lca.Worksite) []map[string]string {
	rows := make([]map[string]string, 0, len(sites))
	for _, ws := range sites {
		rows = append(rows, map[string]string{
			"address":     ws.Address,
			"address2":    ws.Address2,
			"city":        ws.City,
			"county":      ws.County,
			"state":       ws.State,
			"postal_code": ws.Zip,
		})
	}
	return rows
}
