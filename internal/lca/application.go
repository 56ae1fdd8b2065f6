// Package lca holds the domain records shared by the filing pipeline: the
// application being filed, per-field decisions, and the terminal result.
package lca

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// DefaultFormType is used when an application does not name a form.
const DefaultFormType = "H-1B"

// Application is the input record for one LCA filing.
type Application struct {
	ID                  string       `json:"id" dynamodbav:"id"`
	FormType            string       `json:"form_type,omitempty" dynamodbav:"formType,omitempty"`
	Employer            *Employer    `json:"employer,omitempty" dynamodbav:"employer,omitempty"`
	Contact             *Contact     `json:"contact,omitempty" dynamodbav:"contact,omitempty"`
	Job                 *Job         `json:"job,omitempty" dynamodbav:"job,omitempty"`
	Wages               *Wages       `json:"wages,omitempty" dynamodbav:"wages,omitempty"`
	Worksite            *Worksite    `json:"worksite,omitempty" dynamodbav:"worksite,omitempty"`
	MultipleWorksites   bool         `json:"multiple_worksites,omitempty" dynamodbav:"multipleWorksites,omitempty"`
	AdditionalWorksites []Worksite   `json:"additional_worksites,omitempty" dynamodbav:"additionalWorksites,omitempty"`
	Attorney            *Attorney    `json:"attorney,omitempty" dynamodbav:"attorney,omitempty"`
	Credentials         *Credentials `json:"credentials,omitempty" dynamodbav:"-"`
}

// Employer identifies the petitioning employer.
type Employer struct {
	Name      string `json:"name"`
	TradeName string `json:"trade_name,omitempty"`
	FEIN      string `json:"fein,omitempty"`
	NAICSCode string `json:"naics_code,omitempty"`
	Address   string `json:"address,omitempty"`
	Address2  string `json:"address2,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Zip       string `json:"zip,omitempty"`
	Country   string `json:"country,omitempty"`
	Phone     string `json:"phone,omitempty"`
	PhoneExt  string `json:"phone_ext,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Contact is the employer point of contact.
type Contact struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	MiddleName string `json:"middle_name,omitempty"`
	JobTitle   string `json:"job_title,omitempty"`
	Address    string `json:"address,omitempty"`
	Address2   string `json:"address2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	Zip        string `json:"zip,omitempty"`
	Country    string `json:"country,omitempty"`
	Phone      string `json:"phone,omitempty"`
	PhoneExt   string `json:"phone_ext,omitempty"`
	Email      string `json:"email,omitempty"`
}

// Job describes the offered position.
type Job struct {
	Title        string `json:"title"`
	SOCCode      string `json:"soc_code,omitempty"`
	SOCTitle     string `json:"soc_title,omitempty"`
	Duties       string `json:"duties,omitempty"`
	FullTime     *bool  `json:"full_time,omitempty"`
	BeginDate    string `json:"begin_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
	TotalWorkers int    `json:"total_workers,omitempty"`
}

// Wages carries the offered and prevailing wage.
type Wages struct {
	Rate             Amount `json:"rate"`
	RateTo           Amount `json:"rate_to,omitempty"`
	RateType         string `json:"rate_type"`
	PrevailingWage   Amount `json:"prevailing_wage"`
	PWUnit           string `json:"pw_unit,omitempty"`
	PWSource         string `json:"pw_source,omitempty"`
	PWSourceOther    string `json:"pw_source_other,omitempty"`
	PWYear           string `json:"pw_year,omitempty"`
	PWTrackingNumber string `json:"pw_tracking_number,omitempty"`
}

// Worksite is a place of employment.
type Worksite struct {
	Address  string `json:"address"`
	Address2 string `json:"address2,omitempty"`
	City     string `json:"city"`
	County   string `json:"county,omitempty"`
	State    string `json:"state"`
	Zip      string `json:"zip"`
}

var worksiteAliases = map[string][]string{
	"address": {"address1", "street", "street_address"},
	"city":    {"town", "municipality"},
	"state":   {"province", "region"},
	"zip":     {"zipcode", "postal_code", "zip_code", "postalcode"},
}

// UnmarshalJSON accepts the alternative key spellings seen in customer exports.
func (w *Worksite) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	pick := func(key string) string {
		if v, ok := raw[key]; ok && v != nil {
			return scalarString(v)
		}
		for _, alt := range worksiteAliases[key] {
			if v, ok := raw[alt]; ok && v != nil {
				return scalarString(v)
			}
		}
		return ""
	}
	*w = Worksite{
		Address:  pick("address"),
		Address2: pick("address2"),
		City:     pick("city"),
		County:   pick("county"),
		State:    pick("state"),
		Zip:      pick("zip"),
	}
	return nil
}

// Attorney is the optional representative. Name may hold a full name when the
// first/last split is not supplied.
type Attorney struct {
	Name       string `json:"name,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	MiddleName string `json:"middle_name,omitempty"`
	Type       string `json:"type,omitempty"`
	Firm       string `json:"firm,omitempty"`
	FirmFEIN   string `json:"firm_fein,omitempty"`
	Address    string `json:"address,omitempty"`
	Address2   string `json:"address2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	Zip        string `json:"zip,omitempty"`
	Country    string `json:"country,omitempty"`
	Phone      string `json:"phone,omitempty"`
	PhoneExt   string `json:"phone_ext,omitempty"`
	Email      string `json:"email,omitempty"`
}

// Credentials authenticate against the FLAG portal.
type Credentials struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	TOTPSecret string `json:"totp_secret,omitempty"`
}

// EffectiveFormType returns the form type or the H-1B default.
func (a *Application) EffectiveFormType() string {
	if a == nil || strings.TrimSpace(a.FormType) == "" {
		return DefaultFormType
	}
	return a.FormType
}

// Clone returns a deep copy so normalization never touches the caller's record.
func (a Application) Clone() Application {
	out := a
	if a.Employer != nil {
		e := *a.Employer
		out.Employer = &e
	}
	if a.Contact != nil {
		c := *a.Contact
		out.Contact = &c
	}
	if a.Job != nil {
		j := *a.Job
		if a.Job.FullTime != nil {
			ft := *a.Job.FullTime
			j.FullTime = &ft
		}
		out.Job = &j
	}
	if a.Wages != nil {
		w := *a.Wages
		out.Wages = &w
	}
	if a.Worksite != nil {
		w := *a.Worksite
		out.Worksite = &w
	}
	if a.AdditionalWorksites != nil {
		out.AdditionalWorksites = append([]Worksite(nil), a.AdditionalWorksites...)
	}
	if a.Attorney != nil {
		at := *a.Attorney
		out.Attorney = &at
	}
	if a.Credentials != nil {
		c := *a.Credentials
		out.Credentials = &c
	}
	return out
}

// ErrEmptyAmount is returned when an Amount holds no figure.
var ErrEmptyAmount = errors.New("lca: empty amount")

// Amount is a monetary figure. It decodes from JSON numbers as well as
// strings such as "$95,000.00" and keeps the original text.
type Amount string

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "null" {
		*a = ""
		return nil
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(strings.TrimSpace(s))
		return nil
	}
	*a = Amount(text)
	return nil
}

// Float parses the figure, ignoring currency symbols and thousands separators.
func (a Amount) Float() (float64, error) {
	s := strings.NewReplacer("$", "", ",", "", " ", "").Replace(strings.TrimSpace(string(a)))
	if s == "" {
		return 0, ErrEmptyAmount
	}
	return strconv.ParseFloat(s, 64)
}

// IsZero reports whether no figure was supplied.
func (a Amount) IsZero() bool {
	return strings.TrimSpace(string(a)) == ""
}

// FormatAmount renders a float without trailing zeros.
func FormatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

var wageUnits = map[string]string{
	"hour": "Hour", "hourly": "Hour",
	"week": "Week", "weekly": "Week",
	"biweekly": "Bi-Weekly", "bi-weekly": "Bi-Weekly",
	"month": "Month", "monthly": "Month",
	"year": "Year", "yearly": "Year", "annual": "Year", "annually": "Year",
}

// WageUnit maps a free-form rate type such as "annual" to the portal's
// dropdown label.
func WageUnit(rateType string) (string, bool) {
	unit, ok := wageUnits[strings.ToLower(strings.TrimSpace(rateType))]
	return unit, ok
}
