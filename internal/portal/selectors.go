// Package portal drives the DOL FLAG portal: login, form selection, section
// navigation, field entry and final submission.
package portal

import (
	"fmt"
	"strings"
)

// Selectors binds portal actions to CSS selectors. The defaults target the
// FLAG portal; tests and portal redesigns can override individual entries.
type Selectors struct {
	Username      string
	Password      string
	LoginButton   string
	LoginError    string
	Captcha       string
	TOTPInput     string
	TOTPSubmit    string
	Dashboard     string
	NewLCA        string
	FormTypeRadio string // printf pattern taking the form type
	Continue      string
	Save          string
	Submit        string
	Confirm       string
	Confirmation  string
	SessionExtend string
	AddTableRow   string // printf pattern taking the table field id
}

// DefaultSelectors returns the FLAG portal bindings.
func DefaultSelectors() Selectors {
	return Selectors{
		Username:      "#user_email",
		Password:      ".password-toggle__input",
		LoginButton:   "button[type='submit']",
		LoginError:    ".error-message",
		Captcha:       "img[alt='CAPTCHA']",
		TOTPInput:     "input[name='code'], input[name='totp'], #totpCode",
		TOTPSubmit:    "button:has-text('Verify')",
		Dashboard:     "a[href*='new-lca']",
		NewLCA:        "a[href*='new-lca']",
		FormTypeRadio: "input[type='radio'][value='%s']",
		Continue:      "button:has-text('Continue')",
		Save:          "button:has-text('Save')",
		Submit:        "button:has-text('Submit')",
		Confirm:       "button:has-text('Confirm')",
		Confirmation:  "#confirmationNumber",
		SessionExtend: "button:has-text('Continue Session')",
		AddTableRow:   "#%s button[aria-label='Add Row']",
	}
}

// FieldSelector addresses a form field by id.
func FieldSelector(fieldID string) string {
	return "#" + fieldID
}

// RadioSelector addresses one option of a radio group.
func RadioSelector(fieldID, value string) string {
	return fmt.Sprintf("input[name='%s'][value='%s']", fieldID, quoteAttr(value))
}

// CellSelector addresses a column of a dynamic table row (0-based).
func CellSelector(tableID string, row int, column string) string {
	return fmt.Sprintf("#%s_%d_%s", tableID, row, column)
}

func quoteAttr(v string) string {
	return strings.ReplaceAll(v, "'", "\\'")
}
