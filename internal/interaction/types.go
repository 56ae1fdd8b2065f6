// Package interaction suspends a filing on a question for a human operator
// and resumes it with the operator's answer.
package interaction

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wolfman30/lca-filing-automation/internal/formschema"
)

var (
	// ErrInvalidResult means an operator answer did not satisfy the pending
	// request. The request stays pending.
	ErrInvalidResult = errors.New("interaction: invalid result")
	// ErrBridgeClosed is returned to waiters unblocked by Cancel or Close.
	ErrBridgeClosed = errors.New("interaction: bridge closed")
)

// FieldPrompt describes one field the operator is asked to supply.
type FieldPrompt struct {
	FieldID   string   `json:"field_id"`
	Label     string   `json:"label,omitempty"`
	Type      string   `json:"type"`
	Required  bool     `json:"required"`
	Options   []string `json:"options,omitempty"`
	Current   any      `json:"current,omitempty"`
	Suggested any      `json:"suggested,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// PromptFor builds a prompt from a schema field.
func PromptFor(f formschema.Field) FieldPrompt {
	return FieldPrompt{
		FieldID:  f.ID,
		Label:    f.Label,
		Type:     string(f.Type),
		Required: f.Required,
		Options:  append([]string(nil), f.Options...),
	}
}

// Request is a question for the operator about one section of one filing.
type Request struct {
	ID                 string        `json:"id"`
	FilingID           string        `json:"filing_id"`
	Section            string        `json:"section"`
	Guidance           string        `json:"guidance,omitempty"`
	Screenshot         string        `json:"screenshot,omitempty"`
	ScreenshotPNG      []byte        `json:"screenshot_png,omitempty"`
	Fields             []FieldPrompt `json:"fields"`
	Errors             []string      `json:"errors,omitempty"`
	HasErrors          bool          `json:"has_errors"`
	HasMissingElements bool          `json:"has_missing_elements"`
	CreatedAt          time.Time     `json:"created_at"`
}

// Result is the operator's answer.
type Result struct {
	Values   map[string]any `json:"values"`
	Operator string         `json:"operator,omitempty"`
	Note     string         `json:"note,omitempty"`
}

// Record is one resolved interaction in a filing's audit trail.
type Record struct {
	Request    Request   `json:"request"`
	Result     Result    `json:"result"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// ValidateResult checks res against the prompts of req. Required fields must
// be present and non-empty, values must match the field type, and choice
// fields must use one of their options. A request without prompts accepts
// any non-empty set of values.
func ValidateResult(req Request, res Result) error {
	if len(res.Values) == 0 {
		return fmt.Errorf("%w: no values supplied", ErrInvalidResult)
	}
	if len(req.Fields) == 0 {
		return nil
	}

	var problems []string
	prompts := make(map[string]FieldPrompt, len(req.Fields))
	for _, p := range req.Fields {
		prompts[p.FieldID] = p
		v, ok := res.Values[p.FieldID]
		if !ok || isEmpty(v) {
			if p.Required {
				problems = append(problems, fmt.Sprintf("%s is required", p.FieldID))
			}
			continue
		}
		if msg := checkShape(p, v); msg != "" {
			problems = append(problems, fmt.Sprintf("%s %s", p.FieldID, msg))
		}
	}
	for id := range res.Values {
		if _, ok := prompts[id]; !ok {
			problems = append(problems, fmt.Sprintf("%s was not requested", id))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrInvalidResult, strings.Join(problems, "; "))
}

func checkShape(p FieldPrompt, v any) string {
	switch formschema.FieldType(p.Type) {
	case formschema.TypeCheckbox:
		switch t := v.(type) {
		case bool:
			return ""
		case string:
			switch strings.ToLower(t) {
			case "true", "false", "yes", "no":
				return ""
			}
		}
		return "must be true or false"
	case formschema.TypeRadio, formschema.TypeSelect, formschema.TypeDropdown:
		s, ok := v.(string)
		if !ok {
			return "must be a string"
		}
		if len(p.Options) == 0 {
			return ""
		}
		for _, o := range p.Options {
			if o == s {
				return ""
			}
		}
		return fmt.Sprintf("must be one of %s", strings.Join(p.Options, ", "))
	case formschema.TypeDynamicTable:
		switch v.(type) {
		case []any, []map[string]any, []map[string]string:
			return ""
		}
		return "must be a list of rows"
	default:
		switch v.(type) {
		case string, float64, float32, int, int64, bool:
			return ""
		}
		return "must be a scalar value"
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	}
	return false
}
