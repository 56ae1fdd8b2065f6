// Package decision resolves a value for every visible field of a form
// section. Known application data is mapped directly; whatever remains is
// proposed by the decision oracle and anything still unresolved is gap-filled
// with a low-confidence default.
package decision

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/wolfman30/lca-filing-automation/internal/formschema"
	"github.com/wolfman30/lca-filing-automation/internal/lca"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

// Oracle proposes values for fields the mapping table could not resolve.
type Oracle interface {
	ProposeSectionDecisions(ctx context.Context, section formschema.Section, app lca.Application) ([]lca.FieldDecision, error)
}

const additionalWorksitesField = "additional_worksites"

// SectionDecisions is the engine output for one section, in schema order.
type SectionDecisions struct {
	Section      string
	Decisions    []lca.FieldDecision
	OracleCalled bool
	OracleErr    error
}

// Get returns the decision for a field.
func (s SectionDecisions) Get(fieldID string) (lca.FieldDecision, bool) {
	for _, d := range s.Decisions {
		if d.FieldID == fieldID {
			return d, true
		}
	}
	return lca.FieldDecision{}, false
}

// Values returns field id to value.
func (s SectionDecisions) Values() map[string]any {
	out := make(map[string]any, len(s.Decisions))
	for _, d := range s.Decisions {
		out[d.FieldID] = d.Value
	}
	return out
}

// ReviewReasons lists one line per decision under the review threshold.
func (s SectionDecisions) ReviewReasons() []string {
	var reasons []string
	for _, d := range s.Decisions {
		if d.NeedsReview() {
			reasons = append(reasons, d.ReviewReason(s.Section))
		}
	}
	return reasons
}

// Engine produces field decisions for form sections.
type Engine struct {
	oracle Oracle
	logger *logging.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for dated fields.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine builds an engine. A nil oracle means every unmapped field is
// gap-filled.
func NewEngine(oracle Oracle, logger *logging.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{oracle: oracle, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DecideSection resolves every visible field of section. known carries the
// values decided in earlier sections and drives conditional visibility. The
// returned error is non-nil only when ctx ends.
func (e *Engine) DecideSection(ctx context.Context, section formschema.Section, app lca.Application, known map[string]any) (SectionDecisions, error) {
	out := SectionDecisions{Section: section.Name}
	now := e.now()

	values := make(map[string]any, len(known)+len(section.Fields))
	for k, v := range known {
		values[k] = v
	}

	resolved := make(map[string]lca.FieldDecision, len(section.Fields))
	table := rules[section.Category]
	for _, f := range section.Fields {
		r, ok := table[f.ID]
		if !ok {
			continue
		}
		v, ok := r(&app, now)
		if !ok {
			continue
		}
		resolved[f.ID] = lca.FieldDecision{
			FieldID:    f.ID,
			Value:      v,
			Reasoning:  lca.ReasonDirectMapping,
			Confidence: lca.ConfidenceDirect,
		}
		values[f.ID] = v
	}

	if section.Category == "worksite" && app.MultipleWorksites {
		if _, ok := section.Field(additionalWorksitesField); ok {
			resolved[additionalWorksitesField] = lca.FieldDecision{
				FieldID:    additionalWorksitesField,
				Value:      WorksiteRows(app.AdditionalWorksites),
				Reasoning:  lca.ReasonDirectMapping,
				Confidence: lca.ConfidenceDirect,
			}
		}
	}

	var pending []string
	for _, f := range section.Fields {
		if _, ok := resolved[f.ID]; ok {
			continue
		}
		if f.IsConditional() && !f.Visible(values) && !f.Undetermined(values) {
			continue
		}
		pending = append(pending, f.ID)
	}

	if len(pending) > 0 && e.oracle != nil {
		out.OracleCalled = true
		proposals, err := e.oracle.ProposeSectionDecisions(ctx, section.Subset(pending), app)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, ctxErr
			}
			out.OracleErr = err
			e.logger.Warn("decision oracle failed; gap-filling section",
				"section", section.Name, "pending", len(pending), "error", err)
		}
		wanted := make(map[string]bool, len(pending))
		for _, id := range pending {
			wanted[id] = true
		}
		for _, p := range proposals {
			if !wanted[p.FieldID] {
				continue
			}
			if _, ok := resolved[p.FieldID]; ok {
				continue
			}
			resolved[p.FieldID] = clampConfidence(p)
			values[p.FieldID] = p.Value
		}
	}

	for _, f := range section.Fields {
		d, ok := resolved[f.ID]
		if f.IsConditional() && !f.Visible(values) {
			continue
		}
		if !ok {
			d = lca.FieldDecision{
				FieldID:    f.ID,
				Value:      f.DefaultValue(),
				Reasoning:  lca.ReasonGapFill,
				Confidence: lca.ConfidenceGapFill,
			}
			values[f.ID] = d.Value
		}
		out.Decisions = append(out.Decisions, d)
	}

	if err := ctx.Err(); err != nil {
		return out, err
	}
	e.logger.Debug("section decided",
		"section", section.Name,
		"decisions", len(out.Decisions),
		"oracle_called", out.OracleCalled)
	return out, nil
}

// Supersede replaces decisions with operator supplied values.
func Supersede(s SectionDecisions, values map[string]any) SectionDecisions {
	out := s
	out.Decisions = make([]lca.FieldDecision, 0, len(s.Decisions))
	seen := make(map[string]bool, len(values))
	for _, d := range s.Decisions {
		if v, ok := values[d.FieldID]; ok {
			d = OperatorDecision(d.FieldID, v)
			seen[d.FieldID] = true
		}
		out.Decisions = append(out.Decisions, d)
	}
	extra := make([]string, 0, len(values))
	for id := range values {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		out.Decisions = append(out.Decisions, OperatorDecision(id, values[id]))
	}
	return out
}

// OperatorDecision records a value typed in by a human.
func OperatorDecision(fieldID string, v any) lca.FieldDecision {
	return lca.FieldDecision{
		FieldID:    fieldID,
		Value:      v,
		Reasoning:  lca.ReasonOperator,
		Confidence: lca.ConfidenceOperator,
	}
}

func clampConfidence(d lca.FieldDecision) lca.FieldDecision {
	switch {
	case d.Confidence < 0:
		d.Confidence = 0
	case d.Confidence > 1:
		d.Confidence = 1
	}
	if d.Reasoning == "" {
		d.Reasoning = fmt.Sprintf("proposed by oracle for %s", d.FieldID)
	}
	return d
}
