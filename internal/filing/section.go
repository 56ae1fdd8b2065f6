package filing

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/lca-filing-automation/internal/browser"
	"github.com/wolfman30/lca-filing-automation/internal/decision"
	"github.com/wolfman30/lca-filing-automation/internal/formschema"
	"github.com/wolfman30/lca-filing-automation/internal/interaction"
	"github.com/wolfman30/lca-filing-automation/internal/lca"
	"github.com/wolfman30/lca-filing-automation/internal/recovery"
)

const worksiteTableField = "additional_worksites"

// Section outcomes reported to metrics.
const (
	outcomeClean     = "clean"
	outcomeAutoFixed = "auto_fixed"
	outcomeOperator  = "operator_fixed"
	outcomeEscalated = "escalated"
)

// fillSection runs one section through fill, error check and any operator
// rounds. ok is false when the filing must stop with status and msg.
func (r *run) fillSection(ctx context.Context, d browser.Driver, section formschema.Section, app lca.Application, last bool) (status lca.FilingStatus, msg string, ok bool) {
	o := r.o
	logger := r.logger.With("section", section.Name)

	r.tracker.SectionStarted(ctx, section.Name)
	r.rec.Step(SectionStep(section.Name, "filling"))

	if err := r.sweep(ctx, d); err != nil {
		r.screenshot(ctx, d, section.Name+" portal error")
		return lca.StatusError, fmt.Sprintf("Portal error before %s: %v", section.Name, err), false
	}

	decs, err := o.deps.Decider.DecideSection(ctx, section, app, r.known)
	if err != nil {
		return lca.StatusError, fmt.Sprintf("Failed to decide %s: %v", section.Name, err), false
	}
	if decs.OracleCalled {
		o.deps.Metrics.ObserveOracleCall("section", decs.OracleErr)
	}
	r.rec.AddReviewReasons(decs.ReviewReasons()...)
	for id, v := range decs.Values() {
		r.known[id] = v
	}

	if dec, found := decs.Get(worksiteTableField); found {
		rows, _ := dec.Value.([]map[string]string)
		logger.Info("filling additional worksites table", "rows", len(rows))
		r.rec.Step(SectionStep(section.Name, "worksite_table"))
	}

	filled := o.deps.Filler.FillSection(ctx, d, section, decs.Decisions)
	if ctx.Err() != nil {
		return lca.StatusError, ctx.Err().Error(), false
	}
	if filled.FieldsFailed > 0 {
		logger.Warn("some fields could not be filled", "failed", filled.FieldsFailed, "errors", strings.Join(filled.Errors, "; "))
	}
	if err := r.save(ctx, d); err != nil {
		return lca.StatusError, fmt.Sprintf("Failed to save %s: %v", section.Name, err), false
	}

	r.rec.Step(SectionStep(section.Name, "error_check"))
	outcome, err := o.deps.Recoverer.Recover(ctx, section, d)
	if err != nil {
		return lca.StatusError, fmt.Sprintf("Failed to check %s for errors: %v", section.Name, err), false
	}
	if outcome.Attempted {
		o.deps.Metrics.ObserveOracleCall("fix", outcome.FixErr)
	}

	result := outcomeClean
	switch {
	case outcome.Clean():
		if filled.FieldsFailed > 0 {
			result, status, msg, ok = r.interact(ctx, d, section, decs, filled, outcome)
			if !ok {
				return status, msg, false
			}
		}
	case outcome.Resolved():
		result = outcomeAutoFixed
		logger.Info("validation errors fixed automatically", "fixed", len(outcome.Errors))
		if err := r.save(ctx, d); err != nil {
			return lca.StatusError, fmt.Sprintf("Failed to save %s: %v", section.Name, err), false
		}
	default:
		result, status, msg, ok = r.interact(ctx, d, section, decs, filled, outcome)
		if !ok {
			return status, msg, false
		}
	}
	o.deps.Metrics.ObserveSection(result)

	r.rec.Step(SectionStep(section.Name, "saved"))
	if !last {
		if err := r.within(ctx, func(ctx context.Context) error { return o.deps.Portal.Continue(ctx, d) }); err != nil {
			r.screenshot(ctx, d, section.Name+" continue failed")
			return lca.StatusError, fmt.Sprintf("Failed to continue past %s: %v", section.Name, err), false
		}
	}
	r.tracker.SectionCompleted(ctx, section.Name)
	return "", "", true
}

// interact hands the section to an operator until the page is clean or the
// round limit is reached.
func (r *run) interact(ctx context.Context, d browser.Driver, section formschema.Section, decs decision.SectionDecisions,
	filled lca.SectionResult, outcome recovery.Outcome) (string, lca.FilingStatus, string, bool) {
	o := r.o
	logger := r.logger.With("section", section.Name)
	remaining := outcome.Remaining

	if o.deps.Bridge == nil {
		o.deps.Metrics.ObserveSection(outcomeEscalated)
		r.screenshot(ctx, d, section.Name+" needs operator")
		return "", lca.StatusInteractionRequired, r.escalationMessage(section, remaining, filled), false
	}

	fixes := outcome.Fixes
	for round := 1; ; round++ {
		if round > o.cfg.MaxInteractionRounds {
			o.deps.Metrics.ObserveSection(outcomeEscalated)
			return "", lca.StatusInteractionRequired, fmt.Sprintf("%s still has errors after %d operator rounds: %s",
				section.Name, o.cfg.MaxInteractionRounds, outstanding(remaining, filled)), false
		}

		r.rec.Step(SectionStep(section.Name, "awaiting_interaction"))
		req := r.buildRequest(ctx, d, section, decs, filled, remaining, fixes)
		guidance := req.Guidance
		r.tracker.InteractionRequired(ctx, section.Name, guidance)
		o.deps.Metrics.ObserveInteraction("requested")
		logger.Info("waiting for operator", "round", round, "request_id", req.ID, "errors", len(remaining))

		res, err := o.deps.Bridge.Request(ctx, r.filingID, req)
		if err != nil {
			o.deps.Metrics.ObserveInteraction("abandoned")
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			return "", lca.StatusError, fmt.Sprintf("Interaction for %s was not completed: %v", section.Name, err), false
		}
		o.deps.Metrics.ObserveInteraction("resolved")
		r.tracker.InteractionResolved(ctx, section.Name)
		logger.Info("operator answered", "round", round, "fields", len(res.Values), "operator", res.Operator)

		decs = decision.Supersede(decs, res.Values)
		applied := lca.SectionResult{Section: section.Name, FieldsTotal: len(res.Values)}
		for id, v := range res.Values {
			r.known[id] = v
			field, found := section.Field(id)
			if !found {
				field = formschema.Field{ID: id, Type: formschema.TypeText}
			}
			if err := o.deps.Filler.Apply(ctx, d, field, v); err != nil {
				logger.Warn("failed to apply operator value", "field", id, "error", err)
				applied.FieldFailed(id, fmt.Sprintf("Failed to fill field %s: %v", id, err))
				continue
			}
			applied.FieldsFilled++
		}
		if err := r.save(ctx, d); err != nil {
			return "", lca.StatusError, fmt.Sprintf("Failed to save %s: %v", section.Name, err), false
		}

		r.rec.Step(SectionStep(section.Name, "error_check"))
		remaining, err = o.deps.Recoverer.Scan(ctx, d)
		if err != nil {
			return "", lca.StatusError, fmt.Sprintf("Failed to check %s for errors: %v", section.Name, err), false
		}
		if len(remaining) == 0 && applied.FieldsFailed == 0 {
			return outcomeOperator, "", "", true
		}
		// Suggestions are only meaningful for the first round.
		fixes = nil
		filled = applied
	}
}

func (r *run) buildRequest(ctx context.Context, d browser.Driver, section formschema.Section, decs decision.SectionDecisions,
	filled lca.SectionResult, remaining []lca.FieldError, fixes map[string]lca.FieldFix) interaction.Request {
	req := interaction.Request{
		ID:                 uuid.NewString(),
		FilingID:           r.filingID,
		Section:            section.Name,
		HasErrors:          len(remaining) > 0,
		HasMissingElements: filled.FieldsFailed > 0,
		CreatedAt:          r.o.now(),
	}

	seen := make(map[string]bool)
	addPrompt := func(fieldID, errMsg string) {
		if fieldID == "" || seen[fieldID] {
			return
		}
		field, found := section.Field(fieldID)
		if !found {
			field = formschema.Field{ID: fieldID, Type: formschema.TypeText}
		}
		seen[fieldID] = true
		p := interaction.PromptFor(field)
		p.Error = errMsg
		if dec, ok := decs.Get(fieldID); ok {
			p.Current = dec.Value
		}
		if fix, ok := fixes[fieldID]; ok {
			p.Suggested = fix.Value
		}
		req.Fields = append(req.Fields, p)
	}
	for _, e := range remaining {
		req.Errors = append(req.Errors, e.String())
		addPrompt(e.FieldID, e.Message)
	}
	req.Errors = append(req.Errors, filled.Errors...)
	for _, id := range filled.FailedFields {
		addPrompt(id, "Could not be filled automatically")
	}
	// A section that failed to fill without naming fields is offered whole.
	if len(req.Fields) == 0 {
		for _, f := range section.Fields {
			if f.Required {
				addPrompt(f.ID, "")
			}
		}
	}

	req.Guidance = guidance(section, remaining, filled)
	req.Screenshot, req.ScreenshotPNG = r.screenshot(ctx, d, section.Name+" awaiting operator")
	return req
}

func guidance(section formschema.Section, remaining []lca.FieldError, filled lca.SectionResult) string {
	switch {
	case len(remaining) > 0 && filled.FieldsFailed > 0:
		return fmt.Sprintf("%s has %d validation error(s) and %d field(s) that could not be filled. Correct the listed fields.",
			section.Name, len(remaining), filled.FieldsFailed)
	case len(remaining) > 0:
		return fmt.Sprintf("%s has %d validation error(s) the automatic fix could not clear: %s",
			section.Name, len(remaining), joinErrors(remaining))
	default:
		return fmt.Sprintf("%d field(s) in %s could not be filled automatically. Supply values for them.",
			filled.FieldsFailed, section.Name)
	}
}

func (r *run) escalationMessage(section formschema.Section, remaining []lca.FieldError, filled lca.SectionResult) string {
	return fmt.Sprintf("Operator input required for %s: %s", section.Name, outstanding(remaining, filled))
}

// outstanding lists portal errors, or the fill failures when the page shows none.
func outstanding(remaining []lca.FieldError, filled lca.SectionResult) string {
	if len(remaining) > 0 {
		return joinErrors(remaining)
	}
	return strings.Join(filled.Errors, "; ")
}

func (r *run) save(ctx context.Context, d browser.Driver) error {
	return r.within(ctx, func(ctx context.Context) error { return r.o.deps.Portal.Save(ctx, d) })
}
