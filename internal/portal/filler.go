package portal

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wolfman30/lca-filing-automation/internal/browser"
	"github.com/wolfman30/lca-filing-automation/internal/formschema"
	"github.com/wolfman30/lca-filing-automation/internal/lca"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

// Filler enters decided values into form fields.
type Filler struct {
	sel    Selectors
	logger *logging.Logger
}

func NewFiller(sel Selectors, logger *logging.Logger) *Filler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Filler{sel: sel, logger: logger}
}

// Apply writes one value into a field using the widget's interaction.
func (f *Filler) Apply(ctx context.Context, d browser.Driver, field formschema.Field, value any) error {
	selector := FieldSelector(field.ID)
	switch field.Type {
	case formschema.TypeText, formschema.TypeTextarea, "":
		return d.Fill(ctx, selector, formschema.ValueString(value))
	case formschema.TypeSelect, formschema.TypeDropdown:
		return d.Select(ctx, selector, formschema.ValueString(value))
	case formschema.TypeRadio:
		return d.Click(ctx, RadioSelector(field.ID, formschema.ValueString(value)))
	case formschema.TypeCheckbox:
		return d.SetChecked(ctx, selector, truthy(value))
	case formschema.TypeAutocomplete:
		if err := d.Fill(ctx, selector, formschema.ValueString(value)); err != nil {
			return err
		}
		if err := d.Press(ctx, selector, "ArrowDown"); err != nil {
			return err
		}
		return d.Press(ctx, selector, "Enter")
	case formschema.TypeDate:
		return d.Fill(ctx, selector, FormatDate(value))
	case formschema.TypeDynamicTable:
		rows, err := TableRows(value)
		if err != nil {
			return err
		}
		return f.FillTable(ctx, d, field, rows)
	default:
		return fmt.Errorf("portal: unsupported field type %q for %s", field.Type, field.ID)
	}
}

// FillTable enters one row per entry. Rows already on the page are
// overwritten in place and the add-row control is used only for the rest, so
// filling the same table twice does not leave empty rows behind.
func (f *Filler) FillTable(ctx context.Context, d browser.Driver, field formschema.Field, rows []map[string]string) error {
	if len(rows) == 0 {
		return nil
	}
	columns := field.Columns
	if len(columns) == 0 {
		columns = inferColumns(rows)
	}
	for i, row := range rows {
		if i > 0 {
			if err := f.ensureRow(ctx, d, field.ID, i, columns); err != nil {
				return err
			}
		}
		for _, col := range columns {
			v, ok := row[col.ID]
			if !ok {
				continue
			}
			cell := CellSelector(field.ID, i, col.ID)
			var err error
			if col.Type == formschema.TypeSelect || col.Type == formschema.TypeDropdown {
				err = d.Select(ctx, cell, v)
			} else {
				err = d.Fill(ctx, cell, v)
			}
			if err != nil {
				return fmt.Errorf("portal: fill %s row %d: %w", col.ID, i+1, err)
			}
		}
	}
	f.logger.Info("filled dynamic table", "field", field.ID, "rows", len(rows))
	return nil
}

// ensureRow adds row i of a table unless its first cell is already shown.
func (f *Filler) ensureRow(ctx context.Context, d browser.Driver, tableID string, i int, columns []formschema.Column) error {
	if len(columns) > 0 {
		present, err := d.IsVisible(ctx, CellSelector(tableID, i, columns[0].ID))
		if err != nil {
			return fmt.Errorf("portal: check row %d of %s: %w", i+1, tableID, err)
		}
		if present {
			return nil
		}
	}
	if err := d.Click(ctx, fmt.Sprintf(f.sel.AddTableRow, tableID)); err != nil {
		return fmt.Errorf("portal: add row %d to %s: %w", i+1, tableID, err)
	}
	return nil
}

// FillSection applies every decision in order and reports the tally. Low
// confidence decisions are applied too so the portal can validate them.
func (f *Filler) FillSection(ctx context.Context, d browser.Driver, section formschema.Section, decisions []lca.FieldDecision) lca.SectionResult {
	res := lca.SectionResult{Section: section.Name, FieldsTotal: len(decisions)}
	for _, dec := range decisions {
		if ctx.Err() != nil {
			res.FieldsFailed++
			res.Errors = append(res.Errors, ctx.Err().Error())
			break
		}
		field, ok := section.Field(dec.FieldID)
		if !ok {
			res.FieldsFailed++
			res.Errors = append(res.Errors, fmt.Sprintf("Field definition not found for %s", dec.FieldID))
			continue
		}
		if err := f.Apply(ctx, d, field, dec.Value); err != nil {
			f.logger.Warn("failed to fill field", "section", section.Name, "field", dec.FieldID, "error", err)
			res.FieldFailed(dec.FieldID, fmt.Sprintf("Failed to fill field %s: %v", dec.FieldID, err))
			continue
		}
		res.FieldsFilled++
	}
	f.logger.Info("section filled", "section", section.Name, "filled", res.FieldsFilled, "total", res.FieldsTotal)
	return res
}

// FormatDate renders dates as MM/DD/YYYY. ISO dates are converted; anything
// else is passed through.
func FormatDate(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.Format("01/02/2006")
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range []string{"2006-01-02", time.RFC3339} {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.Format("01/02/2006")
			}
		}
		return s
	default:
		return formschema.ValueString(v)
	}
}

// TableRows accepts the row shapes produced by the mapping table and by JSON
// decoding.
func TableRows(v any) ([]map[string]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []map[string]string:
		return t, nil
	case []map[string]any:
		out := make([]map[string]string, 0, len(t))
		for _, r := range t {
			out = append(out, stringRow(r))
		}
		return out, nil
	case []any:
		out := make([]map[string]string, 0, len(t))
		for i, item := range t {
			r, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("portal: table row %d is %T, want object", i+1, item)
			}
			out = append(out, stringRow(r))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("portal: table value is %T, want list of rows", v)
	}
}

func stringRow(r map[string]any) map[string]string {
	out := make(map[string]string, len(r))
	for k, v := range r {
		out[k] = formschema.ValueString(v)
	}
	return out
}

func inferColumns(rows []map[string]string) []formschema.Column {
	seen := map[string]bool{}
	var ids []string
	for _, r := range rows {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				ids = append(ids, k)
			}
		}
	}
	sort.Strings(ids)
	cols := make([]formschema.Column, len(ids))
	for i, id := range ids {
		cols[i] = formschema.Column{ID: id, Type: formschema.TypeText}
	}
	return cols
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1", "on", "checked":
			return true
		}
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return false
}
