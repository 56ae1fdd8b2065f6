// Package oracle asks a language model for field values, error fixes and an
// application review. Every response is checked against a JSON Schema before
// it reaches the filing pipeline.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/lca-filing-automation/internal/formschema"
	"github.com/wolfman30/lca-filing-automation/internal/lca"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

var tracer = otel.Tracer("lca.internal.oracle")

// ErrMalformedResponse means the model answered with something other than
// the expected JSON document.
var ErrMalformedResponse = errors.New("oracle: malformed response")

// Oracle is the full decision capability consumed by the filing pipeline.
type Oracle interface {
	ProposeSectionDecisions(ctx context.Context, section formschema.Section, app lca.Application) ([]lca.FieldDecision, error)
	ProposeErrorFixes(ctx context.Context, section formschema.Section, errs []lca.FieldError, state map[string]any) (map[string]lca.FieldFix, error)
	Validate(ctx context.Context, app lca.Application) (lca.ValidationReport, error)
}

const systemPrompt = "You are an expert in H-1B Labor Condition Application filings on the Department of Labor's FLAG portal. Answer with a single JSON object and nothing else."

// LLMOracle implements Oracle on top of any LLMClient.
type LLMOracle struct {
	client      LLMClient
	model       string
	temperature float32
	maxTokens   int32
	timeout     time.Duration
	schemas     *responseSchemas
	logger      *logging.Logger
}

// NewLLMOracle builds an oracle for the given model.
func NewLLMOracle(client LLMClient, model string, logger *logging.Logger) (*LLMOracle, error) {
	if client == nil {
		return nil, errors.New("oracle: llm client is required")
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &LLMOracle{
		client:      client,
		model:       model,
		temperature: 0.1,
		maxTokens:   2000,
		timeout:     30 * time.Second,
		schemas:     schemas,
		logger:      logger,
	}, nil
}

func (o *LLMOracle) WithTimeout(d time.Duration) *LLMOracle {
	if d > 0 {
		o.timeout = d
	}
	return o
}

func (o *LLMOracle) WithTemperature(t float32) *LLMOracle {
	o.temperature = t
	return o
}

func (o *LLMOracle) WithMaxTokens(n int32) *LLMOracle {
	if n > 0 {
		o.maxTokens = n
	}
	return o
}

type sectionDecisionsResponse struct {
	Decisions []lca.FieldDecision `json:"decisions"`
}

// ProposeSectionDecisions asks for one decision per field of section.
func (o *LLMOracle) ProposeSectionDecisions(ctx context.Context, section formschema.Section, app lca.Application) ([]lca.FieldDecision, error) {
	fields, err := json.MarshalIndent(section.Fields, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("oracle: encode fields: %w", err)
	}
	data, err := applicationJSON(app)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("You need to fill out the following section of an LCA form.\n\n")
	fmt.Fprintf(&b, "SECTION: %s\n", section.Name)
	if section.Description != "" {
		fmt.Fprintf(&b, "SECTION DESCRIPTION: %s\n", section.Description)
	}
	fmt.Fprintf(&b, "\nFIELDS TO DECIDE:\n%s\n\nAPPLICATION DATA:\n%s\n\n", fields, data)
	b.WriteString("For each field provide the value to enter, your reasoning, and your confidence between 0 and 1. ")
	b.WriteString("Respond with {\"decisions\": [{\"field_id\": \"...\", \"value\": ..., \"reasoning\": \"...\", \"confidence\": 0.0}]}.")

	var out sectionDecisionsResponse
	if err := o.ask(ctx, "oracle.section_decisions", b.String(), o.schemas.decisions, &out,
		attribute.String("lca.section", section.Name),
		attribute.Int("lca.fields", len(section.Fields)),
	); err != nil {
		return nil, err
	}
	return out.Decisions, nil
}

// ProposeErrorFixes asks for a corrected value per erroring field.
func (o *LLMOracle) ProposeErrorFixes(ctx context.Context, section formschema.Section, errs []lca.FieldError, state map[string]any) (map[string]lca.FieldFix, error) {
	errJSON, err := json.MarshalIndent(errs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("oracle: encode errors: %w", err)
	}
	stateJSON, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("oracle: encode form state: %w", err)
	}
	fields, err := json.MarshalIndent(section.Fields, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("oracle: encode fields: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The portal rejected values in section %q.\n\n", section.Name)
	fmt.Fprintf(&b, "ERRORS:\n%s\n\nCURRENT FORM STATE:\n%s\n\nFIELD DEFINITIONS:\n%s\n\n", errJSON, stateJSON, fields)
	b.WriteString("Suggest a corrected value for each field that resolves its error. ")
	b.WriteString("Respond with an object keyed by field id: {\"field_id\": {\"value\": ..., \"reasoning\": \"...\"}}.")

	out := map[string]lca.FieldFix{}
	if err := o.ask(ctx, "oracle.error_fixes", b.String(), o.schemas.fixes, &out,
		attribute.String("lca.section", section.Name),
		attribute.Int("lca.errors", len(errs)),
	); err != nil {
		return nil, err
	}
	return out, nil
}

type validationResponse struct {
	Valid           bool                  `json:"valid"`
	ValidationNotes string                `json:"validation_notes"`
	CleanedData     map[string]any        `json:"cleaned_data"`
	Issues          []lca.ValidationIssue `json:"issues"`
}

// Validate asks the model to review the application for compliance problems.
func (o *LLMOracle) Validate(ctx context.Context, app lca.Application) (lca.ValidationReport, error) {
	data, err := applicationJSON(app)
	if err != nil {
		return lca.ValidationReport{}, err
	}
	prompt := fmt.Sprintf(`Review the following application data for an H-1B LCA filing. Check for missing required fields, data format issues, legal or compliance issues, and inconsistencies.

APPLICATION DATA:
%s

Rules: the offered wage rate must be greater than or equal to the prevailing wage rate. Required employer fields: name, fein, address, city, state, zip, phone. Required job fields: title, soc_code. Required wage fields: rate, rate_type, prevailing_wage. Required worksite fields: address, city, state, zip.

Respond with {"valid": bool, "validation_notes": "...", "cleaned_data": {...} or null, "issues": [{"field": "...", "issue_type": "missing|format|compliance|inconsistency", "description": "...", "severity": "low|medium|high|error"}]}.`, data)

	var out validationResponse
	if err := o.ask(ctx, "oracle.validate", prompt, o.schemas.validation, &out); err != nil {
		return lca.ValidationReport{}, err
	}
	return lca.ValidationReport{
		Valid:       out.Valid,
		Notes:       out.ValidationNotes,
		CleanedData: out.CleanedData,
		Issues:      out.Issues,
	}, nil
}

func (o *LLMOracle) ask(ctx context.Context, op, prompt string, schema schemaValidator, out any, attrs ...attribute.KeyValue) error {
	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.Complete(callCtx, LLMRequest{
		Operation:   op,
		Format:      FormatJSON,
		Model:       o.model,
		System:      []string{systemPrompt},
		Messages:    []ChatMessage{{Role: RoleUser, Content: prompt}},
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	raw, err := extractJSON(resp.Text)
	if err != nil {
		span.RecordError(err)
		o.logger.Warn("oracle returned non-JSON text", "op", op, "chars", len(resp.Text))
		return err
	}
	if err := decodeChecked(raw, schema, out); err != nil {
		span.RecordError(err)
		o.logger.Warn("oracle response rejected", "op", op, "error", err)
		return err
	}
	if span.IsRecording() {
		span.SetAttributes(
			attribute.Int("lca.oracle.input_tokens", int(resp.Usage.InputTokens)),
			attribute.Int("lca.oracle.output_tokens", int(resp.Usage.OutputTokens)),
		)
	}
	return nil
}

type schemaValidator interface {
	Validate(v interface{}) error
}

func decodeChecked(raw []byte, schema schemaValidator, out any) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n?```")

// extractJSON pulls the JSON object out of a model reply. It tries the whole
// text, then a fenced code block, then the outermost braces.
func extractJSON(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if json.Valid([]byte(text)) {
		return []byte(text), nil
	}
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		if body := bytes.TrimSpace([]byte(m[1])); json.Valid(body) {
			return body, nil
		}
	}
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if body := []byte(text[start : end+1]); json.Valid(body) {
			return body, nil
		}
	}
	return nil, fmt.Errorf("%w: no JSON object found", ErrMalformedResponse)
}

// applicationJSON renders the application without portal credentials.
func applicationJSON(app lca.Application) ([]byte, error) {
	app.Credentials = nil
	data, err := json.MarshalIndent(app, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("oracle: encode application: %w", err)
	}
	return data, nil
}
