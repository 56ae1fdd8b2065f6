// Package formschema describes the sections and fields of the LCA web form.
// The schema is loaded once and shared read-only by every filing.
package formschema

import (
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed lca_form.yaml
var defaultSchemaYAML []byte

// FieldType enumerates the widget kinds the form uses.
type FieldType string

const (
	TypeText         FieldType = "text"
	TypeTextarea     FieldType = "textarea"
	TypeSelect       FieldType = "select"
	TypeDropdown     FieldType = "dropdown"
	TypeRadio        FieldType = "radio"
	TypeCheckbox     FieldType = "checkbox"
	TypeDate         FieldType = "date"
	TypeAutocomplete FieldType = "autocomplete"
	TypeDynamicTable FieldType = "dynamic_table"
)

var knownTypes = map[FieldType]bool{
	TypeText: true, TypeTextarea: true, TypeSelect: true, TypeDropdown: true,
	TypeRadio: true, TypeCheckbox: true, TypeDate: true, TypeAutocomplete: true,
	TypeDynamicTable: true,
}

// Column is one cell definition of a dynamic table row.
type Column struct {
	ID       string    `yaml:"id" json:"id"`
	Type     FieldType `yaml:"type" json:"type"`
	Required bool      `yaml:"required" json:"required,omitempty"`
}

// Field is a single form input.
type Field struct {
	ID          string            `yaml:"id" json:"id"`
	Label       string            `yaml:"label" json:"label,omitempty"`
	Type        FieldType         `yaml:"type" json:"type"`
	Required    bool              `yaml:"required" json:"required,omitempty"`
	Conditional map[string]string `yaml:"conditional" json:"conditional,omitempty"`
	Pattern     string            `yaml:"pattern" json:"pattern,omitempty"`
	Options     []string          `yaml:"options" json:"options,omitempty"`
	MaxLength   int               `yaml:"max_length" json:"max_length,omitempty"`
	Default     string            `yaml:"default" json:"default,omitempty"`
	Columns     []Column          `yaml:"columns" json:"columns,omitempty"`

	pattern *regexp.Regexp
}

// Section is an ordered group of fields saved together.
type Section struct {
	Name        string  `yaml:"name" json:"name"`
	Category    string  `yaml:"category" json:"category"`
	Description string  `yaml:"description" json:"description,omitempty"`
	Fields      []Field `yaml:"fields" json:"fields"`
}

// Schema is the whole form.
type Schema struct {
	Version   string    `yaml:"version" json:"version"`
	FormTypes []string  `yaml:"form_types" json:"form_types"`
	Sections  []Section `yaml:"sections" json:"sections"`
}

// ErrInvalidSchema wraps every structural problem found while parsing.
var ErrInvalidSchema = errors.New("formschema: invalid schema")

var (
	defaultOnce   sync.Once
	defaultSchema *Schema
	defaultErr    error
)

// Default returns the embedded FLAG form schema.
func Default() (*Schema, error) {
	defaultOnce.Do(func() {
		defaultSchema, defaultErr = Parse(defaultSchemaYAML)
	})
	return defaultSchema, defaultErr
}

// Parse decodes and checks a YAML schema document.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("formschema: decode: %w", err)
	}
	if err := s.compile(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Schema) compile() error {
	if len(s.Sections) == 0 {
		return fmt.Errorf("%w: no sections", ErrInvalidSchema)
	}
	seen := make(map[string]bool)
	for si := range s.Sections {
		sec := &s.Sections[si]
		if strings.TrimSpace(sec.Name) == "" {
			return fmt.Errorf("%w: section %d has no name", ErrInvalidSchema, si)
		}
		for fi := range sec.Fields {
			f := &sec.Fields[fi]
			if f.ID == "" {
				return fmt.Errorf("%w: %s field %d has no id", ErrInvalidSchema, sec.Name, fi)
			}
			if seen[f.ID] {
				return fmt.Errorf("%w: duplicate field id %q", ErrInvalidSchema, f.ID)
			}
			seen[f.ID] = true
			if f.Type == "" {
				f.Type = TypeText
			}
			if !knownTypes[f.Type] {
				return fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidSchema, f.ID, f.Type)
			}
			if f.Type == TypeDynamicTable && len(f.Columns) == 0 {
				return fmt.Errorf("%w: dynamic table %q has no columns", ErrInvalidSchema, f.ID)
			}
			if f.Pattern != "" {
				re, err := regexp.Compile(f.Pattern)
				if err != nil {
					return fmt.Errorf("%w: field %q pattern: %v", ErrInvalidSchema, f.ID, err)
				}
				f.pattern = re
			}
		}
	}
	for _, sec := range s.Sections {
		for _, f := range sec.Fields {
			for dep := range f.Conditional {
				if !seen[dep] {
					return fmt.Errorf("%w: field %q depends on unknown field %q", ErrInvalidSchema, f.ID, dep)
				}
			}
		}
	}
	return nil
}

// Section looks up a section by name.
func (s *Schema) Section(name string) (Section, bool) {
	for _, sec := range s.Sections {
		if sec.Name == name {
			return sec, true
		}
	}
	return Section{}, false
}

// SectionNames lists section names in fill order.
func (s *Schema) SectionNames() []string {
	names := make([]string, 0, len(s.Sections))
	for _, sec := range s.Sections {
		names = append(names, sec.Name)
	}
	return names
}

// SupportsFormType reports whether the portal offers the given form type.
func (s *Schema) SupportsFormType(formType string) bool {
	for _, ft := range s.FormTypes {
		if strings.EqualFold(ft, formType) {
			return true
		}
	}
	return false
}

// Field returns the field with the given id.
func (sec Section) Field(id string) (Field, bool) {
	for _, f := range sec.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// Subset returns a copy of the section restricted to the given field ids.
func (sec Section) Subset(ids []string) Section {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := sec
	out.Fields = nil
	for _, f := range sec.Fields {
		if want[f.ID] {
			out.Fields = append(out.Fields, f)
		}
	}
	return out
}

// IsConditional reports whether visibility depends on other fields.
func (f Field) IsConditional() bool {
	return len(f.Conditional) > 0
}

// Visible evaluates the field's condition against known values. A field
// whose controlling value is unknown is hidden.
func (f Field) Visible(values map[string]any) bool {
	for dep, want := range f.Conditional {
		got, ok := values[dep]
		if !ok || !strings.EqualFold(ValueString(got), want) {
			return false
		}
	}
	return true
}

// Undetermined reports whether any controlling value is still unknown.
func (f Field) Undetermined(values map[string]any) bool {
	for dep := range f.Conditional {
		if _, ok := values[dep]; !ok {
			return true
		}
	}
	return false
}

// DefaultValue is the gap-fill value for the field's type.
func (f Field) DefaultValue() any {
	switch f.Type {
	case TypeCheckbox:
		return false
	case TypeRadio, TypeSelect, TypeDropdown:
		if len(f.Options) > 0 {
			return f.Options[0]
		}
		return f.Default
	case TypeDynamicTable:
		return []map[string]string{}
	default:
		return ""
	}
}

// Matches reports whether value satisfies the field pattern. Empty optional
// values always match.
func (f Field) Matches(value string) bool {
	if value == "" && !f.Required {
		return true
	}
	if f.pattern == nil {
		if f.Pattern == "" {
			return true
		}
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			return true
		}
		return re.MatchString(value)
	}
	return f.pattern.MatchString(value)
}

// ValueString renders a decided value the way the form displays it.
func ValueString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "Yes"
		}
		return "No"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprint(t)
	}
}
