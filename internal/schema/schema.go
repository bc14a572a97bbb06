// Package schema implements the row-level contract enforced around plugin
// output. Rows failing the contract are quarantined with a violation
// classification instead of being dropped or failing the job.
package schema

import (
	"fmt"

	"github.com/sl224/casparianflow-sub011/internal/protocol"
)

// Metadata fields injected by the worker at write time, not by the plugin.
const (
	FieldRowID         = "_row_id"
	FieldSourceHash    = "_source_hash"
	FieldJobID         = "_job_id"
	FieldProcessedAt   = "_processed_at"
	FieldPluginVersion = "_plugin_version"
)

// ViolationType classifies why a row was quarantined.
type ViolationType string

const (
	// ViolationExtractionError: the plugin set the per-row error marker.
	// Checked before any structural validation and quarantines the row even
	// when every declared field would otherwise pass.
	ViolationExtractionError ViolationType = "extraction_error"
	// ViolationNullField: a non-nullable declared field is missing or null.
	ViolationNullField ViolationType = "null_field"
	// ViolationTypeMismatch: a field's value does not match its declared type.
	ViolationTypeMismatch ViolationType = "type_mismatch"
	// ViolationUndeclaredField: a field not in the schema appeared under a
	// strict contract.
	ViolationUndeclaredField ViolationType = "undeclared_field"
)

// FieldType is the declared type of a schema field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeAny     FieldType = "any"
)

// Field declares one column of an output's schema.
type Field struct {
	Name     string    `json:"name" yaml:"name"`
	Type     FieldType `json:"type" yaml:"type"`
	Nullable bool      `json:"nullable,omitempty" yaml:"nullable,omitempty"`
}

// Schema is the declared shape of one output stream. Strict forbids fields
// beyond the declared set (injected metadata and the error marker excepted).
type Schema struct {
	Fields []Field `json:"fields" yaml:"fields"`
	Strict bool    `json:"strict,omitempty" yaml:"strict,omitempty"`
}

// Violation is the diagnostic attached to a quarantined row.
type Violation struct {
	Type    ViolationType
	Field   string
	Message string
}

// reserved fields are always allowed, strict contract or not.
func reserved(name string) bool {
	switch name {
	case protocol.ErrorMarkerField, protocol.SourceRowField,
		FieldRowID, FieldSourceHash, FieldJobID, FieldProcessedAt, FieldPluginVersion:
		return true
	}
	return false
}

// Validate checks one row against the contract. The two error classes are
// checked in order: the plugin's own extraction failure marker first, then
// structural violations. A nil return means the row may be routed to its sink.
func (s *Schema) Validate(row map[string]any) *Violation {
	if marker, ok := row[protocol.ErrorMarkerField]; ok && marker != nil {
		return &Violation{
			Type:    ViolationExtractionError,
			Field:   protocol.ErrorMarkerField,
			Message: fmt.Sprintf("plugin reported extraction failure: %v", marker),
		}
	}
	if s == nil {
		return nil
	}

	for _, f := range s.Fields {
		v, present := row[f.Name]
		if !present || v == nil {
			if f.Nullable {
				continue
			}
			return &Violation{
				Type:    ViolationNullField,
				Field:   f.Name,
				Message: fmt.Sprintf("non-nullable field %q is missing or null", f.Name),
			}
		}
		if !typeMatches(f.Type, v) {
			return &Violation{
				Type:    ViolationTypeMismatch,
				Field:   f.Name,
				Message: fmt.Sprintf("field %q: expected %s, got %T", f.Name, f.Type, v),
			}
		}
	}

	if s.Strict {
		declared := make(map[string]struct{}, len(s.Fields))
		for _, f := range s.Fields {
			declared[f.Name] = struct{}{}
		}
		for name := range row {
			if reserved(name) {
				continue
			}
			if _, ok := declared[name]; !ok {
				return &Violation{
					Type:    ViolationUndeclaredField,
					Field:   name,
					Message: fmt.Sprintf("field %q is not declared in the schema", name),
				}
			}
		}
	}

	return nil
}

func typeMatches(t FieldType, v any) bool {
	switch t {
	case TypeAny, "":
		return true
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case TypeInteger:
		switch n := v.(type) {
		case int, int32, int64:
			return true
		case float64:
			// JSON decoding yields float64 for all numbers.
			return n == float64(int64(n))
		case float32:
			return n == float32(int64(n))
		}
		return false
	}
	return false
}
