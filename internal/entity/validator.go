package entity

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Validation error categories. The exception reporter keys its remediation
// text and critical-error escalation on these values, so they are part of the
// persisted report contract.
const (
	CategoryRequiredFieldMissing = "required_field_missing"
	CategoryInvalidFormat        = "invalid_format"
	CategoryConstraintViolation  = "constraint_violation"
	CategoryTypeMismatch         = "type_mismatch"
	CategoryMissingHeader        = "missing_header"
	CategoryExtraHeader          = "extra_header"
)

// Validation error severities.
const (
	SeverityError   = "ERROR"
	SeverityWarning = "WARNING"
)

// ValidationError is one field-level validation failure, addressable to a row
// of one entity's source file.
type ValidationError struct {
	RowNumber int    `json:"row_number"`
	FieldName string `json:"field_name"`
	Value     any    `json:"field_value"`
	Category  string `json:"error_type"`
	Message   string `json:"error_message"`
	Severity  string `json:"severity"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("row %d, field %s: %s (%s)", e.RowNumber, e.FieldName, e.Message, e.Category)
}

// Validator interprets entity schemas: it normalizes raw staged values into
// typed scalars and reports constraint violations as categorized errors.
// One validator serves all entity types; the schema descriptor is the single
// source of truth for per-entity rules.
type Validator struct{}

// NewValidator creates a schema-driven validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateHeaders checks an external column list against the schema. Missing
// columns are structural errors; unexpected extras are warnings. Header
// problems never abort a batch, they only feed the exception report.
func (v *Validator) ValidateHeaders(d *Descriptor, headers []string) []ValidationError {
	var errs []ValidationError

	seen := make(map[string]bool, len(headers))
	for _, h := range headers {
		seen[h] = true
	}

	for _, col := range d.Schema.Columns() {
		if !seen[col] {
			errs = append(errs, ValidationError{
				FieldName: col,
				Category:  CategoryMissingHeader,
				Message:   fmt.Sprintf("missing expected column: %s", col),
				Severity:  SeverityError,
			})
		}
	}

	known := make(map[string]bool, len(d.Schema))
	for _, col := range d.Schema.Columns() {
		known[col] = true
	}

	for _, h := range headers {
		if !known[h] {
			errs = append(errs, ValidationError{
				FieldName: h,
				Category:  CategoryExtraHeader,
				Message:   fmt.Sprintf("unexpected column: %s", h),
				Severity:  SeverityWarning,
			})
		}
	}

	return errs
}

// ValidateRow normalizes one raw record against the entity schema and returns
// the normalized record plus any validation errors found. rowNumber is the
// 1-based position within the entity's source file, used for reporting.
//
// The normalized record maps field names to string / int64 / float64 / bool /
// time.Time values; absent or empty fields are omitted. A record is eligible
// for upsert only when no ERROR-severity errors are returned.
func (v *Validator) ValidateRow(d *Descriptor, raw Record, rowNumber int) (Record, []ValidationError) {
	var errs []ValidationError

	normalized := make(Record, len(raw))

	for _, field := range d.Schema {
		value, present := raw[field.Name]
		if !present || value == nil {
			continue
		}

		typed, err := coerce(field.Kind, value)
		if err != nil {
			errs = append(errs, ValidationError{
				RowNumber: rowNumber,
				FieldName: field.Name,
				Value:     value,
				Category:  CategoryTypeMismatch,
				Message:   err.Error(),
				Severity:  SeverityError,
			})

			continue
		}

		if typed == nil { // empty value, treated as absent
			continue
		}

		if fieldErr := checkField(field, typed); fieldErr != nil {
			fieldErr.RowNumber = rowNumber
			errs = append(errs, *fieldErr)

			continue
		}

		normalized[field.Name] = typed
	}

	// Natural-key fields are the only hard requirement: without them the row
	// cannot be matched for insert-vs-update and is not upsertable.
	for _, key := range d.NaturalKey {
		if _, ok := normalized[key]; !ok {
			errs = append(errs, ValidationError{
				RowNumber: rowNumber,
				FieldName: key,
				Category:  CategoryRequiredFieldMissing,
				Message:   fmt.Sprintf("natural key field %s is required", key),
				Severity:  SeverityError,
			})
		}
	}

	for _, rc := range d.RowChecks {
		if err := rc.Check(normalized); err != nil {
			errs = append(errs, ValidationError{
				RowNumber: rowNumber,
				FieldName: rc.Field,
				Value:     normalized[rc.Field],
				Category:  CategoryConstraintViolation,
				Message:   err.Error(),
				Severity:  SeverityError,
			})
		}
	}

	return normalized, errs
}

// HasBlockingErrors reports whether any error in the slice prevents the row
// from being upserted.
func HasBlockingErrors(errs []ValidationError) bool {
	for _, e := range errs {
		if e.Severity == SeverityError {
			return true
		}
	}

	return false
}

// checkField applies the declarative per-field constraints to a typed value.
func checkField(field Field, typed any) *ValidationError {
	switch value := typed.(type) {
	case string:
		if field.MaxLen > 0 && len(value) > field.MaxLen {
			return &ValidationError{
				FieldName: field.Name,
				Value:     value,
				Category:  CategoryConstraintViolation,
				Message:   fmt.Sprintf("value exceeds maximum length %d", field.MaxLen),
				Severity:  SeverityError,
			}
		}

		if len(field.Enum) > 0 && !enumContains(field.Enum, value) {
			return &ValidationError{
				FieldName: field.Name,
				Value:     value,
				Category:  CategoryConstraintViolation,
				Message:   fmt.Sprintf("value must be one of: %s", strings.Join(field.Enum, ", ")),
				Severity:  SeverityError,
			}
		}

		if field.Check != nil {
			if err := field.Check(value); err != nil {
				return &ValidationError{
					FieldName: field.Name,
					Value:     value,
					Category:  CategoryInvalidFormat,
					Message:   err.Error(),
					Severity:  SeverityError,
				}
			}
		}
	case int64:
		if field.NonNegative && value < 0 {
			return &ValidationError{
				FieldName: field.Name,
				Value:     value,
				Category:  CategoryConstraintViolation,
				Message:   "value must not be negative",
				Severity:  SeverityError,
			}
		}
	case float64:
		if field.NonNegative && value < 0 {
			return &ValidationError{
				FieldName: field.Name,
				Value:     value,
				Category:  CategoryConstraintViolation,
				Message:   "value must not be negative",
				Severity:  SeverityError,
			}
		}
	}

	return nil
}

func enumContains(enum []string, value string) bool {
	for _, e := range enum {
		if strings.EqualFold(e, value) {
			return true
		}
	}

	return false
}

// Timestamp layouts accepted from source files, most specific first.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// coerce converts a raw staged value into the field's scalar kind. Raw values
// arrive either as source-file strings or as driver types from staging
// read-back (int64, float64, bool, time.Time, []byte). Empty strings coerce
// to nil: incomplete source data, not an error.
func coerce(kind Kind, raw any) (any, error) {
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}

	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}

		return coerceString(kind, s)
	}

	switch kind {
	case KindString:
		return nil, fmt.Errorf("expected string, got %T", raw)
	case KindInt:
		switch value := raw.(type) {
		case int64:
			return value, nil
		case int:
			return int64(value), nil
		case float64:
			if value != float64(int64(value)) {
				return nil, fmt.Errorf("expected integer, got %v", value)
			}

			return int64(value), nil
		}
	case KindDecimal:
		switch value := raw.(type) {
		case float64:
			return value, nil
		case int64:
			return float64(value), nil
		case int:
			return float64(value), nil
		}
	case KindBool:
		if value, ok := raw.(bool); ok {
			return value, nil
		}

		if value, ok := raw.(int64); ok {
			return value != 0, nil
		}
	case KindTimestamp:
		if value, ok := raw.(time.Time); ok {
			return value, nil
		}
	}

	return nil, fmt.Errorf("cannot convert %T to %s", raw, kindName(kind))
}

func coerceString(kind Kind, s string) (any, error) {
	switch kind {
	case KindString:
		return s, nil
	case KindInt:
		value, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected integer, got %q", s)
		}

		return value, nil
	case KindDecimal:
		value, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("expected decimal, got %q", s)
		}

		return value, nil
	case KindBool:
		switch strings.ToLower(s) {
		case "true", "t", "1", "yes", "y":
			return true, nil
		case "false", "f", "0", "no", "n":
			return false, nil
		}

		return nil, fmt.Errorf("expected boolean, got %q", s)
	case KindTimestamp:
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, nil
			}
		}

		return nil, fmt.Errorf("expected timestamp, got %q", s)
	}

	return nil, fmt.Errorf("unsupported field kind %d", kind)
}

func kindName(kind Kind) string {
	switch kind {
	case KindString:
		return "string"
	case KindInt:
		return "integer"
	case KindDecimal:
		return "decimal"
	case KindBool:
		return "boolean"
	case KindTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}
