package subrecord

import (
	"fmt"
	"strings"
)

// ValidationErrorKind classifies a normalization warning.
type ValidationErrorKind int

const (
	// ParseFailure: the input was text that did not parse as an object.
	ParseFailure ValidationErrorKind = iota + 1
	// SchemaMismatch: the input parsed but one or more fields had to be
	// coerced or defaulted.
	SchemaMismatch
)

func (k ValidationErrorKind) String() string {
	switch k {
	case ParseFailure:
		return "parse_failure"
	case SchemaMismatch:
		return "schema_mismatch"
	}
	return "unknown"
}

// FieldIssue names one field that could not be taken as supplied.
type FieldIssue struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// ValidationError is the non-fatal warning returned by Normalize next to a
// usable record. Offset is -1 when the parser did not report a position.
type ValidationError struct {
	Kind    ValidationErrorKind `json:"kind"`
	Type    Kind                `json:"field"`
	Offset  int64               `json:"offset"`
	Excerpt string              `json:"excerpt,omitempty"`
	Reason  string              `json:"reason"`
	Issues  []FieldIssue        `json:"issues,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.Kind == ParseFailure {
		if e.Offset >= 0 {
			return fmt.Sprintf("%s: %s: %s at offset %d", e.Type, e.Kind, e.Reason, e.Offset)
		}
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Kind, e.Reason)
	}
	if len(e.Issues) == 0 {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Kind, e.Reason)
	}
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = is.Path + " " + is.Reason
	}
	return fmt.Sprintf("%s: %s: %s", e.Type, e.Kind, strings.Join(parts, "; "))
}

// CorruptionError reports a persisted value that could not be decoded. The
// excerpt is short and never the full payload.
type CorruptionError struct {
	Kind    Kind
	Offset  int64
	Excerpt string
	Reason  string
}

func (e *CorruptionError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("corrupted %s at offset %d: %s (near %q)", e.Kind, e.Offset, e.Reason, e.Excerpt)
	}
	return fmt.Sprintf("corrupted %s: %s", e.Kind, e.Reason)
}

// EncodingInvariantViolation means Encode was handed a record it could not
// serialize faithfully. It indicates a bug and must never be persisted past.
type EncodingInvariantViolation struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *EncodingInvariantViolation) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encoding invariant violated for %s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("encoding invariant violated for %s: %s", e.Kind, e.Reason)
}

func (e *EncodingInvariantViolation) Unwrap() error { return e.Err }

// RejectedWriteError is returned by the guard when a write carries clinical
// data that failed to parse and the write policy treats that as fatal.
type RejectedWriteError struct {
	Fields []*ValidationError
}

func (e *RejectedWriteError) Error() string {
	return "rejected malformed clinical data in " + strings.Join(e.FieldNames(), ", ")
}

// FieldNames lists the payload keys that caused the rejection.
func (e *RejectedWriteError) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Type.String()
	}
	return names
}
