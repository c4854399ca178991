package subrecord

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// excerptRadius bounds the diagnostic excerpt to 2*excerptRadius bytes.
const excerptRadius = 20

type coerceMode int

const (
	lenient coerceMode = iota
	strict
)

// Normalize turns any caller input into a record that satisfies the kind's
// schema. It never fails: malformed input yields the kind default plus a
// warning the caller may treat as fatal.
func Normalize(kind Kind, raw RawInput, sex Sex) (Record, *ValidationError) {
	s := SchemaFor(kind)
	if s == nil {
		return Absent(kind), &ValidationError{
			Kind: SchemaMismatch, Type: kind, Offset: -1,
			Reason: "unknown sub-record kind",
		}
	}
	if gated(kind, sex) {
		return Absent(kind), nil
	}

	switch in := raw.(type) {
	case nil, Missing:
		return s.Default(), nil

	case Text:
		text := strings.TrimSpace(string(in))
		if text == "" || text == "null" {
			return s.Default(), nil
		}
		obj, cerr := parseObject(kind, []byte(text))
		if cerr != nil {
			return s.Default(), &ValidationError{
				Kind:    ParseFailure,
				Type:    kind,
				Offset:  cerr.Offset,
				Excerpt: cerr.Excerpt,
				Reason:  cerr.Reason,
			}
		}
		return normalizeObject(s, obj)

	case Structured:
		return normalizeObject(s, in)

	case Invalid:
		return s.Default(), &ValidationError{
			Kind:   SchemaMismatch,
			Type:   kind,
			Offset: -1,
			Reason: fmt.Sprintf("expected an object, got %s", jsonTypeName(in.Value)),
		}
	}

	return s.Default(), &ValidationError{
		Kind: SchemaMismatch, Type: kind, Offset: -1,
		Reason: fmt.Sprintf("unsupported input %T", raw),
	}
}

func normalizeObject(s *Schema, obj map[string]any) (Record, *ValidationError) {
	var issues []FieldIssue
	fields := coerceFields(s.Fields, obj, "", lenient, &issues)
	rec := Record{Kind: s.Kind, Fields: fields}
	if len(issues) == 0 {
		return rec, nil
	}
	return rec, &ValidationError{
		Kind:   SchemaMismatch,
		Type:   s.Kind,
		Offset: -1,
		Reason: fmt.Sprintf("%d field(s) replaced by defaults", len(issues)),
		Issues: issues,
	}
}

// parseObject parses data as a JSON object. Syntax errors, truncation and
// non-object roots are all reported as corruption with a position.
func parseObject(kind Kind, data []byte) (map[string]any, *CorruptionError) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		off := int64(-1)
		var syn *json.SyntaxError
		var typ *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syn):
			off = syn.Offset
		case errors.As(err, &typ):
			off = typ.Offset
		}
		return nil, &CorruptionError{
			Kind:    kind,
			Offset:  off,
			Excerpt: excerpt(data, off),
			Reason:  strings.TrimPrefix(err.Error(), "json: "),
		}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &CorruptionError{
			Kind:    kind,
			Offset:  0,
			Excerpt: excerpt(data, 0),
			Reason:  fmt.Sprintf("root is %s, not an object", jsonTypeName(v)),
		}
	}
	return obj, nil
}

// excerpt returns at most 2*excerptRadius bytes of data around off, trimmed
// to valid UTF-8.
func excerpt(data []byte, off int64) string {
	if len(data) == 0 {
		return ""
	}
	if off < 0 {
		off = 0
	}
	if off > int64(len(data)) {
		off = int64(len(data))
	}
	start := off - excerptRadius
	if start < 0 {
		start = 0
	}
	end := off + excerptRadius
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return strings.ToValidUTF8(string(data[start:end]), "")
}

func coerceFields(fields []Field, values map[string]any, prefix string, mode coerceMode, issues *[]FieldIssue) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		path := joinPath(prefix, f.Name)
		v, ok := values[f.Name]

		if f.Type == TypeGroup {
			m, isObj := v.(map[string]any)
			if ok && v != nil && !isObj {
				*issues = append(*issues, FieldIssue{Path: path, Reason: fmt.Sprintf("expected an object, got %s", jsonTypeName(v))})
			}
			out[f.Name] = coerceFields(f.Fields, m, path, mode, issues)
			continue
		}

		if !ok || v == nil {
			out[f.Name] = f.Default
			continue
		}
		cv, err := coerceScalar(f, v, mode)
		if err != nil {
			*issues = append(*issues, FieldIssue{Path: path, Reason: err.Error()})
			out[f.Name] = f.Default
			continue
		}
		out[f.Name] = cv
	}
	return out
}

func coerceScalar(f Field, v any, mode coerceMode) (any, error) {
	switch f.Type {
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		if mode == strict {
			return nil, fmt.Errorf("expected true or false, got %s", jsonTypeName(v))
		}
		if b, ok := truthiness(v); ok {
			return b, nil
		}
		return nil, fmt.Errorf("cannot read %s as a boolean", jsonTypeName(v))

	case TypeText:
		switch t := v.(type) {
		case string:
			// encoding/json decodes invalid UTF-8 as U+FFFD; match it so the
			// encoded form reads back as the same record.
			return strings.ToValidUTF8(t, "\uFFFD"), nil
		case bool:
			return strconv.FormatBool(t), nil
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), nil
		case json.Number:
			return t.String(), nil
		case int:
			return strconv.Itoa(t), nil
		case int64:
			return strconv.FormatInt(t, 10), nil
		}
		return nil, fmt.Errorf("cannot read %s as text", jsonTypeName(v))

	case TypeEnum:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected one of %s, got %s", strings.Join(f.Enum, "/"), jsonTypeName(v))
		}
		s = strings.TrimSpace(strings.ToValidUTF8(s, "\uFFFD"))
		if s == "" {
			return f.Default, nil
		}
		for _, e := range f.Enum {
			if strings.EqualFold(s, e) {
				return e, nil
			}
		}
		return nil, fmt.Errorf("expected one of %s", strings.Join(f.Enum, "/"))
	}
	return nil, fmt.Errorf("unsupported field type %s", f.Type)
}

// truthiness interprets the loose boolean forms HTML forms and older
// clients send.
func truthiness(v any) (bool, bool) {
	switch t := v.(type) {
	case float64:
		return t != 0, true
	case int:
		return t != 0, true
	case int64:
		return t != 0, true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return false, false
		}
		return f != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "on", "1":
			return true, true
		case "false", "no", "n", "off", "0", "":
			return false, true
		}
	}
	return false, false
}
