package subrecord

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Record is an in-memory clinical sub-record. A record is either Absent
// (only possible for MenstrualHistory of a non-female patient) or carries a
// field map that, once normalized, satisfies its kind's schema exactly.
type Record struct {
	Kind   Kind
	Absent bool
	Fields map[string]any
}

// Default returns the default record for k.
func Default(k Kind) Record {
	s := SchemaFor(k)
	if s == nil {
		return Record{Kind: k, Absent: true}
	}
	return s.Default()
}

// Absent returns the absent marker for k.
func Absent(k Kind) Record {
	return Record{Kind: k, Absent: true}
}

// DefaultFor returns the default record for k as seen by a patient of the
// given sex: MenstrualHistory is absent unless the patient is female.
func DefaultFor(k Kind, sex Sex) Record {
	if gated(k, sex) {
		return Absent(k)
	}
	return Default(k)
}

func gated(k Kind, sex Sex) bool {
	return k == MenstrualHistory && sex != Female
}

// Equal reports whether two records have the same kind, presence and values.
func (r Record) Equal(o Record) bool {
	if r.Kind != o.Kind || r.Absent != o.Absent {
		return false
	}
	if r.Absent {
		return true
	}
	return reflect.DeepEqual(r.Fields, o.Fields)
}

// Get returns the value at a dotted path such as "pastHistory.allergy".
func (r Record) Get(path string) (any, bool) {
	if r.Absent {
		return nil, false
	}
	var cur any = r.Fields
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// MarshalJSON writes the record with keys in schema order; an absent record
// is null.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.Absent {
		return []byte("null"), nil
	}
	s := SchemaFor(r.Kind)
	if s == nil {
		return nil, fmt.Errorf("marshal %s: unknown kind", r.Kind)
	}
	var buf bytes.Buffer
	if err := appendObject(&buf, s.Fields, r.Fields); err != nil {
		return nil, fmt.Errorf("marshal %s: %w", r.Kind, err)
	}
	return buf.Bytes(), nil
}

func appendObject(buf *bytes.Buffer, fields []Field, values map[string]any) error {
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(f.Name)
		buf.Write(key)
		buf.WriteByte(':')

		v := values[f.Name]
		if f.Type == TypeGroup {
			m, ok := v.(map[string]any)
			if !ok {
				return fmt.Errorf("%s: not an object", f.Name)
			}
			if err := appendObject(buf, f.Fields, m); err != nil {
				return err
			}
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return nil
}
