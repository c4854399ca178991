package subrecord

import (
	"fmt"
)

// FieldType is the declared type of a schema field.
type FieldType int

const (
	TypeBool FieldType = iota + 1
	TypeText
	TypeEnum
	TypeGroup
)

func (t FieldType) String() string {
	switch t {
	case TypeBool:
		return "boolean"
	case TypeText:
		return "text"
	case TypeEnum:
		return "enum"
	case TypeGroup:
		return "object"
	}
	return "unknown"
}

// Field describes one key of a sub-record. Groups nest further fields.
type Field struct {
	Name    string
	Type    FieldType
	Enum    []string
	Default any
	Fields  []Field
}

func boolField(name string) Field {
	return Field{Name: name, Type: TypeBool, Default: false}
}

func textField(name string) Field {
	return Field{Name: name, Type: TypeText, Default: ""}
}

func enumField(name, def string, values ...string) Field {
	return Field{Name: name, Type: TypeEnum, Default: def, Enum: values}
}

func groupField(name string, fields ...Field) Field {
	return Field{Name: name, Type: TypeGroup, Fields: fields}
}

// Schema is the fixed shape of one kind.
type Schema struct {
	Kind   Kind
	Fields []Field
}

var schemas = map[Kind]*Schema{
	MedicalHistory: {
		Kind: MedicalHistory,
		Fields: []Field{
			groupField("pastHistory",
				boolField("allergy"),
				textField("commonNotes"),
				boolField("anemia"),
				boolField("arthritis"),
				boolField("asthma"),
				boolField("cancer"),
				boolField("diabetes"),
				boolField("heartDisease"),
				boolField("hypertension"),
				boolField("thyroid"),
				boolField("tuberculosis"),
			),
			groupField("familyHistory",
				boolField("diabetes"),
				boolField("hypertension"),
				boolField("thyroid"),
				boolField("tuberculosis"),
				boolField("cancer"),
			),
		},
	},
	PhysicalGenerals: {
		Kind: PhysicalGenerals,
		Fields: []Field{
			textField("appetite"),
			textField("bowel"),
			textField("urine"),
			textField("sweating"),
			textField("sleep"),
			textField("thirst"),
			textField("addictions"),
		},
	},
	MenstrualHistory: {
		Kind: MenstrualHistory,
		Fields: []Field{
			textField("menses"),
			enumField("menopause", "No", "Yes", "No"),
			textField("leucorrhoea"),
			enumField("gonorrhea", "No", "Yes", "No"),
			textField("otherDischarges"),
		},
	},
	FoodAndHabit: {
		Kind: FoodAndHabit,
		Fields: []Field{
			textField("foodHabit"),
			textField("addictions"),
		},
	},
}

// SchemaFor returns the schema of k, or nil for an unknown kind.
func SchemaFor(k Kind) *Schema {
	return schemas[k]
}

// Default returns the populated default record of the kind.
func (s *Schema) Default() Record {
	return Record{Kind: s.Kind, Fields: defaultValues(s.Fields)}
}

func defaultValues(fields []Field) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if f.Type == TypeGroup {
			out[f.Name] = defaultValues(f.Fields)
			continue
		}
		out[f.Name] = f.Default
	}
	return out
}

// conform reports the first way values deviates from fields: a missing key,
// an extra key, a wrongly typed value, or an enum value outside its set.
func conform(fields []Field, values map[string]any, prefix string) error {
	if len(values) != len(fields) {
		for k := range values {
			if findField(fields, k) == nil {
				return fmt.Errorf("%s: unexpected field", joinPath(prefix, k))
			}
		}
	}
	for _, f := range fields {
		path := joinPath(prefix, f.Name)
		v, ok := values[f.Name]
		if !ok {
			return fmt.Errorf("%s: missing", path)
		}
		switch f.Type {
		case TypeBool:
			if _, ok := v.(bool); !ok {
				return fmt.Errorf("%s: %s is not a boolean", path, jsonTypeName(v))
			}
		case TypeText:
			if _, ok := v.(string); !ok {
				return fmt.Errorf("%s: %s is not text", path, jsonTypeName(v))
			}
		case TypeEnum:
			s, ok := v.(string)
			if !ok || !inEnum(f.Enum, s) {
				return fmt.Errorf("%s: %v is not one of %v", path, v, f.Enum)
			}
		case TypeGroup:
			m, ok := v.(map[string]any)
			if !ok {
				return fmt.Errorf("%s: %s is not an object", path, jsonTypeName(v))
			}
			if err := conform(f.Fields, m, path); err != nil {
				return err
			}
		}
	}
	return nil
}

func findField(fields []Field, name string) *Field {
	for i := range fields {
		if fields[i].Name == name {
			return &fields[i]
		}
	}
	return nil
}

func inEnum(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64, float32, int, int32, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
