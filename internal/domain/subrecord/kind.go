package subrecord

import (
	"fmt"
	"strings"
)

// Kind identifies one of the structured clinical sub-records stored as text
// on the patient row.
type Kind int

const (
	MedicalHistory Kind = iota + 1
	PhysicalGenerals
	MenstrualHistory
	FoodAndHabit
)

// AllKinds lists every kind in column order.
var AllKinds = []Kind{MedicalHistory, PhysicalGenerals, MenstrualHistory, FoodAndHabit}

var kindNames = map[Kind]struct{ wire, column string }{
	MedicalHistory:   {"medicalHistory", "medical_history"},
	PhysicalGenerals: {"physicalGenerals", "physical_generals"},
	MenstrualHistory: {"menstrualHistory", "menstrual_history"},
	FoodAndHabit:     {"foodAndHabit", "food_and_habit"},
}

// String returns the payload key used for the kind.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n.wire
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Column returns the patient table column holding the encoded field.
func (k Kind) Column() string {
	return kindNames[k].column
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid sub-record kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind accepts either the payload key (medicalHistory) or the column
// name (medical_history), case-insensitively.
func ParseKind(s string) (Kind, error) {
	s = strings.TrimSpace(s)
	for k, n := range kindNames {
		if strings.EqualFold(s, n.wire) || strings.EqualFold(s, n.column) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown sub-record kind %q", s)
}

// Sex is the patient attribute that gates MenstrualHistory.
type Sex string

const (
	Male     Sex = "Male"
	Female   Sex = "Female"
	OtherSex Sex = "Other"
)

// ParseSex canonicalizes a sex value. Matching is case-insensitive.
func ParseSex(s string) (Sex, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male":
		return Male, nil
	case "female":
		return Female, nil
	case "other":
		return OtherSex, nil
	}
	return "", fmt.Errorf("sex must be Male, Female, or Other, got %q", s)
}
