package patient

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/domain/subrecord"
)

var ErrNotFound = errors.New("patient not found")

// Patient maps to the patient table. The four clinical sub-records are held
// in their encoded column form; use the service to read them decoded.
type Patient struct {
	ID              int64         `json:"id"`
	Name            string        `json:"name"`
	GuardianName    *string       `json:"guardian_name,omitempty"`
	Address         string        `json:"address"`
	Age             int           `json:"age"`
	Sex             subrecord.Sex `json:"sex"`
	Occupation      *string       `json:"occupation,omitempty"`
	MobileNumber    string        `json:"mobile_number"`
	ChiefComplaints string        `json:"chief_complaints"`
	BranchID        *int64        `json:"branch_id,omitempty"`
	CreatedBy       string        `json:"created_by"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`

	MedicalHistory   *string `json:"-"`
	PhysicalGenerals *string `json:"-"`
	MenstrualHistory *string `json:"-"`
	FoodAndHabit     *string `json:"-"`
}

// Encoded returns the stored value of one sub-record column.
func (p *Patient) Encoded(k subrecord.Kind) *string {
	switch k {
	case subrecord.MedicalHistory:
		return p.MedicalHistory
	case subrecord.PhysicalGenerals:
		return p.PhysicalGenerals
	case subrecord.MenstrualHistory:
		return p.MenstrualHistory
	case subrecord.FoodAndHabit:
		return p.FoodAndHabit
	}
	return nil
}

// SetEncoded replaces the stored value of one sub-record column.
func (p *Patient) SetEncoded(k subrecord.Kind, v *string) {
	switch k {
	case subrecord.MedicalHistory:
		p.MedicalHistory = v
	case subrecord.PhysicalGenerals:
		p.PhysicalGenerals = v
	case subrecord.MenstrualHistory:
		p.MenstrualHistory = v
	case subrecord.FoodAndHabit:
		p.FoodAndHabit = v
	}
}

// EncodedFields returns all four stored columns keyed by kind.
func (p *Patient) EncodedFields() map[subrecord.Kind]*string {
	out := make(map[subrecord.Kind]*string, len(subrecord.AllKinds))
	for _, k := range subrecord.AllKinds {
		out[k] = p.Encoded(k)
	}
	return out
}

// EncodedRow is the slice of a patient the integrity auditor needs.
type EncodedRow struct {
	ID     int64
	Name   string
	Sex    subrecord.Sex
	Fields map[subrecord.Kind]*string
}

// Request is the write payload for create and update. Clinical members are
// kept raw so that their absence, an explicit null, a JSON string and an
// object can be told apart.
type Request struct {
	Name            string  `json:"name"`
	GuardianName    *string `json:"guardian_name"`
	Address         string  `json:"address"`
	Age             int     `json:"age"`
	Sex             string  `json:"sex"`
	Occupation      *string `json:"occupation"`
	MobileNumber    string  `json:"mobile_number"`
	ChiefComplaints string  `json:"chief_complaints"`
	BranchID        *int64  `json:"branch_id"`

	MedicalHistory   json.RawMessage `json:"medicalHistory"`
	PhysicalGenerals json.RawMessage `json:"physicalGenerals"`
	MenstrualHistory json.RawMessage `json:"menstrualHistory"`
	FoodAndHabit     json.RawMessage `json:"foodAndHabit"`
}

func (r *Request) raw(k subrecord.Kind) json.RawMessage {
	switch k {
	case subrecord.MedicalHistory:
		return r.MedicalHistory
	case subrecord.PhysicalGenerals:
		return r.PhysicalGenerals
	case subrecord.MenstrualHistory:
		return r.MenstrualHistory
	case subrecord.FoodAndHabit:
		return r.FoodAndHabit
	}
	return nil
}

// Payload returns the clinical members present in the request. When all is
// set, absent members are included as Missing so that they get defaults.
func (r *Request) Payload(all bool) subrecord.Payload {
	p := subrecord.Payload{}
	for _, k := range subrecord.AllKinds {
		raw := r.raw(k)
		if raw == nil {
			if all {
				p[k] = subrecord.Missing{}
			}
			continue
		}
		p[k] = subrecord.RawFromJSON(raw)
	}
	return p
}

// Response is a patient with its sub-records decoded for a client.
type Response struct {
	ID              int64         `json:"id"`
	Name            string        `json:"name"`
	GuardianName    *string       `json:"guardian_name,omitempty"`
	Address         string        `json:"address"`
	Age             int           `json:"age"`
	Sex             subrecord.Sex `json:"sex"`
	Occupation      *string       `json:"occupation,omitempty"`
	MobileNumber    string        `json:"mobile_number"`
	ChiefComplaints string        `json:"chief_complaints"`
	BranchID        *int64        `json:"branch_id,omitempty"`
	CreatedBy       string        `json:"created_by"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`

	MedicalHistory   subrecord.Record `json:"medicalHistory"`
	PhysicalGenerals subrecord.Record `json:"physicalGenerals"`
	MenstrualHistory subrecord.Record `json:"menstrualHistory"`
	FoodAndHabit     subrecord.Record `json:"foodAndHabit"`

	DataIntegrity DataIntegrity `json:"data_integrity"`
}

// DataIntegrity tells a client whether any sub-record was substituted by its
// default because the stored value was unreadable.
type DataIntegrity struct {
	Status          string   `json:"status"`
	CorruptedFields []string `json:"corrupted_fields,omitempty"`
}

const (
	IntegrityOK        = "ok"
	IntegrityCorrupted = "corrupted"
)

func newResponse(p *Patient, d subrecord.Decoded) *Response {
	resp := &Response{
		ID:               p.ID,
		Name:             p.Name,
		GuardianName:     p.GuardianName,
		Address:          p.Address,
		Age:              p.Age,
		Sex:              p.Sex,
		Occupation:       p.Occupation,
		MobileNumber:     p.MobileNumber,
		ChiefComplaints:  p.ChiefComplaints,
		BranchID:         p.BranchID,
		CreatedBy:        p.CreatedBy,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
		MedicalHistory:   d.Record(subrecord.MedicalHistory),
		PhysicalGenerals: d.Record(subrecord.PhysicalGenerals),
		MenstrualHistory: d.Record(subrecord.MenstrualHistory),
		FoodAndHabit:     d.Record(subrecord.FoodAndHabit),
		DataIntegrity:    DataIntegrity{Status: IntegrityOK},
	}
	if len(d.Corrupted) > 0 {
		resp.DataIntegrity.Status = IntegrityCorrupted
		for _, k := range d.Corrupted {
			resp.DataIntegrity.CorruptedFields = append(resp.DataIntegrity.CorruptedFields, k.String())
		}
	}
	return resp
}

// DemographicsError lists every demographic field that failed validation.
type DemographicsError struct {
	Fields map[string]string
}

func (e *DemographicsError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %s", k, e.Fields[k])
	}
	return "invalid patient: " + strings.Join(parts, "; ")
}

// ListFilter narrows ListPatients.
type ListFilter struct {
	Name     string
	Sex      subrecord.Sex
	BranchID *int64
}
