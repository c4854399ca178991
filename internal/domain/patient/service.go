package patient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/domain/subrecord"
	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/platform/db"
)

const (
	minAge = 1
	maxAge = 150
)

type Service struct {
	repo        Repository
	guard       *subrecord.Guard
	phoneRegion string
}

// NewService wires the patient service. phoneRegion is the ISO region used
// to interpret mobile numbers written without a country code.
func NewService(repo Repository, guard *subrecord.Guard, phoneRegion string) *Service {
	if guard == nil {
		guard = subrecord.NewGuard(nil, nil, subrecord.DefaultWritePolicy())
	}
	return &Service{repo: repo, guard: guard, phoneRegion: strings.ToUpper(phoneRegion)}
}

func (s *Service) CreatePatient(ctx context.Context, req *Request, createdBy string) (*Response, error) {
	p, err := s.demographics(req)
	if err != nil {
		return nil, err
	}
	p.CreatedBy = createdBy

	ctx = subrecord.WithOrigin(ctx, subrecord.Origin{Source: subrecord.SourceWrite})
	enc, err := s.guard.EncodePayload(ctx, req.Payload(true), p.Sex)
	if err != nil {
		return nil, err
	}
	for k, v := range enc {
		p.SetEncoded(k, v)
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return s.respond(ctx, p), nil
}

func (s *Service) GetPatient(ctx context.Context, id int64) (*Response, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, p), nil
}

func (s *Service) ListPatients(ctx context.Context, f ListFilter, limit, offset int) ([]*Response, int, error) {
	patients, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*Response, 0, len(patients))
	for _, p := range patients {
		out = append(out, s.respond(ctx, p))
	}
	return out, total, nil
}

// UpdatePatient replaces the demographics of a patient. Only the clinical
// members present in req are re-encoded; the others keep their stored
// value. A patient who is no longer female loses their MenstrualHistory.
func (s *Service) UpdatePatient(ctx context.Context, id int64, req *Request) (*Response, error) {
	next, err := s.demographics(req)
	if err != nil {
		return nil, err
	}

	ctx = subrecord.WithOrigin(ctx, subrecord.Origin{PatientID: id, Source: subrecord.SourceWrite})
	enc, err := s.guard.EncodePayload(ctx, req.Payload(false), next.Sex)
	if err != nil {
		return nil, err
	}

	var updated *Patient
	err = db.InTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next.ID = cur.ID
		next.CreatedBy = cur.CreatedBy
		next.CreatedAt = cur.CreatedAt
		for _, k := range subrecord.AllKinds {
			next.SetEncoded(k, cur.Encoded(k))
		}
		for k, v := range enc {
			next.SetEncoded(k, v)
		}
		if next.Sex != subrecord.Female {
			next.MenstrualHistory = nil
		}
		if err := s.repo.Update(ctx, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, updated), nil
}

// UpdateSubRecord replaces a single sub-record of a patient.
func (s *Service) UpdateSubRecord(ctx context.Context, id int64, kind subrecord.Kind, raw json.RawMessage) (*Response, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown sub-record kind %d", int(kind))
	}
	ctx = subrecord.WithOrigin(ctx, subrecord.Origin{PatientID: id, Source: subrecord.SourceWrite})

	var updated *Patient
	err := db.InTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		enc, err := s.guard.EncodePayload(ctx, subrecord.Payload{kind: subrecord.RawFromJSON(raw)}, p.Sex)
		if err != nil {
			return err
		}
		p.SetEncoded(kind, enc[kind])
		if err := s.repo.UpdateEncodedField(ctx, id, kind, enc[kind]); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, updated), nil
}

func (s *Service) DeletePatient(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) respond(ctx context.Context, p *Patient) *Response {
	ctx = subrecord.WithOrigin(ctx, subrecord.Origin{PatientID: p.ID, Source: subrecord.SourceRead})
	return newResponse(p, s.guard.DecodeFields(ctx, p.EncodedFields(), p.Sex))
}

// demographics validates the non-clinical members of req and returns a
// patient carrying their canonical form.
func (s *Service) demographics(req *Request) (*Patient, error) {
	bad := map[string]string{}

	p := &Patient{
		Name:            strings.TrimSpace(req.Name),
		GuardianName:    trimmed(req.GuardianName),
		Address:         strings.TrimSpace(req.Address),
		Age:             req.Age,
		Occupation:      trimmed(req.Occupation),
		ChiefComplaints: strings.TrimSpace(req.ChiefComplaints),
		BranchID:        req.BranchID,
	}
	if p.Name == "" {
		bad["name"] = "is required"
	}
	if p.Address == "" {
		bad["address"] = "is required"
	}
	if p.Age < minAge || p.Age > maxAge {
		bad["age"] = fmt.Sprintf("must be between %d and %d", minAge, maxAge)
	}
	if p.ChiefComplaints == "" {
		bad["chief_complaints"] = "is required"
	}

	sex, err := subrecord.ParseSex(req.Sex)
	if err != nil {
		bad["sex"] = "must be one of Male, Female, Other"
	}
	p.Sex = sex

	mobile, err := s.normalizePhone(req.MobileNumber)
	if err != nil {
		bad["mobile_number"] = err.Error()
	}
	p.MobileNumber = mobile

	if len(bad) > 0 {
		return nil, &DemographicsError{Fields: bad}
	}
	return p, nil
}

// normalizePhone returns the E.164 form of a mobile number.
func (s *Service) normalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("is required")
	}
	num, err := phonenumbers.Parse(raw, s.phoneRegion)
	if err != nil {
		return "", fmt.Errorf("is not a phone number")
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("is not a valid mobile number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
