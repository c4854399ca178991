package integrity

import (
	"time"

	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/domain/subrecord"
)

// Action records what a run did to corrupted fields.
type Action string

const (
	ActionNone           Action = "none"
	ActionResetToDefault Action = "reset-to-default"
)

// Status summarizes a run.
type Status string

const (
	StatusClean     Status = "CLEAN"
	StatusCorrupted Status = "CORRUPTED"
	StatusFixed     Status = "FIXED"
	StatusPartial   Status = "PARTIAL"
)

// Report is the outcome of one auditor run. It is emitted, never stored as
// patient data.
type Report struct {
	RunID             string            `json:"run_id"`
	Timestamp         time.Time         `json:"timestamp"`
	DurationMS        int64             `json:"duration_ms"`
	Action            Action            `json:"action"`
	TotalPatients     int               `json:"total_patients"`
	ScannedFields     int               `json:"scanned_fields"`
	CorruptedFields   int               `json:"corrupted_fields"`
	FixedFields       int               `json:"fixed_fields"`
	FailedRepairs     int               `json:"failed_repairs"`
	CorruptedPatients []PatientFindings `json:"corrupted_patients"`
	Status            Status            `json:"status"`
}

// PatientFindings lists the corrupted fields of one patient.
type PatientFindings struct {
	ID     int64          `json:"id"`
	Name   string         `json:"name"`
	Fields []FieldFinding `json:"fields"`
}

// FieldFinding describes one field that failed to decode. Excerpt is a
// short window around the failure, never the whole value.
type FieldFinding struct {
	Kind        subrecord.Kind      `json:"kind"`
	Reason      string              `json:"reason"`
	Offset      int64               `json:"offset"`
	Excerpt     string              `json:"excerpt,omitempty"`
	Hints       []subrecord.Pattern `json:"hints,omitempty"`
	Repaired    bool                `json:"repaired"`
	RepairError string              `json:"repair_error,omitempty"`
}

// CorruptedKinds returns the kinds that failed for p, in report order.
func (p PatientFindings) CorruptedKinds() []subrecord.Kind {
	kinds := make([]subrecord.Kind, len(p.Fields))
	for i, f := range p.Fields {
		kinds[i] = f.Kind
	}
	return kinds
}

func (r *Report) settle(started time.Time) {
	r.DurationMS = time.Since(started).Milliseconds()
	r.FixedFields, r.FailedRepairs = 0, 0
	for _, p := range r.CorruptedPatients {
		for _, f := range p.Fields {
			switch {
			case f.Repaired:
				r.FixedFields++
			case r.Action == ActionResetToDefault:
				r.FailedRepairs++
			}
		}
	}

	switch {
	case r.CorruptedFields == 0:
		r.Status = StatusClean
	case r.Action == ActionNone:
		r.Status = StatusCorrupted
	case r.FailedRepairs == 0:
		r.Status = StatusFixed
	default:
		r.Status = StatusPartial
	}
}
