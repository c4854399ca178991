package subrecord

import (
	"context"
	"fmt"
	"strings"
)

// Codec converts records to and from the text stored in a patient column.
// The stored form is compact JSON with keys in schema order; an absent
// record is stored as NULL.
type Codec struct {
	observer Observer
}

// NewCodec creates a codec that reports decode anomalies and corruption to
// obs. A nil observer discards events.
func NewCodec(obs Observer) *Codec {
	if obs == nil {
		obs = NopObserver{}
	}
	return &Codec{observer: obs}
}

// Encode serializes rec and verifies that the output decodes back to rec.
// It returns nil for an absent record. Any failure is an
// *EncodingInvariantViolation and no value is returned.
func (c *Codec) Encode(rec Record) (*string, error) {
	s := SchemaFor(rec.Kind)
	if s == nil {
		return nil, &EncodingInvariantViolation{Kind: rec.Kind, Reason: "unknown sub-record kind"}
	}
	if rec.Absent {
		return nil, nil
	}
	if err := conform(s.Fields, rec.Fields, ""); err != nil {
		return nil, &EncodingInvariantViolation{Kind: rec.Kind, Reason: "record does not satisfy schema", Err: err}
	}

	b, err := rec.MarshalJSON()
	if err != nil {
		return nil, &EncodingInvariantViolation{Kind: rec.Kind, Reason: "serialize", Err: err}
	}

	back, issues, cerr := decodeBytes(s, b)
	if cerr != nil {
		return nil, &EncodingInvariantViolation{Kind: rec.Kind, Reason: "output does not decode", Err: cerr}
	}
	if len(issues) > 0 {
		return nil, &EncodingInvariantViolation{
			Kind:   rec.Kind,
			Reason: fmt.Sprintf("output decodes with %d anomalies, first at %s", len(issues), issues[0].Path),
		}
	}
	if !back.Equal(rec) {
		return nil, &EncodingInvariantViolation{Kind: rec.Kind, Reason: "output decodes to a different record"}
	}

	out := string(b)
	return &out, nil
}

// Decode parses a stored value. NULL, blank and the literal null all mean
// "no data" and yield the kind default. A value that does not parse to an
// object returns the default together with a *CorruptionError. Non-boolean
// values in boolean fields are replaced by the field default and reported as
// anomalies; the record still decodes.
func (c *Codec) Decode(ctx context.Context, kind Kind, stored *string) (Record, error) {
	s := SchemaFor(kind)
	if s == nil {
		return Absent(kind), fmt.Errorf("decode: unknown sub-record kind %d", int(kind))
	}
	if stored == nil {
		return s.Default(), nil
	}
	text := strings.TrimSpace(*stored)
	if text == "" || text == "null" {
		return s.Default(), nil
	}

	rec, issues, cerr := decodeBytes(s, []byte(text))
	if cerr != nil {
		ev := eventFor(ctx, kind)
		ev.Offset = cerr.Offset
		ev.Excerpt = cerr.Excerpt
		ev.Reason = cerr.Reason
		c.observer.Corruption(ctx, ev)
		return s.Default(), cerr
	}
	for _, is := range issues {
		ev := eventFor(ctx, kind)
		ev.Path = is.Path
		ev.Reason = is.Reason
		c.observer.Anomaly(ctx, ev)
	}
	return rec, nil
}

func decodeBytes(s *Schema, b []byte) (Record, []FieldIssue, *CorruptionError) {
	obj, cerr := parseObject(s.Kind, b)
	if cerr != nil {
		return Record{}, nil, cerr
	}
	var issues []FieldIssue
	fields := coerceFields(s.Fields, obj, "", strict, &issues)
	return Record{Kind: s.Kind, Fields: fields}, issues, nil
}
