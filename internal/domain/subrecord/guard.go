package subrecord

import (
	"context"
)

// WritePolicy decides which normalization warnings abort a write.
type WritePolicy struct {
	// RejectParseFailures rejects the whole write when any supplied
	// sub-record was text that failed to parse.
	RejectParseFailures bool
}

// DefaultWritePolicy rejects unparseable clinical text on write.
func DefaultWritePolicy() WritePolicy {
	return WritePolicy{RejectParseFailures: true}
}

// Guard applies normalization and the codec at the API boundary so that
// neither malformed input reaches storage nor corrupted storage reaches a
// client as a failure.
type Guard struct {
	codec    *Codec
	observer Observer
	policy   WritePolicy
}

// NewGuard creates a guard. The observer receives write-path warnings; the
// codec reports read-path corruption itself.
func NewGuard(codec *Codec, obs Observer, policy WritePolicy) *Guard {
	if obs == nil {
		obs = NopObserver{}
	}
	if codec == nil {
		codec = NewCodec(obs)
	}
	return &Guard{codec: codec, observer: obs, policy: policy}
}

// Codec returns the codec used by the guard.
func (g *Guard) Codec() *Codec { return g.codec }

// Policy returns the write policy in effect.
func (g *Guard) Policy() WritePolicy { return g.policy }

// ValidateAndEncode normalizes one input and encodes it. The warning, when
// present, accompanies a valid encoding of the defaulted record; err is only
// set for an encoding invariant violation.
func (g *Guard) ValidateAndEncode(ctx context.Context, kind Kind, raw RawInput, sex Sex) (*string, *ValidationError, error) {
	rec, warn := Normalize(kind, raw, sex)
	if warn != nil {
		g.report(ctx, warn)
	}
	enc, err := g.codec.Encode(rec)
	if err != nil {
		return nil, warn, err
	}
	return enc, warn, nil
}

func (g *Guard) report(ctx context.Context, warn *ValidationError) {
	ev := eventFor(ctx, warn.Type)
	if ev.Source == "" {
		ev.Source = SourceWrite
	}
	ev.Offset = warn.Offset
	ev.Excerpt = warn.Excerpt
	ev.Reason = warn.Reason

	if warn.Kind == ParseFailure {
		g.observer.ParseFailure(ctx, ev)
		return
	}
	if len(warn.Issues) == 0 {
		g.observer.Anomaly(ctx, ev)
		return
	}
	for _, is := range warn.Issues {
		ev.Path = is.Path
		ev.Reason = is.Reason
		g.observer.Anomaly(ctx, ev)
	}
}

// Payload holds the sub-records present in a write request.
type Payload map[Kind]RawInput

// EncodePayload encodes every kind present in p. Under a rejecting policy
// any parse failure fails the whole payload with *RejectedWriteError naming
// every offending field, and nothing is returned for persistence.
func (g *Guard) EncodePayload(ctx context.Context, p Payload, sex Sex) (map[Kind]*string, error) {
	out := make(map[Kind]*string, len(p))
	var rejected []*ValidationError
	for _, k := range AllKinds {
		raw, ok := p[k]
		if !ok {
			continue
		}
		enc, warn, err := g.ValidateAndEncode(ctx, k, raw, sex)
		if err != nil {
			return nil, err
		}
		if warn != nil && warn.Kind == ParseFailure && g.policy.RejectParseFailures {
			rejected = append(rejected, warn)
			continue
		}
		out[k] = enc
	}
	if len(rejected) > 0 {
		return nil, &RejectedWriteError{Fields: rejected}
	}
	return out, nil
}

// DecodeForResponse decodes a stored value for a client. On corruption the
// kind default is returned with corrupted set; it never fails.
func (g *Guard) DecodeForResponse(ctx context.Context, kind Kind, stored *string) (Record, bool) {
	rec, err := g.codec.Decode(ctx, kind, stored)
	if err != nil {
		return Default(kind), true
	}
	return rec, false
}

// Decoded is the outbound view of a patient's sub-records.
type Decoded struct {
	Records   map[Kind]Record
	Corrupted []Kind
}

// Record returns the decoded record for k.
func (d Decoded) Record(k Kind) Record {
	if r, ok := d.Records[k]; ok {
		return r
	}
	return Absent(k)
}

// IsCorrupted reports whether k was substituted by its default.
func (d Decoded) IsCorrupted(k Kind) bool {
	for _, c := range d.Corrupted {
		if c == k {
			return true
		}
	}
	return false
}

// DecodeFields decodes each stored column independently. MenstrualHistory
// is absent for a patient who is not female, whatever is stored.
func (g *Guard) DecodeFields(ctx context.Context, fields map[Kind]*string, sex Sex) Decoded {
	d := Decoded{Records: make(map[Kind]Record, len(AllKinds))}
	for _, k := range AllKinds {
		if gated(k, sex) {
			d.Records[k] = Absent(k)
			continue
		}
		rec, corrupted := g.DecodeForResponse(ctx, k, fields[k])
		d.Records[k] = rec
		if corrupted {
			d.Corrupted = append(d.Corrupted, k)
		}
	}
	return d
}
