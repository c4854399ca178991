package subrecord

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGuard_RejectsParseFailuresBeforePersistence(t *testing.T) {
	obs := &recordingObserver{}
	g := NewGuard(NewCodec(obs), obs, DefaultWritePolicy())

	out, err := g.EncodePayload(bg, Payload{
		MedicalHistory:   Text(`{pastHistory:{allergy:true}}`),
		FoodAndHabit:     Structured{"foodHabit": "veg"},
		PhysicalGenerals: Text(`{"appetite":"good"`),
	}, Male)

	var rej *RejectedWriteError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectedWriteError, got %v", err)
	}
	if out != nil {
		t.Errorf("expected nothing to persist, got %v", out)
	}
	if diff := cmp.Diff([]string{"medicalHistory", "physicalGenerals"}, rej.FieldNames()); diff != "" {
		t.Errorf("field names (-want +got):\n%s", diff)
	}
	if len(obs.parseFailures) != 2 {
		t.Errorf("expected 2 parse failure events, got %d", len(obs.parseFailures))
	}
	if obs.parseFailures[0].Source != SourceWrite {
		t.Errorf("expected write source, got %q", obs.parseFailures[0].Source)
	}
}

func TestGuard_LenientPolicyPersistsDefaults(t *testing.T) {
	obs := &recordingObserver{}
	g := NewGuard(nil, obs, WritePolicy{})

	out, err := g.EncodePayload(bg, Payload{MedicalHistory: Text(`{pastHistory:`)}, Female)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := NewCodec(nil).Encode(Default(MedicalHistory))
	if out[MedicalHistory] == nil || *out[MedicalHistory] != *want {
		t.Errorf("expected default encoding, got %v", out[MedicalHistory])
	}
	if len(obs.parseFailures) != 1 {
		t.Errorf("expected the parse failure to be observed, got %d", len(obs.parseFailures))
	}
}

func TestGuard_OnlyPresentKindsEncoded(t *testing.T) {
	g := NewGuard(nil, nil, DefaultWritePolicy())
	out, err := g.EncodePayload(bg, Payload{FoodAndHabit: Missing{}}, Female)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 encoded field, got %d", len(out))
	}
	if *out[FoodAndHabit] != `{"foodHabit":"","addictions":""}` {
		t.Errorf("unexpected encoding %s", *out[FoodAndHabit])
	}
}

func TestGuard_MaleMenstrualHistoryIsNull(t *testing.T) {
	g := NewGuard(nil, nil, DefaultWritePolicy())
	out, err := g.EncodePayload(bg, Payload{
		MenstrualHistory: Structured{"menses": "regular", "menopause": "Yes"},
	}, Male)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	enc, ok := out[MenstrualHistory]
	if !ok {
		t.Fatal("expected menstrualHistory key to be written")
	}
	if enc != nil {
		t.Errorf("expected NULL, got %q", *enc)
	}

	stored := `{"menses":"regular","menopause":"Yes","leucorrhoea":"","gonorrhea":"No","otherDischarges":""}`
	d := g.DecodeFields(bg, map[Kind]*string{MenstrualHistory: &stored}, Male)
	rec := d.Record(MenstrualHistory)
	if !rec.Absent {
		t.Fatalf("expected absent record, got %v", rec.Fields)
	}
	b, err := rec.MarshalJSON()
	if err != nil || string(b) != "null" {
		t.Errorf("expected null, got %s %v", b, err)
	}
}

func TestGuard_CorruptionIsolatedPerKind(t *testing.T) {
	codec := NewCodec(nil)
	g := NewGuard(codec, nil, DefaultWritePolicy())

	want := map[Kind]Record{}
	stored := map[Kind]*string{}
	for i, k := range AllKinds {
		rec := sample(SchemaFor(k), i+3)
		enc, err := codec.Encode(rec)
		if err != nil {
			t.Fatalf("encode %s: %v", k, err)
		}
		want[k] = rec
		stored[k] = enc
	}
	broken := (*stored[PhysicalGenerals])[:10]
	stored[PhysicalGenerals] = &broken

	d := g.DecodeFields(bg, stored, Female)
	if diff := cmp.Diff([]Kind{PhysicalGenerals}, d.Corrupted); diff != "" {
		t.Errorf("corrupted kinds (-want +got):\n%s", diff)
	}
	if !d.Record(PhysicalGenerals).Equal(Default(PhysicalGenerals)) {
		t.Error("expected default for the corrupted kind")
	}
	for _, k := range []Kind{MedicalHistory, MenstrualHistory, FoodAndHabit} {
		if diff := cmp.Diff(want[k], d.Record(k)); diff != "" {
			t.Errorf("%s changed by a neighbour's corruption (-want +got):\n%s", k, diff)
		}
		if d.IsCorrupted(k) {
			t.Errorf("%s flagged as corrupted", k)
		}
	}
}

func TestGuard_DecodeForResponse(t *testing.T) {
	g := NewGuard(nil, nil, DefaultWritePolicy())

	bad := `{"foodHabit":`
	rec, corrupted := g.DecodeForResponse(bg, FoodAndHabit, &bad)
	if !corrupted {
		t.Error("expected corrupted flag")
	}
	if !rec.Equal(Default(FoodAndHabit)) {
		t.Error("expected default record")
	}

	good := `{"foodHabit":"veg","addictions":"tea"}`
	rec, corrupted = g.DecodeForResponse(bg, FoodAndHabit, &good)
	if corrupted {
		t.Error("unexpected corrupted flag")
	}
	if v, _ := rec.Get("addictions"); v != "tea" {
		t.Errorf("expected tea, got %v", v)
	}
}

func TestDiagnose(t *testing.T) {
	tests := []struct {
		in   string
		want []Pattern
	}{
		{`{pastHistory:{allergy:true}}`, []Pattern{PatternUnquotedKeys}},
		{`{"foodHabit":"veg","addictions":"smo`, []Pattern{PatternUnbalancedBraces, PatternUnterminated}},
		{`{\"foodHabit\":\"veg\"}`, []Pattern{PatternEscapedQuotes}},
		{`{"foodHabit":"veg"}}`, []Pattern{PatternUnbalancedBraces}},
		{``, nil},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, Diagnose(tt.in)); diff != "" {
			t.Errorf("Diagnose(%q) (-want +got):\n%s", tt.in, diff)
		}
	}
}
