package subrecord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
)

var bg = context.Background()

type recordingObserver struct {
	mu            sync.Mutex
	parseFailures []Event
	corruptions   []Event
	anomalies     []Event
}

func (o *recordingObserver) ParseFailure(_ context.Context, ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.parseFailures = append(o.parseFailures, ev)
}

func (o *recordingObserver) Corruption(_ context.Context, ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.corruptions = append(o.corruptions, ev)
}

func (o *recordingObserver) Anomaly(_ context.Context, ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.anomalies = append(o.anomalies, ev)
}

// sample fills every field of s with a value derived from seed.
func sample(s *Schema, seed int) Record {
	return Record{Kind: s.Kind, Fields: sampleFields(s.Fields, seed)}
}

func sampleFields(fields []Field, seed int) map[string]any {
	out := make(map[string]any, len(fields))
	for i, f := range fields {
		n := seed + i
		switch f.Type {
		case TypeBool:
			out[f.Name] = n%2 == 0
		case TypeText:
			texts := []string{"", "normal", `says "fine"`, "ünïcode ✓", "<b>&amp;</b>", "line\nbreak", "back\\slash"}
			out[f.Name] = texts[n%len(texts)]
		case TypeEnum:
			out[f.Name] = f.Enum[n%len(f.Enum)]
		case TypeGroup:
			out[f.Name] = sampleFields(f.Fields, seed*7+i)
		}
	}
	return out
}

func TestCodec_RoundTrip(t *testing.T) {
	codec := NewCodec(nil)
	for _, k := range AllKinds {
		s := SchemaFor(k)
		for seed := 0; seed < 25; seed++ {
			rec := sample(s, seed)
			enc, err := codec.Encode(rec)
			if err != nil {
				t.Fatalf("%s seed %d: encode: %v", k, seed, err)
			}
			if enc == nil {
				t.Fatalf("%s seed %d: encode returned NULL for a present record", k, seed)
			}
			back, err := codec.Decode(bg, k, enc)
			if err != nil {
				t.Fatalf("%s seed %d: decode: %v", k, seed, err)
			}
			if diff := cmp.Diff(rec, back); diff != "" {
				t.Errorf("%s seed %d: round trip mismatch (-want +got):\n%s", k, seed, diff)
			}
		}
	}
}

func TestCodec_EncodeIsCompactAndOrdered(t *testing.T) {
	enc, err := NewCodec(nil).Encode(Default(FoodAndHabit))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if want := `{"foodHabit":"","addictions":""}`; *enc != want {
		t.Errorf("expected %s, got %s", want, *enc)
	}

	enc, err = NewCodec(nil).Encode(Default(MenstrualHistory))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `{"menses":"","menopause":"No","leucorrhoea":"","gonorrhea":"No","otherDischarges":""}`
	if *enc != want {
		t.Errorf("expected %s, got %s", want, *enc)
	}
}

func TestCodec_AbsentEncodesToNull(t *testing.T) {
	enc, err := NewCodec(nil).Encode(Absent(MenstrualHistory))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enc != nil {
		t.Errorf("expected nil, got %q", *enc)
	}
}

func TestCodec_NullAndEmptyEquivalent(t *testing.T) {
	codec := NewCodec(nil)
	for _, k := range AllKinds {
		empty, blank, literal := "", "  \n", "null"
		for _, stored := range []*string{nil, &empty, &blank, &literal} {
			rec, err := codec.Decode(bg, k, stored)
			if err != nil {
				t.Errorf("%s: unexpected error %v", k, err)
			}
			if !rec.Equal(Default(k)) {
				t.Errorf("%s: expected default, got %v", k, rec.Fields)
			}
		}
	}
}

func TestCodec_EncodeRejectsNonConformingRecords(t *testing.T) {
	codec := NewCodec(nil)
	tests := map[string]Record{
		"wrong type":   {Kind: FoodAndHabit, Fields: map[string]any{"foodHabit": 5, "addictions": ""}},
		"missing key":  {Kind: FoodAndHabit, Fields: map[string]any{"foodHabit": ""}},
		"extra key":    {Kind: FoodAndHabit, Fields: map[string]any{"foodHabit": "", "addictions": "", "x": ""}},
		"bad enum":     {Kind: MenstrualHistory, Fields: map[string]any{"menses": "", "menopause": "maybe", "leucorrhoea": "", "gonorrhea": "No", "otherDischarges": ""}},
		"nil fields":   {Kind: PhysicalGenerals},
		"unknown kind": {Kind: Kind(99), Fields: map[string]any{}},
	}
	for name, rec := range tests {
		enc, err := codec.Encode(rec)
		var inv *EncodingInvariantViolation
		if !errors.As(err, &inv) {
			t.Errorf("%s: expected EncodingInvariantViolation, got %v", name, err)
		}
		if enc != nil {
			t.Errorf("%s: expected no output, got %q", name, *enc)
		}
	}
}

func TestCodec_StrictBooleansCorrectedAsAnomalies(t *testing.T) {
	obs := &recordingObserver{}
	codec := NewCodec(obs)
	stored := `{"pastHistory":{"allergy":"true","asthma":true},"familyHistory":{"cancer":1}}`

	ctx := WithOrigin(bg, Origin{PatientID: 7, Source: SourceRead})
	rec, err := codec.Decode(ctx, MedicalHistory, &stored)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, _ := rec.Get("pastHistory.allergy"); v != false {
		t.Errorf("expected allergy reset to false, got %v", v)
	}
	if v, _ := rec.Get("pastHistory.asthma"); v != true {
		t.Errorf("expected asthma true, got %v", v)
	}
	if v, _ := rec.Get("familyHistory.cancer"); v != false {
		t.Errorf("expected cancer reset to false, got %v", v)
	}

	if len(obs.anomalies) != 2 {
		t.Fatalf("expected 2 anomalies, got %d", len(obs.anomalies))
	}
	paths := []string{obs.anomalies[0].Path, obs.anomalies[1].Path}
	if diff := cmp.Diff([]string{"pastHistory.allergy", "familyHistory.cancer"}, paths); diff != "" {
		t.Errorf("anomaly paths (-want +got):\n%s", diff)
	}
	if obs.anomalies[0].PatientID != 7 || obs.anomalies[0].Source != SourceRead {
		t.Errorf("expected origin on event, got %+v", obs.anomalies[0])
	}
	if len(obs.corruptions) != 0 {
		t.Errorf("expected no corruption, got %d", len(obs.corruptions))
	}
}

func TestCodec_TruncatedValueIsCorruption(t *testing.T) {
	obs := &recordingObserver{}
	codec := NewCodec(obs)
	stored := `{"foodHabit":"vegetarian","addictions":"smo`

	rec, err := codec.Decode(bg, FoodAndHabit, &stored)
	var cerr *CorruptionError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CorruptionError, got %v", err)
	}
	if cerr.Kind != FoodAndHabit {
		t.Errorf("expected foodAndHabit, got %s", cerr.Kind)
	}
	if cerr.Offset != int64(len(stored)) {
		t.Errorf("expected offset %d, got %d", len(stored), cerr.Offset)
	}
	if len(cerr.Excerpt) > 2*excerptRadius {
		t.Errorf("excerpt too long: %d bytes", len(cerr.Excerpt))
	}
	if !strings.HasSuffix(cerr.Excerpt, `"smo`) {
		t.Errorf("expected excerpt to end at the cut, got %q", cerr.Excerpt)
	}
	if !rec.Equal(Default(FoodAndHabit)) {
		t.Error("expected default record alongside corruption")
	}
	if len(obs.corruptions) != 1 {
		t.Errorf("expected 1 corruption event, got %d", len(obs.corruptions))
	}
}

func TestCodec_CorruptionExcerptIsBoundedUTF8(t *testing.T) {
	long := strings.Repeat("é", 200)
	stored := fmt.Sprintf(`{"foodHabit":"%s",}`, long)
	_, err := NewCodec(nil).Decode(bg, FoodAndHabit, &stored)
	var cerr *CorruptionError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CorruptionError, got %v", err)
	}
	if len(cerr.Excerpt) > 2*excerptRadius {
		t.Errorf("excerpt too long: %d bytes", len(cerr.Excerpt))
	}
	if !utf8.ValidString(cerr.Excerpt) {
		t.Errorf("excerpt is not valid UTF-8: %q", cerr.Excerpt)
	}
	if strings.Contains(cerr.Error(), long) {
		t.Error("error message leaks the full payload")
	}
}

func TestCodec_NonObjectRootIsCorruption(t *testing.T) {
	for _, stored := range []string{`42`, `"{}"`, `[{"foodHabit":""}]`, `true`} {
		s := stored
		_, err := NewCodec(nil).Decode(bg, FoodAndHabit, &s)
		var cerr *CorruptionError
		if !errors.As(err, &cerr) {
			t.Errorf("%s: expected CorruptionError, got %v", stored, err)
			continue
		}
		if !strings.Contains(cerr.Reason, "not an object") {
			t.Errorf("%s: unexpected reason %q", stored, cerr.Reason)
		}
	}
}
