package integrity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/domain/subrecord"
)

const truncatedFood = `{"foodHabit":"veg","addic`

func newClinic(t *testing.T) *memStore {
	t.Helper()
	s := newMemStore()
	s.add(1, "Arun K", subrecord.Male, cleanFields(t, subrecord.Male))
	s.add(2, "Meena R", subrecord.Female, cleanFields(t, subrecord.Female))
	s.add(3, "Kavya S", subrecord.Female, withField(cleanFields(t, subrecord.Female), subrecord.FoodAndHabit, strPtr(truncatedFood)))
	s.add(4, "Ravi P", subrecord.Male, withField(cleanFields(t, subrecord.Male), subrecord.MedicalHistory, nil))
	s.add(5, "Selvi M", subrecord.OtherSex, withField(cleanFields(t, subrecord.OtherSex), subrecord.PhysicalGenerals, strPtr("null")))
	return s
}

func TestScanAndRepair_TruncatedField(t *testing.T) {
	store := newClinic(t)
	a := NewAuditor(store, subrecord.NewCodec(nil), Options{})

	rep, err := a.ScanAndRepair(context.Background())
	if err != nil {
		t.Fatalf("ScanAndRepair: %v", err)
	}

	if rep.TotalPatients != 5 || rep.CorruptedFields != 1 || rep.FixedFields != 1 {
		t.Fatalf("expected 5/1/1, got total=%d corrupted=%d fixed=%d", rep.TotalPatients, rep.CorruptedFields, rep.FixedFields)
	}
	if rep.ScannedFields != 20 {
		t.Errorf("expected 20 scanned fields, got %d", rep.ScannedFields)
	}
	if rep.Action != ActionResetToDefault {
		t.Errorf("expected action %q, got %q", ActionResetToDefault, rep.Action)
	}
	if rep.Status != StatusFixed {
		t.Errorf("expected status %s, got %s", StatusFixed, rep.Status)
	}
	if rep.RunID == "" || rep.Timestamp.IsZero() {
		t.Error("expected run id and timestamp to be set")
	}

	want := []PatientFindings{{
		ID:   3,
		Name: "Kavya S",
		Fields: []FieldFinding{{
			Kind:     subrecord.FoodAndHabit,
			Hints:    []subrecord.Pattern{subrecord.PatternUnbalancedBraces, subrecord.PatternUnterminated},
			Repaired: true,
		}},
	}}
	ignore := cmpopts.IgnoreFields(FieldFinding{}, "Reason", "Offset", "Excerpt")
	if diff := cmp.Diff(want, rep.CorruptedPatients, ignore); diff != "" {
		t.Errorf("corrupted patients mismatch (-want +got):\n%s", diff)
	}
	if f := rep.CorruptedPatients[0].Fields[0]; f.Reason == "" {
		t.Errorf("expected a decode reason, got %+v", f)
	}

	got := store.field(3, subrecord.FoodAndHabit)
	if got == nil || *got != `{"foodHabit":"","addictions":""}` {
		t.Errorf("expected foodAndHabit reset to default, got %v", got)
	}
	if store.updates.Load() != 1 {
		t.Errorf("expected exactly one write, got %d", store.updates.Load())
	}
}

func TestScanAndRepair_Idempotent(t *testing.T) {
	store := newClinic(t)
	a := NewAuditor(store, subrecord.NewCodec(nil), Options{})
	ctx := context.Background()

	if _, err := a.ScanAndRepair(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	rep, err := a.ScanAndRepair(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if rep.CorruptedFields != 0 || rep.Status != StatusClean {
		t.Errorf("expected clean second run, got corrupted=%d status=%s", rep.CorruptedFields, rep.Status)
	}
	if len(rep.CorruptedPatients) != 0 {
		t.Errorf("expected no corrupted patients, got %v", rep.CorruptedPatients)
	}
	if store.updates.Load() != 1 {
		t.Errorf("expected no writes on the second run, got %d total", store.updates.Load())
	}
}

func TestScan_DoesNotWrite(t *testing.T) {
	store := newClinic(t)
	a := NewAuditor(store, subrecord.NewCodec(nil), Options{})

	rep, err := a.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if rep.Action != ActionNone || rep.Status != StatusCorrupted {
		t.Errorf("expected action none and status CORRUPTED, got %s %s", rep.Action, rep.Status)
	}
	if rep.CorruptedFields != 1 || rep.FixedFields != 0 || rep.FailedRepairs != 0 {
		t.Errorf("unexpected counts: %+v", rep)
	}
	if rep.CorruptedPatients[0].Fields[0].Repaired {
		t.Error("scan must not mark fields repaired")
	}
	if store.updates.Load() != 0 {
		t.Errorf("expected no writes, got %d", store.updates.Load())
	}
	if got := store.field(3, subrecord.FoodAndHabit); got == nil || *got != truncatedFood {
		t.Errorf("expected stored value untouched, got %v", got)
	}
}

func TestScan_EmptyStore(t *testing.T) {
	a := NewAuditor(newMemStore(), nil, Options{})
	rep, err := a.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if rep.TotalPatients != 0 || rep.Status != StatusClean {
		t.Errorf("expected empty clean report, got %+v", rep)
	}
	if rep.CorruptedPatients == nil {
		t.Error("expected an empty, non-nil patient list")
	}
}

func TestScanAndRepair_NonFemaleMenstrualResetsToNull(t *testing.T) {
	store := newMemStore()
	store.add(7, "Arun K", subrecord.Male, withField(cleanFields(t, subrecord.Male), subrecord.MenstrualHistory, strPtr(`{menses:"regular"}`)))
	store.add(8, "Meena R", subrecord.Female, withField(cleanFields(t, subrecord.Female), subrecord.MenstrualHistory, strPtr(`{menses:"regular"}`)))

	rep, err := NewAuditor(store, nil, Options{}).ScanAndRepair(context.Background())
	if err != nil {
		t.Fatalf("ScanAndRepair: %v", err)
	}
	if rep.FixedFields != 2 {
		t.Fatalf("expected 2 fixed fields, got %d", rep.FixedFields)
	}
	if got := store.field(7, subrecord.MenstrualHistory); got != nil {
		t.Errorf("expected NULL for male patient, got %q", *got)
	}
	got := store.field(8, subrecord.MenstrualHistory)
	if got == nil || !strings.Contains(*got, `"menopause":"No"`) {
		t.Errorf("expected default menstrual record for female patient, got %v", got)
	}
	hints := rep.CorruptedPatients[0].Fields[0].Hints
	if len(hints) == 0 || hints[0] != subrecord.PatternUnquotedKeys {
		t.Errorf("expected unquoted_keys hint, got %v", hints)
	}
}

func TestScanAndRepair_FailedWriteIsPartial(t *testing.T) {
	store := newClinic(t)
	store.add(6, "Latha V", subrecord.Female, withField(cleanFields(t, subrecord.Female), subrecord.MedicalHistory, strPtr(`{"pastHistory":`)))
	store.failUpdate[6] = errors.New("connection reset")

	rep, err := NewAuditor(store, nil, Options{}).ScanAndRepair(context.Background())
	if err != nil {
		t.Fatalf("a failed repair must not abort the run: %v", err)
	}
	if rep.CorruptedFields != 2 || rep.FixedFields != 1 || rep.FailedRepairs != 1 {
		t.Errorf("expected 2/1/1 corrupted/fixed/failed, got %d/%d/%d", rep.CorruptedFields, rep.FixedFields, rep.FailedRepairs)
	}
	if rep.Status != StatusPartial {
		t.Errorf("expected PARTIAL, got %s", rep.Status)
	}
	var failed *FieldFinding
	for i := range rep.CorruptedPatients {
		if rep.CorruptedPatients[i].ID == 6 {
			failed = &rep.CorruptedPatients[i].Fields[0]
		}
	}
	if failed == nil || failed.Repaired || !strings.Contains(failed.RepairError, "connection reset") {
		t.Errorf("expected recorded repair error for patient 6, got %+v", failed)
	}
}

func TestScanAndRepair_Paging(t *testing.T) {
	store := newMemStore()
	for id := int64(1); id <= 7; id++ {
		fields := cleanFields(t, subrecord.Female)
		if id%2 == 1 {
			fields = withField(fields, subrecord.PhysicalGenerals, strPtr(`{"appetite":"good"`))
		}
		store.add(id, "patient", subrecord.Female, fields)
	}
	var calls []int64
	store.onList = func(afterID int64) { calls = append(calls, afterID) }

	rep, err := NewAuditor(store, nil, Options{PageSize: 3}).ScanAndRepair(context.Background())
	if err != nil {
		t.Fatalf("ScanAndRepair: %v", err)
	}
	if rep.TotalPatients != 7 || rep.CorruptedFields != 4 || rep.FixedFields != 4 {
		t.Errorf("expected 7/4/4, got %d/%d/%d", rep.TotalPatients, rep.CorruptedFields, rep.FixedFields)
	}
	if diff := cmp.Diff([]int64{0, 3, 6}, calls); diff != "" {
		t.Errorf("listing cursor mismatch (-want +got):\n%s", diff)
	}
	gotIDs := make([]int64, len(rep.CorruptedPatients))
	for i, p := range rep.CorruptedPatients {
		gotIDs[i] = p.ID
	}
	if diff := cmp.Diff([]int64{1, 3, 5, 7}, gotIDs); diff != "" {
		t.Errorf("corrupted ids mismatch (-want +got):\n%s", diff)
	}
}

func TestScanAndRepair_BoundedConcurrency(t *testing.T) {
	store := newMemStore()
	store.updateWait = 2 * time.Millisecond
	for id := int64(1); id <= 10; id++ {
		fields := make(map[subrecord.Kind]*string)
		for _, k := range subrecord.AllKinds {
			fields[k] = strPtr("{")
		}
		store.add(id, "patient", subrecord.Female, fields)
	}

	rep, err := NewAuditor(store, nil, Options{Concurrency: 3}).ScanAndRepair(context.Background())
	if err != nil {
		t.Fatalf("ScanAndRepair: %v", err)
	}
	if rep.FixedFields != 40 {
		t.Errorf("expected 40 fixed fields, got %d", rep.FixedFields)
	}
	if got := store.maxInFlight.Load(); got > 3 {
		t.Errorf("expected at most 3 concurrent writes, saw %d", got)
	}
}

func TestScan_ListErrorAborts(t *testing.T) {
	store := newClinic(t)
	store.listErr = errors.New("relation does not exist")

	rep, err := NewAuditor(store, nil, Options{}).Scan(context.Background())
	if err == nil || !strings.Contains(err.Error(), "relation does not exist") {
		t.Fatalf("expected listing error, got %v", err)
	}
	if rep == nil || rep.TotalPatients != 0 {
		t.Errorf("expected an empty partial report, got %+v", rep)
	}
}

func TestScan_CancellationReturnsPartialReport(t *testing.T) {
	store := newClinic(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.onList = func(afterID int64) {
		if afterID > 0 {
			cancel()
		}
	}

	rep, err := NewAuditor(store, nil, Options{PageSize: 2}).Scan(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if rep == nil {
		t.Fatal("expected a partial report")
	}
	if rep.TotalPatients != 2 {
		t.Errorf("expected the first page only, got %d patients", rep.TotalPatients)
	}
}
