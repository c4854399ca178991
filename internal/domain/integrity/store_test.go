package integrity

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/domain/patient"
	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/domain/subrecord"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memStore is an in-memory Store.
type memStore struct {
	mu         sync.Mutex
	rows       map[int64]*patient.EncodedRow
	failUpdate map[int64]error
	listErr    error
	onList     func(afterID int64)
	updateWait time.Duration

	updates     atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func newMemStore() *memStore {
	return &memStore{
		rows:       make(map[int64]*patient.EncodedRow),
		failUpdate: make(map[int64]error),
	}
}

func (s *memStore) add(id int64, name string, sex subrecord.Sex, fields map[subrecord.Kind]*string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := &patient.EncodedRow{ID: id, Name: name, Sex: sex, Fields: make(map[subrecord.Kind]*string)}
	for k, v := range fields {
		row.Fields[k] = v
	}
	s.rows[id] = row
}

func (s *memStore) field(id int64, kind subrecord.Kind) *string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id].Fields[kind]
}

func (s *memStore) ListEncodedFields(ctx context.Context, afterID int64, limit int) ([]patient.EncodedRow, error) {
	if s.onList != nil {
		s.onList(afterID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.rows))
	for id := range s.rows {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]patient.EncodedRow, len(ids))
	for i, id := range ids {
		row := *s.rows[id]
		row.Fields = make(map[subrecord.Kind]*string, len(s.rows[id].Fields))
		for k, v := range s.rows[id].Fields {
			row.Fields[k] = v
		}
		out[i] = row
	}
	return out, nil
}

func (s *memStore) UpdateEncodedField(_ context.Context, id int64, kind subrecord.Kind, value *string) error {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		prev := s.maxInFlight.Load()
		if n <= prev || s.maxInFlight.CompareAndSwap(prev, n) {
			break
		}
	}
	if s.updateWait > 0 {
		time.Sleep(s.updateWait)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failUpdate[id]; err != nil {
		return err
	}
	row, ok := s.rows[id]
	if !ok {
		return patient.ErrNotFound
	}
	row.Fields[kind] = value
	s.updates.Add(1)
	return nil
}

func strPtr(s string) *string { return &s }

// cleanFields returns valid stored values for every kind applicable to sex.
func cleanFields(t *testing.T, sex subrecord.Sex) map[subrecord.Kind]*string {
	t.Helper()
	codec := subrecord.NewCodec(nil)
	out := make(map[subrecord.Kind]*string)
	for _, k := range subrecord.AllKinds {
		v, err := codec.Encode(subrecord.DefaultFor(k, sex))
		if err != nil {
			t.Fatalf("encode default %s: %v", k, err)
		}
		out[k] = v
	}
	out[subrecord.FoodAndHabit] = strPtr(`{"foodHabit":"veg","addictions":"tea"}`)
	return out
}

func withField(fields map[subrecord.Kind]*string, k subrecord.Kind, v *string) map[subrecord.Kind]*string {
	out := make(map[subrecord.Kind]*string, len(fields))
	for kk, vv := range fields {
		out[kk] = vv
	}
	out[k] = v
	return out
}
