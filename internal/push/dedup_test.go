package push

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"pushstream/pkg/logx"
)

type memWatermark struct {
	mu    sync.Mutex
	ts    float64
	saves int
	fail  error
}

func (m *memWatermark) LoadWatermark(context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ts, nil
}

func (m *memWatermark) SaveWatermark(_ context.Context, ts float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.ts = ts
	m.saves++
	return nil
}

func (m *memWatermark) get() (float64, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ts, m.saves
}

func TestRingSetEvictsOldestFirst(t *testing.T) {
	t.Parallel()
	r := newRingSet[int](3)
	for i := 1; i <= 3; i++ {
		if !r.Add(i) {
			t.Fatalf("Add(%d) = false", i)
		}
	}
	if r.Add(2) {
		t.Fatal("Add of present key should report false")
	}
	r.Add(4) // evicts 1
	if r.Contains(1) || !r.Contains(2) || !r.Contains(4) {
		t.Fatal("oldest entry was not the one evicted")
	}
	r.Add(5) // evicts 2
	if r.Contains(2) || !r.Contains(3) {
		t.Fatal("second eviction out of order")
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d", r.Len())
	}
}

func TestRingSetRemoveKeepsOrder(t *testing.T) {
	t.Parallel()
	r := newRingSet[int](3)
	r.Add(1)
	r.Add(2)
	r.Add(3)
	if !r.Remove(2) || r.Remove(2) {
		t.Fatal("Remove should report presence once")
	}
	if r.Len() != 2 || r.Contains(2) {
		t.Fatalf("Len = %d after Remove", r.Len())
	}
	r.Add(4)
	r.Add(5) // evicts 1, the oldest left
	if r.Contains(1) || !r.Contains(3) || !r.Contains(4) || !r.Contains(5) {
		t.Fatal("eviction order broken by Remove")
	}
}

func TestForgetIDReadmits(t *testing.T) {
	t.Parallel()
	d := NewDeduplicator(0, nil, logx.Nop())
	if !d.AdmitByID("x") || d.AdmitByID("x") {
		t.Fatal("id gate")
	}
	d.ForgetID("x")
	if !d.AdmitByID("x") {
		t.Fatal("forgotten id not readmitted")
	}
}

func TestAdmitStream(t *testing.T) {
	t.Parallel()
	d := NewDeduplicator(0, nil, logx.Nop())
	if d.AdmitStream(0) {
		t.Fatal("zero timestamp admitted")
	}
	if !d.AdmitStream(100) {
		t.Fatal("first timestamp rejected")
	}
	if d.AdmitStream(100) {
		t.Fatal("repeated timestamp admitted")
	}
}

func TestAdmitByIDWindow(t *testing.T) {
	t.Parallel()
	d := NewDeduplicator(2, nil, logx.Nop())
	if !d.AdmitByID("a") || !d.AdmitByID("b") {
		t.Fatal("fresh ids rejected")
	}
	if d.AdmitByID("a") {
		t.Fatal("seen id admitted")
	}
	d.AdmitByID("c") // pushes "a" out of the window
	if !d.AdmitByID("a") {
		t.Fatal("id outside the window should be admitted again")
	}
}

func TestDefaultCapacityBoundsSets(t *testing.T) {
	t.Parallel()
	d := NewDeduplicator(0, nil, logx.Nop())
	for i := 0; i < DefaultDedupCapacity+50; i++ {
		d.AdmitByID("id-" + strconv.Itoa(i))
		d.AdmitStream(Timestamp(i + 1))
	}
	st := d.Stats()
	if st.Seen != DefaultDedupCapacity || st.Recent != DefaultDedupCapacity {
		t.Fatalf("stats = %+v", st)
	}
	if !d.AdmitByID("id-0") {
		t.Fatal("evicted id should be admitted")
	}
	if d.AdmitByID("id-" + strconv.Itoa(DefaultDedupCapacity+49)) {
		t.Fatal("newest id should still be tracked")
	}
}

func TestWatermarkMonotonic(t *testing.T) {
	t.Parallel()
	store := &memWatermark{}
	d := NewDeduplicator(0, store, logx.Nop())
	ctx := context.Background()

	for _, ts := range []Timestamp{10, 5, 20, 20, 15} {
		if err := d.AdvanceWatermark(ctx, ts); err != nil {
			t.Fatalf("AdvanceWatermark(%v): %v", ts, err)
		}
	}
	if d.Watermark() != 20 {
		t.Fatalf("Watermark = %v, want 20", d.Watermark())
	}
	ts, saves := store.get()
	if ts != 20 || saves != 2 {
		t.Fatalf("store = %v after %d saves, want 20 after 2", ts, saves)
	}
	if d.CatchUpEligible(20) || !d.CatchUpEligible(20.5) {
		t.Fatal("CatchUpEligible disagrees with watermark")
	}
}

func TestLoadRestoresWatermark(t *testing.T) {
	t.Parallel()
	store := &memWatermark{ts: 1234.5}
	d := NewDeduplicator(0, store, logx.Nop())
	if err := d.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d.Watermark() != 1234.5 {
		t.Fatalf("Watermark = %v", d.Watermark())
	}
}

func TestCloseRetriesFailedSave(t *testing.T) {
	t.Parallel()
	store := &memWatermark{fail: errors.New("disk full")}
	d := NewDeduplicator(0, store, logx.Nop())
	ctx := context.Background()

	if err := d.AdvanceWatermark(ctx, 50); err == nil {
		t.Fatal("expected save error")
	}
	if d.Watermark() != 50 {
		t.Fatal("in-memory watermark should advance even when the save fails")
	}

	store.mu.Lock()
	store.fail = nil
	store.mu.Unlock()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ts, _ := store.get(); ts != 50 {
		t.Fatalf("flushed watermark = %v", ts)
	}
}
