package push

import (
	"context"
	"fmt"
	"sync"

	"pushstream/pkg/logx"
)

const DefaultDedupCapacity = 1000

// WatermarkStore persists the catch-up watermark across restarts.
type WatermarkStore interface {
	LoadWatermark(ctx context.Context) (float64, error)
	SaveWatermark(ctx context.Context, ts float64) error
}

// Deduplicator owns all at-most-once state: the recent stream timestamps,
// the recently delivered ids and the durable catch-up watermark.
//
// AdmitStream is a cheap first pass for the stream path only; AdmitByID is
// the authoritative gate both paths go through after normalization.
type Deduplicator struct {
	mu sync.Mutex

	recent *ringSet[Timestamp]
	seen   *ringSet[string]

	watermark Timestamp
	dirty     bool // watermark not yet persisted

	store WatermarkStore
	log   logx.Logger
}

// NewDeduplicator builds an empty deduplicator. store may be nil, in which
// case the watermark lives only in memory.
func NewDeduplicator(capacity int, store WatermarkStore, log logx.Logger) *Deduplicator {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &Deduplicator{
		recent: newRingSet[Timestamp](capacity),
		seen:   newRingSet[string](capacity),
		store:  store,
		log:    log.Component("dedup"),
	}
}

// Load restores the watermark. A store with nothing saved yields 0.
func (d *Deduplicator) Load(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	ts, err := d.store.LoadWatermark(ctx)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	d.mu.Lock()
	if Timestamp(ts) > d.watermark {
		d.watermark = Timestamp(ts)
	}
	d.mu.Unlock()
	d.log.Debug("watermark loaded", logx.Float64("watermark", ts))
	return nil
}

// AdmitStream reports whether a stream push with this creation time is new.
// A zero time is never admitted (the push carried no usable timestamp).
func (d *Deduplicator) AdmitStream(createdAt Timestamp) bool {
	if createdAt == 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recent.Add(createdAt)
}

// AdmitByID reports whether an event with this id has not been delivered yet
// and records it.
func (d *Deduplicator) AdmitByID(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen.Add(id)
}

// ForgetID undoes AdmitByID for an event that never reached the sink.
func (d *Deduplicator) ForgetID(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen.Remove(id)
}

func (d *Deduplicator) Watermark() Timestamp {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.watermark
}

// CatchUpEligible reports whether a fetched push is newer than the watermark.
func (d *Deduplicator) CatchUpEligible(createdAt Timestamp) bool {
	return createdAt > d.Watermark()
}

// AdvanceWatermark moves the watermark to ts if that is later, and persists
// it. The in-memory value advances even when persisting fails; Close retries.
func (d *Deduplicator) AdvanceWatermark(ctx context.Context, ts Timestamp) error {
	d.mu.Lock()
	if ts <= d.watermark {
		d.mu.Unlock()
		return nil
	}
	d.watermark = ts
	d.dirty = true
	d.mu.Unlock()

	return d.flush(ctx)
}

func (d *Deduplicator) flush(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	d.mu.Lock()
	ts, dirty := d.watermark, d.dirty
	d.mu.Unlock()
	if !dirty {
		return nil
	}

	if err := d.store.SaveWatermark(ctx, float64(ts)); err != nil {
		return fmt.Errorf("save watermark: %w", err)
	}

	d.mu.Lock()
	if d.watermark == ts {
		d.dirty = false
	}
	d.mu.Unlock()
	return nil
}

// Close flushes a watermark that an earlier save failed to persist.
func (d *Deduplicator) Close(ctx context.Context) error {
	return d.flush(ctx)
}

// Stats is a point-in-time view for logs and the ops endpoint.
type Stats struct {
	Recent    int
	Seen      int
	Capacity  int
	Watermark Timestamp
}

func (d *Deduplicator) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Recent:    d.recent.Len(),
		Seen:      d.seen.Len(),
		Capacity:  d.seen.Cap(),
		Watermark: d.watermark,
	}
}
