package push

import (
	"context"
	"fmt"
	"sort"

	"pushstream/pkg/logx"
)

// Fetcher lists the pushes currently known to the service.
type Fetcher interface {
	FetchSince(ctx context.Context, watermark Timestamp) ([]RawPush, error)
}

// Sink receives every admitted event exactly once. Its errors are logged by
// the caller and never stop the pipeline.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// Recorder observes pipeline outcomes (metrics).
type Recorder interface {
	Delivered(origin Origin)
	Duplicate(gate string)
	Skipped(origin Origin, reason string)
	Reconciled(result string)
	WatermarkAdvanced(ts Timestamp)
}

// Duplicate gates and skip reasons reported to a Recorder.
const (
	GateTimestamp = "timestamp"
	GateID        = "id"

	SkipOtherDevice = "other_device"
	SkipInactive    = "inactive"
	SkipSinkError   = "sink_error"
)

type nopRecorder struct{}

func (nopRecorder) Delivered(Origin)            {}
func (nopRecorder) Duplicate(string)            {}
func (nopRecorder) Skipped(Origin, string)      {}
func (nopRecorder) Reconciled(string)           {}
func (nopRecorder) WatermarkAdvanced(Timestamp) {}

// NopRecorder discards every observation.
func NopRecorder() Recorder { return nopRecorder{} }

// ReconcileResult summarizes one catch-up pass.
type ReconcileResult struct {
	Fetched    int
	Candidates int
	Delivered  int
	Duplicates int
	Skipped    int
	Failed     int // rejected by the sink
	Watermark  Timestamp
	Advanced   bool
}

// Reconciler runs catch-up passes: fetch, filter against the watermark,
// deliver what the stream missed, then advance the watermark.
type Reconciler struct {
	fetcher  Fetcher
	dedup    *Deduplicator
	sink     Sink
	deviceID string
	log      logx.Logger
	rec      Recorder
}

func NewReconciler(f Fetcher, d *Deduplicator, sink Sink, deviceID string, log logx.Logger, rec Recorder) *Reconciler {
	if rec == nil {
		rec = NopRecorder()
	}
	return &Reconciler{
		fetcher:  f,
		dedup:    d,
		sink:     sink,
		deviceID: deviceID,
		log:      log.Component("reconcile"),
		rec:      rec,
	}
}

// Reconcile performs one pass. On a fetch error the watermark is untouched
// and the error is returned for the caller to log; the next pass retries
// the same window.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileResult, error) {
	start := r.dedup.Watermark()
	res := ReconcileResult{Watermark: start}

	pushes, err := r.fetcher.FetchSince(ctx, start)
	if err != nil {
		r.rec.Reconciled("error")
		return res, fmt.Errorf("reconcile: %w", err)
	}
	res.Fetched = len(pushes)

	sort.SliceStable(pushes, func(i, j int) bool { return pushes[i].Created < pushes[j].Created })

	// high only covers handled candidates. below is the highest handled
	// time strictly under high, used when the batch stops inside a run of
	// pushes sharing one creation time.
	high, below := start, start
	raise := func(ts Timestamp) {
		if ts > high {
			below, high = high, ts
		}
	}
	var interrupted error
	var unhandled Timestamp
	for _, p := range pushes {
		if err := ctx.Err(); err != nil {
			interrupted, unhandled = err, p.Created
			break
		}
		if !r.dedup.CatchUpEligible(p.Created) {
			continue
		}
		if !p.IsActive() {
			res.Skipped++
			r.rec.Skipped(OriginFetch, SkipInactive)
			continue
		}
		ev, ok := Normalize(p, r.deviceID, OriginFetch)
		if !ok {
			res.Skipped++
			r.rec.Skipped(OriginFetch, SkipOtherDevice)
			continue
		}
		res.Candidates++
		if !r.dedup.AdmitByID(ev.ID) {
			res.Duplicates++
			r.rec.Duplicate(GateID)
			raise(ev.CreatedAt)
			continue
		}
		if err := r.sink.Deliver(ctx, ev); err != nil {
			if ctx.Err() != nil {
				// Not handed over; the next pass must see it again.
				r.dedup.ForgetID(ev.ID)
				interrupted, unhandled = ctx.Err(), ev.CreatedAt
				break
			}
			res.Failed++
			r.rec.Skipped(OriginFetch, SkipSinkError)
			r.log.Error("deliver failed", logx.String("id", ev.ID), logx.Err(err))
			raise(ev.CreatedAt)
			continue
		}
		res.Delivered++
		r.rec.Delivered(OriginFetch)
		raise(ev.CreatedAt)
	}

	target := high
	if interrupted != nil && target >= unhandled {
		target = below
	}
	if target > start {
		// Persist even when ctx was canceled mid-batch: everything at or
		// below target has been handled.
		if err := r.dedup.AdvanceWatermark(context.WithoutCancel(ctx), target); err != nil {
			r.log.Error("watermark not persisted", logx.Float64("watermark", float64(target)), logx.Err(err))
		}
		res.Advanced = true
		r.rec.WatermarkAdvanced(target)
	}
	res.Watermark = r.dedup.Watermark()

	if interrupted != nil {
		r.rec.Reconciled("interrupted")
		return res, interrupted
	}
	r.rec.Reconciled("ok")
	r.log.Debug("reconciled",
		logx.Int("fetched", res.Fetched),
		logx.Int("delivered", res.Delivered),
		logx.Int("duplicates", res.Duplicates),
		logx.Int("skipped", res.Skipped),
		logx.Int("failed", res.Failed),
		logx.Float64("watermark", float64(res.Watermark)),
	)
	return res, nil
}
