package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pushstream/internal/eventbus"
	"pushstream/internal/push"
	"pushstream/internal/stream/ws"
	"pushstream/pkg/logx"
)

type fakeConn struct {
	mu      sync.Mutex
	frames  [][]byte // nil entry: an empty receive tick
	pingErr error
	pings   int
	block   bool

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn(frames ...[]byte) *fakeConn {
	return &fakeConn{frames: frames, closed: make(chan struct{})}
}

func (c *fakeConn) ID() string { return "fake" }

func (c *fakeConn) SendPing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return c.pingErr
}

func (c *fakeConn) Receive(time.Duration) (*ws.Frame, error) {
	c.mu.Lock()
	if len(c.frames) > 0 {
		p := c.frames[0]
		c.frames = c.frames[1:]
		c.mu.Unlock()
		if p == nil {
			return nil, nil
		}
		return &ws.Frame{Fin: true, Opcode: ws.OpText, Payload: p}, nil
	}
	block := c.block
	c.mu.Unlock()
	if block {
		<-c.closed
	}
	return nil, ws.ErrConnectionLost
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// scriptDialer returns its outcomes in order: an error or a Conn. Once the
// script runs out every dial fails.
type scriptDialer struct {
	mu    sync.Mutex
	steps []any
	dials int
}

func (d *scriptDialer) Dial(context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.steps) == 0 {
		return nil, errors.New("no more connections")
	}
	step := d.steps[0]
	d.steps = d.steps[1:]
	if c, ok := step.(Conn); ok {
		return c, nil
	}
	return nil, step.(error)
}

type countingReconciler struct {
	mu    sync.Mutex
	calls int
}

func (r *countingReconciler) Reconcile(context.Context) (push.ReconcileResult, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return push.ReconcileResult{}, nil
}

func (r *countingReconciler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type captureSink struct {
	mu     sync.Mutex
	events []push.Event
}

func (s *captureSink) Deliver(_ context.Context, ev push.Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *captureSink) snapshot() []push.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]push.Event(nil), s.events...)
}

// recordingSleep records backoff delays (idle pauses are ignored) and
// cancels the run once limit delays were seen.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
	limit  int
	cancel context.CancelFunc
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	if d == DefaultIdlePause {
		return ctx.Err()
	}
	r.mu.Lock()
	r.delays = append(r.delays, d)
	done := len(r.delays) >= r.limit
	r.mu.Unlock()
	if done {
		r.cancel()
		return context.Canceled
	}
	return nil
}

func TestBackoffSequence(t *testing.T) {
	t.Parallel()
	b := NewBackoff(5*time.Second, 300*time.Second)
	want := []time.Duration{5, 10, 20, 40, 80, 160, 300, 300}
	for i, w := range want {
		if got := b.Next(); got != w*time.Second {
			t.Fatalf("Next #%d = %v, want %v", i, got, w*time.Second)
		}
	}
	b.Reset()
	if got := b.Next(); got != 5*time.Second {
		t.Fatalf("after Reset Next = %v", got)
	}
}

func TestRunBackoffResetsAfterConnect(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fail := errors.New("refused")
	dialer := &scriptDialer{steps: []any{fail, fail, fail, newFakeConn()}}
	rs := &recordingSleep{limit: 4, cancel: cancel}

	sup := New(Config{DeviceID: "D1"}, dialer, &countingReconciler{}, push.NewDeduplicator(0, nil, logx.Nop()), &captureSink{}, logx.Nop(),
		WithSleep(rs.sleep))
	if err := sup.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 5 * time.Second}
	if len(rs.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", rs.delays, want)
	}
	for i := range want {
		if rs.delays[i] != want[i] {
			t.Fatalf("delays = %v, want %v", rs.delays, want)
		}
	}
	if sup.State() != StateDisconnected {
		t.Fatalf("State = %v", sup.State())
	}
}

func TestRunMaxAttempts(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	conn.pingErr = errors.New("broken pipe")
	dialer := &scriptDialer{steps: []any{conn}}

	// Every clock read is a minute later, so the first loop pass is due a ping.
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	sup := New(Config{DeviceID: "D1", MaxAttempts: 2}, dialer, &countingReconciler{},
		push.NewDeduplicator(0, nil, logx.Nop()), &captureSink{}, logx.Nop(),
		WithClock(now),
		WithSleep(func(context.Context, time.Duration) error { return nil }))

	err := sup.Run(context.Background())
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("err = %v, want ErrAttemptsExhausted", err)
	}
	// One lost session plus one refused dial.
	if dialer.dials != 2 {
		t.Fatalf("dials = %d, want 2", dialer.dials)
	}
	if conn.pings != 1 {
		t.Fatalf("pings = %d, want 1", conn.pings)
	}
}

func TestRunDeliversStreamPushOnce(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := []byte(`{"type":"push","push":{"iden":"abc","created":100,"body":"hello"}}`)
	conn := newFakeConn(
		[]byte(`{"type":"nop"}`),
		msg,
		nil,
		msg,
		[]byte(`not json`),
		[]byte(`{"type":"push","push":{"iden":"xyz","created":101,"body":"elsewhere","target_device_iden":"D2"}}`),
	)
	dialer := &scriptDialer{steps: []any{conn}}
	sink := &captureSink{}
	rs := &recordingSleep{limit: 1, cancel: cancel}

	sup := New(Config{DeviceID: "D1"}, dialer, &countingReconciler{}, push.NewDeduplicator(0, nil, logx.Nop()), sink, logx.Nop(),
		WithSleep(rs.sleep))
	if err := sup.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := sink.snapshot()
	if len(got) != 1 {
		t.Fatalf("delivered %d events, want 1: %+v", len(got), got)
	}
	ev := got[0]
	if ev.ID != "abc" || ev.Content != "hello" || ev.CreatedAt != 100 || ev.Source != "All Devices" || ev.Origin != push.OriginStream {
		t.Fatalf("event = %+v", ev)
	}
}

// A push seen live and then listed by the catch-up fetch reaches the sink
// exactly once.
type laterFetcher struct {
	mu    sync.Mutex
	calls int
	later []push.RawPush
}

func (f *laterFetcher) FetchSince(context.Context, push.Timestamp) ([]push.RawPush, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls == 1 {
		return nil, nil
	}
	return f.later, nil
}

func TestRunStreamThenTickleDeliversOnce(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := newFakeConn(
		[]byte(`{"type":"push","push":{"iden":"abc","created":100,"body":"hello"}}`),
		[]byte(`{"type":"tickle","subtype":"push"}`),
	)
	fetcher := &laterFetcher{later: []push.RawPush{{Iden: "abc", Created: 100, Body: "hello"}}}
	dedup := push.NewDeduplicator(0, nil, logx.Nop())
	sink := &captureSink{}
	rc := push.NewReconciler(fetcher, dedup, sink, "D1", logx.Nop(), nil)
	rs := &recordingSleep{limit: 1, cancel: cancel}

	sup := New(Config{DeviceID: "D1"}, &scriptDialer{steps: []any{conn}}, rc, dedup, sink, logx.Nop(), WithSleep(rs.sleep))
	if err := sup.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if fetcher.calls != 2 {
		t.Fatalf("fetches = %d, want startup + tickle", fetcher.calls)
	}
	if got := sink.snapshot(); len(got) != 1 {
		t.Fatalf("delivered %d events, want 1", len(got))
	}
	if dedup.Watermark() != 100 {
		t.Fatalf("Watermark = %v, want 100", dedup.Watermark())
	}
}

type dueSchedule struct{}

func (dueSchedule) Next(t time.Time) time.Time { return t }

func TestRunScheduledCatchUp(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rc := &countingReconciler{}
	conn := newFakeConn(nil, nil)
	rs := &recordingSleep{limit: 1, cancel: cancel}

	sup := New(Config{DeviceID: "D1", Fetch: dueSchedule{}}, &scriptDialer{steps: []any{conn}}, rc,
		push.NewDeduplicator(0, nil, logx.Nop()), &captureSink{}, logx.Nop(), WithSleep(rs.sleep))
	if err := sup.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// startup + one per loop iteration (two empty ticks, then the read that loses the session)
	if got := rc.count(); got != 4 {
		t.Fatalf("reconciles = %d, want 4", got)
	}
}

func TestRunCancelUnblocksReceive(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	conn.block = true
	bus := eventbus.New()
	states, unsub := bus.Subscribe(16, eventbus.TypeStreamState)
	defer unsub()

	sup := New(Config{DeviceID: "D1"}, &scriptDialer{steps: []any{conn}}, &countingReconciler{},
		push.NewDeduplicator(0, nil, logx.Nop()), &captureSink{}, logx.Nop(), WithBus(bus))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for sup.State() != StateConnected {
		select {
		case <-deadline:
			t.Fatal("never connected")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	var seen []string
	for len(states) > 0 {
		seen = append(seen, (<-states).Data.(string))
	}
	want := []string{"handshaking", "connected", "closing", "disconnected"}
	if len(seen) != len(want) {
		t.Fatalf("states = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("states = %v, want %v", seen, want)
		}
	}
}

type countingRecorder struct {
	nopRecorder
	mu        sync.Mutex
	delivered int
	skipped   map[string]int
}

func (r *countingRecorder) Delivered(push.Origin) {
	r.mu.Lock()
	r.delivered++
	r.mu.Unlock()
}

func (r *countingRecorder) Skipped(_ push.Origin, reason string) {
	r.mu.Lock()
	if r.skipped == nil {
		r.skipped = map[string]int{}
	}
	r.skipped[reason]++
	r.mu.Unlock()
}

type rejectingSink struct{}

func (rejectingSink) Deliver(context.Context, push.Event) error { return errors.New("queue full") }

func TestRunSinkErrorNotCountedAsDelivered(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := newFakeConn([]byte(`{"type":"push","push":{"iden":"abc","created":100,"body":"hello"}}`))
	rec := &countingRecorder{}
	rs := &recordingSleep{limit: 1, cancel: cancel}

	sup := New(Config{DeviceID: "D1"}, &scriptDialer{steps: []any{conn}}, &countingReconciler{},
		push.NewDeduplicator(0, nil, logx.Nop()), rejectingSink{}, logx.Nop(),
		WithRecorder(rec), WithSleep(rs.sleep))
	if err := sup.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.delivered != 0 || rec.skipped[push.SkipSinkError] != 1 {
		t.Fatalf("delivered = %d, skipped = %v", rec.delivered, rec.skipped)
	}
}
