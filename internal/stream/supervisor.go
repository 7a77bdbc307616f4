// Package stream keeps the push stream connected and feeds what it
// receives through the dedup pipeline.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"pushstream/internal/eventbus"
	"pushstream/internal/push"
	"pushstream/internal/stream/ws"
	"pushstream/pkg/logx"
)

// ErrAttemptsExhausted is returned by Run when MaxAttempts consecutive
// connection attempts failed.
var ErrAttemptsExhausted = errors.New("stream: reconnect attempts exhausted")

const (
	DefaultPingInterval = 30 * time.Second
	DefaultReadTimeout  = 30 * time.Second
	DefaultIdlePause    = 100 * time.Millisecond
)

// Conn is one live stream session.
type Conn interface {
	ID() string
	SendPing() error
	Receive(timeout time.Duration) (*ws.Frame, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WSDialer adapts *ws.Dialer to Dialer.
type WSDialer struct{ D *ws.Dialer }

func (d WSDialer) Dial(ctx context.Context) (Conn, error) {
	s, err := d.D.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

type Reconciler interface {
	Reconcile(ctx context.Context) (push.ReconcileResult, error)
}

// Schedule yields the next catch-up time.
type Schedule interface {
	Next(after time.Time) time.Time
}

// Recorder observes connection and pipeline outcomes (metrics).
type Recorder interface {
	push.Recorder
	StateChanged(s State)
	ConnectFailed()
	ConnectionLost()
}

type Config struct {
	DeviceID string

	PingInterval time.Duration
	ReadTimeout  time.Duration
	IdlePause    time.Duration

	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// MaxAttempts > 0 makes Run give up after that many consecutive failed
	// attempts. 0 retries until the context ends.
	MaxAttempts int

	Fetch Schedule
}

func (c *Config) setDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.IdlePause <= 0 {
		c.IdlePause = DefaultIdlePause
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = DefaultBackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
}

type Option func(*Supervisor)

func WithBus(b eventbus.Bus) Option { return func(s *Supervisor) { s.bus = b } }

func WithRecorder(r Recorder) Option { return func(s *Supervisor) { s.rec = r } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Supervisor) { s.now = now } }

// WithSleep replaces the context-aware sleep used for backoff and idle pauses.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Supervisor) { s.sleep = fn }
}

// Supervisor owns the stream session. Everything it does (receive, ping,
// catch-up, delivery) happens on the goroutine that calls Run.
type Supervisor struct {
	cfg        Config
	dialer     Dialer
	reconciler Reconciler
	dedup      *push.Deduplicator
	sink       push.Sink

	log   logx.Logger
	bus   eventbus.Bus
	rec   Recorder
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	state atomic.Int32
}

func New(cfg Config, dialer Dialer, rc Reconciler, dedup *push.Deduplicator, sink push.Sink, log logx.Logger, opts ...Option) *Supervisor {
	cfg.setDefaults()
	s := &Supervisor{
		cfg:        cfg,
		dialer:     dialer,
		reconciler: rc,
		dedup:      dedup,
		sink:       sink,
		log:        log.Component("stream"),
		bus:        eventbus.Nop{},
		rec:        nopRecorder{},
		now:        time.Now,
		sleep:      sleepCtx,
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	if s.cfg.Fetch == nil {
		s.cfg.Fetch = everyDefault{}
	}
	return s
}

func (s *Supervisor) State() State { return State(s.state.Load()) }

// Run performs the startup catch-up, then keeps a session open until ctx
// ends. It returns nil on cancellation and ErrAttemptsExhausted when
// MaxAttempts is set and reached.
func (s *Supervisor) Run(ctx context.Context) error {
	s.catchUp(ctx, "startup")
	nextFetch := s.cfg.Fetch.Next(s.now())

	bo := NewBackoff(s.cfg.BackoffInitial, s.cfg.BackoffMax)
	failures := 0
	for {
		if ctx.Err() != nil {
			s.setState(StateDisconnected, "")
			return nil
		}

		s.setState(StateHandshaking, "")
		conn, err := s.dialer.Dial(ctx)
		if err != nil {
			s.setState(StateDisconnected, "")
			if ctx.Err() != nil {
				return nil
			}
			s.rec.ConnectFailed()
			s.log.Error("stream connect failed", logx.Err(err))
		} else {
			bo.Reset()
			failures = 0
			s.setState(StateConnected, conn.ID())
			s.log.Info("stream connected", logx.String("conn_id", conn.ID()))

			// Receive blocks up to ReadTimeout; closing the session is what
			// unblocks it on shutdown.
			stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
			err = s.serve(ctx, conn, &nextFetch)
			stop()

			s.setState(StateClosing, conn.ID())
			_ = conn.Close()
			s.setState(StateDisconnected, conn.ID())
			if ctx.Err() != nil {
				return nil
			}
			s.rec.ConnectionLost()
			s.log.Warn("stream lost", logx.String("conn_id", conn.ID()), logx.Err(err))
		}

		failures++
		if s.cfg.MaxAttempts > 0 && failures >= s.cfg.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %v", ErrAttemptsExhausted, failures, err)
		}
		delay := bo.Next()
		s.log.Info("reconnecting", logx.Duration("in", delay), logx.Int("attempt", failures))
		if err := s.sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// serve runs the Connected state until the session fails or ctx ends.
func (s *Supervisor) serve(ctx context.Context, conn Conn, nextFetch *time.Time) error {
	log := s.log.With(logx.String("conn_id", conn.ID()))
	lastPing := s.now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := s.now()
		if now.Sub(lastPing) >= s.cfg.PingInterval {
			if err := conn.SendPing(); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			log.Trace("ping sent")
			lastPing = now
		}
		if !now.Before(*nextFetch) {
			s.catchUp(ctx, "schedule")
			*nextFetch = s.cfg.Fetch.Next(s.now())
		}

		f, err := conn.Receive(s.cfg.ReadTimeout)
		if err != nil {
			return err
		}
		if f == nil {
			if err := s.sleep(ctx, s.cfg.IdlePause); err != nil {
				return err
			}
			continue
		}
		s.dispatch(ctx, log, f.Payload)
	}
}

func (s *Supervisor) dispatch(ctx context.Context, log logx.Logger, payload []byte) {
	msg, err := push.ParseMessage(payload)
	if err != nil {
		log.Debug("undecodable stream message", logx.Err(err), logx.Int("bytes", len(payload)))
		return
	}
	switch {
	case msg.IsPushTickle():
		s.catchUp(ctx, "tickle")
	case msg.Type == push.MessagePush && msg.Push != nil:
		s.handlePush(ctx, log, *msg.Push)
	default:
		log.Trace("stream message ignored", logx.String("type", msg.Type), logx.String("subtype", msg.Subtype))
	}
}

// handlePush delivers one push that arrived inline on the stream. The
// timestamp gate is skipped for pushes without a creation time; the id
// gate still applies to them.
func (s *Supervisor) handlePush(ctx context.Context, log logx.Logger, raw push.RawPush) {
	if raw.Created != 0 && !s.dedup.AdmitStream(raw.Created) {
		s.rec.Duplicate(push.GateTimestamp)
		return
	}
	ev, ok := push.Normalize(raw, s.cfg.DeviceID, push.OriginStream)
	if !ok {
		s.rec.Skipped(push.OriginStream, push.SkipOtherDevice)
		return
	}
	if !s.dedup.AdmitByID(ev.ID) {
		s.rec.Duplicate(push.GateID)
		return
	}
	if err := s.sink.Deliver(ctx, ev); err != nil {
		if ctx.Err() != nil {
			// Never handed over; let catch-up deliver it.
			s.dedup.ForgetID(ev.ID)
			return
		}
		s.rec.Skipped(push.OriginStream, push.SkipSinkError)
		log.Error("deliver failed", logx.String("id", ev.ID), logx.Err(err))
		return
	}
	s.rec.Delivered(push.OriginStream)
	log.Debug("push delivered", logx.String("id", ev.ID), logx.String("route", ev.Route.String()))
}

func (s *Supervisor) catchUp(ctx context.Context, reason string) {
	res, err := s.reconciler.Reconcile(ctx)
	ev := eventbus.CatchUp{Reason: reason, Delivered: res.Delivered}
	switch {
	case err != nil && ctx.Err() != nil:
		s.log.Debug("catch-up interrupted", logx.String("reason", reason))
		return
	case err != nil:
		ev.Err = err.Error()
		s.log.Error("catch-up failed", logx.String("reason", reason), logx.Err(err))
	case res.Delivered > 0:
		s.log.Info("catch-up delivered missed pushes",
			logx.String("reason", reason),
			logx.Int("delivered", res.Delivered),
			logx.Float64("watermark", float64(res.Watermark)),
		)
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeCatchUp, Data: ev})
}

func (s *Supervisor) setState(st State, connID string) {
	old := State(s.state.Swap(int32(st)))
	if old == st {
		return
	}
	s.log.Debug("state", logx.String("from", old.String()), logx.String("to", st.String()), logx.String("conn_id", connID))
	s.rec.StateChanged(st)
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeStreamState, Data: st.String()})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DefaultFetchInterval is the catch-up period when no schedule is given.
const DefaultFetchInterval = 300 * time.Second

type everyDefault struct{}

func (everyDefault) Next(t time.Time) time.Time { return t.Add(DefaultFetchInterval) }

type nopRecorder struct{}

func (nopRecorder) Delivered(push.Origin)            {}
func (nopRecorder) Duplicate(string)                 {}
func (nopRecorder) Skipped(push.Origin, string)      {}
func (nopRecorder) Reconciled(string)                {}
func (nopRecorder) WatermarkAdvanced(push.Timestamp) {}
func (nopRecorder) StateChanged(State)               {}
func (nopRecorder) ConnectFailed()                   {}
func (nopRecorder) ConnectionLost()                  {}
