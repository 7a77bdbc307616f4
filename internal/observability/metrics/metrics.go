// Package metrics exposes pipeline counters on a private Prometheus registry.
package metrics

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pushstream/internal/eventbus"
	"pushstream/internal/push"
	"pushstream/internal/stream"
)

const namespace = "pushstream"

// Metrics implements stream.Recorder.
type Metrics struct {
	reg *prometheus.Registry

	delivered      *prometheus.CounterVec
	duplicates     *prometheus.CounterVec
	skipped        *prometheus.CounterVec
	reconciles     *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	connectFailed  prometheus.Counter
	connectionLost prometheus.Counter
	reconnects     prometheus.Counter
	watermark      prometheus.Gauge
	state          prometheus.Gauge

	dialed atomic.Bool
}

var _ stream.Recorder = (*Metrics)(nil)

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		delivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_delivered_total",
			Help: "Events handed to the sink, by origin.",
		}, []string{"origin"}),
		duplicates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "duplicates_dropped_total",
			Help: "Events dropped as already seen, by gate.",
		}, []string{"gate"}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_skipped_total",
			Help: "Pushes not meant for this device or inactive.",
		}, []string{"origin", "reason"}),
		reconciles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconciliations_total",
			Help: "Catch-up passes, by result.",
		}, []string{"result"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Deliverer outcomes, by deliverer and outcome.",
		}, []string{"deliverer", "outcome"}),
		connectFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "handshake_failures_total",
			Help: "Failed connection attempts (TLS or upgrade).",
		}),
		connectionLost: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_lost_total",
			Help: "Established sessions that ended.",
		}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconnects_total",
			Help: "Connection attempts after the first.",
		}),
		watermark: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "watermark_seconds",
			Help: "Highest creation time reconciled, as Unix seconds.",
		}),
		state: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connection_state",
			Help: "0 disconnected, 1 handshaking, 2 connected, 3 closing.",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Delivered(o push.Origin)             { m.delivered.WithLabelValues(string(o)).Inc() }
func (m *Metrics) Duplicate(gate string)               { m.duplicates.WithLabelValues(gate).Inc() }
func (m *Metrics) Skipped(o push.Origin, why string)   { m.skipped.WithLabelValues(string(o), why).Inc() }
func (m *Metrics) Reconciled(result string)            { m.reconciles.WithLabelValues(result).Inc() }
func (m *Metrics) WatermarkAdvanced(ts push.Timestamp) { m.watermark.Set(float64(ts)) }
func (m *Metrics) ConnectFailed()                      { m.connectFailed.Inc() }
func (m *Metrics) ConnectionLost()                     { m.connectionLost.Inc() }

func (m *Metrics) StateChanged(s stream.State) {
	m.state.Set(float64(s))
	if s == stream.StateHandshaking && m.dialed.Swap(true) {
		m.reconnects.Inc()
	}
}

// Follow counts notifier outcomes from bus until ctx ends.
func (m *Metrics) Follow(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(64, eventbus.TypeNotifierSent, eventbus.TypeNotifierFailed, eventbus.TypeNotifierDropped)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			d, _ := ev.Data.(eventbus.Delivery)
			deliverer := d.Deliverer
			if deliverer == "" {
				deliverer = "queue"
			}
			var outcome string
			switch ev.Type {
			case eventbus.TypeNotifierSent:
				outcome = "sent"
			case eventbus.TypeNotifierFailed:
				outcome = "failed"
			default:
				outcome = "dropped"
			}
			m.notifications.WithLabelValues(deliverer, outcome).Inc()
		}
	}
}
