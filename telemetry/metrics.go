package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "arena"

// Metrics holds the Prometheus collectors for the arena server. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	rooms            prometheus.Gauge
	players          prometheus.Gauge
	connections      prometheus.Gauge
	kills            prometheus.Counter
	respawns         prometheus.Counter
	events           *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	droppedBroadcast prometheus.Counter
}

// New registers the arena collectors with registry. Pass
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Number of active rooms",
		}),
		players: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "players",
			Help:      "Number of players currently in a room",
		}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of open client connections",
		}),
		kills: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kills_total",
			Help:      "Total number of arbitrated kills",
		}),
		respawns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "respawns_total",
			Help:      "Total number of completed respawns",
		}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_events_total",
			Help:      "Client events processed by type and outcome",
		}, []string{"event", "outcome"}),
		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time spent applying a coordinator command",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
		}, []string{"command"}),
		droppedBroadcast: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_dropped_total",
			Help:      "Frames dropped because a client send queue was full",
		}),
	}
}

func (m *Metrics) SetOccupancy(rooms, players int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(rooms))
	m.players.Set(float64(players))
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) Kill() {
	if m == nil {
		return
	}
	m.kills.Inc()
}

func (m *Metrics) Respawn() {
	if m == nil {
		return
	}
	m.respawns.Inc()
}

// Event counts one client event; outcome is "ok", "ignored" or "error".
func (m *Metrics) Event(event, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) ObserveCommand(command string, d time.Duration) {
	if m == nil {
		return
	}
	m.commandDuration.WithLabelValues(command).Observe(d.Seconds())
}

func (m *Metrics) BroadcastDropped() {
	if m == nil {
		return
	}
	m.droppedBroadcast.Inc()
}
