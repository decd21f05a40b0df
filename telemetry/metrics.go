// Package telemetry provides Prometheus metrics and OpenTelemetry tracing
// helpers shared by the realtime pool, the session bootstrap and the REST
// actions.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	EventsDecoded   *prometheus.CounterVec // label: type
	DecodeErrors    *prometheus.CounterVec // label: kind (malformed|payload)
	ChatMessages    *prometheus.CounterVec // label: room
	DuplicateEvents prometheus.Counter
	SocketsOpened   prometheus.Counter
	SocketErrors    prometheus.Counter
	Logins          *prometheus.CounterVec // labels: mode, result
	APIRequests     *prometheus.CounterVec // labels: action, code

	// Gauges
	OpenSockets     prometheus.Gauge
	SubscribedRooms prometheus.Gauge
)

// Init registers metrics with the default registry (idempotent).
func Init() {
	once.Do(func() {
		EventsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{Name: "kick_events_decoded_total", Help: "Gateway events decoded, by event type"}, []string{"type"})
		DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "kick_decode_errors_total", Help: "Gateway frames that failed to decode"}, []string{"kind"})
		ChatMessages = promauto.NewCounterVec(prometheus.CounterOpts{Name: "kick_chat_messages_total", Help: "Chat messages received, by room"}, []string{"room"})
		DuplicateEvents = promauto.NewCounter(prometheus.CounterOpts{Name: "kick_duplicate_events_total", Help: "Chat messages dropped as already delivered"})
		SocketsOpened = promauto.NewCounter(prometheus.CounterOpts{Name: "kick_sockets_opened_total", Help: "Gateway connections opened"})
		SocketErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "kick_socket_errors_total", Help: "Gateway connections closed by a transport error"})
		Logins = promauto.NewCounterVec(prometheus.CounterOpts{Name: "kick_logins_total", Help: "Session bootstrap attempts"}, []string{"mode", "result"})
		APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "kick_api_requests_total", Help: "REST action calls by status code"}, []string{"action", "code"})
		OpenSockets = promauto.NewGauge(prometheus.GaugeOpts{Name: "kick_open_sockets", Help: "Gateway connections currently open"})
		SubscribedRooms = promauto.NewGauge(prometheus.GaugeOpts{Name: "kick_subscribed_rooms", Help: "Rooms currently assigned to a gateway connection"})
	})
}
