package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fotoagenda"

var (
	once sync.Once

	bookingCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_created_total",
			Help:      "Count of bookings created by source and status.",
		},
		[]string{"source", "status"},
	)

	bookingRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_rejected_total",
			Help:      "Count of booking attempts rejected by reason.",
		},
		[]string{"reason"},
	)

	bookingStatusChanged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_status_changed_total",
			Help:      "Count of booking status changes by target status.",
		},
		[]string{"status"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of API requests by route and response code.",
		},
		[]string{"route", "code"},
	)

	webhookMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_messages_total",
			Help:      "Count of inbound WhatsApp messages by kind.",
		},
		[]string{"kind"},
	)

	slotQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_queries_total",
			Help:      "Count of availability lookups by caller.",
		},
		[]string{"source"},
	)

	chatEscalations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_escalations_total",
			Help:      "Count of chats flagged for human follow-up.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(bookingCreated, bookingRejected, bookingStatusChanged,
			httpRequests, webhookMessages, slotQueries, chatEscalations)
	})
}

func IncBookingCreated(source, status string) {
	bookingCreated.WithLabelValues(source, status).Inc()
}

func IncBookingRejected(reason string) {
	bookingRejected.WithLabelValues(reason).Inc()
}

func IncStatusChanged(status string) {
	bookingStatusChanged.WithLabelValues(status).Inc()
}

func IncHTTP(route string, code int) {
	httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func IncWebhookMessage(kind string) {
	webhookMessages.WithLabelValues(kind).Inc()
}

func IncSlotQuery(source string) {
	slotQueries.WithLabelValues(source).Inc()
}

func IncEscalation() {
	chatEscalations.Inc()
}
