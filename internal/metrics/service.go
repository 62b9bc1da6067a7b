package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ Metrics = (*Service)(nil)

// Service holds all the Prometheus metrics for the application.
type Service struct {
	HubSessions     prometheus.Gauge
	ActiveLocks     prometheus.Gauge
	LockIntents     *prometheus.CounterVec
	BookingsTotal   prometheus.Counter
	ConflictsTotal  prometheus.Counter
	RejectionsTotal *prometheus.CounterVec
	CommitDuration  prometheus.Histogram
}

// NewMetricsHandler returns an http.Handler for the given Gatherer.
// If no gatherer is provided, it uses the default one.
func NewMetricsHandler(gatherer ...prometheus.Gatherer) http.Handler {
	gath := prometheus.DefaultGatherer
	if len(gatherer) > 0 {
		gath = gatherer[0]
	}
	return promhttp.HandlerFor(gath, promhttp.HandlerOpts{})
}

// NewService creates and registers the Prometheus metrics.
// If no registerer is provided, it uses the default Prometheus registerer.
func NewService(registerer ...prometheus.Registerer) *Service {
	reg := prometheus.DefaultRegisterer
	if len(registerer) > 0 {
		reg = registerer[0]
	}

	s := &Service{
		HubSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "slot_hub_sessions",
			Help: "Number of websocket sessions connected to the lock hub.",
		}),
		ActiveLocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "slot_hub_active_locks",
			Help: "Number of seat locks held by sessions on this instance.",
		}),
		LockIntents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slot_hub_lock_intents_total",
			Help: "Lock intents processed by the hub, by result.",
		}, []string{"result"}),
		BookingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slot_bookings_committed_total",
			Help: "Bookings committed.",
		}),
		ConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slot_booking_conflicts_total",
			Help: "Booking submissions rejected because a position was already booked.",
		}),
		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slot_booking_rejections_total",
			Help: "Booking submissions rejected for reasons other than a conflict.",
		}, []string{"reason"}),
		CommitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "slot_booking_commit_duration_seconds",
			Help:    "Duration of the booking check-and-reserve transaction.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}

	reg.MustRegister(
		s.HubSessions,
		s.ActiveLocks,
		s.LockIntents,
		s.BookingsTotal,
		s.ConflictsTotal,
		s.RejectionsTotal,
		s.CommitDuration,
	)

	return s
}

func (s *Service) SessionJoined() { s.HubSessions.Inc() }

func (s *Service) SessionLeft() { s.HubSessions.Dec() }

func (s *Service) SetActiveLocks(n int) { s.ActiveLocks.Set(float64(n)) }

func (s *Service) IncLockIntent(result string) { s.LockIntents.WithLabelValues(result).Inc() }

func (s *Service) IncBookingCommitted() { s.BookingsTotal.Inc() }

func (s *Service) IncBookingConflict() { s.ConflictsTotal.Inc() }

func (s *Service) IncBookingRejected(reason string) { s.RejectionsTotal.WithLabelValues(reason).Inc() }

func (s *Service) ObserveCommitDuration(seconds float64) { s.CommitDuration.Observe(seconds) }
