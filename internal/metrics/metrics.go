// Package metrics exposes collabd's Prometheus instrumentation: counters
// and gauges covering hub lifecycle, operation accept/reject, transform
// latency, broadcast delivery, and session churn.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter, gauge, and histogram the collaboration
// engine records. Call New once at startup and pass the result down to the
// hub registry, hubs, and sessions that report against it.
type Metrics struct {
	hubsActive       prometheus.Gauge
	hubsReclaimed    prometheus.Counter
	subscribersTotal prometheus.Gauge

	operationsSubmitted prometheus.Counter
	operationsAccepted  prometheus.Counter
	operationsRejected  *prometheus.CounterVec
	transformLatency    prometheus.Histogram
	oplogLength         prometheus.Gauge

	broadcastsSent    prometheus.Counter
	broadcastsDropped *prometheus.CounterVec

	resyncRequired prometheus.Counter

	sessionsEvicted   *prometheus.CounterVec
	rateLimitRejected prometheus.Counter

	clusterRelayed prometheus.Counter
	clusterErrors  prometheus.Counter
}

// New constructs and registers collabd's metrics against the default
// Prometheus registry.
func New() *Metrics {
	return &Metrics{
		hubsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "collabd_hubs_active",
			Help: "Number of document hubs currently Active or Draining.",
		}),
		hubsReclaimed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabd_hubs_reclaimed_total",
			Help: "Total number of hubs that completed the idle-reclamation transition.",
		}),
		subscribersTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "collabd_subscribers_total",
			Help: "Number of subscriber sessions currently attached across all hubs.",
		}),

		operationsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabd_operations_submitted_total",
			Help: "Total number of operation submissions received from sessions.",
		}),
		operationsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabd_operations_accepted_total",
			Help: "Total number of operations that passed transform and validation.",
		}),
		operationsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "collabd_operations_rejected_total",
			Help: "Total number of operations rejected, labeled by reason.",
		}, []string{"reason"}),
		transformLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "collabd_transform_latency_seconds",
			Help:    "Time spent transforming a submitted operation against the concurrent tail.",
			Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		oplogLength: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "collabd_oplog_length",
			Help: "Current version (entries ever appended) of the document operation log most recently appended to.",
		}),

		broadcastsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabd_broadcasts_sent_total",
			Help: "Total number of frames enqueued for delivery to a subscriber.",
		}),
		broadcastsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "collabd_broadcasts_dropped_total",
			Help: "Total number of frames dropped because a subscriber's outbound queue was full.",
		}, []string{"frame_type"}),

		resyncRequired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabd_resync_required_total",
			Help: "Total number of submissions rejected because base_version fell outside the retained window.",
		}),

		sessionsEvicted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "collabd_sessions_evicted_total",
			Help: "Total number of sessions forcibly closed, labeled by reason.",
		}, []string{"reason"}),
		rateLimitRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabd_rate_limit_rejected_total",
			Help: "Total number of inbound frames rejected by the per-session rate limiter.",
		}),

		clusterRelayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabd_cluster_relayed_total",
			Help: "Total number of operations relayed to peer instances over the cluster bus.",
		}),
		clusterErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabd_cluster_errors_total",
			Help: "Total number of cluster relay publish or subscribe failures.",
		}),
	}
}

func (m *Metrics) HubActivated()   { m.hubsActive.Inc() }
func (m *Metrics) HubReclaimed()   { m.hubsActive.Dec(); m.hubsReclaimed.Inc() }
func (m *Metrics) SubscriberJoined()  { m.subscribersTotal.Inc() }
func (m *Metrics) SubscriberLeft()    { m.subscribersTotal.Dec() }

func (m *Metrics) OperationSubmitted() { m.operationsSubmitted.Inc() }
func (m *Metrics) OperationAccepted()  { m.operationsAccepted.Inc() }
func (m *Metrics) OperationRejected(reason string) {
	m.operationsRejected.WithLabelValues(reason).Inc()
	if reason == "resync_required" {
		m.resyncRequired.Inc()
	}
}
func (m *Metrics) ObserveTransformLatency(d time.Duration) { m.transformLatency.Observe(d.Seconds()) }
func (m *Metrics) SetOplogLength(n int)                    { m.oplogLength.Set(float64(n)) }

func (m *Metrics) BroadcastSent()                    { m.broadcastsSent.Inc() }
func (m *Metrics) BroadcastDropped(frameType string) { m.broadcastsDropped.WithLabelValues(frameType).Inc() }

func (m *Metrics) SessionEvicted(reason string) { m.sessionsEvicted.WithLabelValues(reason).Inc() }
func (m *Metrics) RateLimitRejected()           { m.rateLimitRejected.Inc() }

func (m *Metrics) ClusterRelayed() { m.clusterRelayed.Inc() }
func (m *Metrics) ClusterError()   { m.clusterErrors.Inc() }
