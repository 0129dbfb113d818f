package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "adx_mediator"

var (
	// RelayRequestsCounter counts inbound relay requests by branch taken
	// (sync, async, forward_failed)
	RelayRequestsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "relay_requests_total",
		Help:      "Inbound relay requests by outcome of the upstream forward",
	}, []string{"mode"})

	// UpstreamStatusCounter counts upstream forward responses by status code
	UpstreamStatusCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "upstream_responses_total",
		Help:      "Upstream forward responses by HTTP status code",
	}, []string{"code"})

	// PollTicksCounter counts task status checks by result
	// (pending, completed, transport_error, parse_error)
	PollTicksCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "poll_ticks_total",
		Help:      "Task status checks by result",
	}, []string{"result"})

	// ActiveSessionsGauge tracks polling sessions that have not completed
	ActiveSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "poll_sessions_active",
		Help:      "Current number of task polling sessions",
	})

	// DeliveriesCounter counts out-of-band receiver notifications by result
	// (delivered, rejected, failed, dropped, skipped)
	DeliveriesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "deliveries_total",
		Help:      "Receiver notifications by result",
	}, []string{"result"})

	// QueueDepthGauge tracks the delivery worker pool backlog
	QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "delivery_queue_depth",
		Help:      "Current number of deliveries waiting in the worker pool queue",
	})

	// ActiveWorkersGauge tracks delivery workers currently sending
	ActiveWorkersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "delivery_active_workers",
		Help:      "Current number of workers sending a receiver notification",
	})

	// ConfigUpdatesCounter counts relay config snapshots swapped in
	ConfigUpdatesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "config_updates_total",
		Help:      "Relay config snapshots stored by the provider",
	})
)
