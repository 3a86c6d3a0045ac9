package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the change-event relay
var (
	FeedNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_notifications_total",
			Help: "Change feed notifications received, by parse result",
		},
		[]string{"result"},
	)

	FeedListenerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feed_listener_state",
			Help: "1 for the feed listener's current state, 0 for every other state",
		},
		[]string{"state"},
	)

	FeedReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_reconnects_total",
			Help: "Scheduled reconnects of the change feed subscription",
		},
	)

	NotificationsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_dispatched_total",
			Help: "Notifications delivered to the hub, by event name",
		},
		[]string{"event"},
	)

	NotificationsRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_rejected_total",
			Help: "Notifications a producer could not enqueue before its deadline",
		},
	)

	DispatchQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_queue_depth",
			Help: "Notifications waiting in the dispatcher queue",
		},
	)

	SweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_sweep_runs_total",
			Help: "Reconciliation sweep runs, by result",
		},
		[]string{"result"},
	)

	SweepOrdersReconciledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciliation_orders_reconciled_total",
			Help: "Paid orders announced and flagged by the reconciliation sweep",
		},
	)

	WebsocketSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_sessions",
			Help: "Connected websocket sessions",
		},
	)

	WebsocketSessionsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_sessions_dropped_total",
			Help: "Sessions disconnected because their send buffer was full",
		},
	)

	MirrorPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_publish_total",
			Help: "Notification mirror publishes, by result",
		},
		[]string{"result"},
	)
)

// Register registers all relay metrics with the default registry.
func Register() {
	prometheus.MustRegister(
		FeedNotificationsTotal,
		FeedListenerState,
		FeedReconnectsTotal,
		NotificationsDispatchedTotal,
		NotificationsRejectedTotal,
		DispatchQueueDepth,
		SweepRunsTotal,
		SweepOrdersReconciledTotal,
		WebsocketSessions,
		WebsocketSessionsDroppedTotal,
		MirrorPublishTotal,
	)
}
