package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "staffnotify_api_requests_total", Help: "API requests"},
		[]string{"route", "status"},
	)
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sms_provider_calls_total", Help: "SMS gateway call outcomes"},
		[]string{"method", "result"},
	)
	ProviderLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "sms_provider_latency_seconds", Help: "SMS gateway call latency"},
	)
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "staffnotify_dispatch_total", Help: "Per-recipient dispatch outcomes"},
		[]string{"result"},
	)
	SchedulerTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "staffnotify_scheduler_ticks_total", Help: "Reconciliation tick outcomes"},
		[]string{"timer", "result"},
	)
	Promotions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "staffnotify_promotions_total", Help: "Scheduled notification promotions"},
		[]string{"result"},
	)
	Confirmations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "staffnotify_confirmations_total", Help: "Delivery status poll transitions"},
		[]string{"status"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, ProviderCalls, ProviderLatency, Dispatches, SchedulerTicks, Promotions, Confirmations)
}
