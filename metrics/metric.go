package metrics

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/renegade-fi/fee-sweeper/logging"
)

var (
	FeesSubmittedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fee_redemptions_submitted_total",
		Help: "Redemption transactions accepted by the node.",
	})

	FeesConfirmedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fee_redemptions_confirmed_total",
		Help: "Fees whose redemption reached the configured confirmation depth.",
	})

	FeesFailedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fee_redemptions_failed_total",
		Help: "Fees moved to failed, by failure reason.",
	}, []string{"reason"})

	FeesRetriedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fee_redemptions_retried_total",
		Help: "Attempts rescheduled after a retryable chain error.",
	})

	FeesRequeuedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fee_redemptions_requeued_total",
		Help: "Failed fees moved back to pending by the automatic requeue policy.",
	})

	FeesByStatusGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fees_by_status",
		Help: "Number of fee rows per status.",
	}, []string{"status"})

	MetricsItems = []prometheus.Collector{
		FeesSubmittedCounter,
		FeesConfirmedCounter,
		FeesFailedCounter,
		FeesRetriedCounter,
		FeesRequeuedCounter,
		FeesByStatusGauge,
	}
)

type Metrics struct {
	httpAddress string
	registry    *prometheus.Registry
	httpServer  *http.Server
}

func NewMetrics(address string) *Metrics {
	return &Metrics{
		httpAddress: address,
		registry:    prometheus.NewRegistry(),
	}
}

func (m *Metrics) Start() {
	m.registry.MustRegister(MetricsItems...)
	go m.serve()
}

func (m *Metrics) Handler() http.Handler {
	router := mux.NewRouter()
	router.Path("/metrics").Handler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return router
}

func (m *Metrics) serve() {
	m.httpServer = &http.Server{
		Addr:    m.httpAddress,
		Handler: m.Handler(),
	}
	if err := m.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Logger.Errorf("failed to listen and serve metrics, err=%s", err.Error())
		panic(err)
	}
}
