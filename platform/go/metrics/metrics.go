package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_webhook_events_total",
			Help: "Sync-status webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)

	ProvisioningFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_provisioning_failures_total",
			Help: "External provisioning step failures by step",
		},
		[]string{"step"},
	)

	TenantsReady = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "onboarding_tenants_ready_total",
			Help: "Tenants whose initial historical sync completed",
		},
	)
)

// Init registers the onboarding metrics with the default registry.
func Init() {
	prometheus.MustRegister(WebhookEvents)
	prometheus.MustRegister(ProvisioningFailures)
	prometheus.MustRegister(TenantsReady)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
