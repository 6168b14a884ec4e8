package metrics

import (
	"log"
	"net/http"

	"github.com/devserver-emu/devserver/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Enabled bool
var registry = prometheus.NewRegistry()

var apiCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "devserver_api_calls_total",
	Help: "API calls dispatched by the local proxy.",
}, []string{"service", "method", "status"})

var admissions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "devserver_serving_permits_total",
	Help: "Serving-permit admission decisions.",
}, []string{"owner", "decision"})

func Init() {
	if config.GetBool(config.METRICS_ENABLED, false) {
		log.Println("Metrics enabled.")
		Enabled = true
	} else {
		log.Println("Metrics disabled.")
		Enabled = false
		return
	}

	registry.MustRegister(apiCalls, admissions)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true})
	http.Handle("/metrics", handler)
	http.ListenAndServe(":2112", nil)
}

// RecordAPICall counts one dispatched API call.
func RecordAPICall(service, method string, ok bool) {
	if !Enabled {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	apiCalls.WithLabelValues(service, method, status).Inc()
}

// RecordAdmission counts one serving-permit decision for a module or backend.
func RecordAdmission(owner string, accepted bool) {
	if !Enabled {
		return
	}
	decision := "accepted"
	if !accepted {
		decision = "rejected"
	}
	admissions.WithLabelValues(owner, decision).Inc()
}
