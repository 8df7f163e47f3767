package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "blockctl"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	requests         *prom.CounterVec
	dispatchDuration *prom.HistogramVec
	dispatchResults  *prom.CounterVec
	settleDuration   *prom.HistogramVec
	invalidations    prom.Counter
	reloads          *prom.CounterVec
	malformed        prom.Counter
}

var _ Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder constructs and registers the control-loop metrics.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		requests: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "control_requests_total",
			Help:      "Control requests by action kind and outcome",
		}, []string{"kind", "outcome"}),
		dispatchDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent waiting on the privileged helper",
			Buckets:   prom.DefBuckets,
		}, []string{"kind"}),
		dispatchResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_results_total",
			Help:      "Helper invocations by kind and result",
		}, []string{"kind", "result"}),
		settleDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "settle_duration_seconds",
			Help:      "Observed settle waits by window",
			Buckets:   []float64{0.5, 1, 2, 4, 6, 8, 10, 15, 20},
		}, []string{"window"}),
		invalidations: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "config_invalidations_total",
			Help:      "Cached config evictions",
		}),
		reloads: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Config reloads triggered by cache misses",
		}, []string{"result"}),
		malformed: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_status_total",
			Help:      "Status values that failed to decode and were treated as enabled",
		}),
	}
	reg.MustRegister(pr.requests, pr.dispatchDuration, pr.dispatchResults, pr.settleDuration, pr.invalidations, pr.reloads, pr.malformed)
	return pr
}

func (p *PrometheusRecorder) IncRequest(kind, outcome string) {
	p.requests.WithLabelValues(kind, outcome).Inc()
}

func (p *PrometheusRecorder) ObserveDispatch(kind string, d time.Duration, success bool) {
	res := "failed"
	if success {
		res = "success"
	}
	p.dispatchDuration.WithLabelValues(kind).Observe(d.Seconds())
	p.dispatchResults.WithLabelValues(kind, res).Inc()
}

func (p *PrometheusRecorder) ObserveSettle(window string, d time.Duration) {
	p.settleDuration.WithLabelValues(window).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncInvalidation() { p.invalidations.Inc() }

func (p *PrometheusRecorder) IncReload(result string) { p.reloads.WithLabelValues(result).Inc() }

func (p *PrometheusRecorder) IncMalformedStatus() { p.malformed.Inc() }

// HTTPHandler serves the registry in the Prometheus exposition format.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
