package metrics

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrSnakeDoc/beacon/internal/discovery"
)

const namespace = "beacon"

// PrometheusRecorder implements discovery.Recorder with Prometheus collectors.
type PrometheusRecorder struct {
	reg         *prom.Registry
	transitions *prom.CounterVec
	events      *prom.CounterVec
	desired     prom.Gauge
	running     prom.Gauge
}

// NewPrometheusRecorder registers the beacon collectors on reg (a fresh
// registry when nil) together with the Go and process collectors.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		reg: reg,
		transitions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Start/Stop calls issued to the discoverable service by result",
		}, []string{"action", "result"}),
		events: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events processed by the lifecycle controller by source",
		}, []string{"source"}),
		desired: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "desired_running",
			Help:      "1 when the controller wants the service running",
		}),
		running: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "service_running",
			Help:      "Observed service state: 1 running, 0 stopped, -1 unknown",
		}),
	}
	reg.MustRegister(
		pr.transitions,
		pr.events,
		pr.desired,
		pr.running,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pr.running.Set(-1)
	return pr
}

// Registry returns the registry the collectors are registered on.
func (p *PrometheusRecorder) Registry() *prom.Registry { return p.reg }

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveEvent counts an event handled by the controller, labelled by source.
func (p *PrometheusRecorder) ObserveEvent(source string) {
	p.events.WithLabelValues(source).Inc()
}

// ObserveTransition counts a start or stop of the service, labelled ok or error.
func (p *PrometheusRecorder) ObserveTransition(action discovery.Action, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.transitions.WithLabelValues(string(action), result).Inc()
}

// SetDesired records the computed intent as 1 or 0.
func (p *PrometheusRecorder) SetDesired(running bool) {
	p.desired.Set(boolToFloat(running))
}

// SetObserved records the observed state: 1 running, 0 stopped, -1 unknown.
func (p *PrometheusRecorder) SetObserved(state discovery.RunState) {
	switch state {
	case discovery.RunStateRunning:
		p.running.Set(1)
	case discovery.RunStateStopped:
		p.running.Set(0)
	default:
		p.running.Set(-1)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
