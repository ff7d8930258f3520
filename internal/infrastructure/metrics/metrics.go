// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/ad-pipeline/internal/application/dispatcher"
	"github.com/garyjia/ad-pipeline/internal/domain/apperror"
	"github.com/garyjia/ad-pipeline/internal/domain/event"
)

const subscriberName = "metrics"

// Recorder owns the pipeline metrics and the registry they live in
type Recorder struct {
	registry *prometheus.Registry

	events      *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	phases      *prometheus.CounterVec
	errors      *prometheus.CounterVec
	httpLatency *prometheus.HistogramVec
}

// NewRecorder registers the pipeline metrics on a fresh registry
func NewRecorder(namespace string) *Recorder {
	if namespace == "" {
		namespace = "ad_pipeline"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Domain events published, by type.",
		}, []string{"type"}),
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_decisions_total",
			Help:      "Resolved approvals, by decision.",
		}, []string{"decision"}),
		phases: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Deliverable phase changes, by target phase.",
		}, []string{"phase"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Failed pipeline operations, by error kind.",
		}, []string{"kind"}),
		httpLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Register subscribes the recorder to every event on d
func (r *Recorder) Register(d dispatcher.Dispatcher) {
	d.SubscribeAll(subscriberName, r.handle)
}

func (r *Recorder) handle(_ context.Context, evt *event.Event) error {
	r.events.WithLabelValues(evt.Type.String()).Inc()

	switch evt.Type {
	case event.TypeApprovalResolved:
		r.decisions.WithLabelValues(evt.GetPayloadString(event.KeyDecision)).Inc()
	case event.TypeDeliverablePhaseChanged:
		r.phases.WithLabelValues(evt.GetPayloadString(event.KeyPhase)).Inc()
	}
	return nil
}

// RecordError counts a failed operation by its error kind
func (r *Recorder) RecordError(err error) {
	if err == nil {
		return
	}
	kind := string(apperror.KindOf(err))
	if kind == "" {
		kind = "INTERNAL"
	}
	r.errors.WithLabelValues(kind).Inc()
}

// Middleware observes request latency per matched route
func (r *Recorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		r.httpLatency.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
