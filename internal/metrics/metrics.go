// Package metrics exposes Prometheus collectors for the connection layer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kafkaconsole"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry prometheus.Gatherer

	Connects            *prometheus.CounterVec
	ConnectDuration     *prometheus.HistogramVec
	ReadyClusters       prometheus.Gauge
	Discoveries         *prometheus.CounterVec
	CredentialResolves  *prometheus.CounterVec
	DashboardTopicFails *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the collectors on reg and serves them from g.
func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: g,
		Connects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_connects_total",
				Help:      "Connection attempts made by the pool",
			},
			[]string{"cluster", "result"},
		),
		ConnectDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pool_connect_duration_seconds",
				Help:      "Time spent establishing cluster connections",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"cluster"},
		),
		ReadyClusters: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_ready_clusters",
				Help:      "Clusters with live pooled clients",
			},
		),
		Discoveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "msk_discoveries_total",
				Help:      "Bootstrap broker lookups against the MSK API",
			},
			[]string{"result"},
		),
		CredentialResolves: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aws_credential_resolutions_total",
				Help:      "AWS credential resolutions by provider",
			},
			[]string{"source", "result"},
		),
		DashboardTopicFails: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dashboard_topic_failures_total",
				Help:      "Topics dropped from a dashboard because their metadata fetch failed",
			},
			[]string{"cluster"},
		),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveConnect records one pool connect attempt.
func (m *Metrics) ObserveConnect(cluster string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.Connects.WithLabelValues(cluster, result(err)).Inc()
	m.ConnectDuration.WithLabelValues(cluster).Observe(took.Seconds())
}

// SetReady sets the number of clusters in the ready state.
func (m *Metrics) SetReady(n int) {
	if m == nil {
		return
	}
	m.ReadyClusters.Set(float64(n))
}

// ObserveDiscovery records one MSK bootstrap lookup.
func (m *Metrics) ObserveDiscovery(err error) {
	if m == nil {
		return
	}
	m.Discoveries.WithLabelValues(result(err)).Inc()
}

// ObserveCredentials records one credential resolution.
func (m *Metrics) ObserveCredentials(source string, err error) {
	if m == nil {
		return
	}
	m.CredentialResolves.WithLabelValues(source, result(err)).Inc()
}

// ObserveDashboardTopicFailure records a topic dropped from a dashboard.
func (m *Metrics) ObserveDashboardTopicFailure(cluster string) {
	if m == nil {
		return
	}
	m.DashboardTopicFails.WithLabelValues(cluster).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
