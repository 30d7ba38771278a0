// Package metrics exposes Prometheus metrics and health endpoints.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hiddenprotocol/internal/bus"
	"hiddenprotocol/internal/domain"
)

// Message filter results.
const (
	MessageAccepted = "accepted"
	MessageIgnored  = "ignored"
)

// Collector owns a private registry so tests can build fresh instances.
type Collector struct {
	Registry *prometheus.Registry

	MessagesTotal     *prometheus.CounterVec
	DeliveriesTotal   *prometheus.CounterVec
	FailuresTotal     *prometheus.CounterVec
	EscalationsTotal  *prometheus.CounterVec
	ActiveDownloads   prometheus.Gauge
	DownloadDuration  prometheus.Histogram
	DownloadSizeBytes prometheus.Histogram

	startTime time.Time
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	c := &Collector{
		Registry: reg,
		MessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hp_messages_total",
			Help: "Inbound text messages by filter result.",
		}, []string{"result"}),
		DeliveriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hp_deliveries_total",
			Help: "Processed links by outcome and route.",
		}, []string{"outcome", "route"}),
		FailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hp_download_failures_total",
			Help: "Failed deliveries by classified category.",
		}, []string{"category"}),
		EscalationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hp_escalations_total",
			Help: "Log records mirrored to the live chat, by dispatch outcome.",
		}, []string{"outcome"}),
		ActiveDownloads: f.NewGauge(prometheus.GaugeOpts{
			Name: "hp_active_downloads",
			Help: "Downloads currently running.",
		}),
		DownloadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hp_download_duration_seconds",
			Help:    "Wall time of successful downloads.",
			Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
		}),
		DownloadSizeBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hp_download_size_bytes",
			Help:    "Size of downloaded files.",
			Buckets: prometheus.ExponentialBuckets(256*1024, 4, 8),
		}),
		startTime: time.Now(),
	}
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "hp_uptime_seconds",
		Help: "Time since start in seconds.",
	}, func() float64 { return c.Uptime().Seconds() })
	return c
}

func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// ObserveDelivery updates counters for one processed link.
func (c *Collector) ObserveDelivery(d domain.Delivery) {
	c.DeliveriesTotal.WithLabelValues(string(d.Outcome), string(d.RouteTag)).Inc()
	switch d.Outcome {
	case domain.OutcomeDelivered:
		c.DownloadDuration.Observe(d.Elapsed.Seconds())
		if d.Bytes > 0 {
			c.DownloadSizeBytes.Observe(float64(d.Bytes))
		}
	case domain.OutcomeFailed:
		category := d.Category
		if category == "" {
			category = domain.FailureUnknown
		}
		c.FailuresTotal.WithLabelValues(string(category)).Inc()
	}
}

// ObserveMessage counts one inbound text message by filter result.
func (c *Collector) ObserveMessage(result string) {
	c.MessagesTotal.WithLabelValues(result).Inc()
}

// TrackDownload marks a download as running; call the returned func when it ends.
func (c *Collector) TrackDownload() func() {
	c.ActiveDownloads.Inc()
	return c.ActiveDownloads.Dec
}

// Subscribe feeds delivery events from eb into the collector.
func (c *Collector) Subscribe(eb *bus.EventBus) {
	eb.On("*", func(e bus.Event) { c.ObserveDelivery(e.Delivery) })
}

// ObserveEscalation matches notify.DispatcherConfig.Observe.
func (c *Collector) ObserveEscalation(outcome string) {
	c.EscalationsTotal.WithLabelValues(outcome).Inc()
}

// Handler renders the registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})
}
