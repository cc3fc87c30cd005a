// Package metrics exposes Prometheus collectors for stores, switches and sends.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/ajramos/quickreply/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quickreply"

// Collector owns a private registry. All methods are safe on a nil receiver,
// which disables metrics.
type Collector struct {
	registry *prometheus.Registry

	StoreOps          *prometheus.CounterVec
	StoreOpDuration   *prometheus.HistogramVec
	Switches          *prometheus.CounterVec
	SwitchDuration    prometheus.Histogram
	TemplatesSent     *prometheus.CounterVec
	Translations      *prometheus.CounterVec
	ActiveControllers prometheus.Gauge
}

// New creates a collector registered on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		StoreOps: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Store operations by kind, operation and result",
			},
			[]string{"kind", "op", "result"},
		),
		StoreOpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_duration_seconds",
				Help:      "Duration of store operations including lock wait",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
			[]string{"kind", "op"},
		),
		Switches: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "account_switches_total",
				Help:      "Account switches by result",
			},
			[]string{"result"},
		),
		SwitchDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "account_switch_duration_seconds",
				Help:      "Duration of account switches",
			},
		),
		TemplatesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "templates_sent_total",
				Help:      "Template deliveries by content kind, action and result",
			},
			[]string{"kind", "action", "result"},
		),
		Translations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "translations_total",
				Help:      "Translation requests by provider and source (cache, provider, error)",
			},
			[]string{"provider", "source"},
		),
		ActiveControllers: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_controllers",
				Help:      "Controllers currently open in the registry",
			},
		),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveStoreOp implements store.Observer.
func (c *Collector) ObserveStoreOp(kind store.Kind, op string, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	c.StoreOps.WithLabelValues(string(kind), op, storeResult(err)).Inc()
	c.StoreOpDuration.WithLabelValues(string(kind), op).Observe(elapsed.Seconds())
}

// ObserveSwitch records a finished account switch.
func (c *Collector) ObserveSwitch(elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	c.Switches.WithLabelValues(result(err)).Inc()
	c.SwitchDuration.Observe(elapsed.Seconds())
}

// ObserveSend records a template send or insert.
func (c *Collector) ObserveSend(kind, action string, err error) {
	if c == nil {
		return
	}
	c.TemplatesSent.WithLabelValues(kind, action, result(err)).Inc()
}

// ObserveTranslation records where a translation came from.
func (c *Collector) ObserveTranslation(provider, source string) {
	if c == nil {
		return
	}
	c.Translations.WithLabelValues(provider, source).Inc()
}

// SetActiveControllers sets the open controller gauge.
func (c *Collector) SetActiveControllers(n int) {
	if c == nil {
		return
	}
	c.ActiveControllers.Set(float64(n))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func storeResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, store.ErrStorage):
		return "storage_error"
	default:
		return "error"
	}
}

var _ store.Observer = (*Collector)(nil)
