package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultPort = 2112

// Measurements collects measurements for prometheus.
type Measurements struct {
	mux        sync.RWMutex
	registry   *prometheus.Registry
	histograms map[string]prometheus.Observer
	gauge      map[string]prometheus.Gauge
	counters   map[string]prometheus.Counter
}

// New creates Measurements with its own registry.
func New() *Measurements {
	return &Measurements{
		registry:   prometheus.NewRegistry(),
		histograms: make(map[string]prometheus.Observer),
		gauge:      make(map[string]prometheus.Gauge),
		counters:   make(map[string]prometheus.Counter),
	}
}

// CreateUpdateObservableHistogtram creates observable histogram if it doesn't exist yet.
func (m *Measurements) CreateUpdateObservableHistogtram(name, description string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if _, ok := m.histograms[name]; ok {
		return
	}
	m.histograms[name] = promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Name: name,
		Help: description,
	})
}

// RecordHistogramTime records histogram time in microseconds if entity with given name exists.
func (m *Measurements) RecordHistogramTime(name string, t time.Duration) bool {
	return m.RecordHistogramValue(name, float64(t.Microseconds()))
}

// RecordHistogramValue records histogram value if entity with given name exists.
func (m *Measurements) RecordHistogramValue(name string, f float64) bool {
	m.mux.RLock()
	defer m.mux.RUnlock()
	if v, ok := m.histograms[name]; ok {
		v.Observe(f)
		return true
	}
	return false
}

// CreateUpdateObservableGauge creates observable gauge if it doesn't exist yet.
func (m *Measurements) CreateUpdateObservableGauge(name, description string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if _, ok := m.gauge[name]; ok {
		return
	}
	m.gauge[name] = promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Name: name,
		Help: description,
	})
}

// IncrementGauge increments gauge if entity with given name exists.
func (m *Measurements) IncrementGauge(name string) bool {
	m.mux.RLock()
	defer m.mux.RUnlock()
	if v, ok := m.gauge[name]; ok {
		v.Inc()
		return true
	}
	return false
}

// DecrementGauge decrements gauge if entity with given name exists.
func (m *Measurements) DecrementGauge(name string) bool {
	m.mux.RLock()
	defer m.mux.RUnlock()
	if v, ok := m.gauge[name]; ok {
		v.Dec()
		return true
	}
	return false
}

// CreateUpdateObservableCounter creates counter if it doesn't exist yet.
func (m *Measurements) CreateUpdateObservableCounter(name, description string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if _, ok := m.counters[name]; ok {
		return
	}
	m.counters[name] = promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Name: name,
		Help: description,
	})
}

// IncrementCounter increments counter if entity with given name exists.
func (m *Measurements) IncrementCounter(name string) bool {
	m.mux.RLock()
	defer m.mux.RUnlock()
	if v, ok := m.counters[name]; ok {
		v.Inc()
		return true
	}
	return false
}

// Gather returns the current state of every metric.
func (m *Measurements) Gather() (map[string]float64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	values := make(map[string]float64, len(families))
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[f.GetName()] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[f.GetName()] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				values[f.GetName()] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return values, nil
}

// Run starts collecting metrics and server with prometheus telemetry endpoint.
// Returns Measurements structure if successfully started or cancels context otherwise.
// Default port of 2112 is used if port value is set to 0.
func Run(ctx context.Context, cancel context.CancelFunc, port int) (*Measurements, error) {
	if port > 65535 || port < 0 {
		return nil, fmt.Errorf("port range allowed is from 1 to 65535, received %d", port)
	}
	if port == 0 {
		port = defaultPort
	}
	m := New()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
		srv := http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				cancel()
			}
		}()

		<-ctx.Done()

		srv.Shutdown(context.Background())
	}()

	return m, nil
}
