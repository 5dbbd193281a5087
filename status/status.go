/*Package status exposes the progress of a running sweep over HTTP.

A Monitor is handed to the sweep as its heater.Monitor and keeps the latest
reading, the running peak and the samples recorded so far.  Handler serves
them as JSON alongside Prometheus metrics:

	GET /status     latest Snapshot
	GET /samples    samples recorded so far
	GET /metrics    Prometheus exposition
	GET /endpoints  list of the above
*/
package status

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nasa-jpl/heaterchar/heater"
	"github.com/nasa-jpl/heaterchar/scpi"
	"github.com/nasa-jpl/heaterchar/temperature"
)

const namespace = "heaterchar"

// Snapshot is the state of the sweep at the last update
type Snapshot struct {
	Reading     heater.Reading      `json:"reading"`
	Setpoint    float64             `json:"setpoint"`
	Peak        temperature.Celsius `json:"peak"`
	Samples     int                 `json:"samples"`
	ParseErrors int                 `json:"parseErrors"`
	Updated     time.Time           `json:"updated"`
}

// Monitor implements heater.Monitor.  It is safe for concurrent use, the sweep
// updates it while HTTP handlers read it.
type Monitor struct {
	mu      sync.RWMutex
	snap    Snapshot
	samples []heater.Sample

	reg         *prometheus.Registry
	temp        prometheus.Gauge
	current     prometheus.Gauge
	voltage     prometheus.Gauge
	setpoint    prometheus.Gauge
	peak        prometheus.Gauge
	resistance  prometheus.Gauge
	sampleCount prometheus.Counter
	parseErrors *prometheus.CounterVec
}

// New creates a Monitor registering its metrics on reg.  A nil reg gets a
// fresh registry so several monitors may coexist, e.g. in tests.
func New(reg *prometheus.Registry) *Monitor {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	m := &Monitor{
		reg:        reg,
		temp:       gauge("temperature_celsius", "Temperature of the element at the last poll."),
		current:    gauge("current_amps", "Supply current at the last poll."),
		voltage:    gauge("voltage_volts", "Supply voltage at the last poll."),
		setpoint:   gauge("setpoint_volts", "Voltage setpoint of the rate governor."),
		peak:       gauge("peak_temperature_celsius", "Highest settled temperature of the sweep."),
		resistance: gauge("resistance_ohms", "Resistance of the last recorded sample."),
		sampleCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Resistance samples recorded.",
		}),
		parseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Malformed instrument replies read as zero, by command.",
		}, []string{"cmd"}),
	}
	reg.MustRegister(m.temp, m.current, m.voltage, m.setpoint, m.peak,
		m.resistance, m.sampleCount, m.parseErrors)
	return m
}

// Reading records a poll taken while heating
func (m *Monitor) Reading(r heater.Reading, setpoint float64) {
	m.mu.Lock()
	m.snap.Reading = r
	m.snap.Setpoint = setpoint
	m.snap.Updated = time.Now()
	m.mu.Unlock()

	m.temp.Set(float64(r.Temperature))
	m.current.Set(r.Current)
	m.voltage.Set(r.Voltage)
	m.setpoint.Set(setpoint)
}

// Peak records a new running peak
func (m *Monitor) Peak(t temperature.Celsius) {
	m.mu.Lock()
	m.snap.Peak = t
	m.snap.Updated = time.Now()
	m.mu.Unlock()
	m.peak.Set(float64(t))
}

// Sample records a resistance sample
func (m *Monitor) Sample(s heater.Sample) {
	m.mu.Lock()
	m.samples = append(m.samples, s)
	m.snap.Samples = len(m.samples)
	m.snap.Updated = time.Now()
	m.mu.Unlock()
	m.sampleCount.Inc()
	m.resistance.Set(s.Resistance)
}

// ParseError counts a malformed reply
func (m *Monitor) ParseError(err *scpi.ParseError) {
	m.mu.Lock()
	m.snap.ParseErrors++
	m.mu.Unlock()
	m.parseErrors.WithLabelValues(err.Cmd).Inc()
}

// Snapshot returns the current state
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// Samples returns a copy of the samples recorded so far
func (m *Monitor) Samples() []heater.Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]heater.Sample, len(m.samples))
	copy(out, m.samples)
	return out
}

// RouteTable maps URL endpoints to handlers
type RouteTable map[string]http.HandlerFunc

// Endpoints lists the endpoints in a RouteTable, sorted
func (rt RouteTable) Endpoints() []string {
	routes := make([]string, 0, len(rt))
	for k := range rt {
		routes = append(routes, k)
	}
	sort.Strings(routes)
	return routes
}

// Bind binds every route as a GET on r
func (rt RouteTable) Bind(r chi.Router) {
	for str, meth := range rt {
		r.Get(str, meth)
	}
}

// RT returns the JSON routes of the monitor
func (m *Monitor) RT() RouteTable {
	return RouteTable{
		"/status": func(w http.ResponseWriter, r *http.Request) {
			respond(w, m.Snapshot())
		},
		"/samples": func(w http.ResponseWriter, r *http.Request) {
			respond(w, m.Samples())
		},
	}
}

// Handler returns the router serving the monitor and its metrics
func (m *Monitor) Handler() http.Handler {
	root := chi.NewRouter()
	root.Use(middleware.Recoverer)
	rt := m.RT()
	rt.Bind(root)
	root.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	endpoints := append(rt.Endpoints(), "/metrics")
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		respond(w, endpoints)
	})
	return root
}

// respond encodes v before anything is written so a failure can still be
// reported as a 500
func respond(w http.ResponseWriter, v interface{}) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

// ListenAndServe serves h on addr until ctx is done, then shuts the server
// down gracefully
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: middleware.Logger(h)}

	errC := make(chan error, 1)
	go func() {
		errC <- srv.ListenAndServe()
	}()
	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errC; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
