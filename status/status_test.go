package status_test

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nasa-jpl/heaterchar/heater"
	"github.com/nasa-jpl/heaterchar/heater/sim"
	"github.com/nasa-jpl/heaterchar/scpi"
	"github.com/nasa-jpl/heaterchar/status"
)

func get(t *testing.T, srv *httptest.Server, path string) []byte {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestStatusReflectsUpdates(t *testing.T) {
	m := status.New(nil)
	m.Reading(heater.Reading{Temperature: 101.5, Current: 2, Voltage: 12}, 12)
	m.Peak(101.5)
	m.Sample(heater.Sample{Temperature: 101.5, Resistance: 6})
	m.ParseError(&scpi.ParseError{Cmd: "READ?", Response: "junk"})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	var snap status.Snapshot
	if err := json.Unmarshal(get(t, srv, "/status"), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Reading.Temperature != 101.5 || snap.Setpoint != 12 || snap.Peak != 101.5 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if snap.Samples != 1 || snap.ParseErrors != 1 {
		t.Errorf("expected 1 sample and 1 parse error, got %+v", snap)
	}

	var samples []heater.Sample
	if err := json.Unmarshal(get(t, srv, "/samples"), &samples); err != nil {
		t.Fatal(err)
	}
	if len(samples) != 1 || samples[0].Resistance != 6 {
		t.Errorf("unexpected samples %v", samples)
	}
}

func TestMetricsExposition(t *testing.T) {
	m := status.New(nil)
	m.Reading(heater.Reading{Temperature: 50, Current: 1, Voltage: 4}, 4)
	m.ParseError(&scpi.ParseError{Cmd: "MEAS:CURR? CH1", Response: ""})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	body := string(get(t, srv, "/metrics"))
	for _, want := range []string{
		"heaterchar_temperature_celsius 50",
		"heaterchar_setpoint_volts 4",
		`heaterchar_parse_errors_total{cmd="MEAS:CURR? CH1"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestEndpointsListed(t *testing.T) {
	srv := httptest.NewServer(status.New(nil).Handler())
	defer srv.Close()
	var list []string
	if err := json.Unmarshal(get(t, srv, "/endpoints"), &list); err != nil {
		t.Fatal(err)
	}
	if strings.Join(list, " ") != "/samples /status /metrics" {
		t.Errorf("unexpected endpoints %v", list)
	}
}

func TestMonitorDuringSimulatedSweep(t *testing.T) {
	m := status.New(nil)
	h := sim.New(sim.DefaultParams(), nil)
	cfg := heater.DefaultConfig()
	cfg.Ceiling = 60
	s := heater.New(cfg, h.Thermometer(), h.Supply(), heater.WithClock(h.Clock()), heater.WithMonitor(m))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	stop, done := make(chan struct{}), make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			resp, err := http.Get(srv.URL + "/status")
			if err != nil {
				return
			}
			resp.Body.Close()
		}
	}()
	res, err := s.Run(context.Background())
	close(stop)
	<-done
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Samples(); len(got) != len(res.Samples) {
		t.Errorf("monitor saw %d samples, sweep recorded %d", len(got), len(res.Samples))
	}
	if m.Snapshot().Peak != s.Peak() {
		t.Errorf("monitor peak %v, sweep peak %v", m.Snapshot().Peak, s.Peak())
	}
}

func TestListenAndServeStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errC := make(chan error, 1)
	go func() {
		errC <- status.ListenAndServe(ctx, "127.0.0.1:0", status.New(nil).Handler())
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errC:
		if err != nil {
			t.Errorf("expected a clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestUnencodableStatusIsServerError(t *testing.T) {
	m := status.New(nil)
	m.Reading(heater.Reading{Temperature: 100, Current: math.NaN(), Voltage: 12}, 12)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "application/json") {
		t.Errorf("error reply should not claim JSON, got %q", ct)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "{") {
		t.Errorf("partial JSON leaked into the error body: %q", b)
	}
}
