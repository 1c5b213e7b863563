package safety

import (
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"stepcore/pkg/config"
	"stepcore/pkg/errors"
	"stepcore/pkg/log"
)

type fakeStopper struct {
	stops, disables atomic.Int32
}

func (f *fakeStopper) QuickStop()  { f.stops.Add(1) }
func (f *fakeStopper) DisableAll() { f.disables.Add(1) }

func quietLogger() *log.Logger {
	l := log.New("safety")
	l.SetWriter(io.Discard)
	return l
}

func newManager(cfg Config) (*Manager, *fakeStopper) {
	m := New(cfg, quietLogger())
	s := &fakeStopper{}
	m.Register(s)
	return m, s
}

func TestShutdownStopsOnce(t *testing.T) {
	m, s := newManager(Config{})
	var transitions []ShutdownState
	m.OnStateChange(func(_, n ShutdownState) { transitions = append(transitions, n) })

	if err := m.CheckOperational(); err != nil {
		t.Fatalf("fresh manager not operational: %v", err)
	}
	m.EmergencyStop("button")
	m.HardwareFailure(errors.New(errors.ErrHardware, "gpio"))

	if s.stops.Load() != 1 || s.disables.Load() != 1 {
		t.Errorf("stopper ran %d/%d times, want once", s.stops.Load(), s.disables.Load())
	}
	if diff := cmp.Diff([]ShutdownState{StateError}, transitions); diff != "" {
		t.Errorf("transitions (-want +got):\n%s", diff)
	}
	err := m.CheckOperational()
	if !errors.Is(err, errors.ErrShutdown) {
		t.Errorf("CheckOperational() = %v, want SHUTDOWN", err)
	}
	st := m.Status()
	if st["reason"] != "emergency_stop" || st["message"] != "button" || st["operational"] != false {
		t.Errorf("Status() = %v", st)
	}
}

func TestUserRequestIsOrderly(t *testing.T) {
	m, _ := newManager(Config{})
	m.Shutdown(ReasonUserRequest, "done")
	if m.State() != StateShutdown {
		t.Errorf("State() = %v, want shutdown", m.State())
	}
}

func TestReset(t *testing.T) {
	m, s := newManager(Config{})
	if err := m.Reset(); !errors.Is(err, errors.ErrShutdown) {
		t.Errorf("Reset() while running = %v", err)
	}
	m.Shutdown(ReasonEndstopAbort, "x hit")
	if err := m.Reset(); err != nil {
		t.Fatalf("Reset() = %v", err)
	}
	if !m.Operational() {
		t.Error("not operational after reset")
	}
	if diff := cmp.Diff(map[string]interface{}{"state": "running", "operational": true}, m.Status()); diff != "" {
		t.Errorf("Status() after reset (-want +got):\n%s", diff)
	}
	m.EmergencyStop("again")
	if s.stops.Load() != 2 {
		t.Errorf("stops = %d after a second shutdown", s.stops.Load())
	}
}

func TestWatchdogFires(t *testing.T) {
	m, s := newManager(Config{WatchdogTimeout: 30 * time.Millisecond, CheckPeriod: 5 * time.Millisecond})
	fired := make(chan ShutdownState, 1)
	m.OnStateChange(func(_, n ShutdownState) { fired <- n })
	m.StartWatchdog()
	select {
	case st := <-fired:
		if st != StateError {
			t.Errorf("state = %v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog never fired")
	}
	if m.Status()["reason"] != string(ReasonWatchdogTimeout) || s.stops.Load() != 1 {
		t.Errorf("status %v, stops %d", m.Status(), s.stops.Load())
	}
}

func TestHeartbeatKeepsRunning(t *testing.T) {
	m, _ := newManager(Config{WatchdogTimeout: 50 * time.Millisecond, CheckPeriod: 5 * time.Millisecond})
	m.StartWatchdog()
	defer m.StopWatchdog()
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		m.Heartbeat()
		time.Sleep(5 * time.Millisecond)
	}
	if !m.Operational() {
		t.Errorf("shut down despite heartbeats: %v", m.Status())
	}
}

func TestConfigFromSection(t *testing.T) {
	cfg, err := config.LoadString("[safety]\nwatchdog_timeout: 0.5\n[empty]\n")
	if err != nil {
		t.Fatal(err)
	}
	sec, _ := cfg.GetSection("safety")
	got, err := ConfigFromSection(sec)
	if err != nil || got.WatchdogTimeout != 500*time.Millisecond {
		t.Errorf("ConfigFromSection() = %+v, %v", got, err)
	}
	empty, _ := cfg.GetSection("empty")
	if got, _ := ConfigFromSection(empty); got.WatchdogTimeout != DefaultWatchdogTimeout {
		t.Errorf("default timeout = %v", got.WatchdogTimeout)
	}
	bad, _ := config.LoadString("[safety]\nwatchdog_timeout: 0.001\n")
	sec, _ = bad.GetSection("safety")
	if _, err := ConfigFromSection(sec); !errors.IsConfig(err) {
		t.Errorf("tiny timeout accepted: %v", err)
	}
}
