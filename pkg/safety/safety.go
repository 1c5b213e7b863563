// Package safety holds the daemon's shutdown state: what stopped the
// machine and when, a heartbeat watchdog for the foreground service loop,
// and the motion stoppers that run when a shutdown begins.
package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stepcore/pkg/config"
	"stepcore/pkg/errors"
	"stepcore/pkg/log"
)

// ShutdownState is the machine's operating state.
type ShutdownState int

const (
	StateRunning ShutdownState = iota
	StateShuttingDown
	// StateShutdown follows an orderly request.
	StateShutdown
	// StateError follows a fault.
	StateError
)

func (s ShutdownState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateShutdown:
		return "shutdown"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ShutdownReason names what stopped the machine.
type ShutdownReason string

const (
	ReasonNone            ShutdownReason = ""
	ReasonEmergencyStop   ShutdownReason = "emergency_stop"
	ReasonWatchdogTimeout ShutdownReason = "watchdog_timeout"
	ReasonHardware        ShutdownReason = "hardware_failure"
	ReasonEndstopAbort    ShutdownReason = "endstop_abort"
	ReasonUserRequest     ShutdownReason = "user_request"
)

// fault reports whether reason ends in StateError.
func (r ShutdownReason) fault() bool {
	return r != ReasonUserRequest
}

// MotionStopper halts motion and releases the drivers.
type MotionStopper interface {
	QuickStop()
	DisableAll()
}

// DefaultWatchdogTimeout is how long the service loop may go without a
// heartbeat.
const DefaultWatchdogTimeout = 2 * time.Second

// Config holds manager settings.
type Config struct {
	WatchdogTimeout time.Duration
	// CheckPeriod is how often the watchdog looks; a quarter of the
	// timeout when zero.
	CheckPeriod time.Duration
}

// ConfigFromSection reads `watchdog_timeout` (seconds) from a [safety]
// section.
func ConfigFromSection(sec *config.Section) (Config, error) {
	floor := 0.05
	secs, err := sec.GetFloatWithBounds("watchdog_timeout", config.FloatBounds{MinVal: &floor},
		DefaultWatchdogTimeout.Seconds())
	if err != nil {
		return Config{}, err
	}
	return Config{WatchdogTimeout: time.Duration(secs * float64(time.Second))}, nil
}

// Manager tracks the shutdown state.
type Manager struct {
	mu       sync.RWMutex
	state    ShutdownState
	reason   ShutdownReason
	msg      string
	when     time.Time
	stoppers []MotionStopper
	onChange []func(from, to ShutdownState)
	log      *log.Logger

	wdMu      sync.Mutex
	wdCancel  context.CancelFunc
	heartbeat time.Time
	timeout   time.Duration
	period    time.Duration
}

// New creates a running manager.
func New(cfg Config, logger *log.Logger) *Manager {
	if cfg.WatchdogTimeout <= 0 {
		cfg.WatchdogTimeout = DefaultWatchdogTimeout
	}
	if cfg.CheckPeriod <= 0 {
		cfg.CheckPeriod = cfg.WatchdogTimeout / 4
	}
	if logger == nil {
		logger = log.GetLogger("safety")
	}
	return &Manager{
		state:   StateRunning,
		timeout: cfg.WatchdogTimeout,
		period:  cfg.CheckPeriod,
		log:     logger,
	}
}

// Register adds a stopper run on every shutdown.
func (m *Manager) Register(s MotionStopper) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stoppers = append(m.stoppers, s)
}

// OnStateChange registers a callback for state transitions.
func (m *Manager) OnStateChange(fn func(from, to ShutdownState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// State returns the current state.
func (m *Manager) State() ShutdownState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Operational reports whether motion may be queued.
func (m *Manager) Operational() bool {
	return m.State() == StateRunning
}

// CheckOperational returns a SHUTDOWN error unless the machine is running.
func (m *Manager) CheckOperational() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateRunning {
		return errors.New(errors.ErrShutdown, fmt.Sprintf("%s: %s", m.reason, m.msg))
	}
	return nil
}

// EmergencyStop halts motion at once.
func (m *Manager) EmergencyStop(msg string) { m.Shutdown(ReasonEmergencyStop, msg) }

// HardwareFailure stops after the pin backend reported errors.
func (m *Manager) HardwareFailure(err error) {
	m.Shutdown(ReasonHardware, err.Error())
}

// Shutdown runs every stopper and moves to StateShutdown or StateError.
// Only the first shutdown after a Reset has any effect.
func (m *Manager) Shutdown(reason ShutdownReason, msg string) {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return
	}
	old := m.state
	m.state = StateShuttingDown
	m.reason, m.msg, m.when = reason, msg, time.Now()
	stoppers := append([]MotionStopper{}, m.stoppers...)
	m.mu.Unlock()

	m.StopWatchdog()
	for _, s := range stoppers {
		s.QuickStop()
		s.DisableAll()
	}

	final := StateShutdown
	if reason.fault() {
		final = StateError
	}
	m.mu.Lock()
	m.state = final
	callbacks := append([]func(from, to ShutdownState){}, m.onChange...)
	m.mu.Unlock()

	m.log.WithFields(log.Fields{"reason": string(reason), "state": final.String()}).Error("shutdown: " + msg)
	for _, fn := range callbacks {
		fn(old, final)
	}
}

// StartWatchdog begins checking heartbeats. The first deadline is one
// timeout from now.
func (m *Manager) StartWatchdog() {
	m.wdMu.Lock()
	defer m.wdMu.Unlock()
	if m.wdCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.wdCancel = cancel
	m.heartbeat = time.Now()
	go m.watch(ctx)
}

// StopWatchdog stops checking.
func (m *Manager) StopWatchdog() {
	m.wdMu.Lock()
	defer m.wdMu.Unlock()
	if m.wdCancel != nil {
		m.wdCancel()
		m.wdCancel = nil
	}
}

// Heartbeat records that the service loop is alive.
func (m *Manager) Heartbeat() {
	m.wdMu.Lock()
	m.heartbeat = time.Now()
	m.wdMu.Unlock()
}

func (m *Manager) watch(ctx context.Context) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.wdMu.Lock()
			late := time.Since(m.heartbeat)
			m.wdMu.Unlock()
			if late > m.timeout {
				m.Shutdown(ReasonWatchdogTimeout, fmt.Sprintf("no heartbeat for %v", late.Round(time.Millisecond)))
				return
			}
		}
	}
}

// Reset returns a stopped machine to StateRunning.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateRunning || m.state == StateShuttingDown {
		return errors.New(errors.ErrShutdown, "reset needs a stopped machine, state is "+m.state.String())
	}
	m.state = StateRunning
	m.reason, m.msg, m.when = ReasonNone, "", time.Time{}
	return nil
}

// Status returns a JSON-friendly description of the state.
func (m *Manager) Status() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := map[string]interface{}{
		"state":       m.state.String(),
		"operational": m.state == StateRunning,
	}
	if m.reason != ReasonNone {
		st["reason"] = string(m.reason)
		st["message"] = m.msg
		st["since"] = m.when.Format(time.RFC3339)
	}
	return st
}
