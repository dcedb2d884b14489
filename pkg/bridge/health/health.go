// Package health implements the Health Supervisor: the per-backend state
// machine that tracks liveness, runs periodic probes, and drives restarts
// with backoff, per SPEC_FULL.md §4.2.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/billyjbryant/mcp-foxxy-bridge/internal/bridgeerr"
	"github.com/billyjbryant/mcp-foxxy-bridge/internal/bridgelog"
	"github.com/billyjbryant/mcp-foxxy-bridge/internal/bridgemetrics"
	"github.com/billyjbryant/mcp-foxxy-bridge/pkg/bridge"
)

// backendSession is the subset of *session.Session the Supervisor depends
// on. Declaring it locally (rather than importing the concrete type)
// keeps this package testable with a fake and avoids a dependency cycle.
type backendSession interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context, grace time.Duration) error
	Refresh(ctx context.Context) error
	Ping(ctx context.Context) error
	Name() string
}

// StatusChangeFunc is invoked whenever a backend transitions between
// states, per spec §4.2/§4.3 (the Registry subscribes to this to trigger
// catalog rebuilds).
type StatusChangeFunc func(backend string, status bridge.BackendStatus)

// Supervisor owns the lifecycle state machine for one backend: Disabled ->
// Starting -> Ready <-> Degraded -> Failed -> Stopping -> Stopped, per
// spec §4.2.
type Supervisor struct {
	session  backendSession
	cfg      bridge.HealthCheckConfig
	onChange StatusChangeFunc

	mu                  sync.Mutex
	status              bridge.BackendStatus
	consecutiveFailures int
	restartAttempts     int

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Supervisor for the given session. onChange may be nil.
func New(sess backendSession, cfg bridge.HealthCheckConfig, onChange StatusChangeFunc) *Supervisor {
	return &Supervisor{
		session:  sess,
		cfg:      cfg,
		onChange: onChange,
		status:   bridge.StatusDisabled,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Status returns the current state.
func (s *Supervisor) Status() bridge.BackendStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Supervisor) setStatus(status bridge.BackendStatus) {
	s.mu.Lock()
	changed := s.status != status
	s.status = status
	s.mu.Unlock()
	bridgemetrics.SetBackendReady(s.session.Name(), status == bridge.StatusReady)
	if changed {
		bridgelog.Infow("backend status changed", "backend", s.session.Name(), "status", string(status))
		if s.onChange != nil {
			s.onChange(s.session.Name(), status)
		}
	}
}

// Run starts the backend and, if healthChecking is enabled, runs the probe
// loop until ctx is cancelled or Stop is called. Run blocks until the
// supervised backend is fully torn down.
func (s *Supervisor) Run(ctx context.Context) error {
	defer close(s.doneCh)

	s.setStatus(bridge.StatusStarting)
	if err := s.startWithRetry(ctx); err != nil {
		s.setStatus(bridge.StatusFailed)
		return err
	}
	s.setStatus(bridge.StatusReady)

	if !s.cfg.Enabled {
		<-mergeDone(ctx.Done(), s.stopCh)
		return s.shutdown(ctx)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.shutdown(ctx)
		case <-s.stopCh:
			return s.shutdown(ctx)
		case <-ticker.C:
			s.probeOnce(ctx)
		}
	}
}

func mergeDone(a, b <-chan struct{}) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		defer close(out)
		select {
		case <-a:
		case <-b:
		}
	}()
	return out
}

// Stop requests the probe loop to end and the backend to be torn down; it
// does not block until shutdown completes (use Wait for that).
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.status = bridge.StatusStopping
	s.mu.Unlock()
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// Wait blocks until Run has returned.
func (s *Supervisor) Wait() { <-s.doneCh }

func (s *Supervisor) shutdown(ctx context.Context) error {
	s.setStatus(bridge.StatusStopping)
	err := s.session.Stop(ctx, s.cfg.Timeout+5*time.Second)
	s.setStatus(bridge.StatusStopped)
	return err
}

// startWithRetry calls Session.Start once. It makes no retry: the
// backend's RetryAttempts/RetryDelay settings are not consulted here, and
// a failed first start is returned to Run as is.
func (s *Supervisor) startWithRetry(ctx context.Context) error {
	return s.session.Start(ctx)
}

// probeOnce issues one liveness probe and advances the state machine,
// per spec §4.2: failures below MaxConsecutiveFailures (3 by default)
// move the backend to Degraded, reaching that count moves it to Failed,
// and a single success from any non-Ready state restores Ready.
func (s *Supervisor) probeOnce(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	err := s.runProbe(pctx)
	if err == nil {
		s.mu.Lock()
		s.consecutiveFailures = 0
		s.restartAttempts = 0
		s.mu.Unlock()
		s.setStatus(bridge.StatusReady)
		return
	}

	s.mu.Lock()
	s.consecutiveFailures++
	failures := s.consecutiveFailures
	s.mu.Unlock()

	bridgelog.Warnw("backend probe failed", "backend", s.session.Name(), "error", err, "consecutive_failures", failures)

	if failures >= s.cfg.MaxConsecutiveFailures {
		s.setStatus(bridge.StatusFailed)
		if s.cfg.AutoRestart {
			s.restartWithBackoff(ctx)
		}
		return
	}
	s.setStatus(bridge.StatusDegraded)
}

// runProbe executes the configured probe operation, per spec §3.
func (s *Supervisor) runProbe(ctx context.Context) error {
	switch s.cfg.Probe {
	case bridge.ProbePing:
		return s.session.Ping(ctx)
	case bridge.ProbeListTools, bridge.ProbeListResources, bridge.ProbeReadResource, bridge.ProbeCallTool:
		// All discovery-shaped probes reuse the catalog refresh path: a
		// successful refresh both proves liveness and keeps the snapshot
		// current, per spec §4.1.
		return s.session.Refresh(ctx)
	default:
		return s.session.Ping(ctx)
	}
}

// restartWithBackoff restarts the backend's subprocess using an
// exponential backoff with +/-20% jitter, capped at 30s, per spec §4.2.
// MaxRestartAttempts of 0 means unbounded retries.
func (s *Supervisor) restartWithBackoff(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2

	for {
		s.mu.Lock()
		s.restartAttempts++
		attempt := s.restartAttempts
		maxAttempts := s.cfg.MaxRestartAttempts
		s.mu.Unlock()

		if maxAttempts > 0 && attempt > maxAttempts {
			bridgelog.Errorw("backend exceeded max restart attempts, giving up", "backend", s.session.Name(), "attempts", attempt)
			return
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-time.After(delay):
		}

		_ = s.session.Stop(ctx, s.cfg.RestartDelay+time.Second)
		time.Sleep(s.cfg.RestartDelay)

		sctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		err := s.session.Start(sctx)
		cancel()
		if err == nil {
			s.mu.Lock()
			s.consecutiveFailures = 0
			s.restartAttempts = 0
			s.mu.Unlock()
			bridgemetrics.BackendRestartsTotal.WithLabelValues(s.session.Name()).Inc()
			s.setStatus(bridge.StatusReady)
			return
		}

		bridgelog.Warnw("backend restart attempt failed", "backend", s.session.Name(), "attempt", attempt, "error", err)
		if ctx.Err() != nil {
			return
		}
	}
}

// Err wraps a probe failure in the backend-unavailable taxonomy, used by
// callers that surface Supervisor errors over JSON-RPC.
func Err(backend string, cause error) error {
	return bridgeerr.NewBackendUnavailableError("backend "+backend+" is not ready", cause)
}
