package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/billyjbryant/mcp-foxxy-bridge/pkg/bridge"
)

type fakeSession struct {
	mu sync.Mutex

	startErr   error
	startCalls int

	pingErr    error
	refreshErr error

	stopped bool
}

func (f *fakeSession) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	return f.startErr
}

func (f *fakeSession) Stop(ctx context.Context, grace time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeSession) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshErr
}

func (f *fakeSession) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeSession) Name() string { return "demo" }

func testHealthCfg() bridge.HealthCheckConfig {
	cfg := bridge.DefaultHealthCheckConfig()
	cfg.Interval = 10 * time.Millisecond
	cfg.Timeout = 20 * time.Millisecond
	cfg.RestartDelay = time.Millisecond
	cfg.MaxConsecutiveFailures = 2
	return cfg
}

func TestSupervisor_RunReachesReady(t *testing.T) {
	fs := &fakeSession{}
	var gotStatus bridge.BackendStatus
	var mu sync.Mutex
	sup := New(fs, testHealthCfg(), func(backend string, status bridge.BackendStatus) {
		mu.Lock()
		gotStatus = status
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	deadline := time.After(time.Second)
	for {
		if sup.Status() == bridge.StatusReady {
			break
		}
		select {
		case <-deadline:
			t.Fatal("supervisor never reached Ready")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	<-done

	if sup.Status() != bridge.StatusStopped {
		t.Errorf("Status() after Run returns = %v, want Stopped", sup.Status())
	}
	mu.Lock()
	defer mu.Unlock()
	if gotStatus == "" {
		t.Error("onChange callback was never invoked")
	}
}

func TestSupervisor_StartFailureGoesToFailed(t *testing.T) {
	fs := &fakeSession{startErr: errors.New("spawn failed")}
	sup := New(fs, testHealthCfg(), nil)

	err := sup.Run(context.Background())
	if err == nil {
		t.Fatal("expected error from Run when Start fails")
	}
	if sup.Status() != bridge.StatusFailed {
		t.Errorf("Status() = %v, want Failed", sup.Status())
	}
}

func TestSupervisor_ProbeFailuresDegradeThenFail(t *testing.T) {
	fs := &fakeSession{refreshErr: errors.New("probe failed")}
	cfg := testHealthCfg()
	cfg.AutoRestart = false
	cfg.MaxConsecutiveFailures = 2

	var statuses []bridge.BackendStatus
	var mu sync.Mutex
	sup := New(fs, cfg, func(backend string, status bridge.BackendStatus) {
		mu.Lock()
		statuses = append(statuses, status)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = sup.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	var sawDegraded, sawFailed bool
	for _, s := range statuses {
		if s == bridge.StatusDegraded {
			sawDegraded = true
		}
		if s == bridge.StatusFailed {
			sawFailed = true
		}
	}
	if !sawDegraded {
		t.Error("expected a Degraded transition before Failed")
	}
	if !sawFailed {
		t.Error("expected a Failed transition after MaxConsecutiveFailures probes")
	}
}

func TestSupervisor_StopTransitionsToStopped(t *testing.T) {
	fs := &fakeSession{}
	sup := New(fs, testHealthCfg(), nil)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	deadline := time.After(time.Second)
	for sup.Status() != bridge.StatusReady {
		select {
		case <-deadline:
			t.Fatal("supervisor never reached Ready")
		case <-time.After(time.Millisecond):
		}
	}

	sup.Stop()
	sup.Wait()

	if sup.Status() != bridge.StatusStopped {
		t.Errorf("Status() = %v, want Stopped", sup.Status())
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.stopped {
		t.Error("session.Stop was never called")
	}
}
