package session

import (
	"errors"
	"testing"
	"time"

	"github.com/fragship/fragship/internal/domain"
	"github.com/fragship/fragship/pkg/log"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateStopped, "Stopped"},
		{StateStarting, "Starting"},
		{StateRunning, "Running"},
		{StateStopping, "Stopping"},
		{StateCrashed, "Crashed"},
		{State(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestLifecycle_ValidTransitions(t *testing.T) {
	l := NewLifecycle(log.NewNoopLogger(), nil)

	transitions := []State{StateStarting, StateRunning, StateStopping, StateStopped}
	for _, next := range transitions {
		if err := l.TransitionTo(next, "test"); err != nil {
			t.Fatalf("TransitionTo(%v) from %v: %v", next, l.State(), err)
		}
	}
	if l.State() != StateStopped {
		t.Errorf("final state = %v, want Stopped", l.State())
	}
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
	}{
		{"stopped to running", StateStopped, StateRunning},
		{"stopped to stopping", StateStopped, StateStopping},
		{"running to starting", StateRunning, StateStarting},
		{"running to stopped", StateRunning, StateStopped},
		{"stopping to running", StateStopping, StateRunning},
		{"crashed to running", StateCrashed, StateRunning},
	}
	for _, tt := range tests {
		l := NewLifecycle(log.NewNoopLogger(), nil)
		l.state = tt.from
		if err := l.TransitionTo(tt.to, "test"); err == nil {
			t.Errorf("%s: transition allowed", tt.name)
		}
		if l.State() != tt.from {
			t.Errorf("%s: state mutated to %v on rejected transition", tt.name, l.State())
		}
	}
}

func TestLifecycle_StartingCanAbort(t *testing.T) {
	l := NewLifecycle(log.NewNoopLogger(), nil)
	if err := l.TransitionTo(StateStarting, "test"); err != nil {
		t.Fatal(err)
	}
	if err := l.TransitionTo(StateStopping, "aborted"); err != nil {
		t.Errorf("Starting -> Stopping rejected: %v", err)
	}
}

func TestLifecycle_CrashedCanRestart(t *testing.T) {
	l := NewLifecycle(log.NewNoopLogger(), nil)
	l.state = StateCrashed
	if !l.CanStart() {
		t.Error("CanStart from Crashed = false")
	}
	if err := l.TransitionTo(StateStarting, "restart"); err != nil {
		t.Errorf("Crashed -> Starting rejected: %v", err)
	}
}

func TestLifecycle_CanStartCanStop(t *testing.T) {
	tests := []struct {
		state    State
		canStart bool
		canStop  bool
	}{
		{StateStopped, true, false},
		{StateStarting, false, true},
		{StateRunning, false, true},
		{StateStopping, false, false},
		{StateCrashed, true, false},
	}
	for _, tt := range tests {
		l := NewLifecycle(log.NewNoopLogger(), nil)
		l.state = tt.state
		if got := l.CanStart(); got != tt.canStart {
			t.Errorf("%v: CanStart = %v, want %v", tt.state, got, tt.canStart)
		}
		if got := l.CanStop(); got != tt.canStop {
			t.Errorf("%v: CanStop = %v, want %v", tt.state, got, tt.canStop)
		}
	}
}

type stateRecorder struct {
	changes []string
}

func (r *stateRecorder) OnStateChange(previous, current State, reason string) {
	r.changes = append(r.changes, previous.String()+">"+current.String())
}

func TestLifecycle_EmitsStateChanges(t *testing.T) {
	rec := &stateRecorder{}
	l := NewLifecycle(log.NewNoopLogger(), rec)

	if err := l.TransitionTo(StateStarting, "test"); err != nil {
		t.Fatal(err)
	}
	if err := l.TransitionTo(StateRunning, "test"); err != nil {
		t.Fatal(err)
	}

	if len(rec.changes) != 2 {
		t.Fatalf("emitted %d changes, want 2", len(rec.changes))
	}
	if rec.changes[0] != "Stopped>Starting" || rec.changes[1] != "Starting>Running" {
		t.Errorf("changes = %v", rec.changes)
	}
}

func TestLifecycle_WaitWithTimeout(t *testing.T) {
	l := NewLifecycle(log.NewNoopLogger(), nil)

	l.AddWorker()
	go func() {
		time.Sleep(10 * time.Millisecond)
		l.WorkerDone()
	}()
	if err := l.WaitWithTimeout(time.Second); err != nil {
		t.Errorf("WaitWithTimeout = %v, want nil", err)
	}

	l.AddWorker()
	defer l.WorkerDone()
	if err := l.WaitWithTimeout(10 * time.Millisecond); !errors.Is(err, domain.ErrShutdownTimeout) {
		t.Errorf("WaitWithTimeout with stuck worker = %v, want ErrShutdownTimeout", err)
	}
}
