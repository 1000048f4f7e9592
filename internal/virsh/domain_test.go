package virsh

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type FakeExec struct {
	mu     sync.Mutex
	states []string
	start  error
	calls  []string
}

func (f *FakeExec) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, call)
	switch {
	case strings.Contains(call, " start "):
		return nil, f.start
	case strings.Contains(call, " domstate "):
		if len(f.states) == 0 {
			return []byte("running\n\n"), nil
		}
		next := f.states[0]
		if len(f.states) > 1 {
			f.states = f.states[1:]
		}
		if strings.HasPrefix(next, "error:") {
			return []byte(next), errors.New("exit status 1")
		}
		return []byte(next + "\n\n"), nil
	}
	return nil, errors.New("unexpected call: " + call)
}

func (f *FakeExec) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func TestParseDomainState(t *testing.T) {
	cases := map[string]DomainState{
		"running\n\n":   StateRunning,
		"shut off\n":    StateShutOff,
		"  Paused \n":   StatePaused,
		"in shutdown":   StateShutdown,
		"":              StateUnavailable,
		"\n\n":          StateUnavailable,
		"pmsuspended\n": StateSuspended,
	}
	for in, want := range cases {
		if got := ParseDomainState(in); got != want {
			t.Fatalf("ParseDomainState(%q) = %q, want %q", in, got, want)
		}
	}
	if !StateRunning.Attachable() || !StatePaused.Attachable() || StateShutOff.Attachable() || StateCrashed.Attachable() {
		t.Fatal("only running and paused domains are attachable")
	}
}

func TestDomain_StateUsesURI(t *testing.T) {
	ex := &FakeExec{states: []string{"paused"}}
	d := NewDomain("qemu:///system", "robin", ex)
	state, err := d.State(context.Background())
	if err != nil || state != StatePaused {
		t.Fatalf("unexpected state %q err=%v", state, err)
	}
	if got := ex.Calls()[0]; got != "virsh -c qemu:///system domstate robin" {
		t.Fatalf("unexpected call: %s", got)
	}
}

func TestDomain_NotFound(t *testing.T) {
	ex := &FakeExec{states: []string{"error: failed to get domain 'robin'"}}
	d := NewDomain("", "robin", ex)
	if _, err := d.State(context.Background()); !errors.Is(err, ErrDomainNotFound) {
		t.Fatalf("expected ErrDomainNotFound, got %v", err)
	}
}

func TestDomain_EnsureRunningStartsShutOffDomain(t *testing.T) {
	ex := &FakeExec{states: []string{"shut off", "running"}}
	d := NewDomain("", "robin", ex)
	state, err := d.EnsureRunning(context.Background())
	if err != nil || state != StateRunning {
		t.Fatalf("unexpected state %q err=%v", state, err)
	}
	calls := ex.Calls()
	if len(calls) != 3 || calls[1] != "virsh start robin" {
		t.Fatalf("expected domstate, start, domstate; got %v", calls)
	}
}

func TestDomain_EnsureRunningLeavesRunningDomain(t *testing.T) {
	ex := &FakeExec{states: []string{"running"}}
	d := NewDomain("", "robin", ex)
	if _, err := d.EnsureRunning(context.Background()); err != nil {
		t.Fatalf("EnsureRunning failed: %v", err)
	}
	for _, c := range ex.Calls() {
		if strings.Contains(c, " start ") {
			t.Fatalf("running domain should not be started: %v", ex.Calls())
		}
	}
}

func TestDomain_EnsureRunningStartFailure(t *testing.T) {
	ex := &FakeExec{states: []string{"shut off"}, start: errors.New("exit status 1")}
	d := NewDomain("", "robin", ex)
	if _, err := d.EnsureRunning(context.Background()); err == nil || !strings.Contains(err.Error(), "start domain robin") {
		t.Fatalf("expected wrapped start error, got %v", err)
	}
}

func TestDomain_WatchReportsTransitions(t *testing.T) {
	ex := &FakeExec{states: []string{"running", "running", "shut off", "shut off", "running"}}
	d := NewDomain("", "robin", ex)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []string
	err := d.Watch(ctx, time.Millisecond, func(prev, next DomainState) {
		got = append(got, prev.String()+">"+next.String())
		if len(got) == 3 {
			cancel()
		}
	})
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	want := []string{"unavailable>running", "running>shut off", "shut off>running"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected transitions: %v", got)
	}
}

func TestDomain_WaitAttachable(t *testing.T) {
	ex := &FakeExec{states: []string{"shut off", "shut off", "paused"}}
	d := NewDomain("", "robin", ex)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	state, err := d.WaitAttachable(ctx, time.Millisecond)
	if err != nil || state != StatePaused {
		t.Fatalf("unexpected state %q err=%v", state, err)
	}
}

func TestDomain_WaitAttachableCancelled(t *testing.T) {
	ex := &FakeExec{states: []string{"shut off"}}
	d := NewDomain("", "robin", ex)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := d.WaitAttachable(ctx, time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}
