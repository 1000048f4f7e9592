// Package virsh drives a libvirt domain through the virsh command line.
package virsh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"autoconsole/internal/tmux"
)

var ErrDomainNotFound = errors.New("domain not found")

// Exec runs a command and returns its combined output.
type Exec interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type DomainState string

const (
	StateRunning     DomainState = "running"
	StateBlocked     DomainState = "blocked"
	StatePaused      DomainState = "paused"
	StateShutdown    DomainState = "in shutdown"
	StateShutOff     DomainState = "shut off"
	StateCrashed     DomainState = "crashed"
	StateSuspended   DomainState = "pmsuspended"
	StateNoState     DomainState = "no state"
	StateUnavailable DomainState = ""
)

// Attachable reports whether a console can be opened in this state.
func (s DomainState) Attachable() bool {
	return s == StateRunning || s == StatePaused
}

func (s DomainState) String() string {
	if s == StateUnavailable {
		return "unavailable"
	}
	return string(s)
}

func ParseDomainState(out string) DomainState {
	for _, line := range strings.Split(out, "\n") {
		if line = strings.ToLower(strings.TrimSpace(line)); line != "" {
			return DomainState(line)
		}
	}
	return StateUnavailable
}

type Domain struct {
	URI  string
	Name string
	Exec Exec
}

func NewDomain(uri, name string, e Exec) *Domain {
	if e == nil {
		e = &tmux.RealExec{}
	}
	return &Domain{URI: strings.TrimSpace(uri), Name: strings.TrimSpace(name), Exec: e}
}

func (d *Domain) State(ctx context.Context) (DomainState, error) {
	out, err := d.virsh(ctx, "domstate", d.Name)
	if err != nil {
		return StateUnavailable, err
	}
	return ParseDomainState(out), nil
}

func (d *Domain) Start(ctx context.Context) error {
	_, err := d.virsh(ctx, "start", d.Name)
	return err
}

// EnsureRunning starts the domain when it is shut off, crashed or otherwise
// not attachable, and returns the state it ends up in.
func (d *Domain) EnsureRunning(ctx context.Context) (DomainState, error) {
	state, err := d.State(ctx)
	if err != nil {
		return state, err
	}
	if state.Attachable() {
		return state, nil
	}
	if err := d.Start(ctx); err != nil {
		return state, fmt.Errorf("start domain %s: %w", d.Name, err)
	}
	return d.State(ctx)
}

// Watch polls the domain state every interval and calls fn on every
// transition, starting from the first observed state. Lookup errors other
// than ErrDomainNotFound are treated as a transient unavailable state.
func (d *Domain) Watch(ctx context.Context, interval time.Duration, fn func(prev, next DomainState)) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev, seen := StateUnavailable, false
	for {
		next, err := d.State(ctx)
		if err != nil {
			if errors.Is(err, ErrDomainNotFound) {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			next = StateUnavailable
		}
		if !seen || next != prev {
			fn(prev, next)
			prev, seen = next, true
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// WaitAttachable polls until the domain is running or paused.
func (d *Domain) WaitAttachable(ctx context.Context, interval time.Duration) (DomainState, error) {
	if interval <= 0 {
		interval = time.Second
	}
	for {
		state, err := d.State(ctx)
		if err != nil && errors.Is(err, ErrDomainNotFound) {
			return state, err
		}
		if err == nil && state.Attachable() {
			return state, nil
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return state, ctx.Err()
		case <-timer.C:
		}
	}
}

func (d *Domain) virsh(ctx context.Context, args ...string) (string, error) {
	if d.Name == "" {
		return "", errors.New("domain name is required")
	}
	full := make([]string, 0, len(args)+2)
	if d.URI != "" {
		full = append(full, "-c", d.URI)
	}
	full = append(full, args...)
	out, err := d.Exec.Output(ctx, "virsh", full...)
	if err != nil {
		if strings.Contains(string(out), "failed to get domain") || strings.Contains(err.Error(), "failed to get domain") {
			return "", fmt.Errorf("%w: %s", ErrDomainNotFound, d.Name)
		}
		return "", fmt.Errorf("virsh %s: %w", args[0], err)
	}
	return string(out), nil
}
