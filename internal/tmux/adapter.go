package tmux

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Adapter drives the tmux server that hosts console sessions.
type Adapter struct {
	exec       Exec
	tmuxSocket string
}

// NewAdapter builds tmux commands against the named socket (-L). An empty
// socket uses the default server.
func NewAdapter(e Exec, socket string) *Adapter {
	return &Adapter{exec: e, tmuxSocket: strings.TrimSpace(socket)}
}

func (a *Adapter) SocketName() string {
	if a == nil {
		return ""
	}
	return a.tmuxSocket
}

// HasSession reports whether a session with the exact name exists. A tmux
// server that is not running has no sessions.
func (a *Adapter) HasSession(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, nil
	}
	out, err := a.exec.Output(ctx, "tmux", a.withSocket("list-sessions", "-F", "#{session_name}")...)
	if err != nil {
		if isNoServer(err) {
			return false, nil
		}
		return false, err
	}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if strings.TrimSpace(line) == name {
			return true, nil
		}
	}
	return false, nil
}

// NewSession starts a detached session running command in its only pane.
func (a *Adapter) NewSession(ctx context.Context, name string, cols, rows int, command []string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("session name is required")
	}
	if len(command) == 0 {
		return errors.New("session command is required")
	}
	if cols <= 0 {
		cols = 132
	}
	if rows <= 0 {
		rows = 50
	}
	args := a.withSocket("new-session", "-d", "-s", name, "-x", strconv.Itoa(cols), "-y", strconv.Itoa(rows), "--")
	args = append(args, command...)
	return a.exec.Run(ctx, "tmux", args...)
}

func (a *Adapter) KillSession(ctx context.Context, name string) error {
	return a.exec.Run(ctx, "tmux", a.withSocket("kill-session", "-t", name)...)
}

// PaneID resolves a target such as "sess:0.0" to its %N pane id, which is
// how control-mode output identifies panes.
func (a *Adapter) PaneID(ctx context.Context, target string) (string, error) {
	out, err := a.exec.Output(ctx, "tmux", a.withSocket("display-message", "-p", "-t", target, "#{pane_id}")...)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(out))
	if !strings.HasPrefix(id, "%") {
		return "", fmt.Errorf("unexpected tmux pane id output: %q", string(out))
	}
	return id, nil
}

// SendBytes types payload into the pane byte for byte. Hex mode keeps ESC,
// CR and NUL away from tmux key-name parsing.
func (a *Adapter) SendBytes(ctx context.Context, target string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	args := a.withSocket("send-keys", "-t", target, "-H")
	for _, b := range payload {
		args = append(args, hex.EncodeToString([]byte{b}))
	}
	return a.exec.Run(ctx, "tmux", args...)
}

func (a *Adapter) withSocket(args ...string) []string {
	return append(tmuxArgsWithSocket(a.SocketName()), args...)
}

func tmuxArgsWithSocket(socket string) []string {
	socket = strings.TrimSpace(socket)
	if socket == "" {
		return []string{}
	}
	return []string{"-L", socket}
}

func isNoServer(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no server running") ||
		strings.Contains(msg, "error connecting to") ||
		strings.Contains(msg, "no sessions")
}
