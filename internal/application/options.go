package application

import (
	"context"
	"io"
	"log/slog"
	"time"

	"autoconsole/internal/console"
	"autoconsole/internal/prompt"
	"autoconsole/internal/runlog"
	"autoconsole/internal/session"
	"autoconsole/internal/virsh"
)

// StartOptions defines everything one unattended console run needs.
type StartOptions struct {
	Profile     string
	ProfileFile string
	Target      prompt.Target

	URI       string
	Domain    string
	Transport string
	WSURL     string
	// SkipDomain attaches without checking or starting the libvirt domain.
	SkipDomain  bool
	TmuxSocket  string
	KeepSession bool

	DBPath    string
	Echo      io.Writer
	StatePoll time.Duration
	Logger    *slog.Logger
	Hooks     Hooks
}

// Hooks replace the real collaborators in tests.
type Hooks struct {
	OpenConsole ConsoleOpener
	Domain      DomainControl
	Store       *runlog.Store
	Sleep       session.SleepFunc
}

// ReplayOptions feeds a captured transcript through a profile without any
// virtual machine.
type ReplayOptions struct {
	Profile     string
	ProfileFile string
	Target      prompt.Target
	Transcript  io.Reader
	ChunkSize   int
	// Out receives one quoted line per response.
	Out    io.Writer
	Store  *runlog.Store
	Logger *slog.Logger
}

type ReplayResult struct {
	RunID    string
	Sends    int
	Snapshot session.Snapshot
}

type ConsoleOpener func(ctx context.Context) (console.Console, error)

// DomainControl is the part of virsh.Domain the attach loop uses.
type DomainControl interface {
	EnsureRunning(ctx context.Context) (virsh.DomainState, error)
	WaitAttachable(ctx context.Context, interval time.Duration) (virsh.DomainState, error)
	Watch(ctx context.Context, interval time.Duration, fn func(prev, next virsh.DomainState)) error
}
