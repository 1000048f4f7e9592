package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"autoconsole/internal/logging"
	"autoconsole/internal/tmux"
)

// ControlLines is the control-mode stream for one tmux session.
type ControlLines interface {
	Lines() <-chan string
	Close() error
}

type ControlAttacher func(ctx context.Context, socket, session string) (ControlLines, error)

type TmuxOptions struct {
	Socket  string
	Session string
	URI     string
	Domain  string
	Cols    int
	Rows    int
	// KeepSession leaves the tmux session running on Close.
	KeepSession bool
	Exec        tmux.Exec
	Attach      ControlAttacher
	Logger      *slog.Logger
}

// Tmux is a `virsh console` running inside a tmux pane. Output is read
// through a control-mode client; input is typed with send-keys.
type Tmux struct {
	adapter *tmux.Adapter
	client  ControlLines
	session string
	target  string
	paneID  string
	keep    bool
	logger  *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func VirshConsoleCommand(uri, domain string) []string {
	args := []string{"virsh"}
	if uri = strings.TrimSpace(uri); uri != "" {
		args = append(args, "-c", uri)
	}
	return append(args, "console", "--force", strings.TrimSpace(domain))
}

// OpenTmux attaches to the console session for the domain, creating it if
// needed.
func OpenTmux(ctx context.Context, opts TmuxOptions) (*Tmux, error) {
	domain := strings.TrimSpace(opts.Domain)
	if domain == "" {
		return nil, errors.New("domain is required")
	}
	session := strings.TrimSpace(opts.Session)
	if session == "" {
		session = "autoconsole-" + domain
	}
	execer := opts.Exec
	if execer == nil {
		execer = &tmux.RealExec{}
	}
	attach := opts.Attach
	if attach == nil {
		attach = func(ctx context.Context, socket, session string) (ControlLines, error) {
			return tmux.AttachControl(ctx, socket, session)
		}
	}
	logger := logging.OrDiscard(opts.Logger)

	adapter := tmux.NewAdapter(execer, opts.Socket)
	exists, err := adapter.HasSession(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("check tmux session %s: %w", session, err)
	}
	if exists {
		logger.Info("reusing console session", "session", session)
	} else {
		if err := adapter.NewSession(ctx, session, opts.Cols, opts.Rows, VirshConsoleCommand(opts.URI, domain)); err != nil {
			return nil, fmt.Errorf("start console session %s: %w", session, err)
		}
		logger.Info("started console session", "session", session, "domain", domain)
	}

	target := session + ":0.0"
	paneID, err := adapter.PaneID(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("resolve console pane: %w", err)
	}
	client, err := attach(ctx, adapter.SocketName(), session)
	if err != nil {
		return nil, fmt.Errorf("attach control client: %w", err)
	}
	return &Tmux{
		adapter: adapter,
		client:  client,
		session: session,
		target:  target,
		paneID:  paneID,
		keep:    opts.KeepSession,
		logger:  logger,
		closed:  make(chan struct{}),
	}, nil
}

func (t *Tmux) Session() string { return t.session }

func (t *Tmux) Read(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.closed:
			return nil, ErrClosed
		case line, ok := <-t.client.Lines():
			if !ok {
				return nil, io.EOF
			}
			ev := tmux.ParseControlLine(line)
			switch ev.Kind {
			case tmux.ControlOutput:
				if ev.PaneID != t.paneID || ev.Data == "" {
					continue
				}
				return []byte(ev.Data), nil
			case tmux.ControlExit:
				t.logger.Info("console control client exited", "session", t.session, "reason", ev.Data)
				return nil, io.EOF
			}
		}
	}
}

func (t *Tmux) Send(ctx context.Context, payload []byte) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	return t.adapter.SendBytes(ctx, t.target, payload)
}

func (t *Tmux) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.client.Close()
		if t.keep {
			return
		}
		if killErr := t.adapter.KillSession(context.Background(), t.session); killErr != nil {
			t.logger.Warn("kill console session failed", "session", t.session, "error", killErr)
		}
	})
	return err
}
