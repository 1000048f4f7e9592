package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"

	"autoconsole/internal/logging"
	"autoconsole/internal/prompt"
)

// Sender carries response bytes to the console.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

type SenderFunc func(ctx context.Context, payload []byte) error

func (f SenderFunc) Send(ctx context.Context, payload []byte) error { return f(ctx, payload) }

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

const pendingTailMax = 120

// Engine matches console output against a prompt table and answers each
// recognised prompt with the next scripted response. Feed calls are
// serialised; one chunk, including any chained matches and waits, is fully
// handled before the next is looked at.
type Engine struct {
	mu       sync.Mutex
	table    *prompt.Table
	rules    []prompt.Rule
	term     []byte
	sender   Sender
	logger   *slog.Logger
	recorder Recorder
	sleep    SleepFunc
	now      func() time.Time
	state    State
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

func WithSleep(fn SleepFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

func NewEngine(table *prompt.Table, sender Sender, opts ...Option) *Engine {
	e := &Engine{
		table:    table,
		rules:    table.Rules(),
		term:     table.Terminator(),
		sender:   sender,
		logger:   logging.Discard(),
		recorder: nopRecorder{},
		sleep:    sleepContext,
		now:      time.Now,
		state:    newState(table.Names(), table.Flags()),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Feed appends a chunk of console output and dispatches every rule whose
// pattern is now present. Rules are tried once each, in table order, against
// the text left by the rules before them. A send failure stops the pass and
// is returned.
func (e *Engine) Feed(ctx context.Context, chunk []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Pending += e.state.decode(chunk)
	for _, r := range e.rules {
		idx := strings.Index(e.state.Pending, r.Pattern)
		if idx < 0 {
			continue
		}
		e.state.Pending = e.state.Pending[idx+len(r.Pattern):]
		e.logger.Debug("prompt matched", "rule", r.Name, "pattern", r.Pattern)
		e.emit(ctx, Event{Kind: EventMatch, Rule: r.Name, Cursor: e.state.Cursors[r.Name], Total: len(r.Actions)})
		if err := e.dispatch(ctx, r); err != nil {
			return err
		}
	}
	if e.state.Pending != "" && e.logger.Enabled(ctx, slog.LevelDebug) {
		e.logger.Debug("pending text", "bytes", len(e.state.Pending), "tail", pendingTail(e.state.Pending))
	}
	return nil
}

func (e *Engine) dispatch(ctx context.Context, r prompt.Rule) error {
	actions := r.Actions
	policy := r.Policy
	cursor := e.state.Cursors[r.Name]
	if cursor >= len(actions) {
		e.logger.Info("prompt exhausted", "rule", r.Name, "cursor", cursor, "total", len(actions))
		e.emit(ctx, Event{Kind: EventExhausted, Rule: r.Name, Cursor: cursor, Total: len(actions)})
		return nil
	}

	payload := make([]byte, 0, len(actions[cursor])+len(e.term))
	payload = append(payload, actions[cursor]...)
	payload = append(payload, e.term...)
	e.state.Cursors[r.Name] = cursor + 1

	if gate := policy.Gate; gate != "" {
		if !e.state.Flags[gate] {
			e.logger.Info("prompt gated", "rule", r.Name, "flag", gate, "cursor", cursor)
			e.emit(ctx, Event{Kind: EventGated, Rule: r.Name, Cursor: cursor, Total: len(actions), Flag: gate})
			return nil
		}
		e.state.Flags[gate] = false
	}

	if err := e.send(ctx, r.Name, payload); err != nil {
		return err
	}
	e.logger.Info("prompt response sent", "rule", r.Name, "cursor", cursor, "total", len(actions))
	e.emit(ctx, Event{Kind: EventSend, Rule: r.Name, Cursor: cursor, Total: len(actions), Payload: payload})

	if arms := policy.Arms; arms != "" {
		e.state.Flags[arms] = true
		e.logger.Info("flag armed", "rule", r.Name, "flag", arms)
		e.emit(ctx, Event{Kind: EventArmed, Rule: r.Name, Cursor: cursor, Total: len(actions), Flag: arms})
	}

	if wait := policy.ResendAfter; wait > 0 {
		e.logger.Info("prompt resend scheduled", "rule", r.Name, "wait", wait.String())
		if err := e.sleep(ctx, wait); err != nil {
			return err
		}
		if err := e.send(ctx, r.Name, payload); err != nil {
			return err
		}
		e.logger.Info("prompt resend", "rule", r.Name, "cursor", cursor)
		e.emit(ctx, Event{Kind: EventResend, Rule: r.Name, Cursor: cursor, Total: len(actions), Payload: payload})
	}
	return nil
}

func (e *Engine) send(ctx context.Context, rule string, payload []byte) error {
	if err := e.sender.Send(ctx, payload); err != nil {
		return fmt.Errorf("send response for %s: %w", rule, err)
	}
	return nil
}

func (e *Engine) emit(ctx context.Context, ev Event) {
	ev.At = e.now().UTC()
	e.recorder.Record(ctx, ev)
}

// Run feeds chunks from the queue until it is closed or ctx is done.
func (e *Engine) Run(ctx context.Context, chunks <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-chunks:
			if !ok {
				return nil
			}
			if err := e.Feed(ctx, chunk); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
		}
	}
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.snapshot()
}

func (e *Engine) Table() *prompt.Table { return e.table }

func pendingTail(s string) string {
	s = ansi.Strip(s)
	if len(s) <= pendingTailMax {
		return s
	}
	return strings.ToValidUTF8(s[len(s)-pendingTailMax:], "")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
