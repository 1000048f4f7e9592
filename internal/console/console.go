// Package console holds the transports that carry raw console bytes between
// a virtual machine and the prompt engine.
package console

import (
	"context"
	"errors"
	"io"
	"sync"
)

var ErrClosed = errors.New("console closed")

// Console is one attached console stream. Read returns io.EOF once the
// remote side is gone.
type Console interface {
	Read(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Pump copies console output into out until EOF, a read error or ctx is
// done. out is not closed so one queue can outlive several attachments.
func Pump(ctx context.Context, c Console, out chan<- []byte) error {
	for {
		chunk, err := c.Read(ctx)
		if len(chunk) > 0 {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

type echoConsole struct {
	Console
	mu sync.Mutex
	w  io.Writer
}

// WithEcho copies every chunk read from c to w, like watching the console by
// hand. Write errors on w are ignored.
func WithEcho(c Console, w io.Writer) Console {
	if w == nil {
		return c
	}
	return &echoConsole{Console: c, w: w}
}

func (e *echoConsole) Read(ctx context.Context) ([]byte, error) {
	chunk, err := e.Console.Read(ctx)
	if len(chunk) > 0 {
		e.mu.Lock()
		_, _ = e.w.Write(chunk)
		e.mu.Unlock()
	}
	return chunk, err
}
