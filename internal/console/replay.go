package console

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
)

const defaultReplayChunk = 1024

// Replay reads a captured console transcript in fixed-size chunks and writes
// every payload it is asked to send to a sink, one quoted line per send.
type Replay struct {
	r     io.Reader
	chunk int

	mu    sync.Mutex
	sink  io.Writer
	sends int
}

func NewReplay(r io.Reader, chunkSize int, sink io.Writer) *Replay {
	if chunkSize <= 0 {
		chunkSize = defaultReplayChunk
	}
	if sink == nil {
		sink = io.Discard
	}
	return &Replay{r: r, chunk: chunkSize, sink: sink}
}

func (r *Replay) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, r.chunk)
	n, err := r.r.Read(buf)
	return buf[:n], err
}

func (r *Replay) Send(_ context.Context, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends++
	_, err := fmt.Fprintf(r.sink, "%d\t%s\n", r.sends, strconv.Quote(string(payload)))
	return err
}

// Sends is the number of payloads written so far.
func (r *Replay) Sends() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sends
}

func (r *Replay) Close() error {
	if c, ok := r.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
