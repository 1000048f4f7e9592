package session

import (
	"context"
	"time"
)

type EventKind string

const (
	EventMatch     EventKind = "match"
	EventSend      EventKind = "send"
	EventResend    EventKind = "resend"
	EventGated     EventKind = "gated"
	EventExhausted EventKind = "exhausted"
	EventArmed     EventKind = "armed"
)

// Event describes one engine decision. Cursor is the action index the event
// refers to; Total is the length of the rule's action list.
type Event struct {
	Kind    EventKind
	Rule    string
	Cursor  int
	Total   int
	Payload []byte
	Flag    string
	At      time.Time
}

// Recorder receives engine events. It is called while the engine lock is
// held and must not call back into the engine.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

type RecorderFunc func(ctx context.Context, ev Event)

func (f RecorderFunc) Record(ctx context.Context, ev Event) { f(ctx, ev) }

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Event) {}
