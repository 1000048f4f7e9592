package session

import (
	"strings"
	"unicode/utf8"
)

// State is the mutable per-run state the engine carries between chunks.
type State struct {
	Pending string
	Cursors map[string]int
	Flags   map[string]bool

	// utf8Tail holds an incomplete trailing rune until the next chunk.
	utf8Tail []byte
}

// Snapshot is a detached copy of State.
type Snapshot struct {
	Pending string
	Cursors map[string]int
	Flags   map[string]bool
}

func newState(names, flags []string) State {
	s := State{
		Cursors: make(map[string]int, len(names)),
		Flags:   make(map[string]bool, len(flags)),
	}
	for _, n := range names {
		s.Cursors[n] = 0
	}
	for _, f := range flags {
		s.Flags[f] = false
	}
	return s
}

func (s *State) snapshot() Snapshot {
	out := Snapshot{
		Pending: s.Pending,
		Cursors: make(map[string]int, len(s.Cursors)),
		Flags:   make(map[string]bool, len(s.Flags)),
	}
	for k, v := range s.Cursors {
		out.Cursors[k] = v
	}
	for k, v := range s.Flags {
		out.Flags[k] = v
	}
	return out
}

// decode turns a raw chunk into text. Each invalid byte becomes U+FFFD; a rune
// split across chunks is completed with the next one.
func (s *State) decode(chunk []byte) string {
	merged := make([]byte, 0, len(s.utf8Tail)+len(chunk))
	merged = append(merged, s.utf8Tail...)
	merged = append(merged, chunk...)
	emit, pending := splitUTF8Payload(merged)
	if len(pending) == 0 {
		s.utf8Tail = nil
	} else {
		s.utf8Tail = append([]byte(nil), pending...)
	}
	return replaceInvalid(emit)
}

func replaceInvalid(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	var b strings.Builder
	b.Grow(len(data) + 8)
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
		} else {
			b.Write(data[:size])
		}
		data = data[size:]
	}
	return b.String()
}

func splitUTF8Payload(data []byte) (emit []byte, pending []byte) {
	if len(data) == 0 {
		return nil, nil
	}
	pos := 0
	for pos < len(data) {
		if !utf8.FullRune(data[pos:]) {
			return data[:pos], data[pos:]
		}
		r, size := utf8.DecodeRune(data[pos:])
		if r == utf8.RuneError && size == 1 {
			pos++
			continue
		}
		pos += size
	}
	return data, nil
}
