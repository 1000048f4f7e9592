package tmux

import "strings"

type ControlEventKind int

const (
	ControlOther ControlEventKind = iota
	ControlOutput
	ControlExit
)

// ControlEvent is one parsed control-mode notification. Data holds the raw
// pane bytes for output events and the reason for exit events.
type ControlEvent struct {
	Kind   ControlEventKind
	PaneID string
	Data   string
}

func ParseControlLine(line string) ControlEvent {
	if ev, ok := ParseControlOutputLine(line); ok {
		return ev
	}
	if line == "%exit" || strings.HasPrefix(line, "%exit ") {
		return ControlEvent{Kind: ControlExit, Data: strings.TrimSpace(strings.TrimPrefix(line, "%exit"))}
	}
	return ControlEvent{Kind: ControlOther}
}

func ParseControlOutputLine(line string) (ControlEvent, bool) {
	if rest, ok := strings.CutPrefix(line, "%output "); ok {
		paneID, data, ok := strings.Cut(rest, " ")
		paneID = strings.TrimSpace(paneID)
		if !ok || paneID == "" {
			return ControlEvent{}, false
		}
		return ControlEvent{Kind: ControlOutput, PaneID: paneID, Data: decodeControlEscaped(data)}, true
	}

	// %extended-output %N age ... : data
	if rest, ok := strings.CutPrefix(line, "%extended-output "); ok {
		head, data, ok := strings.Cut(rest, " : ")
		if !ok {
			return ControlEvent{}, false
		}
		fields := strings.Fields(head)
		if len(fields) == 0 {
			return ControlEvent{}, false
		}
		return ControlEvent{Kind: ControlOutput, PaneID: fields[0], Data: decodeControlEscaped(data)}, true
	}

	return ControlEvent{}, false
}

// decodeControlEscaped undoes tmux's \ooo octal escaping of non-printable
// bytes and backslashes.
func decodeControlEscaped(raw string) string {
	if raw == "" {
		return ""
	}
	if strings.IndexByte(raw, '\\') < 0 {
		return raw
	}
	buf := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); {
		if raw[i] == '\\' && i+3 < len(raw) && isOctal(raw[i+1]) && isOctal(raw[i+2]) && isOctal(raw[i+3]) {
			v := (raw[i+1]-'0')*64 + (raw[i+2]-'0')*8 + (raw[i+3] - '0')
			buf = append(buf, v)
			i += 4
			continue
		}
		buf = append(buf, raw[i])
		i++
	}
	return string(buf)
}

func isOctal(b byte) bool {
	return b >= '0' && b <= '7'
}
