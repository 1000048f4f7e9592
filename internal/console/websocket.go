package console

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/coder/websocket"
)

type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// WebSocket is a console exposed by a serial-over-websocket proxy. Each
// inbound message is one chunk; payloads go out as binary messages.
type WebSocket struct {
	conn wsConn
}

func DialWebSocket(ctx context.Context, url string, header http.Header) (*WebSocket, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, err
	}
	// Console bursts during boot can be large.
	conn.SetReadLimit(1 << 20)
	return &WebSocket{conn: conn}, nil
}

func (w *WebSocket) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	if err != nil {
		if isNormalClose(err) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (w *WebSocket) Send(ctx context.Context, payload []byte) error {
	return w.conn.Write(ctx, websocket.MessageBinary, payload)
}

func (w *WebSocket) Close() error {
	err := w.conn.Close(websocket.StatusNormalClosure, "")
	if err != nil && isNormalClose(err) {
		return nil
	}
	return err
}

func isNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, io.EOF)
}
