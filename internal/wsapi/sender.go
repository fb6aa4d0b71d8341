package wsapi

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsSender implements pipeline.Sender over one gorilla/websocket connection.
// gorilla forbids concurrent writes from more than one goroutine; the
// Pipeline Manager's orchestrator loop and its per-turn generation goroutines
// both call into this, so every write is serialized behind writeMu.
type wsSender struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  bool
}

func newWSSender(conn *websocket.Conn) *wsSender {
	return &wsSender{conn: conn}
}

func (w *wsSender) SendJSON(v any) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.closed {
		return nil
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(v)
}

func (w *wsSender) SendAudio(chunk []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.closed {
		return nil
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteMessage(websocket.BinaryMessage, chunk)
}

// Close marks the sender dead so a superseded Connection Session's stray
// in-flight writes become no-ops instead of racing the new binding's writes
// to the now-closed underlying connection.
func (w *wsSender) Close() {
	w.writeMu.Lock()
	w.closed = true
	w.writeMu.Unlock()
	_ = w.conn.Close()
}
