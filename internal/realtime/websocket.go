package realtime

import "github.com/gofiber/websocket/v2"

// WebSocketConn wraps websocket.Conn so the hub does not depend on the
// transport.
type WebSocketConn struct {
	Conn *websocket.Conn
}

func NewWebSocketConn(c *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{Conn: c}
}

// WritePump copies queued messages to the socket until Send is closed or a
// write fails.
func (w *WebSocketConn) WritePump(send <-chan []byte) error {
	for msg := range send {
		if err := w.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return err
		}
	}
	return nil
}
