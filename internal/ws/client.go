package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"coderacer-matchmaker/internal/protocol"
)

// client is one connected socket. It implements matching.Conn, so the
// coordinator can push frames without knowing about websockets.
type client struct {
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration

	// Both set before writeLoop starts.
	sessionID    string
	onWriteError func()
}

func newClient(conn *websocket.Conn, writeTimeout time.Duration) *client {
	return &client{
		conn:         conn,
		send:         make(chan []byte, 32),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

// Send queues one outbound frame. Never blocks business logic: a closed
// connection or a backed-up writer drops the frame with a log line.
func (c *client) Send(msg any) {
	payload := protocol.Marshal(msg)
	if payload == nil {
		return
	}
	select {
	case <-c.done:
		log.Debug().Str("session_id", c.sessionID).Msg("send on closed connection dropped")
	case c.send <- payload:
	default:
		metricFramesDropped.Add(1)
		log.Warn().Str("session_id", c.sessionID).Msg("outbound buffer full, dropping frame")
	}
}

// Close sends a close frame with the given code and tears the socket down.
// Safe to call multiple times and from any goroutine.
func (c *client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(c.writeTimeout)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), deadline)
		close(c.done)
		_ = c.conn.Close()
	})
}

// shutdown closes without a meaningful code, for reader-initiated teardown
// where the peer is already gone.
func (c *client) shutdown() {
	c.Close(protocol.CloseNormal, "")
}

// writeLoop owns all writes to the socket: queued frames plus keepalive
// pings at a fraction of the heartbeat window.
func (c *client) writeLoop(heartbeat time.Duration) {
	pingInterval := heartbeat * 9 / 10
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Debug().Err(err).Str("session_id", c.sessionID).Msg("ws write failed")
				if c.onWriteError != nil {
					c.onWriteError()
				}
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
