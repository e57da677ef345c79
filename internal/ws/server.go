package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"coderacer-matchmaker/internal/auth"
	"coderacer-matchmaker/internal/matching"
	"coderacer-matchmaker/internal/protocol"
)

// TokenVerifier validates the bearer token presented on connect.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

type Options struct {
	// HeartbeatTimeout bounds the gap between pongs before the connection
	// is considered dead.
	HeartbeatTimeout time.Duration
	WriteTimeout     time.Duration
	MaxMessageBytes  int64
}

func (o *Options) fill() {
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 4096
	}
}

// Server is the connection gateway: it authenticates the upgrade, registers
// a session, and shuttles frames between the socket and the coordinator.
type Server struct {
	coord    *matching.Coordinator
	verifier TokenVerifier
	upgrader websocket.Upgrader
	opts     Options
}

func NewServer(coord *matching.Coordinator, verifier TokenVerifier, opts Options) *Server {
	opts.fill()
	return &Server{
		coord:    coord,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		opts: opts,
	}
}

// Handle upgrades GET /ws?token=... connections. A missing or invalid token
// closes the socket with a policy-violation code before any session exists.
func (s *Server) Handle(w http.ResponseWriter, r *http.Request) {
	claims, authErr := s.verifier.Verify(r.URL.Query().Get("token"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	if authErr != nil {
		metricAuthRejects.Add(1)
		log.Warn().Err(authErr).Str("remote", r.RemoteAddr).Msg("ws auth rejected")
		deadline := time.Now().Add(s.opts.WriteTimeout)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(protocol.ClosePolicyViolation, "invalid token"), deadline)
		_ = conn.Close()
		return
	}

	metricConnectionsTotal.Add(1)
	metricConnectionsActive.Add(1)

	c := newClient(conn, s.opts.WriteTimeout)
	sess := s.coord.Register(c, claims.UserID, claims.Username)
	c.sessionID = sess.ID
	// A failed business write flags the session recoverable; the read loop's
	// own failure still drives the actual disconnect cleanup.
	c.onWriteError = func() { s.coord.MarkError(sess.ID) }

	go c.writeLoop(s.opts.HeartbeatTimeout)
	c.Send(protocol.NewConnected(sess.ID))

	s.readLoop(c)
}

func (s *Server) readLoop(c *client) {
	defer func() {
		// Exactly one disconnect event per connection, client- or
		// server-initiated; the coordinator call is idempotent anyway.
		s.coord.Disconnect(c.sessionID)
		c.shutdown()
		metricConnectionsActive.Add(-1)
	}()

	c.conn.SetReadLimit(s.opts.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(s.opts.HeartbeatTimeout))
	c.conn.SetPongHandler(func(string) error {
		s.coord.Touch(c.sessionID)
		return c.conn.SetReadDeadline(time.Now().Add(s.opts.HeartbeatTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("session_id", c.sessionID).Msg("ws read ended")
			}
			return
		}
		s.coord.Touch(c.sessionID)
		_ = c.conn.SetReadDeadline(time.Now().Add(s.opts.HeartbeatTimeout))
		s.dispatch(c, data)
	}
}

// dispatch routes one inbound frame. Malformed frames are dropped with a
// warning; the connection survives.
func (s *Server) dispatch(c *client, data []byte) {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		metricFramesDropped.Add(1)
		log.Warn().Str("session_id", c.sessionID).Msg("dropping malformed frame")
		return
	}

	switch base.Type {
	case "start_matching":
		var msg protocol.StartMatchingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			metricFramesDropped.Add(1)
			log.Warn().Str("session_id", c.sessionID).Msg("dropping malformed start_matching frame")
			return
		}
		s.handleStartMatching(c, msg)
	case "cancel_matching":
		s.handleCancelMatching(c)
	default:
		metricFramesDropped.Add(1)
		log.Warn().Str("session_id", c.sessionID).Str("type", base.Type).Msg("dropping unknown frame type")
	}
}

func (s *Server) handleStartMatching(c *client, msg protocol.StartMatchingMessage) {
	difficulty, ok := protocol.ParseDifficulty(msg.Difficulty)
	if !ok {
		c.Send(protocol.NewError("invalid_difficulty", "difficulty must be Easy, Medium or Hard"))
		return
	}

	pos, err := s.coord.StartMatching(c.sessionID, difficulty)
	if err != nil {
		// State errors reject the request and leave the session untouched.
		c.Send(protocol.NewError(err.Error(), "start_matching rejected"))
		return
	}
	c.Send(protocol.MatchingStatusMessage{
		Type:          "matching_status",
		Status:        "searching",
		QueuePosition: pos,
	})
}

func (s *Server) handleCancelMatching(c *client) {
	if err := s.coord.CancelMatching(c.sessionID); err != nil {
		c.Send(protocol.NewError(err.Error(), "cancel_matching rejected"))
		return
	}
	c.Send(protocol.MatchingStatusMessage{Type: "matching_status", Status: "cancelled"})
}
