package protocol

import (
	"encoding/json"

	"github.com/gorilla/websocket"
)

const Version = "1.0"

// Difficulty partitions the matching queue into tiers.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// Tiers in display order. The pairing engine runs one loop per entry.
var Tiers = []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}

func ParseDifficulty(s string) (Difficulty, bool) {
	switch Difficulty(s) {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return Difficulty(s), true
	default:
		return "", false
	}
}

// Close codes surfaced to the client so it can decide reconnect-vs-fail.
// Policy violation is sent before any session exists (bad token); message
// too big when a frame exceeds the read limit. Everything else is the
// standard RFC 6455 meaning.
const (
	CloseNormal          = websocket.CloseNormalClosure
	CloseGoingAway       = websocket.CloseGoingAway
	CloseAbnormal        = websocket.CloseAbnormalClosure
	ClosePolicyViolation = websocket.ClosePolicyViolation
	CloseMessageTooBig   = websocket.CloseMessageTooBig
)

// Client -> Server

type StartMatchingMessage struct {
	Type       string `json:"type"`
	Difficulty string `json:"difficulty"`
}

type CancelMatchingMessage struct {
	Type string `json:"type"`
}

// Server -> Client

type ConnectedMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type MatchingStatusMessage struct {
	Type                 string `json:"type"`
	Status               string `json:"status"` // "searching" | "cancelled"
	QueuePosition        int    `json:"queue_position,omitempty"`
	WaitTimeSeconds      int    `json:"wait_time_seconds,omitempty"`
	EstimatedWaitSeconds int    `json:"estimated_wait_seconds,omitempty"`
}

type MatchFoundMessage struct {
	Type     string       `json:"type"`
	GameID   string       `json:"game_id"`
	Problem  ProblemInfo  `json:"problem"`
	Opponent OpponentInfo `json:"opponent"`
}

type ProblemInfo struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Difficulty string `json:"difficulty"`
}

type OpponentInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewConnected(sessionID string) ConnectedMessage {
	return ConnectedMessage{Type: "connected", SessionID: sessionID}
}

func NewError(code, msg string) ErrorMessage {
	return ErrorMessage{Type: "error", Code: code, Message: msg}
}

// Marshal serialises one outbound frame. Marshalling our own fixed structs
// cannot fail in practice, so errors collapse to nil for callers that only
// want to drop the frame.
func Marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
