package matching

import "errors"

var (
	ErrSessionNotFound   = errors.New("session_not_found")
	ErrInvalidDifficulty = errors.New("invalid_difficulty")
	ErrAlreadySearching  = errors.New("already_searching")
	ErrAlreadyMatched    = errors.New("already_matched")
	ErrSessionTerminated = errors.New("session_terminated")
)
