package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// Match is the committed outcome of pairing two sessions. Immutable once
// written; ownership of the actual game hands off to the game service.
type Match struct {
	ID         string
	Player1ID  string
	Player2ID  string
	ProblemID  string
	Difficulty string
	CreatedAt  time.Time
}

func (s *Store) CreateMatch(ctx context.Context, m Match) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO matches (id, player1_id, player2_id, problem_id, difficulty, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.Player1ID, m.Player2ID, m.ProblemID, m.Difficulty, m.CreatedAt,
	)
	return err
}

func (s *Store) GetMatch(ctx context.Context, id string) (*Match, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT id, player1_id, player2_id, problem_id, difficulty, created_at
		 FROM matches WHERE id = $1`, id)
	var m Match
	err := row.Scan(&m.ID, &m.Player1ID, &m.Player2ID, &m.ProblemID, &m.Difficulty, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMatchesByPlayer returns a player's matches newest first, for the
// reconnect-and-query-status path.
func (s *Store) ListMatchesByPlayer(ctx context.Context, userID string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT id, player1_id, player2_id, problem_id, difficulty, created_at
		 FROM matches
		 WHERE player1_id = $1 OR player2_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Player1ID, &m.Player2ID, &m.ProblemID, &m.Difficulty, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
