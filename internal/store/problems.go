package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// Problem is a catalog entry the pairing engine can assign to a match.
// Authoring happens in the admin service; the coordinator only reads.
type Problem struct {
	ID         string
	Title      string
	Difficulty string
}

func (s *Store) ListProblemsByDifficulty(ctx context.Context, difficulty string) ([]Problem, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, title, difficulty FROM problems WHERE difficulty = $1 ORDER BY id`,
		difficulty)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Problem
	for rows.Next() {
		var p Problem
		if err := rows.Scan(&p.ID, &p.Title, &p.Difficulty); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetProblem(ctx context.Context, id string) (*Problem, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT id, title, difficulty FROM problems WHERE id = $1`, id)
	var p Problem
	err := row.Scan(&p.ID, &p.Title, &p.Difficulty)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProblem(ctx context.Context, p Problem) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO problems (id, title, difficulty) VALUES ($1, $2, $3)`,
		p.ID, p.Title, p.Difficulty)
	return err
}

// EnsureDefaultProblems seeds one starter problem per tier so a fresh
// deployment can pair players before the admin catalog is populated.
func (s *Store) EnsureDefaultProblems(ctx context.Context) error {
	defaults := []Problem{
		{ID: "two-sum", Title: "Two Sum", Difficulty: "Easy"},
		{ID: "lru-cache", Title: "LRU Cache", Difficulty: "Medium"},
		{ID: "median-sorted-arrays", Title: "Median of Two Sorted Arrays", Difficulty: "Hard"},
	}
	for _, p := range defaults {
		if _, err := s.Pool.Exec(ctx,
			`INSERT INTO problems (id, title, difficulty) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO NOTHING`,
			p.ID, p.Title, p.Difficulty); err != nil {
			return err
		}
	}
	return nil
}
