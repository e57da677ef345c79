package catalog

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"coderacer-matchmaker/internal/store"
)

var ErrNoProblems = errors.New("no problems for difficulty")

// Source is the slice of the store the catalog reads.
type Source interface {
	ListProblemsByDifficulty(ctx context.Context, difficulty string) ([]store.Problem, error)
}

// Catalog caches the problem list per difficulty so the pairing engine never
// waits on the database in its critical section. Entries refresh lazily
// after the TTL.
type Catalog struct {
	src Source
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	problems  []store.Problem
	fetchedAt time.Time
}

func New(src Source, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Catalog{
		src:     src,
		ttl:     ttl,
		entries: make(map[string]*entry),
	}
}

// Pick returns a random problem of the given difficulty.
func (c *Catalog) Pick(ctx context.Context, difficulty string) (store.Problem, error) {
	problems, err := c.problemsFor(ctx, difficulty)
	if err != nil {
		return store.Problem{}, err
	}
	if len(problems) == 0 {
		return store.Problem{}, ErrNoProblems
	}
	return problems[rand.Intn(len(problems))], nil
}

func (c *Catalog) problemsFor(ctx context.Context, difficulty string) ([]store.Problem, error) {
	c.mu.Lock()
	e := c.entries[difficulty]
	if e != nil && time.Since(e.fetchedAt) < c.ttl {
		problems := e.problems
		c.mu.Unlock()
		return problems, nil
	}
	c.mu.Unlock()

	problems, err := c.src.ListProblemsByDifficulty(ctx, difficulty)
	if err != nil {
		// A stale catalog beats no catalog while the DB hiccups.
		if e != nil {
			return e.problems, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.entries[difficulty] = &entry{problems: problems, fetchedAt: time.Now()}
	c.mu.Unlock()
	return problems, nil
}

// Invalidate drops the cached list for one difficulty, or all when empty.
func (c *Catalog) Invalidate(difficulty string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if difficulty == "" {
		c.entries = make(map[string]*entry)
		return
	}
	delete(c.entries, difficulty)
}
