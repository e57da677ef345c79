package matching

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"coderacer-matchmaker/internal/protocol"
	"coderacer-matchmaker/internal/store"
)

type fakeConn struct {
	mu        sync.Mutex
	sent      []any
	closed    bool
	closeCode int
}

func (c *fakeConn) Send(msg any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
}

func (c *fakeConn) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCode = code
}

func (c *fakeConn) matchFound() []protocol.MatchFoundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.MatchFoundMessage
	for _, m := range c.sent {
		if mf, ok := m.(protocol.MatchFoundMessage); ok {
			out = append(out, mf)
		}
	}
	return out
}

type fakeMatchStore struct {
	mu       sync.Mutex
	matches  []store.Match
	failWith error
	failLeft int
}

func (f *fakeMatchStore) CreateMatch(ctx context.Context, m store.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLeft > 0 {
		f.failLeft--
		return f.failWith
	}
	f.matches = append(f.matches, m)
	return nil
}

func (f *fakeMatchStore) all() []store.Match {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Match{}, f.matches...)
}

type fakePicker struct{ err error }

func (f *fakePicker) Pick(ctx context.Context, difficulty string) (store.Problem, error) {
	if f.err != nil {
		return store.Problem{}, f.err
	}
	return store.Problem{ID: "two-sum", Title: "Two Sum", Difficulty: difficulty}, nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeMatchStore) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	st := &fakeMatchStore{}
	return NewCoordinator(ctx, st, &fakePicker{}), st
}

func register(t *testing.T, c *Coordinator, userID string) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	return c.Register(conn, userID, "name-"+userID), conn
}

func drainEasy(c *Coordinator) {
	NewEngine(c, time.Second).drain(context.Background(), c.tiers[protocol.DifficultyEasy])
}

func TestRegisterMovesSessionToIdle(t *testing.T) {
	c, _ := newTestCoordinator(t)
	s, _ := register(t, c, "u1")

	state, ok := c.StateOf(s.ID)
	if !ok || state != StateIdle {
		t.Fatalf("state = %v ok=%v, want idle", state, ok)
	}
}

func TestStartMatchingEnqueuesAndReportsPosition(t *testing.T) {
	c, _ := newTestCoordinator(t)
	s1, _ := register(t, c, "u1")
	s2, _ := register(t, c, "u2")

	pos, err := c.StartMatching(s1.ID, protocol.DifficultyMedium)
	if err != nil || pos != 1 {
		t.Fatalf("first start: pos=%d err=%v, want 1,nil", pos, err)
	}
	pos, err = c.StartMatching(s2.ID, protocol.DifficultyMedium)
	if err != nil || pos != 2 {
		t.Fatalf("second start: pos=%d err=%v, want 2,nil", pos, err)
	}
	if state, _ := c.StateOf(s1.ID); state != StateSearching {
		t.Fatalf("state = %v, want searching", state)
	}
}

func TestStartMatchingInvalidDifficulty(t *testing.T) {
	c, _ := newTestCoordinator(t)
	s, _ := register(t, c, "u1")

	if _, err := c.StartMatching(s.ID, protocol.Difficulty("Nightmare")); !errors.Is(err, ErrInvalidDifficulty) {
		t.Fatalf("expected ErrInvalidDifficulty, got %v", err)
	}
	if state, _ := c.StateOf(s.ID); state != StateIdle {
		t.Fatalf("state = %v, want idle after rejection", state)
	}
}

// Scenario D: a second start_matching without cancelling is rejected and the
// session never sits in two tiers.
func TestStartMatchingRejectedWhileSearching(t *testing.T) {
	c, _ := newTestCoordinator(t)
	s, _ := register(t, c, "u1")

	if _, err := c.StartMatching(s.ID, protocol.DifficultyEasy); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := c.StartMatching(s.ID, protocol.DifficultyHard); !errors.Is(err, ErrAlreadySearching) {
		t.Fatalf("expected ErrAlreadySearching, got %v", err)
	}

	if snap := c.tiers[protocol.DifficultyHard].Snapshot(); len(snap) != 0 {
		t.Fatalf("hard tier should be empty, got %+v", snap)
	}
	easy := c.tiers[protocol.DifficultyEasy].Snapshot()
	if len(easy) != 1 || easy[0].SessionID != s.ID {
		t.Fatalf("easy tier = %+v, want only the original entry", easy)
	}
}

func TestCancelMatchingIdempotent(t *testing.T) {
	c, _ := newTestCoordinator(t)
	s, _ := register(t, c, "u1")

	// Cancel while idle is a no-op, not an error.
	if err := c.CancelMatching(s.ID); err != nil {
		t.Fatalf("cancel while idle: %v", err)
	}

	if _, err := c.StartMatching(s.ID, protocol.DifficultyEasy); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.CancelMatching(s.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := c.CancelMatching(s.ID); err != nil {
		t.Fatalf("second cancel: %v", err)
	}

	if state, _ := c.StateOf(s.ID); state != StateIdle {
		t.Fatalf("state = %v, want idle", state)
	}
	if snap := c.tiers[protocol.DifficultyEasy].Snapshot(); len(snap) != 0 {
		t.Fatalf("queue should be empty, got %+v", snap)
	}
}

// Scenario A: three sessions enqueue in order; the scan pairs the two oldest
// and leaves the third at position 1.
func TestPairingPairsOldestTwo(t *testing.T) {
	c, st := newTestCoordinator(t)
	s1, _ := register(t, c, "u1")
	s2, _ := register(t, c, "u2")
	s3, _ := register(t, c, "u3")
	for _, s := range []*Session{s1, s2, s3} {
		if _, err := c.StartMatching(s.ID, protocol.DifficultyEasy); err != nil {
			t.Fatalf("start %s: %v", s.UserID, err)
		}
	}

	drainEasy(c)

	matches := st.all()
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	m := matches[0]
	if m.Player1ID != "u1" || m.Player2ID != "u2" {
		t.Fatalf("match players = %s,%s, want u1,u2", m.Player1ID, m.Player2ID)
	}
	if m.Difficulty != "Easy" || m.ProblemID != "two-sum" {
		t.Fatalf("unexpected match metadata: %+v", m)
	}

	snap := c.tiers[protocol.DifficultyEasy].Snapshot()
	if len(snap) != 1 || snap[0].SessionID != s3.ID {
		t.Fatalf("remaining queue = %+v, want only s3", snap)
	}
	if state, _ := c.StateOf(s3.ID); state != StateSearching {
		t.Fatalf("s3 state = %v, want searching", state)
	}
}

// Scenario B: a disconnected waiter never participates in a later scan.
func TestDisconnectedSessionNeverPairs(t *testing.T) {
	c, st := newTestCoordinator(t)
	s1, _ := register(t, c, "u1")
	if _, err := c.StartMatching(s1.ID, protocol.DifficultyEasy); err != nil {
		t.Fatalf("start s1: %v", err)
	}
	c.Disconnect(s1.ID)

	s2, _ := register(t, c, "u2")
	if _, err := c.StartMatching(s2.ID, protocol.DifficultyEasy); err != nil {
		t.Fatalf("start s2: %v", err)
	}

	drainEasy(c)

	if matches := st.all(); len(matches) != 0 {
		t.Fatalf("expected no matches, got %+v", matches)
	}
	snap := c.tiers[protocol.DifficultyEasy].Snapshot()
	if len(snap) != 1 || snap[0].SessionID != s2.ID {
		t.Fatalf("queue = %+v, want only s2", snap)
	}
}

// Scenario C: two concurrent start_matching calls produce exactly one match
// containing both players.
func TestConcurrentStartsProduceOneMatch(t *testing.T) {
	c, st := newTestCoordinator(t)
	s1, conn1 := register(t, c, "u1")
	s2, conn2 := register(t, c, "u2")

	var wg sync.WaitGroup
	for _, s := range []*Session{s1, s2} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := c.StartMatching(id, protocol.DifficultyEasy); err != nil {
				t.Errorf("start %s: %v", id, err)
			}
		}(s.ID)
	}
	wg.Wait()

	drainEasy(c)

	matches := st.all()
	if len(matches) != 1 {
		t.Fatalf("expected exactly 1 match, got %d", len(matches))
	}
	players := map[string]bool{matches[0].Player1ID: true, matches[0].Player2ID: true}
	if !players["u1"] || !players["u2"] {
		t.Fatalf("match players = %+v, want u1 and u2", players)
	}
	if len(conn1.matchFound()) != 1 || len(conn2.matchFound()) != 1 {
		t.Fatal("expected both sessions to receive match_found")
	}
}

// match_found names the other participant, both ways.
func TestMatchFoundOpponentRoundTrip(t *testing.T) {
	c, _ := newTestCoordinator(t)
	s1, conn1 := register(t, c, "u1")
	s2, conn2 := register(t, c, "u2")
	for _, s := range []*Session{s1, s2} {
		if _, err := c.StartMatching(s.ID, protocol.DifficultyHard); err != nil {
			t.Fatalf("start %s: %v", s.UserID, err)
		}
	}

	NewEngine(c, time.Second).drain(context.Background(), c.tiers[protocol.DifficultyHard])

	mf1, mf2 := conn1.matchFound(), conn2.matchFound()
	if len(mf1) != 1 || len(mf2) != 1 {
		t.Fatalf("match_found counts = %d,%d, want 1,1", len(mf1), len(mf2))
	}
	if mf1[0].Opponent.ID != "u2" || mf2[0].Opponent.ID != "u1" {
		t.Fatalf("opponents = %s,%s, want u2,u1", mf1[0].Opponent.ID, mf2[0].Opponent.ID)
	}
	if mf1[0].GameID != mf2[0].GameID {
		t.Fatalf("game ids differ: %s vs %s", mf1[0].GameID, mf2[0].GameID)
	}
	if mf1[0].Problem.ID != mf2[0].Problem.ID {
		t.Fatalf("problems differ: %s vs %s", mf1[0].Problem.ID, mf2[0].Problem.ID)
	}
	for _, s := range []*Session{s1, s2} {
		if state, _ := c.StateOf(s.ID); state != StateFound {
			t.Fatalf("%s state = %v, want found", s.UserID, state)
		}
	}
}

func TestAllocationFailureRequeuesAtHead(t *testing.T) {
	c, st := newTestCoordinator(t)
	st.failWith = errors.New("db down")
	st.failLeft = 1

	s1, _ := register(t, c, "u1")
	s2, _ := register(t, c, "u2")
	s3, _ := register(t, c, "u3")
	for _, s := range []*Session{s1, s2, s3} {
		if _, err := c.StartMatching(s.ID, protocol.DifficultyEasy); err != nil {
			t.Fatalf("start %s: %v", s.UserID, err)
		}
	}

	drainEasy(c)

	if matches := st.all(); len(matches) != 0 {
		t.Fatalf("expected no matches after failed allocation, got %+v", matches)
	}
	snap := c.tiers[protocol.DifficultyEasy].Snapshot()
	if len(snap) != 3 || snap[0].SessionID != s1.ID || snap[1].SessionID != s2.ID {
		t.Fatalf("queue after requeue = %+v, want s1,s2 back at head", snap)
	}
	if state, _ := c.StateOf(s1.ID); state != StateSearching {
		t.Fatalf("s1 state = %v, want searching after rollback", state)
	}

	// The retried scan succeeds once the store recovers.
	drainEasy(c)
	if matches := st.all(); len(matches) != 1 {
		t.Fatalf("expected 1 match after retry, got %d", len(matches))
	}
}

func TestDisconnectWhileSearchingCleansQueue(t *testing.T) {
	c, _ := newTestCoordinator(t)
	s, _ := register(t, c, "u1")
	if _, err := c.StartMatching(s.ID, protocol.DifficultyEasy); err != nil {
		t.Fatalf("start: %v", err)
	}

	c.Disconnect(s.ID)

	if snap := c.tiers[protocol.DifficultyEasy].Snapshot(); len(snap) != 0 {
		t.Fatalf("queue = %+v, want empty after disconnect", snap)
	}
	if _, ok := c.StateOf(s.ID); ok {
		t.Fatal("session should be gone after disconnect")
	}

	// Repeated disconnects stay safe.
	c.Disconnect(s.ID)
}

func TestPartnerDisconnectAfterPopRequeuesSurvivor(t *testing.T) {
	c, st := newTestCoordinator(t)
	s1, _ := register(t, c, "u1")
	s2, _ := register(t, c, "u2")
	for _, s := range []*Session{s1, s2} {
		if _, err := c.StartMatching(s.ID, protocol.DifficultyEasy); err != nil {
			t.Fatalf("start %s: %v", s.UserID, err)
		}
	}

	tier := c.tiers[protocol.DifficultyEasy]
	pair := tier.PopPair()
	if len(pair) != 2 {
		t.Fatalf("expected a pair, got %+v", pair)
	}
	c.Disconnect(s2.ID)

	c.completePair(context.Background(), tier, pair)

	if matches := st.all(); len(matches) != 0 {
		t.Fatalf("expected no match, got %+v", matches)
	}
	snap := tier.Snapshot()
	if len(snap) != 1 || snap[0].SessionID != s1.ID {
		t.Fatalf("queue = %+v, want survivor s1 at head", snap)
	}
	if state, _ := c.StateOf(s1.ID); state != StateSearching {
		t.Fatalf("s1 state = %v, want searching", state)
	}
}

func TestSecondLoginEvictsFirstSession(t *testing.T) {
	c, _ := newTestCoordinator(t)
	s1, conn1 := register(t, c, "u1")
	if _, err := c.StartMatching(s1.ID, protocol.DifficultyEasy); err != nil {
		t.Fatalf("start: %v", err)
	}

	s2, _ := register(t, c, "u1")

	conn1.mu.Lock()
	closed, code := conn1.closed, conn1.closeCode
	conn1.mu.Unlock()
	if !closed || code != protocol.ClosePolicyViolation {
		t.Fatalf("first conn closed=%v code=%d, want policy violation close", closed, code)
	}
	if snap := c.tiers[protocol.DifficultyEasy].Snapshot(); len(snap) != 0 {
		t.Fatalf("queue = %+v, want empty after eviction", snap)
	}
	if _, ok := c.StateOf(s1.ID); ok {
		t.Fatal("old session should be gone")
	}
	if state, _ := c.StateOf(s2.ID); state != StateIdle {
		t.Fatalf("new session state = %v, want idle", state)
	}
}

func TestJanitorSweepsStaleSessions(t *testing.T) {
	c, _ := newTestCoordinator(t)
	s, conn := register(t, c, "u1")
	if _, err := c.StartMatching(s.ID, protocol.DifficultyEasy); err != nil {
		t.Fatalf("start: %v", err)
	}

	c.sweepStale(time.Now().Add(2*time.Minute), time.Minute)

	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Fatal("expected stale connection to be closed")
	}
	if _, ok := c.StateOf(s.ID); ok {
		t.Fatal("stale session should be gone")
	}
	if snap := c.tiers[protocol.DifficultyEasy].Snapshot(); len(snap) != 0 {
		t.Fatalf("queue = %+v, want empty after sweep", snap)
	}
}

func TestTouchKeepsSessionAlive(t *testing.T) {
	c, _ := newTestCoordinator(t)
	s, conn := register(t, c, "u1")

	c.Touch(s.ID)
	c.sweepStale(time.Now().Add(30*time.Second), time.Minute)

	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if closed {
		t.Fatal("fresh session should survive the sweep")
	}
	if _, ok := c.StateOf(s.ID); !ok {
		t.Fatal("fresh session should still be registered")
	}
}

func TestMarkErrorCancelsSearchAndAllowsRetry(t *testing.T) {
	c, _ := newTestCoordinator(t)
	s, _ := register(t, c, "u1")
	if _, err := c.StartMatching(s.ID, protocol.DifficultyEasy); err != nil {
		t.Fatalf("start: %v", err)
	}

	c.MarkError(s.ID)

	if state, _ := c.StateOf(s.ID); state != StateError {
		t.Fatalf("state = %v, want error", state)
	}
	if snap := c.tiers[protocol.DifficultyEasy].Snapshot(); len(snap) != 0 {
		t.Fatalf("queue = %+v, want empty after transport error", snap)
	}

	// start_matching acts as the user-triggered retry.
	if pos, err := c.StartMatching(s.ID, protocol.DifficultyEasy); err != nil || pos != 1 {
		t.Fatalf("retry: pos=%d err=%v, want 1,nil", pos, err)
	}
}

func TestTiersAreIndependent(t *testing.T) {
	c, st := newTestCoordinator(t)
	se, _ := register(t, c, "easy-1")
	sh1, _ := register(t, c, "hard-1")
	sh2, _ := register(t, c, "hard-2")
	if _, err := c.StartMatching(se.ID, protocol.DifficultyEasy); err != nil {
		t.Fatalf("start easy: %v", err)
	}
	for _, s := range []*Session{sh1, sh2} {
		if _, err := c.StartMatching(s.ID, protocol.DifficultyHard); err != nil {
			t.Fatalf("start hard: %v", err)
		}
	}

	NewEngine(c, time.Second).drain(context.Background(), c.tiers[protocol.DifficultyHard])
	drainEasy(c)

	matches := st.all()
	if len(matches) != 1 || matches[0].Difficulty != "Hard" {
		t.Fatalf("matches = %+v, want a single Hard match", matches)
	}
	if snap := c.tiers[protocol.DifficultyEasy].Snapshot(); len(snap) != 1 {
		t.Fatalf("easy queue = %+v, want the lone easy searcher", snap)
	}
}
