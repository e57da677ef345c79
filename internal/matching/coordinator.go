package matching

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"coderacer-matchmaker/internal/protocol"
	"coderacer-matchmaker/internal/store"
)

// MatchStore persists committed matches.
type MatchStore interface {
	CreateMatch(ctx context.Context, m store.Match) error
}

// ProblemPicker hands out a problem for a tier, normally the catalog cache.
type ProblemPicker interface {
	Pick(ctx context.Context, difficulty string) (store.Problem, error)
}

// Coordinator owns every live session and the per-tier queues. It is the
// only component that transitions session state; the gateway and pairing
// engine both act through it. Lock ordering is coordinator mutex first, tier
// inbox second, never the reverse.
type Coordinator struct {
	store    MatchStore
	problems ProblemPicker

	mu        sync.Mutex
	sessions  map[string]*Session
	byUser    map[string]*Session
	tiers     map[protocol.Difficulty]*Tier
	estimates map[protocol.Difficulty]*waitEstimator
}

func NewCoordinator(parent context.Context, st MatchStore, problems ProblemPicker) *Coordinator {
	c := &Coordinator{
		store:     st,
		problems:  problems,
		sessions:  make(map[string]*Session),
		byUser:    make(map[string]*Session),
		tiers:     make(map[protocol.Difficulty]*Tier),
		estimates: make(map[protocol.Difficulty]*waitEstimator),
	}
	for _, d := range protocol.Tiers {
		c.tiers[d] = NewTier(parent, d)
		c.estimates[d] = newWaitEstimator(20)
	}
	return c
}

// Register creates a session for an authenticated connection. A user holds
// at most one live session: a second login evicts the first, pulling it out
// of any queue before the new session can search.
func (c *Coordinator) Register(conn Conn, userID, username string) *Session {
	s := &Session{
		ID:       store.NewID(),
		UserID:   userID,
		Username: username,
		conn:     conn,
		state:    StateConnecting,
		lastSeen: time.Now(),
	}

	c.mu.Lock()
	if old := c.byUser[userID]; old != nil {
		c.evictLocked(old, "signed in elsewhere")
	}
	c.sessions[s.ID] = s
	c.byUser[userID] = s
	s.state = StateIdle // auth completed upstream of registration
	c.mu.Unlock()

	metricSessionsActive.Add(1)
	log.Debug().Str("session_id", s.ID).Str("user_id", userID).Msg("session registered")
	return s
}

// evictLocked force-disconnects a session that lost a takeover race.
func (c *Coordinator) evictLocked(s *Session, reason string) {
	if s.state == StateSearching {
		c.tiers[s.difficulty].Cancel(s.ID)
	}
	s.state = StateDisconnected
	delete(c.sessions, s.ID)
	if c.byUser[s.UserID] == s {
		delete(c.byUser, s.UserID)
	}
	if s.conn != nil {
		s.conn.Close(protocol.ClosePolicyViolation, reason)
	}
	metricSessionsActive.Add(-1)
	log.Info().Str("session_id", s.ID).Str("user_id", s.UserID).Str("reason", reason).Msg("session evicted")
}

// Touch refreshes the heartbeat clock; the gateway calls it on every pong
// and inbound frame.
func (c *Coordinator) Touch(sessionID string) {
	c.mu.Lock()
	if s := c.sessions[sessionID]; s != nil {
		s.lastSeen = time.Now()
	}
	c.mu.Unlock()
}

// StartMatching moves a session idle -> searching and enqueues it in the
// tier's FIFO. Returns the 1-based queue position. A session already
// searching or matched is rejected, never double-queued.
func (c *Coordinator) StartMatching(sessionID string, difficulty protocol.Difficulty) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sessions[sessionID]
	if s == nil {
		return 0, ErrSessionNotFound
	}
	switch s.state {
	case StateSearching:
		return 0, ErrAlreadySearching
	case StateFound:
		return 0, ErrAlreadyMatched
	case StateDisconnected:
		return 0, ErrSessionTerminated
	}

	tier := c.tiers[difficulty]
	if tier == nil {
		return 0, ErrInvalidDifficulty
	}

	now := time.Now()
	s.state = StateSearching
	s.difficulty = difficulty
	s.enqueuedAt = now

	pos := tier.Enqueue(QueueEntry{SessionID: s.ID, UserID: s.UserID, EnqueuedAt: now})
	metricEnqueueTotal.Add(1)
	log.Info().
		Str("session_id", s.ID).
		Str("user_id", s.UserID).
		Str("difficulty", string(difficulty)).
		Int("position", pos).
		Msg("search started")
	return pos, nil
}

// CancelMatching removes the session from its queue and returns it to idle.
// Cancelling while not searching is a harmless no-op, so repeated cancels
// never error.
func (c *Coordinator) CancelMatching(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sessions[sessionID]
	if s == nil {
		return ErrSessionNotFound
	}
	if s.state != StateSearching {
		return nil
	}
	c.tiers[s.difficulty].Cancel(s.ID)
	s.state = StateIdle
	s.difficulty = ""
	metricCancelTotal.Add(1)
	log.Info().Str("session_id", s.ID).Str("user_id", s.UserID).Msg("search cancelled")
	return nil
}

// Disconnect destroys a session and scrubs its queue entry. Safe to call
// more than once; the gateway guarantees it fires on every connection
// closure and the janitor uses it as a backstop.
func (c *Coordinator) Disconnect(sessionID string) {
	c.mu.Lock()
	s := c.sessions[sessionID]
	if s == nil {
		c.mu.Unlock()
		return
	}
	if s.state == StateSearching {
		c.tiers[s.difficulty].Cancel(s.ID)
	}
	s.state = StateDisconnected
	delete(c.sessions, s.ID)
	if c.byUser[s.UserID] == s {
		delete(c.byUser, s.UserID)
	}
	c.mu.Unlock()

	metricSessionsActive.Add(-1)
	log.Info().Str("session_id", sessionID).Str("user_id", s.UserID).Msg("session disconnected")
}

// MarkError flags a transport-level failure on a session that was mid-flow.
// A later start_matching acts as the user-triggered retry.
func (c *Coordinator) MarkError(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sessions[sessionID]
	if s == nil || s.state == StateDisconnected || s.state == StateFound {
		return
	}
	if s.state == StateSearching {
		c.tiers[s.difficulty].Cancel(s.ID)
	}
	s.state = StateError
	s.difficulty = ""
}

// StateOf reports a session's current state.
func (c *Coordinator) StateOf(sessionID string) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sessions[sessionID]
	if s == nil {
		return StateDisconnected, false
	}
	return s.state, true
}

// completePair commits a popped pair: reserve both sessions, allocate the
// match, then notify. The pop happened in the tier actor, so nothing else
// can see these entries; any participant lost before allocation sends the
// survivor back to the head of the queue with its wait priority intact.
// Returns false when allocation failed and the pair went back at the head,
// telling the engine to wait for the next scan.
func (c *Coordinator) completePair(ctx context.Context, tier *Tier, pair []QueueEntry) bool {
	c.mu.Lock()
	s1 := c.sessions[pair[0].SessionID]
	s2 := c.sessions[pair[1].SessionID]
	ok1 := s1 != nil && s1.state == StateSearching && s1.difficulty == tier.Name
	ok2 := s2 != nil && s2.state == StateSearching && s2.difficulty == tier.Name
	if !ok1 || !ok2 {
		var keep []QueueEntry
		if ok1 {
			keep = append(keep, pair[0])
		}
		if ok2 {
			keep = append(keep, pair[1])
		}
		tier.RequeueFront(keep)
		metricPairRollbacks.Add(1)
		c.mu.Unlock()
		return true
	}
	// Reserve: found sessions reject further start/cancel races while the
	// match record is being written.
	s1.state = StateFound
	s2.state = StateFound
	c.mu.Unlock()

	problem, err := c.problems.Pick(ctx, string(tier.Name))
	var m store.Match
	if err == nil {
		m = store.Match{
			ID:         store.NewID(),
			Player1ID:  s1.UserID,
			Player2ID:  s2.UserID,
			ProblemID:  problem.ID,
			Difficulty: string(tier.Name),
			CreatedAt:  time.Now().UTC(),
		}
		err = c.store.CreateMatch(ctx, m)
	}
	if err != nil {
		metricAllocationFailures.Add(1)
		log.Warn().
			Err(err).
			Str("difficulty", string(tier.Name)).
			Str("session1", pair[0].SessionID).
			Str("session2", pair[1].SessionID).
			Msg("match allocation failed, requeueing pair at head")

		c.mu.Lock()
		var back []QueueEntry
		for i, s := range []*Session{s1, s2} {
			if s.state == StateFound {
				s.state = StateSearching
				back = append(back, pair[i])
			}
		}
		tier.RequeueFront(back)
		c.mu.Unlock()
		return false
	}

	metricMatchesCreated.Add(1)
	c.recordWait(tier.Name, time.Since(pair[0].EnqueuedAt))
	c.recordWait(tier.Name, time.Since(pair[1].EnqueuedAt))
	log.Info().
		Str("match_id", m.ID).
		Str("difficulty", string(tier.Name)).
		Str("player1", s1.UserID).
		Str("player2", s2.UserID).
		Str("problem_id", problem.ID).
		Msg("match created")

	info := protocol.ProblemInfo{ID: problem.ID, Title: problem.Title, Difficulty: problem.Difficulty}
	c.mu.Lock()
	// A participant that dropped during allocation keeps its committed match
	// and recovers it after reconnecting; only live sessions get the frame.
	if s1.state == StateFound && s1.conn != nil {
		s1.conn.Send(protocol.MatchFoundMessage{
			Type: "match_found", GameID: m.ID, Problem: info,
			Opponent: protocol.OpponentInfo{ID: s2.UserID, Name: s2.Username},
		})
	}
	if s2.state == StateFound && s2.conn != nil {
		s2.conn.Send(protocol.MatchFoundMessage{
			Type: "match_found", GameID: m.ID, Problem: info,
			Opponent: protocol.OpponentInfo{ID: s1.UserID, Name: s1.Username},
		})
	}
	c.mu.Unlock()
	return true
}

func (c *Coordinator) recordWait(d protocol.Difficulty, wait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if est := c.estimates[d]; est != nil {
		est.add(wait)
	}
}

func (c *Coordinator) estimatedWait(d protocol.Difficulty) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if est := c.estimates[d]; est != nil {
		return est.average()
	}
	return 0
}

// StartJanitor sweeps sessions whose connection stopped heartbeating but
// never produced a close event. The gateway's read deadline handles the
// common case; this is the backstop that keeps a dead client from holding a
// queue slot.
func (c *Coordinator) StartJanitor(ctx context.Context, interval, timeout time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				c.sweepStale(now, timeout)
			}
		}
	}()
}

func (c *Coordinator) sweepStale(now time.Time, timeout time.Duration) {
	c.mu.Lock()
	var stale []*Session
	for _, s := range c.sessions {
		if now.Sub(s.lastSeen) > timeout {
			stale = append(stale, s)
		}
	}
	c.mu.Unlock()

	for _, s := range stale {
		log.Warn().Str("session_id", s.ID).Str("user_id", s.UserID).Msg("heartbeat timeout, dropping session")
		if s.conn != nil {
			s.conn.Close(protocol.CloseGoingAway, "heartbeat timeout")
		}
		c.Disconnect(s.ID)
	}
}

// waitEstimator keeps a rolling window of matched-pair wait times per tier,
// feeding the estimated_wait_seconds hint in status pushes.
type waitEstimator struct {
	samples []time.Duration
	next    int
	count   int
}

func newWaitEstimator(window int) *waitEstimator {
	if window <= 0 {
		window = 20
	}
	return &waitEstimator{samples: make([]time.Duration, window)}
}

func (w *waitEstimator) add(d time.Duration) {
	w.samples[w.next] = d
	w.next = (w.next + 1) % len(w.samples)
	if w.count < len(w.samples) {
		w.count++
	}
}

func (w *waitEstimator) average() time.Duration {
	if w.count == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < w.count; i++ {
		total += w.samples[i]
	}
	return total / time.Duration(w.count)
}
