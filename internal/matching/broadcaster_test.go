package matching

import (
	"testing"
	"time"

	"coderacer-matchmaker/internal/protocol"
)

func statusMessages(c *fakeConn) []protocol.MatchingStatusMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.MatchingStatusMessage
	for _, m := range c.sent {
		if ms, ok := m.(protocol.MatchingStatusMessage); ok {
			out = append(out, ms)
		}
	}
	return out
}

func TestBroadcasterPushesPositionsInQueueOrder(t *testing.T) {
	c, _ := newTestCoordinator(t)
	s1, conn1 := register(t, c, "u1")
	s2, conn2 := register(t, c, "u2")
	for _, s := range []*Session{s1, s2} {
		if _, err := c.StartMatching(s.ID, protocol.DifficultyMedium); err != nil {
			t.Fatalf("start %s: %v", s.UserID, err)
		}
	}

	b := NewBroadcaster(c, time.Second)
	b.tick(time.Now().Add(5 * time.Second))

	st1, st2 := statusMessages(conn1), statusMessages(conn2)
	if len(st1) != 1 || len(st2) != 1 {
		t.Fatalf("status counts = %d,%d, want exactly one each per tick", len(st1), len(st2))
	}
	if st1[0].QueuePosition != 1 || st2[0].QueuePosition != 2 {
		t.Fatalf("positions = %d,%d, want 1,2", st1[0].QueuePosition, st2[0].QueuePosition)
	}
	if st1[0].Status != "searching" {
		t.Fatalf("status = %q, want searching", st1[0].Status)
	}
	if st1[0].WaitTimeSeconds < 4 {
		t.Fatalf("wait seconds = %d, want >= 4", st1[0].WaitTimeSeconds)
	}
}

func TestBroadcasterSkipsNonSearchingSessions(t *testing.T) {
	c, _ := newTestCoordinator(t)
	s1, conn1 := register(t, c, "u1")
	if _, err := c.StartMatching(s1.ID, protocol.DifficultyEasy); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.CancelMatching(s1.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	NewBroadcaster(c, time.Second).tick(time.Now())

	if got := statusMessages(conn1); len(got) != 0 {
		t.Fatalf("expected no status after cancel, got %+v", got)
	}
}

func TestBroadcasterIncludesWaitEstimateAfterMatches(t *testing.T) {
	c, _ := newTestCoordinator(t)

	c.recordWait(protocol.DifficultyEasy, 10*time.Second)
	c.recordWait(protocol.DifficultyEasy, 20*time.Second)

	s, conn := register(t, c, "u1")
	if _, err := c.StartMatching(s.ID, protocol.DifficultyEasy); err != nil {
		t.Fatalf("start: %v", err)
	}

	NewBroadcaster(c, time.Second).tick(time.Now())

	got := statusMessages(conn)
	if len(got) != 1 {
		t.Fatalf("expected one status, got %d", len(got))
	}
	if got[0].EstimatedWaitSeconds != 15 {
		t.Fatalf("estimate = %d, want 15", got[0].EstimatedWaitSeconds)
	}
}
