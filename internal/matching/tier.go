package matching

import (
	"context"
	"time"

	"coderacer-matchmaker/internal/protocol"
)

// QueueEntry is a waiting session's footprint in a tier. Entries carry ids
// only; the pairing engine resolves live sessions through the coordinator
// when a pair pops.
type QueueEntry struct {
	SessionID  string
	UserID     string
	EnqueuedAt time.Time
}

type tierMsg interface{ isTierMsg() }

type enqueueMsg struct {
	entry QueueEntry
	reply chan int // 1-based position, 0 when already queued
}

type cancelMsg struct {
	sessionID string
	reply     chan bool
}

type popPairMsg struct {
	reply chan []QueueEntry // nil or exactly two, oldest first
}

type requeueFrontMsg struct {
	entries []QueueEntry
	done    chan struct{}
}

type snapshotMsg struct {
	reply chan []QueueEntry
}

func (enqueueMsg) isTierMsg()      {}
func (cancelMsg) isTierMsg()       {}
func (popPairMsg) isTierMsg()      {}
func (requeueFrontMsg) isTierMsg() {}
func (snapshotMsg) isTierMsg()     {}

// Tier owns one difficulty's FIFO. A single goroutine consumes the inbox, so
// every mutation of the queue is serialised without locks and the
// pop-two-or-nothing step cannot interleave with enqueues or cancels.
// Independent tiers run independent goroutines.
type Tier struct {
	Name protocol.Difficulty

	inbox  chan tierMsg
	kick   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	entries []QueueEntry
}

func NewTier(parent context.Context, name protocol.Difficulty) *Tier {
	ctx, cancel := context.WithCancel(parent)
	t := &Tier{
		Name:   name,
		inbox:  make(chan tierMsg, 64),
		kick:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	go t.loop()
	return t
}

func (t *Tier) loop() {
	for {
		select {
		case <-t.ctx.Done():
			return
		case m := <-t.inbox:
			switch msg := m.(type) {
			case enqueueMsg:
				msg.reply <- t.enqueue(msg.entry)
			case cancelMsg:
				msg.reply <- t.remove(msg.sessionID)
			case popPairMsg:
				msg.reply <- t.popPair()
			case requeueFrontMsg:
				t.entries = append(append([]QueueEntry{}, msg.entries...), t.entries...)
				close(msg.done)
			case snapshotMsg:
				snap := make([]QueueEntry, len(t.entries))
				copy(snap, t.entries)
				msg.reply <- snap
			}
		}
	}
}

func (t *Tier) enqueue(e QueueEntry) int {
	for _, existing := range t.entries {
		if existing.SessionID == e.SessionID {
			return 0
		}
	}
	t.entries = append(t.entries, e)
	return len(t.entries)
}

func (t *Tier) remove(sessionID string) bool {
	for i, e := range t.entries {
		if e.SessionID == sessionID {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (t *Tier) popPair() []QueueEntry {
	if len(t.entries) < 2 {
		return nil
	}
	pair := []QueueEntry{t.entries[0], t.entries[1]}
	t.entries = t.entries[2:]
	return pair
}

// Enqueue appends the entry and returns its 1-based position, or 0 when the
// session was already queued in this tier (idempotent no-op). Wakes the
// pairing loop.
func (t *Tier) Enqueue(e QueueEntry) int {
	reply := make(chan int, 1)
	select {
	case t.inbox <- enqueueMsg{entry: e, reply: reply}:
	case <-t.ctx.Done():
		return 0
	}
	pos := <-reply
	if pos > 0 {
		select {
		case t.kick <- struct{}{}:
		default:
		}
	}
	return pos
}

// Cancel removes the session's entry wherever it sits. Reports whether an
// entry was actually removed; absent entries are a no-op.
func (t *Tier) Cancel(sessionID string) bool {
	reply := make(chan bool, 1)
	select {
	case t.inbox <- cancelMsg{sessionID: sessionID, reply: reply}:
	case <-t.ctx.Done():
		return false
	}
	return <-reply
}

// PopPair atomically removes and returns the two oldest entries, or nil when
// fewer than two sessions wait. Used only by the pairing engine.
func (t *Tier) PopPair() []QueueEntry {
	reply := make(chan []QueueEntry, 1)
	select {
	case t.inbox <- popPairMsg{reply: reply}:
	case <-t.ctx.Done():
		return nil
	}
	return <-reply
}

// RequeueFront puts entries back at the head, preserving their relative
// order, after a failed match allocation.
func (t *Tier) RequeueFront(entries []QueueEntry) {
	if len(entries) == 0 {
		return
	}
	done := make(chan struct{})
	select {
	case t.inbox <- requeueFrontMsg{entries: entries, done: done}:
	case <-t.ctx.Done():
		return
	}
	<-done
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

// Snapshot returns a copy of the queue in FIFO order, for the status
// broadcaster.
func (t *Tier) Snapshot() []QueueEntry {
	reply := make(chan []QueueEntry, 1)
	select {
	case t.inbox <- snapshotMsg{reply: reply}:
	case <-t.ctx.Done():
		return nil
	}
	return <-reply
}

// Kick fires after enqueues and requeues so the pairing loop can react ahead
// of its next scheduled scan.
func (t *Tier) Kick() <-chan struct{} { return t.kick }

func (t *Tier) Stop() { t.cancel() }
