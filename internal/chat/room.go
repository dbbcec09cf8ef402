package chat

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Room log retention. A background pruner per room drops entries older
// than logRetention on every pruneInterval tick.
const (
	pruneInterval = 10 * time.Minute
	logRetention  = 7 * 24 * time.Hour
)

// messageLog is a timestamp-ordered record of room traffic. Appends take
// the current server time, so entries are naturally ordered; equal
// timestamps keep insertion order.
type messageLog struct {
	mu      sync.RWMutex
	entries []MessageResult

	// test hook, defaults to time.Now
	now func() time.Time
}

func newMessageLog() *messageLog {
	return &messageLog{now: time.Now}
}

func (l *messageLog) append(rec MessageRecord) MessageResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	res := MessageResult{Time: l.now().UTC(), Record: rec}
	// Clock steps backwards must not break ordering.
	if n := len(l.entries); n > 0 && res.Time.Before(l.entries[n-1].Time) {
		res.Time = l.entries[n-1].Time
	}
	l.entries = append(l.entries, res)
	return res
}

// rangeBetween returns entries with from <= Time <= to, empty when
// from > to.
func (l *messageLog) rangeBetween(from, to time.Time) []MessageResult {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if from.After(to) {
		return nil
	}
	lo := sort.Search(len(l.entries), func(i int) bool {
		return !l.entries[i].Time.Before(from)
	})
	hi := sort.Search(len(l.entries), func(i int) bool {
		return l.entries[i].Time.After(to)
	})
	out := make([]MessageResult, hi-lo)
	copy(out, l.entries[lo:hi])
	return out
}

func (l *messageLog) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// pruneOlderThan drops every entry with Time < cutoff and returns how
// many were removed.
func (l *messageLog) pruneOlderThan(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	lo := sort.Search(len(l.entries), func(i int) bool {
		return !l.entries[i].Time.Before(cutoff)
	})
	if lo == 0 {
		return 0
	}
	l.entries = append(l.entries[:0:0], l.entries[lo:]...)
	return lo
}

// room is the state shared by private and group rooms: the member set,
// the message log, the usable flag and the pruner goroutine.
type room struct {
	manager *Manager

	memberMu sync.RWMutex
	members  map[UserID]struct{}

	log    *messageLog
	usable atomic.Bool

	stopPrune chan struct{}
	stopOnce  sync.Once
}

func (r *room) init(m *Manager) {
	r.manager = m
	r.members = make(map[UserID]struct{})
	r.log = newMessageLog()
	r.stopPrune = make(chan struct{})
	r.usable.Store(true)
}

func (r *room) startPruner() {
	go func() {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.log.pruneOlderThan(time.Now().UTC().Add(-logRetention))
			case <-r.stopPrune:
				return
			case <-r.manager.ctx.Done():
				return
			}
		}
	}()
}

// shutDown marks the room unusable and stops its pruner. Idempotent.
func (r *room) shutDown() {
	r.usable.Store(false)
	r.stopOnce.Do(func() { close(r.stopPrune) })
}

// CanBeUsed reports whether the room still accepts operations. A removed
// room stays unusable even while references to it linger.
func (r *room) CanBeUsed() bool {
	return r.usable.Load()
}

// HasMember reports whether id belongs to the room.
func (r *room) HasMember(id UserID) bool {
	r.memberMu.RLock()
	defer r.memberMu.RUnlock()
	_, ok := r.members[id]
	return ok
}

// MemberList returns the member IDs in ascending order.
func (r *room) MemberList() []UserID {
	r.memberMu.RLock()
	defer r.memberMu.RUnlock()
	out := make([]UserID, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// sendData fans payload out to every live connection of every member.
// Members without a registered user record are skipped.
func (r *room) sendData(payload []byte) {
	for _, id := range r.MemberList() {
		user, err := r.manager.GetUser(id)
		if err != nil {
			continue
		}
		user.Send(payload)
	}
}
