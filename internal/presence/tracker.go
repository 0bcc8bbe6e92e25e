// Package presence tracks which users have at least one live connection.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Notifier receives presence transitions. It is called from the tracker
// goroutine and must not call back into the Tracker.
type Notifier interface {
	UserOnline(userID int)
	UserOffline(userID int)
}

// Status is the presence of one user.
type Status struct {
	UserID int  `json:"userId"`
	Online bool `json:"online"`
}

type entry struct {
	conns   int
	pending clockwork.Timer
	gen     uint64
}

// Tracker owns the presence table on a single goroutine. Connect and
// Disconnect are counted per connection, so callers need no ordering
// between connections of the same user. The last disconnect only turns
// into an offline transition after the grace window passes without a
// reconnect.
type Tracker struct {
	clock  clockwork.Clock
	grace  time.Duration
	notify Notifier

	reqs      chan func()
	done      chan struct{}
	closeOnce sync.Once

	users map[int]*entry
}

func NewTracker(clock clockwork.Clock, grace time.Duration, notify Notifier) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	t := &Tracker{
		clock:  clock,
		grace:  grace,
		notify: notify,
		reqs:   make(chan func(), 64),
		done:   make(chan struct{}),
		users:  make(map[int]*entry),
	}
	go t.loop()
	return t
}

func (t *Tracker) loop() {
	for {
		select {
		case fn := <-t.reqs:
			fn()
		case <-t.done:
			for _, e := range t.users {
				if e.pending != nil {
					e.pending.Stop()
				}
			}
			return
		}
	}
}

// do runs fn on the tracker goroutine. It reports false once closed.
func (t *Tracker) do(fn func()) bool {
	select {
	case t.reqs <- fn:
		return true
	case <-t.done:
		return false
	}
}

// call runs fn on the tracker goroutine and waits for it.
func (t *Tracker) call(fn func()) bool {
	finished := make(chan struct{})
	if !t.do(func() { fn(); close(finished) }) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-t.done:
		return false
	}
}

// Connect records a new live connection of the user.
func (t *Tracker) Connect(userID int) {
	t.do(func() {
		e := t.users[userID]
		if e == nil {
			e = &entry{}
			t.users[userID] = e
		}
		e.conns++
		if e.pending != nil {
			// reconnect inside the grace window
			e.pending.Stop()
			e.pending = nil
			e.gen++
			return
		}
		if e.conns == 1 && t.notify != nil {
			t.notify.UserOnline(userID)
		}
	})
}

// Disconnect records the loss of one connection of the user.
func (t *Tracker) Disconnect(userID int) {
	t.do(func() {
		e := t.users[userID]
		if e == nil || e.conns == 0 {
			return
		}
		e.conns--
		if e.conns > 0 {
			return
		}
		if t.grace <= 0 {
			t.offline(userID)
			return
		}
		e.gen++
		gen := e.gen
		e.pending = t.clock.AfterFunc(t.grace, func() {
			t.do(func() { t.expire(userID, gen) })
		})
	})
}

func (t *Tracker) expire(userID int, gen uint64) {
	e := t.users[userID]
	if e == nil || e.pending == nil || e.gen != gen {
		return
	}
	t.offline(userID)
}

func (t *Tracker) offline(userID int) {
	delete(t.users, userID)
	if t.notify != nil {
		t.notify.UserOffline(userID)
	}
}

// IsOnline reports whether the user is online. A user inside the grace
// window still counts as online.
func (t *Tracker) IsOnline(userID int) bool {
	var online bool
	t.call(func() { _, online = t.users[userID] })
	return online
}

// OnlineUsers returns every online user id in ascending order.
func (t *Tracker) OnlineUsers() []int {
	ids := []int{}
	t.call(func() {
		for id := range t.users {
			ids = append(ids, id)
		}
	})
	sort.Ints(ids)
	return ids
}

// Statuses answers a presence check for the given users, in input order.
func (t *Tracker) Statuses(userIDs []int) []Status {
	out := make([]Status, len(userIDs))
	t.call(func() {
		for i, id := range userIDs {
			_, online := t.users[id]
			out[i] = Status{UserID: id, Online: online}
		}
	})
	return out
}

// Close stops the tracker. Pending offline transitions are dropped.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() { close(t.done) })
}
