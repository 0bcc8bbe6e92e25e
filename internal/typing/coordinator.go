// Package typing keeps short-lived "is typing" state per conversation.
package typing

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Event is the payload of typing:user_start and typing:user_stop.
type Event struct {
	UserID         int       `json:"userId"`
	ConversationID int       `json:"conversationId"`
	Timestamp      time.Time `json:"timestamp"`
}

// Notifier receives typing transitions from the coordinator goroutine. It
// must not call back into the Coordinator.
type Notifier interface {
	TypingStarted(ev Event)
	TypingStopped(ev Event)
}

// Typer is one user currently typing in a conversation.
type Typer struct {
	UserID    int       `json:"userId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type key struct {
	conversationID int
	userID         int
}

// Coordinator owns the typing table on a single goroutine. Entries that are
// not refreshed within the stale window are dropped by a periodic sweep,
// which emits the stop the client never sent.
type Coordinator struct {
	clock  clockwork.Clock
	stale  time.Duration
	sweep  time.Duration
	notify Notifier

	reqs      chan func()
	done      chan struct{}
	closeOnce sync.Once

	entries map[key]time.Time
}

func NewCoordinator(clock clockwork.Clock, stale, sweep time.Duration, notify Notifier) *Coordinator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if sweep <= 0 {
		sweep = time.Second
	}
	c := &Coordinator{
		clock:   clock,
		stale:   stale,
		sweep:   sweep,
		notify:  notify,
		reqs:    make(chan func(), 64),
		done:    make(chan struct{}),
		entries: make(map[key]time.Time),
	}
	ticker := clock.NewTicker(sweep)
	go c.loop(ticker)
	return c
}

func (c *Coordinator) loop(ticker clockwork.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case fn := <-c.reqs:
			fn()
		case <-ticker.Chan():
			c.purge()
		case <-c.done:
			return
		}
	}
}

func (c *Coordinator) do(fn func()) bool {
	select {
	case c.reqs <- fn:
		return true
	case <-c.done:
		return false
	}
}

func (c *Coordinator) call(fn func()) {
	finished := make(chan struct{})
	if !c.do(func() { fn(); close(finished) }) {
		return
	}
	select {
	case <-finished:
	case <-c.done:
	}
}

// Start marks the user as typing. Only the first call since the last stop
// is broadcast; later calls refresh the entry.
func (c *Coordinator) Start(conversationID, userID int) {
	c.do(func() {
		k := key{conversationID, userID}
		_, exists := c.entries[k]
		now := c.clock.Now()
		c.entries[k] = now
		if !exists {
			c.emitStart(Event{UserID: userID, ConversationID: conversationID, Timestamp: now})
		}
	})
}

// Stop clears the entry and broadcasts a stop if the user was typing.
func (c *Coordinator) Stop(conversationID, userID int) {
	c.do(func() {
		c.remove(key{conversationID, userID})
	})
}

// StopAll clears every entry of a user, for when the user went away.
func (c *Coordinator) StopAll(userID int) {
	c.do(func() {
		for k := range c.entries {
			if k.userID == userID {
				c.remove(k)
			}
		}
	})
}

// ActiveTypers lists who is typing in a conversation, by user id.
func (c *Coordinator) ActiveTypers(conversationID int) []Typer {
	typers := []Typer{}
	c.call(func() {
		for k, at := range c.entries {
			if k.conversationID == conversationID {
				typers = append(typers, Typer{UserID: k.userID, UpdatedAt: at})
			}
		}
	})
	sort.Slice(typers, func(i, j int) bool { return typers[i].UserID < typers[j].UserID })
	return typers
}

// Count returns the number of active typing entries.
func (c *Coordinator) Count() int {
	var n int
	c.call(func() { n = len(c.entries) })
	return n
}

// Close stops the coordinator goroutine.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Coordinator) remove(k key) {
	if _, ok := c.entries[k]; !ok {
		return
	}
	delete(c.entries, k)
	c.emitStop(Event{UserID: k.userID, ConversationID: k.conversationID, Timestamp: c.clock.Now()})
}

func (c *Coordinator) purge() {
	now := c.clock.Now()
	for k, at := range c.entries {
		if now.Sub(at) > c.stale {
			c.remove(k)
		}
	}
}

func (c *Coordinator) emitStart(ev Event) {
	if c.notify != nil {
		c.notify.TypingStarted(ev)
	}
}

func (c *Coordinator) emitStop(ev Event) {
	if c.notify != nil {
		c.notify.TypingStopped(ev)
	}
}
