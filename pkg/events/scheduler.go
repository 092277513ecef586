// Package events schedules delayed callbacks on the pulse loop. Events
// belong to an owner and die with it.
package events

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Func is called when an event fires with the event's owner, data and arg.
type Func func(owner, data any, arg string) error

// Event is a scheduled call.
type Event struct {
	owner any
	at    time.Time
	fn    Func
	data  any
	arg   string

	mu        sync.Mutex
	cancelled bool
}

// Owner returns the owner the event was started for.
func (e *Event) Owner() any { return e.owner }

// When returns the time the event is due.
func (e *Event) When() time.Time { return e.at }

// Cancel deschedules the event. Cancelling a fired event does nothing.
func (e *Event) Cancel() {
	e.mu.Lock()
	e.cancelled = true
	e.mu.Unlock()
}

func (e *Event) isCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// Scheduler holds pending events. Nothing runs until Pulse is called.
type Scheduler struct {
	mu      sync.Mutex
	wait    []*Event         // sorted by due time, ties in start order
	next    []func()         // run on the next pulse
	byOwner map[any][]*Event // pending events per owner
	now     func() time.Time
	logger  *log.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sends event failures to l.
func WithLogger(l *log.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates an empty scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		byOwner: make(map[any][]*Event),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules fn to run with owner, data and arg after delay. owner must
// be comparable; world entities are pointers and qualify.
func (s *Scheduler) Start(owner any, delay time.Duration, fn Func, data any, arg string) *Event {
	ev := &Event{owner: owner, at: s.now().Add(delay), fn: fn, data: data, arg: arg}

	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := false
	for i, e := range s.wait {
		if ev.at.Before(e.at) {
			s.wait = append(s.wait[:i+1], s.wait[i:]...)
			s.wait[i] = ev
			inserted = true
			break
		}
	}
	if !inserted {
		s.wait = append(s.wait, ev)
	}
	if owner != nil {
		s.byOwner[owner] = append(s.byOwner[owner], ev)
	}
	return ev
}

// NextPulse runs fn at the start of the next pulse.
func (s *Scheduler) NextPulse(fn func()) {
	s.mu.Lock()
	s.next = append(s.next, fn)
	s.mu.Unlock()
}

// Interrupt cancels every pending event of owner and returns how many there
// were.
func (s *Scheduler) Interrupt(owner any) int {
	s.mu.Lock()
	evs := s.byOwner[owner]
	delete(s.byOwner, owner)
	s.mu.Unlock()

	n := 0
	for _, e := range evs {
		if !e.isCancelled() {
			e.Cancel()
			n++
		}
	}
	return n
}

// Pending returns the number of scheduled events that have not fired or
// been cancelled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.wait {
		if !e.isCancelled() {
			n++
		}
	}
	return n
}

// Pulse runs the next-pulse callbacks, then every event due at now, in due
// order. A failing event is logged and the rest still run. Events and
// callbacks added while pulsing wait for a later pulse. It returns the
// number of events fired.
func (s *Scheduler) Pulse(now time.Time) int {
	s.mu.Lock()
	next := s.next
	s.next = nil
	var due []*Event
	i := 0
	for i < len(s.wait) && !s.wait[i].at.After(now) {
		i++
	}
	due, s.wait = s.wait[:i:i], s.wait[i:]
	for _, e := range due {
		s.forget(e)
	}
	s.mu.Unlock()

	for _, fn := range next {
		s.call("next pulse callback", func() error { fn(); return nil })
	}
	fired := 0
	for _, e := range due {
		if e.isCancelled() {
			continue
		}
		fired++
		s.call(fmt.Sprintf("event for %v", e.owner), func() error {
			return e.fn(e.owner, e.data, e.arg)
		})
	}
	return fired
}

// forget drops e from its owner's list. Caller holds s.mu.
func (s *Scheduler) forget(e *Event) {
	if e.owner == nil {
		return
	}
	evs := s.byOwner[e.owner]
	for i, cur := range evs {
		if cur == e {
			evs = append(evs[:i:i], evs[i+1:]...)
			break
		}
	}
	if len(evs) == 0 {
		delete(s.byOwner, e.owner)
	} else {
		s.byOwner[e.owner] = evs
	}
}

func (s *Scheduler) call(what string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.logf("events: panic in %s: %v", what, r)
		}
	}()
	if err := fn(); err != nil {
		s.logf("events: error in %s: %v", what, err)
	}
}

func (s *Scheduler) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
