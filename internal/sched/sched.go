// Package sched implements the periodic/one-shot event scheduler
// described in spec §4 "Event scheduler" and grounded on
// original_source/include/event.h + src/event.c (MAX_EVENTS table of
// name/func/frequency/when entries, eventAdd/eventAddOnce/eventRun/
// eventUpdate). Time advances only via an explicit monotonic second
// clock driven by the daemon's main loop (spec §5: "Only I/O
// readiness, the monotonic clock, and signals advance state"); there
// is no background goroutine ticking here on purpose — Run is called
// once per main-loop tick, after all pending input has been drained,
// and runs each due event at most once even if it is overdue by
// several ticks (spec §5 Ordering).
package sched

import (
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Func is a scheduled callback. It receives the wall time at which it
// was found due.
type Func func(now time.Time)

// ID identifies a scheduled event for later removal or frequency update.
type ID int

type event struct {
	id        ID
	name      string
	fn        Func
	frequency time.Duration // 0 means one-shot
	when      time.Time
	disabled  bool
}

// Scheduler owns the event table. The zero value is not usable; use New.
type Scheduler struct {
	mu     sync.Mutex
	events []*event
	nextID ID
	clock  func() time.Time // overridable for tests
}

// New creates an empty Scheduler using the real wall clock.
func New() *Scheduler {
	return &Scheduler{clock: time.Now}
}

// NewWithClock creates a Scheduler driven by an injected clock, for
// deterministic tests of expiry/bonus scans without sleeping.
func NewWithClock(clock func() time.Time) *Scheduler {
	return &Scheduler{clock: clock}
}

// AddPeriodic schedules fn to run every frequency, first firing at
// roughly now+frequency but spread by up to +/-10% jitter so that
// many events registered with the same frequency (e.g. every
// registered-channel's topic-enforcement scan) don't all land on the
// same tick.
func (s *Scheduler) AddPeriodic(name string, frequency time.Duration, fn Func) ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.events = append(s.events, &event{
		id:        id,
		name:      name,
		fn:        fn,
		frequency: frequency,
		when:      s.clock().Add(jitter(frequency)),
	})
	return id
}

// AddOnce schedules fn to run a single time at delay from now.
func (s *Scheduler) AddOnce(name string, delay time.Duration, fn Func) ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.events = append(s.events, &event{
		id:   id,
		name: name,
		fn:   fn,
		when: s.clock().Add(delay),
	})
	return id
}

func jitter(frequency time.Duration) time.Duration {
	if frequency <= 0 {
		return 0
	}
	spread := float64(frequency) * 0.10
	return frequency + time.Duration((rand.Float64()-0.5)*2*spread)
}

// UpdateFrequency changes a periodic event's frequency in place,
// matching the original's eventUpdate — the next fire time is
// recomputed from now rather than from the old schedule.
func (s *Scheduler) UpdateFrequency(id ID, frequency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.id == id {
			e.frequency = frequency
			e.when = s.clock().Add(frequency)
			return
		}
	}
}

// Remove deletes a scheduled event (eventDelete).
func (s *Scheduler) Remove(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.events {
		if e.id == id {
			s.events = append(s.events[:i], s.events[i+1:]...)
			return
		}
	}
}

// Disable marks an event inactive without removing it from the table,
// so /stats event listings (spec §4.9 "events") still show it.
func (s *Scheduler) Disable(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.id == id {
			e.disabled = true
		}
	}
}

// Run fires every event whose `when` has passed, exactly once each,
// then reschedules periodic events one frequency after their previous
// due time, or one frequency after now if that is already past (so a
// stalled tick doesn't cause the next one to fire immediately
// afterward too). One-shot events are removed after firing.
func (s *Scheduler) Run(now time.Time) {
	s.mu.Lock()
	due := make([]*event, 0, len(s.events))
	kept := s.events[:0]
	for _, e := range s.events {
		if e.disabled {
			kept = append(kept, e)
			continue
		}
		if !now.Before(e.when) {
			due = append(due, e)
			if e.frequency > 0 {
				e.when = e.when.Add(e.frequency)
				if e.when.Before(now) {
					e.when = now.Add(e.frequency)
				}
				kept = append(kept, e)
			}
			// one-shot events are dropped (not re-appended)
		} else {
			kept = append(kept, e)
		}
	}
	s.events = kept
	s.mu.Unlock()

	for _, e := range due {
		e.fn(now)
	}
}

// Events returns a stable-ordered snapshot for the oper control
// channel's "events" command (spec §4.9).
type EventInfo struct {
	Name      string
	Frequency time.Duration
	When      time.Time
	Disabled  bool
}

func (s *Scheduler) Events() []EventInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventInfo, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, EventInfo{Name: e.name, Frequency: e.frequency, When: e.when, Disabled: e.disabled})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
