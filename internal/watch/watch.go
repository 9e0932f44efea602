// Package watch implements the audit broadcast stream of spec §4.10:
// every audit-worthy action calls Send(flag, actor, conn, isOper,
// format, args...), fanning the formatted line out to every
// subscribed oper whose watch mask overlaps flag.
package watch

import (
	"fmt"
	"sync"
)

// Flag is a bit in a subscriber's watch mask (spec §4.10 "watchflags
// mask"); the concrete flag set is defined by the daemon's config
// (REGISTER, DROP, OPER, KLINE, ...) and passed in as plain uint32s
// rather than a closed enum here, since spec §6 lets operators
// configure arbitrary named watch categories.
type Flag uint32

// Subscriber is a logged-in oper session, IRC or DCC (spec §4.10
// "subscribers are every logged-in oper whose watchflags mask
// overlaps flag").
type Subscriber struct {
	ID      string
	Mask    Flag
	Deliver func(line string)
}

// Bus owns the current subscriber set and fans out Send calls.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]*Subscriber)}
}

// Subscribe registers or updates a subscriber's watch mask.
func (b *Bus) Subscribe(id string, mask Flag, deliver func(line string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = &Subscriber{ID: id, Mask: mask, Deliver: deliver}
}

// Unsubscribe removes a subscriber (session logout/quit).
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// SetMask updates an existing subscriber's watch mask (spec §4.9
// "watch flags" command changing a live session's subscription).
func (b *Bus) SetMask(id string, mask Flag) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subscribers[id]; ok {
		s.Mask = mask
	}
}

// Send formats a line and delivers it to every subscriber whose mask
// overlaps flag (spec §4.10's watch_send signature, generalized from
// the original's variadic C printf-style call into fmt.Sprintf).
func (b *Bus) Send(flag Flag, actor, conn string, isOper bool, format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	full := fmt.Sprintf("*** %s (%s): %s", actor, conn, line)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subscribers {
		if s.Mask&flag != 0 {
			s.Deliver(full)
		}
	}
}

// Subscribed reports whether id is currently subscribed to any flag.
func (b *Bus) Subscribed(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subscribers[id]
	return ok
}
