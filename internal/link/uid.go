package link

import "fmt"

// uidAlphabet cycles letters-then-digits per spec §6: "a monotonically
// advancing 6-character base-36 counter (AAAAAA..ZZZZZZ with 0-9A-Z
// digit set)" — i.e. each position rolls over through 'A'-'Z' before
// advancing into '0'-'9', not a conventional base-36 digit order.
const uidAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// UIDGenerator produces the strictly increasing 6-character suffixes
// of Testable Property 4, prefixed with the daemon's own SID.
type UIDGenerator struct {
	sid     string
	counter [6]int // each in [0, len(uidAlphabet)), counter[0] is least significant
	done    bool
}

// NewUIDGenerator creates a generator seeded at AAAAAA.
func NewUIDGenerator(sid string) *UIDGenerator {
	return &UIDGenerator{sid: sid}
}

// Next returns the next UID, or panics once every suffix has been
// issued — Testable Property 4 requires overflow to assert rather
// than silently wrap and collide.
func (g *UIDGenerator) Next() string {
	if g.done {
		panic("link: UID space exhausted for SID " + g.sid)
	}
	suffix := make([]byte, 6)
	for i := 0; i < 6; i++ {
		suffix[5-i] = uidAlphabet[g.counter[i]]
	}
	g.advance()
	return fmt.Sprintf("%s%s", g.sid, suffix)
}

func (g *UIDGenerator) advance() {
	for i := 0; i < 6; i++ {
		g.counter[i]++
		if g.counter[i] < len(uidAlphabet) {
			return
		}
		g.counter[i] = 0
	}
	g.done = true
}
