package chanstate

import "strings"

// MaxModes is the most mode letters a single emitted line may carry
// (spec §4.3, Testable Property 6).
const MaxModes = 10

// lineBudget is BUFSIZE-3, the byte budget for an emitted line's
// modes+args portion (spec §4.3). 512 matches internal/link.BUFSIZE;
// duplicated as a constant rather than imported to keep chanstate free
// of a dependency on the link package's wire framing.
const lineBudget = 512 - 3

// ModeBuilder accumulates channel-mode changes issued during a single
// hook invocation and emits the minimum number of wire lines once
// Flush is called, honouring MaxModes and lineBudget (spec §4.3).
// Grounded on original_source/src/s_newconf.c-style modebuild helpers
// referenced by spec §4.1/§4.2's "consolidated MODE/TMODE".
type ModeBuilder struct {
	header string // e.g. "#channel" target the mode line is for
	lines  []string

	addFlags string
	delFlags string
	args     []string
	count    int
	byteLen  int
}

// NewModeBuilder starts a batch targeting the given channel name.
func NewModeBuilder(channel string) *ModeBuilder {
	return &ModeBuilder{header: channel}
}

// Add queues one mode change (add=true for '+', false for '-') with
// an optional argument (empty string for argumentless modes). It
// flushes the current line first if adding would exceed MaxModes or
// lineBudget.
func (b *ModeBuilder) Add(add bool, letter byte, arg string) {
	argLen := 0
	if arg != "" {
		argLen = len(arg) + 1 // +1 for the separating space
	}
	if b.count >= MaxModes || b.byteLen+argLen+1 > lineBudget {
		b.flushLine()
	}
	if add {
		b.addFlags += string(letter)
	} else {
		b.delFlags += string(letter)
	}
	if arg != "" {
		b.args = append(b.args, arg)
		b.byteLen += argLen
	}
	b.count++
	b.byteLen++ // the letter itself
}

func (b *ModeBuilder) flushLine() {
	if b.count == 0 {
		return
	}
	var flags strings.Builder
	if b.addFlags != "" {
		flags.WriteByte('+')
		flags.WriteString(b.addFlags)
	}
	if b.delFlags != "" {
		flags.WriteByte('-')
		flags.WriteString(b.delFlags)
	}
	parts := append([]string{b.header, flags.String()}, b.args...)
	b.lines = append(b.lines, strings.Join(parts, " "))
	b.addFlags, b.delFlags, b.args = "", "", nil
	b.count, b.byteLen = 0, 0
}

// Flush finalises the batch and returns every MODE line body to emit
// (the caller prefixes "MODE " or "TMODE <ts> " and a source as the
// wire layer requires).
func (b *ModeBuilder) Flush() []string {
	b.flushLine()
	out := b.lines
	b.lines = nil
	return out
}

// Empty reports whether anything has been queued since the last Flush.
func (b *ModeBuilder) Empty() bool {
	return b.count == 0 && len(b.lines) == 0
}

// KickBuilder accumulates kicks against a single channel during one
// hook invocation, batching multiple targets sharing a reason onto
// one KICK line subject to the same lineBudget (spec §4.3).
type KickBuilder struct {
	channel string
	reason  string
	targets []string
	lines   []string
	byteLen int
}

// NewKickBuilder starts a batch targeting channel, with a shared
// reason for every kick in this batch.
func NewKickBuilder(channel, reason string) *KickBuilder {
	return &KickBuilder{channel: channel, reason: reason}
}

// Add queues one kick target, flushing the current line first if the
// addition would exceed lineBudget.
func (b *KickBuilder) Add(target string) {
	addLen := len(target) + 1
	if b.byteLen+addLen > lineBudget {
		b.flushLine()
	}
	b.targets = append(b.targets, target)
	b.byteLen += addLen
}

func (b *KickBuilder) flushLine() {
	if len(b.targets) == 0 {
		return
	}
	line := b.channel + " " + strings.Join(b.targets, ",") + " :" + b.reason
	b.lines = append(b.lines, line)
	b.targets = nil
	b.byteLen = 0
}

// Flush finalises the batch and returns every KICK line body.
func (b *KickBuilder) Flush() []string {
	b.flushLine()
	out := b.lines
	b.lines = nil
	return out
}
