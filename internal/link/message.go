// Package link implements the uplink state machine and message
// pipeline of spec §4.1: handshake, burst import, client/server/
// channel reconstruction, TS conflict resolution, and forwarding.
// Line tokenizing is built on girc's Event/Source parser (the teacher
// embeds girc as a client-mode bridge bot in irc/server/botapi.go; the
// same prefix/command/params/trailing tokenizer applies unchanged to
// TS6 server-to-server lines, which share RFC1459's wire grammar), with
// the spec's MAXPARA and BUFSIZE bounds and a case-insensitive verb
// table layered on top the way original_source/src/parse.c's msgtab
// dispatch does it.
package link

import (
	"fmt"
	"strings"

	"github.com/lrstanley/girc"
)

// BUFSIZE is the maximum wire line length, including the trailing
// CRLF (spec §4.1, §4.3).
const BUFSIZE = 512

// MAXPARA is the maximum number of space-delimited arguments before
// the optional trailing parameter (spec §4.1).
const MAXPARA = 15

// Message is one decoded wire line: optional source, verb, and
// arguments, mirroring the teacher's irc.Message shape.
type Message struct {
	Source string
	Verb   string
	Params []string
}

// ParseMessage decodes a single CRLF-stripped wire line via girc's
// Event tokenizer, then reshapes it into a flat Message the rest of
// this package already works with. Unknown verbs are not rejected
// here; the caller's command table silently ignores them (spec §4.1
// "Unknown verbs are silently ignored").
func ParseMessage(line string) *Message {
	if line == "" {
		return nil
	}
	if len(line) > BUFSIZE {
		line = line[:BUFSIZE]
	}

	ev := girc.ParseEvent(line)
	if ev == nil || ev.Command == "" {
		return nil
	}

	msg := &Message{Verb: ev.Command}
	if ev.Source != nil {
		msg.Source = ev.Source.String()
	}

	msg.Params = append(msg.Params, ev.Params...)
	if ev.Trailing != "" || ev.EmptyTrailing {
		msg.Params = append(msg.Params, ev.Trailing)
	}
	if len(msg.Params) > MAXPARA {
		msg.Params = msg.Params[:MAXPARA]
	}
	return msg
}

// String renders the message back to wire form.
func (m *Message) String() string {
	var b strings.Builder
	if m.Source != "" {
		b.WriteByte(':')
		b.WriteString(m.Source)
		b.WriteByte(' ')
	}
	b.WriteString(m.Verb)
	for i, p := range m.Params {
		b.WriteByte(' ')
		if i == len(m.Params)-1 && (strings.Contains(p, " ") || strings.HasPrefix(p, ":") || p == "") {
			b.WriteByte(':')
		}
		b.WriteString(p)
	}
	return b.String()
}

// SplitHostmask decomposes nick!user@host, matching
// irc.ParseHostmask's tolerant behaviour on partial masks.
func SplitHostmask(mask string) (nick, user, host string) {
	nickRest := strings.SplitN(mask, "!", 2)
	if len(nickRest) < 2 {
		return mask, "", ""
	}
	nick = nickRest[0]
	userHost := strings.SplitN(nickRest[1], "@", 2)
	if len(userHost) < 2 {
		return nick, nickRest[1], ""
	}
	return nick, userHost[0], userHost[1]
}

// FormatHostmask is the inverse of SplitHostmask.
func FormatHostmask(nick, user, host string) string {
	return fmt.Sprintf("%s!%s@%s", nick, user, host)
}
