package link

import (
	"strings"

	"github.com/cycoslave/ratbox-services-sub000/internal/chanstate"
)

// handleServer introduces a remote server, or completes our own
// handshake if we are still in Handshake state (spec §4.1: "our direct
// uplink during handshake, otherwise any remote server").
func (e *Engine) handleServer(m *Message) {
	if len(m.Params) < 1 {
		return
	}
	name := m.Params[0]
	if e.state == Handshake {
		e.state = Bursting
	}
	srv := &Client{
		Kind:    KindServer,
		Name:    name,
		Uplink:  e.Net.Me,
		Users:   make(map[string]*Client),
		Servers: make(map[string]*Client),
	}
	e.Net.AddClient(srv)
	e.Net.Me.Servers[name] = srv
}

// handleSID introduces a server with a TS6 3-character SID.
func (e *Engine) handleSID(m *Message) {
	if len(m.Params) < 3 {
		return
	}
	name, sid := m.Params[0], m.Params[2]
	srv := &Client{
		Kind:    KindServer,
		Name:    name,
		UID:     sid,
		Uplink:  e.Net.Me,
		Users:   make(map[string]*Client),
		Servers: make(map[string]*Client),
	}
	e.Net.AddClient(srv)
	e.Net.Me.Servers[name] = srv
}

// handleSQuit removes a server and, recursively, every user and
// server behind it, firing HookSQuit once per removed server (spec
// §4.1: "a hook fires per removed server for consumers (jupe
// reinforcement, etc.)").
func (e *Engine) handleSQuit(m *Message) {
	if len(m.Params) < 1 {
		return
	}
	srv := e.Net.FindClient(m.Params[0])
	if srv == nil || srv.Kind != KindServer {
		return
	}
	e.squitRecursive(srv)
}

func (e *Engine) squitRecursive(srv *Client) {
	for _, behind := range srv.Servers {
		e.squitRecursive(behind)
	}
	for _, u := range srv.Users {
		u.Dead = true
		e.Net.RemoveClient(u)
	}
	e.Net.RemoveClient(srv)
	if srv.Uplink != nil {
		delete(srv.Uplink.Servers, srv.Name)
	}
	e.Hooks.Call(e.hookPoint(HookSQuit), srv)
}

// handleNick handles both the pre-TS6 8-argument NICK introduction and
// a plain nick change from an already-known user.
func (e *Engine) handleNick(m *Message) {
	if len(m.Params) == 1 {
		e.nickChange(m)
		return
	}
	// pre-TS6 introduction: NICK nick hop ts umodes user host server :info
	if len(m.Params) < 8 {
		return
	}
	nick := m.Params[0]
	ts := mustAtoi(m.Params[2])
	user := m.Params[4]
	host := m.Params[5]
	server := m.Params[6]
	info := ""
	if len(m.Params) > 7 {
		info = m.Params[7]
	}
	e.introduceUser(nick, "", ts, user, host, "", server, info)
}

func (e *Engine) nickChange(m *Message) {
	var src *Client
	if m.Source != "" {
		src = e.Net.FindUID(m.Source)
		if src == nil {
			src = e.Net.FindClient(m.Source)
		}
	}
	if src == nil {
		return
	}
	e.Net.RemoveClient(src)
	src.Name = m.Params[0]
	e.Net.AddClient(src)
}

// handleUID handles the TS6 9-argument introduction (also covers
// EUID, whose extra two trailing params this parser tolerates since
// only the first nine are consulted).
func (e *Engine) handleUID(m *Message) {
	if len(m.Params) < 9 {
		return
	}
	nick := m.Params[0]
	ts := mustAtoi(m.Params[2])
	user := m.Params[4]
	host := m.Params[5]
	ip := m.Params[6]
	uid := m.Params[7]
	info := m.Params[8]
	server := ""
	if m.Source != "" {
		if s := e.Net.FindUID(m.Source); s != nil {
			server = s.Name
		} else if s := e.Net.FindClient(m.Source); s != nil {
			server = s.Name
		}
	}
	e.introduceUser(nick, uid, ts, user, host, ip, server, info)
}

// introduceUser applies the nick-collision rule of spec §4.1: "compare
// the incoming TS with the existing TS: if the incoming TS is strictly
// lower, exit the existing user and install the new one; otherwise
// drop the introduction." A collision against one of our own services
// at TS<=1 is a fatal "service fight", signalled by panicking (the
// daemon-level caller is expected to recover this into a die-with-
// reason per spec §7's fatal-error class).
func (e *Engine) introduceUser(nick, uid string, ts int64, user, host, ip, server, info string) *Client {
	if existing := e.Net.FindClient(nick); existing != nil && existing.Kind != KindServer {
		if existing.Kind == KindService {
			if ts <= 1 {
				panic("link: service fight over " + nick)
			}
			return nil
		}
		if ts < existing.TS {
			existing.Dead = true
			e.Net.RemoveClient(existing)
		} else {
			return nil
		}
	}

	srv := e.Net.FindClient(server)
	c := &Client{
		Kind:       KindUser,
		Name:       nick,
		UID:        uid,
		Username:   user,
		Host:       host,
		IP:         ip,
		ServerName: server,
		TS:         ts,
		Info:       info,
		Uplink:     srv,
		Channels:   make(map[string]*Membership),
	}
	e.Net.AddClient(c)
	e.Hooks.Call(e.hookPoint(HookNewClient), c)
	return c
}

// handleQuit removes a user from the network.
func (e *Engine) handleQuit(m *Message) {
	src := e.findSource(m.Source)
	if src == nil {
		return
	}
	src.Dead = true
	e.Net.RemoveClient(src)
}

// handleKill removes the targeted user; if the target is one of our
// services, it fires HookKill so the service layer can re-introduce
// and re-join the service's channels (spec §4.1: "A KILL directed at
// one of our services also triggers a full re-introduction").
func (e *Engine) handleKill(m *Message) {
	if len(m.Params) < 1 {
		return
	}
	target := e.findSource(m.Params[0])
	if target == nil {
		return
	}
	target.Dead = true
	wasService := target.Kind == KindService
	e.Net.RemoveClient(target)
	if wasService {
		e.Hooks.Call(e.hookPoint(HookKill), target)
	}
}

func (e *Engine) findSource(tok string) *Client {
	if c := e.Net.FindUID(tok); c != nil {
		return c
	}
	return e.Net.FindClient(tok)
}

// handleSJoin applies spec §4.1's TS-arbitrated channel (re)creation:
// lower incoming TS wipes local prefix state and replaces modes;
// higher incoming TS drops incoming prefixes; equal TS merges modes by
// union and lets existing prefixes win (spec Ambiguities decision).
func (e *Engine) handleSJoin(m *Message) {
	if len(m.Params) < 4 {
		return
	}
	ts := mustAtoi(m.Params[0])
	chName := m.Params[1]
	modeStr := m.Params[2]
	memberList := m.Params[3]

	ch := e.ensureChannel(chName, ts)
	mode := parseSimpleMode(modeStr)

	ch.Lock()
	existingTS := ch.TS
	var lowerTS, higherTS bool
	switch {
	case ts < existingTS:
		lowerTS = true
		ch.TS = ts
	case ts > existingTS:
		higherTS = true
	}
	ch.Unlock()

	if lowerTS {
		ch.WipeMembers()
		ch.ReplaceModes(mode)
	} else if !higherTS {
		ch.MergeModes(mode)
	}

	for _, tok := range strings.Fields(memberList) {
		opped, voiced, uid := parsePrefixedMember(tok)
		if higherTS {
			opped, voiced = false, false
		}
		ch.AddMember(uid, opped, voiced, !lowerTS)
		if u := e.Net.FindUID(uid); u != nil && u.Kind == KindUser {
			e.Hooks.Call(e.hookPoint(HookChannelJoin), JoinEvent{ChName: chName, UID: uid, Channel: ch})
		}
	}

	if lowerTS {
		e.Hooks.Call(e.hookPoint(HookSJoinLowerTS), ch)
	}
}

// parsePrefixedMember splits a SJOIN member token like "@alice" or
// "+bob" into its prefix flags and bare UID/nick.
func parsePrefixedMember(tok string) (opped, voiced bool, uid string) {
	for len(tok) > 0 {
		switch tok[0] {
		case '@':
			opped = true
			tok = tok[1:]
		case '+':
			voiced = true
			tok = tok[1:]
		default:
			return opped, voiced, tok
		}
	}
	return
}

// parseSimpleMode decodes a "+mnt" / "+lk key 10" style mode string
// into a chanstate.Mode. Only the handful of modes the spec's fabric
// actually inspects (limit 'l', key 'k') carry arguments; everything
// else is folded into Bits, one bit per letter offset from 'a'.
func parseSimpleMode(s string) chanstate.Mode {
	var mode chanstate.Mode
	add := true
	args := strings.Fields(s)
	if len(args) == 0 {
		return mode
	}
	letters := args[0]
	argIdx := 1
	for _, r := range letters {
		switch r {
		case '+':
			add = true
		case '-':
			add = false
		case 'k':
			if add && argIdx < len(args) {
				mode.Key = args[argIdx]
				argIdx++
			}
		case 'l':
			if add && argIdx < len(args) {
				mode.Limit = int(mustAtoi(args[argIdx]))
				argIdx++
			}
		default:
			bit := uint32(1) << uint(r-'a')
			if add {
				mode.Bits |= bit
			} else {
				mode.Bits &^= bit
			}
		}
	}
	return mode
}

// handleMode applies a non-TS6 channel mode change without a leading
// channel TS argument.
func (e *Engine) handleMode(m *Message) {
	if len(m.Params) < 2 {
		return
	}
	ch := e.Net.FindChannel(m.Params[0])
	if ch == nil {
		return
	}
	mode := parseSimpleMode(strings.Join(m.Params[1:], " "))
	ch.MergeModes(mode)
	e.Hooks.Call(e.hookPoint(HookChannelMode), ch)
}

// handleTMode is the TS6 mode form, carrying a channel TS that is
// compared against the live TS: a higher incoming TS drops the change
// outright (spec §4.1: "TMODE is the TS6 mode form and is dropped if
// its channel TS is higher than ours").
func (e *Engine) handleTMode(m *Message) {
	if len(m.Params) < 3 {
		return
	}
	ts := mustAtoi(m.Params[0])
	ch := e.Net.FindChannel(m.Params[1])
	if ch == nil {
		return
	}
	ch.RLock()
	existingTS := ch.TS
	ch.RUnlock()
	if ts > existingTS {
		return
	}
	mode := parseSimpleMode(strings.Join(m.Params[2:], " "))
	ch.MergeModes(mode)
	e.Hooks.Call(e.hookPoint(HookChannelMode), ch)
}

// handleBMask bulk-installs ban/except/invite masks, subject to the
// same TS rule as TMODE (spec §4.1).
func (e *Engine) handleBMask(m *Message) {
	if len(m.Params) < 4 {
		return
	}
	ts := mustAtoi(m.Params[0])
	ch := e.Net.FindChannel(m.Params[1])
	if ch == nil {
		return
	}
	ch.RLock()
	existingTS := ch.TS
	ch.RUnlock()
	if ts > existingTS {
		return
	}
	kind := m.Params[2]
	masks := strings.Fields(m.Params[3])
	for _, mask := range masks {
		switch kind {
		case "b":
			ch.AddBan(mask)
		case "e":
			ch.Excepts = append(ch.Excepts, mask)
		case "I":
			ch.Invites = append(ch.Invites, mask)
		}
	}
}

// handleTopic sets a channel's topic from a live TOPIC message.
func (e *Engine) handleTopic(m *Message) {
	if len(m.Params) < 2 {
		return
	}
	ch := e.Net.FindChannel(m.Params[0])
	if ch == nil {
		return
	}
	ch.Lock()
	ch.Topic = m.Params[len(m.Params)-1]
	if m.Source != "" {
		ch.TopicSetter = m.Source
	}
	ch.Unlock()
	e.Hooks.Call(e.hookPoint(HookTopicChange), ch)
}

// handleTB applies a topic-burst line: "TB <channel> <topicTS> [setter] :<topic>".
func (e *Engine) handleTB(m *Message) {
	if len(m.Params) < 3 {
		return
	}
	ch := e.Net.FindChannel(m.Params[0])
	if ch == nil {
		return
	}
	topicTS := mustAtoi(m.Params[1])
	topic := m.Params[len(m.Params)-1]
	setter := ""
	if len(m.Params) > 3 {
		setter = m.Params[2]
	}
	ch.Lock()
	if topicTS >= ch.TopicTS {
		ch.Topic = topic
		ch.TopicSetter = setter
		ch.TopicTS = topicTS
	}
	ch.Unlock()
}

// handlePrivmsgNotice fires HookPrivmsg for a single-target message;
// routing to the right service command dispatcher (internal/service)
// happens entirely outside this package via a listener the daemon
// attaches at startup. Multi-target and channel-addressed messages
// are not services traffic and are dropped here.
func (e *Engine) handlePrivmsgNotice(m *Message) {
	if len(m.Params) < 2 {
		return
	}
	target := m.Params[0]
	if strings.ContainsAny(target, "#,") {
		return
	}
	e.Hooks.Call(e.hookPoint(HookPrivmsg), PrivmsgEvent{
		SourceUID: m.Source,
		TargetUID: target,
		Text:      m.Params[1],
	})
}

// handleEncap dispatches ENCAP subcommands. Only SU (bind an account
// to a UID, per spec §6) is handled, by firing HookEncapSU; every
// other subcommand, KLINE/XLINE/RESV included, is ignored.
func (e *Engine) handleEncap(m *Message) {
	if len(m.Params) < 2 {
		return
	}
	sub := m.Params[1]
	switch sub {
	case "SU":
		if len(m.Params) < 4 {
			return
		}
		e.Hooks.Call(e.hookPoint(HookEncapSU), m.Params[2:])
	}
}

// handleEOB marks end-of-burst on the sending server and, if it is
// our direct uplink, transitions the engine to Registered and fires
// HookEndOfBurst once so daemon-level listeners can run spec §4.1's
// post-burst step (services rejoin, topic burst).
func (e *Engine) handleEOB(m *Message) {
	src := e.findSource(m.Source)
	if src != nil {
		src.EndOfBurst = true
	}
	if e.state == Bursting {
		e.state = Registered
		e.Hooks.Call(e.hookPoint(HookEndOfBurst), nil)
	}
}
