package link

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/textproto"
	"time"

	"github.com/cycoslave/ratbox-services-sub000/internal/chanstate"
	"github.com/cycoslave/ratbox-services-sub000/internal/hookbus"
	"github.com/cycoslave/ratbox-services-sub000/internal/retry"
)

// State is the uplink connection's position in the handshake state
// machine of spec §4.1.
type State int

const (
	Disconnected State = iota
	Connecting
	Handshake
	Bursting
	Registered
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Handshake:
		return "HANDSHAKE"
	case Bursting:
		return "BURSTING"
	case Registered:
		return "REGISTERED"
	default:
		return "UNKNOWN"
	}
}

// Hook points other packages (account, access, kline, watch) attach
// listeners to, named the way ratbox's hook.c names its hook points.
const (
	HookNewClient     = "link:new_client"
	HookSQuit         = "link:squit"
	HookSJoinLowerTS  = "link:sjoin_lower_ts"
	HookChannelMode   = "link:channel_mode"
	HookTopicChange   = "link:topic_change"
	HookKill          = "link:kill"
	HookEncapSU       = "link:encap_su"
	HookPrivmsg       = "link:privmsg"
	HookChannelJoin   = "link:channel_join"
	HookEndOfBurst    = "link:end_of_burst"
)

// PrivmsgEvent is the payload fired on HookPrivmsg for every PRIVMSG/
// NOTICE targeting a single client (service dispatch lives outside
// this package; see internal/service and internal/daemon).
type PrivmsgEvent struct {
	SourceUID string
	TargetUID string
	Text      string
}

// JoinEvent is the payload fired on HookChannelJoin once per member
// added to a channel by SJOIN, mirroring original_source's
// HOOK_JOIN_CHANNEL (s_chanserv.c's h_chanserv_join is attached here).
// This protocol has no separate live single-user JOIN verb distinct
// from SJOIN: a leaf server always relays a client's JOIN to its
// uplink as an SJOIN carrying that one member, so handleSJoin's member
// loop is the single, complete firing site for both burst and live
// joins.
type JoinEvent struct {
	ChName  string
	UID     string
	Channel *chanstate.Channel
}

// UplinkConfig describes a single configured uplink (spec §6
// `connect { host, password, vhost, port, autoconn }`).
type UplinkConfig struct {
	Name     string
	Host     string
	Port     int
	Password string
	VHost    string
	AutoConn bool
}

// Engine drives a single uplink connection through the handshake state
// machine, dispatching parsed wire messages into the shared Network
// and Hook bus. Only one uplink is ever active at a time (spec §1
// Non-goals: "it does not attempt multi-peer federation").
type Engine struct {
	Net   *Network
	Hooks *hookbus.Bus
	UIDs  *UIDGenerator

	ServerName string
	SID        string

	state  State
	conn   net.Conn
	reader *textproto.Reader
	writer *bufio.Writer

	cfg UplinkConfig

	pingTime       time.Duration
	reconnectTime  time.Duration
	lastRecv       time.Time
	endOfBurstSent bool

	hookPoints map[string]hookbus.Point
}

// New creates an Engine for our own server identity, with every hook
// point registered on bus up front so attach order never matters.
func New(net_ *Network, bus *hookbus.Bus, serverName, sid string, pingTime, reconnectTime time.Duration) *Engine {
	points := make(map[string]hookbus.Point)
	for _, name := range []string{
		HookNewClient, HookSQuit, HookSJoinLowerTS, HookChannelMode,
		HookTopicChange, HookKill, HookEncapSU, HookPrivmsg,
		HookChannelJoin, HookEndOfBurst,
	} {
		points[name] = bus.Register(name)
	}
	return &Engine{
		Net:           net_,
		Hooks:         bus,
		UIDs:          NewUIDGenerator(sid),
		ServerName:    serverName,
		SID:           sid,
		pingTime:      pingTime,
		reconnectTime: reconnectTime,
		hookPoints:    points,
	}
}

// State reports the current handshake state.
func (e *Engine) State() State { return e.state }

// Connect dials cfg's uplink and performs the PASS/CAPAB/SERVER
// handshake, retrying the dial (not the whole handshake — a failed
// handshake is a protocol error, not a transient one) per
// internal/retry's bounded policy.
func (e *Engine) Connect(ctx context.Context, cfg UplinkConfig) error {
	e.cfg = cfg
	e.state = Connecting

	var conn net.Conn
	err := retry.Poll(func() error {
		c, dialErr := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), 10*time.Second)
		if dialErr != nil {
			return dialErr
		}
		conn = c
		return nil
	}, &retry.Options{
		Budget:   30 * time.Second,
		Strategy: retry.NewExponentialBackoff(time.Second, 2, 10*time.Second, true),
		Context:  ctx,
	})
	if err != nil {
		e.state = Disconnected
		return fmt.Errorf("link: connect to %s: %w", cfg.Name, err)
	}

	e.conn = conn
	e.reader = textproto.NewReader(bufio.NewReader(conn))
	e.writer = bufio.NewWriter(conn)
	e.state = Handshake
	e.lastRecv = time.Now()

	e.Send(&Message{Verb: "PASS", Params: []string{cfg.Password, "TS", "6", e.SID}})
	e.Send(&Message{Verb: "CAPAB", Params: []string{"QS EX CHW IE KLN UNKLN GLN KNOCK TB ENCAP SERVICES RSFNC SAVE EUID"}})
	e.Send(&Message{Verb: "SERVER", Params: []string{e.ServerName, "1", e.infoString()}})
	return nil
}

func (e *Engine) infoString() string {
	return "services"
}

// Send writes one message to the uplink, CRLF-terminated.
func (e *Engine) Send(m *Message) error {
	if e.writer == nil {
		return fmt.Errorf("link: not connected")
	}
	if _, err := e.writer.WriteString(m.String() + "\r\n"); err != nil {
		return err
	}
	return e.writer.Flush()
}

// ReadOne blocks for a single line from the uplink, parses it, and
// dispatches it. It returns the parsed message (nil on a blank or
// malformed line) and any fatal I/O error, which the caller should
// treat as an unconditional transition to Disconnected plus a
// reconnect schedule (spec §4.1 states list).
func (e *Engine) ReadOne() (*Message, error) {
	line, err := e.reader.ReadLine()
	if err != nil {
		e.state = Disconnected
		return nil, err
	}
	e.lastRecv = time.Now()
	msg := ParseMessage(line)
	if msg == nil {
		return nil, nil
	}
	e.dispatch(msg)
	return msg, nil
}

// Stalled reports whether no data has arrived within pingTime,
// matching spec §5 "Link timeouts: if no data from uplink within
// ping_time, the link is declared dead".
func (e *Engine) Stalled(now time.Time) bool {
	return e.state != Disconnected && now.Sub(e.lastRecv) > e.pingTime
}

// Disconnect tears down the connection and moves to Disconnected.
// Reconnecting is the caller's job: the daemon's read loop redials
// through internal/retry's exponential backoff. The engine's
// reconnectTime is stored but not consulted.
func (e *Engine) Disconnect() {
	if e.conn != nil {
		e.conn.Close()
	}
	e.conn = nil
	e.state = Disconnected
}

func (e *Engine) dispatch(m *Message) {
	switch m.Verb {
	case "PING":
		e.handlePing(m)
	case "PONG":
		// no-op: arrival alone already reset lastRecv
	case "PASS":
		// handled synchronously during Connect; ignore on the wire
	case "CAPAB":
		// capability negotiation; nothing to record beyond accepting it
	case "SERVER":
		e.handleServer(m)
	case "SID":
		e.handleSID(m)
	case "NICK":
		e.handleNick(m)
	case "UID":
		e.handleUID(m)
	case "EUID":
		e.handleUID(m)
	case "SQUIT":
		e.handleSQuit(m)
	case "QUIT":
		e.handleQuit(m)
	case "KILL":
		e.handleKill(m)
	case "SJOIN":
		e.handleSJoin(m)
	case "MODE":
		e.handleMode(m)
	case "TMODE":
		e.handleTMode(m)
	case "BMASK":
		e.handleBMask(m)
	case "TOPIC":
		e.handleTopic(m)
	case "TB":
		e.handleTB(m)
	case "PRIVMSG", "NOTICE":
		e.handlePrivmsgNotice(m)
	case "WALLOPS":
		// broadcast to opers; left to the watch/oper layers to consume
	case "ENCAP":
		e.handleEncap(m)
	case "EOB":
		e.handleEOB(m)
	default:
		// spec §4.1: "Unknown verbs are silently ignored."
	}
}

func (e *Engine) handlePing(m *Message) {
	e.Send(&Message{Verb: "PONG", Params: append([]string{e.ServerName}, m.Params...)})
}

// ensureChannel finds a channel, logging nothing: callers that need to
// distinguish "already existed" from "just created" use
// Net.GetOrCreateChannel directly.
func (e *Engine) ensureChannel(name string, ts int64) *chanstate.Channel {
	return e.Net.GetOrCreateChannel(name, ts)
}

// hookPoint resolves a hook name registered in New to its Point,
// panicking if called with a name New did not register (a programmer
// error, not a runtime condition).
func (e *Engine) hookPoint(name string) hookbus.Point {
	p, ok := e.hookPoints[name]
	if !ok {
		panic("link: unregistered hook point " + name)
	}
	return p
}

func mustAtoi(s string) int64 {
	var n int64
	neg := false
	for i, r := range s {
		if i == 0 && r == '-' {
			neg = true
			continue
		}
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int64(r-'0')
	}
	if neg {
		n = -n
	}
	return n
}
