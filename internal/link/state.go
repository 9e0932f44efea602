package link

import (
	"strings"
	"sync"

	"github.com/cycoslave/ratbox-services-sub000/internal/casemap"
	"github.com/cycoslave/ratbox-services-sub000/internal/chanstate"
)

// ClientKind distinguishes the three Client variants of spec §3.
type ClientKind int

const (
	KindServer ClientKind = iota
	KindUser
	KindService
)

// Client is the unified entity of spec §3: "a unified entity that is
// exactly one of: server, user, or service". Variant-only fields are
// grouped below and left zero for the kinds that don't use them,
// matching the teacher's single-struct Client (irc/client.go) rather
// than an interface hierarchy — cheaper to index and to walk in hot
// paths (join/part/mode batching) than a tagged union of pointers.
type Client struct {
	Kind ClientKind

	Name string // display name: nickname, server name, or service nick
	UID  string // always set for services and TS6-introduced users
	Info string

	Dead         bool
	EndOfBurst   bool
	ForceNick    bool // uplink supports forced-nick-change (RSFNC)
	Uplink       *Client

	// user fields
	Username    string
	Host        string
	IP          string
	ServerName  string
	TS          int64
	UserModes   uint32
	FloodCount  int
	AccountName string // "" if not logged in
	OperName    string // "" if not oper-authed
	Watch       uint32
	Channels    map[string]*Membership // keyed by folded channel name

	// server fields
	Users        map[string]*Client // users introduced behind this server, by UID
	Servers      map[string]*Client // servers directly behind this one
	HopCount     int

	// service fields
	ServiceID    string
	CommandTable string // name of the registered command table
	FloodAccum   int
	FloodBound   int
	MergeChain   []string
	Stats        map[string]int64
}

// Membership binds a user to a channel (spec §3's Member record plus
// the two-way join described in Design Notes: "the membership record
// acts as the join and holds both sides' linked-list nodes"). The
// channel's own member flags live in chanstate.Member; this struct is
// the user-side half of the join.
type Membership struct {
	User    *Client
	Channel *chanstate.Channel
}

// Network owns every live Client and Channel, indexed by folded name
// and (for clients) by UID. This is the "table-of-records with stable
// identifiers" Design Notes calls for, and the "single context value
// passed through the system" in place of scattered globals.
type Network struct {
	mu sync.RWMutex

	byName map[string]*Client            // folded name -> client
	byUID  map[string]*Client            // UID -> client
	chans  map[string]*chanstate.Channel // folded channel name -> channel

	Me *Client // our own server Client
}

// NewNetwork creates an empty Network rooted at our own server client.
func NewNetwork(serverName, sid string) *Network {
	me := &Client{
		Kind:    KindServer,
		Name:    serverName,
		UID:     sid,
		Users:   make(map[string]*Client),
		Servers: make(map[string]*Client),
	}
	n := &Network{
		byName: make(map[string]*Client),
		byUID:  make(map[string]*Client),
		chans:  make(map[string]*chanstate.Channel),
		Me:     me,
	}
	n.byName[casemap.Fold(serverName)] = me
	if sid != "" {
		n.byUID[sid] = me
	}
	return n
}

func (n *Network) FindClient(name string) *Client {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.byName[casemap.Fold(name)]
}

func (n *Network) FindUID(uid string) *Client {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.byUID[uid]
}

func (n *Network) FindChannel(name string) *chanstate.Channel {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.chans[casemap.Fold(name)]
}

func (n *Network) GetOrCreateChannel(name string, ts int64) *chanstate.Channel {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := casemap.Fold(name)
	if ch, ok := n.chans[key]; ok {
		return ch
	}
	ch := chanstate.New(name, ts)
	n.chans[key] = ch
	return ch
}

// AddClient registers a client in the name table and, if it carries a
// UID, the UID table too (spec §3 invariant: "exactly one of the name
// tables and at most one of the UID tables").
func (n *Network) AddClient(c *Client) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.byName[casemap.Fold(c.Name)] = c
	if c.UID != "" {
		n.byUID[c.UID] = c
	}
	if c.Uplink != nil {
		c.Uplink.Users[c.UID] = c
	}
}

// RemoveClient is phase one of the two-phase exit (spec §3: "marked
// dead, moved to an exit queue, memory released at the next safe
// point"). Callers typically mark Dead first, run exit hooks, then
// call RemoveClient to unlink from all tables.
func (n *Network) RemoveClient(c *Client) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.byName, casemap.Fold(c.Name))
	if c.UID != "" {
		delete(n.byUID, c.UID)
	}
	if c.Uplink != nil {
		delete(c.Uplink.Users, c.UID)
	}
}

// Channels returns a snapshot of every live channel, for callers that
// need to enumerate the network rather than look up one name (ALIS's
// wildcard search, spec §4.9's "service" listing).
func (n *Network) Channels() []*chanstate.Channel {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*chanstate.Channel, 0, len(n.chans))
	for _, ch := range n.chans {
		out = append(out, ch)
	}
	return out
}

// RemoveChannel drops a channel entirely (used when the last member
// parts and the channel is not registered, or by access-engine expiry
// once the registered record is gone too).
func (n *Network) RemoveChannel(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.chans, casemap.Fold(name))
}

// Mask renders a user's nick!user@host composite.
func (c *Client) Mask() string {
	return FormatHostmask(c.Name, c.Username, c.Host)
}

// MatchesUID reports whether s looks like a 9-character TS6 UID
// rather than a plain nickname (3-char SID prefix + 6-char suffix).
func MatchesUID(s string) bool {
	return len(s) == 9 && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	}) == -1
}
