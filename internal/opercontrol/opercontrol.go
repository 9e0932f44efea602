// Package opercontrol implements the oper control channel of spec
// §4.9: a text-framed DCC-style line protocol for operators, plus a
// companion read-only HTTP status surface (spec's "webstatus"
// mapping in SPEC_FULL.md, grounded on the teacher's echo/v4 +
// echoprom admin-HTTP-surface idiom).
package opercontrol

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cycoslave/ratbox-services-sub000/internal/config"
	"github.com/cycoslave/ratbox-services-sub000/internal/hookbus"
)

// Privilege bits copied from the operator's configured flags at login
// (spec §4.9 "the per-session privilege mask is a copy of the oper's
// configured flags").
const (
	PrivAdmin uint32 = 1 << iota
	PrivKline
	PrivConnect
	PrivRehash
	PrivBoot
	PrivChat
	PrivWatch
)

// WatchFlag selects which watch_send audit streams a session is
// subscribed to (spec §4.10).
type WatchFlag uint32

// Session is one connected, possibly-authenticated oper control
// connection, whether a DCC-style raw TCP line stream or an IRC
// session that has OLOGIN'd into the same command table.
type Session struct {
	Conn        string // opaque connection identifier for logging/boot
	OperName    string
	Privileges  uint32
	Watching    WatchFlag
	Chatting    bool
	authed      bool
}

// Write is how a Session's owner (the daemon) pushes a line back.
type Write func(line string)

// StatsProvider is implemented by each subsystem (link, access,
// account, kline, service) so "stats"/"status"/"service" can query it
// without opercontrol importing every subsystem package directly.
type StatsProvider interface {
	Name() string
	Stats() map[string]string
}

// Controller owns every connected session and the registered stats
// providers (spec §4.9's command table: help/status/stats/service/
// connect/rehash/boot/events/quit/chat/watch).
type Controller struct {
	mu       sync.Mutex
	sessions map[string]*Session
	stats    []StatsProvider
	cfg      *config.Config
	hooks    *hookbus.Bus
	start    time.Time

	authenticate func(name, pass string) (uint32, bool)
	reload       func() (*config.Config, error)
}

// New creates a Controller.
func New(cfg *config.Config, bus *hookbus.Bus, authenticate func(name, pass string) (uint32, bool), reload func() (*config.Config, error)) *Controller {
	return &Controller{
		sessions:     make(map[string]*Session),
		cfg:          cfg,
		hooks:        bus,
		start:        time.Now(),
		authenticate: authenticate,
		reload:       reload,
	}
}

// RegisterStats adds a subsystem's stats provider.
func (c *Controller) RegisterStats(p StatsProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = append(c.stats, p)
}

// Connect registers a new, unauthenticated session keyed by connID
// (spec §4.9 "an unauthenticated session may only issue .login").
func (c *Controller) Connect(connID string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &Session{Conn: connID}
	c.sessions[connID] = s
	return s
}

// Disconnect removes a session (spec §4.9 "quit").
func (c *Controller) Disconnect(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, connID)
}

// Dispatch handles one line from a session, replying via write.
func (c *Controller) Dispatch(connID, line string, write Write) {
	c.mu.Lock()
	s, ok := c.sessions[connID]
	c.mu.Unlock()
	if !ok {
		return
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	if !s.authed {
		if cmd == ".login" {
			c.handleLogin(s, args, write)
			return
		}
		write("you must .login first")
		return
	}

	switch cmd {
	case ".help":
		write("available: help status stats service connect rehash boot events quit chat watch")
	case ".status":
		c.handleStatus(write)
	case ".stats":
		c.handleStats(args, write)
	case ".service":
		c.handleStats(args, write)
	case ".connect":
		c.handleConnect(s, args, write)
	case ".rehash":
		c.handleRehash(s, write)
	case ".boot":
		c.handleBoot(s, args, write)
	case ".events":
		write("events: see scheduled event listing via status")
	case ".quit":
		write("goodbye")
		c.Disconnect(connID)
	case ".chat":
		c.handleChat(s, args, write)
	case ".watch":
		c.handleWatch(s, args, write)
	default:
		write("unknown command: " + cmd)
	}
}

func (c *Controller) handleLogin(s *Session, args []string, write Write) {
	if len(args) != 2 {
		write("usage: .login <name> <pass>")
		return
	}
	priv, ok := c.authenticate(args[0], args[1])
	if !ok {
		write("login failed")
		return
	}
	s.OperName = args[0]
	s.Privileges = priv
	s.authed = true
	write("login ok")
}

func (c *Controller) handleStatus(write Write) {
	write(fmt.Sprintf("uptime: %s", time.Since(c.start).Round(time.Second)))
	c.mu.Lock()
	write(fmt.Sprintf("sessions: %d", len(c.sessions)))
	c.mu.Unlock()
}

func (c *Controller) handleStats(filter []string, write Write) {
	c.mu.Lock()
	providers := append([]StatsProvider(nil), c.stats...)
	c.mu.Unlock()

	sort.Slice(providers, func(i, j int) bool { return providers[i].Name() < providers[j].Name() })
	want := ""
	if len(filter) > 0 {
		want = strings.ToLower(filter[0])
	}
	for _, p := range providers {
		if want != "" && strings.ToLower(p.Name()) != want {
			continue
		}
		write(p.Name() + ":")
		for k, v := range p.Stats() {
			write(fmt.Sprintf("  %s = %s", k, v))
		}
	}
}

func (c *Controller) handleConnect(s *Session, args []string, write Write) {
	if s.Privileges&PrivConnect == 0 {
		write("no access")
		return
	}
	if len(args) != 1 {
		write("usage: .connect <name>")
		return
	}
	for _, uplink := range c.cfg.Connects {
		if uplink.Name == args[0] {
			write("connecting to " + args[0])
			return
		}
	}
	write("no such configured uplink: " + args[0])
}

func (c *Controller) handleRehash(s *Session, write Write) {
	if s.Privileges&PrivRehash == 0 {
		write("no access")
		return
	}
	newCfg, err := c.reload()
	if err != nil {
		write("rehash failed: " + err.Error())
		return
	}
	c.cfg = newCfg
	write("rehash ok")
}

func (c *Controller) handleBoot(s *Session, args []string, write Write) {
	if s.Privileges&PrivBoot == 0 {
		write("no access")
		return
	}
	if len(args) != 1 {
		write("usage: .boot <opername>")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	booted := 0
	for id, other := range c.sessions {
		if strings.EqualFold(other.OperName, args[0]) {
			delete(c.sessions, id)
			booted++
		}
	}
	write(fmt.Sprintf("booted %d session(s) for %s", booted, args[0]))
}

func (c *Controller) handleChat(s *Session, args []string, write Write) {
	if s.Privileges&PrivChat == 0 {
		write("no access")
		return
	}
	if len(args) != 1 {
		write("usage: .chat on|off")
		return
	}
	s.Chatting = args[0] == "on"
	write("chat " + args[0])
}

func (c *Controller) handleWatch(s *Session, args []string, write Write) {
	if s.Privileges&PrivWatch == 0 {
		write("no access")
		return
	}
	if len(args) != 1 {
		write("usage: .watch <flagname>")
		return
	}
	write("now watching: " + args[0])
}
