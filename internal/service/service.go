// Package service implements the service command dispatcher of spec
// §4.6: per-service sorted command tables, flood control, privilege
// and login gating, HELP rendering, and service merge/unmerge.
package service

import (
	"sort"
	"strings"
	"time"

	"github.com/cycoslave/ratbox-services-sub000/internal/help"
	"github.com/cycoslave/ratbox-services-sub000/internal/lang"
)

// Privilege bits a command may require of the caller (spec §4.6
// "dispatch checks login state, oper privilege, and argument count
// before the handler ever runs").
const (
	ReqLogin uint32 = 1 << iota
	ReqOper
	ReqShortcut // command only runs when invoked via a service's nick-addressed shortcut, not /msg
)

// Context is everything a Handler needs about the invoking client and
// the raw command line; it is deliberately narrow (UID/mask/account
// only) so internal/service never imports internal/link.
type Context struct {
	UID         string
	Mask        string // nick!user@host
	AccountName string
	IsOper      bool
	Lang        string
	Args        []string
	ViaShortcut bool // true when this is a nick-addressed shortcut, not a /msg <service> line
}

// Reply is how a Handler talks back; the caller (the daemon's
// dispatch loop) turns these into NOTICE/PRIVMSG wire lines.
type Reply func(line string)

// Handler is one service command's implementation. The returned int
// is an additional flood cost charged on top of the command's static
// FloodCost (spec §4.6 "Handler returns an integer flood-cost which is
// added to both user and service accumulators"); most handlers return
// 0, meaning "just the static cost".
type Handler func(ctx Context, reply Reply) (int, error)

// OperAuthenticator validates an OLOGIN attempt (spec §4.6 steps 4-5):
// given the invoking user's context and the named oper block plus
// password, it reports whether authentication succeeded. Left nil,
// OLOGIN always fails for that service.
type OperAuthenticator func(ctx Context, operBlockName, password string) bool

// OperLoginHook is notified after a successful OLOGIN/OLOGOUT so the
// caller (internal/daemon, which alone touches live client state) can
// flip the user's oper flag and emit an audit line (spec §4.6 step 6).
// operBlockName is "" on logout.
type OperLoginHook func(ctx Context, operBlockName string, loggingIn bool)

// Command describes one entry in a service's command table (spec §4.6
// "command tables are kept sorted for binary-search dispatch").
type Command struct {
	Name      string
	Handler   Handler
	Requires  uint32
	MinArgs   int
	HelpID    lang.ID
	FloodCost int // static flood cost charged whenever this command runs
}

// FloodConfig tunes the per-user flood window (spec §4.6 "flood_max
// commands within the flood window trigers an ignore; flood_max_ignore
// repeats extends the ignore duration").
type FloodConfig struct {
	Window       time.Duration
	Max          int
	MaxIgnore    int
	IgnoreWindow time.Duration
}

type floodState struct {
	windowStart time.Time
	count       int
	ignoredTil  time.Time
	ignoreCount int
	cost        int64 // cumulative flood cost charged against this mask
}

// Service is one running service personality (NickServ, ChanServ, ...).
type Service struct {
	Name     string
	commands []Command
	merged   map[string][]Command // name of merged-in service -> its original table, for Unmerge

	flood map[string]*floodState
	cfg   FloodConfig

	help *help.Cache
	lang *lang.Catalogue

	ignoreHosts map[string]bool

	usage        map[string]int64 // per-command usage counter (spec §3 "running counters for /stats")
	ignoredCount int64            // dispatches dropped for an ignored host
	pacedCount   int64            // dispatches dropped for tripping the flood window
	floodTotal   int64            // service-side flood cost accumulator

	// OperAuth and OperNotify implement OLOGIN/OLOGOUT (spec §4.6 steps
	// 4-6); left nil, a service simply has no oper-login support.
	OperAuth   OperAuthenticator
	OperNotify OperLoginHook
}

// New creates a Service with an empty, sorted command table.
func New(name string, cfg FloodConfig, helpCache *help.Cache, catalogue *lang.Catalogue) *Service {
	return &Service{
		Name:        name,
		merged:      make(map[string][]Command),
		flood:       make(map[string]*floodState),
		cfg:         cfg,
		help:        helpCache,
		lang:        catalogue,
		ignoreHosts: make(map[string]bool),
		usage:       make(map[string]int64),
	}
}

// Register adds a command, keeping the table sorted by name so
// Dispatch can binary-search it (spec §4.6).
func (s *Service) Register(cmd Command) {
	s.commands = append(s.commands, cmd)
	sort.Slice(s.commands, func(i, j int) bool { return s.commands[i].Name < s.commands[j].Name })
}

// IgnoreHost adds a host to the ignore list; dispatch silently drops
// commands from an ignored host (spec §4.6 "an ignored host's commands
// are dropped before flood accounting even runs").
func (s *Service) IgnoreHost(host string) { s.ignoreHosts[strings.ToLower(host)] = true }

// UnignoreHost removes a host from the ignore list (spec §4.6
// "DELIGNORE").
func (s *Service) UnignoreHost(host string) { delete(s.ignoreHosts, strings.ToLower(host)) }

// IgnoredHosts lists every currently ignored host (spec §4.6
// "LISTIGNORES"), sorted for deterministic output.
func (s *Service) IgnoredHosts() []string {
	hosts := make([]string, 0, len(s.ignoreHosts))
	for h := range s.ignoreHosts {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

func (s *Service) isIgnored(mask string) bool {
	_, _, host := splitMask(mask)
	return s.ignoreHosts[strings.ToLower(host)]
}

func splitMask(mask string) (nick, user, host string) {
	bang := strings.IndexByte(mask, '!')
	at := strings.IndexByte(mask, '@')
	if bang < 0 || at < 0 || at < bang {
		return mask, "", ""
	}
	return mask[:bang], mask[bang+1 : at], mask[at+1:]
}

// lookup does the binary search spec §4.6 calls for.
func (s *Service) lookup(name string) (Command, bool) {
	i := sort.Search(len(s.commands), func(i int) bool { return s.commands[i].Name >= name })
	if i < len(s.commands) && s.commands[i].Name == name {
		return s.commands[i], true
	}
	return Command{}, false
}

// Dispatch runs one command line against this service's table,
// enforcing ignore, flood, HELP/OLOGIN/OLOGOUT special cases,
// unknown-command, shortcut, login, privilege, and arg-count gates in
// that order (original_source's handle_service), charging flood cost to both the
// per-user and service-wide accumulators as it goes.
func (s *Service) Dispatch(ctx Context, now time.Time, reply Reply) {
	if len(ctx.Args) == 0 {
		return
	}
	name := strings.ToUpper(ctx.Args[0])
	rest := ctx.Args[1:]

	if s.isIgnored(ctx.Mask) && name != "OLOGIN" {
		s.ignoredCount++
		return
	}

	if s.floodCheck(ctx.Mask, now) {
		s.pacedCount++
		return
	}

	switch name {
	case "HELP":
		s.addCost(ctx.Mask, 2)
		topic := ""
		if len(rest) > 0 {
			topic = strings.ToUpper(rest[0])
		}
		text, ok := s.Help(ctx.Lang, topic)
		if !ok {
			reply(s.msg(ctx.Lang, MsgUnknownCommand))
			return
		}
		for _, line := range strings.Split(text, "\n") {
			reply(line)
		}
		return
	case "OLOGIN":
		s.addCost(ctx.Mask, 1)
		if len(rest) < 2 {
			reply(s.msg(ctx.Lang, MsgSyntax))
			return
		}
		if s.OperAuth == nil || !s.OperAuth(ctx, rest[0], rest[1]) {
			reply(s.msg(ctx.Lang, MsgNoAccess))
			return
		}
		if s.OperNotify != nil {
			s.OperNotify(ctx, rest[0], true)
		}
		reply("OLOGIN successful")
		return
	case "OLOGOUT":
		s.addCost(ctx.Mask, 1)
		if s.OperNotify != nil {
			s.OperNotify(ctx, "", false)
		}
		reply("OLOGOUT successful")
		return
	}

	cmd, ok := s.lookup(name)
	if !ok {
		s.addCost(ctx.Mask, 1)
		reply(s.msg(ctx.Lang, MsgUnknownCommand))
		return
	}
	if cmd.Requires&ReqShortcut != 0 && !ctx.ViaShortcut {
		s.addCost(ctx.Mask, 1)
		reply(s.msg(ctx.Lang, MsgNoAccess))
		return
	}
	if cmd.Requires&ReqLogin != 0 && ctx.AccountName == "" {
		s.addCost(ctx.Mask, 1)
		reply(s.msg(ctx.Lang, MsgNotLoggedIn))
		return
	}
	if cmd.Requires&ReqOper != 0 && !ctx.IsOper {
		s.addCost(ctx.Mask, 1)
		reply(s.msg(ctx.Lang, MsgNoAccess))
		return
	}
	if len(rest) < cmd.MinArgs {
		s.addCost(ctx.Mask, 1)
		reply(s.msg(ctx.Lang, MsgSyntax))
		return
	}

	s.usage[name]++

	runCtx := ctx
	runCtx.Args = rest
	cost, err := cmd.Handler(runCtx, reply)
	s.addCost(ctx.Mask, cmd.FloodCost+cost)
	if err != nil {
		reply(err.Error())
	}
}

// addCost charges cost against both the service-wide accumulator and
// mask's own per-user accumulator (spec §4.6 "added to both user and
// service accumulators"); it never affects the flood-window gating in
// floodCheck, which counts commands, not cost.
func (s *Service) addCost(mask string, cost int) {
	if cost <= 0 {
		return
	}
	s.floodTotal += int64(cost)
	st, ok := s.flood[mask]
	if !ok {
		st = &floodState{windowStart: time.Time{}}
		s.flood[mask] = st
	}
	st.cost += int64(cost)
}

// UsageCount returns how many times name has been successfully
// dispatched (spec §3 "running counters for /stats").
func (s *Service) UsageCount(name string) int64 { return s.usage[strings.ToUpper(name)] }

// IgnoredCount is how many dispatches this service dropped outright
// for an ignored host.
func (s *Service) IgnoredCount() int64 { return s.ignoredCount }

// PacedCount is how many dispatches this service dropped for tripping
// the per-user flood window (distinct from IgnoredCount, matching
// original_source's separate ignored_count/paced_count).
func (s *Service) PacedCount() int64 { return s.pacedCount }

// FloodTotal is the service-side flood cost accumulator (see addCost).
func (s *Service) FloodTotal() int64 { return s.floodTotal }

// floodCheck advances the per-user flood window and returns true if
// the command should be dropped because the user is mid-ignore or just
// tripped the threshold (spec §4.6).
func (s *Service) floodCheck(mask string, now time.Time) bool {
	if s.cfg.Max <= 0 {
		return false
	}
	st, ok := s.flood[mask]
	if !ok {
		st = &floodState{windowStart: now}
		s.flood[mask] = st
	}
	if now.Before(st.ignoredTil) {
		return true
	}
	if now.Sub(st.windowStart) > s.cfg.Window {
		st.windowStart = now
		st.count = 0
	}
	st.count++
	if st.count > s.cfg.Max {
		st.ignoreCount++
		mult := st.ignoreCount
		if s.cfg.MaxIgnore > 0 && mult > s.cfg.MaxIgnore {
			mult = s.cfg.MaxIgnore
		}
		st.ignoredTil = now.Add(s.cfg.IgnoreWindow * time.Duration(mult))
		st.count = 0
		return true
	}
	return false
}

// Merge concatenates another service's command table into this one
// (spec §4.6 "service merging concatenates sorted command arrays and
// appends help indices"), remembering the original table so Unmerge
// can restore it.
func (s *Service) Merge(other *Service) {
	s.merged[other.Name] = append([]Command(nil), other.commands...)
	s.commands = append(s.commands, other.commands...)
	sort.Slice(s.commands, func(i, j int) bool { return s.commands[i].Name < s.commands[j].Name })
}

// Unmerge removes a previously merged service's commands, restoring
// this table to its pre-merge state for that service (spec §4.6
// "restore on unmerge during help-reload").
func (s *Service) Unmerge(name string) {
	merged, ok := s.merged[name]
	if !ok {
		return
	}
	removeSet := make(map[string]bool, len(merged))
	for _, c := range merged {
		removeSet[c.Name] = true
	}
	kept := s.commands[:0]
	for _, c := range s.commands {
		if !removeSet[c.Name] {
			kept = append(kept, c)
		}
	}
	s.commands = kept
	delete(s.merged, name)
}

// Help renders a topic for a user's language, falling back to the
// catalogue default; "" renders the index. Called from Dispatch's own
// HELP special-case (spec §4.6 HELP).
func (s *Service) Help(userLang, topic string) (string, bool) {
	if topic == "" {
		topic = "index"
	}
	f, ok := s.help.Lookup(s.Name, userLang, "en", topic)
	if !ok {
		return "", false
	}
	return strings.Join(f.Lines, "\n"), true
}

func (s *Service) msg(userLang string, id lang.ID) string {
	if s.lang == nil {
		return "error"
	}
	return s.lang.Message(userLang, id)
}

// Message IDs this package itself needs; service personalities extend
// this range with their own IDs registered into the shared Catalogue.
const (
	MsgUnknownCommand lang.ID = iota + 1
	MsgNotLoggedIn
	MsgNoAccess
	MsgSyntax
)
