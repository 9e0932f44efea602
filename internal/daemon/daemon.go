// Package daemon wires every engine and service personality built
// elsewhere in this repo into one running process: the store, the
// uplink link engine, the hookbus/watch buses, the scheduler's
// periodic expiry/flush jobs, the ten service personalities, and the
// operator control channel plus its read-only HTTP mirror. Grounded
// on the teacher's irc/server package (irc/server/server.go's
// NewServer/Start/Stop shape) generalized from a single monolithic
// Server struct to a thinner Daemon that composes already-independent
// engine packages rather than owning client/channel state itself.
package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cycoslave/ratbox-services-sub000/internal/access"
	"github.com/cycoslave/ratbox-services-sub000/internal/account"
	"github.com/cycoslave/ratbox-services-sub000/internal/chanstate"
	"github.com/cycoslave/ratbox-services-sub000/internal/config"
	"github.com/cycoslave/ratbox-services-sub000/internal/dbhook"
	"github.com/cycoslave/ratbox-services-sub000/internal/durfmt"
	"github.com/cycoslave/ratbox-services-sub000/internal/help"
	"github.com/cycoslave/ratbox-services-sub000/internal/hookbus"
	"github.com/cycoslave/ratbox-services-sub000/internal/jupe"
	"github.com/cycoslave/ratbox-services-sub000/internal/kline"
	"github.com/cycoslave/ratbox-services-sub000/internal/lang"
	"github.com/cycoslave/ratbox-services-sub000/internal/link"
	"github.com/cycoslave/ratbox-services-sub000/internal/memo"
	"github.com/cycoslave/ratbox-services-sub000/internal/metrics"
	"github.com/cycoslave/ratbox-services-sub000/internal/nick"
	"github.com/cycoslave/ratbox-services-sub000/internal/opercontrol"
	"github.com/cycoslave/ratbox-services-sub000/internal/opercontrol/webstatus"
	"github.com/cycoslave/ratbox-services-sub000/internal/retry"
	"github.com/cycoslave/ratbox-services-sub000/internal/rlog"
	"github.com/cycoslave/ratbox-services-sub000/internal/sched"
	"github.com/cycoslave/ratbox-services-sub000/internal/service"
	"github.com/cycoslave/ratbox-services-sub000/internal/services/alis"
	"github.com/cycoslave/ratbox-services-sub000/internal/services/banserv"
	"github.com/cycoslave/ratbox-services-sub000/internal/services/chanserv"
	"github.com/cycoslave/ratbox-services-sub000/internal/services/globalserv"
	"github.com/cycoslave/ratbox-services-sub000/internal/services/jupeserv"
	"github.com/cycoslave/ratbox-services-sub000/internal/services/memoserv"
	"github.com/cycoslave/ratbox-services-sub000/internal/services/nickserv"
	"github.com/cycoslave/ratbox-services-sub000/internal/services/operbot"
	"github.com/cycoslave/ratbox-services-sub000/internal/services/operserv"
	"github.com/cycoslave/ratbox-services-sub000/internal/services/userserv"
	"github.com/cycoslave/ratbox-services-sub000/internal/store"
	"github.com/cycoslave/ratbox-services-sub000/internal/watch"
)

// modeSecretBit mirrors link's parseSimpleMode bit scheme (1<<(letter-'a'));
// ALIS needs to tell a +s channel from a listable one without this
// package importing link's unexported mode parser.
const modeSecretBit = uint32(1) << uint('s'-'a')

// boundService is one running service.Service paired with the wire
// identity (UID, nick) the link engine introduced it under.
type boundService struct {
	svc  *service.Service
	name string // nick as seen on the wire
	uid  string
}

// Daemon owns every subsystem for one running instance.
type Daemon struct {
	cfg   *config.Config
	log   *rlog.Logger
	store *store.Store

	hooks *hookbus.Bus
	watch *watch.Bus
	sched *sched.Scheduler
	dbh   *dbhook.Dispatcher

	net  *link.Network
	link *link.Engine

	access   *access.Engine
	accounts *account.Registry
	klines   *kline.Engine
	nicks    *nick.Engine
	jupes    *jupe.Engine
	memos    *memo.Engine

	services   []*boundService
	byUID      map[string]*boundService
	operbotEng *operbot.Engine

	opctl     *opercontrol.Controller
	webstatus *webstatus.Server

	mu      sync.Mutex
	quit    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// smtpMailer sends account.Mailer traffic (activation/reset mail)
// through the configured SMTP relay with net/smtp: no example repo in
// the corpus imports a third-party mail client, so this is the
// justified stdlib case (see DESIGN.md).
type smtpMailer struct {
	cfg config.Email
}

func (m smtpMailer) Send(to, subject, body string) error {
	if m.cfg.SMTPHost == "" {
		return fmt.Errorf("account: no smtp host configured")
	}
	addr := fmt.Sprintf("%s:%d", m.cfg.SMTPHost, m.cfg.SMTPPort)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", m.cfg.From, to, subject, body)
	return smtp.SendMail(addr, nil, m.cfg.From, []string{to}, []byte(msg))
}

// New builds every subsystem from cfg but does not yet connect to the
// uplink or start listening; call Run to do that.
func New(cfg *config.Config) (*Daemon, error) {
	st, err := store.Open(store.Config{Driver: store.Driver(cfg.Database.Driver), DSN: cfg.Database.DSN})
	if err != nil {
		return nil, fmt.Errorf("daemon: open store: %w", err)
	}
	if err := st.Migrate(); err != nil {
		return nil, fmt.Errorf("daemon: migrate: %w", err)
	}

	d := &Daemon{
		cfg:   cfg,
		log:   rlog.Default().Named("daemon"),
		store: st,
		hooks: hookbus.New(),
		watch: watch.New(),
		sched: sched.New(),
		quit:  make(chan struct{}),
		byUID: make(map[string]*boundService),
	}

	d.net = link.NewNetwork(cfg.ServerInfo.Name, cfg.ServerInfo.SID)
	d.link = link.New(d.net, d.hooks, cfg.ServerInfo.Name, cfg.ServerInfo.SID, 90*time.Second, 30*time.Second)
	d.dbh = dbhook.New(d.store.DB(), d.sched)
	d.dbh.Add("users_sync", "register", 30*time.Second, d.handleRegisterMailbox)

	svcCfg := func(name string) config.ServiceConfig {
		for _, s := range cfg.Services {
			if strings.EqualFold(s.Name, name) {
				return s
			}
		}
		return config.ServiceConfig{Name: name, Nick: name, Enabled: true}
	}
	opt := func(sc config.ServiceConfig, key string, def int) int {
		if v, ok := sc.Options[key]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	optDur := func(sc config.ServiceConfig, key string, def time.Duration) time.Duration {
		if v, ok := sc.Options[key]; ok {
			if dur, err := durfmt.Parse(v); err == nil {
				return dur
			}
		}
		return def
	}

	userservCfg := svcCfg("UserServ")
	chanservCfg := svcCfg("ChanServ")
	nickservCfg := svcCfg("NickServ")
	banservCfg := svcCfg("BanServ")
	jupeservCfg := svcCfg("JupeServ")
	memoservCfg := svcCfg("MemoServ")

	d.accounts = account.New(d.store, d.hooks, smtpMailer{cfg.Email}, account.Config{
		UsernameMaxLen:    opt(userservCfg, "username_max_len", 16),
		PasswordMaxLen:    opt(userservCfg, "password_max_len", 64),
		RequireEmail:      cfg.Email.SMTPHost != "",
		RegisterWindow:    optDur(userservCfg, "register_window", time.Hour),
		RegisterMaxGlobal: opt(userservCfg, "register_max_global", 100),
		RegisterMaxHost:   opt(userservCfg, "register_max_host", 3),
		ResetWindow:       optDur(userservCfg, "reset_window", 24*time.Hour),
		MaxLogins:         opt(userservCfg, "max_logins", 5),
		InactivityWindow:  optDur(userservCfg, "inactivity_window", 90*24*time.Hour),
		BonusThreshold:    optDur(userservCfg, "bonus_threshold", 30*24*time.Hour),
		BonusPeriod:       optDur(userservCfg, "bonus_period", 7*24*time.Hour),
		BonusStep:         optDur(userservCfg, "bonus_step", 24*time.Hour),
		BonusMax:          optDur(userservCfg, "bonus_max", 60*24*time.Hour),
		SuspendedExpiry:   optDur(userservCfg, "suspended_expiry", 180*24*time.Hour),
		UnverifiedExpiry:  optDur(userservCfg, "unverified_expiry", 3*24*time.Hour),
	})

	d.access = access.New(d.store, d.hooks, access.Config{
		RegisterWindow:     optDur(chanservCfg, "register_window", time.Hour),
		RegisterMaxPerHost: opt(chanservCfg, "register_max_per_host", 3),
		InactivityWindow:   optDur(chanservCfg, "inactivity_window", 90*24*time.Hour),
		BonusThreshold:     optDur(chanservCfg, "bonus_threshold", 30*24*time.Hour),
		BonusPeriod:        optDur(chanservCfg, "bonus_period", 7*24*time.Hour),
		BonusStep:          optDur(chanservCfg, "bonus_step", 24*time.Hour),
		BonusMax:           optDur(chanservCfg, "bonus_max", 60*24*time.Hour),
		SuspendedExpiry:    optDur(chanservCfg, "suspended_expiry", 180*24*time.Hour),
		TopicEnforceFreq:   optDur(chanservCfg, "topic_enforce_freq", 0),
	})

	d.klines = kline.New(d.store, d.hooks, kline.Config{MaxMatches: opt(banservCfg, "max_matches", 0)})
	d.nicks = nick.New(d.store, nick.Config{MaxPerAccount: opt(nickservCfg, "max_nicks", 5)})
	d.jupes = jupe.New(d.store, jupe.Config{
		Quorum: opt(jupeservCfg, "quorum", 3),
		Window: optDur(jupeservCfg, "window", time.Hour),
	})
	d.memos = memo.New(d.store, memo.Config{MaxPerAccount: opt(memoservCfg, "max_memos", 50)})

	cat := lang.New("en")
	for _, id := range []lang.ID{service.MsgUnknownCommand, service.MsgNotLoggedIn, service.MsgNoAccess, service.MsgSyntax} {
		_ = cat.Add("en", id, defaultLangText(id))
	}
	helpCache := help.New("helpfiles")

	now := time.Now

	newSvc := func(sc config.ServiceConfig, defaultNick string) *service.Service {
		flood := service.FloodConfig{
			Window:       sc.Tuning.FloodWindow.Duration,
			Max:          sc.Tuning.FloodMax,
			MaxIgnore:    sc.Tuning.FloodMaxIgnore,
			IgnoreWindow: sc.Tuning.FloodIgnoreWindow.Duration,
		}
		if flood.Window == 0 {
			flood.Window = 10 * time.Second
		}
		if flood.Max == 0 {
			flood.Max = 10
		}
		if flood.MaxIgnore == 0 {
			flood.MaxIgnore = 3
		}
		if flood.IgnoreWindow == 0 {
			flood.IgnoreWindow = time.Minute
		}
		nickName := sc.Nick
		if nickName == "" {
			nickName = defaultNick
		}
		svc := service.New(nickName, flood, helpCache, cat)
		svc.OperAuth = d.authenticateOperLogin
		svc.OperNotify = d.notifyOperLogin
		return svc
	}

	userservSvc := newSvc(userservCfg, "UserServ")
	chanservSvc := newSvc(chanservCfg, "ChanServ")
	nickservSvc := newSvc(nickservCfg, "NickServ")
	banservSvc := newSvc(banservCfg, "BanServ")
	jupeservSvc := newSvc(jupeservCfg, "JupeServ")
	memoservSvc := newSvc(memoservCfg, "MemoServ")
	globalservSvc := newSvc(svcCfg("Global"), "Global")
	alisSvc := newSvc(svcCfg("ALIS"), "ALIS")
	operservSvc := newSvc(svcCfg("OperServ"), "OperServ")
	operbotSvc := newSvc(svcCfg("OperBot"), "OperBot")

	userserv.New(userservSvc, d.accounts, now)
	chanserv.New(chanservSvc, d.access, now)
	nickserv.New(nickservSvc, d.nicks, now)
	banserv.New(banservSvc, d.klines, now)
	jupeserv.New(jupeservSvc, d.jupes, now)
	memoserv.New(memoservSvc, d.memos, now)

	globalserv.New(globalservSvc, d.broadcastGlobal, d.watch)
	alis.New(alisSvc, d.listChannels)

	d.operbotEng = operbot.New(d.store, d.joinOperBotChannel, d.partOperBotChannel, d.watch)
	d.operbotEng.RegisterCommands(operbotSvc)

	allSvcs := []*service.Service{userservSvc, chanservSvc, nickservSvc, banservSvc, operservSvc, jupeservSvc, globalservSvc, alisSvc, memoservSvc, operbotSvc}
	operserv.New(operservSvc, allSvcs, d.listOnlineOpers)

	for _, bs := range []*boundService{
		{svc: userservSvc, name: userservSvc.Name},
		{svc: chanservSvc, name: chanservSvc.Name},
		{svc: nickservSvc, name: nickservSvc.Name},
		{svc: banservSvc, name: banservSvc.Name},
		{svc: operservSvc, name: operservSvc.Name},
		{svc: jupeservSvc, name: jupeservSvc.Name},
		{svc: globalservSvc, name: globalservSvc.Name},
		{svc: alisSvc, name: alisSvc.Name},
		{svc: memoservSvc, name: memoservSvc.Name},
		{svc: operbotSvc, name: operbotSvc.Name},
	} {
		d.services = append(d.services, bs)
	}

	authenticate := func(name, pass string) (uint32, bool) {
		u, err := d.accounts.Login(name, pass, "opctl:"+name)
		if err != nil {
			return 0, false
		}
		for _, op := range cfg.Operators {
			if strings.EqualFold(op.Username, u.Username) {
				return operPrivBits(op.Privileges), true
			}
		}
		return 0, false
	}
	reload := func() (*config.Config, error) { return cfg.Reload() }
	d.opctl = opercontrol.New(cfg, d.hooks, authenticate, reload)
	d.webstatus = webstatus.New(d.opctl, d.statsProviders)

	d.attachHooks()
	d.scheduleJobs()

	return d, nil
}

// defaultLangText is the built-in English text for a core dispatch
// message id (spec §4.6's four mandatory replies); per-service
// helpfiles layer richer text on top via internal/help.
func defaultLangText(id lang.ID) string {
	switch id {
	case service.MsgUnknownCommand:
		return "unknown command"
	case service.MsgNotLoggedIn:
		return "you are not logged in"
	case service.MsgNoAccess:
		return "you do not have access to do that"
	case service.MsgSyntax:
		return "insufficient parameters"
	default:
		return "error"
	}
}

// watchFlagOperLogin is the watch category every service's OLOGIN/
// OLOGOUT fires on (spec §4.6 "OLOGIN/OLOGOUT ... audited like any
// other oper action"), mirroring operbot.WatchFlagOperBot.
const watchFlagOperLogin watch.Flag = 1 << 10

// authenticateOperLogin is every service's service.OperAuthenticator
// (spec §4.6's OLOGIN): operBlockName names a config.Operator block,
// password is checked by logging into that block's underlying account,
// mirroring the authenticate closure opercontrol.New already uses.
func (d *Daemon) authenticateOperLogin(ctx service.Context, operBlockName, password string) bool {
	var op *config.Operator
	for i, o := range d.cfg.Operators {
		if strings.EqualFold(o.Name, operBlockName) {
			op = &d.cfg.Operators[i]
			break
		}
	}
	if op == nil {
		return false
	}
	if _, err := d.accounts.Login(op.Username, password, ctx.UID); err != nil {
		return false
	}
	return true
}

// notifyOperLogin is every service's service.OperLoginHook: it flips
// the live client's oper-authed state and audits the action, the
// generic counterpart to the link engine's own oper-up handling.
func (d *Daemon) notifyOperLogin(ctx service.Context, operBlockName string, loggingIn bool) {
	c := d.net.FindUID(ctx.UID)
	if c == nil {
		return
	}
	if loggingIn {
		c.OperName = operBlockName
		d.watch.Send(watchFlagOperLogin, ctx.AccountName, ctx.UID, true, "OLOGIN as %s", operBlockName)
	} else {
		c.OperName = ""
		d.watch.Send(watchFlagOperLogin, ctx.AccountName, ctx.UID, true, "OLOGOUT from %s", operBlockName)
	}
}

// operPrivBits maps a config.Operator's named privilege strings onto
// opercontrol's bitmask (spec §6 `operator { privileges = [...] }`).
func operPrivBits(names []string) uint32 {
	var bits uint32
	for _, n := range names {
		switch strings.ToLower(n) {
		case "admin":
			bits |= opercontrol.PrivAdmin
		case "kline":
			bits |= opercontrol.PrivKline
		case "connect":
			bits |= opercontrol.PrivConnect
		case "rehash":
			bits |= opercontrol.PrivRehash
		case "boot":
			bits |= opercontrol.PrivBoot
		case "chat":
			bits |= opercontrol.PrivChat
		case "watch":
			bits |= opercontrol.PrivWatch
		}
	}
	return bits
}

// broadcastGlobal is GlobalServ's Sender: a network-wide NOTICE from
// the Global service's own UID to every local user (spec §4.9's
// GLOBAL is a services-wide announcement, not a per-channel one).
func (d *Daemon) broadcastGlobal(text string) {
	src := d.byName("Global")
	if src == nil {
		return
	}
	for _, u := range d.localUsers() {
		d.link.Send(&link.Message{Source: src.uid, Verb: "NOTICE", Params: []string{u.UID, text}})
	}
}

// localUsers snapshots every live user client behind our own server,
// recursing into every directly and indirectly connected server.
func (d *Daemon) localUsers() []*link.Client {
	var out []*link.Client
	var walk func(srv *link.Client)
	walk = func(srv *link.Client) {
		for _, u := range srv.Users {
			out = append(out, u)
		}
		for _, s := range srv.Servers {
			walk(s)
		}
	}
	walk(d.net.Me)
	return out
}

// listOnlineOpers is OperServ's LISTOPERS source: every currently
// oper-flagged user on the network (spec §4.9's "service" privileges
// summary is config-sourced; this is the live roster it lists).
func (d *Daemon) listOnlineOpers() []string {
	var out []string
	for _, u := range d.localUsers() {
		if u.OperName != "" {
			out = append(out, u.Name+" ("+u.OperName+")")
		}
	}
	sort.Strings(out)
	return out
}

// listChannels is ALIS's Lister: every live channel not carrying the
// +s (secret) simple-mode bit, with its current member count.
func (d *Daemon) listChannels() []alis.ChannelSummary {
	var out []alis.ChannelSummary
	for _, ch := range d.net.Channels() {
		ch.RLock()
		secret := ch.ModeRec.Bits&modeSecretBit != 0
		summary := alis.ChannelSummary{Name: ch.Name, Topic: ch.Topic, Members: ch.MemberCount(), Secret: secret}
		ch.RUnlock()
		out = append(out, summary)
	}
	return out
}

// joinOperBotChannel and partOperBotChannel are OperBot's Joiner/
// Parter: a services-introduced client issuing SJOIN/PART the way any
// service bot joins a channel (spec §4.9's OJOIN/OPART).
func (d *Daemon) joinOperBotChannel(chName string) error {
	src := d.byName("OperBot")
	if src == nil {
		return fmt.Errorf("daemon: operbot not introduced yet")
	}
	return d.link.Send(&link.Message{Verb: "SJOIN", Params: []string{strconv.FormatInt(time.Now().Unix(), 10), chName, "+nt", src.uid}})
}

func (d *Daemon) partOperBotChannel(chName string) error {
	src := d.byName("OperBot")
	if src == nil {
		return fmt.Errorf("daemon: operbot not introduced yet")
	}
	return d.link.Send(&link.Message{Source: src.uid, Verb: "PART", Params: []string{chName}})
}

// joinChanServChannel and partChanServChannel are the Joiner/Parter
// ChanServ uses to hold a channel open under INHABIT (spec §4.2) and
// to rejoin registered channels at end-of-burst (spec §4.1), mirroring
// OperBot's own join/part pair above.
func (d *Daemon) joinChanServChannel(chName string) error {
	src := d.byName("ChanServ")
	if src == nil {
		return fmt.Errorf("daemon: chanserv not introduced yet")
	}
	return d.link.Send(&link.Message{Verb: "SJOIN", Params: []string{strconv.FormatInt(time.Now().Unix(), 10), chName, "+nt", src.uid}})
}

func (d *Daemon) partChanServChannel(chName string) error {
	src := d.byName("ChanServ")
	if src == nil {
		return fmt.Errorf("daemon: chanserv not introduced yet")
	}
	return d.link.Send(&link.Message{Source: src.uid, Verb: "PART", Params: []string{chName}})
}

func (d *Daemon) byName(nick string) *boundService {
	for _, bs := range d.services {
		if strings.EqualFold(bs.name, nick) {
			return bs
		}
	}
	return nil
}

// serviceUID is a convenience wrapper over byName for hook listeners
// that only need the wire UID to source a MODE/KICK/TOPIC from.
func (d *Daemon) serviceUID(name string) string {
	if bs := d.byName(name); bs != nil {
		return bs.uid
	}
	return ""
}

// statsProviders adapts every engine with a meaningful counter into
// opercontrol.StatsProvider for .stats/.status and webstatus's /stats.
func (d *Daemon) statsProviders() []opercontrol.StatsProvider {
	return []opercontrol.StatsProvider{
		linkStats{d},
		serviceStats{d},
	}
}

type linkStats struct{ d *Daemon }

func (linkStats) Name() string { return "link" }
func (l linkStats) Stats() map[string]string {
	return map[string]string{"state": l.d.link.State().String()}
}

type serviceStats struct{ d *Daemon }

func (serviceStats) Name() string { return "services" }
func (s serviceStats) Stats() map[string]string {
	out := make(map[string]string)
	for _, bs := range s.d.services {
		out[bs.name] = "online"
	}
	return out
}

// attachHooks binds every cross-engine listener the daemon is
// responsible for: auto-kline scanning on new-client introduction,
// jupe re-arming on SQUIT, PRIVMSG/NOTICE routing into the service
// command dispatcher, join-time ban/mode enforcement (spec §4.2),
// topic and channel-mode enforcement, HookLogin's auto-op/voice and
// unread-memo consumers (spec §4.4), and end-of-burst rejoin
// (spec §4.1).
func (d *Daemon) attachHooks() {
	newClientPoint, _ := d.hooks.Lookup(link.HookNewClient)
	d.hooks.Attach(newClientPoint, "kline:auto_kline_scan", 0, func(ctx any) int {
		c, ok := ctx.(*link.Client)
		if !ok {
			return 0
		}
		matched, reason := d.klines.ScanNewClient(kline.NewClient{
			UID: c.UID, Nick: c.Name, User: c.Username, Host: c.Host,
			IP: c.IP, Gecos: c.Info, Server: c.ServerName,
		})
		if matched {
			d.link.Send(&link.Message{Verb: "KILL", Params: []string{c.UID, reason}})
		}
		return 0
	})

	squitPoint, _ := d.hooks.Lookup(link.HookSQuit)
	d.hooks.Attach(squitPoint, "jupeserv:onsquit", 0, func(ctx any) int {
		srv, ok := ctx.(*link.Client)
		if !ok {
			return 0
		}
		if juped, reason := d.jupes.OnSquit(srv.Name); juped {
			d.log.Noticef("re-armed jupe on %s: %s", srv.Name, reason)
		}
		return 0
	})

	suPoint, _ := d.hooks.Lookup(link.HookEncapSU)
	d.hooks.Attach(suPoint, "account:encap_su", 0, func(ctx any) int {
		params, ok := ctx.([]string)
		if !ok || len(params) < 1 {
			return 0
		}
		c := d.net.FindUID(params[0])
		if c == nil {
			return 0
		}
		if len(params) >= 2 {
			c.AccountName = params[1]
		} else {
			c.AccountName = ""
		}
		return 0
	})

	privmsgPoint, _ := d.hooks.Lookup(link.HookPrivmsg)
	d.hooks.Attach(privmsgPoint, "service:dispatch", 0, func(ctx any) int {
		ev, ok := ctx.(link.PrivmsgEvent)
		if !ok {
			return 0
		}
		d.dispatchPrivmsg(ev)
		return 0
	})

	joinPoint, _ := d.hooks.Lookup(link.HookChannelJoin)
	d.hooks.Attach(joinPoint, "access:evaluate_join", 0, func(ctx any) int {
		ev, ok := ctx.(link.JoinEvent)
		if !ok {
			return 0
		}
		d.handleChannelJoin(ev)
		return 0
	})

	modePoint, _ := d.hooks.Lookup(link.HookChannelMode)
	d.hooks.Attach(modePoint, "access:enforce_modes", 0, func(ctx any) int {
		d.enforceModesOn(ctx)
		return 0
	})

	sjoinLowerPoint, _ := d.hooks.Lookup(link.HookSJoinLowerTS)
	d.hooks.Attach(sjoinLowerPoint, "access:enforce_modes_sjoin", 0, func(ctx any) int {
		d.enforceModesOn(ctx)
		return 0
	})

	topicPoint, _ := d.hooks.Lookup(link.HookTopicChange)
	d.hooks.Attach(topicPoint, "access:enforce_topic", 0, func(ctx any) int {
		ch, ok := ctx.(*chanstate.Channel)
		if !ok {
			return 0
		}
		ch.Lock()
		name, live := ch.Name, ch.Topic
		ch.Unlock()
		revert, changed := d.access.EnforceTopic(name, live)
		if !changed {
			return 0
		}
		ch.Lock()
		ch.Topic = revert
		ch.Unlock()
		if uid := d.serviceUID("ChanServ"); uid != "" {
			d.link.Send(&link.Message{Source: uid, Verb: "TOPIC", Params: []string{name, revert}})
		}
		return 0
	})

	loginPoint, _ := d.hooks.Lookup(account.HookLogin)
	d.hooks.Attach(loginPoint, "daemon:on_login", 0, func(ctx any) int {
		ev, ok := ctx.(account.LoginEvent)
		if !ok {
			return 0
		}
		d.onAccountLogin(ev)
		return 0
	})

	eobPoint, _ := d.hooks.Lookup(link.HookEndOfBurst)
	d.hooks.Attach(eobPoint, "daemon:post_burst", 0, func(ctx any) int {
		d.onEndOfBurst()
		return 0
	})
}

// enforceModesOn re-applies a registered channel's EnforceModes onto
// the live channel state carried by ctx (fired from both
// HookChannelMode and HookSJoinLowerTS, spec §4.2 "Topic and mode
// enforcement").
func (d *Daemon) enforceModesOn(ctx any) {
	ch, ok := ctx.(*chanstate.Channel)
	if !ok {
		return
	}
	ch.RLock()
	name := ch.Name
	ch.RUnlock()
	added := d.access.EnforceChannelModes(name, ch)
	if added == "" {
		return
	}
	if uid := d.serviceUID("ChanServ"); uid != "" {
		d.link.Send(&link.Message{Source: uid, Verb: "MODE", Params: []string{name, "+" + added}})
	}
}

// handleChannelJoin implements spec §4.2 "Join handling": every member
// added to a channel by SJOIN runs through access.EvaluateJoin, and the
// resulting decision is translated into live KICK/MODE/BAN wire
// traffic plus the matching chanstate.Channel mutation (grounded on
// original_source's h_chanserv_join, HOOK_JOIN_CHANNEL's listener).
func (d *Daemon) handleChannelJoin(ev link.JoinEvent) {
	user := d.net.FindUID(ev.UID)
	if user == nil {
		return
	}
	decision, err := d.access.EvaluateJoin(ev.ChName, ev.Channel, access.JoiningUser{
		UID: ev.UID, Mask: user.Mask(), IP: user.IP, AccountName: user.AccountName,
	}, time.Now())
	if err != nil {
		return
	}
	chanServUID := d.serviceUID("ChanServ")

	if decision.Kicked {
		ev.Channel.RemoveMember(ev.UID)
		if chanServUID != "" {
			d.link.Send(&link.Message{Source: chanServUID, Verb: "KICK", Params: []string{ev.ChName, ev.UID, decision.KickReason}})
		}
		if decision.NewBanMask != "" {
			ev.Channel.AddBan(decision.NewBanMask)
			if chanServUID != "" {
				d.link.Send(&link.Message{Source: chanServUID, Verb: "MODE", Params: []string{ev.ChName, "+b", decision.NewBanMask}})
			}
		}
		if ev.Channel.MemberCount() == 0 {
			if err := d.access.EnableInhabit(ev.ChName); err == nil {
				d.joinChanServChannel(ev.ChName)
			}
		}
		return
	}

	if decision.StripOp {
		ev.Channel.SetOpped(ev.UID, false)
		if chanServUID != "" {
			d.link.Send(&link.Message{Source: chanServUID, Verb: "MODE", Params: []string{ev.ChName, "-o", ev.UID}})
		}
	}
	if decision.StripVoice {
		ev.Channel.SetVoiced(ev.UID, false)
		if chanServUID != "" {
			d.link.Send(&link.Message{Source: chanServUID, Verb: "MODE", Params: []string{ev.ChName, "-v", ev.UID}})
		}
	}
	if decision.GrantOp {
		ev.Channel.SetOpped(ev.UID, true)
		if chanServUID != "" {
			d.link.Send(&link.Message{Source: chanServUID, Verb: "MODE", Params: []string{ev.ChName, "+o", ev.UID}})
		}
	}
	if decision.GrantVoice {
		ev.Channel.SetVoiced(ev.UID, true)
		if chanServUID != "" {
			d.link.Send(&link.Message{Source: chanServUID, Verb: "MODE", Params: []string{ev.ChName, "+v", ev.UID}})
		}
	}
}

// onAccountLogin implements spec §4.4's documented HookLogin
// consumers: re-run auto-op/voice on every channel the now-identified
// user already sits in, and report their unread memo count the way
// NickServ/MemoServ would on IDENTIFY.
func (d *Daemon) onAccountLogin(ev account.LoginEvent) {
	user := d.net.FindUID(ev.UserUID)
	if user == nil {
		return
	}
	chanServUID := d.serviceUID("ChanServ")
	if chanServUID != "" {
		for _, membership := range user.Channels {
			ch := membership.Channel
			if ch == nil {
				continue
			}
			ch.RLock()
			name := ch.Name
			ch.RUnlock()
			decision, err := d.access.EvaluateJoin(name, ch, access.JoiningUser{
				UID: ev.UserUID, Mask: user.Mask(), IP: user.IP, AccountName: ev.Username,
			}, time.Now())
			if err != nil || decision.Kicked {
				continue
			}
			if decision.GrantOp {
				ch.SetOpped(ev.UserUID, true)
				d.link.Send(&link.Message{Source: chanServUID, Verb: "MODE", Params: []string{name, "+o", ev.UserUID}})
			}
			if decision.GrantVoice {
				ch.SetVoiced(ev.UserUID, true)
				d.link.Send(&link.Message{Source: chanServUID, Verb: "MODE", Params: []string{name, "+v", ev.UserUID}})
			}
		}
	}

	memoUID := d.serviceUID("MemoServ")
	if memoUID == "" {
		return
	}
	if n, err := d.memos.UnreadCount(ev.Username); err == nil && n > 0 {
		d.link.Send(&link.Message{Source: memoUID, Verb: "NOTICE", Params: []string{
			ev.UserUID, fmt.Sprintf("You have %d unread memo(s)", n),
		}})
	}
}

// onEndOfBurst implements spec §4.1's "Post-burst" step: once our own
// burst from the uplink completes, every service (re)joins its
// persisted channels and bursts its stored topic (operbot.RejoinAll
// plus ChanServ's own autojoin list, grounded on
// original_source's eob-triggered rejoin family).
func (d *Daemon) onEndOfBurst() {
	if err := d.operbotEng.RejoinAll(); err != nil {
		d.log.Warnf("operbot rejoin at end of burst: %v", err)
	}

	uid := d.serviceUID("ChanServ")
	if uid == "" {
		return
	}
	var channels []store.Channel
	if err := d.store.DB().Where("flags & ? != 0", access.FlagAutojoin).Find(&channels).Error; err != nil {
		d.log.Warnf("rejoin registered channels at end of burst: %v", err)
		return
	}
	for _, ch := range channels {
		d.link.Send(&link.Message{Verb: "SJOIN", Params: []string{
			strconv.FormatInt(ch.RegTime, 10), ch.ChName, ch.CreateModes, uid,
		}})
		if ch.Topic != "" {
			d.link.Send(&link.Message{Source: uid, Verb: "TOPIC", Params: []string{ch.ChName, ch.Topic}})
		}
	}
}

// dispatchPrivmsg resolves a PRIVMSG/NOTICE target to the owning
// service, runs it through internal/service.Dispatch, and sends each
// reply line back as a NOTICE from the service's own UID (spec §4.6:
// "services reply over NOTICE, never PRIVMSG, to avoid loops").
func (d *Daemon) dispatchPrivmsg(ev link.PrivmsgEvent) {
	target := d.net.FindUID(ev.TargetUID)
	if target == nil || target.Kind != link.KindService {
		return
	}
	bs, ok := d.byUID[target.UID]
	if !ok {
		return
	}
	source := d.net.FindUID(ev.SourceUID)
	if source == nil {
		return
	}

	ctx := service.Context{
		UID:         source.UID,
		Mask:        source.Mask(),
		AccountName: source.AccountName,
		IsOper:      source.OperName != "",
		Lang:        "en",
		Args:        strings.Fields(ev.Text),
	}
	bs.svc.Dispatch(ctx, time.Now(), func(line string) {
		d.link.Send(&link.Message{Source: bs.uid, Verb: "NOTICE", Params: []string{source.UID, line}})
	})
	metrics.ServiceCommandsTotal.WithLabelValues(bs.name, firstField(ev.Text)).Inc()
}

func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// scheduleJobs registers every periodic expiry/flush/metrics job the
// spec's engines need but never run themselves (spec §5 "Scheduled
// events"), plus the dbhook mailbox poll for cross-process account
// writes (spec §4.8).
func (d *Daemon) scheduleJobs() {
	d.sched.AddPeriodic("access:expire_channels", time.Hour, func(now time.Time) {
		present := func(chName string) bool { return d.net.FindChannel(chName) != nil }
		if err := d.access.ExpireChannels(now, present); err != nil {
			d.log.Warnf("expire channels: %v", err)
		}
	})
	d.sched.AddPeriodic("access:expire_suspensions", time.Hour, func(now time.Time) {
		if err := d.access.ExpireSuspensions(now); err != nil {
			d.log.Warnf("expire suspensions: %v", err)
		}
	})
	d.sched.AddPeriodic("account:expire_accounts", time.Hour, func(now time.Time) {
		if err := d.accounts.ExpireAccounts(now); err != nil {
			d.log.Warnf("expire accounts: %v", err)
		}
	})
	d.sched.AddPeriodic("account:expire_reset_tokens", 10*time.Minute, func(now time.Time) {
		d.accounts.ExpireResetTokens(now)
	})
	d.sched.AddPeriodic("account:flush_writeback", 5*time.Minute, func(now time.Time) {
		if err := d.accounts.FlushWriteback(now); err != nil {
			d.log.Warnf("flush writeback: %v", err)
		}
	})
	d.sched.AddPeriodic("kline:expire_bans", 5*time.Minute, func(now time.Time) {
		if err := d.klines.ExpireBans(now); err != nil {
			d.log.Warnf("expire bans: %v", err)
		}
	})
	d.sched.AddPeriodic("metrics:refresh", time.Minute, func(now time.Time) {
		d.refreshMetrics()
	})
	d.sched.AddPeriodic("access:enforce_topics", 5*time.Minute, func(now time.Time) {
		fixes := d.access.EnforceTopicsSweep(func(chName string) (string, bool) {
			ch := d.net.FindChannel(chName)
			if ch == nil {
				return "", false
			}
			ch.RLock()
			defer ch.RUnlock()
			return ch.Topic, true
		})
		uid := d.serviceUID("ChanServ")
		for chName, topic := range fixes {
			if ch := d.net.FindChannel(chName); ch != nil {
				ch.Lock()
				ch.Topic = topic
				ch.Unlock()
			}
			if uid != "" {
				d.link.Send(&link.Message{Source: uid, Verb: "TOPIC", Params: []string{chName, topic}})
			}
		}
	})
	d.sched.AddPeriodic("access:inhabit_sweep", time.Minute, func(now time.Time) {
		cleared := d.access.InhabitSweep(func(chName string) (members int, anyOpped bool, joined bool) {
			ch := d.net.FindChannel(chName)
			if ch == nil {
				return 0, false, false
			}
			ch.RLock()
			defer ch.RUnlock()
			for _, m := range ch.Members {
				if m.Opped {
					anyOpped = true
				}
			}
			return len(ch.Members), anyOpped, true
		})
		for _, chName := range cleared {
			if err := d.partChanServChannel(chName); err != nil {
				d.log.Warnf("inhabit sweep part %s: %v", chName, err)
			}
		}
	})
}

func (d *Daemon) refreshMetrics() {
	if d.link.State() == link.Registered {
		metrics.LinkState.Set(1)
	} else {
		metrics.LinkState.Set(0)
	}
	var channels, accounts int64
	d.store.DB().Table("channels").Count(&channels)
	d.store.DB().Table("users").Count(&accounts)
	metrics.ChannelsRegistered.Set(float64(channels))
	metrics.AccountsRegistered.Set(float64(accounts))
}

// handleRegisterMailbox processes one pending cross-process account
// registration request delivered through the `users_sync` table (spec
// §4.8), formatted "username:password:email" — the minimal shape a
// frontend outside this daemon's own IRC-facing commands needs to
// queue a Register call without a direct RPC surface.
func (d *Daemon) handleRegisterMailbox(row dbhook.Row) bool {
	parts := strings.SplitN(row.Data, ":", 3)
	if len(parts) != 3 {
		return true
	}
	_, err := d.accounts.Register(parts[0], parts[1], parts[2], "dbhook", time.Now())
	if err != nil {
		d.log.Warnf("dbhook register %s: %v", parts[0], err)
	}
	return true
}

// introduceServices sends one UID burst per service personality and
// registers the corresponding local Client, binding UID -> service so
// dispatchPrivmsg can route traffic the instant burst completes.
func (d *Daemon) introduceServices() {
	ts := time.Now().Unix()
	d.byUID = make(map[string]*boundService)
	for _, bs := range d.services {
		uid := d.link.UIDs.Next()
		bs.uid = uid
		c := &link.Client{
			Kind: link.KindService, Name: bs.name, UID: uid, Uplink: d.net.Me,
			Username: "services", Host: d.cfg.ServerInfo.Name, ServerName: d.cfg.ServerInfo.Name,
			TS: ts, Info: bs.name + " services", ServiceID: bs.name, CommandTable: bs.name,
			Channels: make(map[string]*link.Membership),
		}
		d.net.AddClient(c)
		d.byUID[uid] = bs
		d.link.Send(&link.Message{Verb: "UID", Params: []string{
			bs.name, "1", strconv.FormatInt(ts, 10), "+oiS", "services",
			d.cfg.ServerInfo.Name, "0", uid, bs.name + " services",
		}})
	}
}

// Run connects to the configured uplink (the link engine retries the
// dial per internal/retry within a 30-second budget, after which Run
// returns the error), introduces every service, starts the
// scheduler loop and the operator-control HTTP mirror, and blocks
// until Stop is called or ctx is canceled.
func (d *Daemon) Run(ctx context.Context, uplink config.Connect, httpAddr, metricsAddr string) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon: already running")
	}
	d.running = true
	d.mu.Unlock()

	if err := d.connectUplink(ctx, uplink); err != nil {
		return err
	}
	d.introduceServices()

	d.wg.Add(1)
	go d.readLoop(ctx, uplink)

	d.wg.Add(1)
	go d.schedulerLoop(ctx)

	if httpAddr != "" {
		d.wg.Add(1)
		go d.serveHTTP(ctx, httpAddr, d.webstatus.Handler())
	}
	if metricsAddr != "" {
		d.wg.Add(1)
		go d.serveHTTP(ctx, metricsAddr, metrics.Handler())
	}

	<-ctx.Done()
	return d.Stop()
}

func (d *Daemon) connectUplink(ctx context.Context, uplink config.Connect) error {
	cfg := link.UplinkConfig{Name: uplink.Name, Host: uplink.Host, Port: uplink.Port, Password: uplink.Password, VHost: uplink.VHost, AutoConn: uplink.AutoConn}
	if err := d.link.Connect(ctx, cfg); err != nil {
		return fmt.Errorf("daemon: connect uplink %s: %w", uplink.Name, err)
	}
	d.log.Noticef("connected to uplink %s", uplink.Name)
	return nil
}

// readLoop drains wire messages until a fatal I/O error, then
// reconnects on a bounded backoff (spec §5 "reconnects after
// reconnect_time"), exactly the policy internal/retry implements for
// the persistence gateway.
func (d *Daemon) readLoop(ctx context.Context, uplink config.Connect) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.quit:
			return
		default:
		}
		_, err := d.link.ReadOne()
		if err != nil {
			d.log.Warnf("uplink read error: %v", err)
			d.link.Disconnect()
			if retryErr := retry.Until(func() (bool, error) {
				return d.connectUplink(ctx, uplink) == nil, nil
			}, &retry.Options{Budget: 30 * time.Second, Strategy: retry.NewExponentialBackoff(time.Second, 2, 10*time.Second, true), Context: ctx}); retryErr != nil {
				d.log.Errorf("uplink reconnect failed: %v", retryErr)
				return
			}
			d.introduceServices()
		}
	}
}

func (d *Daemon) schedulerLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.quit:
			return
		case now := <-ticker.C:
			d.sched.Run(now)
		}
	}
}

func (d *Daemon) serveHTTP(ctx context.Context, addr string, handler http.Handler) {
	defer d.wg.Done()
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		d.log.Errorf("listen %s: %v", addr, err)
		return
	}
	if err := srv.Serve(tcpKeepAliveListener{ln.(*net.TCPListener)}); err != nil && err != http.ErrServerClosed {
		d.log.Errorf("serve %s: %v", addr, err)
	}
}

// tcpKeepAliveListener matches net/http's own default listener
// wrapper so bare net.Listen + Serve behaves the same as ListenAndServe.
type tcpKeepAliveListener struct {
	*net.TCPListener
}

func (ln tcpKeepAliveListener) Accept() (net.Conn, error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)
	return tc, nil
}

// Stop tears down the uplink connection and signals every background
// loop to exit.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	close(d.quit)
	d.mu.Unlock()

	d.link.Disconnect()
	d.wg.Wait()
	return nil
}
