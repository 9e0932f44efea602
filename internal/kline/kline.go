// Package kline implements the ban/kline engine of spec §4.5: global
// KLINE/XLINE/RESV management with optional durations, regex
// auto-kline on new-client introduction, per-ban match-count limits,
// and resync to remote servers.
package kline

import (
	"fmt"
	"regexp"
	"time"

	"gorm.io/gorm"

	"github.com/cycoslave/ratbox-services-sub000/internal/cidr"
	"github.com/cycoslave/ratbox-services-sub000/internal/durfmt"
	"github.com/cycoslave/ratbox-services-sub000/internal/hookbus"
	"github.com/cycoslave/ratbox-services-sub000/internal/store"
)

// Ban types (spec §4.5, matching `store.OperBan.Type`).
const (
	TypeKline = "K"
	TypeXline = "X"
	TypeResv  = "R"
)

// Flags on a stored OperBan.
const (
	FlagPermanent uint32 = 1 << iota
	FlagNoMax            // setter has the "nomax" privilege, bypassing MaxMatches
)

// anchoredRegexRe validates the `^nick!user@host#gecos$`-shaped
// pattern a regex auto-kline rule must match, per spec §4.5
// "auto-kline on a regex match requires the pattern anchor all four
// fields to avoid an accidental network-wide ban".
var anchoredRegexRe = regexp.MustCompile(`^\^.+!.+@.+#.+\$$`)

// NewClient is the minimal view the engine needs of an introducing
// user to run the auto-kline regex scan without importing internal/link.
type NewClient struct {
	UID    string
	Nick   string
	User   string
	Host   string
	IP     string
	Gecos  string
	Server string
}

// HookAutoKline is fired (via Engine.ScanNewClient, called from the
// link engine's new-client hook point) whenever an auto-kline regex
// matches, carrying the matched reason so a KILL can be issued by the
// caller; kline itself never talks to the wire.
const HookAutoKline = "kline:auto_kline"

// AutoKlineEvent is the payload delivered on HookAutoKline.
type AutoKlineEvent struct {
	Client NewClient
	Reason string
}

// Config holds the engine's tunables (spec §6).
type Config struct {
	MaxMatches int // a ban auto-removes once it has matched this many times; 0 = unlimited
}

// Engine owns the operbans/operbans_regexp(+neg) tables.
type Engine struct {
	db        *store.Store
	hooks     *hookbus.Bus
	autoKline hookbus.Point
	cfg       Config

	matchCounts map[uint64]int
}

// New creates an Engine.
func New(db *store.Store, bus *hookbus.Bus, cfg Config) *Engine {
	return &Engine{
		db: db, hooks: bus, cfg: cfg,
		autoKline:   bus.Register(HookAutoKline),
		matchCounts: make(map[uint64]int),
	}
}

// AddBan installs a KLINE/XLINE/RESV, optionally with a duration
// string parsed via internal/durfmt (spec §4.5 "KLINE <mask>
// [duration] <reason>"). hasNoMaxPriv bypasses MaxMatches accounting
// for this ban (spec §4.5 "nomax privilege exempts a ban from the
// global match-count ceiling").
func (e *Engine) AddBan(banType, mask, reason, operReason, oper, duration string, hasNoMaxPriv bool, now time.Time) error {
	var hold int64
	if duration != "" {
		d, err := durfmt.Parse(duration)
		if err != nil {
			return fmt.Errorf("kline: %w", err)
		}
		hold = now.Add(d).Unix()
	}
	var flags uint32
	if hold == 0 {
		flags |= FlagPermanent
	}
	if hasNoMaxPriv {
		flags |= FlagNoMax
	}
	ban := &store.OperBan{
		Type: banType, Mask: mask, Reason: reason,
		OperReason: operReason, Oper: oper, Hold: hold, Flags: flags,
		CreateTime: now.Unix(),
	}
	return e.db.DB().Create(ban).Error
}

// RemoveBan marks a ban pending removal (spec §4.5 "removal is a soft
// delete via a pending-removal flag so the next SYNC round trip
// rescinds it on every server idempotently") and deletes it outright
// once the resync flag has been observed; here, since this engine has
// no direct wire access, RemoveBan performs the hard delete and the
// caller is responsible for issuing the UNKLINE/UNXLINE wire command.
func (e *Engine) RemoveBan(banType, mask string) error {
	return e.db.DB().Where("type = ? AND mask = ?", banType, mask).Delete(&store.OperBan{}).Error
}

// Matches reports the bans (if any) matching a hostmask/IP pair, and
// records a match for MaxMatches accounting, auto-removing any ban
// (not flagged FlagNoMax) whose match count reaches cfg.MaxMatches
// (spec §4.5 "Every successful match against a non-nomax ban
// increments its counter; reaching max_matches removes it").
func (e *Engine) Matches(banType, hostmask, ip string) ([]store.OperBan, error) {
	var bans []store.OperBan
	if err := e.db.DB().Where("type = ?", banType).Find(&bans).Error; err != nil {
		return nil, err
	}
	var hits []store.OperBan
	for _, b := range bans {
		if !cidr.WildcardMatch(b.Mask, hostmask) && !(ip != "" && cidr.Match(ip, b.Mask)) {
			continue
		}
		hits = append(hits, b)
		if b.Flags&FlagNoMax != 0 || e.cfg.MaxMatches <= 0 {
			continue
		}
		e.matchCounts[b.ID]++
		if e.matchCounts[b.ID] >= e.cfg.MaxMatches {
			e.db.DB().Delete(&store.OperBan{}, b.ID)
			delete(e.matchCounts, b.ID)
		}
	}
	return hits, nil
}

// AddRegexBan installs a regex auto-kline rule; the pattern must be
// fully anchored across all four fields (spec §4.5) to be accepted.
func (e *Engine) AddRegexBan(pattern, reason, oper string, now time.Time) error {
	if !anchoredRegexRe.MatchString(pattern) {
		return fmt.Errorf("kline: regex %q must anchor nick!user@host#gecos with ^ and $", pattern)
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("kline: invalid regex: %w", err)
	}
	rb := &store.OperBanRegexp{Regex: pattern, Reason: reason, Oper: oper, CreateTime: now.Unix()}
	return e.db.DB().Create(rb).Error
}

// AddRegexException adds a negative match under an existing regex ban
// (spec §4.5 "an XLINE-style regex rule may carry negated sub-patterns
// that exempt a subset of otherwise-matching clients").
func (e *Engine) AddRegexException(parentID uint64, pattern, oper string) error {
	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("kline: invalid exception regex: %w", err)
	}
	neg := &store.OperBanRegexpNeg{ParentID: parentID, Regex: pattern, Oper: oper}
	return e.db.DB().Create(neg).Error
}

// ScanNewClient runs every regex auto-kline rule against an
// introducing client, honoring negative exceptions, and fires
// HookAutoKline on the first match (spec §4.5 "Auto-kline on new
// client introduction").
func (e *Engine) ScanNewClient(c NewClient) (bool, string) {
	target := c.Nick + "!" + c.User + "@" + c.Host + "#" + c.Gecos

	var rules []store.OperBanRegexp
	e.db.DB().Find(&rules)
	for _, rule := range rules {
		re, err := regexp.Compile(rule.Regex)
		if err != nil {
			continue
		}
		if !re.MatchString(target) {
			continue
		}
		if e.exceptionMatches(rule.ID, target) {
			continue
		}
		if e.hooks != nil {
			e.hooks.Call(e.autoKline, AutoKlineEvent{Client: c, Reason: rule.Reason})
		}
		return true, rule.Reason
	}
	return false, ""
}

func (e *Engine) exceptionMatches(parentID uint64, target string) bool {
	var negs []store.OperBanRegexpNeg
	e.db.DB().Where("parent_id = ?", parentID).Find(&negs)
	for _, neg := range negs {
		if re, err := regexp.Compile(neg.Regex); err == nil && re.MatchString(target) {
			return true
		}
	}
	return false
}

// ExpireBans deletes every non-permanent ban whose Hold has passed
// (spec §4.5 "timed bans self-expire at the next scan").
func (e *Engine) ExpireBans(now time.Time) error {
	return e.db.DB().Where("flags & ? = 0 AND hold > 0 AND hold <= ?", FlagPermanent, now.Unix()).
		Delete(&store.OperBan{}).Error
}

// SyncTarget describes where a resync round-trip should be sent;
// Engine itself never talks to the wire, it only enumerates what must
// be sent (spec §4.5 "SYNC to target server or *").
type SyncTarget struct {
	ServerName string // "" means all servers
}

// PendingSync returns every ban that needs (re-)applying to target,
// for the caller (the link engine) to turn into wire KLINE/XLINE lines.
func (e *Engine) PendingSync(target SyncTarget) ([]store.OperBan, error) {
	var bans []store.OperBan
	if err := e.db.DB().Find(&bans).Error; err != nil {
		return nil, err
	}
	return bans, nil
}

// WithTx exposes a transaction for callers that need to bundle a ban
// mutation with other writes (e.g. a service command that both bans
// and kills in one round trip).
func (e *Engine) WithTx(fn func(tx *gorm.DB) error) error {
	return e.db.WithTransaction(fn)
}
