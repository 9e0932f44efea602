// Package access implements the channel access engine of spec §4.2,
// "the heart of the system": channel registration, per-user access
// levels, ban lists with levels and exemptions, join-time enforcement,
// UNBAN with bants-cache invalidation, suspension, and expiry.
package access

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/cycoslave/ratbox-services-sub000/internal/casemap"
	"github.com/cycoslave/ratbox-services-sub000/internal/chanstate"
	"github.com/cycoslave/ratbox-services-sub000/internal/cidr"
	"github.com/cycoslave/ratbox-services-sub000/internal/hookbus"
	"github.com/cycoslave/ratbox-services-sub000/internal/store"
)

// Access level bands (spec §3 "Member access").
const (
	LevelOwner      = 200
	LevelManagement = 190
	LevelUserList   = 150
	LevelClearOps   = 140
	LevelSuspend    = 100
	LevelOp         = 50
	LevelRegular    = 10
	LevelBase       = 1
)

// Flags on a registered channel (spec §3 "Registered channel").
const (
	FlagSuspended uint32 = 1 << iota
	FlagNoOps
	FlagAutojoin
	FlagWarnOnOverride
	FlagRestrictOps
	FlagNoVoices
	FlagNoVoiceCommand
	FlagNoUserBans
	FlagNeedsWriteback
	FlagInhabiting
)

// Member access flags (spec §3 "Member access").
const (
	MemberFlagAutoOp uint32 = 1 << iota
	MemberFlagAutoVoice
)

// Config holds the engine's tunables, sourced from config (spec §6).
type Config struct {
	RegisterWindow      time.Duration
	RegisterMaxPerHost  int
	InactivityWindow    time.Duration
	BonusThreshold      time.Duration
	BonusPeriod         time.Duration
	BonusStep           time.Duration
	BonusMax            time.Duration
	SuspendedExpiry     time.Duration
	TopicEnforceFreq    time.Duration // 0 means "immediately on TOPIC hook"
}

// JoiningUser is the minimal view the engine needs of a joining client
// to avoid importing the link package (which would create a cycle
// since link's hooks are what call into this engine).
type JoiningUser struct {
	UID         string
	Mask        string // nick!user@host
	IP          string
	AccountName string // "" if not logged in
}

// Engine owns the registered-channel fabric.
type Engine struct {
	db    *store.Store
	hooks *hookbus.Bus
	cfg   Config

	registerTimesByHost map[string][]time.Time
}

// New creates an Engine.
func New(db *store.Store, bus *hookbus.Bus, cfg Config) *Engine {
	return &Engine{db: db, hooks: bus, cfg: cfg, registerTimesByHost: make(map[string][]time.Time)}
}

// Register creates a registered channel with caller as sole owner
// (spec §4.2 "Registration"). The caller must already be verified
// (logged in, opped in the live channel) by the service layer before
// calling this.
func (e *Engine) Register(chName, ownerUsername, hostKey string, now time.Time) error {
	cutoff := now.Add(-e.cfg.RegisterWindow)
	times := e.registerTimesByHost[hostKey]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if e.cfg.RegisterMaxPerHost > 0 && len(kept) >= e.cfg.RegisterMaxPerHost {
		return fmt.Errorf("access: channel registration rate limit exceeded")
	}
	e.registerTimesByHost[hostKey] = append(kept, now)

	ch := &store.Channel{
		ChName:       chName,
		CreateModes:  "+nt",
		EnforceModes: "",
		RegTime:      now.Unix(),
		LastTime:     now.Unix(),
	}
	if err := e.db.DB().Create(ch).Error; err != nil {
		return fmt.Errorf("access: registering channel: %w", err)
	}
	member := &store.Member{
		ChName:   chName,
		Username: ownerUsername,
		Level:    LevelOwner,
		LastMod:  ownerUsername,
	}
	return e.db.DB().Create(member).Error
}

// AccessFor returns the access record for username on chName, if any.
func (e *Engine) AccessFor(chName, username string) (*store.Member, error) {
	var m store.Member
	if err := e.db.DB().Where("ch_name = ? AND username = ?", chName, username).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// bantsState is tracked in-memory per channel since it is a runtime
// perf cache, not part of the persisted schema (spec §6 lists no
// bants column; §3 calls it "monotonic bants counter").
type bantsState struct {
	counters  map[string]int
	snapshots map[string]int
}

// AddBan inserts a stored ban and increments the channel's bants
// counter (spec §4.2 "Every DELBAN and MODBAN increments bants").
func (e *Engine) AddBan(chName, mask, reason, setter string, level int, hold int64) error {
	return e.db.WithTransaction(func(tx *gorm.DB) error {
		ban := &store.Ban{ChName: chName, Mask: casemap.Fold(mask), Reason: reason, Username: setter, Level: level, Hold: hold}
		if err := tx.Create(ban).Error; err != nil {
			return err
		}
		return e.bumpBants(tx, chName)
	})
}

// DelBan removes a stored ban and increments bants.
func (e *Engine) DelBan(chName, mask string) error {
	return e.db.WithTransaction(func(tx *gorm.DB) error {
		if err := tx.Where("ch_name = ? AND mask = ?", chName, casemap.Fold(mask)).Delete(&store.Ban{}).Error; err != nil {
			return err
		}
		return e.bumpBants(tx, chName)
	})
}

func (e *Engine) bumpBants(tx *gorm.DB, chName string) error {
	globalBants.counters[casemap.Fold(chName)]++
	return nil
}

var globalBants = &bantsState{counters: make(map[string]int), snapshots: make(map[string]int)}

// Bants returns the current bants counter for a channel.
func (e *Engine) Bants(chName string) int {
	return globalBants.counters[casemap.Fold(chName)]
}

// JoinDecision is the outcome of EvaluateJoin: what the caller (the
// link/service layer) must do to the live channel and user.
type JoinDecision struct {
	Kicked        bool
	KickReason    string
	StripOp       bool
	StripVoice    bool
	NewBanMask    string // non-empty if a ban mask needs inserting live
	GrantOp       bool
	GrantVoice    bool
	ServiceShouldJoinFirst bool
}

// EvaluateJoin evaluates one joining user against one registered
// channel's state: ban matching, the channel's NOOPS/NOVOICES policy,
// and per-access auto-op/auto-voice. It does not apply FlagRestrictOps
// and never sets ServiceShouldJoinFirst.
func (e *Engine) EvaluateJoin(chName string, ch *chanstate.Channel, user JoiningUser, now time.Time) (JoinDecision, error) {
	var rc store.Channel
	if err := e.db.DB().Where("ch_name = ?", chName).First(&rc).Error; err != nil {
		return JoinDecision{}, nil // not registered, nothing to enforce
	}

	var decision JoinDecision

	var access *store.Member
	if user.AccountName != "" {
		if m, err := e.AccessFor(chName, user.AccountName); err == nil {
			access = m
		}
	}

	// Step 1: ban evaluation; a ban does not apply to an unsuspended
	// access holder whose level is at or above the ban's level.
	{
		var bans []store.Ban
		e.db.DB().Where("ch_name = ?", chName).Find(&bans)
		for _, b := range bans {
			if !masksMatch(b.Mask, user.Mask, user.IP) {
				continue
			}
			hasException := channelHasException(ch, user.Mask)
			bypassesByLevel := access != nil && access.Suspend == 0 && access.Level >= b.Level
			if hasException || bypassesByLevel {
				continue
			}
			decision.Kicked = true
			decision.KickReason = b.Reason
			decision.StripOp = true
			decision.NewBanMask = b.Mask
			if access != nil {
				e.cacheBants(chName, access)
			}
			return decision, nil
		}
	}

	if access != nil {
		rc.LastTime = now.Unix()
		e.db.DB().Save(&rc)
		e.cacheBants(chName, access)
	}

	// Step 3: channel-wide op/voice policy.
	if rc.Flags&FlagNoOps != 0 {
		decision.StripOp = true
	}
	if rc.Flags&FlagNoVoices != 0 {
		decision.StripVoice = true
	}

	// Step 5: per-access auto-op/auto-voice.
	if access != nil {
		if access.Flags&MemberFlagAutoOp != 0 && rc.Flags&FlagNoOps == 0 {
			decision.GrantOp = true
		}
		if access.Flags&MemberFlagAutoVoice != 0 && rc.Flags&FlagNoVoices == 0 {
			decision.GrantVoice = true
		}
	}

	return decision, nil
}

// cacheBants snapshots the channel's current bants counter against a
// particular access-holder; CanUnban later compares against this to
// tell whether any ban was added or removed since the snapshot (spec
// §4.2 Ambiguities).
func (e *Engine) cacheBants(chName string, access *store.Member) {
	globalBants.snapshots[casemap.Fold(chName)+"/"+casemap.Fold(access.Username)] = globalBants.counters[casemap.Fold(chName)]
}

func masksMatch(banMask, userMask, userIP string) bool {
	if cidr.WildcardMatch(banMask, userMask) {
		return true
	}
	if userIP != "" && cidr.Match(userIP, banMask) {
		return true
	}
	return false
}

func channelHasException(ch *chanstate.Channel, userMask string) bool {
	if ch == nil {
		return false
	}
	ch.RLock()
	defer ch.RUnlock()
	for _, ex := range ch.Excepts {
		if cidr.WildcardMatch(ex, userMask) {
			return true
		}
	}
	return false
}

// CanUnban checks the self-UNBAN invalidation rule of spec §4.2: the
// unban is refused if the access record's cached bants snapshot equals
// the channel's current bants counter (meaning no ban has been added
// or removed since the snapshot was taken at the user's last join or
// ban kick).
func (e *Engine) CanUnban(chName, username string) bool {
	cached, ok := globalBants.snapshots[casemap.Fold(chName)+"/"+casemap.Fold(username)]
	if !ok {
		return true
	}
	return cached != globalBants.counters[casemap.Fold(chName)]
}

// Unban removes every stored+live ban mask matching the user, subject
// to CanUnban (spec §4.2 "UNBAN").
func (e *Engine) Unban(chName, username, userMask, userIP string) ([]string, error) {
	if !e.CanUnban(chName, username) {
		return nil, fmt.Errorf("access: unban refused, the channel's bans have not changed since your last join")
	}
	var bans []store.Ban
	if err := e.db.DB().Where("ch_name = ?", chName).Find(&bans).Error; err != nil {
		return nil, err
	}
	var removed []string
	for _, b := range bans {
		if masksMatch(b.Mask, userMask, userIP) {
			if err := e.DelBan(chName, b.Mask); err != nil {
				return removed, err
			}
			removed = append(removed, b.Mask)
		}
	}
	return removed, nil
}

// Suspend marks a registered channel suspended with a reason and
// optional timed expiry (0 = indefinite).
func (e *Engine) Suspend(chName, oper, reason string, expiry int64, now time.Time) error {
	return e.db.DB().Model(&store.Channel{}).Where("ch_name = ?", chName).Updates(map[string]any{
		"flags":          gorm.Expr("flags | ?", FlagSuspended),
		"suspender":      oper,
		"suspend_reason": reason,
		"suspend_time":   expiry,
	}).Error
}

// ExpireSuspensions lazily clears channel suspensions whose timed
// expiry has passed (spec §4.2 "on expiry the suspension self-clears
// at the next scan").
func (e *Engine) ExpireSuspensions(now time.Time) error {
	return e.db.DB().Model(&store.Channel{}).
		Where("flags & ? != 0 AND suspend_time > 0 AND suspend_time <= ?", FlagSuspended, now.Unix()).
		Update("flags", gorm.Expr("flags & ~?", FlagSuspended)).Error
}

func (e *Engine) expiryFor(age time.Duration) time.Duration {
	bonus := time.Duration(0)
	if age >= e.cfg.BonusThreshold && e.cfg.BonusPeriod > 0 {
		periods := float64(age) / float64(e.cfg.BonusPeriod)
		bonus = time.Duration(periods * float64(e.cfg.BonusStep))
		if bonus > e.cfg.BonusMax {
			bonus = e.cfg.BonusMax
		}
	}
	return e.cfg.InactivityWindow + bonus
}

// PresenceChecker reports whether any access-holder of chName is
// currently present in the live channel, so ExpireChannels can skip
// destroying channels that are still attended (spec §4.2 "Before
// destroying a channel, the scan verifies no access-holder is
// currently present").
type PresenceChecker func(chName string) bool

// ExpireChannels implements spec §4.2 "Expiry": a periodic scan that
// destroys inactive (or inactive-suspended) channels once nobody with
// access is present.
func (e *Engine) ExpireChannels(now time.Time, present PresenceChecker) error {
	var channels []store.Channel
	if err := e.db.DB().Find(&channels).Error; err != nil {
		return err
	}
	for _, ch := range channels {
		if present(ch.ChName) {
			ch.LastTime = now.Unix()
			e.db.DB().Save(&ch)
			continue
		}
		age := now.Sub(time.Unix(ch.RegTime, 0))
		lastActive := now.Sub(time.Unix(ch.LastTime, 0))
		var window time.Duration
		if ch.Flags&FlagSuspended != 0 {
			window = e.cfg.SuspendedExpiry
		} else {
			window = e.expiryFor(age)
		}
		if lastActive >= window {
			e.destroyChannel(ch.ChName)
		}
	}
	return nil
}

func (e *Engine) destroyChannel(chName string) {
	e.db.WithTransaction(func(tx *gorm.DB) error {
		tx.Where("ch_name = ?", chName).Delete(&store.Member{})
		tx.Where("ch_name = ?", chName).Delete(&store.Ban{})
		return tx.Where("ch_name = ?", chName).Delete(&store.Channel{}).Error
	})
}

// RemoveAccess deletes an access record and, if it was the owner,
// promotes the highest remaining access holder (preferring
// unsuspended) to owner (spec §3 invariant, §8 Testable Property 1).
// If no access holders remain, the registered channel is destroyed.
func (e *Engine) RemoveAccess(chName, username string) error {
	return e.db.WithTransaction(func(tx *gorm.DB) error {
		var target store.Member
		if err := tx.Where("ch_name = ? AND username = ?", chName, username).First(&target).Error; err != nil {
			return err
		}
		wasOwner := target.Level == LevelOwner
		if err := tx.Delete(&target).Error; err != nil {
			return err
		}

		var remaining []store.Member
		if err := tx.Where("ch_name = ?", chName).Find(&remaining).Error; err != nil {
			return err
		}
		if len(remaining) == 0 {
			tx.Where("ch_name = ?", chName).Delete(&store.Ban{})
			return tx.Where("ch_name = ?", chName).Delete(&store.Channel{}).Error
		}
		if wasOwner {
			best := remaining[0]
			for _, m := range remaining[1:] {
				if betterOwnerCandidate(m, best) {
					best = m
				}
			}
			best.Level = LevelOwner
			return tx.Save(&best).Error
		}
		return nil
	})
}

func betterOwnerCandidate(candidate, current store.Member) bool {
	candidateSuspended := candidate.Suspend != 0
	currentSuspended := current.Suspend != 0
	if candidateSuspended != currentSuspended {
		return !candidateSuspended
	}
	return candidate.Level > current.Level
}

// modeStringToBits turns a stored mode string like "+nt" or "nt" into
// the 1<<(letter-'a') bit scheme the link engine's SJOIN/MODE handling
// uses, ignoring +/- tokens.
func modeStringToBits(modeStr string) uint32 {
	var bits uint32
	for _, r := range modeStr {
		if r >= 'a' && r <= 'z' {
			bits |= 1 << uint(r-'a')
		}
	}
	return bits
}

func bitsToLetters(bits uint32) string {
	var b strings.Builder
	for i := 0; i < 26; i++ {
		if bits&(1<<uint(i)) != 0 {
			b.WriteByte(byte('a' + i))
		}
	}
	return b.String()
}

// EnforceChannelModes implements spec §4.2's mode-enforcement half: a
// registered channel's EnforceModes string lists mode letters that
// must always stay set. Fired from the link engine's channel-mode and
// lower-TS-SJOIN hooks; returns the letters that were missing and have
// just been restored on ch, or "" if nothing needed fixing.
func (e *Engine) EnforceChannelModes(chName string, ch *chanstate.Channel) string {
	var rc store.Channel
	if err := e.db.DB().Where("ch_name = ?", chName).First(&rc).Error; err != nil || rc.EnforceModes == "" {
		return ""
	}
	want := modeStringToBits(rc.EnforceModes)

	ch.Lock()
	missing := want &^ ch.ModeRec.Bits
	if missing != 0 {
		ch.ModeRec.Bits |= missing
	}
	ch.Unlock()

	return bitsToLetters(missing)
}

// SetTopic stores chName's enforced topic (ChanServ's SET TOPIC); the
// caller is responsible for checking the setter's access level first.
func (e *Engine) SetTopic(chName, topic string) error {
	return e.db.DB().Model(&store.Channel{}).Where("ch_name = ?", chName).Update("topic", topic).Error
}

// EnforceTopic implements spec §4.2's immediate topic-enforcement path
// (original_source's h_chanserv_topic, which only acts "if
// cenforcetopic_frequency == 0"): called from the link engine's
// HookTopicChange listener with the freshly-set live topic, it reports
// the stored topic to revert to when it differs and TopicEnforceFreq
// is 0. When TopicEnforceFreq is nonzero, EnforceTopicsSweep owns
// reversion instead — the two paths are mutually exclusive, mirroring
// the original's hook-vs-periodic-event split.
func (e *Engine) EnforceTopic(chName, liveTopic string) (string, bool) {
	if e.cfg.TopicEnforceFreq > 0 {
		return "", false
	}
	var rc store.Channel
	if err := e.db.DB().Where("ch_name = ?", chName).First(&rc).Error; err != nil {
		return "", false
	}
	if rc.Topic == "" || rc.Topic == liveTopic {
		return "", false
	}
	return rc.Topic, true
}

// EnforceTopicsSweep implements the periodic half of topic enforcement
// (original_source's e_chanserv_enforcetopic): a no-op unless
// TopicEnforceFreq is nonzero, in which case it walks every registered
// channel with a stored topic and reports the ones whose live topic
// (as reported by present) has drifted from what's stored.
func (e *Engine) EnforceTopicsSweep(present func(chName string) (liveTopic string, joined bool)) map[string]string {
	if e.cfg.TopicEnforceFreq == 0 {
		return nil
	}
	var channels []store.Channel
	if err := e.db.DB().Where("topic != ''").Find(&channels).Error; err != nil {
		return nil
	}
	fixes := make(map[string]string)
	for _, rc := range channels {
		live, joined := present(rc.ChName)
		if !joined || live == rc.Topic {
			continue
		}
		fixes[rc.ChName] = rc.Topic
	}
	return fixes
}

// EnableInhabit marks a registered channel as inhabited (spec §4.2's
// INHABIT: hold the channel open after the last real member is
// kicked/banned off it), grounded on original_source's enable_inhabit.
// Autojoin channels already expect a service sitting in them, so they
// never need the flag.
func (e *Engine) EnableInhabit(chName string) error {
	var rc store.Channel
	if err := e.db.DB().Where("ch_name = ?", chName).First(&rc).Error; err != nil {
		return err
	}
	if rc.Flags&FlagAutojoin != 0 {
		return nil
	}
	return e.db.DB().Model(&store.Channel{}).Where("ch_name = ?", chName).
		Update("flags", gorm.Expr("flags | ?", FlagInhabiting)).Error
}

// InhabitSweep implements spec §4.2's periodic INHABIT sweep
// (original_source's e_chanserv_partinhabit): every channel currently
// flagged inhabited is checked against the live roster reported by
// present. An autojoin channel left empty drops its inhabit flag
// immediately; otherwise, once a real opped member is present the
// channel no longer needs holding open. Returns the channels whose
// flag was just cleared, so the caller can part the holding service.
func (e *Engine) InhabitSweep(present func(chName string) (members int, anyOpped bool, joined bool)) []string {
	var channels []store.Channel
	if err := e.db.DB().Where("flags & ? != 0", FlagInhabiting).Find(&channels).Error; err != nil {
		return nil
	}
	var cleared []string
	for _, rc := range channels {
		members, anyOpped, joined := present(rc.ChName)
		switch {
		case !joined:
			_ = e.clearInhabit(rc.ChName)
			cleared = append(cleared, rc.ChName)
		case rc.Flags&FlagAutojoin != 0 && members == 0:
			_ = e.clearInhabit(rc.ChName)
			cleared = append(cleared, rc.ChName)
		case anyOpped:
			_ = e.clearInhabit(rc.ChName)
			cleared = append(cleared, rc.ChName)
		}
	}
	return cleared
}

func (e *Engine) clearInhabit(chName string) error {
	return e.db.DB().Model(&store.Channel{}).Where("ch_name = ?", chName).
		Update("flags", gorm.Expr("flags & ~?", FlagInhabiting)).Error
}
