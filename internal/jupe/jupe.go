// Package jupe implements quorum-voted server juping (spec's
// SUPPLEMENTED FEATURES, grounded on original_source/src/s_jupeserv.c's
// oper JUPE command plus its "calljupe" vote path): a server name
// becomes juped once a configured number of distinct opers vote for it
// within a time window, and the jupe is re-armed (re-announced) every
// time the named server SQUITs, mirroring h_jupeserv_squit.
package jupe

import (
	"fmt"
	"time"

	"github.com/cycoslave/ratbox-services-sub000/internal/store"
)

// Config is the voting quorum and window (spec §6 "jupe quorum").
type Config struct {
	Quorum int
	Window time.Duration
}

type vote struct {
	oper string
	at   time.Time
}

// Engine owns pending votes and the committed jupes table.
type Engine struct {
	db     *store.Store
	cfg    Config
	voters map[string][]vote // servername -> votes cast
}

// New builds a jupe engine.
func New(db *store.Store, cfg Config) *Engine {
	return &Engine{db: db, cfg: cfg, voters: make(map[string][]vote)}
}

// Jupe directly commits a jupe (oper JUPE command, bypasses voting;
// o_jupeserv_jupe).
func (e *Engine) Jupe(servername, reason string) error {
	var existing store.Jupe
	if err := e.db.DB().Where("server_name = ?", servername).First(&existing).Error; err == nil {
		return fmt.Errorf("jupe: %s is already juped", servername)
	}
	if reason == "" {
		reason = "No Reason"
	}
	delete(e.voters, servername)
	return e.db.DB().Create(&store.Jupe{ServerName: servername, Reason: reason}).Error
}

// Unjupe removes a committed jupe.
func (e *Engine) Unjupe(servername string) error {
	res := e.db.DB().Where("server_name = ?", servername).Delete(&store.Jupe{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("jupe: %s is not juped", servername)
	}
	return nil
}

// Vote records oper's vote to jupe servername ("calljupe"); once
// cfg.Quorum distinct opers have voted within cfg.Window the jupe
// commits automatically and the accumulated votes are cleared.
func (e *Engine) Vote(servername, oper, reason string, now time.Time) (committed bool, err error) {
	votes := e.voters[servername]
	cutoff := now.Add(-e.cfg.Window)
	fresh := votes[:0]
	for _, v := range votes {
		if v.at.After(cutoff) {
			fresh = append(fresh, v)
		}
	}
	for _, v := range fresh {
		if v.oper == oper {
			e.voters[servername] = fresh
			return false, fmt.Errorf("jupe: you have already voted to jupe %s", servername)
		}
	}
	fresh = append(fresh, vote{oper: oper, at: now})
	e.voters[servername] = fresh

	if len(fresh) >= e.cfg.Quorum {
		if err := e.Jupe(servername, reason); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// VoteCount reports how many live votes servername currently has.
func (e *Engine) VoteCount(servername string, now time.Time) int {
	votes := e.voters[servername]
	cutoff := now.Add(-e.cfg.Window)
	count := 0
	for _, v := range votes {
		if v.at.After(cutoff) {
			count++
		}
	}
	return count
}

// IsJuped reports whether servername is currently juped.
func (e *Engine) IsJuped(servername string) (bool, string) {
	var j store.Jupe
	if err := e.db.DB().Where("server_name = ?", servername).First(&j).Error; err != nil {
		return false, ""
	}
	return true, j.Reason
}

// OnSquit re-arms the jupe announcement for a SQUIT'd server name,
// returning the reason to re-announce if it's juped (h_jupeserv_squit).
func (e *Engine) OnSquit(servername string) (juped bool, reason string) {
	return e.IsJuped(servername)
}
