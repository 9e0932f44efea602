// Package nick is the nick registry engine grounded on
// original_source/src/s_nickserv.c: registering the currently-held
// nickname to a logged-in account, dropping registrations, and
// listing the nicks owned by an account. Unlike the channel and
// account registries this is an intentionally small table with no
// bonus-expiry logic of its own; nicks expire as a side effect of
// their owning account expiring (see internal/account).
package nick

import (
	"fmt"
	"time"

	"github.com/cycoslave/ratbox-services-sub000/internal/store"
)

// Config bounds the registry (spec §6 "nmax_nicks"-style cap).
type Config struct {
	MaxPerAccount int
}

// Engine owns the nicks table.
type Engine struct {
	db  *store.Store
	cfg Config
}

// New builds a nick registry engine.
func New(db *store.Store, cfg Config) *Engine {
	return &Engine{db: db, cfg: cfg}
}

// Register claims nickname for username (s_nick_register: rejects a
// UID-shaped nick, an already-registered nick, and a per-account cap).
func (e *Engine) Register(nickname, username string, now time.Time) error {
	if len(nickname) == 0 || nickname[0] >= '0' && nickname[0] <= '9' {
		return fmt.Errorf("nick: cannot register a numeric nick")
	}
	var existing store.Nick
	if err := e.db.DB().Where("nickname = ?", nickname).First(&existing).Error; err == nil {
		return fmt.Errorf("nick: %s is already registered", nickname)
	}
	count, err := e.CountForAccount(username)
	if err != nil {
		return err
	}
	if e.cfg.MaxPerAccount > 0 && count >= e.cfg.MaxPerAccount {
		return fmt.Errorf("nick: you have reached the maximum of %d registered nicks", e.cfg.MaxPerAccount)
	}
	n := &store.Nick{Nickname: nickname, Username: username, RegTime: now.Unix(), LastTime: now.Unix()}
	return e.db.DB().Create(n).Error
}

// Drop removes a nick registration, refusing if owned by someone else.
func (e *Engine) Drop(nickname, username string) error {
	var n store.Nick
	if err := e.db.DB().Where("nickname = ?", nickname).First(&n).Error; err != nil {
		return fmt.Errorf("nick: %s is not registered", nickname)
	}
	if n.Username != username {
		return fmt.Errorf("nick: %s is registered to someone else", nickname)
	}
	return e.db.DB().Delete(&n).Error
}

// Info returns the registration record for nickname, if any.
func (e *Engine) Info(nickname string) (*store.Nick, error) {
	var n store.Nick
	if err := e.db.DB().Where("nickname = ?", nickname).First(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

// ListForAccount returns every nick registered to username.
func (e *Engine) ListForAccount(username string) ([]store.Nick, error) {
	var nicks []store.Nick
	if err := e.db.DB().Where("username = ?", username).Find(&nicks).Error; err != nil {
		return nil, err
	}
	return nicks, nil
}

// CountForAccount is the per-account cap check used by Register.
func (e *Engine) CountForAccount(username string) (int, error) {
	var count int64
	if err := e.db.DB().Model(&store.Nick{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// Touch updates last_time on nick use (called on successful login with
// a registered current nick, mirroring ureg_p->last_time bookkeeping).
func (e *Engine) Touch(nickname string, now time.Time) error {
	return e.db.DB().Model(&store.Nick{}).Where("nickname = ?", nickname).Update("last_time", now.Unix()).Error
}

// DropAllForAccount removes every nick owned by username (called when
// the owning account itself is dropped or expires).
func (e *Engine) DropAllForAccount(username string) error {
	return e.db.DB().Where("username = ?", username).Delete(&store.Nick{}).Error
}
