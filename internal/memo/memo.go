// Package memo is the store-and-forward memo engine grounded on
// original_source/src/s_memoserv.c: SEND/LIST/READ/DELETE plus an
// unread count surfaced to account login (h_memoserv_user_login).
package memo

import (
	"fmt"
	"time"

	"github.com/cycoslave/ratbox-services-sub000/internal/store"
)

// FlagRead marks a memo as having been read (s_memoserv.c MEMO_FLAGS_READ).
const FlagRead uint32 = 1 << 0

// Config bounds the registry (spec's "mmax_memos"-style per-account cap).
type Config struct {
	MaxPerAccount int
}

// Engine owns the memos table, keyed off the owning account's
// store.User.ID (spec §6's memos.user_id column).
type Engine struct {
	db  *store.Store
	cfg Config
}

// New builds a memo engine.
func New(db *store.Store, cfg Config) *Engine {
	return &Engine{db: db, cfg: cfg}
}

func (e *Engine) userID(username string) (uint64, error) {
	var u store.User
	if err := e.db.DB().Where("username = ?", username).First(&u).Error; err != nil {
		return 0, fmt.Errorf("memo: no such account %s", username)
	}
	return u.ID, nil
}

// Send stores a memo from source to target (s_memo_send).
func (e *Engine) Send(target, source, text string, now time.Time) error {
	uid, err := e.userID(target)
	if err != nil {
		return err
	}
	count, err := e.UnreadCount(target)
	if err != nil {
		return err
	}
	if e.cfg.MaxPerAccount > 0 && count >= e.cfg.MaxPerAccount {
		return fmt.Errorf("memo: %s's memo inbox is full", target)
	}
	m := &store.Memo{UserID: uid, Source: source, Timestamp: now.Unix(), Text: text}
	return e.db.DB().Create(m).Error
}

// List returns every memo addressed to username, oldest first.
func (e *Engine) List(username string) ([]store.Memo, error) {
	uid, err := e.userID(username)
	if err != nil {
		return nil, err
	}
	var memos []store.Memo
	if err := e.db.DB().Where("user_id = ?", uid).Order("id").Find(&memos).Error; err != nil {
		return nil, err
	}
	return memos, nil
}

// Read fetches a single memo by id, owned by username, and marks it read.
func (e *Engine) Read(username string, id uint64) (*store.Memo, error) {
	uid, err := e.userID(username)
	if err != nil {
		return nil, err
	}
	var m store.Memo
	if err := e.db.DB().Where("id = ? AND user_id = ?", id, uid).First(&m).Error; err != nil {
		return nil, fmt.Errorf("memo: no such memo %d", id)
	}
	if m.Flags&FlagRead == 0 {
		e.db.DB().Model(&m).Update("flags", m.Flags|FlagRead)
		m.Flags |= FlagRead
	}
	return &m, nil
}

// Delete removes a memo owned by username.
func (e *Engine) Delete(username string, id uint64) error {
	uid, err := e.userID(username)
	if err != nil {
		return err
	}
	res := e.db.DB().Where("id = ? AND user_id = ?", id, uid).Delete(&store.Memo{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("memo: no such memo %d", id)
	}
	return nil
}

// UnreadCount reports how many unread memos username has (fired on
// login per h_memoserv_user_login).
func (e *Engine) UnreadCount(username string) (int, error) {
	uid, err := e.userID(username)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := e.db.DB().Model(&store.Memo{}).Where("user_id = ? AND flags & ? = 0", uid, FlagRead).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}
