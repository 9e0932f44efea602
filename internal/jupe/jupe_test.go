package jupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cycoslave/ratbox-services-sub000/internal/store"
)

func newTestEngine(t *testing.T, quorum int) *Engine {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(store.AllModels()...))

	s, err := store.Open(store.Config{Driver: store.DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	return New(s, Config{Quorum: quorum, Window: time.Hour})
}

func TestDirectJupeCommitsImmediately(t *testing.T) {
	e := newTestEngine(t, 3)
	require.NoError(t, e.Jupe("bad.server.org", "rogue"))

	juped, reason := e.IsJuped("bad.server.org")
	assert.True(t, juped)
	assert.Equal(t, "rogue", reason)
}

func TestVoteCommitsOnceQuorumReached(t *testing.T) {
	e := newTestEngine(t, 2)
	now := time.Unix(1000000, 0)

	committed, err := e.Vote("bad.server.org", "oper1", "rogue", now)
	require.NoError(t, err)
	assert.False(t, committed)

	committed, err = e.Vote("bad.server.org", "oper2", "rogue", now)
	require.NoError(t, err)
	assert.True(t, committed)

	juped, _ := e.IsJuped("bad.server.org")
	assert.True(t, juped)
}

func TestVoteRejectsDuplicateVoter(t *testing.T) {
	e := newTestEngine(t, 2)
	now := time.Unix(1000000, 0)
	_, err := e.Vote("bad.server.org", "oper1", "rogue", now)
	require.NoError(t, err)

	_, err = e.Vote("bad.server.org", "oper1", "rogue", now)
	assert.ErrorContains(t, err, "already voted")
}

func TestVoteExpiresOutsideWindow(t *testing.T) {
	e := newTestEngine(t, 2)
	now := time.Unix(1000000, 0)
	_, err := e.Vote("bad.server.org", "oper1", "rogue", now)
	require.NoError(t, err)

	later := now.Add(2 * time.Hour)
	committed, err := e.Vote("bad.server.org", "oper2", "rogue", later)
	require.NoError(t, err)
	assert.False(t, committed)
	assert.Equal(t, 1, e.VoteCount("bad.server.org", later))
}
