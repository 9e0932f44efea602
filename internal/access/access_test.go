package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cycoslave/ratbox-services-sub000/internal/chanstate"
	"github.com/cycoslave/ratbox-services-sub000/internal/hookbus"
	"github.com/cycoslave/ratbox-services-sub000/internal/store"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(store.AllModels()...))

	s, err := store.Open(store.Config{Driver: store.DriverSQLite, DSN: dsn})
	require.NoError(t, err)

	bus := hookbus.New()
	cfg := Config{
		RegisterWindow:     time.Hour,
		RegisterMaxPerHost: 3,
		InactivityWindow:   30 * 24 * time.Hour,
		BonusThreshold:     90 * 24 * time.Hour,
		BonusPeriod:        30 * 24 * time.Hour,
		BonusStep:          24 * time.Hour,
		BonusMax:           10 * 24 * time.Hour,
		SuspendedExpiry:    7 * 24 * time.Hour,
	}
	return New(s, bus, cfg)
}

func TestRegisterCreatesOwnerAccess(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(1000000, 0)
	require.NoError(t, e.Register("#test", "alice", "127.0.0.1", now))

	m, err := e.AccessFor("#test", "alice")
	require.NoError(t, err)
	assert.Equal(t, LevelOwner, m.Level)
}

func TestRegisterRateLimitPerHost(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(1000000, 0)
	require.NoError(t, e.Register("#a", "alice", "10.0.0.1", now))
	require.NoError(t, e.Register("#b", "alice", "10.0.0.1", now))
	require.NoError(t, e.Register("#c", "alice", "10.0.0.1", now))
	err := e.Register("#d", "alice", "10.0.0.1", now)
	assert.ErrorContains(t, err, "rate limit")
}

func TestEvaluateJoinKicksOnMatchingBan(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(1000000, 0)
	require.NoError(t, e.Register("#test", "alice", "10.0.0.1", now))
	require.NoError(t, e.AddBan("#test", "*!*@bad.example.org", "no thanks", "alice", LevelOp, 0))

	ch := chanstate.New("#test", now.Unix())
	decision, err := e.EvaluateJoin("#test", ch, JoiningUser{
		UID:  "00AAAAAAA",
		Mask: "mallory!mal@bad.example.org",
	}, now)
	require.NoError(t, err)
	assert.True(t, decision.Kicked)
	assert.Equal(t, "no thanks", decision.KickReason)
}

func TestEvaluateJoinExceptionBypassesBan(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(1000000, 0)
	require.NoError(t, e.Register("#test", "alice", "10.0.0.1", now))
	require.NoError(t, e.AddBan("#test", "*!*@bad.example.org", "no thanks", "alice", LevelOp, 0))

	ch := chanstate.New("#test", now.Unix())
	ch.AddBan("*!*@bad.example.org")
	// RemoveBan isn't what grants an exception; add to Excepts directly
	// to simulate a +e mask already set on the live channel.
	ch.Excepts = append(ch.Excepts, "*!*@bad.example.org")

	decision, err := e.EvaluateJoin("#test", ch, JoiningUser{
		UID:  "00AAAAAAA",
		Mask: "mallory!mal@bad.example.org",
	}, now)
	require.NoError(t, err)
	assert.False(t, decision.Kicked)
}

func TestEvaluateJoinGrantsAutoOpForAccessHolder(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(1000000, 0)
	require.NoError(t, e.Register("#test", "alice", "10.0.0.1", now))

	m, err := e.AccessFor("#test", "alice")
	require.NoError(t, err)
	m.Flags |= MemberFlagAutoOp
	require.NoError(t, e.db.DB().Save(m).Error)

	ch := chanstate.New("#test", now.Unix())
	decision, err := e.EvaluateJoin("#test", ch, JoiningUser{
		UID:         "00AAAAAAA",
		Mask:        "alice!al@host.example.org",
		AccountName: "alice",
	}, now)
	require.NoError(t, err)
	assert.True(t, decision.GrantOp)
	assert.False(t, decision.Kicked)
}

func TestUnbanRefusedWhileBantsUnchangedSinceSnapshot(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(1000000, 0)
	require.NoError(t, e.Register("#test", "alice", "10.0.0.1", now))

	m, err := e.AccessFor("#test", "alice")
	require.NoError(t, err)

	require.NoError(t, e.AddBan("#test", "*!*@new.example.org", "new ban", "alice", LevelOp, 0))
	e.cacheBants("#test", m)

	assert.False(t, e.CanUnban("#test", "alice"))
}

func TestRemoveAccessPromotesNextOwner(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(1000000, 0)
	require.NoError(t, e.Register("#test", "alice", "10.0.0.1", now))
	require.NoError(t, e.db.DB().Create(&store.Member{ChName: "#test", Username: "bob", Level: LevelManagement}).Error)

	require.NoError(t, e.RemoveAccess("#test", "alice"))

	bob, err := e.AccessFor("#test", "bob")
	require.NoError(t, err)
	assert.Equal(t, LevelOwner, bob.Level)
}

func TestRemoveAccessDestroysChannelWhenEmpty(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(1000000, 0)
	require.NoError(t, e.Register("#test", "alice", "10.0.0.1", now))

	require.NoError(t, e.RemoveAccess("#test", "alice"))

	var ch store.Channel
	err := e.db.DB().Where("ch_name = ?", "#test").First(&ch).Error
	assert.Error(t, err)
}

func TestExpireChannelsSkipsPresentChannels(t *testing.T) {
	e := newTestEngine(t)
	regTime := time.Unix(0, 0)
	require.NoError(t, e.Register("#test", "alice", "10.0.0.1", regTime))

	farFuture := regTime.Add(365 * 24 * time.Hour)
	require.NoError(t, e.ExpireChannels(farFuture, func(chName string) bool { return true }))

	var ch store.Channel
	err := e.db.DB().Where("ch_name = ?", "#test").First(&ch).Error
	assert.NoError(t, err)
}

func TestExpireChannelsDestroysAbandonedChannel(t *testing.T) {
	e := newTestEngine(t)
	regTime := time.Unix(0, 0)
	require.NoError(t, e.Register("#test", "alice", "10.0.0.1", regTime))

	farFuture := regTime.Add(365 * 24 * time.Hour)
	require.NoError(t, e.ExpireChannels(farFuture, func(chName string) bool { return false }))

	var ch store.Channel
	err := e.db.DB().Where("ch_name = ?", "#test").First(&ch).Error
	assert.Error(t, err)
}
