package kline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cycoslave/ratbox-services-sub000/internal/hookbus"
	"github.com/cycoslave/ratbox-services-sub000/internal/store"
)

func newTestEngine(t *testing.T, maxMatches int) *Engine {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(store.AllModels()...))

	s, err := store.Open(store.Config{Driver: store.DriverSQLite, DSN: dsn})
	require.NoError(t, err)

	bus := hookbus.New()
	return New(s, bus, Config{MaxMatches: maxMatches})
}

func TestAddBanWithDurationSetsHold(t *testing.T) {
	e := newTestEngine(t, 0)
	now := time.Unix(1000000, 0)
	require.NoError(t, e.AddBan(TypeKline, "*!*@bad.example.org", "spam", "", "oper", "1d", false, now))

	var stored store.OperBan
	require.NoError(t, e.db.DB().First(&stored).Error)
	assert.Equal(t, now.Add(24*time.Hour).Unix(), stored.Hold)
	assert.Equal(t, uint32(0), stored.Flags&FlagPermanent)
}

func TestAddBanWithoutDurationIsPermanent(t *testing.T) {
	e := newTestEngine(t, 0)
	now := time.Unix(1000000, 0)
	require.NoError(t, e.AddBan(TypeKline, "*!*@bad.example.org", "spam", "", "oper", "", false, now))

	var stored store.OperBan
	require.NoError(t, e.db.DB().First(&stored).Error)
	assert.Equal(t, int64(0), stored.Hold)
	assert.NotEqual(t, uint32(0), stored.Flags&FlagPermanent)
}

func TestMatchesAutoRemovesAfterMaxMatches(t *testing.T) {
	e := newTestEngine(t, 2)
	now := time.Unix(1000000, 0)
	require.NoError(t, e.AddBan(TypeKline, "*!*@bad.example.org", "spam", "", "oper", "", false, now))

	hits, err := e.Matches(TypeKline, "mallory!mal@bad.example.org", "")
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = e.Matches(TypeKline, "mallory!mal@bad.example.org", "")
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	var count int64
	e.db.DB().Model(&store.OperBan{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestMatchesRespectsNoMaxFlag(t *testing.T) {
	e := newTestEngine(t, 1)
	now := time.Unix(1000000, 0)
	require.NoError(t, e.AddBan(TypeKline, "*!*@bad.example.org", "spam", "", "oper", "", true, now))

	for i := 0; i < 5; i++ {
		hits, err := e.Matches(TypeKline, "mallory!mal@bad.example.org", "")
		require.NoError(t, err)
		assert.Len(t, hits, 1)
	}
	var count int64
	e.db.DB().Model(&store.OperBan{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestAddRegexBanRequiresAnchoredPattern(t *testing.T) {
	e := newTestEngine(t, 0)
	now := time.Unix(1000000, 0)
	err := e.AddRegexBan(`.*bad.*`, "unanchored", "oper", now)
	assert.ErrorContains(t, err, "anchor")

	err = e.AddRegexBan(`^.+!.+@.+#.+$`, "anchored", "oper", now)
	assert.NoError(t, err)
}

func TestScanNewClientMatchesAndHonorsException(t *testing.T) {
	e := newTestEngine(t, 0)
	now := time.Unix(1000000, 0)
	require.NoError(t, e.AddRegexBan(`^.+!.+@badhost\.example\.org#.+$`, "bad host", "oper", now))

	var rule store.OperBanRegexp
	require.NoError(t, e.db.DB().First(&rule).Error)
	require.NoError(t, e.AddRegexException(rule.ID, `^allowed!.+@.+#.+$`, "oper"))

	matched, reason := e.ScanNewClient(NewClient{Nick: "mallory", User: "mal", Host: "badhost.example.org", Gecos: "Mallory"})
	assert.True(t, matched)
	assert.Equal(t, "bad host", reason)

	matched, _ = e.ScanNewClient(NewClient{Nick: "allowed", User: "al", Host: "badhost.example.org", Gecos: "Allowed"})
	assert.False(t, matched)
}

func TestExpireBansRemovesOnlyPastHold(t *testing.T) {
	e := newTestEngine(t, 0)
	now := time.Unix(1000000, 0)
	require.NoError(t, e.AddBan(TypeKline, "*!*@expired.example.org", "x", "", "oper", "1s", false, now))
	require.NoError(t, e.AddBan(TypeKline, "*!*@future.example.org", "x", "", "oper", "1d", false, now))

	require.NoError(t, e.ExpireBans(now.Add(time.Hour)))

	var remaining []store.OperBan
	e.db.DB().Find(&remaining)
	require.Len(t, remaining, 1)
	assert.Equal(t, "*!*@future.example.org", remaining[0].Mask)
}
