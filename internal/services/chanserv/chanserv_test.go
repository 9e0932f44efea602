package chanserv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cycoslave/ratbox-services-sub000/internal/access"
	"github.com/cycoslave/ratbox-services-sub000/internal/help"
	"github.com/cycoslave/ratbox-services-sub000/internal/hookbus"
	"github.com/cycoslave/ratbox-services-sub000/internal/lang"
	"github.com/cycoslave/ratbox-services-sub000/internal/service"
	"github.com/cycoslave/ratbox-services-sub000/internal/store"
)

func newTestPersonality(t *testing.T) (*service.Service, *access.Engine, time.Time) {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(store.AllModels()...))

	s, err := store.Open(store.Config{Driver: store.DriverSQLite, DSN: dsn})
	require.NoError(t, err)

	eng := access.New(s, hookbus.New(), access.Config{
		RegisterWindow:     time.Hour,
		RegisterMaxPerHost: 10,
		InactivityWindow:   30 * 24 * time.Hour,
		BonusThreshold:     90 * 24 * time.Hour,
		BonusPeriod:        30 * 24 * time.Hour,
		BonusStep:          24 * time.Hour,
		BonusMax:           10 * 24 * time.Hour,
		SuspendedExpiry:    7 * 24 * time.Hour,
	})

	cat := lang.New("en")
	require.NoError(t, cat.Add("en", service.MsgUnknownCommand, "unknown command"))
	require.NoError(t, cat.Add("en", service.MsgNotLoggedIn, "you are not logged in"))
	require.NoError(t, cat.Add("en", service.MsgNoAccess, "no access"))
	require.NoError(t, cat.Add("en", service.MsgSyntax, "syntax error"))
	svc := service.New("ChanServ", service.FloodConfig{}, help.New(t.TempDir()), cat)

	now := time.Unix(1700000000, 0)
	New(svc, eng, func() time.Time { return now })
	return svc, eng, now
}

func TestRegisterThroughDispatchCreatesOwner(t *testing.T) {
	svc, eng, _ := newTestPersonality(t)
	var got string
	reply := func(l string) { got = l }

	svc.Dispatch(service.Context{Mask: "alice!a@host", AccountName: "alice", Args: []string{"REGISTER", "#test"}}, time.Now(), reply)
	assert.Contains(t, got, "registered")

	m, err := eng.AccessFor("#test", "alice")
	require.NoError(t, err)
	assert.Equal(t, access.LevelOwner, m.Level)
}

func TestDropRequiresOwnerLevel(t *testing.T) {
	svc, eng, now := newTestPersonality(t)
	require.NoError(t, eng.Register("#test", "alice", "host", now))

	var got string
	reply := func(l string) { got = l }
	svc.Dispatch(service.Context{Mask: "bob!b@host", AccountName: "bob", Args: []string{"DROP", "#test"}}, time.Now(), reply)
	assert.Contains(t, got, "DROP failed")
}

func TestBanThenUnbanThroughDispatch(t *testing.T) {
	svc, eng, now := newTestPersonality(t)
	require.NoError(t, eng.Register("#test", "alice", "host", now))

	var got string
	reply := func(l string) { got = l }
	svc.Dispatch(service.Context{Mask: "alice!a@host", AccountName: "alice", Args: []string{"BAN", "#test", "*!*@evil.net"}}, time.Now(), reply)
	assert.Contains(t, got, "banned from #test")

	svc.Dispatch(service.Context{Mask: "alice!a@host", AccountName: "alice", Args: []string{"UNBAN", "#test", "*!*@evil.net"}}, time.Now(), reply)
	assert.Contains(t, got, "removed 1 matching ban")
}

func TestSuspendRequiresOper(t *testing.T) {
	svc, eng, now := newTestPersonality(t)
	require.NoError(t, eng.Register("#test", "alice", "host", now))

	var got string
	reply := func(l string) { got = l }
	svc.Dispatch(service.Context{Mask: "alice!a@host", AccountName: "alice", IsOper: false, Args: []string{"SUSPEND", "#test", "abuse"}}, time.Now(), reply)
	assert.Equal(t, "no access", got)

	svc.Dispatch(service.Context{Mask: "alice!a@host", AccountName: "alice", IsOper: true, Args: []string{"SUSPEND", "#test", "abuse"}}, time.Now(), reply)
	assert.Contains(t, got, "now suspended")
}
