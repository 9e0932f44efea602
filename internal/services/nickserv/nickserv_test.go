package nickserv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cycoslave/ratbox-services-sub000/internal/help"
	"github.com/cycoslave/ratbox-services-sub000/internal/lang"
	"github.com/cycoslave/ratbox-services-sub000/internal/nick"
	"github.com/cycoslave/ratbox-services-sub000/internal/service"
	"github.com/cycoslave/ratbox-services-sub000/internal/store"
)

func newTestPersonality(t *testing.T, max int) *service.Service {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(store.AllModels()...))

	s, err := store.Open(store.Config{Driver: store.DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	eng := nick.New(s, nick.Config{MaxPerAccount: max})

	cat := lang.New("en")
	require.NoError(t, cat.Add("en", service.MsgUnknownCommand, "unknown command"))
	require.NoError(t, cat.Add("en", service.MsgNotLoggedIn, "you are not logged in"))
	require.NoError(t, cat.Add("en", service.MsgNoAccess, "no access"))
	require.NoError(t, cat.Add("en", service.MsgSyntax, "syntax error"))
	svc := service.New("NickServ", service.FloodConfig{}, help.New(t.TempDir()), cat)

	now := time.Unix(1700000000, 0)
	New(svc, eng, func() time.Time { return now })
	return svc
}

func TestRegisterCurrentNickThroughDispatch(t *testing.T) {
	svc := newTestPersonality(t, 5)
	var got string
	svc.Dispatch(service.Context{Mask: "alice!a@host", AccountName: "alice", Args: []string{"REGISTER"}}, time.Now(), func(l string) { got = l })
	assert.Contains(t, got, "alice is now registered")
}

func TestDropRefusesNonOwnerThroughDispatch(t *testing.T) {
	svc := newTestPersonality(t, 5)
	var got string
	reply := func(l string) { got = l }
	svc.Dispatch(service.Context{Mask: "alice!a@host", AccountName: "alice", Args: []string{"REGISTER"}}, time.Now(), reply)

	svc.Dispatch(service.Context{Mask: "bob!b@host", AccountName: "bob", Args: []string{"DROP", "alice"}}, time.Now(), reply)
	assert.Contains(t, got, "someone else")
}

func TestInfoReportsRegistrationTime(t *testing.T) {
	svc := newTestPersonality(t, 5)
	var got string
	reply := func(l string) { got = l }
	svc.Dispatch(service.Context{Mask: "alice!a@host", AccountName: "alice", Args: []string{"REGISTER"}}, time.Now(), reply)

	svc.Dispatch(service.Context{Mask: "bob!b@host", Args: []string{"INFO", "alice"}}, time.Now(), reply)
	assert.Contains(t, got, "alice is registered to alice")
}
