package jupeserv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cycoslave/ratbox-services-sub000/internal/help"
	"github.com/cycoslave/ratbox-services-sub000/internal/jupe"
	"github.com/cycoslave/ratbox-services-sub000/internal/lang"
	"github.com/cycoslave/ratbox-services-sub000/internal/service"
	"github.com/cycoslave/ratbox-services-sub000/internal/store"
)

func newTestPersonality(t *testing.T, quorum int) *service.Service {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(store.AllModels()...))

	s, err := store.Open(store.Config{Driver: store.DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	eng := jupe.New(s, jupe.Config{Quorum: quorum, Window: time.Hour})

	cat := lang.New("en")
	require.NoError(t, cat.Add("en", service.MsgUnknownCommand, "unknown command"))
	require.NoError(t, cat.Add("en", service.MsgNotLoggedIn, "you are not logged in"))
	require.NoError(t, cat.Add("en", service.MsgNoAccess, "no access"))
	require.NoError(t, cat.Add("en", service.MsgSyntax, "syntax error"))
	svc := service.New("JupeServ", service.FloodConfig{}, help.New(t.TempDir()), cat)

	now := time.Unix(1700000000, 0)
	New(svc, eng, func() time.Time { return now })
	return svc
}

func TestJupeRequiresOper(t *testing.T) {
	svc := newTestPersonality(t, 2)
	var got string
	svc.Dispatch(service.Context{Mask: "a!b@c", IsOper: false, Args: []string{"JUPE", "bad.server.org", "rogue"}}, time.Now(), func(l string) { got = l })
	assert.Equal(t, "no access", got)
}

func TestCallJupeReachesQuorum(t *testing.T) {
	svc := newTestPersonality(t, 2)
	var got string
	reply := func(l string) { got = l }

	svc.Dispatch(service.Context{Mask: "a!b@c", AccountName: "oper1", Args: []string{"CALLJUPE", "bad.server.org", "rogue"}}, time.Now(), reply)
	assert.Contains(t, got, "vote recorded")

	svc.Dispatch(service.Context{Mask: "a!b@c", AccountName: "oper2", Args: []string{"CALLJUPE", "bad.server.org", "rogue"}}, time.Now(), reply)
	assert.Contains(t, got, "reached quorum")
}
