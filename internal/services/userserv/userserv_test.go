package userserv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cycoslave/ratbox-services-sub000/internal/account"
	"github.com/cycoslave/ratbox-services-sub000/internal/help"
	"github.com/cycoslave/ratbox-services-sub000/internal/hookbus"
	"github.com/cycoslave/ratbox-services-sub000/internal/lang"
	"github.com/cycoslave/ratbox-services-sub000/internal/service"
	"github.com/cycoslave/ratbox-services-sub000/internal/store"
)

type fakeMailer struct{ sent []string }

func (f *fakeMailer) Send(to, subject, body string) error {
	f.sent = append(f.sent, body)
	return nil
}

func newTestPersonality(t *testing.T) (*service.Service, *account.Registry, func() time.Time) {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(store.AllModels()...))

	s, err := store.Open(store.Config{Driver: store.DriverSQLite, DSN: dsn})
	require.NoError(t, err)

	reg := account.New(s, hookbus.New(), &fakeMailer{}, account.Config{
		UsernameMaxLen:    32,
		PasswordMaxLen:    64,
		RequireEmail:      false,
		RegisterWindow:    time.Hour,
		RegisterMaxGlobal: 100,
		RegisterMaxHost:   5,
		ResetWindow:       time.Hour,
		MaxLogins:         2,
		InactivityWindow:  30 * 24 * time.Hour,
		BonusThreshold:    90 * 24 * time.Hour,
		BonusPeriod:       30 * 24 * time.Hour,
		BonusStep:         24 * time.Hour,
		BonusMax:          10 * 24 * time.Hour,
		SuspendedExpiry:   7 * 24 * time.Hour,
		UnverifiedExpiry:  3 * 24 * time.Hour,
	})

	cat := lang.New("en")
	require.NoError(t, cat.Add("en", service.MsgUnknownCommand, "unknown command"))
	require.NoError(t, cat.Add("en", service.MsgNotLoggedIn, "you are not logged in"))
	require.NoError(t, cat.Add("en", service.MsgNoAccess, "no access"))
	require.NoError(t, cat.Add("en", service.MsgSyntax, "syntax error"))
	svc := service.New("UserServ", service.FloodConfig{}, help.New(t.TempDir()), cat)

	now := time.Unix(1700000000, 0)
	New(svc, reg, func() time.Time { return now })
	return svc, reg, func() time.Time { return now }
}

func TestRegisterAndLoginThroughDispatch(t *testing.T) {
	svc, _, _ := newTestPersonality(t)

	var got string
	reply := func(l string) { got = l }

	svc.Dispatch(service.Context{UID: "1AAAAAAAA", Mask: "alice!a@host", Args: []string{"REGISTER", "alice", "hunter2"}}, time.Now(), reply)
	assert.Contains(t, got, "registered")

	svc.Dispatch(service.Context{UID: "1AAAAAAAA", Mask: "alice!a@host", Args: []string{"LOGIN", "alice", "hunter2"}}, time.Now(), reply)
	assert.Contains(t, got, "logged in as alice")
}

func TestLoginWrongPasswordFails(t *testing.T) {
	svc, _, _ := newTestPersonality(t)
	var got string
	reply := func(l string) { got = l }

	svc.Dispatch(service.Context{UID: "1AAAAAAAA", Mask: "alice!a@host", Args: []string{"REGISTER", "alice", "hunter2"}}, time.Now(), reply)
	svc.Dispatch(service.Context{UID: "1AAAAAAAA", Mask: "alice!a@host", Args: []string{"LOGIN", "alice", "wrong"}}, time.Now(), reply)
	assert.Contains(t, got, "LOGIN failed")
}

func TestLogoutRequiresLogin(t *testing.T) {
	svc, _, _ := newTestPersonality(t)
	var got string
	reply := func(l string) { got = l }

	svc.Dispatch(service.Context{UID: "1AAAAAAAA", Mask: "alice!a@host", Args: []string{"LOGOUT"}}, time.Now(), reply)
	assert.Equal(t, "you are not logged in", got)

	svc.Dispatch(service.Context{UID: "1AAAAAAAA", Mask: "alice!a@host", AccountName: "alice", Args: []string{"LOGOUT"}}, time.Now(), reply)
	assert.Equal(t, "logged out", got)
}

func TestResetPassRequestForUnknownUserFails(t *testing.T) {
	svc, _, _ := newTestPersonality(t)
	var got string
	reply := func(l string) { got = l }

	svc.Dispatch(service.Context{UID: "1AAAAAAAA", Mask: "alice!a@host", Args: []string{"RESETPASS", "nosuchuser"}}, time.Now(), reply)
	assert.Contains(t, got, "RESETPASS failed")
}
