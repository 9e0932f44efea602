package nick

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cycoslave/ratbox-services-sub000/internal/store"
)

func newTestEngine(t *testing.T, max int) *Engine {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(store.AllModels()...))

	s, err := store.Open(store.Config{Driver: store.DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	return New(s, Config{MaxPerAccount: max})
}

func TestRegisterRejectsNumericNick(t *testing.T) {
	e := newTestEngine(t, 5)
	err := e.Register("123abc", "alice", time.Now())
	assert.ErrorContains(t, err, "numeric")
}

func TestRegisterRejectsAlreadyRegistered(t *testing.T) {
	e := newTestEngine(t, 5)
	require.NoError(t, e.Register("alice", "alice", time.Now()))
	err := e.Register("alice", "bob", time.Now())
	assert.ErrorContains(t, err, "already registered")
}

func TestRegisterEnforcesPerAccountCap(t *testing.T) {
	e := newTestEngine(t, 2)
	require.NoError(t, e.Register("alice", "alice", time.Now()))
	require.NoError(t, e.Register("alice2", "alice", time.Now()))
	err := e.Register("alice3", "alice", time.Now())
	assert.ErrorContains(t, err, "maximum")
}

func TestDropRefusesOtherOwner(t *testing.T) {
	e := newTestEngine(t, 5)
	require.NoError(t, e.Register("alice", "alice", time.Now()))
	err := e.Drop("alice", "bob")
	assert.ErrorContains(t, err, "someone else")
}

func TestDropAllForAccountRemovesEverything(t *testing.T) {
	e := newTestEngine(t, 5)
	require.NoError(t, e.Register("alice", "alice", time.Now()))
	require.NoError(t, e.Register("alice2", "alice", time.Now()))
	require.NoError(t, e.DropAllForAccount("alice"))

	list, err := e.ListForAccount("alice")
	require.NoError(t, err)
	assert.Empty(t, list)
}
