package operbot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cycoslave/ratbox-services-sub000/internal/store"
	"github.com/cycoslave/ratbox-services-sub000/internal/watch"
)

func newTestEngine(t *testing.T) (*Engine, *[]string, *[]string) {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(store.AllModels()...))

	s, err := store.Open(store.Config{Driver: store.DriverSQLite, DSN: dsn})
	require.NoError(t, err)

	var joined, parted []string
	e := New(s,
		func(ch string) error { joined = append(joined, ch); return nil },
		func(ch string) error { parted = append(parted, ch); return nil },
		watch.New(),
	)
	return e, &joined, &parted
}

func TestOJoinPersistsAndJoins(t *testing.T) {
	e, joined, _ := newTestEngine(t)
	require.NoError(t, e.OJoin("#opers", "oper1", 1000))
	assert.Equal(t, []string{"#opers"}, *joined)

	err := e.OJoin("#opers", "oper1", 1000)
	assert.ErrorContains(t, err, "already in")
}

func TestOPartRemovesAndParts(t *testing.T) {
	e, _, parted := newTestEngine(t)
	require.NoError(t, e.OJoin("#opers", "oper1", 1000))
	require.NoError(t, e.OPart("#opers", "oper1"))
	assert.Equal(t, []string{"#opers"}, *parted)

	err := e.OPart("#opers", "oper1")
	assert.ErrorContains(t, err, "not in")
}

func TestRejoinAllRejoinsEveryPersistedChannel(t *testing.T) {
	e, joined, _ := newTestEngine(t)
	require.NoError(t, e.OJoin("#opers", "oper1", 1000))
	require.NoError(t, e.OJoin("#staff", "oper1", 1000))
	*joined = nil

	require.NoError(t, e.RejoinAll())
	assert.ElementsMatch(t, []string{"#opers", "#staff"}, *joined)
}
