package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cycoslave/ratbox-services-sub000/internal/help"
	"github.com/cycoslave/ratbox-services-sub000/internal/lang"
)

func newTestService(t *testing.T, cfg FloodConfig) *Service {
	t.Helper()
	cat := lang.New("en")
	require.NoError(t, cat.Add("en", MsgUnknownCommand, "unknown command"))
	require.NoError(t, cat.Add("en", MsgNotLoggedIn, "you are not logged in"))
	require.NoError(t, cat.Add("en", MsgNoAccess, "no access"))
	require.NoError(t, cat.Add("en", MsgSyntax, "syntax error"))
	return New("TestServ", cfg, help.New(t.TempDir()), cat)
}

func TestDispatchRunsKnownCommand(t *testing.T) {
	s := newTestService(t, FloodConfig{})
	var got string
	s.Register(Command{Name: "PING", MinArgs: 0, Handler: func(ctx Context, reply Reply) (int, error) {
		reply("pong")
		return 0, nil
	}})

	s.Dispatch(Context{Mask: "a!b@c", Args: []string{"PING"}}, time.Now(), func(line string) { got = line })
	assert.Equal(t, "pong", got)
}

func TestDispatchRejectsUnknownCommand(t *testing.T) {
	s := newTestService(t, FloodConfig{})
	var got string
	s.Dispatch(Context{Mask: "a!b@c", Args: []string{"NOPE"}}, time.Now(), func(line string) { got = line })
	assert.Equal(t, "unknown command", got)
}

func TestDispatchRequiresLogin(t *testing.T) {
	s := newTestService(t, FloodConfig{})
	s.Register(Command{Name: "SECRET", Requires: ReqLogin, Handler: func(ctx Context, reply Reply) (int, error) {
		reply("secret data")
		return 0, nil
	}})

	var got string
	s.Dispatch(Context{Mask: "a!b@c", Args: []string{"SECRET"}}, time.Now(), func(line string) { got = line })
	assert.Equal(t, "you are not logged in", got)

	s.Dispatch(Context{Mask: "a!b@c", AccountName: "alice", Args: []string{"SECRET"}}, time.Now(), func(line string) { got = line })
	assert.Equal(t, "secret data", got)
}

func TestDispatchEnforcesMinArgs(t *testing.T) {
	s := newTestService(t, FloodConfig{})
	s.Register(Command{Name: "SET", MinArgs: 2, Handler: func(ctx Context, reply Reply) (int, error) {
		reply("ok")
		return 0, nil
	}})
	var got string
	s.Dispatch(Context{Mask: "a!b@c", Args: []string{"SET", "onlyone"}}, time.Now(), func(line string) { got = line })
	assert.Equal(t, "syntax error", got)
}

func TestDispatchHandlerErrorIsRelayed(t *testing.T) {
	s := newTestService(t, FloodConfig{})
	s.Register(Command{Name: "FAIL", Handler: func(ctx Context, reply Reply) (int, error) {
		return 0, errors.New("boom")
	}})
	var got string
	s.Dispatch(Context{Mask: "a!b@c", Args: []string{"FAIL"}}, time.Now(), func(line string) { got = line })
	assert.Equal(t, "boom", got)
}

func TestFloodControlIgnoresAfterThreshold(t *testing.T) {
	s := newTestService(t, FloodConfig{Window: time.Minute, Max: 2, MaxIgnore: 3, IgnoreWindow: time.Minute})
	hits := 0
	s.Register(Command{Name: "HI", Handler: func(ctx Context, reply Reply) (int, error) { hits++; return 0, nil }})

	now := time.Now()
	for i := 0; i < 5; i++ {
		s.Dispatch(Context{Mask: "a!b@c", Args: []string{"HI"}}, now, func(string) {})
	}
	assert.Less(t, hits, 5)
	assert.Greater(t, s.PacedCount(), int64(0))
}

func TestIgnoredHostDropsCommand(t *testing.T) {
	s := newTestService(t, FloodConfig{})
	s.IgnoreHost("bad.example.org")
	called := false
	s.Register(Command{Name: "HI", Handler: func(ctx Context, reply Reply) (int, error) { called = true; return 0, nil }})
	s.Dispatch(Context{Mask: "mal!m@bad.example.org", Args: []string{"HI"}}, time.Now(), func(string) {})
	assert.False(t, called)
	assert.Equal(t, int64(1), s.IgnoredCount())
}

func TestMergeAndUnmergeRestoresTable(t *testing.T) {
	a := newTestService(t, FloodConfig{})
	b := newTestService(t, FloodConfig{})
	b.Register(Command{Name: "BCMD", Handler: func(ctx Context, reply Reply) (int, error) { return 0, nil }})

	a.Merge(b)
	_, ok := a.lookup("BCMD")
	assert.True(t, ok)

	a.Unmerge(b.Name)
	_, ok = a.lookup("BCMD")
	assert.False(t, ok)
}

func TestDispatchHelpWithoutHelpFileRepliesUnknownCommand(t *testing.T) {
	s := newTestService(t, FloodConfig{})
	var got []string
	s.Dispatch(Context{Mask: "a!b@c", Lang: "en", Args: []string{"HELP"}}, time.Now(), func(line string) { got = append(got, line) })
	require.Len(t, got, 1)
	assert.Equal(t, "unknown command", got[0])
}

func TestDispatchUsageCounterIncrementsOnSuccess(t *testing.T) {
	s := newTestService(t, FloodConfig{})
	s.Register(Command{Name: "HI", Handler: func(ctx Context, reply Reply) (int, error) { return 0, nil }})
	s.Dispatch(Context{Mask: "a!b@c", Args: []string{"HI"}}, time.Now(), func(string) {})
	s.Dispatch(Context{Mask: "a!b@c", Args: []string{"HI"}}, time.Now(), func(string) {})
	assert.Equal(t, int64(2), s.UsageCount("HI"))
	assert.Equal(t, int64(0), s.UsageCount("MISSING"))
}

func TestDispatchFloodCostAccumulates(t *testing.T) {
	s := newTestService(t, FloodConfig{})
	s.Register(Command{Name: "HEAVY", FloodCost: 5, Handler: func(ctx Context, reply Reply) (int, error) { return 3, nil }})
	s.Dispatch(Context{Mask: "a!b@c", Args: []string{"HEAVY"}}, time.Now(), func(string) {})
	assert.Equal(t, int64(8), s.FloodTotal())
}

func TestDispatchReqShortcutGatesNonShortcutInvocation(t *testing.T) {
	s := newTestService(t, FloodConfig{})
	called := false
	s.Register(Command{Name: "SC", Requires: ReqShortcut, Handler: func(ctx Context, reply Reply) (int, error) { called = true; return 0, nil }})

	var got string
	s.Dispatch(Context{Mask: "a!b@c", Args: []string{"SC"}}, time.Now(), func(line string) { got = line })
	assert.False(t, called)
	assert.Equal(t, "no access", got)

	s.Dispatch(Context{Mask: "a!b@c", ViaShortcut: true, Args: []string{"SC"}}, time.Now(), func(line string) { got = line })
	assert.True(t, called)
}

func TestDispatchOLoginRequiresAuthenticator(t *testing.T) {
	s := newTestService(t, FloodConfig{})
	var got string
	s.Dispatch(Context{Mask: "a!b@c", Args: []string{"OLOGIN", "opername", "secret"}}, time.Now(), func(line string) { got = line })
	assert.Equal(t, "no access", got)
}

func TestDispatchOLoginSucceedsAndNotifies(t *testing.T) {
	s := newTestService(t, FloodConfig{})
	var loggedIn string
	var notified bool
	s.OperAuth = func(ctx Context, operBlockName, password string) bool {
		return operBlockName == "admin" && password == "hunter2"
	}
	s.OperNotify = func(ctx Context, operBlockName string, loggingIn bool) {
		notified = true
		loggedIn = operBlockName
		_ = loggingIn
	}
	var got string
	s.Dispatch(Context{Mask: "a!b@c", Args: []string{"OLOGIN", "admin", "hunter2"}}, time.Now(), func(line string) { got = line })
	assert.Equal(t, "OLOGIN successful", got)
	assert.True(t, notified)
	assert.Equal(t, "admin", loggedIn)
}

func TestDispatchOLogoutNotifiesWithEmptyBlock(t *testing.T) {
	s := newTestService(t, FloodConfig{})
	var loggingIn bool
	s.OperNotify = func(ctx Context, operBlockName string, in bool) {
		loggingIn = in
		assert.Equal(t, "", operBlockName)
	}
	var got string
	s.Dispatch(Context{Mask: "a!b@c", Args: []string{"OLOGOUT"}}, time.Now(), func(line string) { got = line })
	assert.Equal(t, "OLOGOUT successful", got)
	assert.False(t, loggingIn)
}
