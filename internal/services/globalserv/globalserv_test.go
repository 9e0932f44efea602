package globalserv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cycoslave/ratbox-services-sub000/internal/help"
	"github.com/cycoslave/ratbox-services-sub000/internal/lang"
	"github.com/cycoslave/ratbox-services-sub000/internal/service"
	"github.com/cycoslave/ratbox-services-sub000/internal/watch"
)

func newTestPersonality(t *testing.T) (*service.Service, *[]string, *watch.Bus) {
	t.Helper()
	cat := lang.New("en")
	require.NoError(t, cat.Add("en", service.MsgUnknownCommand, "unknown command"))
	require.NoError(t, cat.Add("en", service.MsgNotLoggedIn, "you are not logged in"))
	require.NoError(t, cat.Add("en", service.MsgNoAccess, "no access"))
	require.NoError(t, cat.Add("en", service.MsgSyntax, "syntax error"))
	svc := service.New("Global", service.FloodConfig{}, help.New(t.TempDir()), cat)

	var sent []string
	w := watch.New()
	New(svc, func(text string) { sent = append(sent, text) }, w)
	return svc, &sent, w
}

func TestGlobalRequiresOper(t *testing.T) {
	svc, sent, _ := newTestPersonality(t)
	var got string
	svc.Dispatch(service.Context{Mask: "a!b@c", IsOper: false, Args: []string{"GLOBAL", "hi"}}, time.Now(), func(l string) { got = l })
	assert.Equal(t, "no access", got)
	assert.Empty(t, *sent)
}

func TestGlobalBroadcastsAndAudits(t *testing.T) {
	svc, sent, w := newTestPersonality(t)
	var watched []string
	w.Subscribe("oper1", WatchFlagGlobal, func(l string) { watched = append(watched, l) })

	var got string
	svc.Dispatch(service.Context{Mask: "a!b@c", IsOper: true, AccountName: "oper1", Args: []string{"GLOBAL", "network", "maintenance"}}, time.Now(), func(l string) { got = l })

	assert.Equal(t, "message sent", got)
	require.Len(t, *sent, 1)
	assert.Equal(t, "network maintenance", (*sent)[0])
	require.Len(t, watched, 1)
	assert.Contains(t, watched[0], "network maintenance")
}
