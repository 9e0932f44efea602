package alis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cycoslave/ratbox-services-sub000/internal/help"
	"github.com/cycoslave/ratbox-services-sub000/internal/lang"
	"github.com/cycoslave/ratbox-services-sub000/internal/service"
)

func newTestPersonality(t *testing.T, channels []ChannelSummary) *service.Service {
	t.Helper()
	cat := lang.New("en")
	require.NoError(t, cat.Add("en", service.MsgUnknownCommand, "unknown command"))
	require.NoError(t, cat.Add("en", service.MsgNotLoggedIn, "you are not logged in"))
	require.NoError(t, cat.Add("en", service.MsgNoAccess, "no access"))
	require.NoError(t, cat.Add("en", service.MsgSyntax, "syntax error"))
	svc := service.New("ALIS", service.FloodConfig{}, help.New(t.TempDir()), cat)
	New(svc, func() []ChannelSummary { return channels })
	return svc
}

func TestListFiltersBySecretAndMask(t *testing.T) {
	svc := newTestPersonality(t, []ChannelSummary{
		{Name: "#golang", Topic: "Go programming", Members: 40},
		{Name: "#secret", Topic: "shh", Members: 5, Secret: true},
		{Name: "#python", Topic: "Python programming", Members: 80},
	})
	var lines []string
	svc.Dispatch(service.Context{Mask: "a!b@c", Args: []string{"LIST", "#*"}}, time.Now(), func(l string) { lines = append(lines, l) })

	joined := lines[0] + lines[1]
	assert.Contains(t, joined, "#golang")
	assert.Contains(t, joined, "#python")
	assert.NotContains(t, joined, "#secret")
}

func TestListHonorsMinMaxAndTopic(t *testing.T) {
	svc := newTestPersonality(t, []ChannelSummary{
		{Name: "#small", Topic: "tiny chat", Members: 3},
		{Name: "#big", Topic: "huge chat", Members: 500},
	})
	var lines []string
	svc.Dispatch(service.Context{Mask: "a!b@c", Args: []string{"LIST", "#*", "-min", "10", "-topic", "chat"}}, time.Now(), func(l string) { lines = append(lines, l) })

	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "#big")
}

func TestListReportsNoMatches(t *testing.T) {
	svc := newTestPersonality(t, nil)
	var got string
	svc.Dispatch(service.Context{Mask: "a!b@c", Args: []string{"LIST", "#*"}}, time.Now(), func(l string) { got = l })
	assert.Equal(t, "no channels matched", got)
}
