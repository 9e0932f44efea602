package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cycoslave/ratbox-services-sub000/internal/hookbus"
)

func newTestEngine() *Engine {
	net_ := NewNetwork("services.example.org", "00A")
	bus := hookbus.New()
	return New(net_, bus, "services.example.org", "00A", 0, 0)
}

func TestParseMessageBasic(t *testing.T) {
	m := ParseMessage(":00AAAAAAA PRIVMSG #test :hello there world")
	require.NotNil(t, m)
	assert.Equal(t, "00AAAAAAA", m.Source)
	assert.Equal(t, "PRIVMSG", m.Verb)
	assert.Equal(t, []string{"#test", "hello there world"}, m.Params)
}

func TestParseMessageNoPrefix(t *testing.T) {
	m := ParseMessage("PING :services.example.org")
	require.NotNil(t, m)
	assert.Equal(t, "", m.Source)
	assert.Equal(t, "PING", m.Verb)
	assert.Equal(t, []string{"services.example.org"}, m.Params)
}

func TestUIDGeneratorStrictlyIncreasing(t *testing.T) {
	g := NewUIDGenerator("00A")
	first := g.Next()
	second := g.Next()
	assert.Equal(t, "00AAAAAAA", first)
	assert.Equal(t, "00AAAAAAB", second)
	assert.True(t, second > first)
}

func TestUIDGeneratorOverflowPanics(t *testing.T) {
	g := NewUIDGenerator("00A")
	g.counter = [6]int{36, 36, 36, 36, 36, 36}
	g.done = true
	assert.Panics(t, func() { g.Next() })
}

// TestNickCollisionLowerTSWins encodes spec §4.1's nick-collision rule:
// a strictly lower incoming TS evicts the existing user.
func TestNickCollisionLowerTSWins(t *testing.T) {
	e := newTestEngine()
	srv := &Client{Kind: KindServer, Name: "leaf.example.org", Users: map[string]*Client{}, Servers: map[string]*Client{}}
	e.Net.AddClient(srv)

	e.introduceUser("bob", "00AAAAAAA", 2000, "bob", "host.example.org", "", "leaf.example.org", "bob")
	existing := e.Net.FindClient("bob")
	require.NotNil(t, existing)

	e.introduceUser("bob", "00AAAAAAB", 1000, "bob", "other.example.org", "", "leaf.example.org", "bob")
	winner := e.Net.FindClient("bob")
	require.NotNil(t, winner)
	assert.Equal(t, "00AAAAAAB", winner.UID)
	assert.Equal(t, int64(1000), winner.TS)
}

func TestNickCollisionHigherTSDropped(t *testing.T) {
	e := newTestEngine()
	srv := &Client{Kind: KindServer, Name: "leaf.example.org", Users: map[string]*Client{}, Servers: map[string]*Client{}}
	e.Net.AddClient(srv)

	e.introduceUser("bob", "00AAAAAAA", 1000, "bob", "host.example.org", "", "leaf.example.org", "bob")
	e.introduceUser("bob", "00AAAAAAB", 2000, "bob", "other.example.org", "", "leaf.example.org", "bob")

	winner := e.Net.FindClient("bob")
	require.NotNil(t, winner)
	assert.Equal(t, "00AAAAAAA", winner.UID)
}

// TestSJoinLowerTSWipesPrefixes encodes S5 from spec §8: local state
// TS 1000 with one opped user; an incoming SJOIN at TS 500 wipes
// members and replaces modes with the new TS's set.
func TestSJoinLowerTSWipesPrefixes(t *testing.T) {
	e := newTestEngine()
	ch := e.Net.GetOrCreateChannel("#x", 1000)
	ch.AddMember("00AAAAAAZ", true, false, false)

	e.handleSJoin(&Message{Verb: "SJOIN", Params: []string{"500", "#x", "+mnt", "@alice +bob"}})

	ch2 := e.Net.FindChannel("#x")
	require.NotNil(t, ch2)
	assert.Equal(t, int64(500), ch2.TS)
	assert.Equal(t, 2, ch2.MemberCount())
	alice, ok := ch2.Members["alice"]
	require.True(t, ok)
	assert.True(t, alice.Opped)
	bob, ok := ch2.Members["bob"]
	require.True(t, ok)
	assert.True(t, bob.Voiced)
	_, stillThere := ch2.Members["00AAAAAAZ"]
	assert.False(t, stillThere)
}

func TestSJoinHigherTSDropsIncomingPrefixes(t *testing.T) {
	e := newTestEngine()
	e.Net.GetOrCreateChannel("#y", 500)

	e.handleSJoin(&Message{Verb: "SJOIN", Params: []string{"1000", "#y", "+nt", "@carol"}})

	ch := e.Net.FindChannel("#y")
	require.NotNil(t, ch)
	assert.Equal(t, int64(500), ch.TS)
	carol, ok := ch.Members["carol"]
	require.True(t, ok)
	assert.False(t, carol.Opped)
}

func TestTModeDroppedWhenIncomingTSHigher(t *testing.T) {
	e := newTestEngine()
	ch := e.Net.GetOrCreateChannel("#z", 500)

	e.handleTMode(&Message{Verb: "TMODE", Params: []string{"1000", "#z", "+m"}})

	assert.Equal(t, uint32(0), ch.ModeRec.Bits)
}
