package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroups(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "groups.yaml", `
AdminGroup: [JoeDoe]
EditorGroup: [AdminGroup, JaneDoe]
LoopGroup: [LoopGroup, OtherGroup]
OtherGroup: [LoopGroup]
`)
	g, err := LoadGroups(p)
	require.NoError(t, err)

	var table = []struct {
		group, name string
		want        bool
	}{
		{"AdminGroup", "JoeDoe", true},
		{"AdminGroup", "JaneDoe", false},
		{"EditorGroup", "JaneDoe", true},
		{"EditorGroup", "JoeDoe", true},
		{"NoGroup", "JoeDoe", false},
		{"LoopGroup", "JoeDoe", false},
	}
	for _, tab := range table {
		assert.Equal(t, tab.want, g.IsMember(tab.group, tab.name), "%s %s", tab.group, tab.name)
	}
	assert.Equal(t, []string{"AdminGroup", "EditorGroup", "LoopGroup", "OtherGroup"}, g.Names())

	// a broken file leaves the old definitions
	writeFile(t, dir, "groups.yaml", "AdminGroup: [")
	assert.Error(t, g.Reload(p))
	assert.True(t, g.IsMember("AdminGroup", "JoeDoe"))
}

func TestDicts(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "dicts.yaml", `
JoeDoe:
  TEAM: Blue
  ROOM: "101"
`)
	d, err := LoadDicts(p)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"TEAM": "Blue", "ROOM": "101"}, d.Dict("JoeDoe"))
	assert.Nil(t, d.Dict("JaneDoe"))

	// callers get a copy
	d.Dict("JoeDoe")["TEAM"] = "Red"
	assert.Equal(t, "Blue", d.Dict("JoeDoe")["TEAM"])
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "groups.yaml", "AdminGroup: [JoeDoe]\n")
	g, err := LoadGroups(p)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	results, err := Watch(ctx, p, g)
	require.NoError(t, err)

	writeFile(t, dir, "groups.yaml", "AdminGroup: [JaneDoe]\n")
	assert.Eventually(t, func() bool {
		return g.IsMember("AdminGroup", "JaneDoe")
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	for range results {
	}
}

func TestSubscribers(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "subscribers.yaml", `
- name: JoeDoe
  email: joe@example.org
  pages: ["Front.*", "HelpContents"]
  email_events: [PageSaved, PageDeleted]
- name: JaneDoe
  jid: jane@jabber.example.org
  pages: [".*"]
  jabber_events: [PageRenamed]
`)
	s, err := LoadSubscribers(p)
	require.NoError(t, err)
	list, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)

	joe := list[0]
	assert.Equal(t, "joe@example.org", joe.Email)
	assert.True(t, joe.Wants("FrontPage"))
	assert.True(t, joe.Wants("HelpContents"))
	assert.False(t, joe.Wants("HelpContentsOld"))
	assert.True(t, joe.EmailEvents.Contains("PageSaved"))
	assert.False(t, joe.JabberEvents.Contains("PageSaved"))
	assert.True(t, list[1].Wants("AnyPage/Sub"))

	writeFile(t, dir, "subscribers.yaml", `- name: Bad
  pages: ["("]
`)
	assert.Error(t, s.Reload(p))
	list, _ = s.List(context.Background())
	assert.Len(t, list, 2)
}
