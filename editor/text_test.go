package editor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	var table = []struct {
		in, out string
		strip   bool
	}{
		{"", "", false},
		{"one", "one\n", false},
		{"one\r\ntwo\r\n", "one\ntwo\n", false},
		{"old\rmac", "old\nmac\n", false},
		{"trailing  \nspace\t\n", "trailing  \nspace\t\n", false},
		{"trailing  \nspace\t\n", "trailing\nspace\n", true},
	}
	for _, tab := range table {
		assert.Equal(t, tab.out, Normalize(tab.in, tab.strip), "%q", tab.in)
	}
}

func TestACLFromText(t *testing.T) {
	var table = []struct {
		text string
		acl  string
		ok   bool
	}{
		{"no acl\n", "", false},
		{"#acl All:read\nbody\n", "All:read", true},
		{"## comment\n#format wiki\n#acl JoeDoe:read,write\n#acl All:read\n", "JoeDoe:read,write All:read", true},
		{"#ACL Known:read\n", "Known:read", true},
		{"body\n#acl All:read\n", "", false},
		{"#acl\n", "", true},
	}
	for _, tab := range table {
		acl, ok := ACLFromText(tab.text)
		assert.Equal(t, tab.ok, ok, "%q", tab.text)
		assert.Equal(t, tab.acl, acl, "%q", tab.text)
	}
}

func TestExpand(t *testing.T) {
	v := Vars{
		Page:  "JoeDoe/Notes",
		User:  "JoeDoe",
		Email: "joe@example.org",
		Time:  time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
		Extra: map[string]string{"TEAM": "Blue"},
	}
	var table = []struct{ in, out string }{
		{"no variables", "no variables"},
		{"@PAGE@", "JoeDoe/Notes"},
		{"@ME@ @USERNAME@", "JoeDoe JoeDoe"},
		{"@SIG@", "-- JoeDoe <<DateTime(2024-03-01T12:30:00Z)>>"},
		{"@DATE@", "<<Date(2024-03-01T12:30:00Z)>>"},
		{"@EMAIL@", "<<MailTo(joe AT example DOT org)>>"},
		{"@MAILTO@", "<<MailTo(joe@example.org)>>"},
		{"team @TEAM@", "team Blue"},
		{"a@b.org stays", "a@b.org stays"},
	}
	for _, tab := range table {
		assert.Equal(t, tab.out, Expand(tab.in, v), tab.in)
	}
	assert.Equal(t, "-- anonymous", Expand("@USER@", Vars{}))
}
