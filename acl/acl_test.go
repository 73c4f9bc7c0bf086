package acl

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

var parseTable = []struct {
	input  string
	output []Entry
}{
	{"", nil},
	{"All:read", []Entry{
		{Subjects: []string{"All"}, Rights: []string{"read"}},
	}},
	{"WikiAdmin,AdminGroup:read,write,admin Known:read", []Entry{
		{Subjects: []string{"WikiAdmin", "AdminGroup"}, Rights: []string{"read", "write", "admin"}},
		{Subjects: []string{"Known"}, Rights: []string{"read"}},
	}},
	{"+JoeDoe:write -All:write", []Entry{
		{Modifier: Grant, Subjects: []string{"JoeDoe"}, Rights: []string{"write"}},
		{Modifier: Deny, Subjects: []string{"All"}, Rights: []string{"write"}},
	}},
	{"JoeDoe: JaneDoe:read,write", []Entry{
		{Subjects: []string{"JoeDoe"}, Rights: []string{}},
		{Subjects: []string{"JaneDoe"}, Rights: []string{"read", "write"}},
	}},
	{"Known:read Default", []Entry{
		{Subjects: []string{"Known"}, Rights: []string{"read"}},
		{Default: true},
	}},
	{"All:read,fly,write", []Entry{
		{Subjects: []string{"All"}, Rights: []string{"read", "write"}},
	}},
	{"All:read garbage", []Entry{
		{Subjects: []string{"All"}, Rights: []string{"read"}},
	}},
	{"  Known:read   All:  ", []Entry{
		{Subjects: []string{"Known"}, Rights: []string{"read"}},
		{Subjects: []string{"All"}, Rights: []string{}},
	}},
}

func TestParse(t *testing.T) {
	for _, tab := range parseTable {
		acl := Parse(tab.input, DefaultRights)
		if diff := cmp.Diff(tab.output, acl.Entries); diff != "" {
			t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tab.input, diff)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, tab := range parseTable {
		acl := Parse(tab.input, DefaultRights)
		again := Parse(acl.String(), DefaultRights)
		assert.Equal(t, acl.Entries, again.Entries, "input %q", tab.input)
		assert.Equal(t, acl.String(), again.String())
	}
}

func TestDecide(t *testing.T) {
	var table = []struct {
		entry   string
		right   string
		allowed bool
		ok      bool
	}{
		{"All:read", "read", true, true},
		{"All:read", "write", false, true},
		{"All:read", "bogus", false, false},
		{"+All:read", "read", true, true},
		{"+All:read", "write", false, false},
		{"-All:read", "read", false, true},
		{"-All:read", "write", false, false},
	}
	for _, tab := range table {
		e := Parse(tab.entry, DefaultRights).Entries[0]
		allowed, ok := e.decide(tab.right, DefaultRights)
		assert.Equal(t, tab.allowed, allowed, "%s %s", tab.entry, tab.right)
		assert.Equal(t, tab.ok, ok, "%s %s", tab.entry, tab.right)
	}
}
