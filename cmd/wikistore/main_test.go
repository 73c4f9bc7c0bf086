package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndlib/wikistore/editlog"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute(), out.String())
	return out.String()
}

func TestACLCommand(t *testing.T) {
	out := run(t, "acl", "JoeDoe:read,write,bogus  All:read")
	assert.Equal(t, "JoeDoe:read,write All:read\n", out)
}

func TestEditLogCommand(t *testing.T) {
	dir := t.TempDir()
	logfile := filepath.Join(dir, "edit-log")
	conf := filepath.Join(dir, "wiki.toml")
	require.NoError(t, os.WriteFile(conf, []byte("edit_log = \""+logfile+"\"\n"), 0644))

	l := editlog.Open(logfile)
	for i, name := range []string{"FrontPage", "HelpContents", "SandBox"} {
		require.NoError(t, l.Add(editlog.Record{
			PageName: name,
			Time:     time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC),
			Revno:    1,
			Action:   editlog.ActionSaveNew,
		}))
	}

	out := run(t, "editlog", "--config", conf, "--limit", "2")
	lines := bytes.Split(bytes.TrimSpace([]byte(out)), []byte("\n"))
	require.Len(t, lines, 2)
	assert.True(t, bytes.HasPrefix(lines[0], []byte("SandBox\t")), string(lines[0]))
	assert.True(t, bytes.HasPrefix(lines[1], []byte("HelpContents\t")), string(lines[1]))
}
