package editlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 123456000, time.UTC)

func TestFormat(t *testing.T) {
	r := Record{
		PageName: "FrontPage",
		Addr:     "127.0.0.1",
		Time:     t0,
		Revno:    3,
		Hostname: "localhost",
		UserID:   "1234.56",
		Action:   ActionSave,
		Comment:  "fixed\ttypo\n",
	}
	line := r.Format()
	assert.Equal(t, "FrontPage\t127.0.0.1\t1709294400123456\t00000003\tlocalhost\t1234.56\t\tSAVE\tfixed typo \n", line)

	back, err := Parse(line)
	require.NoError(t, err)
	r.Comment = "fixed typo "
	if diff := cmp.Diff(r, back); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

var parseTable = []struct {
	line string
	ok   bool
	want Record
}{
	{"A\t1.2.3.4\t1000000\t00000001", true,
		Record{PageName: "A", Addr: "1.2.3.4", Hostname: "1.2.3.4", Time: time.Unix(1, 0).UTC(), Revno: 1}},
	{"A\t\t0\t00000000\thost\t\t\tATTNEW\t", true,
		Record{PageName: "A", Hostname: "host", Time: time.Unix(0, 0).UTC(), Action: ActionAttNew}},
	{"A\tx\tnot-a-time\t1", false, Record{}},
	{"A\tx\t1\tone", false, Record{}},
	{"", false, Record{}},
	{"only\ttwo", false, Record{}},
}

func TestParse(t *testing.T) {
	for _, tab := range parseTable {
		r, err := Parse(tab.line)
		if !tab.ok {
			assert.True(t, errors.Is(err, ErrBadRecord), "%q", tab.line)
			continue
		}
		require.NoError(t, err, tab.line)
		if diff := cmp.Diff(tab.want, r); diff != "" {
			t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tab.line, diff)
		}
	}
}

func TestEditLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edit-log")
	l := Open(path)
	recs, err := l.Tail(10)
	require.NoError(t, err)
	assert.Empty(t, recs)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Add(Record{PageName: "P", Time: t0.Add(time.Duration(i) * time.Minute), Revno: i, Action: ActionSave}))
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	f.WriteString("garbage\n")
	f.Close()

	recs, err = l.Tail(2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 4, recs[0].Revno)
	assert.Equal(t, 3, recs[1].Revno)

	recs, err = l.Tail(0)
	require.NoError(t, err)
	assert.Len(t, recs, 5)

	recs, err = l.Since(t0.Add(3 * time.Minute))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 3, recs[0].Revno)
}

func TestEventLog(t *testing.T) {
	l := OpenEvents(filepath.Join(t.TempDir(), "event-log"))
	require.NoError(t, l.Record(t0, "PageSaved", map[string]string{"pagename": "A B", "rev": "2"}))
	require.NoError(t, l.Record(t0.Add(time.Second), "UserCreated", nil))

	events, err := l.Events()
	require.NoError(t, err)
	want := []Event{
		{Time: t0, Type: "PageSaved", Values: map[string]string{"pagename": "A B", "rev": "2"}},
		{Time: t0.Add(time.Second), Type: "UserCreated", Values: map[string]string{}},
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("Events mismatch (-want +got):\n%s", diff)
	}

	events, err = l.Events("UserCreated")
	require.NoError(t, err)
	assert.Len(t, events, 1)

	line := Event{Time: t0, Type: "PageSaved", Values: map[string]string{"rev": "2", "pagename": "A&B"}}.Format()
	assert.Equal(t, "1709294400123456\tPageSaved\tpagename=A%26B&rev=2\n", line)
}
