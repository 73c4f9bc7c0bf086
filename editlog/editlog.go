// Package editlog reads and writes the edit-log and event-log files.
//
// Both are append-only text files with one tab separated record per line.
// The edit-log fields are, in order: page name, remote address, timestamp
// in microseconds, revision number, host name, user id, extra, action and
// comment.
package editlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Actions recorded in the edit-log.
const (
	ActionSave      = "SAVE"
	ActionSaveNew   = "SAVENEW"
	ActionRevert    = "SAVE/REVERT"
	ActionRename    = "SAVE/RENAME"
	ActionAttNew    = "ATTNEW"
	ActionAttDelete = "ATTDEL"
	ActionAttDraw   = "ATTDRW"
)

// AttachmentRevno is logged for attachment actions, which have no page
// revision of their own.
const AttachmentRevno = 99999999

const numFields = 9

// ErrBadRecord is returned for a line that cannot be parsed.
var ErrBadRecord = errors.New("bad edit-log record")

// Record is one edit-log line.
type Record struct {
	PageName string
	Addr     string
	Time     time.Time
	Revno    int
	Hostname string
	UserID   string
	Extra    string
	Action   string
	Comment  string
}

// Micros returns t as microseconds since the epoch.
func Micros(t time.Time) int64 {
	return t.UnixNano() / int64(time.Microsecond)
}

// FromMicros is the inverse of Micros.
func FromMicros(us int64) time.Time {
	return time.Unix(0, us*int64(time.Microsecond)).UTC()
}

// clean keeps a field on one line and inside its column.
func clean(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\n', '\r':
			return ' '
		}
		return r
	}, s)
}

// Format returns the line for r, including the newline.
func (r Record) Format() string {
	return strings.Join([]string{
		clean(r.PageName),
		clean(r.Addr),
		strconv.FormatInt(Micros(r.Time), 10),
		fmt.Sprintf("%08d", r.Revno),
		clean(r.Hostname),
		clean(r.UserID),
		clean(r.Extra),
		clean(r.Action),
		clean(r.Comment),
	}, "\t") + "\n"
}

// Parse reads one line. Missing trailing fields are empty and an empty
// host name defaults to the address.
func Parse(line string) (Record, error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	if len(fields) < 4 || fields[0] == "" {
		return Record{}, errors.Wrapf(ErrBadRecord, "%q", line)
	}
	for len(fields) < numFields {
		fields = append(fields, "")
	}
	var r Record
	r.PageName, r.Addr = fields[0], fields[1]
	us, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Record{}, errors.Wrapf(ErrBadRecord, "timestamp %q", fields[2])
	}
	r.Time = FromMicros(us)
	if r.Revno, err = strconv.Atoi(fields[3]); err != nil {
		return Record{}, errors.Wrapf(ErrBadRecord, "revision %q", fields[3])
	}
	r.Hostname, r.UserID, r.Extra, r.Action, r.Comment =
		fields[4], fields[5], fields[6], fields[7], fields[8]
	if r.Hostname == "" {
		r.Hostname = r.Addr
	}
	return r, nil
}

// EditLog is an edit-log file.
type EditLog struct {
	Path string
	m    sync.Mutex
}

// Open returns the edit-log at path. The file is created on first write.
func Open(path string) *EditLog {
	return &EditLog{Path: path}
}

// Add appends r.
func (l *EditLog) Add(r Record) error {
	return appendLine(&l.m, l.Path, r.Format())
}

func appendLine(m *sync.Mutex, path, line string) error {
	m.Lock()
	defer m.Unlock()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	_, err = io.WriteString(f, line)
	if err2 := f.Close(); err == nil {
		err = err2
	}
	return err
}

// Tail returns the last n records, newest first. A non-positive n returns
// every record. Lines that do not parse are skipped.
func (l *EditLog) Tail(n int) ([]Record, error) {
	var result []Record
	err := scan(l.Path, func(line string) {
		r, err := Parse(line)
		if err != nil {
			return
		}
		result = append(result, r)
		if n > 0 && len(result) > n {
			result = result[1:]
		}
	})
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, err
}

// Since returns the records written at or after t, oldest first.
func (l *EditLog) Since(t time.Time) ([]Record, error) {
	var result []Record
	err := scan(l.Path, func(line string) {
		r, err := Parse(line)
		if err == nil && !r.Time.Before(t) {
			result = append(result, r)
		}
	})
	return result, err
}

// scan calls fn for every line of the file at path. A missing file has no
// lines.
func scan(path string, fn func(line string)) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 64*1024), 1024*1024)
	for s.Scan() {
		fn(s.Text())
	}
	return s.Err()
}
