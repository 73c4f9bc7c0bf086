package editlog

import (
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Event is one event-log line.
type Event struct {
	Time   time.Time
	Type   string
	Values map[string]string
}

// Format returns the line for e: the timestamp in microseconds, the event
// type and the values as a query string.
func (e Event) Format() string {
	q := url.Values{}
	for k, v := range e.Values {
		q.Set(k, v)
	}
	return strconv.FormatInt(Micros(e.Time), 10) + "\t" + clean(e.Type) + "\t" + q.Encode() + "\n"
}

// ParseEvent reads one event-log line.
func ParseEvent(line string) (Event, error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	if len(fields) != 3 {
		return Event{}, errors.Wrapf(ErrBadRecord, "%q", line)
	}
	us, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Event{}, errors.Wrapf(ErrBadRecord, "timestamp %q", fields[0])
	}
	q, err := url.ParseQuery(fields[2])
	if err != nil {
		return Event{}, errors.Wrapf(ErrBadRecord, "values %q", fields[2])
	}
	e := Event{Time: FromMicros(us), Type: fields[1], Values: make(map[string]string, len(q))}
	for k := range q {
		e.Values[k] = q.Get(k)
	}
	return e, nil
}

// EventLog is an event-log file.
type EventLog struct {
	Path string
	m    sync.Mutex
}

// OpenEvents returns the event-log at path.
func OpenEvents(path string) *EventLog {
	return &EventLog{Path: path}
}

// Record appends an event. It lets the log serve as an event listener's
// sink.
func (l *EventLog) Record(t time.Time, name string, values map[string]string) error {
	return appendLine(&l.m, l.Path, Event{Time: t, Type: name, Values: values}.Format())
}

// Events returns the events of the given types, or of all types if none
// are given, oldest first. Bad lines are skipped.
func (l *EventLog) Events(types ...string) ([]Event, error) {
	var result []Event
	err := scan(l.Path, func(line string) {
		e, err := ParseEvent(line)
		if err != nil {
			return
		}
		if len(types) > 0 && !contains(types, e.Type) {
			return
		}
		result = append(result, e)
	})
	return result, err
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
