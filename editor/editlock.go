package editor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"

	"github.com/ndlib/wikistore/acl"
	"github.com/ndlib/wikistore/backend"
)

// Locking modes.
const (
	ModeNone = "none"
	ModeWarn = "warn"
	ModeLock = "lock"
)

// DefaultLockTimeout is used when the configuration names a mode only.
const DefaultLockTimeout = 10 * time.Minute

// takeoverNotice is how long after expiry a takeover still mentions the
// previous owner.
const takeoverNotice = 3 * time.Hour

// Policy is the edit locking configuration.
type Policy struct {
	Mode    string
	Timeout time.Duration
}

// ParsePolicy reads settings like "warn 10" or "lock 5", where the number
// is in minutes. An empty string, "none" and a zero time disable locking.
func ParsePolicy(s string) (Policy, error) {
	fields := strings.Fields(strings.ToLower(s))
	p := Policy{Mode: ModeNone, Timeout: DefaultLockTimeout}
	if len(fields) == 0 || fields[0] == ModeNone {
		return p, nil
	}
	if len(fields) > 2 || (fields[0] != ModeWarn && fields[0] != ModeLock) {
		return p, errors.Errorf("bad edit locking setting %q", s)
	}
	p.Mode = fields[0]
	if len(fields) == 2 {
		mins, err := strconv.Atoi(fields[1])
		if err != nil || mins < 0 {
			return p, errors.Errorf("bad edit lock time %q", fields[1])
		}
		if mins == 0 {
			return Policy{Mode: ModeNone}, nil
		}
		p.Timeout = time.Duration(mins) * time.Minute
	}
	return p, nil
}

func (p Policy) String() string {
	if p.Mode == ModeNone || p.Mode == "" {
		return ModeNone
	}
	return fmt.Sprintf("%s %d", p.Mode, int(p.Timeout/time.Minute))
}

// Origin is where a request comes from.
type Origin struct {
	Addr     string
	Hostname string
}

type originKey struct{}

// WithOrigin returns a context carrying o.
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// OriginFrom returns the origin carried by ctx.
func OriginFrom(ctx context.Context) Origin {
	o, _ := ctx.Value(originKey{}).(Origin)
	if o.Hostname == "" {
		o.Hostname = o.Addr
	}
	return o
}

// userID returns the id recorded for the principal in ctx: the name of a
// known user, or nothing.
func userID(ctx context.Context) string {
	p := acl.PrincipalFrom(ctx)
	if p.Valid {
		return p.Name
	}
	return ""
}

func owner(ctx context.Context) string {
	if id := userID(ctx); id != "" {
		return id
	}
	return OriginFrom(ctx).Addr
}

// LockRecord is the edit lock stored on an item.
type LockRecord struct {
	Time     time.Time
	Addr     string
	Hostname string
	UserID   string
}

// Owner identifies the holder: the user id, or the address of an
// anonymous editor.
func (r LockRecord) Owner() string {
	if r.UserID != "" {
		return r.UserID
	}
	return r.Addr
}

// String encodes r for the edit_lock metadata key.
func (r LockRecord) String() string {
	return strings.Join([]string{strconv.FormatInt(r.Time.Unix(), 10), r.Addr, r.Hostname, r.UserID}, "\t")
}

// ParseLockRecord decodes the edit_lock metadata value.
func ParseLockRecord(s string) (LockRecord, error) {
	f := strings.Split(s, "\t")
	if len(f) != 4 {
		return LockRecord{}, errors.Errorf("bad edit lock %q", s)
	}
	ts, err := strconv.ParseInt(f[0], 10, 64)
	if err != nil {
		return LockRecord{}, errors.Errorf("bad edit lock time %q", f[0])
	}
	return LockRecord{Time: time.Unix(ts, 0).UTC(), Addr: f[1], Hostname: f[2], UserID: f[3]}, nil
}

// ErrLocked is returned when a strict lock of another editor is in force.
var ErrLocked = errors.New("item is locked by another editor")

// LockedError names the holder of a strict lock.
type LockedError struct {
	Owner string
	Until time.Time
	Left  time.Duration
}

func (e *LockedError) Error() string {
	mins := int((e.Left + time.Minute - time.Second) / time.Minute)
	return fmt.Sprintf("locked for editing by %s until %s, i.e. for %d minute(s)",
		e.Owner, e.Until.Format(time.RFC3339), mins)
}

func (e *LockedError) Unwrap() error { return ErrLocked }

// LockStatus describes the outcome of Acquire.
type LockStatus struct {
	// Granted is false only when locking is disabled, in which case no
	// lock exists.
	Granted bool
	Until   time.Time
	// Warning is set when another editor holds an advisory lock.
	Warning bool
	Owner   string
	Left    time.Duration
	// TookOver names the owner of a recently expired lock that was
	// replaced, and ExpiredAgo tells how long ago it ran out.
	TookOver   string
	ExpiredAgo time.Duration
}

// EditLocks manages the edit locks of items in a backend.
type EditLocks struct {
	Backend backend.Backend
	Policy  Policy
	Clock   clock.Clock
}

// NewEditLocks returns the lock manager for b.
func NewEditLocks(b backend.Backend, p Policy) *EditLocks {
	return &EditLocks{Backend: b, Policy: p, Clock: clock.New()}
}

func (l *EditLocks) enabled() bool {
	return l.Policy.Mode == ModeWarn || l.Policy.Mode == ModeLock
}

// Status returns the lock stored on the item called name, if any.
func (l *EditLocks) Status(ctx context.Context, name string) (*LockRecord, error) {
	item, err := l.Backend.GetItem(ctx, name)
	if errors.Is(err, backend.ErrNoSuchItem) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return lockOf(item), nil
}

func lockOf(item backend.Item) *LockRecord {
	v, ok := item.Metadata()[backend.KeyEditLock]
	if !ok || v == "" {
		return nil
	}
	r, err := ParseLockRecord(v)
	if err != nil {
		return nil
	}
	return &r
}

// Acquire takes or extends the edit lock for the principal in ctx. Items
// that do not exist yet are never locked.
func (l *EditLocks) Acquire(ctx context.Context, name string) (*LockStatus, error) {
	if !l.enabled() {
		return &LockStatus{}, nil
	}
	item, err := l.Backend.GetItem(ctx, name)
	if errors.Is(err, backend.ErrNoSuchItem) {
		return &LockStatus{Granted: true}, nil
	} else if err != nil {
		return nil, err
	}
	if err := item.ChangeMetadata(ctx); err != nil {
		return nil, err
	}
	now := l.Clock.Now().UTC()
	o := OriginFrom(ctx)
	me := LockRecord{Time: now, Addr: o.Addr, Hostname: o.Hostname, UserID: userID(ctx)}
	status := &LockStatus{Granted: true, Until: now.Add(l.Policy.Timeout), Owner: me.Owner()}

	if cur := lockOf(item); cur != nil && cur.Owner() != me.Owner() {
		left := cur.Time.Add(l.Policy.Timeout).Sub(now)
		switch {
		case left <= 0:
			if -left < takeoverNotice {
				status.TookOver, status.ExpiredAgo = cur.Owner(), -left
			}
		case l.Policy.Mode == ModeLock:
			item.PublishMetadata(ctx)
			return nil, &LockedError{Owner: cur.Owner(), Until: cur.Time.Add(l.Policy.Timeout), Left: left}
		default:
			// an advisory lock stays with its owner
			item.PublishMetadata(ctx)
			return &LockStatus{Granted: true, Warning: true, Owner: cur.Owner(),
				Until: cur.Time.Add(l.Policy.Timeout), Left: left}, nil
		}
	}
	if err := item.SetMetadata(backend.KeyEditLock, me.String()); err != nil {
		item.PublishMetadata(ctx)
		return nil, err
	}
	if err := item.PublishMetadata(ctx); err != nil {
		return nil, err
	}
	return status, nil
}

// Release removes the lock of the principal in ctx. With force the lock
// is removed whoever holds it.
func (l *EditLocks) Release(ctx context.Context, name string, force bool) error {
	if !l.enabled() && !force {
		return nil
	}
	item, err := l.Backend.GetItem(ctx, name)
	if errors.Is(err, backend.ErrNoSuchItem) {
		return nil
	} else if err != nil {
		return err
	}
	cur := lockOf(item)
	if cur == nil {
		return nil
	}
	if !force && cur.Owner() != owner(ctx) {
		return nil
	}
	if err := item.ChangeMetadata(ctx); err != nil {
		return err
	}
	if err := item.DeleteMetadata(backend.KeyEditLock); err != nil {
		item.PublishMetadata(ctx)
		return err
	}
	return item.PublishMetadata(ctx)
}

// check fails with a LockedError if someone else holds a strict lock on
// the item called name.
func (l *EditLocks) check(ctx context.Context, name string) error {
	if l.Policy.Mode != ModeLock {
		return nil
	}
	cur, err := l.Status(ctx, name)
	if cur == nil || cur.Owner() == owner(ctx) {
		return err
	}
	until := cur.Time.Add(l.Policy.Timeout)
	if left := until.Sub(l.Clock.Now()); left > 0 {
		return &LockedError{Owner: cur.Owner(), Until: until, Left: left}
	}
	return nil
}

// releaseSaved runs after a save. It clears the lock of the saving editor
// and a lock that had expired, and leaves an advisory lock of someone else.
func (l *EditLocks) releaseSaved(ctx context.Context, name string) error {
	if !l.enabled() {
		return nil
	}
	cur, err := l.Status(ctx, name)
	if cur == nil {
		return err
	}
	stale := !l.Clock.Now().Before(cur.Time.Add(l.Policy.Timeout))
	if cur.Owner() != owner(ctx) && !stale {
		return nil
	}
	return l.Release(ctx, name, true)
}

// Sweep removes locks that expired more than maxAge ago from every item.
// It returns how many it removed.
func (l *EditLocks) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	items, err := backend.Collect(l.Backend.SearchItems(ctx, hasEditLock{}))
	if err != nil {
		return 0, err
	}
	var n int
	now := l.Clock.Now()
	for _, item := range items {
		cur := lockOf(item)
		if cur != nil && now.Sub(cur.Time.Add(l.Policy.Timeout)) < maxAge {
			continue
		}
		if err := item.ChangeMetadata(ctx); err != nil {
			return n, err
		}
		item.DeleteMetadata(backend.KeyEditLock)
		if err := item.PublishMetadata(ctx); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// hasEditLock matches items with an edit_lock key. It is kept local so
// the editor does not depend on the search package.
type hasEditLock struct{}

func (hasEditLock) Evaluate(ctx context.Context, item backend.Item) (bool, error) {
	_, ok := item.Metadata()[backend.KeyEditLock]
	return ok, nil
}
func (hasEditLock) Reset() {}
