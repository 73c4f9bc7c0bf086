package events

import (
	"context"
	"fmt"
	"log"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/getsentry/raven-go"
	"github.com/pkg/errors"
)

// Result is what a listener reports back to the sender.
type Result interface {
	result()
}

// Abort cancels a save when returned for a PagePreSave event.
type Abort struct {
	Reason string
}

func (a *Abort) result()       {}
func (a *Abort) Error() string { return "save aborted: " + a.Reason }

// Success lists the users a notification reached.
type Success struct {
	Recipients mapset.Set[string]
}

func (s *Success) result() {}

// Failure reports a listener that could not do its job. It does not stop
// the dispatch.
type Failure struct {
	Reason string
}

func (f *Failure) result() {}

// A Listener handles events. It may return a nil Result.
type Listener func(ctx context.Context, e Event) (Result, error)

// Bus dispatches events to listeners.
type Bus struct {
	m         sync.RWMutex
	listeners []subscription
}

type subscription struct {
	names mapset.Set[string] // nil for every event
	l     Listener
}

// NewBus returns a bus without listeners.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers l for the events with the given names, or for every
// event if no names are given.
func (b *Bus) Subscribe(l Listener, names ...string) {
	b.m.Lock()
	defer b.m.Unlock()
	sub := subscription{l: l}
	if len(names) > 0 {
		sub.names = mapset.NewThreadUnsafeSet(names...)
	}
	b.listeners = append(b.listeners, sub)
}

// Send passes e to its listeners in registration order and collects their
// results. Listener errors and panics are logged and skipped. For a
// PagePreSave event the first Abort stops the dispatch and is returned as
// the error.
func (b *Bus) Send(ctx context.Context, e Event) ([]Result, error) {
	var results []Result
	for _, l := range b.listenersFor(e.Name()) {
		r, err := call(ctx, l, e)
		if err != nil {
			log.Printf("events: %s listener: %s", e.Name(), err)
			raven.CaptureError(err, map[string]string{"event": e.Name()})
			continue
		}
		if r == nil {
			continue
		}
		if abort, ok := r.(*Abort); ok {
			if _, presave := e.(*PagePreSave); presave {
				return results, abort
			}
			log.Printf("events: ignoring abort of %s: %s", e.Name(), abort.Reason)
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

func (b *Bus) listenersFor(name string) []Listener {
	b.m.RLock()
	defer b.m.RUnlock()
	var ls []Listener
	for _, sub := range b.listeners {
		if sub.names == nil || sub.names.Contains(name) {
			ls = append(ls, sub.l)
		}
	}
	return ls
}

func call(ctx context.Context, l Listener, e Event) (r Result, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = errors.New(fmt.Sprint("panic: ", v))
		}
	}()
	return l(ctx, e)
}
