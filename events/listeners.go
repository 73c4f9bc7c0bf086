package events

import (
	"context"
	"time"

	"github.com/facebookgo/clock"

	"github.com/ndlib/wikistore/cache"
)

// InvalidateCache returns a listener that drops the item scope cache of
// every item touched by a page change.
func InvalidateCache(c *cache.Store) Listener {
	return func(ctx context.Context, e Event) (Result, error) {
		names, ok := PageChange(e)
		if !ok {
			return nil, nil
		}
		for _, name := range names {
			if err := c.RemoveArena(cache.Item, name); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
}

// A Recorder stores events, e.g. in the event log.
type Recorder interface {
	Record(t time.Time, name string, values map[string]string) error
}

// RecordTo returns a listener that records every event it sees.
func RecordTo(r Recorder, clk clock.Clock) Listener {
	return func(ctx context.Context, e Event) (Result, error) {
		return nil, r.Record(clk.Now(), e.Name(), e.Values())
	}
}
