package backend

// ItemIterator is a single use, lazy sequence of items. Use it like
// sql.Rows:
//
//	it := b.IterItems(ctx)
//	defer it.Close()
//	for it.Next() {
//		item := it.Item()
//	}
//	if err := it.Err(); err != nil { ... }
type ItemIterator interface {
	Next() bool
	Item() Item
	Err() error
	Close() error
}

// Generator adapts a function to the ItemIterator interface. next returns
// the next item, or ok == false at the end of the sequence. done, if not
// nil, is called once by Close.
func Generator(next func() (item Item, ok bool, err error), done func()) ItemIterator {
	return &genIterator{next: next, done: done}
}

type genIterator struct {
	next   func() (Item, bool, error)
	done   func()
	cur    Item
	err    error
	closed bool
}

func (g *genIterator) Next() bool {
	if g.closed || g.err != nil {
		return false
	}
	item, ok, err := g.next()
	if err != nil {
		g.err = err
		return false
	}
	if !ok {
		g.Close()
		return false
	}
	g.cur = item
	return true
}

func (g *genIterator) Item() Item { return g.cur }
func (g *genIterator) Err() error { return g.err }

func (g *genIterator) Close() error {
	if !g.closed {
		g.closed = true
		g.cur = nil
		if g.done != nil {
			g.done()
		}
	}
	return nil
}

// Slice returns an iterator over items.
func Slice(items []Item) ItemIterator {
	var i int
	return Generator(func() (Item, bool, error) {
		if i >= len(items) {
			return nil, false, nil
		}
		i++
		return items[i-1], true, nil
	}, nil)
}

// ErrIterator returns an iterator that yields nothing and reports err.
func ErrIterator(err error) ItemIterator {
	return Generator(func() (Item, bool, error) { return nil, false, err }, nil)
}

// Map returns an iterator over the items of it passed through fn. Items for
// which fn returns keep == false are skipped.
func Map(it ItemIterator, fn func(Item) (out Item, keep bool, err error)) ItemIterator {
	return Generator(func() (Item, bool, error) {
		for it.Next() {
			out, keep, err := fn(it.Item())
			if err != nil {
				return nil, false, err
			}
			if keep {
				return out, true, nil
			}
		}
		return nil, false, it.Err()
	}, func() { it.Close() })
}

// Concat returns the items of each iterator in turn.
func Concat(its ...ItemIterator) ItemIterator {
	return Generator(func() (Item, bool, error) {
		for len(its) > 0 {
			if its[0].Next() {
				return its[0].Item(), true, nil
			}
			err := its[0].Err()
			its[0].Close()
			its = its[1:]
			if err != nil {
				return nil, false, err
			}
		}
		return nil, false, nil
	}, func() {
		for _, it := range its {
			it.Close()
		}
	})
}

// Collect drains it into a slice.
func Collect(it ItemIterator) ([]Item, error) {
	defer it.Close()
	var result []Item
	for it.Next() {
		result = append(result, it.Item())
	}
	return result, it.Err()
}

// Names drains it and returns the item names.
func Names(it ItemIterator) ([]string, error) {
	items, err := Collect(it)
	names := make([]string, len(items))
	for i, item := range items {
		names[i] = item.Name()
	}
	return names, err
}
