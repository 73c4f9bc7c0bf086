package index

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/ndlib/wikistore/backend"
)

// Reindex drops every row and rebuilds the index from b, which should be
// the backend the index wraps, not the wrapper itself.
func (x *Index) Reindex(ctx context.Context, b backend.Backend) (int, error) {
	err := x.update(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"rev_kv", "item_kv", "rev", "item"} {
			if _, err := x.exec(ctx, tx, "DELETE FROM "+table); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	var n int
	it := b.IterItems(ctx)
	defer it.Close()
	for it.Next() {
		item := it.Item()
		if err := x.UpdateItem(ctx, item); err != nil {
			return n, err
		}
		revs, err := item.ListRevisions(ctx)
		if err != nil {
			return n, err
		}
		for _, revno := range revs {
			rev, err := item.GetRevision(ctx, revno)
			if err != nil {
				return n, err
			}
			if err := x.Update(ctx, item, rev); err != nil {
				return n, err
			}
		}
		n++
	}
	log.Printf("index: reindexed %d items", n)
	return n, it.Err()
}

// Empty reports whether the index holds no items, as it does right after
// it was created.
func (x *Index) Empty(ctx context.Context) (bool, error) {
	var n int64
	if err := x.db.QueryRowContext(ctx, "SELECT count(*) FROM item").Scan(&n); err != nil {
		return false, err
	}
	return n == 0, nil
}

// A Mismatch describes an item whose index rows disagree with the backend.
type Mismatch struct {
	Name    string
	Problem string
}

func (m Mismatch) String() string { return m.Name + ": " + m.Problem }

// Check compares the index with b and returns every disagreement found.
func (x *Index) Check(ctx context.Context, b backend.Backend) ([]Mismatch, error) {
	var result []Mismatch
	seen := make(map[string]bool)
	it := b.IterItems(ctx)
	defer it.Close()
	for it.Next() {
		item := it.Item()
		seen[item.UUID()] = true
		rec, err := x.LookupUUID(ctx, item.UUID())
		if err == ErrNotIndexed {
			result = append(result, Mismatch{item.Name(), "not indexed"})
			continue
		} else if err != nil {
			return nil, err
		}
		if rec.Name != item.Name() {
			result = append(result, Mismatch{item.Name(), fmt.Sprintf("indexed as %q", rec.Name)})
		}
		revs, err := item.ListRevisions(ctx)
		if err != nil {
			return nil, err
		}
		indexed, err := x.Revisions(ctx, item.UUID())
		if err != nil {
			return nil, err
		}
		if !equalInts(revs, indexed) {
			result = append(result, Mismatch{item.Name(), fmt.Sprintf("revisions %v, indexed %v", revs, indexed)})
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	rows, err := x.db.QueryContext(ctx, `SELECT uuid, name FROM item`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		if !seen[id] {
			result = append(result, Mismatch{name, "indexed but not in backend"})
		}
	}
	return result, rows.Err()
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
