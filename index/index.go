// Package index keeps a SQL index of item names, metadata and revisions
// next to a backend, so searches on those do not have to load every item.
//
// The index is embedded (cznic/ql, for development and small wikis) or
// MySQL. It is derived data: Reindex rebuilds it from the backend and Check
// reports where the two disagree.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/migration"
	_ "github.com/cznic/ql/driver"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ndlib/wikistore/backend"
)

// Index is a handle to an index database.
type Index struct {
	db *sql.DB
	d  dialect

	m       sync.Mutex // protects lastID
	lastID  map[string]int64
	writeMu sync.Mutex // ql allows only one writer at a time
}

// Record is the index row of an item.
type Record struct {
	ID       int64
	UUID     string
	Name     string
	Mimetype string
	ACL      string
	Revno    int // current revision, -1 if none
}

// Open connects to the index described by url:
//
//	ql:<path>      embedded ql database file
//	ql-mem         private in-memory ql database
//	mysql:<dsn>    MySQL, e.g. mysql:wiki:secret@tcp(localhost:3306)/wiki
//
// The schema is created or upgraded as needed.
func Open(url string) (*Index, error) {
	var d dialect
	var driver, dsn string
	switch {
	case url == "ql-mem":
		d, driver, dsn = qlDialect, "ql-mem", "mem-"+uuid.NewString()
	case strings.HasPrefix(url, "ql:"):
		d, driver, dsn = qlDialect, "ql", strings.TrimPrefix(url, "ql:")
	case strings.HasPrefix(url, "mysql:"):
		cfg, err := mysql.ParseDSN(strings.TrimPrefix(url, "mysql:"))
		if err != nil {
			return nil, err
		}
		cfg.ParseTime = true
		d, driver, dsn = mysqlDialect, "mysql", cfg.FormatDSN()
	default:
		return nil, fmt.Errorf("index: unknown database %q", url)
	}
	db, err := migration.OpenWith(
		driver,
		dsn,
		d.migrations,
		d.version.Get,
		d.version.Set)
	if err != nil {
		log.Printf("index: open %s: %s", driver, err)
		return nil, err
	}
	x := &Index{db: db, d: d, lastID: make(map[string]int64)}
	for _, table := range []string{"item", "rev"} {
		var max sql.NullInt64
		err = db.QueryRow("SELECT max(id) FROM " + table).Scan(&max)
		if err != nil {
			db.Close()
			return nil, err
		}
		x.lastID[table] = max.Int64
	}
	return x, nil
}

// Close closes the database.
func (x *Index) Close() error {
	return x.db.Close()
}

func (x *Index) nextID(table string) int64 {
	x.m.Lock()
	defer x.m.Unlock()
	x.lastID[table]++
	return x.lastID[table]
}

// update runs fn inside a transaction.
func (x *Index) update(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if x.d.ql {
		x.writeMu.Lock()
		defer x.writeMu.Unlock()
	}
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (x *Index) exec(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (sql.Result, error) {
	return tx.ExecContext(ctx, x.d.rebind(query), args...)
}

// itemID returns the row id of the item with the given uuid, or 0.
func (x *Index) itemID(ctx context.Context, tx *sql.Tx, id string) (int64, error) {
	var rowid int64
	err := tx.QueryRowContext(ctx, x.d.rebind(`SELECT id FROM item WHERE uuid == ?1`), id).Scan(&rowid)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return rowid, err
}

// upsertItem makes sure item has a row carrying its current name and item
// metadata, and returns the row id.
func (x *Index) upsertItem(ctx context.Context, tx *sql.Tx, item backend.Item) (int64, error) {
	rowid, err := x.itemID(ctx, tx, item.UUID())
	if err != nil {
		return 0, err
	}
	if rowid == 0 {
		rowid = x.nextID("item")
		_, err = x.exec(ctx, tx, `INSERT INTO item (id, uuid, current_rev_id, name, mimetype, acl) VALUES (?1, ?2, ?3, ?4, ?5, ?6)`,
			rowid, item.UUID(), nil, item.Name(), "", "")
	} else {
		_, err = x.exec(ctx, tx, `UPDATE item SET name = ?1 WHERE id == ?2`, item.Name(), rowid)
	}
	if err != nil {
		return 0, err
	}
	_, err = x.exec(ctx, tx, `DELETE FROM item_kv WHERE item_id == ?1`, rowid)
	if err != nil {
		return 0, err
	}
	md := item.Metadata()
	for _, k := range md.Keys() {
		_, err = x.exec(ctx, tx, `INSERT INTO item_kv (item_id, mkey, mvalue) VALUES (?1, ?2, ?3)`, rowid, k, md[k])
		if err != nil {
			return 0, err
		}
	}
	return rowid, nil
}

// UpdateItem records the name and item metadata of item.
func (x *Index) UpdateItem(ctx context.Context, item backend.Item) error {
	return x.update(ctx, func(tx *sql.Tx) error {
		_, err := x.upsertItem(ctx, tx, item)
		return err
	})
}

// Update records the committed revision rev of item. If rev is the latest
// revision and is not a tombstone it becomes the current revision of the
// item row.
func (x *Index) Update(ctx context.Context, item backend.Item, rev backend.Revision) error {
	md := rev.Metadata()
	return x.update(ctx, func(tx *sql.Tx) error {
		itemID, err := x.upsertItem(ctx, tx, item)
		if err != nil {
			return err
		}
		var revID int64
		err = tx.QueryRowContext(ctx, x.d.rebind(`SELECT id FROM rev WHERE item_id == ?1 AND revno == ?2`),
			itemID, rev.Revno()).Scan(&revID)
		switch {
		case err == sql.ErrNoRows:
			revID = x.nextID("rev")
			_, err = x.exec(ctx, tx, `INSERT INTO rev (id, item_id, revno, datetime) VALUES (?1, ?2, ?3, ?4)`,
				revID, itemID, rev.Revno(), rev.Timestamp())
		case err == nil:
			_, err = x.exec(ctx, tx, `UPDATE rev SET datetime = ?1 WHERE id == ?2`, rev.Timestamp(), revID)
		}
		if err != nil {
			return err
		}
		if _, err = x.exec(ctx, tx, `DELETE FROM rev_kv WHERE rev_id == ?1`, revID); err != nil {
			return err
		}
		for _, k := range md.Keys() {
			_, err = x.exec(ctx, tx, `INSERT INTO rev_kv (rev_id, mkey, mvalue) VALUES (?1, ?2, ?3)`, revID, k, md[k])
			if err != nil {
				return err
			}
		}
		var latest sql.NullInt64
		err = tx.QueryRowContext(ctx, x.d.rebind(`SELECT max(revno) FROM rev WHERE item_id == ?1`), itemID).Scan(&latest)
		if err != nil {
			return err
		}
		if int64(rev.Revno()) < latest.Int64 || md[backend.KeyDeleted] == "true" {
			return nil
		}
		_, err = x.exec(ctx, tx, `UPDATE item SET current_rev_id = ?1, mimetype = ?2, acl = ?3 WHERE id == ?4`,
			revID, md[backend.KeyMimetype], md[backend.KeyACL], itemID)
		return err
	})
}

// Rename changes the name recorded for the item with the given uuid.
func (x *Index) Rename(ctx context.Context, id, newname string) error {
	return x.update(ctx, func(tx *sql.Tx) error {
		_, err := x.exec(ctx, tx, `UPDATE item SET name = ?1 WHERE uuid == ?2`, newname, id)
		return err
	})
}

// Remove deletes every row belonging to the item with the given uuid.
func (x *Index) Remove(ctx context.Context, id string) error {
	return x.update(ctx, func(tx *sql.Tx) error {
		itemID, err := x.itemID(ctx, tx, id)
		if err != nil || itemID == 0 {
			return err
		}
		return x.removeRows(ctx, tx, itemID)
	})
}

func (x *Index) removeRows(ctx context.Context, tx *sql.Tx, itemID int64) error {
	revs, err := x.queryIDs(ctx, tx, `SELECT id FROM rev WHERE item_id == ?1`, itemID)
	if err != nil {
		return err
	}
	for _, revID := range revs {
		if _, err = x.exec(ctx, tx, `DELETE FROM rev_kv WHERE rev_id == ?1`, revID); err != nil {
			return err
		}
	}
	var s = []string{
		`DELETE FROM rev WHERE item_id == ?1`,
		`DELETE FROM item_kv WHERE item_id == ?1`,
		`DELETE FROM item WHERE id == ?1`,
	}
	for _, q := range s {
		if _, err = x.exec(ctx, tx, q, itemID); err != nil {
			return err
		}
	}
	return nil
}

func (x *Index) queryIDs(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, x.d.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

// ErrNotIndexed is returned by Lookup for names without an index row.
var ErrNotIndexed = errors.New("item not in index")

// Lookup returns the index row of the item called name.
func (x *Index) Lookup(ctx context.Context, name string) (Record, error) {
	return x.lookup(ctx, `SELECT id, uuid, name, mimetype, acl, current_rev_id FROM item WHERE name == ?1`, name)
}

// LookupUUID returns the index row of the item with the given uuid.
func (x *Index) LookupUUID(ctx context.Context, id string) (Record, error) {
	return x.lookup(ctx, `SELECT id, uuid, name, mimetype, acl, current_rev_id FROM item WHERE uuid == ?1`, id)
}

func (x *Index) lookup(ctx context.Context, query, arg string) (Record, error) {
	var rec Record
	var mimetype, acl sql.NullString
	var current sql.NullInt64
	err := x.db.QueryRowContext(ctx, x.d.rebind(query), arg).
		Scan(&rec.ID, &rec.UUID, &rec.Name, &mimetype, &acl, &current)
	if err == sql.ErrNoRows {
		return rec, ErrNotIndexed
	} else if err != nil {
		return rec, err
	}
	rec.Mimetype, rec.ACL, rec.Revno = mimetype.String, acl.String, -1
	if current.Valid {
		err = x.db.QueryRowContext(ctx, x.d.rebind(`SELECT revno FROM rev WHERE id == ?1`), current.Int64).Scan(&rec.Revno)
	}
	return rec, err
}

// Revisions returns the indexed revision numbers of the item with the given
// uuid in ascending order.
func (x *Index) Revisions(ctx context.Context, id string) ([]int, error) {
	rows, err := x.db.QueryContext(ctx, x.d.rebind(
		`SELECT rev.revno FROM rev, item WHERE item.uuid == ?1 AND rev.item_id == item.id`), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []int{}
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	sort.Ints(result)
	return result, rows.Err()
}

// RevisionMetadata returns the indexed metadata of one revision.
func (x *Index) RevisionMetadata(ctx context.Context, id string, revno int) (backend.Metadata, error) {
	rows, err := x.db.QueryContext(ctx, x.d.rebind(
		`SELECT rev_kv.mkey, rev_kv.mvalue FROM rev_kv, rev, item
		WHERE item.uuid == ?1 AND rev.item_id == item.id AND rev.revno == ?2 AND rev_kv.rev_id == rev.id`),
		id, revno)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	md := make(backend.Metadata)
	for rows.Next() {
		var k string
		var v sql.NullString
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		md[k] = v.String
	}
	return md, rows.Err()
}

// Query returns the names of the items whose index rows may satisfy term,
// sorted. If exact is true every returned item satisfies term; otherwise the
// caller must evaluate term on each item.
func (x *Index) Query(ctx context.Context, term backend.Term) (names []string, exact bool, err error) {
	q := &query{d: x.d}
	cond, exact := q.compile(term)
	rows, err := x.db.QueryContext(ctx, x.d.rebind(`SELECT name FROM item WHERE `+cond+` ORDER BY name`), q.args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, false, err
		}
		names = append(names, name)
	}
	return names, exact, rows.Err()
}
