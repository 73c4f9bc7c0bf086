package index

import (
	"regexp"
	"strings"

	"github.com/BurntSushi/migration"
)

// Schema, common to both databases:
//
//	item(id, uuid, current_rev_id, name, mimetype, acl)
//	rev(id, item_id, revno, datetime)
//	item_kv(item_id, mkey, mvalue)
//	rev_kv(rev_id, mkey, mvalue)
//
// The metadata columns are called mkey and mvalue since KEY is reserved in
// MySQL and ql has no identifier quoting.

// A dialect hides the differences between ql and MySQL. Queries are written
// in ql syntax, with numbered placeholders used once each and in order, and
// rebound for MySQL.
type dialect struct {
	driver     string
	ql         bool
	migrations []migration.Migrator
	version    versionTable
}

var qlDialect = dialect{
	driver: "ql",
	ql:     true,
	migrations: []migration.Migrator{
		qlschema1,
	},
	version: versionTable{intType: "int64", timeType: "time", placeholder: "?1"},
}

// List of migrations to perform. Add new ones to the end.
// DO NOT change the order of items already in this list.
var mysqlDialect = dialect{
	driver: "mysql",
	migrations: []migration.Migrator{
		mysqlschema1,
	},
	version: versionTable{intType: "INTEGER", timeType: "datetime", placeholder: "?"},
}

var placeholderRE = regexp.MustCompile(`\?[0-9]+`)

// rebind rewrites a ql query for the dialect.
func (d dialect) rebind(query string) string {
	if d.ql {
		return query
	}
	query = placeholderRE.ReplaceAllString(query, "?")
	query = strings.ReplaceAll(query, "==", "=")
	return strings.ReplaceAll(query, "!(", "NOT (")
}

func qlschema1(tx migration.LimitedTx) error {
	var s = []string{
		`CREATE TABLE item (
			id int64,
			uuid string,
			current_rev_id int64,
			name string,
			mimetype string,
			acl string
		)`,
		`CREATE UNIQUE INDEX item_uuid ON item (uuid)`,
		`CREATE INDEX item_name ON item (name)`,
		`CREATE TABLE rev (
			id int64,
			item_id int64,
			revno int64,
			datetime time
		)`,
		`CREATE INDEX rev_item ON rev (item_id)`,
		`CREATE TABLE item_kv (item_id int64, mkey string, mvalue string)`,
		`CREATE INDEX item_kv_item ON item_kv (item_id)`,
		`CREATE INDEX item_kv_key ON item_kv (mkey)`,
		`CREATE TABLE rev_kv (rev_id int64, mkey string, mvalue string)`,
		`CREATE INDEX rev_kv_rev ON rev_kv (rev_id)`,
		`CREATE INDEX rev_kv_key ON rev_kv (mkey)`,
	}
	return execlist(tx, s)
}

func mysqlschema1(tx migration.LimitedTx) error {
	var s = []string{
		`CREATE TABLE IF NOT EXISTS item (
			id bigint PRIMARY KEY,
			uuid varchar(64) NOT NULL,
			current_rev_id bigint,
			name varchar(760) NOT NULL,
			mimetype varchar(255),
			acl text,
			UNIQUE INDEX item_uuid (uuid),
			INDEX item_name (name))`,

		`CREATE TABLE IF NOT EXISTS rev (
			id bigint PRIMARY KEY,
			item_id bigint NOT NULL,
			revno int NOT NULL,
			datetime datetime(6),
			UNIQUE INDEX rev_item (item_id, revno))`,

		`CREATE TABLE IF NOT EXISTS item_kv (
			item_id bigint NOT NULL,
			mkey varchar(255) NOT NULL,
			mvalue text,
			INDEX item_kv_item (item_id),
			INDEX item_kv_key (mkey))`,

		`CREATE TABLE IF NOT EXISTS rev_kv (
			rev_id bigint NOT NULL,
			mkey varchar(255) NOT NULL,
			mvalue text,
			INDEX rev_kv_rev (rev_id),
			INDEX rev_kv_key (mkey))`,
	}
	return execlist(tx, s)
}
