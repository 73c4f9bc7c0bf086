package index

import (
	"log"

	"github.com/BurntSushi/migration"
)

// versionTable records the applied schema version in a table named
// schema_version. migration's own bookkeeping uses SQL that neither ql nor
// MySQL accept, so each dialect supplies its column types and placeholder.
type versionTable struct {
	intType     string
	timeType    string
	placeholder string
}

func (v versionTable) Get(tx migration.LimitedTx) (int, error) {
	var n int
	err := tx.QueryRow(`SELECT max(version) FROM schema_version`).Scan(&n)
	if err != nil {
		// a fresh database has no table yet
		log.Println("index: schema version:", err)
		return 0, nil
	}
	return n, nil
}

func (v versionTable) Set(tx migration.LimitedTx, version int) error {
	err := v.insert(tx, version)
	if err == nil {
		return nil
	}
	_, err = tx.Exec(`CREATE TABLE schema_version (version ` + v.intType + `, applied ` + v.timeType + `)`)
	if err != nil {
		return err
	}
	return v.insert(tx, version)
}

func (v versionTable) insert(tx migration.LimitedTx, version int) error {
	_, err := tx.Exec(`INSERT INTO schema_version (version, applied) VALUES (`+v.placeholder+`, now())`, version)
	return err
}

// execlist runs each statement in turn and stops at the first error. Neither
// driver accepts several statements in one Exec.
func execlist(tx migration.LimitedTx, stms []string) error {
	for _, s := range stms {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	return nil
}
