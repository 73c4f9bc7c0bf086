package index

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ndlib/wikistore/backend"
	"github.com/ndlib/wikistore/search"
)

// query translates search terms into a condition on the item table.
//
// Every condition selects a superset of the matching items. A condition is
// exact when it selects precisely the matching items; terms the index
// cannot see (body text, names tested by a function, the underlay) become
// "true" and are left to the caller.
type query struct {
	d    dialect
	args []interface{}
}

func (q *query) arg(v interface{}) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("?%d", len(q.args))
}

const always = "true"

func (q *query) compile(term backend.Term) (cond string, exact bool) {
	switch t := term.(type) {
	case *search.And:
		return q.combine("AND", t.Terms)
	case *search.Or:
		return q.combine("OR", t.Terms)
	case *search.Not:
		// the complement of a superset is not a superset
		mark := len(q.args)
		cond, exact := q.compile(t.Term)
		if !exact {
			q.args = q.args[:mark]
			return always, false
		}
		return "!(" + cond + ")", true
	case *search.ItemName:
		return "name == " + q.arg(t.Name), true
	case *search.Name:
		if !q.d.ql {
			return always, false
		}
		// ql LIKE matches a Go regular expression
		pattern := regexp.QuoteMeta(t.Needle)
		if !t.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		return "name LIKE " + q.arg(pattern), true
	case *search.NameRE:
		if !q.d.ql {
			return always, false
		}
		return "name LIKE " + q.arg(t.Re.String()), true
	case *search.MetaDataMatch:
		return "id IN (SELECT item_id FROM item_kv WHERE mkey == " + q.arg(t.Key) +
			" AND mvalue == " + q.arg(t.Value) + ")", true
	case *search.HasMetaDataKey:
		return "id IN (SELECT item_id FROM item_kv WHERE mkey == " + q.arg(t.Key) + ")", true
	case *search.LastRevisionMetaDataMatch:
		// a tombstone keeps the previous current revision, so this
		// matches deleted items too
		return "current_rev_id IN (SELECT rev_id FROM rev_kv WHERE mkey == " + q.arg(t.Key) +
			" AND mvalue == " + q.arg(t.Value) + ")", false
	case *search.LastRevisionHasMetaDataKey:
		return "current_rev_id IN (SELECT rev_id FROM rev_kv WHERE mkey == " + q.arg(t.Key) + ")", false
	}
	return always, false
}

func (q *query) combine(op string, terms []backend.Term) (string, bool) {
	if len(terms) == 0 {
		if op == "AND" {
			return always, true
		}
		return "false", true
	}
	exact := true
	parts := make([]string, len(terms))
	for i, sub := range terms {
		var ok bool
		parts[i], ok = q.compile(sub)
		exact = exact && ok
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")", exact
}
