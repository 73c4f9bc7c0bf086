// Package acl parses access control lists and enforces them on a backend.
//
// An ACL is a space separated list of entries. Each entry names subjects and
// the rights they get:
//
//	WikiAdmin,AdminGroup:read,write,admin Known:read +JoeDoe:write -All:write
//
// A plain entry decides every valid right for its subjects: the listed ones
// are granted and the others denied. A "+" entry grants only the listed
// rights and a "-" entry denies only the listed rights, leaving the others
// to later entries. The entry "Default" is replaced by the configured
// default ACL.
package acl

import (
	"log"
	"strings"
)

// Modifiers of an entry.
const (
	Plain = ""
	Grant = "+"
	Deny  = "-"
)

// DefaultEntry is the subject list of the entry that splices in the default
// ACL.
const DefaultEntry = "Default"

// Pseudo-groups.
const (
	All     = "All"
	Known   = "Known"
	Trusted = "Trusted"
)

// DefaultRights is the rights vocabulary used when none is configured.
var DefaultRights = []string{"read", "write", "create", "destroy", "admin"}

// An Entry is one element of an ACL.
type Entry struct {
	Modifier string
	Subjects []string
	Rights   []string
	Default  bool // the entry is the Default sentinel
}

// ACL is a parsed access control list.
type ACL struct {
	Entries []Entry
}

// Parse parses s, keeping only rights found in valid. Unknown rights and
// an unparsable tail are dropped with a logged warning; they never grant
// anything.
func Parse(s string, valid []string) *ACL {
	acl := &ACL{}
	rest := strings.TrimSpace(s)
	for rest != "" {
		var e Entry
		if rest[0] == '+' || rest[0] == '-' {
			e.Modifier, rest = rest[:1], rest[1:]
		}
		if rest == DefaultEntry || strings.HasPrefix(rest, DefaultEntry+" ") {
			e.Default = true
			rest = strings.TrimLeft(rest[len(DefaultEntry):], " ")
			acl.Entries = append(acl.Entries, e)
			continue
		}
		i := strings.IndexByte(rest, ':')
		if i < 0 {
			log.Printf("acl: cannot parse %q in %q", rest, s)
			break
		}
		if i > 0 {
			e.Subjects = strings.Split(rest[:i], ",")
		}
		rest = rest[i+1:]
		var rights string
		if j := strings.IndexByte(rest, ' '); j >= 0 {
			rights, rest = rest[:j], strings.TrimLeft(rest[j+1:], " ")
		} else {
			rights, rest = rest, ""
		}
		e.Rights = []string{}
		for _, r := range strings.Split(rights, ",") {
			switch {
			case r == "":
			case contains(valid, r):
				e.Rights = append(e.Rights, r)
			default:
				log.Printf("acl: ignoring invalid right %q in %q", r, s)
			}
		}
		acl.Entries = append(acl.Entries, e)
	}
	return acl
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// String returns the normalized form of acl. Parsing it gives back acl.
func (acl *ACL) String() string {
	parts := make([]string, len(acl.Entries))
	for i, e := range acl.Entries {
		parts[i] = e.String()
	}
	return strings.Join(parts, " ")
}

func (e Entry) String() string {
	if e.Default {
		return e.Modifier + DefaultEntry
	}
	return e.Modifier + strings.Join(e.Subjects, ",") + ":" + strings.Join(e.Rights, ",")
}

// decide returns whether the entry grants right, and false for ok if the
// entry has nothing to say about it.
func (e Entry) decide(right string, valid []string) (allowed, ok bool) {
	listed := contains(e.Rights, right)
	switch e.Modifier {
	case Grant:
		return true, listed
	case Deny:
		return false, listed
	}
	return listed, contains(valid, right)
}
