package acl

import (
	"context"
	"regexp"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Principal is the identity a request acts as.
type Principal struct {
	Name       string
	AuthMethod string
	Valid      bool // a known, logged in user
	Trusted    bool
}

// Anonymous is the principal of requests without a user.
var Anonymous = Principal{}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal carried by ctx, or Anonymous.
func PrincipalFrom(ctx context.Context) Principal {
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok {
		return Anonymous
	}
	return p
}

// Groups answers group membership questions. Groups may contain the
// pseudo-groups All, Known and Trusted as members.
type Groups interface {
	IsMember(group, name string) bool
}

// A LookupFunc returns the ACL stored on the item called name, and whether
// the item has one at all.
type LookupFunc func(ctx context.Context, name string) (acl string, ok bool, err error)

// Checker evaluates rights against the configured and stored ACLs.
//
// The effective ACL of an item is Before, then the item's own ACL (or, when
// Hierarchic is set and the item has none, the ACL of its nearest ancestor
// that has one), then After. Default stands in for the item ACL when no ACL
// is found, and is spliced in wherever an item ACL has a Default entry. The first entry that matches
// the principal and says something about the right decides. If none does,
// the right is denied.
type Checker struct {
	Before, Default, After *ACL
	Hierarchic             bool
	ValidRights            []string
	Groups                 Groups
	GroupRE                *regexp.Regexp
	TrustedMethods         mapset.Set[string]
}

// NewChecker returns a checker over the given ACL strings.
func NewChecker(before, def, after string, valid []string) *Checker {
	if len(valid) == 0 {
		valid = DefaultRights
	}
	return &Checker{
		Before:         Parse(before, valid),
		Default:        Parse(def, valid),
		After:          Parse(after, valid),
		ValidRights:    valid,
		GroupRE:        regexp.MustCompile(`\S+Group$`),
		TrustedMethods: mapset.NewSet[string](),
	}
}

// Effective returns the entries consulted for the item called name, with
// Default entries expanded.
func (c *Checker) Effective(ctx context.Context, name string, lookup LookupFunc) (*ACL, error) {
	var entries []Entry
	entries = append(entries, c.expand(c.Before)...)
	item, err := c.itemACL(ctx, name, lookup)
	if err != nil {
		return nil, err
	}
	if item != nil {
		// an item's own acl replaces Default unless it names it
		entries = append(entries, c.expand(item)...)
	} else {
		entries = append(entries, c.expand(c.Default)...)
	}
	entries = append(entries, c.expand(c.After)...)
	return &ACL{Entries: entries}, nil
}

// itemACL returns the ACL stored on name, or on its nearest ancestor in
// hierarchic mode, or nil.
func (c *Checker) itemACL(ctx context.Context, name string, lookup LookupFunc) (*ACL, error) {
	if lookup == nil {
		return nil, nil
	}
	for {
		s, ok, err := lookup(ctx, name)
		if err != nil {
			return nil, err
		}
		if ok {
			return Parse(s, c.ValidRights), nil
		}
		i := strings.LastIndexByte(name, '/')
		if !c.Hierarchic || i < 0 {
			return nil, nil
		}
		name = name[:i]
	}
}

func (c *Checker) expand(acl *ACL) []Entry {
	if acl == nil {
		return nil
	}
	var result []Entry
	for _, e := range acl.Entries {
		if e.Default {
			if c.Default != nil {
				for _, d := range c.Default.Entries {
					if !d.Default {
						result = append(result, d)
					}
				}
			}
			continue
		}
		result = append(result, e)
	}
	return result
}

// May reports whether p has right on the item called name.
func (c *Checker) May(ctx context.Context, p Principal, right, name string, lookup LookupFunc) (bool, error) {
	acl, err := c.Effective(ctx, name, lookup)
	if err != nil {
		return false, err
	}
	return c.Evaluate(acl, p, right), nil
}

// Evaluate applies acl to p and right. The first deciding entry wins;
// without one the right is denied.
func (c *Checker) Evaluate(acl *ACL, p Principal, right string) bool {
	for _, e := range acl.Entries {
		if !c.matchesAny(e.Subjects, p) {
			continue
		}
		if allowed, ok := e.decide(right, c.ValidRights); ok {
			return allowed
		}
	}
	return false
}

func (c *Checker) matchesAny(subjects []string, p Principal) bool {
	for _, s := range subjects {
		if c.matches(s, p) {
			return true
		}
	}
	return false
}

func (c *Checker) trusted(p Principal) bool {
	if !p.Valid {
		return false
	}
	return p.Trusted || (c.TrustedMethods != nil && c.TrustedMethods.Contains(p.AuthMethod))
}

func (c *Checker) matches(subject string, p Principal) bool {
	switch subject {
	case All:
		return true
	case Known:
		return p.Valid
	case Trusted:
		return c.trusted(p)
	}
	if c.GroupRE != nil && c.GroupRE.MatchString(subject) {
		if c.Groups == nil {
			return false
		}
		if p.Name != "" && c.Groups.IsMember(subject, p.Name) {
			return true
		}
		for _, special := range []string{All, Known, Trusted} {
			if c.Groups.IsMember(subject, special) && c.matches(special, p) {
				return true
			}
		}
		return false
	}
	return p.Name != "" && subject == p.Name
}
