package config

import (
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Groups holds named lists of members, read from a YAML file like
//
//	AdminGroup: [JoeDoe, JaneDoe]
//	EditorGroup: [AdminGroup, Trusted]
//
// A member may itself be a group. Groups is safe for concurrent use and
// may be replaced while in use.
type Groups struct {
	m      sync.RWMutex
	groups map[string][]string
}

// NewGroups returns groups with the given definitions.
func NewGroups(defs map[string][]string) *Groups {
	return &Groups{groups: defs}
}

// LoadGroups reads a group file.
func LoadGroups(path string) (*Groups, error) {
	g := &Groups{}
	return g, g.Reload(path)
}

// Reload replaces the definitions with those in the file at path. On error
// the old definitions stay.
func (g *Groups) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var defs map[string][]string
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return errors.Wrapf(err, "groups %s", path)
	}
	g.m.Lock()
	g.groups = defs
	g.m.Unlock()
	return nil
}

// IsMember reports whether name is a member of group, directly or through
// nested groups.
func (g *Groups) IsMember(group, name string) bool {
	g.m.RLock()
	defer g.m.RUnlock()
	return g.isMember(group, name, make(map[string]bool))
}

func (g *Groups) isMember(group, name string, seen map[string]bool) bool {
	if seen[group] {
		return false
	}
	seen[group] = true
	for _, m := range g.groups[group] {
		if m == name {
			return true
		}
		if _, ok := g.groups[m]; ok && g.isMember(m, name, seen) {
			return true
		}
	}
	return false
}

// Names returns the defined group names in order.
func (g *Groups) Names() []string {
	g.m.RLock()
	defer g.m.RUnlock()
	names := make([]string, 0, len(g.groups))
	for n := range g.groups {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Dicts holds named string maps, read from a YAML file like
//
//	JoeDoe:
//	  TEAM: Blue
//
// The dictionary named after a user supplies the user's own variables.
type Dicts struct {
	m     sync.RWMutex
	dicts map[string]map[string]string
}

// LoadDicts reads a dictionary file.
func LoadDicts(path string) (*Dicts, error) {
	d := &Dicts{}
	return d, d.Reload(path)
}

// Reload replaces the dictionaries with those in the file at path. On
// error the old ones stay.
func (d *Dicts) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var defs map[string]map[string]string
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return errors.Wrapf(err, "dicts %s", path)
	}
	d.m.Lock()
	d.dicts = defs
	d.m.Unlock()
	return nil
}

// Dict returns a copy of the dictionary called name.
func (d *Dicts) Dict(name string) map[string]string {
	d.m.RLock()
	defer d.m.RUnlock()
	src := d.dicts[name]
	if src == nil {
		return nil
	}
	c := make(map[string]string, len(src))
	for k, v := range src {
		c[k] = v
	}
	return c
}
