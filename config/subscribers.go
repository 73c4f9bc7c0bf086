package config

import (
	"context"
	"os"
	"regexp"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/ndlib/wikistore/events"
)

// Subscribers holds the notification subscriptions, read from a YAML file
// like
//
//	- name: JoeDoe
//	  email: joe@example.org
//	  pages: ["FrontPage", "HelpOn.*"]
//	  email_events: [PageSaved, PageDeleted]
type Subscribers struct {
	m    sync.RWMutex
	list []events.Subscriber
}

type subscriberDef struct {
	Name         string   `yaml:"name"`
	Email        string   `yaml:"email"`
	JID          string   `yaml:"jid"`
	Pages        []string `yaml:"pages"`
	EmailEvents  []string `yaml:"email_events"`
	JabberEvents []string `yaml:"jabber_events"`
}

// LoadSubscribers reads a subscription file.
func LoadSubscribers(path string) (*Subscribers, error) {
	s := &Subscribers{}
	return s, s.Reload(path)
}

// Reload replaces the subscriptions with those in the file at path. On
// error the old subscriptions stay.
func (s *Subscribers) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var defs []subscriberDef
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return errors.Wrapf(err, "subscribers %s", path)
	}
	list := make([]events.Subscriber, 0, len(defs))
	for _, d := range defs {
		sub := events.Subscriber{
			Name:         d.Name,
			Email:        d.Email,
			JID:          d.JID,
			EmailEvents:  mapset.NewSet(d.EmailEvents...),
			JabberEvents: mapset.NewSet(d.JabberEvents...),
		}
		for _, p := range d.Pages {
			re, err := regexp.Compile(p)
			if err != nil {
				return errors.Wrapf(err, "subscribers %s: %s", path, d.Name)
			}
			sub.Pages = append(sub.Pages, re)
		}
		list = append(list, sub)
	}
	s.m.Lock()
	s.list = list
	s.m.Unlock()
	return nil
}

// List returns the current subscriptions.
func (s *Subscribers) List(ctx context.Context) ([]events.Subscriber, error) {
	s.m.RLock()
	defer s.m.RUnlock()
	return append([]events.Subscriber(nil), s.list...), nil
}
