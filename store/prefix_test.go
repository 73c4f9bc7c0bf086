package store

import (
	"sort"
	"testing"
)

func TestPrefixSharing(t *testing.T) {
	m := NewMemory()
	pages := NewWithPrefix(m, "pages/")
	users := NewWithPrefix(m, "users/")

	add(t, pages, "3f2a.item", "front page")
	add(t, pages, "3f2a.r00000000", "rev 0")
	add(t, users, "3f2a.item", "a user with the same key")
	add(t, m, "loose", "outside any prefix")

	var table = []struct {
		s      Store
		prefix string
		result []string
	}{
		{pages, "", []string{"3f2a.item", "3f2a.r00000000"}},
		{pages, "3f2a.r", []string{"3f2a.r00000000"}},
		{pages, "9", []string{}},
		{users, "", []string{"3f2a.item"}},
		{m, "", []string{"loose", "pages/3f2a.item", "pages/3f2a.r00000000", "users/3f2a.item"}},
	}
	for i, tab := range table {
		ids, err := tab.s.ListPrefix(tab.prefix)
		if err != nil {
			t.Errorf("%d: %s", i, err)
		}
		sort.Strings(ids)
		if !equal(ids, tab.result) {
			t.Errorf("%d: ListPrefix(%q) = %v, expected %v", i, tab.prefix, ids, tab.result)
		}
	}

	var listed []string
	for k := range users.List() {
		listed = append(listed, k)
	}
	if !equal(listed, []string{"3f2a.item"}) {
		t.Errorf("List = %v", listed)
	}

	data, err := ReadAll(users, "3f2a.item")
	if err != nil || string(data) != "a user with the same key" {
		t.Errorf("ReadAll = %q, %v", data, err)
	}
	if err := pages.Delete("3f2a.item"); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadAll(users, "3f2a.item"); err != nil {
		t.Errorf("delete through one prefix removed the other: %v", err)
	}
}

func add(t *testing.T, s Store, id string, data string) {
	if err := WriteAll(s, id, []byte(data)); err != nil {
		t.Fatalf("Couldn't make %s, %s", id, err.Error())
	}
}
