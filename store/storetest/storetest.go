// Package storetest provides functions for testing anything implementing the
// store.Store interface.
package storetest

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/ndlib/wikistore/store"
)

// Run exercises the basic contract every store must satisfy: exclusive
// creates, reads of complete values, deletes and prefix listing.
func Run(t *testing.T, s store.Store) {
	var table = []struct{ key, value string }{
		{"abcd0001", "first revision\n"},
		{"abcd0002", ""},
		{"abce0001", "some other item"},
		{"zz01", "tail"},
	}
	for _, tab := range table {
		if err := store.WriteAll(s, tab.key, []byte(tab.value)); err != nil {
			t.Fatalf("WriteAll(%s): %s", tab.key, err)
		}
	}
	for _, tab := range table {
		data, err := store.ReadAll(s, tab.key)
		if err != nil {
			t.Errorf("ReadAll(%s): %s", tab.key, err)
			continue
		}
		if string(data) != tab.value {
			t.Errorf("ReadAll(%s) = %q, expected %q", tab.key, data, tab.value)
		}
	}

	if err := store.WriteAll(s, "abcd0001", []byte("again")); err != store.ErrKeyExists {
		t.Errorf("second create returned %v, expected ErrKeyExists", err)
	}

	keys, err := s.ListPrefix("abcd")
	if err != nil {
		t.Errorf("ListPrefix: %s", err)
	}
	sort.Strings(keys)
	if fmt.Sprint(keys) != "[abcd0001 abcd0002]" {
		t.Errorf("ListPrefix(abcd) = %v", keys)
	}

	var all []string
	for k := range s.List() {
		all = append(all, k)
	}
	if len(all) != len(table) {
		t.Errorf("List returned %v", all)
	}

	if err := s.Delete("abcd0002"); err != nil {
		t.Errorf("Delete: %s", err)
	}
	if err := s.Delete("never-there"); err != nil {
		t.Errorf("Delete of missing key: %s", err)
	}
	if _, _, err := s.Open("abcd0002"); err != store.ErrNotExist {
		t.Errorf("Open of deleted key returned %v", err)
	}
	if err := store.Replace(s, "zz01", []byte("new tail")); err != nil {
		t.Errorf("Replace: %s", err)
	}
	data, _ := store.ReadAll(s, "zz01")
	if string(data) != "new tail" {
		t.Errorf("after Replace got %q", data)
	}
}

// Race has n goroutines try to create the same key at once. Exactly one of
// them may win, and the stored value must be the winner's complete value.
func Race(t *testing.T, s store.Store, n int) {
	var wg sync.WaitGroup
	var m sync.Mutex
	var winners []int
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value := bytes.Repeat([]byte{byte('a' + i%26)}, 4096)
			if store.WriteAll(s, "race0000", value) == nil {
				m.Lock()
				winners = append(winners, i)
				m.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if len(winners) != 1 {
		t.Fatalf("expected one winner, got %v", winners)
	}
	data, err := store.ReadAll(s, "race0000")
	if err != nil {
		t.Fatal(err)
	}
	expected := bytes.Repeat([]byte{byte('a' + winners[0]%26)}, 4096)
	if !bytes.Equal(data, expected) {
		t.Errorf("stored value is not the winner's value")
	}
}
