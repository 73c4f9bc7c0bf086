package store

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func TestItemSubdir(t *testing.T) {
	var table = []struct{ input, output string }{
		{"x", "x/"},
		{"xy", "xy/"},
		{"xyz", "xy/z/"},
		{"wxyz", "wx/yz/"},
		{"b930agg8z.item", "b9/30/"},
	}
	for _, s := range table {
		result := itemSubdir(s.input)
		if result != s.output {
			t.Errorf("Got %s, expected %s", result, s.output)
		}
	}
}

func TestKeyValidation(t *testing.T) {
	var table = []struct {
		key string
		err error
	}{
		{"3f2a.r00000001", nil},
		{"a/b", ErrKeyContainsSlash},
		{"a b", ErrKeyContainsWhiteSpace},
		{"a\x01b", ErrKeyContainsControlChar},
		{"a\xffb", ErrKeyContainsNonUnicode},
	}
	for _, tab := range table {
		if err := isKeyValid(tab.key); err != tab.err {
			t.Errorf("isKeyValid(%q) = %v, expected %v", tab.key, err, tab.err)
		}
	}
}

func TestListPrefix(t *testing.T) {
	var files = []string{
		"ab/",
		"ab/cd/",
		"ab/cd/abcd.item",
		"ab/cd/abcd.r00000000",
		"ab/cd/abcdef.item",
		"ab/ce/",
		"ab/ce/abcez.item",
		"bc/",
		"bc/de/",
		"bc/de/bcde.item",
	}
	var table = []struct {
		prefix   string
		expected []string
	}{
		{"", []string{"abcd.item", "abcd.r00000000", "abcdef.item", "abcez.item", "bcde.item"}},
		{"ab", []string{"abcd.item", "abcd.r00000000", "abcdef.item", "abcez.item"}},
		{"abcd", []string{"abcd.item", "abcd.r00000000", "abcdef.item"}},
		{"abcd.r", []string{"abcd.r00000000"}},
		{"zz", nil},
	}
	s := &FileSystem{root: makeTmpTree(t, files)}
	for _, tab := range table {
		result, err := s.ListPrefix(tab.prefix)
		if err != nil {
			t.Errorf("Got unexpected error: %s", err.Error())
			continue
		}
		sort.Strings(result)
		if !equal(tab.expected, result) {
			t.Errorf("prefix %q: got %v, expected %v", tab.prefix, result, tab.expected)
		}
	}
}

func TestWalkTree(t *testing.T) {
	var files = []string{
		"a/",
		"a/b/",
		"a/b/xyz-0001",
		"a/b/qwe-0001",
		"a/c/",
		"a/c/asd-0001",
		"scratch/",
		"scratch/abcd.123",
	}
	dir := makeTmpTree(t, files)
	c := make(chan string)
	go walkTree(c, dir, 0)
	var result []string
	for name := range c {
		result = append(result, name)
	}
	sort.Strings(result)
	if !equal(result, []string{"asd-0001", "qwe-0001", "xyz-0001"}) {
		t.Errorf("walkTree returned %v", result)
	}
}

// makeTmpTree creates the given files and directories (ending in '/') under
// a fresh temporary directory and returns its path.
func makeTmpTree(t *testing.T, files []string) string {
	root := t.TempDir()
	for _, s := range files {
		var err error
		p := filepath.Join(root, s)
		if strings.HasSuffix(s, "/") {
			err = os.Mkdir(p, 0777)
		} else {
			err = os.WriteFile(p, nil, 0666)
		}
		if err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
