package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMerge(t *testing.T) {
	var table = []struct {
		name              string
		base, other, mine string
		want              string
		conflicts         int
	}{
		{"unchanged", "a\nb\n", "a\nb\n", "a\nb\n", "a\nb\n", 0},
		{"only mine", "a\nb\n", "a\nb\n", "a\nB\n", "a\nB\n", 0},
		{"only other", "a\nb\n", "A\nb\n", "a\nb\n", "A\nb\n", 0},
		{"both apart", "a\nb\nc\n", "A\nb\nc\n", "a\nb\nC\n", "A\nb\nC\n", 0},
		{"same change", "a\nb\n", "a\nX\n", "a\nX\n", "a\nX\n", 0},
		{"insertions apart", "a\nb\nc\n", "a\nnew\nb\nc\n", "a\nb\nc\nend\n", "a\nnew\nb\nc\nend\n", 0},
		{"no final newline", "a\nb", "a\nb\n", "a\nB", "a\nB\n", 0},
		{"overlap", "x\n", "A\n", "B\n",
			MarkerOther + "A\n" + MarkerMine + "B\n" + MarkerEnd, 1},
		{"new on both sides", "", "one\n", "two\n",
			MarkerOther + "one\n" + MarkerMine + "two\n" + MarkerEnd, 1},
	}
	for _, tab := range table {
		got, n := Merge(tab.base, tab.other, tab.mine)
		assert.Equal(t, tab.want, got, tab.name)
		assert.Equal(t, tab.conflicts, n, tab.name)
	}
}

func TestHasConflictMarkers(t *testing.T) {
	merged, _ := Merge("x\n", "A\n", "B\n")
	assert.True(t, HasConflictMarkers(merged))
	assert.False(t, HasConflictMarkers("plain\ntext\n"))
}
