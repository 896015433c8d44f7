package transformer

import (
	"context"
	"testing"
)

func TestFilterLoopRows_KeepsMatchingRowsInOrder(t *testing.T) {
	t.Parallel()

	columns := []string{"page", "ts"}
	in := make(chan *Row, 4)
	out := make(chan *Row, 4)
	for i, page := range []any{"NextSong", "Home", nil, "NextSong"} {
		r := GetRow(2)
		r.V[0] = page
		r.Line = i + 1
		in <- r
	}
	close(in)

	FilterLoopRows(context.Background(), in, out, ColumnEquals(columns, "page", "NextSong"))
	close(out)

	var lines []int
	for r := range out {
		lines = append(lines, r.Line)
	}
	if len(lines) != 2 || lines[0] != 1 || lines[1] != 4 {
		t.Fatalf("kept lines=%v, want [1 4]", lines)
	}
}

func TestColumnEquals_UnknownColumnKeepsNothing(t *testing.T) {
	t.Parallel()

	keep := ColumnEquals([]string{"a"}, "page", "NextSong")
	r := GetRow(1)
	r.V[0] = "NextSong"
	if keep(r) {
		t.Fatalf("unknown column must not match")
	}
}
