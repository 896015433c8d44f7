// Package transformer turns decoded JSON values into typed rows.
//
// Rows are pooled: the parser fills them, the coercion stage rewrites them in
// place, and the final consumer frees them.
package transformer

import "sync"

// Row is a pooled positional record. V lines up with the column list the
// producer was configured with.
//
// Ownership contract:
//   - Exactly one goroutine owns a Row at a time.
//   - Sending a Row on a channel transfers ownership.
//   - The final consumer calls Free once it no longer reads r.V.
//
// On cancellation use Drop instead of Free: a stage that is still draining
// may hold the Row, and re-pooling it would let the producer overwrite values
// that are being read.
type Row struct {
	V    []any
	Line int // 1-based record number within the file
}

var rowPool sync.Pool

// GetRow returns a pooled Row with len(V) == colCount and every value nil.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]any, colCount)
		}
		r.V = r.V[:colCount]
		clear(r.V)
		r.Line = 0
		return r
	}
	return &Row{V: make([]any, colCount)}
}

// Free returns the Row to the pool.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop releases the Row without re-pooling it.
func (r *Row) Drop() {
	r.V = nil
	r.Line = 0
}

func indexOf(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}
