package transformer

import "context"

// FilterLoopRows forwards the rows for which keep returns true and frees the
// rest. It returns when in is closed and does not close out.
func FilterLoopRows(ctx context.Context, in <-chan *Row, out chan<- *Row, keep func(*Row) bool) {
	for r := range in {
		select {
		case <-ctx.Done():
			if r != nil {
				r.Drop()
			}
			continue
		default:
		}

		if r == nil {
			continue
		}
		if !keep(r) {
			r.Free()
			continue
		}

		select {
		case out <- r:
		case <-ctx.Done():
			r.Drop()
		}
	}
}

// ColumnEquals returns a keep func matching rows whose column equals want.
// Only string values match.
func ColumnEquals(columns []string, name, want string) func(*Row) bool {
	idx := indexOf(columns, name)
	return func(r *Row) bool {
		if idx < 0 || idx >= len(r.V) {
			return false
		}
		s, ok := r.V[idx].(string)
		return ok && s == want
	}
}
