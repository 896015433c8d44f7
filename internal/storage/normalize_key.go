package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NormalizeKey converts a key value to a canonical string form, suitable for
// in-memory dedupe and join keys (e.g. "SOMZWCG12A8C13C480" or "8429529").
//
// Backends must not assume a particular underlying type for keys; drivers
// return TEXT as string or []byte and integers as int64 or int32, so this
// helper keeps keys consistent across backends. Values are not trimmed:
// "Fire" and "Fire " are different keys, as they are in the database.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

// CompositeKey joins the normalized values at idx with a unit separator.
func CompositeKey(row []any, idx []int) string {
	if len(idx) == 1 {
		return NormalizeKey(row[idx[0]])
	}
	var b strings.Builder
	for i, j := range idx {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		b.WriteString(NormalizeKey(row[j]))
	}
	return b.String()
}

// ColumnIndexes returns the positions of want inside columns.
func ColumnIndexes(columns []string, want []string) ([]int, error) {
	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		pos[c] = i
	}
	out := make([]int, len(want))
	for i, w := range want {
		j, ok := pos[w]
		if !ok {
			return nil, fmt.Errorf("column %q not present in columns", w)
		}
		out[i] = j
	}
	return out, nil
}

// DedupeRows keeps the first row for every distinct key over keyColumns.
// The input slice is not modified.
func DedupeRows(columns []string, rows [][]any, keyColumns []string) ([][]any, error) {
	if len(rows) < 2 || len(keyColumns) == 0 {
		return rows, nil
	}
	idx, err := ColumnIndexes(columns, keyColumns)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(rows))
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		k := CompositeKey(r, idx)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}

// ChunkRows splits rows so each chunk binds at most maxParams parameters.
func ChunkRows(rows [][]any, columnsPerRow, maxParams int) [][][]any {
	if len(rows) == 0 {
		return nil
	}
	per := maxParams / max(1, columnsPerRow)
	if per < 1 {
		per = 1
	}
	out := make([][][]any, 0, len(rows)/per+1)
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}

// ChunkKeys splits keys into slices of at most size elements.
func ChunkKeys(keys []any, size int) [][]any {
	if len(keys) == 0 {
		return nil
	}
	if size < 1 {
		size = 1
	}
	out := make([][]any, 0, len(keys)/size+1)
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		out = append(out, keys[start:end])
	}
	return out
}
