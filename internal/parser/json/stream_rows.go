// Package json streams JSON records into pooled transformer rows.
package json

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	json "github.com/goccy/go-json"

	"sparkify/internal/transformer"
)

// Options configures key mapping for StreamJSONRows.
type Options struct {
	// HeaderMap maps an original record key to the column name it fills,
	// e.g. "userId" -> "user_id". Columns not named here are looked up verbatim.
	HeaderMap map[string]string
}

// StreamJSONRows decodes JSON objects from r and sends one *transformer.Row per
// object to out, with values aligned to columns.
//
// Accepted layouts:
//   - a sequence of objects (JSON Lines, or objects separated by any whitespace)
//   - a root array of objects, optionally followed by more objects
//
// Objects are streamed one at a time; a root array is decoded as a whole.
//
// Numbers are decoded as json.Number so integer timestamps and float durations
// keep their exact textual value until coercion. Missing keys yield nil.
//
// The first decode error is reported to onParseErr (with the 1-based number of
// the record that failed) and returned; rows already sent stay sent. out is
// not closed.
func StreamJSONRows(
	ctx context.Context,
	r io.Reader,
	columns []string,
	opts Options,
	out chan<- *transformer.Row,
	onParseErr func(line int, err error),
) error {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("json: read input: %w", err)
	}

	dec := json.NewDecoder(br)
	dec.UseNumber()

	rev := reverseHeaderMap(opts.HeaderMap)
	line := 0

	fail := func(err error) error {
		if onParseErr != nil {
			onParseErr(line+1, err)
		}
		return err
	}

	emit := func(obj map[string]any) error {
		line++
		row := transformer.GetRow(len(columns))
		row.Line = line
		fillRow(row.V, obj, columns, rev)

		select {
		case out <- row:
			return nil
		case <-ctx.Done():
			row.Drop()
			return ctx.Err()
		}
	}

	if first == '[' {
		var arr []any
		if err := dec.Decode(&arr); err != nil {
			return fail(fmt.Errorf("json: decode root array: %w", err))
		}
		for _, raw := range arr {
			if err := ctx.Err(); err != nil {
				return err
			}
			if raw == nil {
				continue
			}
			obj, ok := raw.(map[string]any)
			if !ok {
				return fail(fmt.Errorf("json: array element is not an object (got %T)", raw))
			}
			if err := emit(obj); err != nil {
				return err
			}
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		obj, skip, err := decodeObject(dec)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fail(fmt.Errorf("json: decode object: %w", err))
		}
		if skip {
			continue
		}
		if err := emit(obj); err != nil {
			return err
		}
	}
}

// decodeObject decodes the next value. null is skipped; any other non-object
// value is an error.
func decodeObject(dec *json.Decoder) (obj map[string]any, skip bool, err error) {
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, true, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, false, fmt.Errorf("value is not an object (got %T)", raw)
	}
	return obj, false, nil
}

// peekNonSpace returns the first non-whitespace byte without consuming it.
func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = br.ReadByte()
		default:
			return b[0], nil
		}
	}
}

// reverseHeaderMap builds column->original key for lookup without per-record map copies.
func reverseHeaderMap(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for orig, col := range h {
		if orig == "" || col == "" {
			continue
		}
		out[col] = orig
	}
	return out
}

// fillRow copies obj values into dst in column order. A column is looked up
// under its own name first, then under the original key from the header map.
func fillRow(dst []any, obj map[string]any, columns []string, rev map[string]string) {
	for i, col := range columns {
		v, ok := obj[col]
		if !ok {
			if orig, mapped := rev[col]; mapped {
				v = obj[orig]
			}
		}
		dst[i] = v
	}
}
