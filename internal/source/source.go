// Package source finds and decodes the song and activity-log JSON files.
//
// Each file runs through a small pipeline:
//
//	parser/json -> transformer.FilterLoopRows -> transformer.CoerceLoopRows -> collector
//
// Any record that fails coercion makes the whole file fail.
package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	parser "sparkify/internal/parser/json"
	"sparkify/internal/transformer"
)

// ErrNoRecords is returned when a file holds no usable record.
var ErrNoRecords = errors.New("source: no records")

// Discover returns the absolute paths of all *.json files under root,
// recursively, in lexical order. A missing root is an error.
func Discover(root string) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("source: resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source: %s is not a directory", abs)
	}

	var files []string
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(d.Name()), ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("source: walk %s: %w", abs, err)
	}
	sort.Strings(files)
	return files, nil
}

// reject is the first record a pipeline refused.
type reject struct {
	line   int
	reason string
}

// pipeline describes how one file is decoded.
type pipeline struct {
	columns []string
	opts    parser.Options
	keep    func(*transformer.Row) bool
	coerce  transformer.CoerceSpec
}

const stageBuffer = 256

// run streams path through the pipeline and hands every surviving row to sink.
// sink must not keep the row; it is freed after sink returns.
func (p pipeline) run(ctx context.Context, path string, sink func(*transformer.Row) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("source: open %s: %w", path, err)
	}
	defer f.Close()

	g, gctx := errgroup.WithContext(ctx)
	raw := make(chan *transformer.Row, stageBuffer)
	kept := make(chan *transformer.Row, stageBuffer)
	typed := make(chan *transformer.Row, stageBuffer)

	var first *reject
	onReject := func(line int, reason string) {
		if first == nil {
			first = &reject{line: line, reason: reason}
		}
	}

	keep := p.keep
	if keep == nil {
		keep = func(*transformer.Row) bool { return true }
	}

	g.Go(func() error {
		defer close(raw)
		return parser.StreamJSONRows(gctx, f, p.columns, p.opts, raw, nil)
	})
	g.Go(func() error {
		defer close(kept)
		transformer.FilterLoopRows(gctx, raw, kept, keep)
		return nil
	})
	g.Go(func() error {
		defer close(typed)
		transformer.CoerceLoopRows(gctx, p.columns, kept, typed, p.coerce, onReject)
		return nil
	})
	g.Go(func() error {
		for r := range typed {
			err := sink(r)
			r.Free()
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("source: %s: %w", path, err)
	}
	if first != nil {
		return fmt.Errorf("source: %s: record %d: %s", path, first.line, first.reason)
	}
	return nil
}

// Value accessors for coerced rows. NULL reads as the zero value.

func str(v any) string {
	s, _ := v.(string)
	return s
}

func i64(v any) int64 {
	n, _ := v.(int64)
	return n
}

func f64(v any) float64 {
	x, _ := v.(float64)
	return x
}

func f64ptr(v any) *float64 {
	x, ok := v.(float64)
	if !ok {
		return nil
	}
	return &x
}
