// Package probe profiles a sample of the song or log JSON files before a load.
//
// It answers the questions that usually come up when a load skips files:
// which keys are present, which types they carry, how many values are null or
// empty, how unique each column is, and how many records would be rejected
// because a value the loader needs is missing.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"sparkify/internal/source"
)

// Input kinds.
const (
	KindSong = "song"
	KindLog  = "log"
)

const (
	defaultMaxFiles   = 20
	defaultMaxRecords = 1000

	// distinctCapPerColumn bounds the memory used for distinct counting.
	distinctCapPerColumn = 10000
)

// required lists the raw keys a record needs to be loaded. For logs only
// NextSong records are checked.
var required = map[string][]string{
	KindSong: {"song_id", "artist_id"},
	KindLog:  {"ts", "userId", "sessionId"},
}

// Options controls what is sampled.
type Options struct {
	Kind string
	Root string
	// MaxFiles bounds the files read, in discovery order. Default 20.
	MaxFiles int
	// MaxRecords bounds the records read per file. Default 1000.
	MaxRecords int
}

// Column profiles one raw key.
type Column struct {
	Name     string
	Present  int // rows with a non-null, non-empty value
	Nulls    int // rows where the key is missing, null or ""
	Types    map[string]int
	Distinct int
	Capped   bool
}

// Report is the result of one probe.
type Report struct {
	Kind    string
	Root    string
	Files   int
	Records int
	// Pages counts log records by page. Nil for song files.
	Pages map[string]int
	// Incomplete counts checked records missing a required key.
	Incomplete int
	Columns    []Column
	// FileErrors holds "path: error" for files that failed to decode.
	FileErrors []string
}

// Run samples files under opt.Root. Per-file decode errors are collected in
// the report; discovery errors and cancellation are returned.
func Run(ctx context.Context, opt Options) (Report, error) {
	kind := strings.ToLower(strings.TrimSpace(opt.Kind))
	req, ok := required[kind]
	if !ok {
		return Report{}, fmt.Errorf("probe: unknown kind %q (want song|log)", opt.Kind)
	}
	maxFiles := opt.MaxFiles
	if maxFiles <= 0 {
		maxFiles = defaultMaxFiles
	}
	maxRecords := opt.MaxRecords
	if maxRecords <= 0 {
		maxRecords = defaultMaxRecords
	}

	files, err := source.Discover(opt.Root)
	if err != nil {
		return Report{}, fmt.Errorf("probe: %w", err)
	}
	if len(files) > maxFiles {
		files = files[:maxFiles]
	}

	rep := Report{Kind: kind, Root: opt.Root}
	if kind == KindLog {
		rep.Pages = make(map[string]int)
	}
	acc := newAccumulator()

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		recs, err := readSample(path, maxRecords)
		if err != nil {
			rep.FileErrors = append(rep.FileErrors, fmt.Sprintf("%s: %v", path, err))
		}
		rep.Files++
		for _, r := range recs {
			rep.Records++
			acc.add(r)

			check := true
			if kind == KindLog {
				page := scalarString(r["page"])
				rep.Pages[page]++
				check = page == source.PageNextSong
			}
			if check && missingAny(r, req) {
				rep.Incomplete++
			}
		}
	}

	rep.Columns = acc.columns(rep.Records)
	return rep, nil
}

// readSample decodes up to limit records. Records decoded before an error are
// returned with it.
func readSample(path string, limit int) ([]map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var out []map[string]any
	for len(out) < limit {
		var r map[string]any
		if err := dec.Decode(&r); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("record %d: %w", len(out)+1, err)
		}
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func missingAny(r map[string]any, keys []string) bool {
	for _, k := range keys {
		if scalarString(r[k]) == "" {
			return true
		}
	}
	return false
}

type accumulator struct {
	present map[string]int
	types   map[string]map[string]int
	sets    map[string]map[string]struct{}
	capped  map[string]bool
}

func newAccumulator() *accumulator {
	return &accumulator{
		present: make(map[string]int),
		types:   make(map[string]map[string]int),
		sets:    make(map[string]map[string]struct{}),
		capped:  make(map[string]bool),
	}
}

func (a *accumulator) add(r map[string]any) {
	for k, v := range r {
		if a.types[k] == nil {
			a.types[k] = make(map[string]int)
			a.sets[k] = make(map[string]struct{})
		}
		a.types[k][typeName(v)]++

		s := scalarString(v)
		if s == "" {
			continue
		}
		a.present[k]++
		if a.capped[k] {
			continue
		}
		a.sets[k][s] = struct{}{}
		if len(a.sets[k]) >= distinctCapPerColumn {
			a.capped[k] = true
			delete(a.sets, k)
		}
	}
}

// columns finalizes the stats. Keys missing from a record count as nulls.
func (a *accumulator) columns(records int) []Column {
	out := make([]Column, 0, len(a.types))
	for k, types := range a.types {
		c := Column{
			Name:    k,
			Present: a.present[k],
			Nulls:   records - a.present[k],
			Types:   types,
			Capped:  a.capped[k],
		}
		if c.Capped {
			c.Distinct = distinctCapPerColumn
		} else {
			c.Distinct = len(a.sets[k])
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func typeName(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case json.Number:
		if _, err := t.Int64(); err == nil {
			return "integer"
		}
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// scalarString is the canonical text of a value for distinct counting.
// Objects and arrays are not scalars and read as "".
func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// Format renders the report as tab separated text.
func (r Report) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "probe: kind=%s root=%s files=%d records=%d incomplete=%d\n",
		r.Kind, r.Root, r.Files, r.Records, r.Incomplete)

	if len(r.Pages) > 0 {
		pages := make([]string, 0, len(r.Pages))
		for p := range r.Pages {
			pages = append(pages, p)
		}
		sort.Strings(pages)
		b.WriteString("pages:")
		for _, p := range pages {
			name := p
			if name == "" {
				name = "(none)"
			}
			fmt.Fprintf(&b, " %s=%d", name, r.Pages[p])
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "%-18s\t%-7s\t%-7s\t%-7s\t%s\n", "col", "present", "nulls", "unique", "types")
	for _, c := range r.Columns {
		unique := fmt.Sprint(c.Distinct)
		if c.Capped {
			unique += "+"
		}
		fmt.Fprintf(&b, "%-18s\t%-7d\t%-7d\t%-7s\t%s\n", c.Name, c.Present, c.Nulls, unique, formatTypes(c.Types))
	}

	for _, e := range r.FileErrors {
		fmt.Fprintf(&b, "error: %s\n", e)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatTypes(types map[string]int) string {
	names := make([]string, 0, len(types))
	for t := range types {
		names = append(names, t)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, t := range names {
		parts[i] = fmt.Sprintf("%s:%d", t, types[t])
	}
	return strings.Join(parts, ",")
}
