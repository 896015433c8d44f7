package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MultiConfig is the minimal configuration needed to create a multi-table repository.
//
// When to use:
//   - Use MultiConfig when constructing a MultiRepository via NewMulti.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
//
// Errors:
//   - NewMulti returns an error if Kind is empty or unsupported.
type MultiConfig struct {
	Kind string
	DSN  string
}

// MultiRepository is a backend-agnostic interface over the star-schema store.
//
// Each backend implements these semantics in its own idiomatic way (Postgres
// ON CONFLICT, SQLite OR IGNORE, SQL Server NOT EXISTS / MERGE).
type MultiRepository interface {
	// Close releases any backend resources (connections, prepared statements, etc).
	//
	// Edge cases:
	//   - Implementations should be safe to call once at process shutdown.
	//   - Callers should treat Close as "call once".
	Close()

	// EnsureTables creates tables and constraints that do not exist yet.
	// Tables are created in slice order, so referenced tables must come first.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// DropTables drops the given tables if they exist, in reverse slice order
	// so that referencing tables go before the tables they reference.
	DropTables(ctx context.Context, tables []TableSpec) error

	// Begin opens a transaction. All writes for one input file go through a
	// single Tx.
	Begin(ctx context.Context) (Tx, error)

	// CountRows returns the number of rows in table. It must not be called while
	// a Tx is open on single-connection backends (SQLite).
	CountRows(ctx context.Context, table string) (int64, error)
}

// Tx is the unit of work for one input file.
//
// Row slices passed to the write methods must align with columns. Values are
// plain Go scalars (string, int64, float64, time.Time, nil); backends convert
// them to their native representation.
type Tx interface {
	// InsertIgnore inserts rows whose conflictColumns are not already present.
	// Existing rows are left untouched (first-write-wins). Duplicate keys within
	// rows are tolerated; the first occurrence wins.
	InsertIgnore(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error)

	// Upsert inserts rows and, on conflict over conflictColumns, overwrites only
	// updateColumns of the existing row. rows must not repeat a conflict key.
	Upsert(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns, updateColumns []string) (int64, error)

	// CopyRows bulk-loads rows with no conflict handling. Backends with a native
	// bulk path (Postgres COPY) use it.
	CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// SelectByKey returns the requested columns of every row whose keyColumn is
	// in keys. Row order is unspecified.
	SelectByKey(ctx context.Context, table string, columns []string, keyColumn string, keys []any) ([][]any, error)

	// DeleteByKey deletes every row whose keyColumn is in keys.
	DeleteByKey(ctx context.Context, table string, keyColumn string, keys []any) (int64, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ---- multi factories ----

type multiFactory func(ctx context.Context, cfg MultiConfig) (MultiRepository, error)

var (
	multiMu        sync.RWMutex
	multiFactories = map[string]multiFactory{}
)

// RegisterMulti registers a multi-table backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call RegisterMulti from an init() function in a backend package.
//   - The `kind` string becomes the lookup key used by NewMulti.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func RegisterMulti(kind string, f multiFactory) {
	multiMu.Lock()
	defer multiMu.Unlock()

	if kind == "" {
		panic("storage: RegisterMulti called with empty kind")
	}
	if f == nil {
		panic("storage: RegisterMulti called with nil factory")
	}
	if _, exists := multiFactories[kind]; exists {
		panic(fmt.Sprintf("storage: multi factory already registered for kind=%q", kind))
	}

	multiFactories[kind] = f
}

// NewMulti constructs a MultiRepository using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with RegisterMulti. NewMulti takes a read lock while
//     selecting the factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func NewMulti(ctx context.Context, cfg MultiConfig) (MultiRepository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing multi.Kind")
	}

	multiMu.RLock()
	f := multiFactories[cfg.Kind]
	multiMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported multi storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// RegisteredKinds returns the sorted list of registered backend kinds.
func RegisteredKinds() []string {
	multiMu.RLock()
	defer multiMu.RUnlock()

	out := make([]string, 0, len(multiFactories))
	for k := range multiFactories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
