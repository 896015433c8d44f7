package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sparkify/internal/storage"
)

// maxParams keeps every statement below SQLite's historic 999 bound-variable limit.
const maxParams = 999

// MultiRepo implements storage.MultiRepository for SQLite.
//
// Key design points vs Postgres:
//   - SQLite has no native TIMESTAMP type. Timestamps are stored as RFC3339Nano
//     TEXT so the same instant always produces the same key.
//   - The pool is pinned to a single connection. SQLite serializes writers
//     anyway, and PRAGMA foreign_keys is per connection.
//   - Because of the single connection, every statement of an open transaction
//     must go through the Tx; using the repo directly would block.
type MultiRepo struct {
	db *sql.DB
}

func init() {
	storage.RegisterMulti("sqlite", NewMulti)
}

func NewMulti(ctx context.Context, cfg storage.MultiConfig) (storage.MultiRepository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	return &MultiRepo{db: db}, nil
}

func (r *MultiRepo) Close() { _ = r.db.Close() }

// EnsureTables creates missing tables in order. It is idempotent.
func (r *MultiRepo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		q, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// DropTables drops tables in reverse order so referencing tables go first.
func (r *MultiRepo) DropTables(ctx context.Context, tables []storage.TableSpec) error {
	for i := len(tables) - 1; i >= 0; i-- {
		name := tables[i].Name
		if _, err := r.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+sqlIdent(name)); err != nil {
			return fmt.Errorf("drop table %s: %w", name, err)
		}
	}
	return nil
}

func (r *MultiRepo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+sqlIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (r *MultiRepo) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx is a SQLite transaction implementing storage.Tx.
type Tx struct {
	tx *sql.Tx
}

// InsertIgnore inserts rows and skips those whose conflict target already exists.
//
// With conflictColumns the statement uses "ON CONFLICT (...) DO NOTHING" so only
// that constraint is ignored. Without them it falls back to "INSERT OR IGNORE",
// which relies on any UNIQUE/PK constraint.
func (t *Tx) InsertIgnore(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	var total int64
	for _, part := range storage.ChunkRows(rows, len(columns), maxParams) {
		q, args := buildInsertSQL(table, columns, part, conflictColumns, nil, len(conflictColumns) == 0)
		n, err := t.exec(ctx, q, args)
		if err != nil {
			return total, fmt.Errorf("insert into %s: %w", table, err)
		}
		total += n
	}
	return total, nil
}

// Upsert inserts rows and overwrites updateColumns on conflict.
func (t *Tx) Upsert(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns, updateColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(conflictColumns) == 0 {
		return 0, fmt.Errorf("upsert into %s: conflict columns are required", table)
	}
	var total int64
	for _, part := range storage.ChunkRows(rows, len(columns), maxParams) {
		q, args := buildInsertSQL(table, columns, part, conflictColumns, updateColumns, false)
		n, err := t.exec(ctx, q, args)
		if err != nil {
			return total, fmt.Errorf("upsert into %s: %w", table, err)
		}
		total += n
	}
	return total, nil
}

// CopyRows performs chunked multi-row inserts. SQLite has no COPY protocol.
func (t *Tx) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	var total int64
	for _, part := range storage.ChunkRows(rows, len(columns), maxParams) {
		q, args := buildInsertSQL(table, columns, part, nil, nil, false)
		n, err := t.exec(ctx, q, args)
		if err != nil {
			return total, fmt.Errorf("copy into %s: %w", table, err)
		}
		total += n
	}
	return total, nil
}

func (t *Tx) SelectByKey(ctx context.Context, table string, columns []string, keyColumn string, keys []any) ([][]any, error) {
	var out [][]any
	for _, part := range storage.ChunkKeys(keys, maxParams) {
		q := fmt.Sprintf(
			`SELECT %s FROM %s WHERE %s IN (%s)`,
			joinIdentList(columns), sqlIdent(table), sqlIdent(keyColumn), placeholders(len(part)),
		)
		rows, err := t.tx.QueryContext(ctx, q, bindArgs(part)...)
		if err != nil {
			return nil, fmt.Errorf("select from %s: %w", table, err)
		}
		got, err := scanAll(rows, len(columns))
		if err != nil {
			return nil, fmt.Errorf("select from %s: %w", table, err)
		}
		out = append(out, got...)
	}
	return out, nil
}

func (t *Tx) DeleteByKey(ctx context.Context, table string, keyColumn string, keys []any) (int64, error) {
	var total int64
	for _, part := range storage.ChunkKeys(keys, maxParams) {
		q := fmt.Sprintf(`DELETE FROM %s WHERE %s IN (%s)`, sqlIdent(table), sqlIdent(keyColumn), placeholders(len(part)))
		n, err := t.exec(ctx, q, bindArgs(part))
		if err != nil {
			return total, fmt.Errorf("delete from %s: %w", table, err)
		}
		total += n
	}
	return total, nil
}

func (t *Tx) Commit(context.Context) error   { return t.tx.Commit() }
func (t *Tx) Rollback(context.Context) error { return t.tx.Rollback() }

func (t *Tx) exec(ctx context.Context, q string, args []any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanAll(rows *sql.Rows, width int) ([][]any, error) {
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals := make([]any, width)
		ptrs := make([]any, width)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// buildInsertSQL renders a multi-row INSERT.
//
//   - orIgnore selects "INSERT OR IGNORE".
//   - conflictColumns without updateColumns adds "ON CONFLICT (...) DO NOTHING".
//   - conflictColumns with updateColumns adds "ON CONFLICT (...) DO UPDATE SET c = excluded.c".
func buildInsertSQL(table string, columns []string, rows [][]any, conflictColumns, updateColumns []string, orIgnore bool) (string, []any) {
	var b strings.Builder
	if orIgnore {
		b.WriteString("INSERT OR IGNORE INTO ")
	} else {
		b.WriteString("INSERT INTO ")
	}
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") VALUES ")

	rowPH := "(" + placeholders(len(columns)) + ")"
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(rowPH)
		args = append(args, bindArgs(row)...)
	}

	if !orIgnore && len(conflictColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		b.WriteString(joinIdentList(conflictColumns))
		b.WriteString(")")
		if len(updateColumns) == 0 {
			b.WriteString(" DO NOTHING")
		} else {
			b.WriteString(" DO UPDATE SET ")
			for i, c := range updateColumns {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(sqlIdent(c))
				b.WriteString(" = excluded.")
				b.WriteString(sqlIdent(c))
			}
		}
	}
	return b.String(), args
}

// buildCreateTableSQL generates CREATE TABLE IF NOT EXISTS for one table.
func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}

	var parts []string
	if t.PrimaryKey != nil {
		pkType := strings.TrimSpace(strings.ToLower(t.PrimaryKey.Type))

		// "INTEGER PRIMARY KEY" is special in sqlite: it becomes the rowid and auto-generates values.
		switch pkType {
		case storage.TypeSerial, "bigserial", "identity":
			parts = append(parts, fmt.Sprintf(`%s INTEGER PRIMARY KEY AUTOINCREMENT`, sqlIdent(t.PrimaryKey.Name)))
		default:
			parts = append(parts, fmt.Sprintf(`%s %s PRIMARY KEY`, sqlIdent(t.PrimaryKey.Name), sqliteType(pkType)))
		}
	}

	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), sqliteType(c.Type))
		if !c.IsNullable() {
			col += " NOT NULL"
		}
		// Enforced because NewMulti turns PRAGMA foreign_keys on.
		if c.References != nil {
			col += fmt.Sprintf(" REFERENCES %s(%s)", sqlIdent(c.References.Table), sqlIdent(c.References.Column))
		}
		parts = append(parts, col)
	}

	for _, con := range t.Constraints {
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", joinIdentList(con.Columns)))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

// sqliteType maps logical column types to SQLite type affinities.
func sqliteType(logical string) string {
	switch strings.ToLower(strings.TrimSpace(logical)) {
	case storage.TypeInt, storage.TypeBigInt:
		return "INTEGER"
	case storage.TypeFloat:
		return "REAL"
	case storage.TypeText, storage.TypeTimestamp:
		return "TEXT"
	default:
		return logical
	}
}

func placeholders(n int) string {
	return strings.TrimRight(strings.Repeat("?,", n), ",")
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, sqlIdent(c))
	}
	return strings.Join(out, ", ")
}

// bindArgs converts values SQLite cannot store verbatim.
func bindArgs(vals []any) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		if ts, ok := v.(time.Time); ok {
			out[i] = formatSQLiteTime(ts)
			continue
		}
		out[i] = v
	}
	return out
}

// formatSQLiteTime formats a time as RFC3339Nano in UTC.
// We store timestamps as TEXT for reliable scanning/parsing with modernc.org/sqlite.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

var _ storage.Tx = (*Tx)(nil)
