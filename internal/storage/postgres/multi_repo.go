package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sparkify/internal/storage"
)

// maxParams keeps statements well below Postgres's 65535 bind-parameter limit.
const maxParams = 20000

/*
MultiRepo implements storage.MultiRepository for Postgres.

It provides:
  - DDL from storage.TableSpec (CREATE TABLE IF NOT EXISTS / DROP TABLE IF EXISTS)
  - Per-file transactions (storage.Tx) backed by pgx.Tx
  - Insert-or-ignore via ON CONFLICT DO NOTHING, upsert via ON CONFLICT DO UPDATE
  - Bulk staging loads via the COPY protocol
*/
type MultiRepo struct {
	pool *pgxpool.Pool
}

// NewMulti creates a new Postgres-backed MultiRepo and verifies connectivity.
func NewMulti(ctx context.Context, cfg storage.MultiConfig) (storage.MultiRepository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &MultiRepo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *MultiRepo) Close() {
	r.pool.Close()
}

// EnsureTables creates each table when missing.
//
// This method is idempotent.
func (r *MultiRepo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		schemaSQL, baseSQL, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if schemaSQL != "" {
			if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
				return fmt.Errorf("create schema for %s: %w", t.Name, err)
			}
		}
		if _, err := r.pool.Exec(ctx, baseSQL); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// DropTables drops tables in reverse order so referencing tables go first.
func (r *MultiRepo) DropTables(ctx context.Context, tables []storage.TableSpec) error {
	for i := len(tables) - 1; i >= 0; i-- {
		name := tables[i].Name
		if _, err := r.pool.Exec(ctx, "DROP TABLE IF EXISTS "+pgTableIdent(name)); err != nil {
			return fmt.Errorf("drop table %s: %w", name, err)
		}
	}
	return nil
}

func (r *MultiRepo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+pgTableIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (r *MultiRepo) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// pgxTx is the subset of pgx.Tx used here. It lets tests observe statements
// without a server.
type pgxTx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Tx is a Postgres transaction implementing storage.Tx.
type Tx struct {
	tx pgxTx
}

// InsertIgnore inserts rows using ON CONFLICT (conflictColumns) DO NOTHING.
//
// Duplicate keys within rows are fine: Postgres skips the later occurrences.
func (t *Tx) InsertIgnore(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	if len(conflictColumns) == 0 {
		return 0, fmt.Errorf("insert into %s: conflict columns are required", table)
	}
	return t.insertChunks(ctx, table, columns, rows, conflictColumns, nil)
}

// Upsert inserts rows using ON CONFLICT (conflictColumns) DO UPDATE SET updateColumns.
//
// Postgres rejects a statement that updates the same row twice, so callers
// must not repeat a conflict key within rows.
func (t *Tx) Upsert(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns, updateColumns []string) (int64, error) {
	if len(conflictColumns) == 0 || len(updateColumns) == 0 {
		return 0, fmt.Errorf("upsert into %s: conflict and update columns are required", table)
	}
	return t.insertChunks(ctx, table, columns, rows, conflictColumns, updateColumns)
}

func (t *Tx) insertChunks(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns, updateColumns []string) (int64, error) {
	var total int64
	for _, part := range storage.ChunkRows(rows, len(columns), maxParams) {
		q, args := buildInsertSQL(table, columns, part, conflictColumns, updateColumns)
		cmd, err := t.tx.Exec(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("insert into %s: %w", table, err)
		}
		total += cmd.RowsAffected()
	}
	return total, nil
}

// CopyRows bulk-loads rows through the COPY protocol.
func (t *Tx) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := t.tx.CopyFrom(ctx, copyIdentifier(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("copy into %s: %w", table, err)
	}
	return n, nil
}

// SelectByKey uses a parameterized IN (...) list (chunked) instead of ANY($1)
// arrays to avoid driver array-typing edge cases.
func (t *Tx) SelectByKey(ctx context.Context, table string, columns []string, keyColumn string, keys []any) ([][]any, error) {
	var out [][]any
	for _, part := range storage.ChunkKeys(keys, maxParams) {
		q, args := buildSelectByKeySQL(table, columns, keyColumn, part)
		rows, err := t.tx.Query(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("select from %s: %w", table, err)
		}
		for rows.Next() {
			vals, err := rows.Values()
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan %s: %w", table, err)
			}
			out = append(out, vals)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("rows %s: %w", table, err)
		}
	}
	return out, nil
}

func (t *Tx) DeleteByKey(ctx context.Context, table string, keyColumn string, keys []any) (int64, error) {
	var total int64
	for _, part := range storage.ChunkKeys(keys, maxParams) {
		var b strings.Builder
		b.WriteString("DELETE FROM ")
		b.WriteString(pgTableIdent(table))
		b.WriteString(" WHERE ")
		b.WriteString(pgIdent(keyColumn))
		b.WriteString(" IN (")
		writePlaceholders(&b, 1, len(part))
		b.WriteString(")")

		cmd, err := t.tx.Exec(ctx, b.String(), part...)
		if err != nil {
			return total, fmt.Errorf("delete from %s: %w", table, err)
		}
		total += cmd.RowsAffected()
	}
	return total, nil
}

func (t *Tx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *Tx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// buildInsertSQL constructs a single INSERT statement and its args for Postgres.
//
// It is pure and deterministic, so ON CONFLICT behavior and placeholder
// numbering can be unit tested without a database.
//
// Constraints:
//   - rows must have the same length as columns for every row.
//   - columns must be non-empty.
func buildInsertSQL(table string, columns []string, rows [][]any, conflictColumns, updateColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		writePlaceholders(&b, p, len(columns))
		b.WriteString(")")
		p += len(columns)
		args = append(args, row[:len(columns)]...)
	}

	if len(conflictColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		b.WriteString(joinIdents(conflictColumns))
		b.WriteString(")")
		if len(updateColumns) == 0 {
			b.WriteString(" DO NOTHING")
		} else {
			b.WriteString(" DO UPDATE SET ")
			for i, c := range updateColumns {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(pgIdent(c))
				b.WriteString(" = EXCLUDED.")
				b.WriteString(pgIdent(c))
			}
		}
	}

	b.WriteString(";")
	return b.String(), args
}

func buildSelectByKeySQL(table string, columns []string, keyColumn string, keys []any) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(joinIdents(columns))
	b.WriteString(" FROM ")
	b.WriteString(pgTableIdent(table))
	b.WriteString(" WHERE ")
	b.WriteString(pgIdent(keyColumn))
	b.WriteString(" IN (")
	writePlaceholders(&b, 1, len(keys))
	b.WriteString(")")
	return b.String(), append([]any(nil), keys...)
}

func writePlaceholders(b *strings.Builder, first, n int) {
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "$%d", first+i)
	}
}

// buildCreateSQL generates DDL for one table.
//
// Outputs:
//   - schemaSQL: optional CREATE SCHEMA statement when t.Name is schema-qualified.
//   - baseSQL:   CREATE TABLE IF NOT EXISTS for the table.
func buildCreateSQL(t storage.TableSpec) (schemaSQL, baseSQL string, err error) {
	if err := t.Validate(); err != nil {
		return "", "", err
	}

	if schema, _ := splitQualifiedName(t.Name); schema != "" {
		schemaSQL = fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(schema))
	}

	cols := make([]string, 0, len(t.Columns)+len(t.Constraints)+1)
	if t.PrimaryKey != nil {
		// Postgres supports inline PRIMARY KEY constraints.
		cols = append(cols, fmt.Sprintf(`%s %s PRIMARY KEY`, pgIdent(t.PrimaryKey.Name), pgType(t.PrimaryKey.Type)))
	}
	for _, c := range t.Columns {
		cols = append(cols, buildColumnDef(c))
	}
	for _, con := range t.Constraints {
		cols = append(cols, "UNIQUE ("+joinIdents(con.Columns)+")")
	}

	baseSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, pgTableIdent(t.Name), strings.Join(cols, ", "))
	return schemaSQL, baseSQL, nil
}

// buildColumnDef renders a single column definition.
//
// Foreign key references are expressed inline in the column definition.
func buildColumnDef(c storage.ColumnSpec) string {
	var b strings.Builder
	b.WriteString(pgIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(pgType(c.Type))
	if !c.IsNullable() {
		b.WriteString(" NOT NULL")
	}
	if c.References != nil {
		b.WriteString(" REFERENCES ")
		b.WriteString(pgTableIdent(c.References.Table))
		b.WriteString("(")
		b.WriteString(pgIdent(c.References.Column))
		b.WriteString(")")
	}
	return b.String()
}

// pgType maps logical column types to Postgres types. Unknown types pass through.
//
// float maps to DOUBLE PRECISION so durations compare exactly against the
// float64 values parsed from JSON.
func pgType(logical string) string {
	switch strings.ToLower(strings.TrimSpace(logical)) {
	case storage.TypeText:
		return "TEXT"
	case storage.TypeInt:
		return "INTEGER"
	case storage.TypeBigInt:
		return "BIGINT"
	case storage.TypeFloat:
		return "DOUBLE PRECISION"
	case storage.TypeTimestamp:
		return "TIMESTAMP"
	case storage.TypeSerial:
		return "BIGSERIAL"
	default:
		return logical
	}
}

// splitQualifiedName splits a schema-qualified name into (schema, table).
//
// Examples:
//   - "public.songs" => ("public", "songs")
//   - "songs"        => ("", "songs")
//
// Only a single dot is handled; anything else is treated as unqualified.
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

func copyIdentifier(name string) pgx.Identifier {
	if schema, table := splitQualifiedName(name); schema != "" {
		return pgx.Identifier{schema, table}
	}
	return pgx.Identifier{name}
}

// pgIdent double-quotes an identifier. Quoting matters here because one of
// the dimension tables is called "time".
func pgIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func pgTableIdent(name string) string {
	if schema, table := splitQualifiedName(name); schema != "" {
		return pgIdent(schema) + "." + pgIdent(table)
	}
	return pgIdent(name)
}

func joinIdents(cols []string) string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		out = append(out, pgIdent(c))
	}
	return strings.Join(out, ", ")
}

var _ storage.Tx = (*Tx)(nil)
