package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssqldb "github.com/microsoft/go-mssqldb"

	"sparkify/internal/storage"
)

// SQL Server has a hard limit of 2100 parameters. We stay comfortably below that.
const maxParams = 2000

// MultiRepo implements storage.MultiRepository for Microsoft SQL Server.
//
// SQL Server has no ON CONFLICT, so:
//   - InsertIgnore is INSERT ... SELECT FROM (VALUES ...) WHERE NOT EXISTS.
//   - Upsert is a MERGE keyed on the conflict columns.
//
// Neither statement collapses duplicates inside the VALUES source, so rows are
// deduplicated in Go first (first occurrence wins, matching Postgres).
//
// CopyRows uses the TDS bulk-copy protocol (mssql.CopyIn).
type MultiRepo struct {
	db dbConn
}

// NewMulti constructs a MultiRepo using database/sql and the "sqlserver" driver.
//
// This method validates connectivity via PingContext.
func NewMulti(ctx context.Context, cfg storage.MultiConfig) (storage.MultiRepository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	raw.SetMaxOpenConns(8)
	raw.SetMaxIdleConns(8)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &MultiRepo{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this repository.
func (r *MultiRepo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTables creates each table behind an OBJECT_ID guard.
//
// This method is idempotent and safe to run on every ETL invocation.
func (r *MultiRepo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		q, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// DropTables drops tables in reverse order so referencing tables go first.
func (r *MultiRepo) DropTables(ctx context.Context, tables []storage.TableSpec) error {
	for i := len(tables) - 1; i >= 0; i-- {
		name := tables[i].Name
		if _, err := r.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+mssqlTableIdent(name)); err != nil {
			return fmt.Errorf("mssql: drop table %s: %w", name, err)
		}
	}
	return nil
}

func (r *MultiRepo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT_BIG(*) FROM "+mssqlTableIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("mssql: count %s: %w", table, err)
	}
	return n, nil
}

func (r *MultiRepo) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mssql: begin tx: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Tx is a SQL Server transaction implementing storage.Tx.
type Tx struct {
	tx txConn
}

// InsertIgnore inserts rows whose conflict key is not present yet.
func (t *Tx) InsertIgnore(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	if len(conflictColumns) == 0 {
		return 0, fmt.Errorf("mssql: insert into %s: conflict columns are required", table)
	}
	uniq, err := storage.DedupeRows(columns, rows, conflictColumns)
	if err != nil {
		return 0, fmt.Errorf("mssql: insert into %s: %w", table, err)
	}

	var total int64
	for _, part := range storage.ChunkRows(uniq, len(columns), maxParams) {
		q, args := buildInsertNotExistsSQL(table, columns, part, conflictColumns)
		n, err := t.exec(ctx, q, args)
		if err != nil {
			return total, fmt.Errorf("mssql: insert into %s: %w", table, err)
		}
		total += n
	}
	return total, nil
}

// Upsert merges rows on conflictColumns, updating only updateColumns for
// existing keys.
func (t *Tx) Upsert(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns, updateColumns []string) (int64, error) {
	if len(conflictColumns) == 0 || len(updateColumns) == 0 {
		return 0, fmt.Errorf("mssql: upsert into %s: conflict and update columns are required", table)
	}
	// MERGE fails when a target row matches more than one source row.
	uniq, err := storage.DedupeRows(columns, rows, conflictColumns)
	if err != nil {
		return 0, fmt.Errorf("mssql: upsert into %s: %w", table, err)
	}

	var total int64
	for _, part := range storage.ChunkRows(uniq, len(columns), maxParams) {
		q, args := buildMergeSQL(table, columns, part, conflictColumns, updateColumns)
		n, err := t.exec(ctx, q, args)
		if err != nil {
			return total, fmt.Errorf("mssql: upsert into %s: %w", table, err)
		}
		total += n
	}
	return total, nil
}

// CopyRows streams rows through a bulk-copy statement.
func (t *Tx) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	stmt, err := t.tx.PrepareContext(ctx, mssqldb.CopyIn(mssqlTableIdent(table), mssqldb.BulkOptions{}, columns...))
	if err != nil {
		return 0, fmt.Errorf("mssql: prepare bulk copy %s: %w", table, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row[:len(columns)]...); err != nil {
			return 0, fmt.Errorf("mssql: bulk copy %s: %w", table, err)
		}
	}
	// An Exec without args flushes the batch.
	res, err := stmt.ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("mssql: flush bulk copy %s: %w", table, err)
	}
	return res.RowsAffected()
}

func (t *Tx) SelectByKey(ctx context.Context, table string, columns []string, keyColumn string, keys []any) ([][]any, error) {
	var out [][]any
	for _, part := range storage.ChunkKeys(keys, maxParams) {
		q, args := buildSelectByKeysSQL(table, columns, keyColumn, part)
		rows, err := t.tx.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("mssql: select from %s: %w", table, err)
		}
		for rows.Next() {
			vals := make([]any, len(columns))
			ptrs := make([]any, len(columns))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("mssql: scan %s: %w", table, err)
			}
			out = append(out, vals)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("mssql: rows %s: %w", table, err)
		}
		_ = rows.Close()
	}
	return out, nil
}

func (t *Tx) DeleteByKey(ctx context.Context, table string, keyColumn string, keys []any) (int64, error) {
	var total int64
	for _, part := range storage.ChunkKeys(keys, maxParams) {
		var b strings.Builder
		b.WriteString("DELETE FROM ")
		b.WriteString(mssqlTableIdent(table))
		b.WriteString(" WHERE ")
		b.WriteString(mssqlIdent(keyColumn))
		b.WriteString(" IN (")
		writeParams(&b, 1, len(part))
		b.WriteString(")")

		n, err := t.exec(ctx, b.String(), part)
		if err != nil {
			return total, fmt.Errorf("mssql: delete from %s: %w", table, err)
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
	return res.RowsAffected()
}

// buildCreateSQL returns an idempotent CREATE TABLE for t.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("mssql: %w", err)
	}

	var parts []string
	if t.PrimaryKey != nil {
		parts = append(parts, mssqlPrimaryKeyDef(t, *t.PrimaryKey))
	}
	for _, c := range t.Columns {
		parts = append(parts, mssqlColumnDef(t, c))
	}
	for _, con := range t.Constraints {
		cols := make([]string, 0, len(con.Columns))
		for _, c := range con.Columns {
			cols = append(cols, mssqlIdent(c))
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", strings.Join(cols, ", ")))
	}

	return wrapCreateIfMissing(t.Name, strings.Join(parts, ", ")), nil
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
//
// This keeps EnsureTables idempotent without requiring IF NOT EXISTS syntax.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(tableName, "'", "''"),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

// mssqlPrimaryKeyDef returns the primary key column definition.
//
// "serial" becomes INT IDENTITY(1,1); other types map through mssqlType.
func mssqlPrimaryKeyDef(t storage.TableSpec, pk storage.PrimaryKeySpec) string {
	if strings.EqualFold(pk.Type, storage.TypeSerial) {
		return fmt.Sprintf("%s INT IDENTITY(1,1) PRIMARY KEY", mssqlIdent(pk.Name))
	}
	return fmt.Sprintf("%s %s PRIMARY KEY", mssqlIdent(pk.Name), mssqlType(pk.Type, t.IsKeyColumn(pk.Name)))
}

// mssqlColumnDef builds a SQL Server column definition from storage.ColumnSpec.
func mssqlColumnDef(t storage.TableSpec, c storage.ColumnSpec) string {
	var b strings.Builder
	b.WriteString(mssqlIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(mssqlType(c.Type, t.IsKeyColumn(c.Name)))
	if !c.IsNullable() {
		b.WriteString(" NOT NULL")
	}
	if c.References != nil {
		b.WriteString(" REFERENCES ")
		b.WriteString(mssqlTableIdent(c.References.Table))
		b.WriteString("(")
		b.WriteString(mssqlIdent(c.References.Column))
		b.WriteString(")")
	}
	return b.String()
}

// mssqlType maps logical types to SQL Server types.
//
// Index keys are limited to 900 bytes, so text columns used in keys get
// NVARCHAR(450); other text is NVARCHAR(MAX).
func mssqlType(logical string, key bool) string {
	switch strings.ToLower(strings.TrimSpace(logical)) {
	case storage.TypeText:
		if key {
			return "NVARCHAR(450)"
		}
		return "NVARCHAR(MAX)"
	case storage.TypeInt:
		return "INT"
	case storage.TypeBigInt:
		return "BIGINT"
	case storage.TypeFloat:
		return "FLOAT"
	case storage.TypeTimestamp:
		return "DATETIME2(3)"
	case storage.TypeSerial:
		return "INT"
	default:
		return logical
	}
}

// buildInsertNotExistsSQL constructs a single INSERT...SELECT...WHERE NOT EXISTS for a chunk of rows.
//
// It materializes incoming rows as a derived table V via VALUES, then inserts only those
// rows that do not match existing rows per conflictColumns.
func buildInsertNotExistsSQL(table string, columns []string, rows [][]any, conflictColumns []string) (string, []any) {
	var b strings.Builder

	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents(columns, ""))
	b.WriteString(") SELECT ")
	b.WriteString(joinIdents(columns, "v."))
	b.WriteString(" FROM ")
	args := writeValuesSource(&b, columns, rows)
	b.WriteString(" WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" t WHERE ")
	writeKeyMatch(&b, conflictColumns)
	b.WriteString(")")

	return b.String(), args
}

// buildMergeSQL constructs a MERGE that inserts new keys and updates
// updateColumns for existing ones.
func buildMergeSQL(table string, columns []string, rows [][]any, conflictColumns, updateColumns []string) (string, []any) {
	var b strings.Builder

	b.WriteString("MERGE INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" WITH (HOLDLOCK) AS t USING ")
	args := writeValuesSource(&b, columns, rows)
	b.WriteString(" ON ")
	writeKeyMatch(&b, conflictColumns)
	b.WriteString(" WHEN MATCHED THEN UPDATE SET ")
	for i, c := range updateColumns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("t.")
		b.WriteString(mssqlIdent(c))
		b.WriteString(" = v.")
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(" WHEN NOT MATCHED THEN INSERT (")
	b.WriteString(joinIdents(columns, ""))
	b.WriteString(") VALUES (")
	b.WriteString(joinIdents(columns, "v."))
	b.WriteString(");")

	return b.String(), args
}

// writeValuesSource writes "(VALUES (@p1, ...), ...) AS v([c1], ...)" and returns the args.
func writeValuesSource(b *strings.Builder, columns []string, rows [][]any) []any {
	b.WriteString("(VALUES ")
	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		writeParams(b, p, len(columns))
		b.WriteString(")")
		p += len(columns)
		args = append(args, row[:len(columns)]...)
	}
	b.WriteString(") AS v(")
	b.WriteString(joinIdents(columns, ""))
	b.WriteString(")")
	return args
}

func writeKeyMatch(b *strings.Builder, keyColumns []string) {
	for i, c := range keyColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("t.")
		b.WriteString(mssqlIdent(c))
		b.WriteString(" = v.")
		b.WriteString(mssqlIdent(c))
	}
}

// buildSelectByKeysSQL returns the SELECT ... IN (...) query and args.
func buildSelectByKeysSQL(table string, columns []string, keyColumn string, keys []any) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(joinIdents(columns, ""))
	b.WriteString(" FROM ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" WHERE ")
	b.WriteString(mssqlIdent(keyColumn))
	b.WriteString(" IN (")
	writeParams(&b, 1, len(keys))
	b.WriteString(")")
	return b.String(), append([]any(nil), keys...)
}

func writeParams(b *strings.Builder, first, n int) {
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "@p%d", first+i)
	}
}

func joinIdents(cols []string, prefix string) string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		out = append(out, prefix+mssqlIdent(c))
	}
	return strings.Join(out, ", ")
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.songs" -> [dbo].[songs]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx used for testability.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (rowsIter, error)
	PrepareContext(ctx context.Context, query string) (stmtConn, error)
	Commit() error
	Rollback() error
}

// rowScanner is a narrow adapter over *sql.Row.Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

// rowsIter is the subset of *sql.Rows used by SelectByKey.
type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// stmtConn is the subset of *sql.Stmt used by bulk copy.
type stmtConn interface {
	ExecContext(ctx context.Context, args ...any) (sql.Result, error)
	Close() error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	return s.db.QueryRowContext(ctx, query, args...)
}

// BeginTx begins a transaction and returns a txConn wrapper.
func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

// sqlTx wraps *sql.Tx to implement txConn.
type sqlTx struct {
	tx *sql.Tx
}

func (s *sqlTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.tx.ExecContext(ctx, query, args...)
}

func (s *sqlTx) QueryContext(ctx context.Context, query string, args ...any) (rowsIter, error) {
	return s.tx.QueryContext(ctx, query, args...)
}

func (s *sqlTx) PrepareContext(ctx context.Context, query string) (stmtConn, error) {
	return s.tx.PrepareContext(ctx, query)
}

func (s *sqlTx) Commit() error   { return s.tx.Commit() }
func (s *sqlTx) Rollback() error { return s.tx.Rollback() }

var (
	_ dbConn     = (*sqlDB)(nil)
	_ txConn     = (*sqlTx)(nil)
	_ storage.Tx = (*Tx)(nil)
)
