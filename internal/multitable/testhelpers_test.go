package multitable

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"sparkify/internal/schema"
	"sparkify/internal/storage"
	_ "sparkify/internal/storage/sqlite"
)

type fakeLogger struct {
	msgs []string
}

func (l *fakeLogger) Printf(format string, v ...any) {
	l.msgs = append(l.msgs, fmt.Sprintf(format, v...))
}

func openSQLite(t *testing.T) storage.MultiRepository {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "sparkify.db")
	repo, err := storage.NewMulti(context.Background(), storage.MultiConfig{Kind: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("NewMulti: %v", err)
	}
	t.Cleanup(repo.Close)
	if err := repo.EnsureTables(context.Background(), schema.Tables()); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}
	return repo
}

// inTestTx runs fn in a transaction and commits it.
func inTestTx(t *testing.T, repo storage.MultiRepository, fn func(tx storage.Tx)) {
	t.Helper()
	ctx := context.Background()
	tx, err := repo.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	fn(tx)
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

// selectRows reads rows in a throwaway transaction.
func selectRows(t *testing.T, repo storage.MultiRepository, table string, cols []string, key string, keys ...any) [][]any {
	t.Helper()
	ctx := context.Background()
	tx, err := repo.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	rows, err := tx.SelectByKey(ctx, table, cols, key, keys)
	if err != nil {
		t.Fatalf("SelectByKey(%s): %v", table, err)
	}
	return rows
}

func countRows(t *testing.T, repo storage.MultiRepository, table string) int64 {
	t.Helper()
	n, err := repo.CountRows(context.Background(), table)
	if err != nil {
		t.Fatalf("CountRows(%s): %v", table, err)
	}
	return n
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func f64(v float64) *float64 { return &v }
