package probe

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func column(t *testing.T, rep Report, name string) Column {
	t.Helper()
	for _, c := range rep.Columns {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("column %q not in report", name)
	return Column{}
}

func TestRun_LogProfile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "2018", "11", "a.json"),
		`{"page":"Home","ts":1541105830796,"userId":"39","sessionId":38,"length":null}
{"page":"NextSong","ts":1542079786000,"userId":"8","sessionId":42,"length":231.5,"song":"Fire"}
{"page":"NextSong","ts":1542079987000,"userId":"","sessionId":42,"length":100.25,"song":"Song"}
`)
	writeFile(t, filepath.Join(root, "2018", "11", "b.json"),
		`{"page":"Login","ts":1541207073796,"userId":"","sessionId":52}
`)

	rep, err := Run(context.Background(), Options{Kind: "LOG", Root: root})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Files != 2 || rep.Records != 4 {
		t.Fatalf("files=%d records=%d", rep.Files, rep.Records)
	}
	if rep.Pages["NextSong"] != 2 || rep.Pages["Home"] != 1 || rep.Pages["Login"] != 1 {
		t.Fatalf("pages=%v", rep.Pages)
	}
	// Only the NextSong record with an empty userId is incomplete; the
	// Login record is not checked.
	if rep.Incomplete != 1 {
		t.Fatalf("incomplete=%d, want 1", rep.Incomplete)
	}

	ts := column(t, rep, "ts")
	if ts.Present != 4 || ts.Distinct != 4 || ts.Types["integer"] != 4 {
		t.Fatalf("ts=%+v", ts)
	}
	length := column(t, rep, "length")
	if length.Present != 2 || length.Nulls != 2 || length.Types["number"] != 2 || length.Types["null"] != 1 {
		t.Fatalf("length=%+v", length)
	}
	user := column(t, rep, "userId")
	if user.Present != 2 || user.Distinct != 2 || user.Types["string"] != 4 {
		t.Fatalf("userId=%+v", user)
	}

	out := rep.Format()
	for _, want := range []string{"kind=log", "incomplete=1", "pages: Home=1 Login=1 NextSong=2", "userId"} {
		if !strings.Contains(out, want) {
			t.Fatalf("Format() missing %q:\n%s", want, out)
		}
	}
}

func TestRun_SongProfileAndLimits(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "A", "1.json"),
		`{"song_id":"S1","artist_id":"A1","title":"Fire","duration":231.5,"artist_latitude":null}`)
	writeFile(t, filepath.Join(root, "A", "2.json"),
		`{"song_id":"S2","artist_id":"","title":"Song","duration":100}`)
	writeFile(t, filepath.Join(root, "B", "3.json"),
		`{"song_id":"S3","artist_id":"A3"}`)

	rep, err := Run(context.Background(), Options{Kind: KindSong, Root: root, MaxFiles: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Files != 2 || rep.Records != 2 {
		t.Fatalf("files=%d records=%d, want the first two files", rep.Files, rep.Records)
	}
	if rep.Pages != nil {
		t.Fatalf("song probe should not count pages: %v", rep.Pages)
	}
	if rep.Incomplete != 1 {
		t.Fatalf("incomplete=%d, want 1", rep.Incomplete)
	}
	dur := column(t, rep, "duration")
	if dur.Types["number"] != 1 || dur.Types["integer"] != 1 {
		t.Fatalf("duration types=%v", dur.Types)
	}
	lat := column(t, rep, "artist_latitude")
	if lat.Present != 0 || lat.Nulls != 2 {
		t.Fatalf("artist_latitude=%+v", lat)
	}
}

func TestRun_MaxRecordsAndBadFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.json"), "{\"song_id\":\"S1\",\"artist_id\":\"A\"}\n{\"song_id\":\"S2\",\"artist_id\":\"A\"}\n")
	writeFile(t, filepath.Join(root, "b.json"), "{\"song_id\":\"S3\",\"artist_id\":\"A\"}\n{\"song_id\": ,}\n")

	rep, err := Run(context.Background(), Options{Kind: KindSong, Root: root, MaxRecords: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Records != 2 || len(rep.FileErrors) != 0 {
		t.Fatalf("records=%d errors=%v, want one record per file and no errors", rep.Records, rep.FileErrors)
	}

	rep, err = Run(context.Background(), Options{Kind: KindSong, Root: root})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Records != 3 || len(rep.FileErrors) != 1 || !strings.Contains(rep.FileErrors[0], "b.json: record 2") {
		t.Fatalf("records=%d errors=%v", rep.Records, rep.FileErrors)
	}
	if !strings.Contains(rep.Format(), "error: ") {
		t.Fatalf("Format() should list file errors")
	}
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()

	if _, err := Run(context.Background(), Options{Kind: "csv", Root: t.TempDir()}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	if _, err := Run(context.Background(), Options{Kind: KindLog, Root: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Fatalf("expected error for missing root")
	}

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.json"), `{"page":"NextSong"}`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, Options{Kind: KindLog, Root: root}); err == nil {
		t.Fatalf("expected context error")
	}
}
