package multitable

import (
	"context"
	"testing"

	"sparkify/internal/model"
	"sparkify/internal/schema"
	"sparkify/internal/storage"
)

func TestMergeUsers_EarliestTimestampWins(t *testing.T) {
	t.Parallel()

	got := MergeUsers([]model.LogEntry{
		{UserID: 8, TS: 200, Level: "paid", FirstName: "Late"},
		{UserID: 8, TS: 100, Level: "free", FirstName: "Early"},
		{UserID: 3, TS: 50, Level: "paid"},
		{UserID: 3, TS: 50, Level: "free"},
	})
	if len(got) != 2 {
		t.Fatalf("users=%d, want 2", len(got))
	}
	if got[0].UserID != 3 || got[0].Level != "paid" {
		t.Fatalf("user 3=%+v, want first-in-file on equal ts", got[0])
	}
	if got[1].UserID != 8 || got[1].Level != "free" || got[1].FirstName != "Early" {
		t.Fatalf("user 8=%+v, want the earliest entry", got[1])
	}
}

func TestDistinctTimes_SortedAndDeduped(t *testing.T) {
	t.Parallel()

	got := DistinctTimes([]model.LogEntry{{TS: 1542079987000}, {TS: 1542079786000}, {TS: 1542079987000}})
	if len(got) != 2 {
		t.Fatalf("times=%d, want 2", len(got))
	}
	if got[0].StartTime.UnixMilli() != 1542079786000 || got[0].Hour != 3 || got[0].Weekday != 1 {
		t.Fatalf("times[0]=%+v", got[0])
	}
}

func TestBuildSongplays_AlignsMatches(t *testing.T) {
	t.Parallel()

	entries := []model.LogEntry{
		{Line: 1, TS: 1542079786000, UserID: 8, Level: "free", SessionID: 42, Location: "L", UserAgent: "ua"},
		{Line: 4, TS: 1542079787000, UserID: 9, SessionID: 43},
	}
	got := BuildSongplays("events.json", entries, []Match{{SongID: "S1", ArtistID: "A1"}})
	if len(got) != 2 {
		t.Fatalf("plays=%d", len(got))
	}
	if got[0].SongID != "S1" || got[0].ArtistID != "A1" || got[0].SessionID != 42 || got[0].UserAgent != "ua" {
		t.Fatalf("play[0]=%+v", got[0])
	}
	if got[1].SongID != "" || got[1].ArtistID != "" {
		t.Fatalf("play[1]=%+v, want no match", got[1])
	}
	if got[0].SourceFile != "events.json" || got[0].Line != 1 || got[1].Line != 4 {
		t.Fatalf("source=%s:%d,%d", got[0].SourceFile, got[0].Line, got[1].Line)
	}
	if got[0].StartTime.Location().String() != "UTC" {
		t.Fatalf("start time must be UTC: %v", got[0].StartTime)
	}
}

func TestStaging_RoundTripOrderedByLine(t *testing.T) {
	t.Parallel()

	repo := openSQLite(t)
	ctx := context.Background()
	entries := []model.LogEntry{
		{Line: 7, TS: 3, UserID: 8, Song: "Fire", Artist: "Adept", Length: f64(231.5), SessionID: 1, UserAgent: `"Mozilla/5.0"`},
		{Line: 2, TS: 1, UserID: 9, FirstName: "", Length: nil, SessionID: 2},
	}

	inTestTx(t, repo, func(tx storage.Tx) {
		got, err := loadStaging(ctx, tx, "batch-1", entries)
		if err != nil {
			t.Fatalf("loadStaging: %v", err)
		}
		if len(got) != 2 || got[0].Line != 2 || got[1].Line != 7 {
			t.Fatalf("staged=%+v, want ordered by line", got)
		}
		if got[1].BatchID != "batch-1" || got[1].Song != "Fire" || got[1].Length == nil || *got[1].Length != 231.5 {
			t.Fatalf("staged[1]=%+v", got[1])
		}
		if got[1].UserAgent != `"Mozilla/5.0"` || got[0].Length != nil {
			t.Fatalf("staged values changed: %+v", got)
		}
		if err := clearStaging(ctx, tx, "batch-1"); err != nil {
			t.Fatalf("clearStaging: %v", err)
		}
	})
	if n := countRows(t, repo, schema.TableStaging); n != 0 {
		t.Fatalf("staging rows=%d, want 0 after clear", n)
	}
}

func TestDecodeStagingRow_WrongWidth(t *testing.T) {
	t.Parallel()

	if _, err := decodeStagingRow([]any{"b"}); err == nil {
		t.Fatalf("expected width error")
	}
}
