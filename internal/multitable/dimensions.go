package multitable

import (
	"context"
	"fmt"
	"time"

	"sparkify/internal/model"
	"sparkify/internal/schema"
	"sparkify/internal/storage"
)

// DefaultBatchSize is the number of rows handed to the backend per call when
// the caller does not set one. Backends split further to respect their
// parameter limits.
const DefaultBatchSize = 1000

// UpsertSongs inserts songs whose song_id is not stored yet. Existing rows are
// never modified.
func UpsertSongs(ctx context.Context, tx storage.Tx, songs []model.Song, batchSize int) (int64, error) {
	rows := make([][]any, 0, len(songs))
	for _, s := range songs {
		rows = append(rows, []any{s.SongID, s.Title, s.ArtistID, s.Year, s.Duration})
	}
	return insertIgnoreBatches(ctx, tx, schema.TableSongs, schema.SongColumns, rows, schema.SongKey, batchSize)
}

// UpsertArtists inserts artists whose artist_id is not stored yet.
func UpsertArtists(ctx context.Context, tx storage.Tx, artists []model.Artist, batchSize int) (int64, error) {
	rows := make([][]any, 0, len(artists))
	for _, a := range artists {
		rows = append(rows, []any{a.ArtistID, a.Name, a.Location, floatOrNil(a.Latitude), floatOrNil(a.Longitude)})
	}
	return insertIgnoreBatches(ctx, tx, schema.TableArtists, schema.ArtistColumns, rows, schema.ArtistKey, batchSize)
}

// UpsertTimes inserts time rows whose start_time is not stored yet. A stored
// row keeps its derived parts even if the new ones differ.
func UpsertTimes(ctx context.Context, tx storage.Tx, times []model.TimeInstant, batchSize int) (int64, error) {
	rows := make([][]any, 0, len(times))
	for _, t := range times {
		rows = append(rows, []any{
			t.StartTime.UTC(),
			int64(t.Hour), int64(t.Day), int64(t.Week),
			int64(t.Month), int64(t.Year), int64(t.Weekday),
		})
	}
	return insertIgnoreBatches(ctx, tx, schema.TableTime, schema.TimeColumns, rows, schema.TimeKey, batchSize)
}

// UpsertUsers inserts users and, for user_ids already stored, overwrites only
// level. users must not repeat a user_id; see MergeUsers.
func UpsertUsers(ctx context.Context, tx storage.Tx, users []model.User, batchSize int) (int64, error) {
	rows := make([][]any, 0, len(users))
	for _, u := range users {
		rows = append(rows, []any{u.UserID, u.FirstName, u.LastName, u.Gender, u.Level})
	}
	var total int64
	for _, part := range batches(rows, batchSize) {
		n, err := tx.Upsert(ctx, schema.TableUsers, schema.UserColumns, part, schema.UserKey, schema.UserUpdateColumns)
		if err != nil {
			return total, fmt.Errorf("upsert users: %w", err)
		}
		total += n
	}
	return total, nil
}

// InsertSongplays inserts fact rows. A row whose (source_file, line) is
// already stored is skipped, which keeps reruns idempotent.
// Empty SongID/ArtistID are written as NULL.
func InsertSongplays(ctx context.Context, tx storage.Tx, plays []model.SongPlay, batchSize int) (int64, error) {
	rows := make([][]any, 0, len(plays))
	for _, p := range plays {
		rows = append(rows, []any{
			p.StartTime.UTC(), p.UserID, p.Level,
			stringOrNil(p.SongID), stringOrNil(p.ArtistID),
			p.SessionID, p.Location, p.UserAgent,
			p.SourceFile, int64(p.Line),
		})
	}
	return insertIgnoreBatches(ctx, tx, schema.TableSongplays, schema.SongplayColumns, rows, schema.SongplayKey, batchSize)
}

func insertIgnoreBatches(ctx context.Context, tx storage.Tx, table string, columns []string, rows [][]any, key []string, batchSize int) (int64, error) {
	var total int64
	for _, part := range batches(rows, batchSize) {
		n, err := tx.InsertIgnore(ctx, table, columns, part, key)
		if err != nil {
			return total, fmt.Errorf("upsert %s: %w", table, err)
		}
		total += n
	}
	return total, nil
}

func batches(rows [][]any, size int) [][][]any {
	if len(rows) == 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultBatchSize
	}
	out := make([][][]any, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}

func floatOrNil(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func stringOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// startTime converts epoch milliseconds to the UTC instant stored in time and songplays.
func startTime(tsMillis int64) time.Time {
	return time.UnixMilli(tsMillis).UTC()
}
