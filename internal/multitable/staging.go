package multitable

import (
	"context"
	"fmt"
	"sort"

	"sparkify/internal/model"
	"sparkify/internal/schema"
	"sparkify/internal/storage"
	"sparkify/internal/transformer"
	"sparkify/internal/transformer/builtin"
)

// stagingRows lays entries out in schema.StagingColumns order.
func stagingRows(batchID string, entries []model.LogEntry) [][]any {
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []any{
			batchID, int64(e.Line), e.TS, e.UserID,
			e.FirstName, e.LastName, e.Gender, e.Level,
			e.Song, e.Artist, floatOrNil(e.Length),
			e.SessionID, e.Location, e.UserAgent,
		})
	}
	return rows
}

// loadStaging bulk-loads entries under batchID and reads them back ordered by
// line. Everything downstream works from what the store returned.
func loadStaging(ctx context.Context, tx storage.Tx, batchID string, entries []model.LogEntry) ([]model.StagingRecord, error) {
	if _, err := tx.CopyRows(ctx, schema.TableStaging, schema.StagingColumns, stagingRows(batchID, entries)); err != nil {
		return nil, fmt.Errorf("stage: %w", err)
	}
	rows, err := tx.SelectByKey(ctx, schema.TableStaging, schema.StagingColumns, "batch_id", []any{batchID})
	if err != nil {
		return nil, fmt.Errorf("stage: read back: %w", err)
	}

	out := make([]model.StagingRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := decodeStagingRow(r)
		if err != nil {
			return nil, fmt.Errorf("stage: read back: %w", err)
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Line < out[j].Line })
	return out, nil
}

// clearStaging removes the batch's staging rows.
func clearStaging(ctx context.Context, tx storage.Tx, batchID string) error {
	if _, err := tx.DeleteByKey(ctx, schema.TableStaging, "batch_id", []any{batchID}); err != nil {
		return fmt.Errorf("stage: clear: %w", err)
	}
	return nil
}

func decodeStagingRow(r []any) (model.StagingRecord, error) {
	if len(r) != len(schema.StagingColumns) {
		return model.StagingRecord{}, fmt.Errorf("staging row has %d values, want %d", len(r), len(schema.StagingColumns))
	}
	var (
		rec  model.StagingRecord
		errs []error
	)
	i64 := func(v any) int64 {
		n, err := transformer.ToInt64(v)
		if err != nil {
			errs = append(errs, err)
		}
		return n
	}
	text := func(v any) string {
		if v == nil {
			return ""
		}
		s, err := transformer.ToString(v)
		if err != nil {
			errs = append(errs, err)
		}
		return s
	}

	rec.BatchID = text(r[0])
	rec.Line = int(i64(r[1]))
	rec.TS = i64(r[2])
	rec.UserID = i64(r[3])
	rec.FirstName = text(r[4])
	rec.LastName = text(r[5])
	rec.Gender = text(r[6])
	rec.Level = text(r[7])
	rec.Song = text(r[8])
	rec.Artist = text(r[9])
	if r[10] != nil {
		x, err := transformer.ToFloat64(r[10])
		if err != nil {
			errs = append(errs, err)
		}
		rec.Length = &x
	}
	if r[11] != nil {
		rec.SessionID = i64(r[11])
	}
	rec.Location = text(r[12])
	rec.UserAgent = text(r[13])

	if len(errs) > 0 {
		return model.StagingRecord{}, errs[0]
	}
	return rec, nil
}

// MergeUsers returns one user per user_id, sorted by user_id. Names, gender
// and level come from the entry with the earliest timestamp; on equal
// timestamps the first entry in input order wins.
//
// Taking the earliest level rather than the latest is intentional: it is the
// behavior existing reports were built against.
func MergeUsers(entries []model.LogEntry) []model.User {
	type seen struct {
		user model.User
		ts   int64
	}
	byID := make(map[int64]*seen, len(entries))
	for _, e := range entries {
		cur, ok := byID[e.UserID]
		if ok && e.TS >= cur.ts {
			continue
		}
		u := model.User{UserID: e.UserID, FirstName: e.FirstName, LastName: e.LastName, Gender: e.Gender, Level: e.Level}
		if ok {
			cur.user, cur.ts = u, e.TS
			continue
		}
		byID[e.UserID] = &seen{user: u, ts: e.TS}
	}

	out := make([]model.User, 0, len(byID))
	for _, s := range byID {
		out = append(out, s.user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// DistinctTimes derives one TimeInstant per distinct timestamp, in ascending
// time order.
func DistinctTimes(entries []model.LogEntry) []model.TimeInstant {
	seen := make(map[int64]struct{}, len(entries))
	var ts []int64
	for _, e := range entries {
		if _, ok := seen[e.TS]; ok {
			continue
		}
		seen[e.TS] = struct{}{}
		ts = append(ts, e.TS)
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })

	out := make([]model.TimeInstant, 0, len(ts))
	for _, t := range ts {
		out = append(out, builtin.DeriveTime(t))
	}
	return out
}

// BuildSongplays pairs each entry of sourceFile with its match. matches must
// align with entries.
func BuildSongplays(sourceFile string, entries []model.LogEntry, matches []Match) []model.SongPlay {
	out := make([]model.SongPlay, 0, len(entries))
	for i, e := range entries {
		var m Match
		if i < len(matches) {
			m = matches[i]
		}
		out = append(out, model.SongPlay{
			StartTime: startTime(e.TS),
			UserID:    e.UserID,
			Level:     e.Level,
			SongID:    m.SongID,
			ArtistID:  m.ArtistID,
			SessionID: e.SessionID,
			Location:  e.Location,
			UserAgent: e.UserAgent,

			SourceFile: sourceFile,
			Line:       e.Line,
		})
	}
	return out
}

func logEntries(recs []model.StagingRecord) []model.LogEntry {
	out := make([]model.LogEntry, len(recs))
	for i, r := range recs {
		out[i] = r.LogEntry
	}
	return out
}
