package multitable

import (
	"context"
	"fmt"

	"sparkify/internal/model"
	"sparkify/internal/schema"
	"sparkify/internal/storage"
	"sparkify/internal/transformer"
)

// Match is the resolved song and artist for one log entry. Both fields are
// empty when nothing matched.
type Match struct {
	SongID   string
	ArtistID string
}

// Found reports whether the entry matched a stored song.
func (m Match) Found() bool { return m.SongID != "" }

// matchKey is the exact (title, artist name, duration) triple. Duration is
// compared with ==, no tolerance.
type matchKey struct {
	title    string
	artist   string
	duration float64
}

// FactMatcher resolves log entries to stored songs by exact title, artist name
// and duration. It reads songs and artists through the transaction, so rows
// written earlier in the same transaction are visible.
type FactMatcher struct {
	// BatchSize bounds the keys per lookup query. Zero uses DefaultBatchSize.
	BatchSize int
}

// Match returns one Match per entry, in entry order. Entries with an empty
// song or artist, or no length, never match. When several stored songs share
// a triple the lowest song_id wins.
func (m FactMatcher) Match(ctx context.Context, tx storage.Tx, entries []model.LogEntry) ([]Match, error) {
	out := make([]Match, len(entries))

	titles := distinctTitles(entries)
	if len(titles) == 0 {
		return out, nil
	}

	candidates, err := m.loadCandidates(ctx, tx, titles)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return out, nil
	}

	for i, e := range entries {
		if !matchable(e) {
			continue
		}
		if c, ok := candidates[matchKey{title: e.Song, artist: e.Artist, duration: *e.Length}]; ok {
			out[i] = c
		}
	}
	return out, nil
}

// loadCandidates reads songs by title and their artists by id, then indexes
// them by triple. This is the songs JOIN artists lookup done as two keyed reads.
func (m FactMatcher) loadCandidates(ctx context.Context, tx storage.Tx, titles []any) (map[matchKey]Match, error) {
	songCols := []string{"song_id", "title", "artist_id", "duration"}

	type songRow struct {
		songID, title, artistID string
		duration                float64
	}
	var songs []songRow
	artistSet := map[string]struct{}{}
	var artistIDs []any

	for _, part := range storage.ChunkKeys(titles, m.batchSize()) {
		rows, err := tx.SelectByKey(ctx, schema.TableSongs, songCols, "title", part)
		if err != nil {
			return nil, fmt.Errorf("match: select songs: %w", err)
		}
		for _, r := range rows {
			if r[3] == nil {
				continue
			}
			songID, err1 := transformer.ToString(r[0])
			title, err2 := transformer.ToString(r[1])
			artistID, err3 := transformer.ToString(r[2])
			dur, err4 := transformer.ToFloat64(r[3])
			if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
				continue
			}
			songs = append(songs, songRow{songID: songID, title: title, artistID: artistID, duration: dur})
			if _, seen := artistSet[artistID]; !seen {
				artistSet[artistID] = struct{}{}
				artistIDs = append(artistIDs, artistID)
			}
		}
	}
	if len(songs) == 0 {
		return nil, nil
	}

	names := make(map[string]string, len(artistIDs))
	for _, part := range storage.ChunkKeys(artistIDs, m.batchSize()) {
		rows, err := tx.SelectByKey(ctx, schema.TableArtists, []string{"artist_id", "name"}, "artist_id", part)
		if err != nil {
			return nil, fmt.Errorf("match: select artists: %w", err)
		}
		for _, r := range rows {
			id, err1 := transformer.ToString(r[0])
			name, err2 := transformer.ToString(r[1])
			if err1 != nil || err2 != nil {
				continue
			}
			names[id] = name
		}
	}

	out := make(map[matchKey]Match, len(songs))
	for _, s := range songs {
		name, ok := names[s.artistID]
		if !ok {
			continue
		}
		k := matchKey{title: s.title, artist: name, duration: s.duration}
		if cur, ok := out[k]; ok && cur.SongID <= s.songID {
			continue
		}
		out[k] = Match{SongID: s.songID, ArtistID: s.artistID}
	}
	return out, nil
}

func (m FactMatcher) batchSize() int {
	if m.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return m.BatchSize
}

func matchable(e model.LogEntry) bool {
	return e.Song != "" && e.Artist != "" && e.Length != nil
}

func distinctTitles(entries []model.LogEntry) []any {
	seen := map[string]struct{}{}
	var out []any
	for _, e := range entries {
		if !matchable(e) {
			continue
		}
		if _, ok := seen[e.Song]; ok {
			continue
		}
		seen[e.Song] = struct{}{}
		out = append(out, e.Song)
	}
	return out
}
