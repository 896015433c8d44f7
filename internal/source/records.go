package source

import (
	"context"

	"sparkify/internal/model"
	parser "sparkify/internal/parser/json"
	"sparkify/internal/transformer"
)

// Song file layout. Column order is the row layout.
var songColumns = []string{
	"song_id", "title", "artist_id", "year", "duration",
	"artist_name", "artist_location", "artist_latitude", "artist_longitude",
}

var songPipeline = pipeline{
	columns: songColumns,
	coerce: transformer.CoerceSpec{
		Types: map[string]string{
			"song_id":          transformer.TypeText,
			"title":            transformer.TypeText,
			"artist_id":        transformer.TypeText,
			"year":             transformer.TypeBigInt,
			"duration":         transformer.TypeFloat,
			"artist_name":      transformer.TypeText,
			"artist_location":  transformer.TypeText,
			"artist_latitude":  transformer.TypeFloat,
			"artist_longitude": transformer.TypeFloat,
		},
		Required: []string{"song_id", "artist_id"},
	},
}

// ReadSongFile returns the first record of a song file. Later records are
// decoded and validated but not returned.
func ReadSongFile(ctx context.Context, path string) (model.SongRecord, error) {
	var (
		rec   model.SongRecord
		found bool
	)
	err := songPipeline.run(ctx, path, func(r *transformer.Row) error {
		if found {
			return nil
		}
		found = true
		v := r.V
		rec = model.SongRecord{
			SongID:          str(v[0]),
			Title:           str(v[1]),
			ArtistID:        str(v[2]),
			Year:            i64(v[3]),
			Duration:        f64(v[4]),
			ArtistName:      str(v[5]),
			ArtistLocation:  str(v[6]),
			ArtistLatitude:  f64ptr(v[7]),
			ArtistLongitude: f64ptr(v[8]),
		}
		return nil
	})
	if err != nil {
		return model.SongRecord{}, err
	}
	if !found {
		return model.SongRecord{}, ErrNoRecords
	}
	return rec, nil
}

// PageNextSong marks a song-play event in the activity log.
const PageNextSong = "NextSong"

// Log file layout. The raw keys are camelCase; logHeaderMap maps them.
var logColumns = []string{
	"page", "ts", "user_id", "first_name", "last_name", "gender", "level",
	"song", "artist", "length", "session_id", "location", "user_agent",
}

var logHeaderMap = map[string]string{
	"userId":    "user_id",
	"firstName": "first_name",
	"lastName":  "last_name",
	"sessionId": "session_id",
	"userAgent": "user_agent",
}

var logPipeline = pipeline{
	columns: logColumns,
	opts:    parser.Options{HeaderMap: logHeaderMap},
	keep:    transformer.ColumnEquals(logColumns, "page", PageNextSong),
	coerce: transformer.CoerceSpec{
		Types: map[string]string{
			"ts":         transformer.TypeBigInt,
			"user_id":    transformer.TypeBigInt,
			"first_name": transformer.TypeText,
			"last_name":  transformer.TypeText,
			"gender":     transformer.TypeText,
			"level":      transformer.TypeText,
			"song":       transformer.TypeText,
			"artist":     transformer.TypeText,
			"length":     transformer.TypeFloat,
			"session_id": transformer.TypeBigInt,
			"location":   transformer.TypeText,
			"user_agent": transformer.TypeText,
		},
		Required: []string{"ts", "user_id", "session_id"},
	},
}

// ReadLogFile returns the NextSong entries of an activity-log file in file
// order. Entries for other pages are dropped before validation. Line is the
// 1-based position of the record in the file, counting every record.
func ReadLogFile(ctx context.Context, path string) ([]model.LogEntry, error) {
	var entries []model.LogEntry
	err := logPipeline.run(ctx, path, func(r *transformer.Row) error {
		v := r.V
		entries = append(entries, model.LogEntry{
			Line:      r.Line,
			TS:        i64(v[1]),
			UserID:    i64(v[2]),
			FirstName: str(v[3]),
			LastName:  str(v[4]),
			Gender:    str(v[5]),
			Level:     str(v[6]),
			Song:      str(v[7]),
			Artist:    str(v[8]),
			Length:    f64ptr(v[9]),
			SessionID: i64(v[10]),
			Location:  str(v[11]),
			UserAgent: str(v[12]),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
