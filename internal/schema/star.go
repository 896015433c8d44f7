// Package schema declares the Sparkify star schema as storage.TableSpec values.
//
// Table order matters: EnsureTables creates in slice order and DropTables drops
// in reverse, so referenced tables come before the tables that reference them.
package schema

import "sparkify/internal/storage"

const (
	TableStaging   = "staging_events"
	TableUsers     = "users"
	TableSongs     = "songs"
	TableArtists   = "artists"
	TableTime      = "time"
	TableSongplays = "songplays"
)

// Column lists in insert order. They must match the TableSpecs below.
var (
	SongColumns   = []string{"song_id", "title", "artist_id", "year", "duration"}
	ArtistColumns = []string{"artist_id", "name", "location", "latitude", "longitude"}
	TimeColumns   = []string{"start_time", "hour", "day", "week", "month", "year", "weekday"}
	UserColumns   = []string{"user_id", "first_name", "last_name", "gender", "level"}

	SongplayColumns = []string{
		"start_time", "user_id", "level", "song_id", "artist_id",
		"session_id", "location", "user_agent", "source_file", "line",
	}

	StagingColumns = []string{
		"batch_id", "line", "ts", "user_id", "first_name", "last_name", "gender", "level",
		"song", "artist", "length", "session_id", "location", "user_agent",
	}
)

// Natural keys. A songplay is keyed by the log file and line it came from, so
// a rerun skips it while distinct plays sharing a timestamp are all kept.
var (
	SongKey     = []string{"song_id"}
	ArtistKey   = []string{"artist_id"}
	TimeKey     = []string{"start_time"}
	UserKey     = []string{"user_id"}
	SongplayKey = []string{"source_file", "line"}

	// UserUpdateColumns are the only columns overwritten when a user already exists.
	UserUpdateColumns = []string{"level"}
)

func notNull() *bool { return storage.BoolPtr(false) }

// Staging holds one file's NextSong entries, tagged with a per-file batch id.
func Staging() storage.TableSpec {
	return storage.TableSpec{
		Name: TableStaging,
		Columns: []storage.ColumnSpec{
			{Name: "batch_id", Type: storage.TypeText, Nullable: notNull()},
			{Name: "line", Type: storage.TypeBigInt, Nullable: notNull()},
			{Name: "ts", Type: storage.TypeBigInt, Nullable: notNull()},
			{Name: "user_id", Type: storage.TypeBigInt, Nullable: notNull()},
			{Name: "first_name", Type: storage.TypeText},
			{Name: "last_name", Type: storage.TypeText},
			{Name: "gender", Type: storage.TypeText},
			{Name: "level", Type: storage.TypeText},
			{Name: "song", Type: storage.TypeText},
			{Name: "artist", Type: storage.TypeText},
			{Name: "length", Type: storage.TypeFloat},
			{Name: "session_id", Type: storage.TypeBigInt},
			{Name: "location", Type: storage.TypeText},
			{Name: "user_agent", Type: storage.TypeText},
		},
		Constraints: []storage.ConstraintSpec{
			{Kind: "unique", Columns: []string{"batch_id", "line"}},
		},
	}
}

func Users() storage.TableSpec {
	return storage.TableSpec{
		Name:       TableUsers,
		PrimaryKey: &storage.PrimaryKeySpec{Name: "user_id", Type: storage.TypeBigInt},
		Columns: []storage.ColumnSpec{
			{Name: "first_name", Type: storage.TypeText},
			{Name: "last_name", Type: storage.TypeText},
			{Name: "gender", Type: storage.TypeText},
			{Name: "level", Type: storage.TypeText},
		},
	}
}

func Songs() storage.TableSpec {
	return storage.TableSpec{
		Name:       TableSongs,
		PrimaryKey: &storage.PrimaryKeySpec{Name: "song_id", Type: storage.TypeText},
		Columns: []storage.ColumnSpec{
			{Name: "title", Type: storage.TypeText},
			{Name: "artist_id", Type: storage.TypeText},
			{Name: "year", Type: storage.TypeInt},
			{Name: "duration", Type: storage.TypeFloat},
		},
	}
}

func Artists() storage.TableSpec {
	return storage.TableSpec{
		Name:       TableArtists,
		PrimaryKey: &storage.PrimaryKeySpec{Name: "artist_id", Type: storage.TypeText},
		Columns: []storage.ColumnSpec{
			{Name: "name", Type: storage.TypeText},
			{Name: "location", Type: storage.TypeText},
			{Name: "latitude", Type: storage.TypeFloat},
			{Name: "longitude", Type: storage.TypeFloat},
		},
	}
}

func Time() storage.TableSpec {
	return storage.TableSpec{
		Name:       TableTime,
		PrimaryKey: &storage.PrimaryKeySpec{Name: "start_time", Type: storage.TypeTimestamp},
		Columns: []storage.ColumnSpec{
			{Name: "hour", Type: storage.TypeInt},
			{Name: "day", Type: storage.TypeInt},
			{Name: "week", Type: storage.TypeInt},
			{Name: "month", Type: storage.TypeInt},
			{Name: "year", Type: storage.TypeInt},
			{Name: "weekday", Type: storage.TypeInt},
		},
	}
}

// Songplays is the fact table. song_id and artist_id stay NULL when no song matched.
func Songplays() storage.TableSpec {
	return storage.TableSpec{
		Name:       TableSongplays,
		PrimaryKey: &storage.PrimaryKeySpec{Name: "songplay_id", Type: storage.TypeSerial},
		Columns: []storage.ColumnSpec{
			{Name: "start_time", Type: storage.TypeTimestamp, Nullable: notNull(),
				References: &storage.ReferenceSpec{Table: TableTime, Column: "start_time"}},
			{Name: "user_id", Type: storage.TypeBigInt, Nullable: notNull(),
				References: &storage.ReferenceSpec{Table: TableUsers, Column: "user_id"}},
			{Name: "level", Type: storage.TypeText},
			{Name: "song_id", Type: storage.TypeText,
				References: &storage.ReferenceSpec{Table: TableSongs, Column: "song_id"}},
			{Name: "artist_id", Type: storage.TypeText,
				References: &storage.ReferenceSpec{Table: TableArtists, Column: "artist_id"}},
			{Name: "session_id", Type: storage.TypeBigInt, Nullable: notNull()},
			{Name: "location", Type: storage.TypeText},
			{Name: "user_agent", Type: storage.TypeText},
			{Name: "source_file", Type: storage.TypeText, Nullable: notNull()},
			{Name: "line", Type: storage.TypeBigInt, Nullable: notNull()},
		},
		Constraints: []storage.ConstraintSpec{
			{Kind: "unique", Columns: SongplayKey},
		},
	}
}

// Tables returns the full schema in dependency order.
func Tables() []storage.TableSpec {
	return []storage.TableSpec{Staging(), Users(), Songs(), Artists(), Time(), Songplays()}
}
