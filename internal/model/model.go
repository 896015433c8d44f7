// Package model holds the star-schema row types and the parsed input records.
package model

import "time"

// Song is a row of the songs dimension.
type Song struct {
	SongID   string
	Title    string
	ArtistID string
	Year     int64
	Duration float64
}

// Artist is a row of the artists dimension. Latitude and Longitude are nil
// when the source has no coordinates.
type Artist struct {
	ArtistID  string
	Name      string
	Location  string
	Latitude  *float64
	Longitude *float64
}

// TimeInstant is a row of the time dimension. Weekday is 0 for Monday.
type TimeInstant struct {
	StartTime time.Time
	Hour      int
	Day       int
	Week      int
	Month     int
	Year      int
	Weekday   int
}

// User is a row of the users dimension.
type User struct {
	UserID    int64
	FirstName string
	LastName  string
	Gender    string
	Level     string
}

// SongPlay is a fact row. SongID and ArtistID are empty when no song matched;
// they are stored as NULL.
type SongPlay struct {
	StartTime time.Time
	UserID    int64
	Level     string
	SongID    string
	ArtistID  string
	SessionID int64
	Location  string
	UserAgent string

	// SourceFile and Line identify the log entry the play came from.
	SourceFile string
	Line       int
}

// SongRecord is one decoded song file record. It carries both the song and
// its artist.
type SongRecord struct {
	SongID          string
	Title           string
	ArtistID        string
	Year            int64
	Duration        float64
	ArtistName      string
	ArtistLocation  string
	ArtistLatitude  *float64
	ArtistLongitude *float64
}

// Song projects the song columns.
func (r SongRecord) Song() Song {
	return Song{SongID: r.SongID, Title: r.Title, ArtistID: r.ArtistID, Year: r.Year, Duration: r.Duration}
}

// Artist projects the artist columns.
func (r SongRecord) Artist() Artist {
	return Artist{
		ArtistID:  r.ArtistID,
		Name:      r.ArtistName,
		Location:  r.ArtistLocation,
		Latitude:  r.ArtistLatitude,
		Longitude: r.ArtistLongitude,
	}
}

// LogEntry is one decoded NextSong activity-log record.
type LogEntry struct {
	Line      int
	TS        int64 // epoch milliseconds
	UserID    int64
	FirstName string
	LastName  string
	Gender    string
	Level     string
	Song      string
	Artist    string
	Length    *float64
	SessionID int64
	Location  string
	UserAgent string
}

// StagingRecord is a LogEntry tagged with the batch it was loaded under.
type StagingRecord struct {
	BatchID string
	LogEntry
}
