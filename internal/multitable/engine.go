// Package multitable loads song and activity-log files into the star schema.
//
// Engine processes one file per transaction. Runner discovers the files,
// drives the Engine over them and reports progress.
package multitable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sparkify/internal/metrics"
	"sparkify/internal/model"
	"sparkify/internal/source"
	"sparkify/internal/storage"
)

// ErrNoRecords marks a song file with no record in it. Runner logs such files
// with reason=no_records.
var ErrNoRecords = source.ErrNoRecords

// Logger is the minimal logging interface used by the engine and runner.
// logging.Printf satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// FileResult summarizes one processed file.
type FileResult struct {
	Path string
	// Records is the number of records taken from the file: 1 for a song file,
	// the NextSong entry count for a log file.
	Records   int
	Songplays int64
	Matched   int
}

// Engine writes one input file per transaction.
type Engine struct {
	Repo   storage.MultiRepository
	Logger Logger

	// BatchSize bounds the rows per backend call. Zero uses DefaultBatchSize.
	BatchSize int

	// Seams. Nil uses the production implementation.
	NewBatchID func() string
	ReadSong   func(ctx context.Context, path string) (model.SongRecord, error)
	ReadLog    func(ctx context.Context, path string) ([]model.LogEntry, error)
}

// ProcessSongFile upserts the song and artist of the first record in path.
func (e *Engine) ProcessSongFile(ctx context.Context, path string) (res FileResult, err error) {
	start := time.Now()
	res.Path = path
	defer func() { e.observe("song", start, err) }()

	if e.Repo == nil {
		return res, fmt.Errorf("engine: Repo is required")
	}

	rec, err := e.readSong(ctx, path)
	if err != nil {
		return res, fmt.Errorf("song file %s: %w", path, err)
	}

	err = e.inTx(ctx, func(tx storage.Tx) error {
		if _, err := UpsertSongs(ctx, tx, []model.Song{rec.Song()}, e.BatchSize); err != nil {
			return err
		}
		_, err := UpsertArtists(ctx, tx, []model.Artist{rec.Artist()}, e.BatchSize)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("song file %s: %w", path, err)
	}

	res.Records = 1
	metrics.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{"kind": "song"})
	metrics.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{"kind": "artist"})
	e.logger()("stage=song_file ok path=%s song_id=%s artist_id=%s duration=%s",
		path, rec.SongID, rec.ArtistID, durMS(start))
	return res, nil
}

// ProcessLogFile loads the NextSong entries of path: staging, time and user
// dimensions, then songplay facts, all in one transaction. Any error rolls
// the whole file back.
func (e *Engine) ProcessLogFile(ctx context.Context, path string) (res FileResult, err error) {
	start := time.Now()
	res.Path = path
	defer func() { e.observe("log", start, err) }()

	if e.Repo == nil {
		return res, fmt.Errorf("engine: Repo is required")
	}

	entries, err := e.readLog(ctx, path)
	if err != nil {
		return res, fmt.Errorf("log file %s: %w", path, err)
	}
	if len(entries) == 0 {
		e.logger()("stage=log_file skip path=%s reason=no_nextsong", path)
		return res, nil
	}

	batchID := e.newBatchID()
	var (
		users   int
		times   int
		matched int
		plays   int64
	)
	err = e.inTx(ctx, func(tx storage.Tx) error {
		staged, err := loadStaging(ctx, tx, batchID, entries)
		if err != nil {
			return err
		}
		rows := logEntries(staged)

		ts := DistinctTimes(rows)
		if _, err := UpsertTimes(ctx, tx, ts, e.BatchSize); err != nil {
			return err
		}
		times = len(ts)

		us := MergeUsers(rows)
		if _, err := UpsertUsers(ctx, tx, us, e.BatchSize); err != nil {
			return err
		}
		users = len(us)

		matches, err := FactMatcher{BatchSize: e.BatchSize}.Match(ctx, tx, rows)
		if err != nil {
			return err
		}
		for _, m := range matches {
			if m.Found() {
				matched++
			}
		}

		plays, err = InsertSongplays(ctx, tx, BuildSongplays(path, rows, matches), e.BatchSize)
		if err != nil {
			return err
		}
		return clearStaging(ctx, tx, batchID)
	})
	if err != nil {
		return res, fmt.Errorf("log file %s: %w", path, err)
	}

	res.Records = len(entries)
	res.Songplays = plays
	res.Matched = matched

	metrics.IncCounter(metrics.RecordsTotal, float64(times), metrics.Labels{"kind": "time"})
	metrics.IncCounter(metrics.RecordsTotal, float64(users), metrics.Labels{"kind": "user"})
	metrics.IncCounter(metrics.RecordsTotal, float64(plays), metrics.Labels{"kind": "songplay"})
	e.logger()("stage=log_file ok path=%s batch_id=%s entries=%d users=%d times=%d songplays=%d already_loaded=%d matched=%d duration=%s",
		path, batchID, len(entries), users, times, plays, int64(len(entries))-plays, matched, durMS(start))
	return res, nil
}

// inTx runs fn in a transaction, committing on success and rolling back on
// error or panic.
func (e *Engine) inTx(ctx context.Context, fn func(tx storage.Tx) error) (err error) {
	tx, err := e.Repo.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (e *Engine) observe(kind string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"kind": kind, "status": status})
	metrics.ObserveStep(kind+"_file", start, err)
}

func (e *Engine) readSong(ctx context.Context, path string) (model.SongRecord, error) {
	if e.ReadSong != nil {
		return e.ReadSong(ctx, path)
	}
	return source.ReadSongFile(ctx, path)
}

func (e *Engine) readLog(ctx context.Context, path string) ([]model.LogEntry, error) {
	if e.ReadLog != nil {
		return e.ReadLog(ctx, path)
	}
	return source.ReadLogFile(ctx, path)
}

func (e *Engine) newBatchID() string {
	if e.NewBatchID != nil {
		return e.NewBatchID()
	}
	return uuid.NewString()
}

func (e *Engine) logger() func(format string, v ...any) {
	if e.Logger == nil {
		return func(string, ...any) {}
	}
	return e.Logger.Printf
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
