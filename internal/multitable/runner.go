package multitable

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"sparkify/internal/schema"
	"sparkify/internal/source"
	"sparkify/internal/storage"
)

// Processor handles one input file. *Engine implements it.
type Processor interface {
	ProcessSongFile(ctx context.Context, path string) (FileResult, error)
	ProcessLogFile(ctx context.Context, path string) (FileResult, error)
}

// Summary reports one run.
type Summary struct {
	RunID     string
	SongFiles int
	LogFiles  int
	Failed    []string
	Songplays int64
}

// Runner drives a full load: setup, all song files, then all log files.
// Setup failures are returned; per-file failures are logged, recorded in
// Summary.Failed and skipped.
type Runner struct {
	NewMultiRepo func(ctx context.Context, cfg storage.MultiConfig) (storage.MultiRepository, error)
	NewProcessor func(repo storage.MultiRepository, logger Logger, cfg Pipeline) Processor
	Discover     func(root string) ([]string, error)
	ExpandEnv    func(string) string

	Logger Logger
	// Stdout receives the progress lines. Nil discards them.
	Stdout io.Writer
}

// NewDefaultRunner wires the production implementations.
func NewDefaultRunner(logger Logger, stdout io.Writer) *Runner {
	return &Runner{
		NewMultiRepo: storage.NewMulti,
		NewProcessor: func(repo storage.MultiRepository, logger Logger, cfg Pipeline) Processor {
			return &Engine{Repo: repo, Logger: logger, BatchSize: cfg.Runtime.BatchSize}
		},
		Discover:  source.Discover,
		ExpandEnv: os.ExpandEnv,
		Logger:    logger,
		Stdout:    stdout,
	}
}

// Run executes the load described by cfg.
func (r *Runner) Run(ctx context.Context, cfg Pipeline) (Summary, error) {
	sum := Summary{RunID: uuid.NewString()}
	logf := r.logger()

	if err := validatePipeline(cfg); err != nil {
		return sum, err
	}

	discover := r.Discover
	if discover == nil {
		discover = source.Discover
	}
	songFiles, err := discover(cfg.Data.SongDir)
	if err != nil {
		return sum, fmt.Errorf("discover song files: %w", err)
	}
	logFiles, err := discover(cfg.Data.LogDir)
	if err != nil {
		return sum, fmt.Errorf("discover log files: %w", err)
	}

	expand := r.ExpandEnv
	if expand == nil {
		expand = os.ExpandEnv
	}
	repo, err := r.NewMultiRepo(ctx, storage.MultiConfig{Kind: cfg.Storage.Kind, DSN: expand(cfg.Storage.DSN)})
	if err != nil {
		return sum, fmt.Errorf("open %s storage: %w", cfg.Storage.Kind, err)
	}
	defer repo.Close()

	ddlStart := time.Now()
	if err := repo.EnsureTables(ctx, schema.Tables()); err != nil {
		return sum, fmt.Errorf("ensure tables: %w", err)
	}
	logf("stage=ddl ok run_id=%s storage=%s duration=%s", sum.RunID, cfg.Storage.Kind, durMS(ddlStart))

	proc := r.NewProcessor(repo, r.Logger, cfg)

	songStart := time.Now()
	sum.SongFiles, err = r.processAll(ctx, cfg.Data.SongDir, songFiles, proc.ProcessSongFile, &sum)
	if err != nil {
		return sum, err
	}
	logf("stage=song_data ok run_id=%s files=%d duration=%s", sum.RunID, sum.SongFiles, durMS(songStart))

	logStart := time.Now()
	sum.LogFiles, err = r.processAll(ctx, cfg.Data.LogDir, logFiles, proc.ProcessLogFile, &sum)
	if err != nil {
		return sum, err
	}
	logf("stage=log_data ok run_id=%s files=%d songplays=%d failed=%d duration=%s",
		sum.RunID, sum.LogFiles, sum.Songplays, len(sum.Failed), durMS(logStart))

	return sum, nil
}

// processAll runs fn over files in order and prints progress. It stops only
// when ctx is done; other errors are logged and the file is skipped.
func (r *Runner) processAll(
	ctx context.Context,
	dir string,
	files []string,
	fn func(context.Context, string) (FileResult, error),
	sum *Summary,
) (int, error) {
	logf := r.logger()
	out := r.Stdout
	if out == nil {
		out = io.Discard
	}

	fmt.Fprintf(out, "%d files found in %s\n", len(files), dir)
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		res, err := fn(ctx, path)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return i, err
			}
			reason := "error"
			if errors.Is(err, ErrNoRecords) {
				reason = "no_records"
			}
			logf("stage=file status=error reason=%s run_id=%s path=%s err=%v", reason, sum.RunID, path, err)
			sum.Failed = append(sum.Failed, path)
		}
		sum.Songplays += res.Songplays
		fmt.Fprintf(out, "%d/%d files processed.\n", i+1, len(files))
	}
	return len(files), nil
}

func (r *Runner) logger() func(format string, v ...any) {
	if r.Logger == nil {
		return func(string, ...any) {}
	}
	return r.Logger.Printf
}

func validatePipeline(cfg Pipeline) error {
	var problems []string
	if strings.TrimSpace(cfg.Storage.Kind) == "" {
		problems = append(problems, "storage.kind must be set")
	}
	if strings.TrimSpace(cfg.Storage.DSN) == "" {
		problems = append(problems, "storage.dsn must be set")
	}
	if strings.TrimSpace(cfg.Data.SongDir) == "" {
		problems = append(problems, "data.song_dir must be set")
	}
	if strings.TrimSpace(cfg.Data.LogDir) == "" {
		problems = append(problems, "data.log_dir must be set")
	}
	if cfg.Runtime.BatchSize < 0 {
		problems = append(problems, "runtime.batch_size must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid pipeline: %s", strings.Join(problems, "; "))
	}
	return nil
}
