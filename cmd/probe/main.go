// Command probe profiles a sample of the song or log files without loading
// anything. Use it when a load skips files, or before pointing the ETL at a
// new data drop.
//
// Output is a text report by default; -json emits the report as JSON.
//
// When -dir is empty the directory comes from the ETL configuration
// (data.song_dir or data.log_dir), loaded the same way as cmd/etl.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"sparkify/internal/config"
	"sparkify/internal/logging"
	"sparkify/internal/probe"
)

func main() {
	var (
		flagKind    = flag.String("kind", "", "Input kind: song|log")
		flagDir     = flag.String("dir", "", "Root directory to sample; defaults to the configured data dir for -kind")
		flagConfig  = flag.String("config", "", "YAML config path used when -dir is empty")
		flagFiles   = flag.Int("files", 20, "Maximum number of files to sample")
		flagRecords = flag.Int("records", 1000, "Maximum number of records to read per file")
		flagJSON    = flag.Bool("json", false, "Emit the report as JSON")
	)
	flag.Parse()

	logger := logging.New(logging.Config{Level: "info", Format: "console", Output: os.Stderr})

	kind := strings.ToLower(strings.TrimSpace(*flagKind))
	if kind == "" {
		fmt.Fprintln(os.Stderr, "missing -kind")
		flag.Usage()
		os.Exit(2)
	}

	dir := strings.TrimSpace(*flagDir)
	if dir == "" {
		cfg, issues, err := config.Load(*flagConfig)
		for _, iss := range issues {
			fmt.Fprintln(os.Stderr, iss.String())
		}
		if err != nil {
			logger.Fatal().Err(err).Msg("load config")
		}
		dir = cfg.Data.SongDir
		if kind == probe.KindLog {
			dir = cfg.Data.LogDir
		}
	}

	// Probing reads a bounded sample; a slow disk should fail, not hang.
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	rep, err := probe.Run(ctx, probe.Options{
		Kind:       kind,
		Root:       dir,
		MaxFiles:   *flagFiles,
		MaxRecords: *flagRecords,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("kind", kind).Str("dir", dir).Msg("probe failed")
	}

	if *flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			logger.Fatal().Err(err).Msg("encode report")
		}
		return
	}
	fmt.Fprintln(os.Stdout, rep.Format())
}
