// Command create_tables drops every star-schema table and creates it again.
// It uses the same configuration as etl.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"sparkify/internal/config"
	"sparkify/internal/schema"
	"sparkify/internal/storage"

	_ "sparkify/internal/storage/all"
)

type appDeps struct {
	loadConfig func(path string) (config.Config, []config.Issue, error)
	openRepo   func(ctx context.Context, cfg storage.MultiConfig) (storage.MultiRepository, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, appDeps{
		loadConfig: config.Load,
		openRepo:   storage.NewMulti,
	})
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("create_tables", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath string
		keep    bool
	)
	fs.StringVar(&cfgPath, "config", "", "YAML config path (default $SPARKIFY_CONFIG or ./sparkify.yaml)")
	fs.BoolVar(&keep, "keep", false, "create missing tables without dropping existing ones")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "usage: create_tables [-config path/to/sparkify.yaml] [-keep]")
		return 2
	}

	cfg, issues, err := deps.loadConfig(cfgPath)
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss.String())
	}
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	repo, err := deps.openRepo(ctx, storage.MultiConfig{Kind: cfg.Storage.Kind, DSN: os.ExpandEnv(cfg.Storage.DSN)})
	if err != nil {
		fmt.Fprintf(stderr, "open %s storage: %v\n", cfg.Storage.Kind, err)
		return 1
	}
	defer repo.Close()

	tables := schema.Tables()
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		names = append(names, t.Name)
	}

	if !keep {
		if err := repo.DropTables(ctx, tables); err != nil {
			fmt.Fprintf(stderr, "drop tables: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "dropped: %s\n", strings.Join(names, ", "))
	}
	if err := repo.EnsureTables(ctx, tables); err != nil {
		fmt.Fprintf(stderr, "create tables: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "created: %s\n", strings.Join(names, ", "))
	return 0
}
