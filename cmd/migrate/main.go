package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"trendscout/internal/config"
	"trendscout/migrations"
)

type command struct {
	name string
	help string
	run  func(db *sql.DB) error
}

var commands = []command{
	{"up", "apply every pending migration", func(db *sql.DB) error { return goose.Up(db, ".") }},
	{"up-one", "apply the next pending migration", func(db *sql.DB) error { return goose.UpByOne(db, ".") }},
	{"down", "roll back the latest migration", func(db *sql.DB) error { return goose.Down(db, ".") }},
	{"status", "list applied and pending migrations", func(db *sql.DB) error { return goose.Status(db, ".") }},
	{"version", "print the schema version", func(db *sql.DB) error { return goose.Version(db, ".") }},
	{"reset", "roll back every migration", func(db *sql.DB) error { return goose.Reset(db, ".") }},
}

var errUsage = errors.New("usage")

func main() {
	dbPath := flag.String("db", "", "sqlite database path (default: $DATABASE_PATH)")
	flag.Usage = usage
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(*dbPath, flag.Args(), logger); err != nil {
		if errors.Is(err, errUsage) {
			usage()
		} else {
			logger.Error("migrate", "error", err)
		}
		os.Exit(1)
	}
}

func run(dbPath string, args []string, logger *slog.Logger) error {
	if len(args) != 1 {
		return errUsage
	}
	cmd, ok := lookup(args[0])
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}

	if dbPath == "" {
		dbPath = os.Getenv("DATABASE_PATH")
	}
	if dbPath == "" {
		dbPath = config.Default().DatabasePath
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := migrations.Setup(); err != nil {
		return err
	}
	goose.SetLogger(log.New(os.Stdout, "", 0))

	logger.Info("running migration command", "command", cmd.name, "db", dbPath)
	if err := cmd.run(db); err != nil {
		return fmt.Errorf("%s: %w", cmd.name, err)
	}
	return nil
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate [-db path] <command>")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", c.name, c.help)
	}
}
