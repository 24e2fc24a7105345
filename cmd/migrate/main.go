// Command migrate applies or inspects the Passage database schema. The
// database is taken from the same PASSAGE_DB_* settings the server reads;
// -type and -dsn override them.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"

	"github.com/rjsadow/passage/internal/config"
	"github.com/rjsadow/passage/internal/db"
)

const usage = `Usage: migrate [-type sqlite|postgres] [-dsn path] <command>

Commands:
  up       Apply all pending migrations
  down     Roll back the most recent migration
  version  Show current migration version
  force N  Force migration version to N
`

var errUsage = errors.New("invalid usage")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		slog.Error("Migration failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dbType := fs.String("type", "", "Database type: sqlite or postgres (default from PASSAGE_DB_TYPE)")
	dsn := fs.String("dsn", "", "Database DSN: file path for sqlite, connection string for postgres (default from PASSAGE_DB*)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("%w: missing command", errUsage)
	}
	command := fs.Arg(0)

	var forceVersion int
	switch command {
	case "up", "down", "version":
	case "force":
		if fs.NArg() < 2 {
			return fmt.Errorf("%w: force requires a version number", errUsage)
		}
		v, err := strconv.Atoi(fs.Arg(1))
		if err != nil {
			return fmt.Errorf("%w: invalid version number %q", errUsage, fs.Arg(1))
		}
		forceVersion = v
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}

	cfg, err := config.LoadDatabase(*dbType, *dsn)
	if err != nil {
		return err
	}

	m, err := db.NewMigrator(cfg.DBType, cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	switch command {
	case "up":
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			fmt.Fprintln(out, "No pending migrations")
			return nil
		}
		if err != nil {
			return fmt.Errorf("migration up failed: %w", err)
		}
		fmt.Fprintln(out, "Migrations applied successfully")

	case "down":
		if err := m.Steps(-1); err != nil {
			return fmt.Errorf("migration down failed: %w", err)
		}
		fmt.Fprintln(out, "Rolled back one migration")

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Fprintln(out, "Version: none")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get version: %w", err)
		}
		suffix := ""
		if dirty {
			suffix = " (dirty)"
		}
		fmt.Fprintf(out, "Version: %d%s\n", version, suffix)

	case "force":
		if err := m.Force(forceVersion); err != nil {
			return fmt.Errorf("force failed: %w", err)
		}
		fmt.Fprintf(out, "Forced version to %d\n", forceVersion)
	}

	slog.Debug("Migration command finished", "command", command, "db_type", cfg.DBType)
	return nil
}
