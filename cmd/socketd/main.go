// Package main is the entrypoint for the socket-dispatch server (binary "socketd").
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/socket-dispatch/internal/config"
	"github.com/morezero/socket-dispatch/internal/server"
	"github.com/morezero/socket-dispatch/pkg/db"
)

const usage = `Usage: socketd [command]
       socketd serve                Start the dispatch server (WebSocket, COMMS bridge, HTTP health/metrics).
       socketd migrate up           Run database migrations for the failure journal.
       socketd migrate status       Show migration status.
       socketd ensure-db            Create the DATABASE_URL database if missing.
       socketd failures [limit]     Print the most recent dispatch failures (default 20).
       socketd clear [older-than]   Delete journaled failures older than a duration (e.g. 72h); all when omitted.

Environment: HTTP_ADDR / HTTP_PORT, WS_PATH, COMMS_URL, COMMS_SUBJECT, PROTOCOL_VERSION,
MIN_CLIENT_VERSION, DATABASE_URL (journal commands), MIGRATION_PATH, LOG_LEVEL. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("socketd migrate: require subcommand (up, status)")
		}
		switch args[1] {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("socketd migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("socketd migrate status: %v", err)
			}
		default:
			log.Fatalf("socketd migrate: unknown subcommand %q (use up, status)", args[1])
		}
		return
	case "ensure-db":
		if err := runEnsureDB(); err != nil {
			log.Fatalf("socketd ensure-db: %v", err)
		}
		return
	case "failures":
		limit, err := parseLimit(args[1:])
		if err != nil {
			log.Fatalf("socketd failures: %v", err)
		}
		if err := runFailures(limit); err != nil {
			log.Fatalf("socketd failures: %v", err)
		}
		return
	case "clear":
		olderThan, err := parseOlderThan(args[1:])
		if err != nil {
			log.Fatalf("socketd clear: %v", err)
		}
		if err := runClear(olderThan); err != nil {
			log.Fatalf("socketd clear: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("socketd: %v", err)
	}
}

// parseLimit reads the optional positive row limit of the failures command.
func parseLimit(args []string) (int, error) {
	if len(args) == 0 {
		return 20, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer, got %q", args[0])
	}
	return n, nil
}

// parseOlderThan reads the optional age cutoff of the clear command. Zero
// clears everything.
func parseOlderThan(args []string) (time.Duration, error) {
	if len(args) == 0 {
		return 0, nil
	}
	d, err := time.ParseDuration(args[0])
	if err != nil || d < 0 {
		return 0, fmt.Errorf("older-than must be a non-negative duration, got %q", args[0])
	}
	return d, nil
}

func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return cfg, pool, nil
}

func runMigrateUp() error {
	ctx := context.Background()
	cfg, pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	applied, err := db.RunMigrations(ctx, pool, migrations)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	fmt.Printf("Applied %d migrations.\n", len(applied))
	for _, name := range applied {
		fmt.Printf("  %s\n", name)
	}
	return nil
}

func runMigrateStatus() error {
	ctx := context.Background()
	cfg, pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	state, err := db.MigrationStatus(ctx, pool, cfg.MigrationPath)
	if err != nil {
		return err
	}
	for _, name := range state.Applied {
		fmt.Printf("  [applied] %s\n", name)
	}
	for _, name := range state.Pending {
		fmt.Printf("  [pending] %s\n", name)
	}
	return nil
}

func runEnsureDB() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	if err := db.EnsureDatabase(context.Background(), cfg.DatabaseURL); err != nil {
		return err
	}
	fmt.Println("Database is ready.")
	return nil
}

func runFailures(limit int) error {
	ctx := context.Background()
	_, pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	failures, err := db.NewPostgresJournal(pool).ListRecent(ctx, limit)
	if err != nil {
		return err
	}
	if len(failures) == 0 {
		fmt.Println("No failures recorded.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OCCURRED\tCONNECTION\tEVENT\tREQUEST\tCODE\tMESSAGE")
	for _, f := range failures {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			f.OccurredAt.Format(time.RFC3339), f.ConnectionID, f.EventType, f.RequestID, f.Code, f.Message)
	}
	return w.Flush()
}

func runClear(olderThan time.Duration) error {
	ctx := context.Background()
	_, pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	n, err := db.ClearFailures(ctx, pool, olderThan)
	if err != nil {
		return fmt.Errorf("clear failures: %w", err)
	}
	fmt.Printf("Deleted %d failures.\n", n)
	return nil
}
