package db

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ensureLogPrefix = "db:ensure"

// maintenanceDatabase is where CREATE DATABASE is issued from.
const maintenanceDatabase = "postgres"

var safeDBName = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// EnsureDatabase creates the database named in databaseURL when it is missing.
func EnsureDatabase(ctx context.Context, databaseURL string) error {
	u, name, err := targetDatabase(databaseURL)
	if err != nil {
		return err
	}

	config, err := pgxpool.ParseConfig(maintenanceURL(u))
	if err != nil {
		return fmt.Errorf("%s - failed to parse maintenance URL: %w", ensureLogPrefix, err)
	}
	config.MaxConns = 1
	// CREATE DATABASE cannot run inside the implicit prepared-statement flow.
	config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to %s: %w", ensureLogPrefix, maintenanceDatabase, err)
	}
	defer pool.Close()

	exists, err := databaseExists(ctx, pool, name)
	if err != nil {
		return err
	}
	if exists {
		slog.Debug(fmt.Sprintf("%s - Database %q already exists", ensureLogPrefix, name))
		return nil
	}

	slog.Info(fmt.Sprintf("%s - Creating database %q", ensureLogPrefix, name))
	if _, err := pool.Exec(ctx, "CREATE DATABASE "+quoteIdent(name)); err != nil {
		return fmt.Errorf("%s - create %q: %w", ensureLogPrefix, name, err)
	}
	return nil
}

// targetDatabase parses databaseURL and returns it with its validated
// database name.
func targetDatabase(databaseURL string) (*url.URL, string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("%s - invalid database URL: %w", ensureLogPrefix, err)
	}
	name := databaseName(u)
	switch {
	case name == "":
		return nil, "", fmt.Errorf("%s - database name empty in URL", ensureLogPrefix)
	case !safeDBName.MatchString(name):
		return nil, "", fmt.Errorf("%s - database name %q contains invalid characters", ensureLogPrefix, name)
	}
	return u, name, nil
}

func databaseExists(ctx context.Context, pool *pgxpool.Pool, name string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s - failed to look up %q: %w", ensureLogPrefix, name, err)
	}
	return exists, nil
}

func databaseName(u *url.URL) string {
	return strings.TrimSpace(strings.TrimPrefix(u.Path, "/"))
}

func maintenanceURL(u *url.URL) string {
	m := *u
	m.Path = "/" + maintenanceDatabase
	return m.String()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
