package db

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const migrationsTestPrefix = "db:migrations_test"

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("%s - failed to write test file %s: %v", migrationsTestPrefix, name, err)
		}
	}
}

func TestLoadMigrationFiles_SortedAndNamed(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"003_third.sql":  "THIRD",
		"001_first.sql":  "FIRST",
		"002_second.sql": "SECOND",
		"README.md":      "# Migrations",
	})

	result, err := LoadMigrationFiles(dir)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}

	want := []Migration{
		{Name: "001_first", SQL: "FIRST"},
		{Name: "002_second", SQL: "SECOND"},
		{Name: "003_third", SQL: "THIRD"},
	}
	if !reflect.DeepEqual(result, want) {
		t.Errorf("%s - got %+v, want %+v", migrationsTestPrefix, result, want)
	}
}

func TestLoadMigrationFiles_SkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "subdir.sql"), 0755); err != nil {
		t.Fatalf("%s - failed to create subdir: %v", migrationsTestPrefix, err)
	}
	writeFiles(t, dir, map[string]string{"001_create.sql": "CREATE TABLE x;"})

	result, err := LoadMigrationFiles(dir)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}
	if len(result) != 1 {
		t.Errorf("%s - expected 1 migration (skipping dir), got %d", migrationsTestPrefix, len(result))
	}
}

func TestLoadMigrationFiles_NonExistentDir(t *testing.T) {
	if _, err := LoadMigrationFiles(filepath.Join(t.TempDir(), "nonexistent")); err == nil {
		t.Errorf("%s - expected error for non-existent directory", migrationsTestPrefix)
	}
}

func TestLoadMigrationFiles_RepositoryMigrations(t *testing.T) {
	result, err := LoadMigrationFiles(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}
	if len(result) == 0 || result[0].Name != "001_dispatch_failures" {
		t.Errorf("%s - expected 001_dispatch_failures first, got %+v", migrationsTestPrefix, result)
	}
}

func TestSplitMigrations(t *testing.T) {
	migrations := []Migration{{Name: "001_a"}, {Name: "002_b"}, {Name: "003_c"}}
	state := splitMigrations(migrations, map[string]bool{"001_a": true, "003_c": true, "999_gone": true})

	if !reflect.DeepEqual(state.Applied, []string{"001_a", "003_c"}) {
		t.Errorf("%s - Applied = %v", migrationsTestPrefix, state.Applied)
	}
	if !reflect.DeepEqual(state.Pending, []string{"002_b"}) {
		t.Errorf("%s - Pending = %v", migrationsTestPrefix, state.Pending)
	}
}
