package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	dbstore "github.com/soaringjerry/Mindwell/internal/db"
)

var migrateSnapshot string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply SQLite schema migrations",
	Long: `Apply pending SQL migrations to the SQLite database named by
MINDWELL_SQLITE_PATH. With --from-snapshot the documents of a memory store
snapshot are copied in afterwards.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&migrateSnapshot, "from-snapshot", "", "memory store snapshot to import after migrating")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sqliteDB, err := openSQLiteFile(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer closeSQLite(sqliteDB)

	applied, err := dbstore.ApplyMigrations(sqliteDB, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(applied) == 0 {
		fmt.Fprintln(out, "schema is up to date")
	}
	for _, name := range applied {
		fmt.Fprintf(out, "applied %s\n", name)
	}

	if migrateSnapshot == "" {
		return nil
	}
	n, err := copySnapshot(cmd.Context(), migrateSnapshot, sqliteDB)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "copied %d documents from %s\n", n, migrateSnapshot)
	return nil
}

// MigrateIfNeeded seeds a new SQLite database from the memory store snapshot
// the first time the sqlite store is used. An existing database file is left
// alone.
func MigrateIfNeeded(snapshotPath, sqlitePath, migrationsDir string) error {
	if sqlitePath == "" {
		return errors.New("sqlite path is required")
	}
	if _, err := os.Stat(sqlitePath); err == nil {
		return nil // already migrated
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("check sqlite file: %w", err)
	}
	if snapshotPath == "" {
		return nil
	}
	if _, err := os.Stat(snapshotPath); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	log.Printf("First run detected, starting one-time data migration from snapshot %s...", snapshotPath)

	sqliteDB, err := openSQLiteFile(sqlitePath)
	if err != nil {
		return err
	}
	defer closeSQLite(sqliteDB)

	if err := dbstore.RunMigrations(sqliteDB, migrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	n, err := copySnapshot(context.Background(), snapshotPath, sqliteDB)
	if err != nil {
		return err
	}
	log.Printf("Data migration completed successfully (%d documents).", n)
	return nil
}

func openSQLiteFile(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_busy_timeout=5000", filepath.ToSlash(path))
	sqliteDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return sqliteDB, nil
}

func closeSQLite(sqliteDB *sql.DB) {
	if cerr := sqliteDB.Close(); cerr != nil {
		log.Printf("warning: failed to close sqlite db: %v", cerr)
	}
}

func copySnapshot(ctx context.Context, snapshotPath string, sqliteDB *sql.DB) (int, error) {
	src, err := dbstore.NewMemoryStoreFromPath(snapshotPath)
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}
	dst, err := dbstore.NewSQLiteStore(sqliteDB)
	if err != nil {
		return 0, fmt.Errorf("init sqlite store: %w", err)
	}
	n, err := dbstore.CopyDocuments(ctx, src, dst)
	if err != nil {
		return n, fmt.Errorf("copy data: %w", err)
	}
	return n, nil
}
