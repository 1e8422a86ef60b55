package sqlite

import (
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed schema.sql
var schemaSQL string

// Migrator manages database schema migrations
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new database migrator
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Migrate applies all pending database migrations
func (m *Migrator) Migrate() error {
	if err := m.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("create migrations table failed: %w", err)
	}

	applied, err := m.isInitialSchemaApplied()
	if err != nil {
		return fmt.Errorf("check schema version failed: %w", err)
	}

	if !applied {
		if err := m.applyInitialSchema(); err != nil {
			return fmt.Errorf("apply initial schema failed: %w", err)
		}
	}

	return nil
}

// ensureMigrationsTable creates the schema_migrations table if it doesn't exist
func (m *Migrator) ensureMigrationsTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			description TEXT
		);
	`
	_, err := m.db.Exec(query)
	return err
}

// isInitialSchemaApplied checks if the initial schema has been applied
func (m *Migrator) isInitialSchemaApplied() (bool, error) {
	var count int
	err := m.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", 1).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// applyInitialSchema applies the initial database schema
func (m *Migrator) applyInitialSchema() error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction failed: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range splitSQLStatements(schemaSQL) {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("execute statement %d failed: %w\nStatement: %s", i, err, stmt)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO schema_migrations (version, description) VALUES (?, ?)`,
		1, "initial remloop schema",
	); err != nil {
		return fmt.Errorf("record migration failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction failed: %w", err)
	}

	return nil
}

// splitSQLStatements splits a SQL file into individual statements
func splitSQLStatements(sqlText string) []string {
	lines := strings.Split(sqlText, "\n")
	var cleanLines []string
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		cleanLines = append(cleanLines, line)
	}

	var result []string
	for _, stmt := range strings.Split(strings.Join(cleanLines, "\n"), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			result = append(result, stmt)
		}
	}

	return result
}

// Version returns the current schema version
func (m *Migrator) Version() (string, error) {
	var version string
	err := m.db.QueryRow("SELECT version FROM schema_migrations ORDER BY applied_at DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return "none", nil
	}
	if err != nil {
		return "", err
	}
	return version, nil
}
