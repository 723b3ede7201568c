package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/rules"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage persists rules and corrections in SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// LoadRules returns every stored rule.
func (s *SQLiteStorage) LoadRules(ctx context.Context) ([]model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, keywords, account_code, jurisdiction, note, origin,
			confidence, seq, disabled, created_at, updated_at
		FROM rules
		ORDER BY seq, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Rule
	for rows.Next() {
		var r model.Rule
		var keywords string
		var note sql.NullString
		if err := rows.Scan(&r.ID, &r.Kind, &keywords, &r.AccountCode, &r.Jurisdiction, &note, &r.Origin,
			&r.Confidence, &r.Seq, &r.Disabled, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		if err := json.Unmarshal([]byte(keywords), &r.Keywords); err != nil {
			return nil, fmt.Errorf("failed to decode keywords for rule %s: %w", r.ID, err)
		}
		r.Note = note.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return out, nil
}

// LoadCorrections returns every stored correction.
func (s *SQLiteStorage) LoadCorrections(ctx context.Context) ([]model.Correction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pattern, account_code, jurisdiction, note, use_count, created_at, updated_at
		FROM corrections
		ORDER BY jurisdiction, pattern
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query corrections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Correction
	for rows.Next() {
		var c model.Correction
		var note sql.NullString
		if err := rows.Scan(&c.ID, &c.Pattern, &c.AccountCode, &c.Jurisdiction, &note,
			&c.UseCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan correction: %w", err)
		}
		c.Note = note.String
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating corrections: %w", err)
	}
	return out, nil
}

// Save upserts a batch in one transaction.
func (s *SQLiteStorage) Save(ctx context.Context, batch rules.Batch) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	for _, r := range batch.Rules {
		if err := validateRule(r); err != nil {
			return err
		}
	}
	for _, c := range batch.Corrections {
		if err := validateCorrection(c); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range batch.Rules {
		keywords, err := json.Marshal(r.Keywords)
		if err != nil {
			return fmt.Errorf("failed to encode keywords: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO rules (id, kind, keywords, account_code, jurisdiction, note, origin,
				confidence, seq, disabled, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				kind = excluded.kind,
				keywords = excluded.keywords,
				account_code = excluded.account_code,
				jurisdiction = excluded.jurisdiction,
				note = excluded.note,
				origin = excluded.origin,
				confidence = excluded.confidence,
				seq = excluded.seq,
				disabled = excluded.disabled,
				updated_at = excluded.updated_at
		`, r.ID, r.Kind, string(keywords), r.AccountCode, r.Jurisdiction, r.Note, r.Origin,
			r.Confidence, r.Seq, r.Disabled, r.CreatedAt, r.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to save rule %s: %w", r.ID, err)
		}
	}

	for _, c := range batch.Corrections {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO corrections (id, pattern, account_code, jurisdiction, note, use_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				pattern = excluded.pattern,
				account_code = excluded.account_code,
				jurisdiction = excluded.jurisdiction,
				note = excluded.note,
				use_count = excluded.use_count,
				updated_at = excluded.updated_at
		`, c.ID, c.Pattern, c.AccountCode, c.Jurisdiction, c.Note, c.UseCount, c.CreatedAt, c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to save correction %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteRule removes a rule. Deleting a missing rule is not an error.
func (s *SQLiteStorage) DeleteRule(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "rules", id)
}

// DeleteCorrection removes a correction. Deleting a missing correction is not an error.
func (s *SQLiteStorage) DeleteCorrection(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "corrections", id)
}

func (s *SQLiteStorage) deleteByID(ctx context.Context, table, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	// table is one of two constants above, never user input.
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}
