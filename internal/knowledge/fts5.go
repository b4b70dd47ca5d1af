package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
)

// SQLiteIndex implements Index on SQLite FTS5. WAL mode allows the
// serve process and a concurrent `knowledge load` to share the file.
type SQLiteIndex struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ Index = (*SQLiteIndex)(nil)

// validateSQLiteIntegrity checks an existing database before opening.
// Returns nil when the file is absent (it will be created).
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
                       WHERE type='table' AND name='fts_snippets'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("FTS5 table 'fts_snippets' missing")
	}

	return nil
}

// NewSQLiteIndex opens or creates an FTS5 knowledge index. An empty
// path creates an in-memory index for testing. A corrupted file is
// cleared and recreated with a warning; snippets reload from source.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}

		if validErr := validateSQLiteIntegrity(path); validErr != nil {
			slog.Warn("knowledge index corrupted, clearing",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("knowledge index corrupted at %s and cannot remove: %w (original error: %v)",
					path, removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
		}

		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open knowledge index: %w", err)
	}

	// Single writer prevents SQLITE_BUSY churn between upsert batches.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores journal params in the DSN; pragmas are
	// the reliable path.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	idx := &SQLiteIndex{db: db, path: path}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize knowledge schema: %w", err)
	}

	return idx, nil
}

// initSchema creates the FTS5 virtual table plus the display table.
// fts_snippets holds pre-tokenized text for matching; snippets holds
// the raw rows returned to callers.
func (s *SQLiteIndex) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS fts_snippets USING fts5(
		snippet_id UNINDEXED,
		title,
		content,
		category UNINDEXED,
		tokenize='unicode61'
	);

	CREATE TABLE IF NOT EXISTS snippets (
		snippet_id TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		content    TEXT NOT NULL,
		category   TEXT NOT NULL DEFAULT '',
		tags       TEXT NOT NULL DEFAULT ''
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Upsert adds or replaces snippets. FTS5 tables have no REPLACE, so
// each row is deleted first inside one transaction.
func (s *SQLiteIndex) Upsert(ctx context.Context, snippets []Snippet) error {
	if len(snippets) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return rcerrors.New(rcerrors.ErrCodeSearchFailed, "knowledge index is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleteFTS, err := tx.PrepareContext(ctx, `DELETE FROM fts_snippets WHERE snippet_id = ?`)
	if err != nil {
		return fmt.Errorf("prepare fts delete: %w", err)
	}
	defer deleteFTS.Close()

	insertFTS, err := tx.PrepareContext(ctx,
		`INSERT INTO fts_snippets(snippet_id, title, content, category) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare fts insert: %w", err)
	}
	defer insertFTS.Close()

	insertRow, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO snippets(snippet_id, title, content, category, tags) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare row insert: %w", err)
	}
	defer insertRow.Close()

	for i := range snippets {
		sn := snippets[i]
		sn.DeriveID()
		if err := sn.Validate(); err != nil {
			return err
		}

		if _, err := deleteFTS.ExecContext(ctx, sn.ID); err != nil {
			return fmt.Errorf("delete existing snippet %s: %w", sn.ID, err)
		}
		// Tags are matchable through the content column; they are
		// keywords by nature.
		matchable := sn.Content
		if len(sn.Tags) > 0 {
			matchable += " " + strings.Join(sn.Tags, " ")
		}
		if _, err := insertFTS.ExecContext(ctx, sn.ID,
			tokenizeJoined(sn.Title), tokenizeJoined(matchable), sn.Category); err != nil {
			return fmt.Errorf("index snippet %s: %w", sn.ID, err)
		}
		if _, err := insertRow.ExecContext(ctx, sn.ID,
			sn.Title, sn.Content, sn.Category, strings.Join(sn.Tags, ",")); err != nil {
			return fmt.Errorf("store snippet %s: %w", sn.ID, err)
		}
	}

	return tx.Commit()
}

// Search runs a BM25-ranked match over title and content. Query terms
// are OR-joined: knowledge lookups are colloquial questions, and BM25
// already ranks rows matching more terms higher.
func (s *SQLiteIndex) Search(ctx context.Context, query, category string, limit int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, rcerrors.New(rcerrors.ErrCodeSearchFailed, "knowledge index is closed", nil)
	}

	limit = clampLimit(limit)
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return []Result{}, nil
	}
	match := strings.Join(tokens, " OR ")

	// bm25() takes one weight per column in declaration order:
	// snippet_id, title, content, category. Title outweighs content;
	// unindexed columns never match. FTS5 returns negative scores where
	// lower is better.
	const q = `
		SELECT f.snippet_id, bm25(fts_snippets, 0.0, 2.0, 1.0, 0.0) AS score,
		       s.title, s.content, s.category, s.tags
		FROM fts_snippets f
		JOIN snippets s ON s.snippet_id = f.snippet_id
		WHERE fts_snippets MATCH ?
		  AND (? = '' OR f.category = ?)
		ORDER BY score
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, q, match, category, category, limit)
	if err != nil {
		// FTS5 rejects exotic match strings with a syntax error; treat
		// as no results, matching the Bleve backend.
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []Result{}, nil
		}
		return nil, rcerrors.Wrap(rcerrors.ErrCodeSearchFailed, err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r    Result
			tags string
		)
		if err := rows.Scan(&r.Snippet.ID, &r.Score,
			&r.Snippet.Title, &r.Snippet.Content, &r.Snippet.Category, &tags); err != nil {
			return nil, fmt.Errorf("scan knowledge row: %w", err)
		}
		r.Score = -r.Score
		if tags != "" {
			r.Snippet.Tags = strings.Split(tags, ",")
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// Delete removes snippets by ID.
func (s *SQLiteIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return rcerrors.New(rcerrors.ErrCodeSearchFailed, "knowledge index is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	in := strings.Join(placeholders, ",")

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM fts_snippets WHERE snippet_id IN (%s)", in), args...); err != nil {
		return fmt.Errorf("delete from fts: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM snippets WHERE snippet_id IN (%s)", in), args...); err != nil {
		return fmt.Errorf("delete snippet rows: %w", err)
	}

	return tx.Commit()
}

// Count returns the number of indexed snippets.
func (s *SQLiteIndex) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, rcerrors.New(rcerrors.ErrCodeSearchFailed, "knowledge index is closed", nil)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM snippets`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count snippets: %w", err)
	}
	return count, nil
}

// Close checkpoints the WAL and closes the database. Idempotent.
func (s *SQLiteIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
