package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
	"github.com/hunianlab/rumahcari/internal/llm"
)

// Message is one entry in a conversation log. Sequence is assigned by
// the store and is monotonic per conversation.
type Message struct {
	Sequence   int64          `json:"sequence"`
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []llm.ToolCall `json:"tool_calls,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ToLLM converts the stored message to its wire shape.
func (m Message) ToLLM() llm.Message {
	return llm.Message{
		Role:       m.Role,
		Content:    m.Content,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
	}
}

// FromLLM wraps a wire message for storage. The tool name is not on the
// wire shape; callers that know it should set it afterwards.
func FromLLM(msg llm.Message) Message {
	return Message{
		Role:       msg.Role,
		Content:    msg.Content,
		ToolCalls:  msg.ToolCalls,
		ToolCallID: msg.ToolCallID,
	}
}

// Conversation is the per-(thread,user) log header.
type Conversation struct {
	ID             int64     `json:"-"`
	ThreadID       string    `json:"thread_id"`
	UserID         string    `json:"user_id,omitempty"`
	Summary        string    `json:"summary,omitempty"`
	SummaryThrough int64     `json:"summary_through,omitempty"`
	MessageCount   int       `json:"message_count"`
	MaxSequence    int64     `json:"max_sequence"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store persists conversations in SQLite. A turn's messages commit in
// one transaction, so a crash never leaves a tool reply without its
// parent assistant message.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	logger *slog.Logger
	closed bool
}

// validateIntegrity checks an existing database before opening. Unlike
// the derived indexes, conversation history cannot be rebuilt from
// source, so a corrupted file is surfaced instead of cleared.
func validateIntegrity(path string) error {
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
	return nil
}

// Open opens or creates the conversation database. An empty path opens
// an in-memory store for testing.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, rcerrors.New(rcerrors.ErrCodeMemoryStore,
				fmt.Sprintf("cannot create conversation directory for %s", path), err)
		}
		if err := validateIntegrity(path); err != nil {
			return nil, rcerrors.New(rcerrors.ErrCodeMemoryStore,
				fmt.Sprintf("conversation database %s failed validation; inspect or remove it", path), err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, rcerrors.New(rcerrors.ErrCodeMemoryStore, "open conversation database", err)
	}

	// One connection: turn commits serialize anyway, and WAL bookkeeping
	// stays simple.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores journal params in the DSN; pragmas are
	// the reliable path.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, rcerrors.New(rcerrors.ErrCodeMemoryStore, "set pragma", err)
		}
	}

	s := &Store{db: db, path: path, logger: logger}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, rcerrors.New(rcerrors.ErrCodeMemoryStore, "initialize conversation schema", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		thread_id TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		summary_through INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (thread_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sequence INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		tool_name TEXT NOT NULL DEFAULT '',
		tool_call_id TEXT NOT NULL DEFAULT '',
		tool_calls TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (conversation_id, sequence)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
			return err
		}
	}
	return nil
}

// Append commits a turn's messages in one transaction, assigning the
// next sequence numbers. An empty batch is a no-op.
func (s *Store) Append(ctx context.Context, threadID, userID string, msgs []Message) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return rcerrors.New(rcerrors.ErrCodeMemoryStore, "conversation store is closed", nil)
	}

	if threadID == "" {
		return rcerrors.New(rcerrors.ErrCodeInvalidInput, "thread_id is required", nil)
	}
	if len(msgs) == 0 {
		return nil
	}
	for i, msg := range msgs {
		if msg.Role == "" {
			return rcerrors.Newf(rcerrors.ErrCodeInvalidInput, "message %d has no role", i)
		}
		if msg.Role == llm.RoleTool && msg.ToolCallID == "" {
			return rcerrors.Newf(rcerrors.ErrCodeInvalidInput, "tool message %d has no tool_call_id", i)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rcerrors.New(rcerrors.ErrCodeMemoryStore, "begin turn transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	convID, err := ensureConversation(ctx, tx, threadID, userID)
	if err != nil {
		return rcerrors.New(rcerrors.ErrCodeMemoryStore, "ensure conversation", err)
	}

	// The cursor also covers summary_through so compaction never frees
	// sequence numbers for reuse.
	var maxSeq, summaryThrough int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(m.sequence), 0), c.summary_through
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.id
		WHERE c.id = ?
		GROUP BY c.id
	`, convID).Scan(&maxSeq, &summaryThrough)
	if err != nil {
		return rcerrors.New(rcerrors.ErrCodeMemoryStore, "read sequence cursor", err)
	}
	if summaryThrough > maxSeq {
		maxSeq = summaryThrough
	}

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (conversation_id, sequence, role, content, tool_name, tool_call_id, tool_calls, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return rcerrors.New(rcerrors.ErrCodeMemoryStore, "prepare message insert", err)
	}
	defer insert.Close()

	now := time.Now().UTC()
	for _, msg := range msgs {
		maxSeq++

		toolCalls := ""
		if len(msg.ToolCalls) > 0 {
			raw, err := json.Marshal(msg.ToolCalls)
			if err != nil {
				return rcerrors.New(rcerrors.ErrCodeInvalidInput, "encode tool calls", err)
			}
			toolCalls = string(raw)
		}

		createdAt := msg.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}

		if _, err := insert.ExecContext(ctx, convID, maxSeq, msg.Role, msg.Content,
			msg.ToolName, msg.ToolCallID, toolCalls, createdAt); err != nil {
			return rcerrors.New(rcerrors.ErrCodeMemoryStore, "insert message", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE conversations SET updated_at = ? WHERE id = ?", now, convID); err != nil {
		return rcerrors.New(rcerrors.ErrCodeMemoryStore, "touch conversation", err)
	}

	if err := tx.Commit(); err != nil {
		return rcerrors.New(rcerrors.ErrCodeMemoryStore, "commit turn", err)
	}
	return nil
}

func ensureConversation(ctx context.Context, tx *sql.Tx, threadID, userID string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (thread_id, user_id)
		VALUES (?, ?)
		ON CONFLICT(thread_id, user_id) DO NOTHING
	`, threadID, userID); err != nil {
		return 0, err
	}

	var id int64
	err := tx.QueryRowContext(ctx,
		"SELECT id FROM conversations WHERE thread_id = ? AND user_id = ?",
		threadID, userID,
	).Scan(&id)
	return id, err
}

// Conversation returns the log header for (threadID, userID), or nil
// when no messages were ever written.
func (s *Store) Conversation(ctx context.Context, threadID, userID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.summary, c.summary_through, c.created_at, c.updated_at,
		       COUNT(m.sequence), COALESCE(MAX(m.sequence), 0)
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.id
		WHERE c.thread_id = ? AND c.user_id = ?
		GROUP BY c.id
	`, threadID, userID)

	conv := Conversation{ThreadID: threadID, UserID: userID}
	err := row.Scan(&conv.ID, &conv.Summary, &conv.SummaryThrough,
		&conv.CreatedAt, &conv.UpdatedAt, &conv.MessageCount, &conv.MaxSequence)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, rcerrors.New(rcerrors.ErrCodeMemoryStore, "load conversation", err)
	}
	if conv.SummaryThrough > conv.MaxSequence {
		conv.MaxSequence = conv.SummaryThrough
	}
	return &conv, nil
}

// LastMessages returns the most recent n messages in chronological
// order.
func (s *Store) LastMessages(ctx context.Context, threadID, userID string, n int) ([]Message, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.sequence, m.role, m.content, m.tool_name, m.tool_call_id, m.tool_calls, m.created_at
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.thread_id = ? AND c.user_id = ?
		ORDER BY m.sequence DESC
		LIMIT ?
	`, threadID, userID, n)
	if err != nil {
		return nil, rcerrors.New(rcerrors.ErrCodeMemoryStore, "load recent messages", err)
	}
	defer rows.Close()

	msgs, err := s.scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MessagesBetween returns messages with afterSeq < sequence <= throughSeq
// in chronological order.
func (s *Store) MessagesBetween(ctx context.Context, threadID, userID string, afterSeq, throughSeq int64) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.sequence, m.role, m.content, m.tool_name, m.tool_call_id, m.tool_calls, m.created_at
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.thread_id = ? AND c.user_id = ? AND m.sequence > ? AND m.sequence <= ?
		ORDER BY m.sequence ASC
	`, threadID, userID, afterSeq, throughSeq)
	if err != nil {
		return nil, rcerrors.New(rcerrors.ErrCodeMemoryStore, "load message range", err)
	}
	defer rows.Close()

	return s.scanMessages(rows)
}

func (s *Store) scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var msg Message
		var toolCalls string
		if err := rows.Scan(&msg.Sequence, &msg.Role, &msg.Content,
			&msg.ToolName, &msg.ToolCallID, &toolCalls, &msg.CreatedAt); err != nil {
			return nil, rcerrors.New(rcerrors.ErrCodeMemoryStore, "scan message", err)
		}
		if toolCalls != "" {
			if err := json.Unmarshal([]byte(toolCalls), &msg.ToolCalls); err != nil {
				// Unreadable tool calls break the pairing invariant for
				// this assistant; downstream repair drops its replies.
				s.logger.Warn("discarding unreadable tool_calls payload",
					"sequence", msg.Sequence, "error", err)
				msg.ToolCalls = nil
			}
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, rcerrors.New(rcerrors.ErrCodeMemoryStore, "iterate messages", err)
	}
	return msgs, nil
}

// ReplaceSummary atomically installs a new summary covering sequences
// up to throughSeq. With compact set, the covered messages are deleted
// in the same transaction.
func (s *Store) ReplaceSummary(ctx context.Context, threadID, userID, summary string, throughSeq int64, compact bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rcerrors.New(rcerrors.ErrCodeMemoryStore, "begin summary transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE conversations
		SET summary = ?, summary_through = ?, updated_at = ?
		WHERE thread_id = ? AND user_id = ?
	`, summary, throughSeq, time.Now().UTC(), threadID, userID)
	if err != nil {
		return rcerrors.New(rcerrors.ErrCodeMemoryStore, "update summary", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return rcerrors.Newf(rcerrors.ErrCodeInvalidInput, "no conversation for thread %q", threadID)
	}

	if compact {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM messages
			WHERE conversation_id = (SELECT id FROM conversations WHERE thread_id = ? AND user_id = ?)
			  AND sequence <= ?
		`, threadID, userID, throughSeq); err != nil {
			return rcerrors.New(rcerrors.ErrCodeMemoryStore, "compact summarized tail", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return rcerrors.New(rcerrors.ErrCodeMemoryStore, "commit summary", err)
	}
	return nil
}

// Threads lists all conversations, most recently active first.
func (s *Store) Threads(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.thread_id, c.user_id, c.summary, c.summary_through, c.created_at, c.updated_at,
		       COUNT(m.sequence), COALESCE(MAX(m.sequence), 0)
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.id
		GROUP BY c.id
		ORDER BY c.updated_at DESC
	`)
	if err != nil {
		return nil, rcerrors.New(rcerrors.ErrCodeMemoryStore, "list threads", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.ThreadID, &conv.UserID, &conv.Summary,
			&conv.SummaryThrough, &conv.CreatedAt, &conv.UpdatedAt,
			&conv.MessageCount, &conv.MaxSequence); err != nil {
			return nil, rcerrors.New(rcerrors.ErrCodeMemoryStore, "scan thread", err)
		}
		if conv.SummaryThrough > conv.MaxSequence {
			conv.MaxSequence = conv.SummaryThrough
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, rcerrors.New(rcerrors.ErrCodeMemoryStore, "iterate threads", err)
	}
	return convs, nil
}

// DeleteThread removes a conversation and its messages. Returns false
// when the thread does not exist.
func (s *Store) DeleteThread(ctx context.Context, threadID, userID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, rcerrors.New(rcerrors.ErrCodeMemoryStore, "begin delete transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM messages
		WHERE conversation_id = (SELECT id FROM conversations WHERE thread_id = ? AND user_id = ?)
	`, threadID, userID); err != nil {
		return false, rcerrors.New(rcerrors.ErrCodeMemoryStore, "delete messages", err)
	}

	res, err := tx.ExecContext(ctx,
		"DELETE FROM conversations WHERE thread_id = ? AND user_id = ?", threadID, userID)
	if err != nil {
		return false, rcerrors.New(rcerrors.ErrCodeMemoryStore, "delete conversation", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return false, rcerrors.New(rcerrors.ErrCodeMemoryStore, "commit delete", err)
	}
	return n > 0, nil
}

// Close checkpoints the WAL and closes the database. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.path != "" {
		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			s.logger.Warn("wal checkpoint failed", "error", err)
		}
	}
	return s.db.Close()
}
