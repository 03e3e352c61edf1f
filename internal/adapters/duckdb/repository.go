package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/sonika-ai/conductor/internal/core/domain"
)

// Repository is the DuckDB-backed persistence layer. One embedded database
// file holds conversations, messages, traces, and settings.
type Repository struct {
	db *sql.DB
}

// NewRepository opens (or creates) the database at path and runs migrations.
// An empty path opens an in-memory database, used by tests.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	r := &Repository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id         VARCHAR PRIMARY KEY,
			title      VARCHAR NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id              VARCHAR PRIMARY KEY,
			conversation_id VARCHAR NOT NULL,
			role            VARCHAR NOT NULL,
			content         VARCHAR NOT NULL,
			tool_calls      VARCHAR,
			tool_call_id    VARCHAR,
			tool_name       VARCHAR,
			created_at      TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS traces (
			id              VARCHAR PRIMARY KEY,
			name            VARCHAR NOT NULL,
			status          VARCHAR NOT NULL,
			conversation_id VARCHAR,
			root_span_id    VARCHAR NOT NULL,
			start_time      TIMESTAMP NOT NULL,
			end_time        TIMESTAMP,
			duration_ms     BIGINT,
			span_count      INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS spans (
			id          VARCHAR PRIMARY KEY,
			trace_id    VARCHAR NOT NULL,
			parent_id   VARCHAR,
			name        VARCHAR NOT NULL,
			kind        VARCHAR NOT NULL,
			status      VARCHAR NOT NULL,
			input       VARCHAR,
			output      VARCHAR,
			error       VARCHAR,
			attributes  VARCHAR,
			start_time  TIMESTAMP NOT NULL,
			end_time    TIMESTAMP,
			duration_ms BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key        VARCHAR PRIMARY KEY,
			value      VARCHAR NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// --- Conversations ---

func (r *Repository) CreateConversation(ctx context.Context, conv domain.Conversation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		string(conv.ID), conv.Title, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (r *Repository) GetConversation(ctx context.Context, id domain.ConversationID) (domain.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, title, created_at, updated_at
		FROM conversations WHERE id = ?`, string(id))

	var conv domain.Conversation
	var convID string
	if err := row.Scan(&convID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Conversation{}, domain.ErrConversationNotFound
		}
		return domain.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	conv.ID = domain.ConversationID(convID)
	return conv, nil
}

func (r *Repository) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []domain.Conversation
	for rows.Next() {
		var conv domain.Conversation
		var convID string
		if err := rows.Scan(&convID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conv.ID = domain.ConversationID(convID)
		out = append(out, conv)
	}
	return out, rows.Err()
}

func (r *Repository) UpdateConversationTitle(ctx context.Context, id domain.ConversationID, title string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now(), string(id))
	if err != nil {
		return fmt.Errorf("update conversation title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}

func (r *Repository) DeleteConversation(ctx context.Context, id domain.ConversationID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, string(id)); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return tx.Commit()
}

// --- Messages ---

func (r *Repository) AddMessage(ctx context.Context, msg domain.Message) error {
	var toolCalls []byte
	if len(msg.ToolCalls) > 0 {
		toolCalls, _ = json.Marshal(msg.ToolCalls)
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, tool_calls, tool_call_id, tool_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(msg.ID),
		string(msg.ConversationID),
		string(msg.Role),
		msg.Content,
		string(toolCalls),
		msg.ToolCallID,
		msg.ToolName,
		createdAt)
	if err != nil {
		return fmt.Errorf("add message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ?`,
		createdAt, string(msg.ConversationID)); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return tx.Commit()
}

// ListMessages returns the last limit messages of a conversation in
// chronological order. limit <= 0 means all messages.
func (r *Repository) ListMessages(ctx context.Context, convID domain.ConversationID, limit int) ([]domain.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, tool_calls, tool_call_id, tool_name, created_at
		FROM (
			SELECT * FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, id DESC
			%s
		)
		ORDER BY created_at ASC, id ASC`

	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, fmt.Sprintf(query, "LIMIT ?"), string(convID), limit)
	} else {
		rows, err = r.db.QueryContext(ctx, fmt.Sprintf(query, ""), string(convID))
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var msg domain.Message
		var msgID, msgConvID, role, toolCalls string
		if err := rows.Scan(&msgID, &msgConvID, &role, &msg.Content, &toolCalls, &msg.ToolCallID, &msg.ToolName, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.ID = domain.MessageID(msgID)
		msg.ConversationID = domain.ConversationID(msgConvID)
		msg.Role = domain.MessageRole(role)
		if toolCalls != "" {
			_ = json.Unmarshal([]byte(toolCalls), &msg.ToolCalls)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// --- Settings ---

func (r *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	row := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

func (r *Repository) SaveSetting(ctx context.Context, key string, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, time.Now())
	if err != nil {
		return fmt.Errorf("save setting: %w", err)
	}
	return nil
}
