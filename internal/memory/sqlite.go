package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fixie-ai/fixie-agent/internal/llm"
	"github.com/fixie-ai/fixie-agent/internal/ticketing"
)

// SQLiteStore persists conversation state to a SQLite database so
// conversations and pending approvals survive restarts.
type SQLiteStore struct {
	db          *sql.DB
	maxMessages int
}

// NewSQLiteStore opens (or creates) the database at dbPath.
// maxMessages caps the transcript per conversation; zero means 100.
func NewSQLiteStore(dbPath string, maxMessages int) (*SQLiteStore, error) {
	if maxMessages <= 0 {
		maxMessages = 100
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		db:          db,
		maxMessages: maxMessages,
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id                TEXT PRIMARY KEY,
		user_id           TEXT NOT NULL DEFAULT '',
		user_email        TEXT NOT NULL DEFAULT '',
		active_behavior   TEXT NOT NULL DEFAULT '',
		draft             TEXT,
		awaiting_approval INTEGER NOT NULL DEFAULT 0,
		created_at        TEXT NOT NULL,
		updated_at        TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		seq             INTEGER NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		tool_calls      TEXT,
		tool_call_id    TEXT NOT NULL DEFAULT '',
		timestamp       TEXT NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Create(conv *Conversation) error {
	now := time.Now().UTC()
	createdAt := conv.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	draftJSON, err := marshalDraft(conv.Draft)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO conversations (id, user_id, user_email, active_behavior, draft, awaiting_approval, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, conv.ID, conv.UserID, conv.UserEmail, conv.ActiveBehavior, draftJSON,
		boolToInt(conv.AwaitingApproval),
		createdAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(id string) (*Conversation, error) {
	conv, err := s.getConversationRow(id)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT id, role, content, tool_calls, tool_call_id, timestamp
		FROM messages WHERE conversation_id = ? ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m Message
		var toolCallsJSON sql.NullString
		var ts string
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &toolCallsJSON, &m.ToolCallID, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if toolCallsJSON.Valid && toolCallsJSON.String != "" {
			var calls []llm.ToolCall
			if err := json.Unmarshal([]byte(toolCallsJSON.String), &calls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
			m.ToolCalls = calls
		}
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		conv.Messages = append(conv.Messages, m)
	}
	return conv, rows.Err()
}

func (s *SQLiteStore) getConversationRow(id string) (*Conversation, error) {
	var conv Conversation
	var draftJSON sql.NullString
	var awaiting int
	var createdAt, updatedAt string

	err := s.db.QueryRow(`
		SELECT id, user_id, user_email, active_behavior, draft, awaiting_approval, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id).Scan(&conv.ID, &conv.UserID, &conv.UserEmail, &conv.ActiveBehavior,
		&draftJSON, &awaiting, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	conv.AwaitingApproval = awaiting != 0
	conv.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	conv.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	if draftJSON.Valid && draftJSON.String != "" {
		var d ticketing.Draft
		if err := json.Unmarshal([]byte(draftJSON.String), &d); err != nil {
			return nil, fmt.Errorf("decode draft: %w", err)
		}
		conv.Draft = &d
	}
	return &conv, nil
}

func (s *SQLiteStore) Append(id string, msgs ...Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM conversations WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check conversation: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	var seq int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE conversation_id = ?`, id).Scan(&seq); err != nil {
		return fmt.Errorf("max seq: %w", err)
	}

	now := time.Now().UTC()
	for _, m := range msgs {
		seq++
		ts := m.Timestamp
		if ts.IsZero() {
			ts = now
		}
		var toolCallsJSON any
		if len(m.ToolCalls) > 0 {
			b, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			toolCallsJSON = string(b)
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (id, conversation_id, seq, role, content, tool_calls, tool_call_id, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, m.ID, id, seq, m.Role, m.Content, toolCallsJSON, m.ToolCallID, ts.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	// Trim the oldest entries past the cap.
	if _, err := tx.Exec(`
		DELETE FROM messages WHERE conversation_id = ? AND seq <= ? - ?
	`, id, seq, s.maxMessages); err != nil {
		return fmt.Errorf("trim messages: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, now.Format(time.RFC3339Nano), id); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) UpdateState(id, behavior string, draft *ticketing.Draft, awaiting bool) error {
	draftJSON, err := marshalDraft(draft)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE conversations
		SET active_behavior = ?, draft = ?, awaiting_approval = ?, updated_at = ?
		WHERE id = ?
	`, behavior, draftJSON, boolToInt(awaiting), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) List() ([]*Conversation, error) {
	rows, err := s.db.Query(`SELECT id FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, nil
}

func (s *SQLiteStore) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Stats() map[string]any {
	stats := map[string]any{
		"backend":      "sqlite",
		"max_messages": s.maxMessages,
	}

	var conversations, messages, awaiting int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&conversations)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&messages)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM conversations WHERE awaiting_approval = 1`).Scan(&awaiting)

	stats["conversations"] = conversations
	stats["total_messages"] = messages
	stats["awaiting_approval"] = awaiting
	return stats
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func marshalDraft(d *ticketing.Draft) (any, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode draft: %w", err)
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
