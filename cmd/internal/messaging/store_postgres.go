package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "microhire").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("messaging: empty schema")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "microhire",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("messaging: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) messagesTable() string {
	return pgx.Identifier{s.schema, "messages"}.Sanitize()
}

const messageColumns = `id, sender_id, receiver_id, content, message_type, conversation_id,
	COALESCE(file_url, ''), COALESCE(file_name, ''),
	is_read, read_at, is_deleted, deleted_at, created_at, edited_at`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(
		&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Type, &m.ConversationID,
		&m.FileURL, &m.FileName,
		&m.IsRead, &m.ReadAt, &m.IsDeleted, &m.DeletedAt, &m.CreatedAt, &m.EditedAt,
	)
	return m, err
}

// Insert persists the message and fills in the generated id.
func (s *PostgresStore) Insert(ctx context.Context, m *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.messagesTable()+` (
		     sender_id, receiver_id, content, message_type, conversation_id,
		     file_url, file_name, is_read, created_at
		   ) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), FALSE, $8)
		   RETURNING id`,
		m.SenderID, m.ReceiverID, m.Content, string(m.Type), m.ConversationID,
		m.FileURL, m.FileName, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// Get returns the message by id. Soft-deleted rows report ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, id int64) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	m, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+s.messagesTable()+`
		  WHERE id = $1 AND NOT is_deleted`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

// Page returns a newest-first window, excluding soft-deleted rows.
// Concurrently-arriving messages may surface in a later page; there is no
// snapshot isolation across pages.
func (s *PostgresStore) Page(ctx context.Context, in PageInput) (PageResult, error) {
	if err := ctx.Err(); err != nil {
		return PageResult{}, err
	}
	if in.ConversationID == "" {
		return PageResult{}, fmt.Errorf("%w: missing conversation id", ErrInvalidInput)
	}

	limit := clampPageSize(in.Limit)
	fetch := limit + 1

	var (
		rows pgx.Rows
		err  error
	)
	if in.Before == nil {
		rows, err = s.pool.Query(ctx,
			`SELECT `+messageColumns+` FROM `+s.messagesTable()+`
			  WHERE conversation_id = $1 AND NOT is_deleted
			  ORDER BY id DESC
			  LIMIT $2`,
			in.ConversationID, fetch,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+messageColumns+` FROM `+s.messagesTable()+`
			  WHERE conversation_id = $1 AND NOT is_deleted AND id < $2
			  ORDER BY id DESC
			  LIMIT $3`,
			in.ConversationID, *in.Before, fetch,
		)
	}
	if err != nil {
		return PageResult{}, err
	}
	defer rows.Close()

	msgs := make([]Message, 0, fetch)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return PageResult{}, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return PageResult{}, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	return PageResult{Messages: msgs, HasMore: hasMore}, nil
}

// MarkRead flips read state for every unread message addressed to readerID.
// Idempotent: a second call matches zero rows and does not error.
func (s *PostgresStore) MarkRead(ctx context.Context, conversationID string, readerID int64, at time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.messagesTable()+`
		    SET is_read = TRUE, read_at = $3
		  WHERE conversation_id = $1 AND receiver_id = $2
		    AND NOT is_read AND NOT is_deleted`,
		conversationID, readerID, at,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UpdateContent rewrites message content and stamps the edit time.
func (s *PostgresStore) UpdateContent(ctx context.Context, id int64, content string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.messagesTable()+`
		    SET content = $2, edited_at = $3
		  WHERE id = $1 AND NOT is_deleted`,
		id, content, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete marks the row deleted; the row itself persists for audit.
func (s *PostgresStore) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.messagesTable()+`
		    SET is_deleted = TRUE, deleted_at = $2
		  WHERE id = $1 AND NOT is_deleted`,
		id, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UnreadCount counts unread, non-deleted messages addressed to readerID.
func (s *PostgresStore) UnreadCount(ctx context.Context, conversationID string, readerID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+s.messagesTable()+`
		  WHERE conversation_id = $1 AND receiver_id = $2
		    AND NOT is_read AND NOT is_deleted`,
		conversationID, readerID,
	).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
