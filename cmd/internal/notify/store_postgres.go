package notify

import (
	"context"
	"encoding/json"
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
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("notify: empty schema")
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
		return nil, errors.New("notify: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "notifications"}.Sanitize()
}

const notificationColumns = `id, user_id, title, message, type, metadata,
	priority, is_read, read_at, expires_at, created_at`

func scanNotification(row pgx.Row) (Notification, error) {
	var (
		n    Notification
		meta []byte
	)
	err := row.Scan(
		&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &meta,
		&n.Priority, &n.IsRead, &n.ReadAt, &n.ExpiresAt, &n.CreatedAt,
	)
	if err != nil {
		return Notification{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &n.Metadata); err != nil {
			return Notification{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return n, nil
}

// Insert persists the notification and fills in the generated id.
func (s *PostgresStore) Insert(ctx context.Context, n *Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table()+` (
		     user_id, title, message, type, metadata, priority,
		     is_read, expires_at, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $8)
		   RETURNING id`,
		n.UserID, n.Title, n.Message, string(n.Type), meta, string(n.Priority),
		n.ExpiresAt, n.CreatedAt,
	).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// Page returns a newest-first window of unexpired notifications.
func (s *PostgresStore) Page(ctx context.Context, in PageInput) (PageResult, error) {
	if err := ctx.Err(); err != nil {
		return PageResult{}, err
	}

	limit := clampPageSize(in.Limit)
	fetch := limit + 1
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	q := `SELECT ` + notificationColumns + ` FROM ` + s.table() + `
	       WHERE user_id = $1 AND (expires_at IS NULL OR expires_at > $2)`
	args := []any{in.UserID, now}
	if in.UnreadOnly {
		q += ` AND NOT is_read`
	}
	if in.Before != nil {
		args = append(args, *in.Before)
		q += fmt.Sprintf(` AND id < $%d`, len(args))
	}
	args = append(args, fetch)
	q += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return PageResult{}, err
	}
	defer rows.Close()

	list := make([]Notification, 0, fetch)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return PageResult{}, err
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return PageResult{}, err
	}

	hasMore := len(list) > limit
	if hasMore {
		list = list[:limit]
	}
	return PageResult{Notifications: list, HasMore: hasMore}, nil
}

// MarkRead flips read state for one notification owned by userID.
func (s *PostgresStore) MarkRead(ctx context.Context, id, userID int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+`
		    SET is_read = TRUE, read_at = $3
		  WHERE id = $1 AND user_id = $2 AND NOT is_read`,
		id, userID, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish "missing" from "already read": already-read is a no-op.
		var one int
		err := s.pool.QueryRow(ctx,
			`SELECT 1 FROM `+s.table()+` WHERE id = $1 AND user_id = $2`,
			id, userID,
		).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// MarkAllRead flips read state for every unread notification owned by userID.
// Matching zero rows is a successful no-op.
func (s *PostgresStore) MarkAllRead(ctx context.Context, userID int64, at time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+`
		    SET is_read = TRUE, read_at = $2
		  WHERE user_id = $1 AND NOT is_read`,
		userID, at,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UnreadCount counts notifications that are unread AND unexpired at "now".
func (s *PostgresStore) UnreadCount(ctx context.Context, userID int64, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+s.table()+`
		  WHERE user_id = $1 AND NOT is_read
		    AND (expires_at IS NULL OR expires_at > $2)`,
		userID, now,
	).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
