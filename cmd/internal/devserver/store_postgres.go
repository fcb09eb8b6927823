package devserver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	v1 "github.com/Coding-Lml/love-space/shared/contracts/chat/v1"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultSchema = "lovechat"

// PostgresStore is a MessageStore backed by PostgreSQL.
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

// WithSchema sets the DB schema used by this store (default: "lovechat").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("devserver: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("devserver: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed MessageStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: defaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("devserver: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// EnsureSchema creates the schema and the messages table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	messages := s.table()
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{s.schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + messages + ` (
		   id           BIGSERIAL PRIMARY KEY,
		   from_user_id BIGINT    NOT NULL,
		   to_user_id   BIGINT    NOT NULL,
		   type         TEXT      NOT NULL,
		   content      TEXT      NOT NULL DEFAULT '',
		   media_url    TEXT      NOT NULL DEFAULT '',
		   extra        JSONB,
		   status       TEXT      NOT NULL DEFAULT 'sent' CHECK (status IN ('sent', 'read')),
		   created_at   TIMESTAMP NOT NULL DEFAULT now()
		 )`,
		`CREATE INDEX IF NOT EXISTS messages_pair_id_idx ON ` + messages + ` (from_user_id, to_user_id, id DESC)`,
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Append inserts a message; the id comes from the BIGSERIAL sequence.
func (s *PostgresStore) Append(ctx context.Context, in AppendInput) (v1.Message, error) {
	if err := in.validate(); err != nil {
		return v1.Message{}, err
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	var extra any
	if len(in.Extra) > 0 {
		extra = string(in.Extra)
	}

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table()+` (from_user_id, to_user_id, type, content, media_url, extra, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, 'sent', $7)
		 RETURNING id`,
		in.FromUserID, in.ToUserID, in.Type, in.Content, in.MediaURL, extra, now,
	).Scan(&id)
	if err != nil {
		return v1.Message{}, fmt.Errorf("insert message: %w", err)
	}

	return v1.Message{
		ID:         id,
		FromUserID: in.FromUserID,
		ToUserID:   in.ToUserID,
		Type:       in.Type,
		Content:    in.Content,
		MediaURL:   in.MediaURL,
		Extra:      in.Extra,
		Status:     v1.StatusSent,
		CreatedAt:  formatCreatedAt(now),
	}, nil
}

// History returns the newest page older than BeforeID in ascending order.
func (s *PostgresStore) History(ctx context.Context, q HistoryQuery) ([]v1.Message, error) {
	before := q.BeforeID
	if before <= 0 {
		before = 1<<63 - 1
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, from_user_id, to_user_id, type, content, media_url, extra::text, status, created_at
		   FROM (
		     SELECT * FROM `+s.table()+`
		      WHERE ((from_user_id = $1 AND to_user_id = $2) OR (from_user_id = $2 AND to_user_id = $1))
		        AND id < $3
		      ORDER BY id DESC
		      LIMIT $4
		   ) page
		  ORDER BY id ASC`,
		q.UserID, q.PartnerID, before, q.limit(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]v1.Message, 0, q.limit())
	for rows.Next() {
		var (
			m       v1.Message
			extra   *string
			created time.Time
		)
		if err := rows.Scan(&m.ID, &m.FromUserID, &m.ToUserID, &m.Type, &m.Content, &m.MediaURL, &extra, &m.Status, &created); err != nil {
			return nil, err
		}
		if extra != nil {
			m.Extra = []byte(*extra)
		}
		m.CreatedAt = formatCreatedAt(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkRead flips unread messages addressed to readerID in one statement.
func (s *PostgresStore) MarkRead(ctx context.Context, readerID, partnerID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE `+s.table()+`
		    SET status = 'read'
		  WHERE to_user_id = $1 AND from_user_id = $2 AND status = 'sent'
		RETURNING id`,
		readerID, partnerID,
	)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *PostgresStore) table() string { return pgIdent(s.schema, "messages") }

// NewDBPool builds a pgxpool and validates connectivity.
func NewDBPool(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		pcfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool { return pgIdentRE.MatchString(s) }

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
