package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "github.com/yushkov-tech/mmtotgbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutDedup(ctx context.Context, fingerprint string, seenAt time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if fingerprint == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(fingerprint, seen_at) VALUES(?,?)
		 ON CONFLICT(fingerprint) DO NOTHING`,
		fingerprint, seenAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) ListDedup(ctx context.Context) (map[string]time.Time, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT fingerprint, seen_at FROM dedup`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]time.Time{}
	for rows.Next() {
		var fp string
		var ms int64
		if err := rows.Scan(&fp, &ms); err != nil {
			return nil, err
		}
		out[fp] = time.UnixMilli(ms)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneDedup(ctx context.Context, before time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE seen_at < ?`, before.UnixMilli())
	return err
}

func (s *sqliteStore) PutPending(ctx context.Context, rec PendingRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending(notification_id, channel_id, post_id, author_id, text, arrived_at, sent_at, deadline)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(notification_id) DO UPDATE SET
		   channel_id=excluded.channel_id, post_id=excluded.post_id,
		   author_id=excluded.author_id, text=excluded.text,
		   arrived_at=excluded.arrived_at, sent_at=excluded.sent_at,
		   deadline=excluded.deadline`,
		rec.NotificationID, rec.ChannelID, rec.PostID, rec.AuthorID, rec.Text,
		rec.ArrivedAt.UnixMilli(), rec.SentAt.UnixMilli(), rec.Deadline.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) DeletePending(ctx context.Context, notificationID int) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending WHERE notification_id = ?`, notificationID)
	return err
}

func (s *sqliteStore) ListPending(ctx context.Context) ([]PendingRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT notification_id, channel_id, post_id, author_id, text, arrived_at, sent_at, deadline
		 FROM pending ORDER BY deadline`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingRecord
	for rows.Next() {
		var rec PendingRecord
		var arrived, sent, deadline int64
		if err := rows.Scan(&rec.NotificationID, &rec.ChannelID, &rec.PostID, &rec.AuthorID,
			&rec.Text, &arrived, &sent, &deadline); err != nil {
			return nil, err
		}
		rec.ArrivedAt = time.UnixMilli(arrived)
		rec.SentAt = time.UnixMilli(sent)
		rec.Deadline = time.UnixMilli(deadline)
		out = append(out, rec)
	}
	return out, rows.Err()
}
