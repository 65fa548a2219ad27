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

	"shiftbot/pkg/logx"
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
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
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

func (s *sqliteStore) Insert(ctx context.Context, r Request) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO requests(kind, channel_id, owner_id, content, start_ts, end_ts, message_id)
		 VALUES(?,?,?,?,?,?,NULL)`,
		r.Kind, r.ChannelID, r.OwnerID, r.Content, r.StartAt.Unix(), r.EndAt.Unix(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) DueToPost(ctx context.Context, now time.Time, lead time.Duration) ([]Request, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	ts := now.Unix()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, channel_id, owner_id, content, start_ts, end_ts, message_id
		 FROM requests
		 WHERE message_id IS NULL AND start_ts - ? <= ? AND end_ts > ?
		 ORDER BY start_ts ASC, id ASC`,
		int64(lead/time.Second), ts, ts,
	)
	if err != nil {
		return nil, err
	}
	return scanRequests(rows)
}

func (s *sqliteStore) DueToRetract(ctx context.Context, now time.Time) ([]Request, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, channel_id, owner_id, content, start_ts, end_ts, message_id
		 FROM requests
		 WHERE end_ts <= ?
		 ORDER BY end_ts ASC, id ASC`,
		now.Unix(),
	)
	if err != nil {
		return nil, err
	}
	return scanRequests(rows)
}

func (s *sqliteStore) MarkPosted(ctx context.Context, id int64, messageID string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE requests SET message_id = ? WHERE id = ?`, messageID, id)
	return err
}

func (s *sqliteStore) Remove(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE id = ?`, id)
	return err
}

func scanRequests(rows *sql.Rows) ([]Request, error) {
	defer rows.Close()
	var out []Request
	for rows.Next() {
		var (
			r              Request
			startTS, endTS int64
			messageID      sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.ChannelID, &r.OwnerID, &r.Content, &startTS, &endTS, &messageID); err != nil {
			return nil, err
		}
		r.StartAt = time.Unix(startTS, 0).UTC()
		r.EndAt = time.Unix(endTS, 0).UTC()
		if messageID.Valid {
			r.MessageID = messageID.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
