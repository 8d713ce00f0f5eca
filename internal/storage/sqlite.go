//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/utestwalter/Mila/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

// sqliteStore keeps both artifacts of a task in one row, so a single
// statement commits or rolls back the whole record.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	if _, err := db.ExecContext(context.Background(), migrationsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Put(ctx context.Context, def TaskDefinition) error {
	if err := ValidateID(def.ID); err != nil {
		return err
	}
	meta, err := encodeMetadata(def)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, owner, instructions, meta, created_at, updated_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   owner=excluded.owner, instructions=excluded.instructions,
		   meta=excluded.meta, updated_at=excluded.updated_at`,
		def.ID, def.Owner, def.Instructions, string(meta), now, now,
	)
	return err
}

func (s *sqliteStore) Get(ctx context.Context, id string) (TaskDefinition, bool, error) {
	if err := ValidateID(id); err != nil {
		return TaskDefinition{}, false, err
	}
	var text, meta string
	err := s.db.QueryRowContext(ctx, `SELECT instructions, meta FROM tasks WHERE id = ?`, id).Scan(&text, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return TaskDefinition{}, false, nil
	}
	if err != nil {
		return TaskDefinition{}, false, err
	}
	def, err := decodeRecord(id, text, []byte(meta))
	return def, true, err
}

func (s *sqliteStore) Delete(ctx context.Context, id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *sqliteStore) List(ctx context.Context, f Filter) (Listing, error) {
	q := `SELECT id, instructions, meta FROM tasks ORDER BY id`
	var args []any
	if f.Owner != "" {
		prefix := f.Owner + "_"
		q = `SELECT id, instructions, meta FROM tasks WHERE substr(id, 1, ?) = ? ORDER BY id`
		args = []any{len(prefix), prefix}
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return Listing{}, err
	}
	defer rows.Close()

	var out Listing
	for rows.Next() {
		var id, text, meta string
		if err := rows.Scan(&id, &text, &meta); err != nil {
			return Listing{}, err
		}
		if _, err := decodeRecord(id, text, []byte(meta)); err != nil {
			out.Corrupt = append(out.Corrupt, CorruptRecord{ID: id, Reason: err.Error()})
			continue
		}
		out.IDs = append(out.IDs, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, user_id, username, chat_id, action, task_id, text, ok, err)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.UserID, nullStr(e.Username), e.ChatID,
		e.Action, nullStr(e.TaskID), nullStr(e.Text), e.OK, nullStr(e.Error),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
