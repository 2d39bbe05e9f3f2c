package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the canonical persistent storage for both collections.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the memory database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create memory db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process store. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines, and makes every
	// read a point-in-time snapshot relative to the commit transaction.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS context_entries (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			device_id TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			size_estimate INTEGER NOT NULL DEFAULT 0,
			eviction_pending INTEGER NOT NULL DEFAULT 0,
			archived INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS context_entries_user_active_idx ON context_entries(user_id, archived, created_at_ms, seq);`,
		`CREATE TABLE IF NOT EXISTS memory_records (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			category TEXT NOT NULL,
			content TEXT NOT NULL,
			importance INTEGER NOT NULL,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			source TEXT NOT NULL,
			source_entry_ids_json TEXT NOT NULL DEFAULT '[]',
			keywords_json TEXT NOT NULL DEFAULT '[]',
			content_hash TEXT NOT NULL DEFAULT '',
			job_id TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS memory_records_user_idx ON memory_records(user_id, importance DESC, created_at_ms DESC);`,
		`CREATE INDEX IF NOT EXISTS memory_records_hash_idx ON memory_records(user_id, content_hash);`,
		`CREATE TABLE IF NOT EXISTS user_summaries (
			user_id TEXT PRIMARY KEY,
			summary TEXT NOT NULL DEFAULT '',
			updated_at_ms INTEGER NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(sql string) string {
	line := strings.TrimSpace(sql)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func encodeStrings(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeStrings(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	out := []string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func (s *SQLiteStore) InsertContextEntry(ctx context.Context, entry ContextEntry) (ContextEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM context_entries WHERE user_id = ?`, entry.UserID)
	var maxSeq int64
	if err := row.Scan(&maxSeq); err != nil {
		return ContextEntry{}, fmt.Errorf("next entry seq: %w", err)
	}
	entry.Seq = maxSeq + 1

	_, err := s.db.ExecContext(ctx, `
INSERT INTO context_entries(id, user_id, device_id, role, text, created_at_ms, seq, size_estimate, eviction_pending, archived)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, 0, 0)`,
		entry.ID, entry.UserID, entry.DeviceID, string(entry.Role), entry.Text,
		entry.CreatedAt.UnixMilli(), entry.Seq, entry.SizeEstimate)
	if err != nil {
		return ContextEntry{}, fmt.Errorf("insert context entry: %w", err)
	}
	return entry, nil
}

const entryColumns = `id, user_id, device_id, role, text, created_at_ms, seq, size_estimate, eviction_pending, archived`

func scanEntry(scan func(dest ...any) error) (ContextEntry, error) {
	var (
		e              ContextEntry
		role           string
		createdMS      int64
		pending, archd int
	)
	if err := scan(&e.ID, &e.UserID, &e.DeviceID, &role, &e.Text, &createdMS, &e.Seq, &e.SizeEstimate, &pending, &archd); err != nil {
		return ContextEntry{}, err
	}
	e.Role = Role(role)
	e.CreatedAt = time.UnixMilli(createdMS)
	e.EvictionPending = pending == 1
	e.Archived = archd == 1
	return e, nil
}

func (s *SQLiteStore) queryEntries(ctx context.Context, query string, args ...any) ([]ContextEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ContextEntry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan context entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListRecentEntries(ctx context.Context, userID string, limit int) ([]ContextEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	entries, err := s.queryEntries(ctx, `
SELECT `+entryColumns+` FROM context_entries
WHERE user_id = ? AND archived = 0
ORDER BY created_at_ms DESC, seq DESC
LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent entries: %w", err)
	}
	// Chronological ascending for callers.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (s *SQLiteStore) ListUncompressedEntries(ctx context.Context, userID string, limit int) ([]ContextEntry, error) {
	entries, err := s.queryEntries(ctx, `
SELECT `+entryColumns+` FROM context_entries
WHERE user_id = ? AND archived = 0
ORDER BY created_at_ms ASC, seq ASC
LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list uncompressed entries: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) CountActiveEntries(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM context_entries WHERE user_id = ? AND archived = 0`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active entries: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) OldestActiveEntry(ctx context.Context, userID string) (ContextEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+entryColumns+` FROM context_entries
WHERE user_id = ? AND archived = 0
ORDER BY created_at_ms ASC, seq ASC
LIMIT 1`, userID)
	e, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return ContextEntry{}, false, nil
	}
	if err != nil {
		return ContextEntry{}, false, fmt.Errorf("oldest active entry: %w", err)
	}
	return e, true, nil
}

func (s *SQLiteStore) MarkEvictionPending(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	placeholders := make([]string, 0, len(ids))
	for _, id := range ids {
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE context_entries SET eviction_pending = 1
WHERE user_id = ? AND id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return fmt.Errorf("mark eviction pending: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearEntries(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM context_entries WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PurgeArchivedPending(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM context_entries
WHERE user_id = ? AND archived = 1 AND eviction_pending = 1`, userID)
	if err != nil {
		return 0, fmt.Errorf("purge archived entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) ListUsersWithEntriesBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT user_id FROM context_entries
WHERE archived = 0 AND created_at_ms <= ?`, cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list users with old entries: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const recordColumns = `id, user_id, category, content, importance, created_at_ms, updated_at_ms, source, source_entry_ids_json, keywords_json, content_hash, job_id`

func scanRecord(scan func(dest ...any) error) (MemoryRecord, error) {
	var (
		r                    MemoryRecord
		category, source     string
		createdMS, updatedMS int64
		sourceIDs, keywords  string
	)
	if err := scan(&r.ID, &r.UserID, &category, &r.Content, &r.Importance, &createdMS, &updatedMS, &source, &sourceIDs, &keywords, &r.ContentHash, &r.JobID); err != nil {
		return MemoryRecord{}, err
	}
	r.Category = Category(category)
	r.Source = RecordSource(source)
	r.CreatedAt = time.UnixMilli(createdMS)
	r.UpdatedAt = time.UnixMilli(updatedMS)
	r.SourceEntryIDs = decodeStrings(sourceIDs)
	r.Keywords = decodeStrings(keywords)
	return r, nil
}

func (s *SQLiteStore) InsertMemoryRecord(ctx context.Context, rec MemoryRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO memory_records(`+recordColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, string(rec.Category), rec.Content, rec.Importance,
		rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli(), string(rec.Source),
		encodeStrings(rec.SourceEntryIDs), encodeStrings(rec.Keywords), rec.ContentHash, rec.JobID)
	if err != nil {
		return fmt.Errorf("insert memory record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMemoryRecord(ctx context.Context, userID, id string) (MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+recordColumns+` FROM memory_records WHERE id = ? AND user_id = ?`, id, userID)
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return MemoryRecord{}, &NotFoundError{Entity: "memory record", ID: id}
	}
	if err != nil {
		return MemoryRecord{}, fmt.Errorf("get memory record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) UpdateMemoryRecord(ctx context.Context, rec MemoryRecord) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE memory_records
SET category = ?, content = ?, importance = ?, updated_at_ms = ?, keywords_json = ?, content_hash = ?
WHERE id = ? AND user_id = ?`,
		string(rec.Category), rec.Content, rec.Importance, rec.UpdatedAt.UnixMilli(),
		encodeStrings(rec.Keywords), rec.ContentHash, rec.ID, rec.UserID)
	if err != nil {
		return fmt.Errorf("update memory record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Entity: "memory record", ID: rec.ID}
	}
	return nil
}

func (s *SQLiteStore) DeleteMemoryRecord(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_records WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete memory record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Entity: "memory record", ID: id}
	}
	return nil
}

func (s *SQLiteStore) ListMemoryRecords(ctx context.Context, userID string, category Category, limit int) ([]MemoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + recordColumns + ` FROM memory_records WHERE user_id = ?`
	args := []any{userID}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, string(category))
	}
	query += ` ORDER BY importance DESC, created_at_ms DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memory records: %w", err)
	}
	defer rows.Close()

	var out []MemoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan memory record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) HasContentHash(ctx context.Context, userID, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM memory_records WHERE user_id = ? AND content_hash = ? LIMIT 1`, userID, hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check content hash: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) CommitCompression(ctx context.Context, userID, jobID string, records []MemoryRecord, entryIDs []string) ([]MemoryRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin commit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted := make([]MemoryRecord, 0, len(records))
	for _, rec := range records {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM memory_records WHERE id = ?`, rec.ID).Scan(&exists)
		switch {
		case err == nil:
			// Already written by a previous partial commit of this job.
			inserted = append(inserted, rec)
			continue
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("check record existence: %w", err)
		}

		var dup int
		err = tx.QueryRowContext(ctx, `
SELECT 1 FROM memory_records WHERE user_id = ? AND content_hash = ? LIMIT 1`,
			userID, rec.ContentHash).Scan(&dup)
		if err == nil {
			continue // duplicate fact, skip
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("check duplicate hash: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO memory_records(`+recordColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.UserID, string(rec.Category), rec.Content, rec.Importance,
			rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli(), string(rec.Source),
			encodeStrings(rec.SourceEntryIDs), encodeStrings(rec.Keywords), rec.ContentHash, jobID); err != nil {
			return nil, fmt.Errorf("insert compressed record: %w", err)
		}
		inserted = append(inserted, rec)
	}

	if len(entryIDs) > 0 {
		args := make([]any, 0, len(entryIDs)+1)
		args = append(args, userID)
		placeholders := make([]string, 0, len(entryIDs))
		for _, id := range entryIDs {
			placeholders = append(placeholders, "?")
			args = append(args, id)
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE context_entries SET archived = 1
WHERE user_id = ? AND id IN (`+strings.Join(placeholders, ",")+`)`, args...); err != nil {
			return nil, fmt.Errorf("archive compressed entries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit compression tx: %w", err)
	}
	return inserted, nil
}

func (s *SQLiteStore) GetUserSummary(ctx context.Context, userID string) (string, error) {
	var summary string
	err := s.db.QueryRowContext(ctx,
		`SELECT summary FROM user_summaries WHERE user_id = ?`, userID).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get user summary: %w", err)
	}
	return summary, nil
}

func (s *SQLiteStore) SetUserSummary(ctx context.Context, userID, summary string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO user_summaries(user_id, summary, updated_at_ms)
VALUES(?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET summary = excluded.summary, updated_at_ms = excluded.updated_at_ms`,
		userID, summary, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set user summary: %w", err)
	}
	return nil
}
