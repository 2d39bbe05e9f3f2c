package memory

import (
	"context"
	"time"
)

// Store is the persistence collaborator: per-user keyed document CRUD over
// the context_entries and memory_records collections, plus the single
// transactional primitive the compression commit needs. No other schema
// assumptions are placed on it.
type Store interface {
	Close() error

	// context_entries
	InsertContextEntry(ctx context.Context, entry ContextEntry) (ContextEntry, error)
	ListRecentEntries(ctx context.Context, userID string, limit int) ([]ContextEntry, error)
	ListUncompressedEntries(ctx context.Context, userID string, limit int) ([]ContextEntry, error)
	CountActiveEntries(ctx context.Context, userID string) (int, error)
	OldestActiveEntry(ctx context.Context, userID string) (ContextEntry, bool, error)
	MarkEvictionPending(ctx context.Context, userID string, ids []string) error
	ClearEntries(ctx context.Context, userID string) error
	PurgeArchivedPending(ctx context.Context, userID string) (int, error)
	ListUsersWithEntriesBefore(ctx context.Context, cutoff time.Time) ([]string, error)

	// memory_records
	InsertMemoryRecord(ctx context.Context, rec MemoryRecord) error
	GetMemoryRecord(ctx context.Context, userID, id string) (MemoryRecord, error)
	UpdateMemoryRecord(ctx context.Context, rec MemoryRecord) error
	DeleteMemoryRecord(ctx context.Context, userID, id string) error
	ListMemoryRecords(ctx context.Context, userID string, category Category, limit int) ([]MemoryRecord, error)
	HasContentHash(ctx context.Context, userID, hash string) (bool, error)

	// CommitCompression atomically persists the records of one compression
	// batch and archives its source entries. Records already written under
	// the same job id, and records whose content hash already exists for
	// the user, are skipped, so a retried commit never duplicates facts.
	// Readers see either the pre-commit or the post-commit state.
	CommitCompression(ctx context.Context, userID, jobID string, records []MemoryRecord, entryIDs []string) ([]MemoryRecord, error)

	// rolling per-user conversation summary
	GetUserSummary(ctx context.Context, userID string) (string, error)
	SetUserSummary(ctx context.Context, userID, summary string) error
}
