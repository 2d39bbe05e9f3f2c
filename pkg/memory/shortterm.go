package memory

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// userLocks hands out one mutex per user id. Locks are created on first use
// and retained for process lifetime; operations for different users never
// block each other.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *userLocks) forUser(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := l.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[userID] = lock
	}
	return lock
}

// ShortTermContextStore keeps the most recent conversation turns per user in
// exact arrival order. A per-user lock serializes writers, so interleaved
// multi-device appends still produce a single strictly ordered sequence.
type ShortTermContextStore struct {
	store    Store
	capacity int
	ttl      time.Duration
	locks    userLocks
	log      zerolog.Logger
}

const (
	// DefaultCapacity is the per-user buffer size before entries become
	// eviction-pending.
	DefaultCapacity = 50
	// DefaultTTL is the maximum retention age before an entry becomes
	// eviction-pending.
	DefaultTTL = 24 * time.Hour
)

func NewShortTermContextStore(store Store, capacity int, ttl time.Duration, log zerolog.Logger) *ShortTermContextStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ShortTermContextStore{
		store:    store,
		capacity: capacity,
		ttl:      ttl,
		log:      log.With().Str("component", "shortterm").Logger(),
	}
}

// Append assigns a monotonic sequence number and inserts entry at the tail.
// Entries pushed past capacity or TTL are flagged eviction-pending rather
// than deleted; they are only physically removed after compression, so no
// turn is ever silently lost. Returns the stored entry and the number of
// entries now pending eviction.
func (s *ShortTermContextStore) Append(ctx context.Context, entry ContextEntry) (ContextEntry, int, error) {
	if entry.UserID == "" {
		return ContextEntry{}, 0, &ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	if entry.Role != RoleUser && entry.Role != RoleAssistant {
		return ContextEntry{}, 0, &ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", entry.Role)}
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.SizeEstimate <= 0 {
		entry.SizeEstimate = utf8.RuneCountInString(entry.Text)
	}

	lock := s.locks.forUser(entry.UserID)
	lock.Lock()
	defer lock.Unlock()

	stored, err := s.store.InsertContextEntry(ctx, entry)
	if err != nil {
		return ContextEntry{}, 0, err
	}

	pending, err := s.flagEvictionPending(ctx, entry.UserID)
	if err != nil {
		return ContextEntry{}, 0, err
	}
	if pending > 0 {
		s.log.Debug().Str("user_id", entry.UserID).Int("pending", pending).
			Msg("entries flagged eviction-pending")
	}
	return stored, pending, nil
}

// flagEvictionPending marks entries past capacity or older than the TTL.
// Caller holds the user lock.
func (s *ShortTermContextStore) flagEvictionPending(ctx context.Context, userID string) (int, error) {
	count, err := s.store.CountActiveEntries(ctx, userID)
	if err != nil {
		return 0, err
	}

	overflow := count - s.capacity
	cutoff := time.Now().Add(-s.ttl)

	// Oldest-first scan covers both conditions in one pass: the first
	// `overflow` entries are past capacity, and any entry older than the
	// cutoff is past TTL regardless of position.
	entries, err := s.store.ListUncompressedEntries(ctx, userID, count)
	if err != nil {
		return 0, err
	}

	var flag []string
	pending := 0
	for i, e := range entries {
		past := i < overflow || e.CreatedAt.Before(cutoff)
		if !past {
			break
		}
		pending++
		if !e.EvictionPending {
			flag = append(flag, e.ID)
		}
	}
	if len(flag) > 0 {
		if err := s.store.MarkEvictionPending(ctx, userID, flag); err != nil {
			return 0, err
		}
	}
	return pending, nil
}

// GetRecent returns up to limit of the user's most recent entries in
// chronological order. It never fails for an unknown user; it just returns
// an empty slice.
func (s *ShortTermContextStore) GetRecent(ctx context.Context, userID string, limit int) ([]ContextEntry, error) {
	lock := s.locks.forUser(userID)
	lock.Lock()
	defer lock.Unlock()
	return s.store.ListRecentEntries(ctx, userID, limit)
}

// Clear wipes the user's buffer. Clearing an already empty buffer is a
// no-op, not an error.
func (s *ShortTermContextStore) Clear(ctx context.Context, userID string) error {
	lock := s.locks.forUser(userID)
	lock.Lock()
	defer lock.Unlock()
	return s.store.ClearEntries(ctx, userID)
}

// OldestAge returns the age of the oldest active entry, or zero when the
// buffer is empty.
func (s *ShortTermContextStore) OldestAge(ctx context.Context, userID string) (time.Duration, error) {
	oldest, ok, err := s.store.OldestActiveEntry(ctx, userID)
	if err != nil || !ok {
		return 0, err
	}
	return time.Since(oldest.CreatedAt), nil
}

// Capacity returns the configured buffer capacity.
func (s *ShortTermContextStore) Capacity() int { return s.capacity }

// TTL returns the configured maximum retention age.
func (s *ShortTermContextStore) TTL() time.Duration { return s.ttl }
