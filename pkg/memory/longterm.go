package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/evahq/evamem/pkg/metrics"
)

// LongTermMemoryStore is the durable catalog of memory facts with validated
// writes and deterministic relevance search. Reads and writes are safe for
// unrestricted concurrent multi-user access.
type LongTermMemoryStore struct {
	store   Store
	cache   *lru.Cache[string, []ScoredRecord]
	metrics *metrics.Set
	log     zerolog.Logger
}

const (
	searchCacheSize = 256
	searchScanLimit = 500
	// relevance decays with a 30-day constant; a month-old fact scores
	// 1/e of a fresh one.
	ageDecayDays = 30.0
)

func NewLongTermMemoryStore(store Store, m *metrics.Set, log zerolog.Logger) *LongTermMemoryStore {
	cache, _ := lru.New[string, []ScoredRecord](searchCacheSize)
	if m == nil {
		m = metrics.NewNop()
	}
	return &LongTermMemoryStore{
		store:   store,
		cache:   cache,
		metrics: m,
		log:     log.With().Str("component", "longterm").Logger(),
	}
}

func validateRecordFields(content string, category Category, importance int) error {
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if !ValidCategory(category) {
		return &ValidationError{Field: "category", Reason: fmt.Sprintf("%q is not a known category", category)}
	}
	if importance < 1 || importance > 10 {
		return &ValidationError{Field: "importance", Reason: fmt.Sprintf("%d is outside [1,10]", importance)}
	}
	return nil
}

// HashContent returns the short content hash used for duplicate detection.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(sum[:])[:16]
}

func normalizeKeywords(keywords []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Save validates and persists a record, assigning an id when absent.
// Invalid importance, unknown category or empty content fail with
// ValidationError and persist nothing.
func (l *LongTermMemoryStore) Save(ctx context.Context, rec MemoryRecord) (MemoryRecord, error) {
	if rec.UserID == "" {
		return MemoryRecord{}, &ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	if err := validateRecordFields(rec.Content, rec.Category, rec.Importance); err != nil {
		return MemoryRecord{}, err
	}
	if rec.Source == "" {
		rec.Source = SourceManual
	}
	if rec.Source == SourceCompressed && len(rec.SourceEntryIDs) == 0 {
		return MemoryRecord{}, &ValidationError{Field: "source_entry_ids", Reason: "compressed records must reference at least one source entry"}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.Keywords = normalizeKeywords(rec.Keywords)
	rec.ContentHash = HashContent(rec.Content)

	if err := l.store.InsertMemoryRecord(ctx, rec); err != nil {
		return MemoryRecord{}, err
	}
	l.InvalidateSearchCache(rec.UserID)
	return rec, nil
}

// Get fails NotFound if the record is absent or owned by a different user.
func (l *LongTermMemoryStore) Get(ctx context.Context, userID, id string) (MemoryRecord, error) {
	return l.store.GetMemoryRecord(ctx, userID, id)
}

// Update applies a partial patch restricted to content, category,
// importance and keywords, re-validating as in Save.
func (l *LongTermMemoryStore) Update(ctx context.Context, userID, id string, patch RecordPatch) (MemoryRecord, error) {
	rec, err := l.store.GetMemoryRecord(ctx, userID, id)
	if err != nil {
		return MemoryRecord{}, err
	}
	if patch.Content != nil {
		rec.Content = *patch.Content
		rec.ContentHash = HashContent(rec.Content)
	}
	if patch.Category != nil {
		rec.Category = *patch.Category
	}
	if patch.Importance != nil {
		rec.Importance = *patch.Importance
	}
	if patch.Keywords != nil {
		rec.Keywords = normalizeKeywords(*patch.Keywords)
	}
	if err := validateRecordFields(rec.Content, rec.Category, rec.Importance); err != nil {
		return MemoryRecord{}, err
	}
	rec.UpdatedAt = time.Now()
	if err := l.store.UpdateMemoryRecord(ctx, rec); err != nil {
		return MemoryRecord{}, err
	}
	l.InvalidateSearchCache(userID)
	return rec, nil
}

// Delete removes the record. Deletion is terminal: a repeated delete of the
// same id fails NotFound, since existence is checked against current state.
func (l *LongTermMemoryStore) Delete(ctx context.Context, userID, id string) error {
	if err := l.store.DeleteMemoryRecord(ctx, userID, id); err != nil {
		return err
	}
	l.InvalidateSearchCache(userID)
	return nil
}

// List returns the user's records ordered by importance descending,
// optionally filtered by category.
func (l *LongTermMemoryStore) List(ctx context.Context, userID string, category Category, limit int) ([]MemoryRecord, error) {
	return l.store.ListMemoryRecords(ctx, userID, category, limit)
}

// Search ranks the user's records against the query:
//
//	score = Σ_match 1 × (importance/10) × exp(-age_days/30)
//
// summed over case-insensitive whitespace-split query tokens found in the
// record content or keywords. Ties break by importance, then created_at,
// both descending. Zero-score records are excluded.
func (l *LongTermMemoryStore) Search(ctx context.Context, userID, query string, limit int) ([]ScoredRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	cacheKey := fmt.Sprintf("%s|%s|%d", userID, strings.Join(tokens, " "), limit)
	if hits, ok := l.cache.Get(cacheKey); ok {
		l.metrics.SearchCacheHits.Inc()
		return hits, nil
	}
	l.metrics.SearchCacheMiss.Inc()

	records, err := l.store.ListMemoryRecords(ctx, userID, "", searchScanLimit)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	scored := make([]ScoredRecord, 0, len(records))
	for _, rec := range records {
		score := relevanceScore(rec, tokens, now)
		if score <= 0 {
			continue
		}
		scored = append(scored, ScoredRecord{Record: rec, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Record.Importance != scored[j].Record.Importance {
			return scored[i].Record.Importance > scored[j].Record.Importance
		}
		return scored[i].Record.CreatedAt.After(scored[j].Record.CreatedAt)
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	l.cache.Add(cacheKey, scored)
	return scored, nil
}

func relevanceScore(rec MemoryRecord, tokens []string, now time.Time) float64 {
	content := strings.ToLower(rec.Content)
	ageDays := now.Sub(rec.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	perMatch := (float64(rec.Importance) / 10.0) * math.Exp(-ageDays/ageDecayDays)

	score := 0.0
	for _, tok := range tokens {
		if strings.Contains(content, tok) || containsKeyword(rec.Keywords, tok) {
			score += perMatch
		}
	}
	return score
}

func containsKeyword(keywords []string, tok string) bool {
	for _, k := range keywords {
		if k == tok {
			return true
		}
	}
	return false
}

func queryTokens(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	seen := map[string]struct{}{}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// InvalidateSearchCache drops cached search results for the user. Every
// write path must call it: Save, Update and Delete do so internally, and the
// compression pipeline calls it after committing a batch, since committed
// records reach the store without passing through this type.
func (l *LongTermMemoryStore) InvalidateSearchCache(userID string) {
	prefix := userID + "|"
	for _, key := range l.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			l.cache.Remove(key)
		}
	}
}
