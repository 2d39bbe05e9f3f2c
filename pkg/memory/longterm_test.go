package memory

import (
	"context"
	"testing"
	"time"
)

func newTestLongTerm(t *testing.T) (*LongTermMemoryStore, *SQLiteStore) {
	t.Helper()
	store := newTestStore(t)
	return NewLongTermMemoryStore(store, nil, testLog), store
}

func mustSave(t *testing.T, lt *LongTermMemoryStore, rec MemoryRecord) MemoryRecord {
	t.Helper()
	saved, err := lt.Save(context.Background(), rec)
	if err != nil {
		t.Fatalf("Save(%q): %v", rec.Content, err)
	}
	return saved
}

func TestSaveValidationPersistsNothing(t *testing.T) {
	lt, store := newTestLongTerm(t)
	ctx := context.Background()

	cases := []MemoryRecord{
		{UserID: "alice", Content: "", Category: CategoryFact, Importance: 5},
		{UserID: "alice", Content: "   ", Category: CategoryFact, Importance: 5},
		{UserID: "alice", Content: "likes tea", Category: Category("mood"), Importance: 5},
		{UserID: "alice", Content: "likes tea", Category: CategoryFact, Importance: 0},
		{UserID: "alice", Content: "likes tea", Category: CategoryFact, Importance: 11},
		{UserID: "", Content: "likes tea", Category: CategoryFact, Importance: 5},
	}
	for _, rec := range cases {
		if _, err := lt.Save(ctx, rec); !IsValidation(err) {
			t.Errorf("Save(%+v) = %v, want ValidationError", rec, err)
		}
	}

	records, err := store.ListMemoryRecords(ctx, "alice", "", 10)
	if err != nil {
		t.Fatalf("ListMemoryRecords: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("rejected saves persisted %d records", len(records))
	}
}

func TestSaveGetUpdateDelete(t *testing.T) {
	lt, _ := newTestLongTerm(t)
	ctx := context.Background()

	saved := mustSave(t, lt, MemoryRecord{
		UserID: "alice", Content: "prefers dark mode", Category: CategoryPreference, Importance: 7,
	})
	if saved.ID == "" {
		t.Fatal("Save did not assign an id")
	}
	if saved.Source != SourceManual {
		t.Errorf("Source = %q, want manual", saved.Source)
	}

	got, err := lt.Get(ctx, "alice", saved.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != "prefers dark mode" {
		t.Errorf("Get content = %q", got.Content)
	}

	importance := 9
	updated, err := lt.Update(ctx, "alice", saved.ID, RecordPatch{Importance: &importance})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Importance != 9 {
		t.Errorf("updated importance = %d, want 9", updated.Importance)
	}
	if updated.Content != "prefers dark mode" {
		t.Errorf("patch clobbered content: %q", updated.Content)
	}

	if err := lt.Delete(ctx, "alice", saved.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// Deletion is terminal: a repeated delete fails NotFound.
	if err := lt.Delete(ctx, "alice", saved.ID); !IsNotFound(err) {
		t.Errorf("second Delete = %v, want NotFoundError", err)
	}
	if _, err := lt.Get(ctx, "alice", saved.ID); !IsNotFound(err) {
		t.Errorf("Get after delete = %v, want NotFoundError", err)
	}
}

func TestGetIsScopedToOwner(t *testing.T) {
	lt, _ := newTestLongTerm(t)

	saved := mustSave(t, lt, MemoryRecord{
		UserID: "alice", Content: "likes tea", Category: CategoryFact, Importance: 5,
	})
	if _, err := lt.Get(context.Background(), "bob", saved.ID); !IsNotFound(err) {
		t.Errorf("cross-user Get = %v, want NotFoundError", err)
	}
}

func TestUpdateRevalidates(t *testing.T) {
	lt, _ := newTestLongTerm(t)
	ctx := context.Background()

	saved := mustSave(t, lt, MemoryRecord{
		UserID: "alice", Content: "likes tea", Category: CategoryFact, Importance: 5,
	})

	importance := 99
	if _, err := lt.Update(ctx, "alice", saved.ID, RecordPatch{Importance: &importance}); !IsValidation(err) {
		t.Fatalf("Update with importance 99 = %v, want ValidationError", err)
	}

	got, err := lt.Get(ctx, "alice", saved.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Importance != 5 {
		t.Errorf("failed update mutated importance to %d", got.Importance)
	}
}

func TestCompressedSaveRequiresSourceEntries(t *testing.T) {
	lt, _ := newTestLongTerm(t)

	_, err := lt.Save(context.Background(), MemoryRecord{
		UserID: "alice", Content: "likes tea", Category: CategoryFact, Importance: 5,
		Source: SourceCompressed,
	})
	if !IsValidation(err) {
		t.Fatalf("compressed Save without source entries = %v, want ValidationError", err)
	}
}

func TestSearchRanksMatchCountAndImportance(t *testing.T) {
	lt, _ := newTestLongTerm(t)
	ctx := context.Background()

	mustSave(t, lt, MemoryRecord{
		UserID: "alice", Content: "prefers dark mode in all apps", Category: CategoryPreference, Importance: 8,
	})
	mustSave(t, lt, MemoryRecord{
		UserID: "alice", Content: "has a dark wallpaper", Category: CategoryFact, Importance: 8,
	})
	mustSave(t, lt, MemoryRecord{
		UserID: "alice", Content: "works as a florist", Category: CategoryFact, Importance: 10,
	})

	results, err := lt.Search(ctx, "alice", "dark mode", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	// Two token matches beat one at equal importance and age.
	if results[0].Record.Content != "prefers dark mode in all apps" {
		t.Errorf("top result = %q", results[0].Record.Content)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("scores not descending: %f then %f", results[0].Score, results[1].Score)
	}
}

func TestSearchTieBreaksByImportance(t *testing.T) {
	lt, _ := newTestLongTerm(t)

	// Two token matches at importance 5 score the same as one match at
	// importance 10; the tie must break toward higher importance.
	now := time.Now()
	mustSave(t, lt, MemoryRecord{
		UserID: "alice", Content: "loves hiking trails", Category: CategoryFact, Importance: 5, CreatedAt: now,
	})
	mustSave(t, lt, MemoryRecord{
		UserID: "alice", Content: "hiking marathon next spring", Category: CategoryGoal, Importance: 10, CreatedAt: now,
	})

	results, err := lt.Search(context.Background(), "alice", "hiking trails", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Score != results[1].Score {
		t.Fatalf("expected a score tie, got %f and %f", results[0].Score, results[1].Score)
	}
	if results[0].Record.Importance != 10 {
		t.Errorf("top result importance = %d, want 10", results[0].Record.Importance)
	}
}

func TestSearchExcludesZeroScore(t *testing.T) {
	lt, _ := newTestLongTerm(t)

	mustSave(t, lt, MemoryRecord{
		UserID: "alice", Content: "likes tea", Category: CategoryFact, Importance: 5,
	})

	results, err := lt.Search(context.Background(), "alice", "quantum physics", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestSearchMatchesKeywords(t *testing.T) {
	lt, _ := newTestLongTerm(t)

	mustSave(t, lt, MemoryRecord{
		UserID: "alice", Content: "drinks espresso every morning", Category: CategoryFact, Importance: 6,
		Keywords: []string{"coffee"},
	})

	results, err := lt.Search(context.Background(), "alice", "coffee", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("keyword match returned %d results, want 1", len(results))
	}
}

func TestSearchCacheInvalidatedOnWrite(t *testing.T) {
	lt, _ := newTestLongTerm(t)
	ctx := context.Background()

	mustSave(t, lt, MemoryRecord{
		UserID: "alice", Content: "likes green tea", Category: CategoryFact, Importance: 5,
	})

	first, err := lt.Search(ctx, "alice", "tea", 10)
	if err != nil {
		t.Fatalf("first Search: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first search returned %d results", len(first))
	}

	mustSave(t, lt, MemoryRecord{
		UserID: "alice", Content: "buys tea from the market", Category: CategoryFact, Importance: 5,
	})

	second, err := lt.Search(ctx, "alice", "tea", 10)
	if err != nil {
		t.Fatalf("second Search: %v", err)
	}
	if len(second) != 2 {
		t.Errorf("search after save returned %d results, want 2 (stale cache?)", len(second))
	}
}

func TestListFiltersByCategory(t *testing.T) {
	lt, _ := newTestLongTerm(t)
	ctx := context.Background()

	mustSave(t, lt, MemoryRecord{UserID: "alice", Content: "prefers window seats", Category: CategoryPreference, Importance: 6})
	mustSave(t, lt, MemoryRecord{UserID: "alice", Content: "learning spanish", Category: CategoryGoal, Importance: 8})
	mustSave(t, lt, MemoryRecord{UserID: "alice", Content: "allergic to peanuts", Category: CategoryFact, Importance: 10})

	all, err := lt.List(ctx, "alice", "", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if all[0].Importance < all[1].Importance || all[1].Importance < all[2].Importance {
		t.Error("List not ordered by importance descending")
	}

	goals, err := lt.List(ctx, "alice", CategoryGoal, 10)
	if err != nil {
		t.Fatalf("List(goal): %v", err)
	}
	if len(goals) != 1 || goals[0].Content != "learning spanish" {
		t.Errorf("category filter returned %+v", goals)
	}
}
