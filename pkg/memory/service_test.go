package memory

import (
	"context"
	"testing"
	"time"
)

func newTestService(t *testing.T, cfg ServiceConfig, summ Summarizer) (*Service, *SQLiteStore) {
	t.Helper()
	store := newTestStore(t)
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = time.Second
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Millisecond
	}
	svc := NewService(cfg, store, summ, nil, testLog)
	t.Cleanup(svc.Close)
	return svc, store
}

func TestServiceAppendTriggersBackgroundCompression(t *testing.T) {
	summ := &scriptedSummarizer{steps: []scriptStep{okResult("User is planning a trip.",
		DraftFact{Category: "goal", Content: "planning a trip to Kyoto", Importance: 7})}}
	svc, store := newTestService(t, ServiceConfig{Capacity: 2, MaxAttempts: 3}, summ)
	ctx := context.Background()

	for _, text := range []string{"I want to visit Kyoto", "When?", "Next spring"} {
		if _, err := svc.AppendTurn(ctx, "alice", "phone", RoleUser, text); err != nil {
			t.Fatalf("AppendTurn(%q): %v", text, err)
		}
	}

	// The third append overflows capacity 2 and kicks off compression in
	// the background; wait for the batch to drain.
	deadline := time.Now().Add(5 * time.Second)
	for {
		count, err := store.CountActiveEntries(ctx, "alice")
		if err != nil {
			t.Fatalf("CountActiveEntries: %v", err)
		}
		if count == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("background compression never drained the buffer, %d entries left", count)
		}
		time.Sleep(10 * time.Millisecond)
	}

	records, err := svc.ListMemories(ctx, "alice", "", 10)
	if err != nil {
		t.Fatalf("ListMemories: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 compressed record, got %d", len(records))
	}
	if records[0].Source != SourceCompressed {
		t.Errorf("record source = %q, want compressed", records[0].Source)
	}
}

func TestServiceRequestCompressionStoresSummary(t *testing.T) {
	summ := &scriptedSummarizer{steps: []scriptStep{okResult("User adopted a dog named Rex.",
		DraftFact{Category: "event", Content: "adopted a dog named Rex", Importance: 7})}}
	svc, _ := newTestService(t, ServiceConfig{MaxAttempts: 3}, summ)
	ctx := context.Background()

	if _, err := svc.AppendTurn(ctx, "alice", "phone", RoleUser, "We adopted a dog, his name is Rex"); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	job, err := svc.RequestCompression(ctx, "alice")
	if err != nil {
		t.Fatalf("RequestCompression: %v", err)
	}
	if job.State != JobIdle {
		t.Errorf("job state = %q, want idle", job.State)
	}

	summary, err := svc.GetSummary(ctx, "alice")
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if summary != "User adopted a dog named Rex." {
		t.Errorf("summary = %q", summary)
	}
}

func TestServiceCompressionRefreshesSearchResults(t *testing.T) {
	summ := &scriptedSummarizer{steps: []scriptStep{okResult("Tea habits.",
		DraftFact{Category: "fact", Content: "drinks tea every evening", Importance: 6})}}
	svc, _ := newTestService(t, ServiceConfig{MaxAttempts: 3}, summ)
	ctx := context.Background()

	if _, err := svc.SaveMemory(ctx, MemoryRecord{
		UserID: "alice", Content: "likes green tea", Category: CategoryFact, Importance: 5,
	}); err != nil {
		t.Fatalf("SaveMemory: %v", err)
	}
	first, err := svc.SearchMemory(ctx, "alice", "tea", 10)
	if err != nil {
		t.Fatalf("first SearchMemory: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first search returned %d results", len(first))
	}

	if _, err := svc.AppendTurn(ctx, "alice", "phone", RoleUser, "I drink tea every evening now"); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if _, err := svc.RequestCompression(ctx, "alice"); err != nil {
		t.Fatalf("RequestCompression: %v", err)
	}

	second, err := svc.SearchMemory(ctx, "alice", "tea", 10)
	if err != nil {
		t.Fatalf("second SearchMemory: %v", err)
	}
	if len(second) != 2 {
		t.Errorf("search after compression returned %d results, want 2 (stale cache?)", len(second))
	}
}

func TestServiceRecentTurnsDefaultLimit(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{}, summarizerFunc(func(context.Context, []Utterance) (SummaryResult, error) {
		return SummaryResult{}, nil
	}))
	ctx := context.Background()

	if _, err := svc.AppendTurn(ctx, "alice", "phone", RoleUser, "hello there"); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	// An omitted limit falls back to the context window, not zero.
	turns, err := svc.GetRecentTurns(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("GetRecentTurns: %v", err)
	}
	if len(turns) != 1 {
		t.Errorf("default limit returned %d turns, want 1", len(turns))
	}
}

func TestServiceGetSummaryEmptyBeforeCompression(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{}, summarizerFunc(func(context.Context, []Utterance) (SummaryResult, error) {
		return SummaryResult{}, nil
	}))

	summary, err := svc.GetSummary(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if summary != "" {
		t.Errorf("summary = %q, want empty", summary)
	}
}

func TestServiceBuildContextUsesDefaultBudget(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{}, summarizerFunc(func(context.Context, []Utterance) (SummaryResult, error) {
		return SummaryResult{}, nil
	}))
	ctx := context.Background()

	if _, err := svc.AppendTurn(ctx, "alice", "phone", RoleUser, "remember the milk"); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if _, err := svc.SaveMemory(ctx, MemoryRecord{
		UserID: "alice", Content: "buys oat milk", Category: CategoryPreference, Importance: 6,
	}); err != nil {
		t.Fatalf("SaveMemory: %v", err)
	}

	fragments, err := svc.BuildContext(ctx, "alice", "milk", 0)
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if len(fragments) != 2 {
		t.Fatalf("expected 2 fragments under the default budget, got %d", len(fragments))
	}
	if fragments[0].Provenance != ProvenanceLongTerm {
		t.Errorf("first fragment provenance = %q, want long_term", fragments[0].Provenance)
	}
}

func TestServiceClearContext(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{}, summarizerFunc(func(context.Context, []Utterance) (SummaryResult, error) {
		return SummaryResult{}, nil
	}))
	ctx := context.Background()

	if _, err := svc.AppendTurn(ctx, "alice", "phone", RoleUser, "scratch that"); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if err := svc.ClearContext(ctx, "alice"); err != nil {
		t.Fatalf("ClearContext: %v", err)
	}
	turns, err := svc.GetRecentTurns(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("GetRecentTurns: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("expected empty buffer, got %d turns", len(turns))
	}
}

func TestServiceCloseIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{SweepInterval: time.Hour}, summarizerFunc(func(context.Context, []Utterance) (SummaryResult, error) {
		return SummaryResult{}, nil
	}))
	svc.Close()
	svc.Close()
}
