package memory

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var testLog = zerolog.Nop()

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "evamem.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// summarizerFunc adapts a function to the Summarizer interface.
type summarizerFunc func(ctx context.Context, utterances []Utterance) (SummaryResult, error)

func (f summarizerFunc) Summarize(ctx context.Context, utterances []Utterance) (SummaryResult, error) {
	return f(ctx, utterances)
}

type scriptStep struct {
	result SummaryResult
	err    error
}

// scriptedSummarizer replays a fixed sequence of results. Calls beyond the
// script repeat the last step.
type scriptedSummarizer struct {
	mu    sync.Mutex
	calls int
	steps []scriptStep
}

func (s *scriptedSummarizer) Summarize(ctx context.Context, utterances []Utterance) (SummaryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	step := s.steps[idx]
	return step.result, step.err
}

func (s *scriptedSummarizer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func fastPipeline(store Store, summ Summarizer, batchSize, maxAttempts int) *CompressionPipeline {
	return NewCompressionPipeline(store, summ, PipelineOptions{
		BatchSize:   batchSize,
		CallTimeout: time.Second,
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
	}, nil, testLog)
}

func appendTurns(t *testing.T, st *ShortTermContextStore, userID string, texts ...string) {
	t.Helper()
	role := RoleUser
	for _, text := range texts {
		if _, _, err := st.Append(context.Background(), ContextEntry{
			UserID: userID,
			Role:   role,
			Text:   text,
		}); err != nil {
			t.Fatalf("append %q: %v", text, err)
		}
		if role == RoleUser {
			role = RoleAssistant
		} else {
			role = RoleUser
		}
	}
}
