package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evahq/evamem/pkg/metrics"
)

// CompressionPipeline drains the short-term buffer into long-term memory
// via the summarizer. At most one job runs per user at any instant; a
// second trigger while a job is active is rejected with
// ErrConcurrencyConflict, never queued.
type CompressionPipeline struct {
	store      Store
	summarizer Summarizer
	metrics    *metrics.Set
	log        zerolog.Logger

	batchSize        int
	callTimeout      time.Duration
	maxAttempts      int
	baseDelay        time.Duration
	invalidateSearch func(userID string)

	mu     sync.Mutex
	active map[string]struct{}
	// failed retains the last COMMIT_FAILED job per user so a re-trigger
	// retries the same batch under the same job id instead of
	// re-summarizing it.
	failed map[string]*CompressionJob
}

const (
	// DefaultBatchSize is the maximum number of entries per job.
	DefaultBatchSize = 20
	// DefaultCallTimeout bounds each summarizer call; a timeout is treated
	// identically to a transient network failure.
	DefaultCallTimeout = 10 * time.Second
	// DefaultMaxAttempts is the summarizer retry budget per job.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay seeds the exponential backoff between attempts.
	DefaultBaseDelay = 500 * time.Millisecond
)

// PipelineOptions tunes the pipeline; zero values take defaults.
type PipelineOptions struct {
	BatchSize   int
	CallTimeout time.Duration
	MaxAttempts int
	BaseDelay   time.Duration

	// InvalidateSearch is called after a commit writes new records, since
	// the commit reaches the store directly and would otherwise leave stale
	// cached search results behind. Optional.
	InvalidateSearch func(userID string)
}

func NewCompressionPipeline(store Store, summarizer Summarizer, opts PipelineOptions, m *metrics.Set, log zerolog.Logger) *CompressionPipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &CompressionPipeline{
		store:            store,
		summarizer:       summarizer,
		metrics:          m,
		log:              log.With().Str("component", "compression").Logger(),
		batchSize:        opts.BatchSize,
		callTimeout:      opts.CallTimeout,
		maxAttempts:      opts.MaxAttempts,
		baseDelay:        opts.BaseDelay,
		invalidateSearch: opts.InvalidateSearch,
		active:           make(map[string]struct{}),
		failed:           make(map[string]*CompressionJob),
	}
}

// Run executes one compression job for the user. An empty candidate set is
// an immediate success with zero new records. The returned job reports the
// terminal state even when err is non-nil.
func (p *CompressionPipeline) Run(ctx context.Context, userID string, trigger Trigger) (CompressionJob, error) {
	if err := p.acquire(userID); err != nil {
		return CompressionJob{UserID: userID, Trigger: trigger, State: JobIdle}, err
	}
	defer p.release(userID)

	p.metrics.JobsStarted.WithLabelValues(string(trigger)).Inc()

	// A previously failed commit retries the same batch under the same
	// job id; the summarizer is not called again.
	if prev := p.takeFailed(userID); prev != nil {
		prev.Trigger = trigger
		return p.commit(ctx, prev)
	}

	job := &CompressionJob{
		ID:      uuid.NewString(),
		UserID:  userID,
		Trigger: trigger,
		State:   JobCollecting,
	}

	entries, err := p.store.ListUncompressedEntries(ctx, userID, p.batchSize)
	if err != nil {
		job.State = JobIdle
		return *job, fmt.Errorf("collect candidates: %w", err)
	}
	if len(entries) == 0 {
		job.State = JobIdle
		return *job, nil
	}
	for _, e := range entries {
		job.CandidateIDs = append(job.CandidateIDs, e.ID)
	}

	job.State = JobSummarizing
	result, err := p.summarize(ctx, job, entries)
	if err != nil {
		if IsValidation(err) {
			// Malformed summarizer output is non-retryable but scoped to
			// the drafts, not the job: commit with nothing to keep.
			p.log.Warn().Str("user_id", userID).Err(err).
				Msg("summarizer output rejected, committing batch without drafts")
			p.metrics.DraftsDropped.Inc()
			result = SummaryResult{}
		} else {
			// Entries stay untouched; a later trigger retries from scratch.
			job.State = JobSummarizeFailed
			p.metrics.JobsFailed.WithLabelValues("summarize").Inc()
			p.log.Error().Str("user_id", userID).Str("job_id", job.ID).
				Int("attempts", job.AttemptCount).Err(err).
				Msg("compression job failed in summarize")
			return *job, fmt.Errorf("summarize batch: %w", err)
		}
	}

	job.pending = p.validateDrafts(job, result.Facts)
	if result.Summary != "" {
		if err := p.store.SetUserSummary(ctx, userID, result.Summary); err != nil {
			p.log.Warn().Str("user_id", userID).Err(err).Msg("store user summary")
		}
	}
	return p.commit(ctx, job)
}

// Active reports whether a job is currently running for the user.
func (p *CompressionPipeline) Active(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[userID]
	return ok
}

func (p *CompressionPipeline) acquire(userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.active[userID]; ok {
		return ErrConcurrencyConflict
	}
	p.active[userID] = struct{}{}
	return nil
}

func (p *CompressionPipeline) release(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, userID)
}

func (p *CompressionPipeline) takeFailed(userID string) *CompressionJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	job := p.failed[userID]
	delete(p.failed, userID)
	return job
}

func (p *CompressionPipeline) keepFailed(job *CompressionJob) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed[job.UserID] = job
}

// summarize calls the external summarizer with the retry policy: base delay
// 500ms, factor 2, jitter ±20%, bounded attempts. Each call carries its own
// timeout; a timeout retries like any other transient failure.
func (p *CompressionPipeline) summarize(ctx context.Context, job *CompressionJob, entries []ContextEntry) (SummaryResult, error) {
	utterances := make([]Utterance, 0, len(entries))
	for _, e := range entries {
		utterances = append(utterances, Utterance{Role: e.Role, Text: e.Text, Timestamp: e.CreatedAt})
	}

	operation := func() (SummaryResult, error) {
		job.AttemptCount++
		callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		defer cancel()
		result, err := p.summarizer.Summarize(callCtx, utterances)
		if err == nil {
			return result, nil
		}
		if IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
			return SummaryResult{}, err
		}
		return SummaryResult{}, backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.baseDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0.2

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(p.maxAttempts)))
}

// validateDrafts converts drafts into records, dropping invalid drafts
// individually rather than failing the job. Record ids are assigned here so
// a retried commit reuses them.
func (p *CompressionPipeline) validateDrafts(job *CompressionJob, drafts []DraftFact) []MemoryRecord {
	now := time.Now()
	records := make([]MemoryRecord, 0, len(drafts))
	for _, draft := range drafts {
		category := Category(strings.ToLower(strings.TrimSpace(draft.Category)))
		if err := validateRecordFields(draft.Content, category, draft.Importance); err != nil {
			p.metrics.DraftsDropped.Inc()
			p.log.Warn().Str("user_id", job.UserID).Str("job_id", job.ID).
				Str("category", draft.Category).Err(err).Msg("dropping invalid draft")
			continue
		}
		records = append(records, MemoryRecord{
			ID:             uuid.NewString(),
			UserID:         job.UserID,
			Category:       category,
			Content:        strings.TrimSpace(draft.Content),
			Importance:     draft.Importance,
			CreatedAt:      now,
			UpdatedAt:      now,
			Source:         SourceCompressed,
			SourceEntryIDs: job.CandidateIDs,
			Keywords:       extractKeywords(draft.Content),
			ContentHash:    HashContent(draft.Content),
			JobID:          job.ID,
		})
	}
	return records
}

func (p *CompressionPipeline) commit(ctx context.Context, job *CompressionJob) (CompressionJob, error) {
	job.State = JobCommitting
	inserted, err := p.store.CommitCompression(ctx, job.UserID, job.ID, job.pending, job.CandidateIDs)
	if err != nil {
		job.State = JobCommitFailed
		p.keepFailed(job)
		p.metrics.JobsFailed.WithLabelValues("commit").Inc()
		p.log.Error().Str("user_id", job.UserID).Str("job_id", job.ID).Err(err).
			Msg("compression job failed in commit")
		return *job, fmt.Errorf("commit batch: %w", err)
	}

	job.ResultRecordIDs = job.ResultRecordIDs[:0]
	for _, rec := range inserted {
		job.ResultRecordIDs = append(job.ResultRecordIDs, rec.ID)
	}
	if len(inserted) > 0 && p.invalidateSearch != nil {
		p.invalidateSearch(job.UserID)
	}

	// Archived entries that were eviction-pending have now been preserved
	// in long-term memory and can be physically removed.
	purged, err := p.store.PurgeArchivedPending(ctx, job.UserID)
	if err != nil {
		p.log.Warn().Str("user_id", job.UserID).Err(err).Msg("purge archived entries")
	}

	job.State = JobIdle
	p.metrics.JobsCompleted.Inc()
	p.metrics.RecordsWritten.Add(float64(len(inserted)))
	p.metrics.EntriesArchived.Add(float64(len(job.CandidateIDs)))
	p.log.Info().Str("user_id", job.UserID).Str("job_id", job.ID).
		Str("trigger", string(job.Trigger)).
		Int("candidates", len(job.CandidateIDs)).
		Int("records", len(inserted)).
		Int("purged", purged).
		Msg("compression job committed")
	return *job, nil
}
