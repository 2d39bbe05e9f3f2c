package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/evahq/evamem/pkg/metrics"
)

// ServiceConfig tunes the memory engine; zero values take defaults.
type ServiceConfig struct {
	Capacity    int
	TTL         time.Duration
	BatchSize   int
	CallTimeout time.Duration
	MaxAttempts int
	BaseDelay   time.Duration

	ContextFacts int
	ContextTurns int
	SizeBudget   int

	// SweepInterval is how often the background worker looks for users
	// with TTL-expired entries; zero disables the worker.
	SweepInterval time.Duration
	// SweepSchedule optionally gates sweeps behind a cron expression, so
	// deployments can confine compression churn to quiet hours.
	SweepSchedule string
}

const (
	// DefaultSizeBudget bounds an assembled context when the caller does
	// not pass one.
	DefaultSizeBudget = 4000
	defaultSweepUsers = 4
)

// Service wires the stores, the compression pipeline and the context
// assembler behind the caller-facing operations the transport layer maps
// its endpoints onto.
type Service struct {
	cfg       ServiceConfig
	store     Store
	shortTerm *ShortTermContextStore
	longTerm  *LongTermMemoryStore
	pipeline  *CompressionPipeline
	assembler *ContextAssembler
	log       zerolog.Logger

	gron   *gronx.Gronx
	stopCh chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
}

func NewService(cfg ServiceConfig, store Store, summarizer Summarizer, m *metrics.Set, log zerolog.Logger) *Service {
	if cfg.SizeBudget <= 0 {
		cfg.SizeBudget = DefaultSizeBudget
	}
	if m == nil {
		m = metrics.NewNop()
	}

	shortTerm := NewShortTermContextStore(store, cfg.Capacity, cfg.TTL, log)
	longTerm := NewLongTermMemoryStore(store, m, log)
	pipeline := NewCompressionPipeline(store, summarizer, PipelineOptions{
		BatchSize:        cfg.BatchSize,
		CallTimeout:      cfg.CallTimeout,
		MaxAttempts:      cfg.MaxAttempts,
		BaseDelay:        cfg.BaseDelay,
		InvalidateSearch: longTerm.InvalidateSearchCache,
	}, m, log)
	assembler := NewContextAssembler(longTerm, shortTerm, cfg.ContextFacts, cfg.ContextTurns, m, log)

	svc := &Service{
		cfg:       cfg,
		store:     store,
		shortTerm: shortTerm,
		longTerm:  longTerm,
		pipeline:  pipeline,
		assembler: assembler,
		log:       log.With().Str("component", "service").Logger(),
		stopCh:    make(chan struct{}),
	}

	if cfg.SweepSchedule != "" {
		g := gronx.New()
		if g.IsValid(cfg.SweepSchedule) {
			svc.gron = g
		} else {
			svc.log.Warn().Str("schedule", cfg.SweepSchedule).
				Msg("invalid sweep schedule, running every sweep interval")
		}
	}

	if cfg.SweepInterval > 0 {
		svc.wg.Add(1)
		go svc.runSweeper()
	}
	return svc
}

// Close stops the background worker. The store is owned by the caller and
// closed separately.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
	})
}

// AppendTurn records one conversational turn. When the append pushes
// entries past capacity or TTL, a compression job is started in the
// background; a job already in flight for the user is left alone.
func (s *Service) AppendTurn(ctx context.Context, userID, deviceID string, role Role, text string) (ContextEntry, error) {
	entry, pending, err := s.shortTerm.Append(ctx, ContextEntry{
		UserID:   userID,
		DeviceID: deviceID,
		Role:     role,
		Text:     text,
	})
	if err != nil {
		return ContextEntry{}, err
	}
	if pending > 0 {
		go s.backgroundCompress(userID, TriggerCapacity)
	}
	return entry, nil
}

func (s *Service) backgroundCompress(userID string, trigger Trigger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if _, err := s.pipeline.Run(ctx, userID, trigger); err != nil && !errors.Is(err, ErrConcurrencyConflict) {
		s.log.Error().Str("user_id", userID).Str("trigger", string(trigger)).Err(err).
			Msg("background compression failed")
	}
}

// RequestCompression runs one compression job synchronously. A job already
// active for the user fails with ErrConcurrencyConflict; the caller may
// retry after it completes.
func (s *Service) RequestCompression(ctx context.Context, userID string) (CompressionJob, error) {
	return s.pipeline.Run(ctx, userID, TriggerExplicit)
}

func (s *Service) SaveMemory(ctx context.Context, rec MemoryRecord) (MemoryRecord, error) {
	return s.longTerm.Save(ctx, rec)
}

func (s *Service) GetMemory(ctx context.Context, userID, id string) (MemoryRecord, error) {
	return s.longTerm.Get(ctx, userID, id)
}

func (s *Service) SearchMemory(ctx context.Context, userID, query string, limit int) ([]ScoredRecord, error) {
	return s.longTerm.Search(ctx, userID, query, limit)
}

func (s *Service) ListMemories(ctx context.Context, userID string, category Category, limit int) ([]MemoryRecord, error) {
	return s.longTerm.List(ctx, userID, category, limit)
}

func (s *Service) UpdateMemory(ctx context.Context, userID, id string, patch RecordPatch) (MemoryRecord, error) {
	return s.longTerm.Update(ctx, userID, id, patch)
}

func (s *Service) DeleteMemory(ctx context.Context, userID, id string) error {
	return s.longTerm.Delete(ctx, userID, id)
}

// GetRecentTurns returns the newest active turns, chronological. A
// non-positive limit falls back to the configured context window.
func (s *Service) GetRecentTurns(ctx context.Context, userID string, limit int) ([]ContextEntry, error) {
	if limit <= 0 {
		limit = s.cfg.ContextTurns
	}
	if limit <= 0 {
		limit = DefaultContextTurns
	}
	return s.shortTerm.GetRecent(ctx, userID, limit)
}

func (s *Service) ClearContext(ctx context.Context, userID string) error {
	return s.shortTerm.Clear(ctx, userID)
}

// BuildContext assembles the bounded prompt context for an outgoing AI
// turn. A non-positive budget falls back to the configured default.
func (s *Service) BuildContext(ctx context.Context, userID, currentTurnText string, sizeBudget int) ([]Fragment, error) {
	if sizeBudget <= 0 {
		sizeBudget = s.cfg.SizeBudget
	}
	return s.assembler.Build(ctx, userID, currentTurnText, sizeBudget)
}

// GetSummary returns the rolling conversation summary the summarizer
// produced during past compressions, empty if none exists yet.
func (s *Service) GetSummary(ctx context.Context, userID string) (string, error) {
	return s.store.GetUserSummary(ctx, userID)
}

func (s *Service) runSweeper() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.gron != nil {
				due, err := s.gron.IsDue(s.cfg.SweepSchedule)
				if err != nil || !due {
					continue
				}
			}
			s.sweepExpired()
		}
	}
}

// sweepExpired compresses buffers whose oldest entry outlived the TTL.
// Users are swept concurrently; a user with a job already running is
// skipped, not queued.
func (s *Service) sweepExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.shortTerm.TTL())
	users, err := s.store.ListUsersWithEntriesBefore(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("sweep: list users with expired entries")
		return
	}
	if len(users) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultSweepUsers)
	for _, userID := range users {
		g.Go(func() error {
			if _, err := s.pipeline.Run(gctx, userID, TriggerTTL); err != nil && !errors.Is(err, ErrConcurrencyConflict) {
				s.log.Error().Str("user_id", userID).Err(err).Msg("sweep compression failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}
