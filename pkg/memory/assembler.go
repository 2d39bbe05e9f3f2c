package memory

import (
	"context"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/evahq/evamem/pkg/metrics"
)

// ContextAssembler builds a bounded, ordered prompt context from both
// stores. It only reads and may run concurrently with an in-flight
// compression job for the same user: the store guarantees it sees either
// the pre-commit or post-commit state, never an interleaving.
type ContextAssembler struct {
	longTerm  *LongTermMemoryStore
	shortTerm *ShortTermContextStore
	facts     int
	turns     int
	metrics   *metrics.Set
	log       zerolog.Logger
}

const (
	// DefaultContextFacts is how many long-term facts are considered.
	DefaultContextFacts = 5
	// DefaultContextTurns is how many recent turns are considered.
	DefaultContextTurns = 20
)

func NewContextAssembler(longTerm *LongTermMemoryStore, shortTerm *ShortTermContextStore, facts, turns int, m *metrics.Set, log zerolog.Logger) *ContextAssembler {
	if facts <= 0 {
		facts = DefaultContextFacts
	}
	if turns <= 0 {
		turns = DefaultContextTurns
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &ContextAssembler{
		longTerm:  longTerm,
		shortTerm: shortTerm,
		facts:     facts,
		turns:     turns,
		metrics:   m,
		log:       log.With().Str("component", "assembler").Logger(),
	}
}

// Build assembles long-term facts (most relevant first) followed by recent
// short-term turns (chronological). When the total exceeds sizeBudget it
// trims the least valuable end first: lowest-relevance facts go before any
// turn, then the oldest turns, never the most recent one as long as the
// budget allows at least one item. Empty stores yield an empty context,
// never an error.
func (a *ContextAssembler) Build(ctx context.Context, userID, currentTurnText string, sizeBudget int) ([]Fragment, error) {
	scored, err := a.longTerm.Search(ctx, userID, currentTurnText, a.facts)
	if err != nil {
		return nil, err
	}
	turns, err := a.shortTerm.GetRecent(ctx, userID, a.turns)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, s := range scored {
		total += sizeOf(s.Record.Content)
	}
	for _, t := range turns {
		total += t.SizeEstimate
	}

	if sizeBudget > 0 {
		// Facts arrive relevance-descending, so the trim victim is always
		// the last fact; turns arrive chronological, so it is the first turn.
		for total > sizeBudget && len(scored) > 0 {
			total -= sizeOf(scored[len(scored)-1].Record.Content)
			scored = scored[:len(scored)-1]
		}
		for total > sizeBudget && len(turns) > 1 {
			total -= turns[0].SizeEstimate
			turns = turns[1:]
		}
		if total > sizeBudget && len(turns) == 1 {
			// Budget does not allow even the most recent turn.
			turns = nil
		}
	}

	fragments := make([]Fragment, 0, len(scored)+len(turns))
	for _, s := range scored {
		fragments = append(fragments, Fragment{
			Provenance: ProvenanceLongTerm,
			Text:       s.Record.Content,
			Size:       sizeOf(s.Record.Content),
		})
	}
	for _, t := range turns {
		fragments = append(fragments, Fragment{
			Provenance: ProvenanceShortTerm,
			Text:       t.Text,
			Size:       t.SizeEstimate,
		})
	}

	a.metrics.ContextBuilds.Inc()
	a.log.Debug().Str("user_id", userID).
		Int("facts", len(scored)).Int("turns", len(turns)).Int("size", total).
		Msg("context assembled")
	return fragments, nil
}

func sizeOf(text string) int {
	return utf8.RuneCountInString(text)
}
