package memory

import (
	"context"
	"time"
)

// Utterance is one conversation turn handed to the summarizer.
type Utterance struct {
	Role      Role
	Text      string
	Timestamp time.Time
}

// DraftFact is a candidate memory fact produced by the summarizer. Drafts
// are untrusted: the pipeline validates each one against the same rules as
// LongTermMemoryStore.Save and drops invalid drafts individually.
type DraftFact struct {
	Category   string
	Content    string
	Importance int
}

// SummaryResult is the summarizer output for one batch.
type SummaryResult struct {
	Summary string
	Facts   []DraftFact
}

// Summarizer converts raw utterances into structured draft facts. It is the
// only operation in this subsystem that blocks on an external network
// boundary; implementations must honor ctx cancellation, and must report
// retryable failures (timeout, network, rate limit) as *TransientError.
type Summarizer interface {
	Summarize(ctx context.Context, utterances []Utterance) (SummaryResult, error)
}
