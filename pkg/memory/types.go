package memory

import "time"

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContextEntry is one conversational turn in the short-term buffer.
// Entries are immutable once written; Seq breaks CreatedAt ties so every
// user has a single total order even with multi-device writers.
type ContextEntry struct {
	ID           string
	UserID       string
	DeviceID     string
	Role         Role
	Text         string
	CreatedAt    time.Time
	Seq          int64
	SizeEstimate int

	// EvictionPending marks entries past capacity or TTL. They stay in the
	// active buffer until a compression run archives them, so nothing is
	// dropped before it had a chance to reach long-term memory.
	EvictionPending bool
	Archived        bool
}

// Category classifies long-term memory facts.
type Category string

const (
	CategoryPreference Category = "preference"
	CategoryFact       Category = "fact"
	CategoryGoal       Category = "goal"
	CategoryEvent      Category = "event"
	CategoryOther      Category = "other"
)

// ValidCategory reports whether c is one of the fixed category values.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryPreference, CategoryFact, CategoryGoal, CategoryEvent, CategoryOther:
		return true
	}
	return false
}

// RecordSource tells how a memory record came to exist.
type RecordSource string

const (
	SourceManual     RecordSource = "manual"
	SourceCompressed RecordSource = "compressed"
)

// MemoryRecord is a durable, categorized fact in long-term memory.
type MemoryRecord struct {
	ID         string
	UserID     string
	Category   Category
	Content    string
	Importance int
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Source     RecordSource

	// SourceEntryIDs references the compressed batch; set only when
	// Source == SourceCompressed, and then never empty.
	SourceEntryIDs []string
	Keywords       []string

	// ContentHash is a short sha256 prefix used to skip duplicate facts
	// produced by repeated compressions of overlapping conversations.
	ContentHash string

	// JobID is the compression job that wrote this record. It doubles as
	// the commit idempotency key: retrying a partially failed commit for
	// the same batch can never produce duplicates.
	JobID string
}

// RecordPatch is a partial update to a memory record. Nil fields are left
// unchanged; only content, category, importance and keywords are mutable.
type RecordPatch struct {
	Content    *string
	Category   *Category
	Importance *int
	Keywords   *[]string
}

// JobState enumerates the compression pipeline states.
type JobState string

const (
	JobIdle            JobState = "idle"
	JobCollecting      JobState = "collecting"
	JobSummarizing     JobState = "summarizing"
	JobCommitting      JobState = "committing"
	JobSummarizeFailed JobState = "summarize_failed"
	JobCommitFailed    JobState = "commit_failed"
)

// Trigger identifies what started a compression job.
type Trigger string

const (
	TriggerExplicit Trigger = "explicit"
	TriggerCapacity Trigger = "capacity"
	TriggerTTL      Trigger = "ttl"
)

// CompressionJob is one run of the pipeline moving a batch of entries into
// memory records. It is ephemeral; nothing is persisted beyond its run
// except the records it commits.
type CompressionJob struct {
	ID              string
	UserID          string
	Trigger         Trigger
	State           JobState
	CandidateIDs    []string
	AttemptCount    int
	ResultRecordIDs []string

	// pending holds validated records between a failed commit and its
	// retry so the same batch commits under the same job id.
	pending []MemoryRecord
}

// Provenance tells which store a context fragment came from.
type Provenance string

const (
	ProvenanceLongTerm  Provenance = "long_term"
	ProvenanceShortTerm Provenance = "short_term"
)

// Fragment is one piece of an assembled prompt context.
type Fragment struct {
	Provenance Provenance
	Text       string
	Size       int
}

// ScoredRecord pairs a record with its search relevance score.
type ScoredRecord struct {
	Record MemoryRecord
	Score  float64
}
