package domain

import "context"

// RunnerPort is the public port exposed by the importer module
type RunnerPort interface {
	// RunAll discovers conversations and imports each of them
	RunAll(ctx context.Context) (RunSummary, error)

	// RunChat imports a single conversation
	RunChat(ctx context.Context, chatID string) (ChatSummary, error)

	// RunHub imports from the hub event stream instead of source rows
	RunHub(ctx context.Context) (RunSummary, error)
}

// SourceReader pages over the row-oriented source store
type SourceReader interface {
	// DiscoverChats lists conversation ids, most recently active first
	DiscoverChats(ctx context.Context, limit int) ([]string, error)

	// ReadBatch returns up to limit rows strictly after cursor, ordered by
	// (ts_seconds ASC, id ASC), intersected with bounds when present.
	// An empty result ends the conversation's loop
	ReadBatch(ctx context.Context, chatID string, cur Cursor, limit int, b Bounds) ([]Row, error)

	// LatestMeta probes the conversation's most recent (ts, id), nil when
	// the conversation has no rows
	LatestMeta(ctx context.Context, chatID string) (*RowMeta, error)

	// NthRecentBoundary probes the row at offset depth counting back from
	// the most recent; nil when fewer than depth+1 rows exist
	NthRecentBoundary(ctx context.Context, chatID string, depth int) (*RowMeta, error)
}

// HubReader pages over the time-ordered hub event stream
type HubReader interface {
	// ReadEvents returns up to limit events strictly after cursor, ordered
	// by (created_at ASC, event_id ASC), windowed by bounds on creation time
	ReadEvents(ctx context.Context, cur Cursor, limit int, b Bounds) ([]HubEvent, error)
}

// TargetStore is the document-store surface the upsert engine writes to
type TargetStore interface {
	// UpsertMessage writes one canonical message keyed by its natural key.
	// Repeated delivery of the same key converges to one document
	UpsertMessage(ctx context.Context, tenantID, sourceInstanceID, naturalID string, doc any) (UpsertResult, error)

	// EnsureAggregate conditionally inserts the aggregate's initial shape.
	// Existing aggregates are left untouched; that is not an error
	EnsureAggregate(ctx context.Context, seed AggregateSeed) error

	// ApplyAggregateDelta additively extends an existing aggregate. The
	// aggregate must already exist; a miss is an error, never an implicit
	// insert
	ApplyAggregateDelta(ctx context.Context, d AggregateDelta) error

	// LoadCursor returns the persisted cursor for a conversation, zero
	// when no aggregate exists yet
	LoadCursor(ctx context.Context, tenantID, chatID string) (Cursor, error)
}
