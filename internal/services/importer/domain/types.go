// Package domain holds the core types and ports for the message importer
package domain

import (
	"time"

	"msgvault/internal/core/canon"

	perr "msgvault/internal/platform/errors"
)

// Row re-exports the row-shaped source record consumed by the mapper
type Row = canon.RowInput

// HubEvent re-exports the event-shaped source record consumed by the mapper
type HubEvent = canon.EventInput

// Cursor is the (timestamp, id) high-water mark for one conversation.
// The zero value means "start from the beginning"
type Cursor struct {
	TsSeconds int64
	LastID    string
}

// IsZero reports whether the cursor has never advanced
func (c Cursor) IsZero() bool { return c.TsSeconds == 0 && c.LastID == "" }

// After reports whether (ts, id) sorts strictly after the cursor under the
// source's (timestamp ASC, id ASC) order
func (c Cursor) After(ts int64, id string) bool {
	if ts != c.TsSeconds {
		return ts > c.TsSeconds
	}
	return id > c.LastID
}

// Bounds is an inclusive [since, until] window on source timestamps.
// nil on either side means open-ended
type Bounds struct {
	Since *int64
	Until *int64
}

// Contains reports whether ts falls inside the window
func (b Bounds) Contains(ts int64) bool {
	if b.Since != nil && ts < *b.Since {
		return false
	}
	if b.Until != nil && ts > *b.Until {
		return false
	}
	return true
}

// RangeMode selects one of the four range-filter policies
type RangeMode string

// Range-filter policies, chosen once per run
const (
	RangeAll      RangeMode = "all"      // inclusion list only, no bounds
	RangeAbsolute RangeMode = "absolute" // fixed since/until window
	RangeDays     RangeMode = "days"     // last N days anchored to the chat's latest message
	RangeDepth    RangeMode = "depth"    // last N messages
)

// RangeRule is the immutable range-filter configuration for a run
type RangeRule struct {
	Mode RangeMode

	// Chats restricts discovery to these conversation ids (RangeAll)
	Chats []string

	// Since/Until bound the absolute window (RangeAbsolute)
	Since *int64
	Until *int64

	// Days is the relative window width (RangeDays)
	Days int

	// Depth counts back from the most recent message (RangeDepth)
	Depth int
}

// Validate rejects unusable rules before any conversation is touched
func (r RangeRule) Validate() error {
	switch r.Mode {
	case RangeAll, RangeDepth:
		return nil
	case RangeAbsolute:
		if r.Since == nil && r.Until == nil {
			return perr.InvalidArgf("absolute range needs since or until")
		}
		if r.Since != nil && r.Until != nil && *r.Since > *r.Until {
			return perr.InvalidArgf("absolute range: since after until")
		}
		return nil
	case RangeDays:
		if r.Days <= 0 {
			return perr.InvalidArgf("days range needs a positive day count")
		}
		return nil
	case "":
		return perr.InvalidArgf("range mode is required")
	default:
		return perr.InvalidArgf("unknown range mode %q", r.Mode)
	}
}

// RowMeta is the (ts, id) pair returned by the latest and nth-recent probes
type RowMeta struct {
	TsSeconds int64
	ID        string
}

// AggregateSeed is the initial shape of a conversation aggregate, written
// once by the conditional insert
type AggregateSeed struct {
	TenantID  string
	ChatID    string
	State     string
	CreatedAt time.Time
	FirstTs   time.Time
	LastTs    time.Time
}

// AggregateDelta is one batch's additive contribution to an aggregate
type AggregateDelta struct {
	TenantID string
	ChatID   string

	// Imported counts only messages newly inserted this batch
	Imported int64

	FirstTs time.Time
	LastTs  time.Time

	Cursor       Cursor
	Participants []string
	Connections  []string
}

// UpsertResult reports how a single message write landed
type UpsertResult struct {
	Inserted int64
	Updated  int64
}

// ChatSummary is the per-conversation outcome surfaced to the run report
type ChatSummary struct {
	ChatID   string
	Batches  int
	Read     int64
	Imported int64
	Skipped  int64
	Cursor   Cursor
	Err      error
}

// Failed reports whether the conversation aborted before completing
func (s ChatSummary) Failed() bool { return s.Err != nil }

// RunSummary totals a whole run across conversations
type RunSummary struct {
	Chats    int
	Failed   int
	Read     int64
	Imported int64
	Skipped  int64
	Elapsed  time.Duration
}

// Add folds one conversation's outcome into the run totals
func (r *RunSummary) Add(s ChatSummary) {
	r.Chats++
	if s.Failed() {
		r.Failed++
	}
	r.Read += s.Read
	r.Imported += s.Imported
	r.Skipped += s.Skipped
}
