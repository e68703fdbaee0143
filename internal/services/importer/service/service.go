// Package service drives the import: resume, bound, page, flush, done
package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"msgvault/internal/core/canon"
	"msgvault/internal/modkit/repokit"
	perr "msgvault/internal/platform/errors"
	"msgvault/internal/platform/logger"
	"msgvault/internal/services/importer/domain"
)

// HubCursorChatID is the reserved aggregate id carrying the hub stream's
// global resume position
const HubCursorChatID = "_hub"

// Config holds the importer service configuration
type Config struct {
	TenantID      string
	BatchSize     int // rows per page; <=0 -> 200
	Workers       int // concurrent conversations; <=0 -> 1
	DiscoverLimit int // discovery cap; <=0 -> 500

	Rule domain.RangeRule

	// DryRun maps and validates but never writes
	DryRun bool

	// Clock feeds the mapper's last-resort timestamp; nil -> time.Now
	Clock func() time.Time
}

// Service implements domain.RunnerPort
type Service struct {
	DB     repokit.TxRunner
	Source repokit.Binder[domain.SourceReader]
	Hub    repokit.Binder[domain.HubReader]
	Target domain.TargetStore
	Cfg    Config
}

// New constructs the importer service
func New(
	db repokit.TxRunner,
	source repokit.Binder[domain.SourceReader],
	hub repokit.Binder[domain.HubReader],
	target domain.TargetStore,
	cfg Config,
) *Service {
	if db == nil {
		panic("importer.Service requires a non nil TxRunner")
	}
	if source == nil {
		panic("importer.Service requires a non nil source binder")
	}
	if target == nil && !cfg.DryRun {
		panic("importer.Service requires a target store unless dry-run")
	}
	return &Service{DB: db, Source: source, Hub: hub, Target: target, Cfg: cfg}
}

func (s *Service) batchSize() int {
	if s.Cfg.BatchSize <= 0 {
		return 200
	}
	return s.Cfg.BatchSize
}

func (s *Service) mapCtx() canon.MapContext {
	return canon.MapContext{TenantID: s.Cfg.TenantID, Now: s.Cfg.Clock}
}

// RunAll discovers conversations and imports each over a bounded pool.
// A failing conversation is reported in the summary; siblings proceed
func (s *Service) RunAll(ctx context.Context) (domain.RunSummary, error) {
	var run domain.RunSummary
	if err := s.Cfg.Rule.Validate(); err != nil {
		return run, err
	}
	ctx = logger.WithRun(ctx, uuid.NewString(), s.Cfg.TenantID)

	src := s.Source.Bind(s.DB)

	chats := s.Cfg.Rule.Chats
	if len(chats) == 0 {
		var err error
		chats, err = src.DiscoverChats(ctx, s.Cfg.DiscoverLimit)
		if err != nil {
			return run, err
		}
	}

	start := time.Now()
	w := max(s.Cfg.Workers, 1)

	var (
		fails   int64
		wg      sync.WaitGroup
		mu      sync.Mutex
		sem     = make(chan struct{}, w)
		pending = make(chan string, len(chats))
	)
	for _, id := range chats {
		pending <- id
	}
	close(pending)

	worker := func() {
		defer func() { <-sem; wg.Done() }()
		for chatID := range pending {
			sum := s.runChat(logger.WithChat(ctx, chatID), src, chatID)
			if sum.Failed() {
				logger.C(ctx).Error().Str("chat", chatID).Err(sum.Err).Msg("import: conversation failed")
				atomic.AddInt64(&fails, 1)
			}
			mu.Lock()
			run.Add(sum)
			mu.Unlock()
		}
	}

	for range w {
		select {
		case <-ctx.Done():
			wg.Wait()
			run.Elapsed = time.Since(start)
			return run, ctx.Err()
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go worker()
	}
	wg.Wait()

	run.Elapsed = time.Since(start)
	if fails > 0 {
		return run, perr.Unavailablef("%d of %d conversations failed", fails, len(chats))
	}
	return run, nil
}

// RunChat imports a single conversation
func (s *Service) RunChat(ctx context.Context, chatID string) (domain.ChatSummary, error) {
	if err := s.Cfg.Rule.Validate(); err != nil {
		return domain.ChatSummary{ChatID: chatID}, err
	}
	ctx = logger.WithRun(ctx, uuid.NewString(), s.Cfg.TenantID)
	sum := s.runChat(logger.WithChat(ctx, chatID), s.Source.Bind(s.DB), chatID)
	return sum, sum.Err
}

// runChat is the per-conversation state machine: Resuming -> Bounding ->
// Paging -> Flushing -> Done. The cursor is an explicit value threaded
// through the loop; it only ever reflects fully-flushed state
func (s *Service) runChat(ctx context.Context, src domain.SourceReader, chatID string) domain.ChatSummary {
	sum := domain.ChatSummary{ChatID: chatID}
	log := logger.C(ctx)

	// Resuming
	cur, err := s.loadCursor(ctx, chatID)
	if err != nil {
		sum.Err = err
		return sum
	}

	// Bounding
	bounds, err := computeBounds(ctx, src, s.Cfg.Rule, chatID)
	if err != nil {
		sum.Err = err
		return sum
	}

	// Paging; shutdown is honored at batch boundaries only
	for {
		if err := ctx.Err(); err != nil {
			sum.Err = err
			break
		}

		rows, err := src.ReadBatch(ctx, chatID, cur, s.batchSize(), bounds)
		if err != nil {
			sum.Err = err
			break
		}
		if len(rows) == 0 {
			break // Done: the empty page is the only termination signal
		}

		next, read, imported, skipped, err := s.processBatch(ctx, chatID, rows)
		if err != nil {
			// the failing batch is wholly discarded; cur stays at the last
			// flushed position and the next run re-reads it
			sum.Err = err
			break
		}

		cur = next
		sum.Batches++
		sum.Read += read
		sum.Imported += imported
		sum.Skipped += skipped
	}

	sum.Cursor = cur
	if sum.Err == nil {
		log.Debug().
			Int("batches", sum.Batches).
			Int64("read", sum.Read).
			Int64("imported", sum.Imported).
			Int64("skipped", sum.Skipped).
			Msg("import: conversation done")
	}
	return sum
}

// processBatch maps, validates, and writes one page, then flushes the
// aggregate and cursor. The batch is the atomicity unit: any write error
// discards its in-memory progress
func (s *Service) processBatch(
	ctx context.Context,
	chatID string,
	rows []domain.Row,
) (next domain.Cursor, read, imported, skipped int64, err error) {
	log := logger.C(ctx)

	var (
		firstTs, lastTs time.Time
		parts           = map[string]struct{}{}
		conns           = map[string]struct{}{}
	)

	for i := range rows {
		msg, meta := canon.Map(canon.RowOf(rows[i]), s.mapCtx())

		// the cursor advances past invalid rows too; a bad record must
		// never block pagination
		next = domain.Cursor{TsSeconds: rows[i].TsSeconds, LastID: rows[i].ID}
		read++

		if res := canon.Validate(msg); !res.Valid {
			skipped++
			log.Warn().Str("message", meta.NaturalID).Strs("errors", res.Errors).
				Msg("import: record skipped")
			continue
		}

		if !s.Cfg.DryRun {
			wres, werr := s.Target.UpsertMessage(ctx, s.Cfg.TenantID, meta.SourceInstanceID, meta.NaturalID, msg)
			if werr != nil {
				return domain.Cursor{}, 0, 0, 0, werr
			}
			imported += wres.Inserted
		}

		ts := time.Unix(meta.TsSeconds, 0).UTC()
		if firstTs.IsZero() || ts.Before(firstTs) {
			firstTs = ts
		}
		if ts.After(lastTs) {
			lastTs = ts
		}
		if meta.SenderIdentity != "" {
			parts[meta.SenderIdentity] = struct{}{}
		}
		if meta.ContactID != "" {
			parts[meta.ContactID] = struct{}{}
		}
		if meta.SourceInstanceID != "" {
			conns[meta.SourceInstanceID] = struct{}{}
		}
	}

	// Flushing
	if !s.Cfg.DryRun {
		if err := s.flush(ctx, chatID, domain.AggregateDelta{
			TenantID:     s.Cfg.TenantID,
			ChatID:       chatID,
			Imported:     imported,
			FirstTs:      firstTs,
			LastTs:       lastTs,
			Cursor:       next,
			Participants: keys(parts),
			Connections:  keys(conns),
		}); err != nil {
			return domain.Cursor{}, 0, 0, 0, err
		}
	}

	return next, read, imported, skipped, nil
}

// flush runs the two-phase aggregate write: conditional defaults first,
// additive delta second. Phase order is the precondition that makes the
// increment safe
func (s *Service) flush(ctx context.Context, chatID string, d domain.AggregateDelta) error {
	if err := s.Target.EnsureAggregate(ctx, domain.AggregateSeed{
		TenantID: s.Cfg.TenantID,
		ChatID:   chatID,
		FirstTs:  d.FirstTs,
		LastTs:   d.LastTs,
	}); err != nil {
		return err
	}
	return s.Target.ApplyAggregateDelta(ctx, d)
}

func (s *Service) loadCursor(ctx context.Context, chatID string) (domain.Cursor, error) {
	if s.Cfg.DryRun {
		return domain.Cursor{}, nil
	}
	return s.Target.LoadCursor(ctx, s.Cfg.TenantID, chatID)
}

func keys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
