package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"msgvault/internal/core/canon"
	"msgvault/internal/platform/logger"
	"msgvault/internal/services/importer/domain"
)

// RunHub imports from the hub event stream. The stream is global, so its
// resume position lives in a reserved aggregate; per-conversation
// aggregates are still extended per batch from the events each chat saw
func (s *Service) RunHub(ctx context.Context) (domain.RunSummary, error) {
	var run domain.RunSummary
	if err := s.Cfg.Rule.Validate(); err != nil {
		return run, err
	}
	if s.Hub == nil {
		return run, errors.New("hub reader not configured")
	}
	ctx = logger.WithRun(ctx, uuid.NewString(), s.Cfg.TenantID)

	hub := s.Hub.Bind(s.DB)
	log := logger.C(ctx)
	start := time.Now()

	cur, err := s.loadCursor(ctx, HubCursorChatID)
	if err != nil {
		return run, err
	}

	// only an absolute window can bound a stream with no chat anchor
	var bounds domain.Bounds
	if s.Cfg.Rule.Mode == domain.RangeAbsolute {
		bounds = domain.Bounds{Since: s.Cfg.Rule.Since, Until: s.Cfg.Rule.Until}
	}

	sum := domain.ChatSummary{ChatID: HubCursorChatID}
	for {
		if err := ctx.Err(); err != nil {
			sum.Err = err
			break
		}

		events, err := hub.ReadEvents(ctx, cur, s.batchSize(), bounds)
		if err != nil {
			sum.Err = err
			break
		}
		if len(events) == 0 {
			break
		}

		next, read, imported, skipped, err := s.processEventBatch(ctx, events)
		if err != nil {
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

	run.Add(sum)
	run.Elapsed = time.Since(start)
	if sum.Failed() {
		log.Error().Err(sum.Err).Msg("import: hub run failed")
		return run, sum.Err
	}
	log.Debug().
		Int("batches", sum.Batches).
		Int64("read", sum.Read).
		Int64("imported", sum.Imported).
		Int64("skipped", sum.Skipped).
		Msg("import: hub run done")
	return run, nil
}

// processEventBatch mirrors processBatch for event-shaped input: map,
// validate, upsert, then flush per affected conversation plus the hub's
// own resume position
func (s *Service) processEventBatch(
	ctx context.Context,
	events []domain.HubEvent,
) (next domain.Cursor, read, imported, skipped int64, err error) {
	log := logger.C(ctx)

	type chatAcc struct {
		imported        int64
		firstTs, lastTs time.Time
		cursor          domain.Cursor
		parts, conns    map[string]struct{}
	}
	accs := map[string]*chatAcc{}

	for i := range events {
		ev := events[i]
		msg, meta := canon.Map(canon.EventOf(ev), s.mapCtx())

		next = domain.Cursor{TsSeconds: ev.CreatedAt.Unix(), LastID: ev.EventID}
		read++

		if res := canon.Validate(msg); !res.Valid {
			skipped++
			log.Warn().Str("event", ev.EventID).Strs("errors", res.Errors).
				Msg("import: event skipped")
			continue
		}

		var inserted int64
		if !s.Cfg.DryRun {
			wres, werr := s.Target.UpsertMessage(ctx, s.Cfg.TenantID, meta.SourceInstanceID, meta.NaturalID, msg)
			if werr != nil {
				return domain.Cursor{}, 0, 0, 0, werr
			}
			inserted = wres.Inserted
		}
		imported += inserted

		acc := accs[meta.ConversationID]
		if acc == nil {
			acc = &chatAcc{parts: map[string]struct{}{}, conns: map[string]struct{}{}}
			accs[meta.ConversationID] = acc
		}
		acc.imported += inserted
		ts := time.Unix(meta.TsSeconds, 0).UTC()
		if acc.firstTs.IsZero() || ts.Before(acc.firstTs) {
			acc.firstTs = ts
		}
		if ts.After(acc.lastTs) {
			acc.lastTs = ts
		}
		acc.cursor = next
		if meta.SenderIdentity != "" {
			acc.parts[meta.SenderIdentity] = struct{}{}
		}
		if meta.ContactID != "" {
			acc.parts[meta.ContactID] = struct{}{}
		}
		if meta.SourceInstanceID != "" {
			acc.conns[meta.SourceInstanceID] = struct{}{}
		}
	}

	if !s.Cfg.DryRun {
		for chatID, acc := range accs {
			if err := s.flush(ctx, chatID, domain.AggregateDelta{
				TenantID:     s.Cfg.TenantID,
				ChatID:       chatID,
				Imported:     acc.imported,
				FirstTs:      acc.firstTs,
				LastTs:       acc.lastTs,
				Cursor:       acc.cursor,
				Participants: keys(acc.parts),
				Connections:  keys(acc.conns),
			}); err != nil {
				return domain.Cursor{}, 0, 0, 0, err
			}
		}
		// hub resume position rides a reserved aggregate with no counts
		if err := s.flush(ctx, HubCursorChatID, domain.AggregateDelta{
			TenantID: s.Cfg.TenantID,
			ChatID:   HubCursorChatID,
			Cursor:   next,
		}); err != nil {
			return domain.Cursor{}, 0, 0, 0, err
		}
	}

	return next, read, imported, skipped, nil
}
