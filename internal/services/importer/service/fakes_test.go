package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"msgvault/internal/modkit/repokit"
	perr "msgvault/internal/platform/errors"
	"msgvault/internal/platform/store"
	"msgvault/internal/services/importer/domain"
)

// noopTx satisfies repokit.TxRunner; the fakes never touch SQL
type noopTx struct{}

func (noopTx) Tx(ctx context.Context, fn func(q repokit.Queryer) error) error { return fn(noopTx{}) }
func (noopTx) Exec(ctx context.Context, sql string, args ...any) (store.CommandTag, error) {
	var z store.CommandTag
	return z, nil
}

func (noopTx) Query(ctx context.Context, sql string, args ...any) (store.Rows, error) {
	var z store.Rows
	return z, nil
}

func (noopTx) QueryRow(ctx context.Context, sql string, args ...any) store.Row {
	var z store.Row
	return z
}

// fakeSource serves in-memory rows with the same ordering and predicate
// semantics as the SQL reader
type fakeSource struct {
	rows   map[string][]domain.Row // per chat, unsorted
	events []domain.HubEvent

	readErr    error // returned once on the next ReadBatch, then cleared
	readsUntil int   // fail ReadBatch after this many successful calls; 0 = never
	reads      int
}

func sortedRows(in []domain.Row) []domain.Row {
	out := append([]domain.Row(nil), in...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].TsSeconds != out[j].TsSeconds {
			return out[i].TsSeconds < out[j].TsSeconds
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (f *fakeSource) binder() repokit.Binder[domain.SourceReader] {
	return repokit.BindFunc[domain.SourceReader](func(repokit.Queryer) domain.SourceReader { return f })
}

func (f *fakeSource) hubBinder() repokit.Binder[domain.HubReader] {
	return repokit.BindFunc[domain.HubReader](func(repokit.Queryer) domain.HubReader { return f })
}

func (f *fakeSource) DiscoverChats(ctx context.Context, limit int) ([]string, error) {
	var out []string
	for id := range f.rows {
		out = append(out, id)
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSource) ReadBatch(
	ctx context.Context,
	chatID string,
	cur domain.Cursor,
	limit int,
	b domain.Bounds,
) ([]domain.Row, error) {
	if f.readErr != nil {
		err := f.readErr
		f.readErr = nil
		return nil, err
	}
	f.reads++
	if f.readsUntil > 0 && f.reads > f.readsUntil {
		return nil, perr.Unavailablef("source gone")
	}

	var out []domain.Row
	for _, r := range sortedRows(f.rows[chatID]) {
		if !cur.After(r.TsSeconds, r.ID) {
			continue
		}
		if !b.Contains(r.TsSeconds) {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSource) LatestMeta(ctx context.Context, chatID string) (*domain.RowMeta, error) {
	rs := sortedRows(f.rows[chatID])
	if len(rs) == 0 {
		return nil, nil
	}
	last := rs[len(rs)-1]
	return &domain.RowMeta{TsSeconds: last.TsSeconds, ID: last.ID}, nil
}

func (f *fakeSource) NthRecentBoundary(ctx context.Context, chatID string, depth int) (*domain.RowMeta, error) {
	if depth <= 0 {
		return nil, nil
	}
	rs := sortedRows(f.rows[chatID])
	if len(rs) < depth+1 {
		return nil, nil
	}
	r := rs[len(rs)-1-depth]
	return &domain.RowMeta{TsSeconds: r.TsSeconds, ID: r.ID}, nil
}

func (f *fakeSource) ReadEvents(
	ctx context.Context,
	cur domain.Cursor,
	limit int,
	b domain.Bounds,
) ([]domain.HubEvent, error) {
	evs := append([]domain.HubEvent(nil), f.events...)
	sort.Slice(evs, func(i, j int) bool {
		ti, tj := evs[i].CreatedAt.Unix(), evs[j].CreatedAt.Unix()
		if ti != tj {
			return ti < tj
		}
		return evs[i].EventID < evs[j].EventID
	})

	var out []domain.HubEvent
	for _, e := range evs {
		ts := e.CreatedAt.Unix()
		if !cur.After(ts, e.EventID) {
			continue
		}
		if !b.Contains(ts) {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// fakeAgg mirrors the aggregate document the mongo target maintains
type fakeAgg struct {
	count    int64
	imported int64
	firstTs  time.Time
	lastTs   time.Time
	cursor   domain.Cursor
	flushes  int

	// bounds after each flush, for monotonicity assertions
	history [][2]time.Time
}

// fakeTarget implements domain.TargetStore with two-phase semantics and
// monotonicity checks on every delta
type fakeTarget struct {
	mu       sync.Mutex
	messages map[string]any      // natural key -> latest canonical doc
	aggs     map[string]*fakeAgg // tenant/chat -> aggregate

	upserts     int
	failUpsertN int // fail the Nth UpsertMessage call; 0 = never
	failDelta   bool
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{messages: map[string]any{}, aggs: map[string]*fakeAgg{}}
}

func msgKey(tenant, inst, natural string) string { return tenant + "/" + inst + "/" + natural }

func (t *fakeTarget) UpsertMessage(
	ctx context.Context,
	tenantID, sourceInstanceID, naturalID string,
	doc any,
) (domain.UpsertResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.upserts++
	if t.failUpsertN > 0 && t.upserts == t.failUpsertN {
		return domain.UpsertResult{}, perr.Unavailablef("target gone")
	}

	k := msgKey(tenantID, sourceInstanceID, naturalID)
	_, existed := t.messages[k]
	t.messages[k] = doc
	if existed {
		return domain.UpsertResult{Updated: 1}, nil
	}
	return domain.UpsertResult{Inserted: 1}, nil
}

func aggKey(tenant, chat string) string { return tenant + "/" + chat }

func (t *fakeTarget) EnsureAggregate(ctx context.Context, seed domain.AggregateSeed) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := aggKey(seed.TenantID, seed.ChatID)
	if _, ok := t.aggs[k]; ok {
		return nil
	}
	t.aggs[k] = &fakeAgg{firstTs: seed.FirstTs, lastTs: seed.LastTs}
	return nil
}

func (t *fakeTarget) ApplyAggregateDelta(ctx context.Context, d domain.AggregateDelta) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failDelta {
		return perr.Unavailablef("target gone")
	}
	a, ok := t.aggs[aggKey(d.TenantID, d.ChatID)]
	if !ok {
		return perr.DBf("aggregate %s/%s missing before delta", d.TenantID, d.ChatID)
	}

	a.count += d.Imported
	a.imported += d.Imported
	if !d.FirstTs.IsZero() && (a.firstTs.IsZero() || d.FirstTs.Before(a.firstTs)) {
		a.firstTs = d.FirstTs
	}
	if d.LastTs.After(a.lastTs) {
		a.lastTs = d.LastTs
	}
	a.cursor = d.Cursor
	a.flushes++
	a.history = append(a.history, [2]time.Time{a.firstTs, a.lastTs})
	return nil
}

func (t *fakeTarget) LoadCursor(ctx context.Context, tenantID, chatID string) (domain.Cursor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.aggs[aggKey(tenantID, chatID)]
	if !ok {
		return domain.Cursor{}, nil
	}
	return a.cursor, nil
}

func (t *fakeTarget) agg(tenant, chat string) *fakeAgg {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aggs[aggKey(tenant, chat)]
}
