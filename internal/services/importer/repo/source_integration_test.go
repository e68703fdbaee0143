//go:build integration_pg
// +build integration_pg

package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"msgvault/internal/platform/store"
	"msgvault/internal/services/importer/domain"
)

func startPostgres(t *testing.T) (dsn string, stop func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)

	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_DB":       "postgres",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections"),
		).WithDeadline(2 * time.Minute),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		cancel()
		t.Fatalf("failed to start postgres container: %v", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(context.Background())
		cancel()
		t.Fatalf("failed to get container host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = c.Terminate(context.Background())
		cancel()
		t.Fatalf("failed to get mapped port: %v", err)
	}

	dsn = fmt.Sprintf("postgres://postgres:postgres@%s:%s/postgres?sslmode=disable", host, mapped.Port())
	stop = func() {
		_ = c.Terminate(context.Background())
		cancel()
	}
	return dsn, stop
}

func seedSource(t *testing.T, ctx context.Context, q store.RowQuerier) {
	t.Helper()

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS source_messages (
			id          text NOT NULL,
			instance_id text NOT NULL DEFAULT '',
			chat_id     text NOT NULL,
			sender_id   text NOT NULL DEFAULT '',
			from_me     boolean NOT NULL DEFAULT false,
			ts_seconds  bigint NOT NULL,
			push_name   text NOT NULL DEFAULT '',
			payload     jsonb NOT NULL DEFAULT '{}'::jsonb,
			PRIMARY KEY (chat_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS hub_events (
			event_id    text PRIMARY KEY,
			instance_id text NOT NULL DEFAULT '',
			event_type  text NOT NULL,
			chat_id     text NOT NULL,
			created_at  timestamptz NOT NULL,
			payload     jsonb NOT NULL DEFAULT '{}'::jsonb
		)`,
		`TRUNCATE source_messages, hub_events`,
	}
	for _, stmt := range ddl {
		if _, err := q.Exec(ctx, stmt); err != nil {
			t.Fatalf("ddl failed: %v", err)
		}
	}

	rows := []struct {
		id  string
		ts  int64
		me  bool
		txt string
	}{
		{"a", 100, false, "first"},
		{"b", 100, true, "second"},
		{"c", 105, false, "third"},
	}
	for _, r := range rows {
		if _, err := q.Exec(ctx, `
			INSERT INTO source_messages (id, instance_id, chat_id, sender_id, from_me, ts_seconds, payload)
			VALUES ($1, 'inst-1', 'chat-1', 'peer-1', $2, $3, jsonb_build_object('conversation', $4::text))
		`, r.id, r.me, r.ts, r.txt); err != nil {
			t.Fatalf("seed row %s: %v", r.id, err)
		}
	}

	// second conversation so discovery ordering is observable
	if _, err := q.Exec(ctx, `
		INSERT INTO source_messages (id, chat_id, ts_seconds)
		VALUES ('z', 'chat-2', 90)
	`); err != nil {
		t.Fatalf("seed chat-2: %v", err)
	}

	if _, err := q.Exec(ctx, `
		INSERT INTO hub_events (event_id, instance_id, event_type, chat_id, created_at, payload)
		VALUES
			('e1', 'inst-1', 'message.contact.received', 'chat-1', to_timestamp(100), '{}'::jsonb),
			('e2', 'inst-1', 'message.agent.sent',       'chat-1', to_timestamp(100), '{}'::jsonb),
			('e3', 'inst-1', 'message.contact.received', 'chat-1', to_timestamp(105), '{}'::jsonb)
	`); err != nil {
		t.Fatalf("seed hub_events: %v", err)
	}
}

func TestSourceReader_Integration(t *testing.T) {
	dsn, stop := startPostgres(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	st, err := store.Open(ctx, store.Config{
		PG: store.PGConfig{Enabled: true, URL: dsn, MaxConns: 2},
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer func() { _ = st.Close(context.Background()) }()

	seedSource(t, ctx, st.PG)
	src := NewPG().Bind(st.PG)

	// tie at ts=100 is broken by id, batch size 2 splits the page exactly there
	batch, err := src.ReadBatch(ctx, "chat-1", domain.Cursor{}, 2, domain.Bounds{})
	if err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	if len(batch) != 2 || batch[0].ID != "a" || batch[1].ID != "b" {
		t.Fatalf("first page = %+v", batch)
	}

	cur := domain.Cursor{TsSeconds: batch[1].TsSeconds, LastID: batch[1].ID}
	batch, err = src.ReadBatch(ctx, "chat-1", cur, 2, domain.Bounds{})
	if err != nil {
		t.Fatalf("ReadBatch 2: %v", err)
	}
	if len(batch) != 1 || batch[0].ID != "c" {
		t.Fatalf("second page = %+v", batch)
	}

	cur = domain.Cursor{TsSeconds: batch[0].TsSeconds, LastID: batch[0].ID}
	batch, err = src.ReadBatch(ctx, "chat-1", cur, 2, domain.Bounds{})
	if err != nil {
		t.Fatalf("ReadBatch 3: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("expected empty terminal page, got %+v", batch)
	}

	// bounds intersect with the keyset predicate
	since, until := int64(101), int64(200)
	batch, err = src.ReadBatch(ctx, "chat-1", domain.Cursor{}, 10, domain.Bounds{Since: &since, Until: &until})
	if err != nil {
		t.Fatalf("ReadBatch bounded: %v", err)
	}
	if len(batch) != 1 || batch[0].ID != "c" {
		t.Fatalf("bounded page = %+v", batch)
	}

	// discovery orders by most recent activity
	chats, err := src.DiscoverChats(ctx, 10)
	if err != nil {
		t.Fatalf("DiscoverChats: %v", err)
	}
	if len(chats) != 2 || chats[0] != "chat-1" || chats[1] != "chat-2" {
		t.Fatalf("chats = %v", chats)
	}

	meta, err := src.LatestMeta(ctx, "chat-1")
	if err != nil || meta == nil {
		t.Fatalf("LatestMeta: %v %v", meta, err)
	}
	if meta.TsSeconds != 105 || meta.ID != "c" {
		t.Fatalf("latest = %+v", meta)
	}
	if meta, err = src.LatestMeta(ctx, "missing"); err != nil || meta != nil {
		t.Fatalf("LatestMeta missing chat: %+v %v", meta, err)
	}

	// depth 2 on a 3-row chat lands on the oldest row
	meta, err = src.NthRecentBoundary(ctx, "chat-1", 2)
	if err != nil || meta == nil {
		t.Fatalf("NthRecentBoundary: %v %v", meta, err)
	}
	if meta.TsSeconds != 100 || meta.ID != "a" {
		t.Fatalf("boundary = %+v", meta)
	}

	// depth equal to the row count: no boundary, import everything
	if meta, err = src.NthRecentBoundary(ctx, "chat-1", 3); err != nil || meta != nil {
		t.Fatalf("boundary beyond depth should be nil, got %+v %v", meta, err)
	}
}

func TestHubReader_Integration(t *testing.T) {
	dsn, stop := startPostgres(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	st, err := store.Open(ctx, store.Config{
		PG: store.PGConfig{Enabled: true, URL: dsn, MaxConns: 2},
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer func() { _ = st.Close(context.Background()) }()

	seedSource(t, ctx, st.PG)
	hub := NewHubPG().Bind(st.PG)

	events, err := hub.ReadEvents(ctx, domain.Cursor{}, 2, domain.Bounds{})
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 2 || events[0].EventID != "e1" || events[1].EventID != "e2" {
		t.Fatalf("first event page = %+v", events)
	}

	cur := domain.Cursor{TsSeconds: events[1].CreatedAt.Unix(), LastID: events[1].EventID}
	events, err = hub.ReadEvents(ctx, cur, 2, domain.Bounds{})
	if err != nil {
		t.Fatalf("ReadEvents 2: %v", err)
	}
	if len(events) != 1 || events[0].EventID != "e3" {
		t.Fatalf("second event page = %+v", events)
	}
}
