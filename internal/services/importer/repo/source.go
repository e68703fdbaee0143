// Package repo provides postgres access for the importer's source reads
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"msgvault/internal/modkit/repokit"
	"msgvault/internal/services/importer/domain"
)

type (
	// PG is a Postgres binder for domain.SourceReader
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

// NewPG returns a Postgres binder for domain.SourceReader
func NewPG() repokit.Binder[domain.SourceReader] { return PG{} }

// Bind implements repokit.Binder
func (PG) Bind(q repokit.Queryer) domain.SourceReader { return &queries{q: q} }

// DiscoverChats lists conversation ids ordered by most recent activity
func (r *queries) DiscoverChats(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.q.Query(ctx, `
		SELECT chat_id
		FROM source_messages
		GROUP BY chat_id
		ORDER BY MAX(ts_seconds) DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ReadBatch pulls the next ordered page strictly after the cursor.
// The (ts, id) keyset predicate is what makes the cursor exact: timestamps
// tie at seconds granularity and the id breaks the tie deterministically
func (r *queries) ReadBatch(
	ctx context.Context,
	chatID string,
	cur domain.Cursor,
	limit int,
	b domain.Bounds,
) ([]domain.Row, error) {
	if limit <= 0 {
		limit = 200
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, instance_id, chat_id, sender_id, from_me, ts_seconds, push_name, payload
		FROM source_messages
		WHERE chat_id = $1
		  AND (ts_seconds > $2 OR (ts_seconds = $2 AND id > $3))
	`)
	args := []any{chatID, cur.TsSeconds, cur.LastID}

	if b.Since != nil {
		args = append(args, *b.Since)
		fmt.Fprintf(&sb, " AND ts_seconds >= $%d", len(args))
	}
	if b.Until != nil {
		args = append(args, *b.Until)
		fmt.Fprintf(&sb, " AND ts_seconds <= $%d", len(args))
	}

	args = append(args, limit)
	fmt.Fprintf(&sb, " ORDER BY ts_seconds ASC, id ASC LIMIT $%d", len(args))

	rows, err := r.q.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Row
	for rows.Next() {
		var (
			row     domain.Row
			payload []byte
		)
		if err := rows.Scan(
			&row.ID, &row.InstanceID, &row.ChatID, &row.SenderID,
			&row.FromMe, &row.TsSeconds, &row.PushName, &payload,
		); err != nil {
			return nil, err
		}
		row.Payload = json.RawMessage(payload)
		out = append(out, row)
	}
	return out, rows.Err()
}

// LatestMeta probes the most recent (ts, id) for a conversation
func (r *queries) LatestMeta(ctx context.Context, chatID string) (*domain.RowMeta, error) {
	rows, err := r.q.Query(ctx, `
		SELECT ts_seconds, id
		FROM source_messages
		WHERE chat_id = $1
		ORDER BY ts_seconds DESC, id DESC
		LIMIT 1
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var m domain.RowMeta
	if err := rows.Scan(&m.TsSeconds, &m.ID); err != nil {
		return nil, err
	}
	return &m, rows.Err()
}

// NthRecentBoundary probes the row at offset depth counting back from the
// most recent. A missing row means the conversation is shallower than the
// requested depth and no lower bound applies
func (r *queries) NthRecentBoundary(ctx context.Context, chatID string, depth int) (*domain.RowMeta, error) {
	if depth <= 0 {
		return nil, nil
	}
	rows, err := r.q.Query(ctx, `
		SELECT ts_seconds, id
		FROM source_messages
		WHERE chat_id = $1
		ORDER BY ts_seconds DESC, id DESC
		OFFSET $2
		LIMIT 1
	`, chatID, depth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var m domain.RowMeta
	if err := rows.Scan(&m.TsSeconds, &m.ID); err != nil {
		return nil, err
	}
	return &m, rows.Err()
}
