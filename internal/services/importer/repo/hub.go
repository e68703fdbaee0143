package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"msgvault/internal/modkit/repokit"
	"msgvault/internal/services/importer/domain"
)

type (
	// HubPG is a Postgres binder for domain.HubReader
	HubPG      struct{}
	hubQueries struct{ q repokit.Queryer }
)

// NewHubPG returns a Postgres binder for domain.HubReader
func NewHubPG() repokit.Binder[domain.HubReader] { return HubPG{} }

// Bind implements repokit.Binder
func (HubPG) Bind(q repokit.Queryer) domain.HubReader { return &hubQueries{q: q} }

// ReadEvents pages the hub event stream on the (created_at, event_id)
// keyset. Creation-time ties between events are broken by event id the same
// way source rows break timestamp ties
func (r *hubQueries) ReadEvents(
	ctx context.Context,
	cur domain.Cursor,
	limit int,
	b domain.Bounds,
) ([]domain.HubEvent, error) {
	if limit <= 0 {
		limit = 200
	}

	curAt := time.Unix(cur.TsSeconds, 0).UTC()

	var sb strings.Builder
	sb.WriteString(`
		SELECT event_id, instance_id, event_type, chat_id, created_at, payload
		FROM hub_events
		WHERE (created_at > $1 OR (created_at = $1 AND event_id > $2))
	`)
	args := []any{curAt, cur.LastID}

	if b.Since != nil {
		args = append(args, time.Unix(*b.Since, 0).UTC())
		fmt.Fprintf(&sb, " AND created_at >= $%d", len(args))
	}
	if b.Until != nil {
		args = append(args, time.Unix(*b.Until, 0).UTC())
		fmt.Fprintf(&sb, " AND created_at <= $%d", len(args))
	}

	args = append(args, limit)
	fmt.Fprintf(&sb, " ORDER BY created_at ASC, event_id ASC LIMIT $%d", len(args))

	rows, err := r.q.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.HubEvent
	for rows.Next() {
		var (
			ev      domain.HubEvent
			payload []byte
		)
		if err := rows.Scan(
			&ev.EventID, &ev.InstanceID, &ev.EventType, &ev.ChatID,
			&ev.CreatedAt, &payload,
		); err != nil {
			return nil, err
		}
		ev.Payload = json.RawMessage(payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}
