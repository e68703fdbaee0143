package service

import (
	"context"

	"msgvault/internal/services/importer/domain"
)

const secondsPerDay = int64(86400)

// computeBounds turns the run's range rule into one conversation's
// inclusive [since, until] window. Probe errors propagate; an empty
// conversation yields closed bounds that match nothing rather than an error
func computeBounds(
	ctx context.Context,
	src domain.SourceReader,
	rule domain.RangeRule,
	chatID string,
) (domain.Bounds, error) {
	switch rule.Mode {
	case domain.RangeAbsolute:
		return domain.Bounds{Since: rule.Since, Until: rule.Until}, nil

	case domain.RangeDays:
		meta, err := src.LatestMeta(ctx, chatID)
		if err != nil {
			return domain.Bounds{}, err
		}
		if meta == nil {
			// no rows: nothing to anchor on, the first page is empty anyway
			return domain.Bounds{}, nil
		}
		until := meta.TsSeconds
		since := until - int64(rule.Days)*secondsPerDay
		return domain.Bounds{Since: &since, Until: &until}, nil

	case domain.RangeDepth:
		if rule.Depth <= 0 {
			return domain.Bounds{}, nil
		}
		meta, err := src.NthRecentBoundary(ctx, chatID, rule.Depth)
		if err != nil {
			return domain.Bounds{}, err
		}
		if meta == nil {
			// shallower than the requested depth: import from the beginning
			return domain.Bounds{}, nil
		}
		since := meta.TsSeconds
		return domain.Bounds{Since: &since}, nil

	default: // RangeAll
		return domain.Bounds{}, nil
	}
}
