package feed

import (
	"sort"
	"time"
)

// DefaultTolerance is the trailing window inside which snapshot entries are
// admitted even when they are older than the newest entry we already hold.
// Tuned empirically; treat as policy, not a correctness invariant.
const DefaultTolerance = 24 * time.Hour

// Merge appends incoming events whose id is not already present in current and
// returns the combined list sorted by createdAt descending.
//
// Merge is idempotent: applying the same events twice yields the same list.
// It never mutates its inputs and never truncates; bounding the window is the
// Store's job so that unread entries pushed past the cut can be counted
// before they are dropped.
func Merge(current, incoming []Notification) []Notification {
	if len(incoming) == 0 {
		return sortDesc(append([]Notification(nil), current...))
	}

	seen := make(map[string]struct{}, len(current))
	out := make([]Notification, 0, len(current)+len(incoming))
	for _, n := range current {
		if n.ID == "" {
			continue
		}
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		out = append(out, n)
	}
	for _, n := range incoming {
		if n.ID == "" {
			continue
		}
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		out = append(out, n)
	}
	return sortDesc(out)
}

// Reconcile folds an authoritative server snapshot into the locally
// accumulated list without regressing state.
//
// Rules:
//   - Empty current list: adopt the snapshot verbatim (sorted, id-deduped).
//   - Otherwise compute the newest createdAt already held (the watermark) and
//     admit only snapshot entries that are newer than the watermark or within
//     the trailing tolerance window, and not already present by id.
//   - Entries already held are never removed here, even when the snapshot
//     does not know them: a slow snapshot fetch must not erase events that
//     arrived moments earlier over the push channel.
func Reconcile(current, snapshot []Notification, tolerance time.Duration) []Notification {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if len(current) == 0 {
		return Merge(nil, snapshot)
	}

	var watermark time.Time
	for _, n := range current {
		if n.CreatedAt.After(watermark) {
			watermark = n.CreatedAt
		}
	}
	cutoff := watermark.Add(-tolerance)

	admitted := make([]Notification, 0, len(snapshot))
	for _, n := range snapshot {
		if n.CreatedAt.After(watermark) || !n.CreatedAt.Before(cutoff) {
			admitted = append(admitted, n)
		}
	}
	return Merge(current, admitted)
}

func sortDesc(list []Notification) []Notification {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list
}
