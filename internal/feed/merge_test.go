package feed

import (
	"testing"
	"time"
)

func mk(id string, at time.Time) Notification {
	return Notification{ID: id, Title: "t-" + id, CreatedAt: at}
}

func ids(list []Notification) []string {
	out := make([]string, len(list))
	for i, n := range list {
		out[i] = n.ID
	}
	return out
}

func TestMergeDedupAndOrder(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cur := []Notification{mk("b", base.Add(2 * time.Minute)), mk("a", base)}
	in := []Notification{
		mk("c", base.Add(5 * time.Minute)),
		mk("a", base.Add(10 * time.Minute)), // duplicate id, must not replace
	}

	got := Merge(cur, in)
	want := []string{"c", "b", "a"}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d (%v)", len(want), len(got), ids(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
	// The original entry wins on id collision.
	if !got[2].CreatedAt.Equal(base) {
		t.Fatalf("duplicate id overwrote the existing entry")
	}
}

func TestMergeIdempotent(t *testing.T) {
	t.Parallel()
	base := time.Now()
	cur := []Notification{mk("a", base)}
	in := []Notification{mk("b", base.Add(time.Minute))}

	once := Merge(cur, in)
	twice := Merge(once, in)
	if len(once) != len(twice) {
		t.Fatalf("merge is not idempotent: %d vs %d", len(once), len(twice))
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	t.Parallel()
	base := time.Now()
	cur := []Notification{mk("old", base), mk("new", base.Add(time.Minute))}

	got := Merge(cur, nil)
	if cur[0].ID != "old" || cur[1].ID != "new" {
		t.Fatalf("merge reordered the caller's slice: %v", ids(cur))
	}
	if got[0].ID != "new" {
		t.Fatalf("expected newest first in the result, got %v", ids(got))
	}
}

func TestReconcileAdoptsSnapshotWhenEmpty(t *testing.T) {
	t.Parallel()
	base := time.Now()
	snap := []Notification{mk("a", base), mk("b", base.Add(time.Minute))}

	got := Reconcile(nil, snap, DefaultTolerance)
	if len(got) != 2 {
		t.Fatalf("expected snapshot adopted, got %v", ids(got))
	}
	if got[0].ID != "b" {
		t.Fatalf("expected newest first, got %v", ids(got))
	}
}

func TestReconcileNeverRemovesHeldEntries(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Local entry n1 arrived over the push channel after the snapshot was
	// cut; the snapshot does not contain it.
	cur := []Notification{mk("n1", base.Add(time.Minute)), mk("old", base.Add(-time.Hour))}
	snap := []Notification{mk("s1", base)}

	got := Reconcile(cur, snap, DefaultTolerance)
	found := map[string]bool{}
	for _, n := range got {
		found[n.ID] = true
	}
	if !found["n1"] || !found["old"] {
		t.Fatalf("reconcile dropped held entries: %v", ids(got))
	}
	if !found["s1"] {
		t.Fatalf("reconcile ignored snapshot entry: %v", ids(got))
	}
}

func TestReconcileToleranceWindow(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tolerance := time.Hour

	cur := []Notification{mk("w", base)} // watermark at base
	snap := []Notification{
		mk("fresh", base.Add(time.Minute)),        // after watermark: admitted
		mk("recent", base.Add(-30 * time.Minute)), // inside tolerance: admitted
		mk("stale", base.Add(-2 * time.Hour)),     // beyond tolerance: dropped
	}

	got := Reconcile(cur, snap, tolerance)
	found := map[string]bool{}
	for _, n := range got {
		found[n.ID] = true
	}
	if !found["fresh"] || !found["recent"] {
		t.Fatalf("expected fresh and recent admitted, got %v", ids(got))
	}
	if found["stale"] {
		t.Fatalf("stale snapshot entry admitted: %v", ids(got))
	}
}
