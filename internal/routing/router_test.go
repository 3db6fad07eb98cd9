package routing

import (
	"testing"
	"time"

	"pushfeed/internal/feed"
	"pushfeed/internal/prefs"
	"pushfeed/internal/transport"
	logx "pushfeed/pkg/logx"
)

func newTestRouter() (*Router, *time.Time) {
	r := NewRouter(Config{}, nil, logx.Nop())
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	r.SetClock(func() time.Time { return now })
	return r, &now
}

func note(id string, pr feed.Priority) feed.Notification {
	return feed.Notification{ID: id, Title: "title-" + id, Priority: pr, Category: "ops", EventType: "deploy"}
}

func TestRouteUrgentTiersAlwaysReachBell(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter()

	p := prefs.Default()
	p.Channels.InApp = false
	p.Categories["ops"] = false

	for _, pr := range []feed.Priority{feed.PriorityCritical, feed.PriorityHigh} {
		d := r.Route(note("n-"+pr.String(), pr), p)
		if !d.Bell {
			t.Fatalf("%v must always reach the bell", pr)
		}
	}
	if d := r.Route(note("n-p2", feed.PriorityMedium), p); d.Bell {
		t.Fatalf("P2 must respect the in-app channel toggle")
	}
}

func TestRouteSilentTierNeverFlashes(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter()
	p := prefs.Default()
	p.Priorities[feed.PrioritySilent] = true

	d := r.Route(note("n", feed.PrioritySilent), p)
	if d.Flash {
		t.Fatalf("P4 must never flash")
	}
	if !d.Bell {
		t.Fatalf("enabled P4 should still reach the bell")
	}
}

func TestRouteQuietHoursSuppressFlashExceptCritical(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter()

	p := prefs.Default()
	p.QuietHours = prefs.QuietHours{Enabled: true, Start: "00:00", End: "23:59"}

	if d := r.Route(note("h", feed.PriorityHigh), p); d.Flash {
		t.Fatalf("quiet hours must suppress P1 flash")
	}
	if d := r.Route(note("c", feed.PriorityCritical), p); !d.Flash {
		t.Fatalf("P0 must flash through quiet hours")
	}
	// Bell is unaffected by quiet hours.
	if d := r.Route(note("h2", feed.PriorityHigh), p); !d.Bell {
		t.Fatalf("quiet hours must not gate the bell")
	}
}

func TestRouteDisabledCategorySuppressesFlash(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter()

	p := prefs.Default()
	p.Categories["ops"] = false

	if d := r.Route(note("m", feed.PriorityMedium), p); d.Flash || d.Bell {
		t.Fatalf("disabled category must gate both sinks for P2: %+v", d)
	}
	if d := r.Route(note("c", feed.PriorityCritical), p); !d.Flash || !d.Bell {
		t.Fatalf("P0 overrides category gating: %+v", d)
	}
}

func TestRouteFlashDedupWindow(t *testing.T) {
	t.Parallel()
	r, now := newTestRouter()
	p := prefs.Default()

	same := func(id string) feed.Notification {
		return feed.Notification{ID: id, Title: "Deploy finished",
			Priority: feed.PriorityMedium, Category: "ops", EventType: "deploy"}
	}

	if d := r.Route(same("a"), p); !d.Flash {
		t.Fatalf("first flash must pass")
	}
	// Same eventType+title inside the window: suppressed even with a new id.
	if d := r.Route(same("b"), p); d.Flash {
		t.Fatalf("duplicate flash inside the window must be suppressed")
	}
	if d := r.Route(same("b"), p); !d.Bell {
		t.Fatalf("dedup applies to flash only, not the bell")
	}

	*now = now.Add(DefaultFlashDedupWindow + time.Millisecond)
	if d := r.Route(same("c"), p); !d.Flash {
		t.Fatalf("flash must pass again after the window")
	}
}

func TestRoutePermissionEventsUseLongerWindow(t *testing.T) {
	t.Parallel()
	r, now := newTestRouter()
	p := prefs.Default()

	n := feed.Notification{ID: "a", Title: "Permissions updated",
		Priority: feed.PriorityMedium, Category: "system",
		EventType: transport.FramePermissionsUpdated}
	if d := r.Route(n, p); !d.Flash {
		t.Fatalf("first permission flash must pass")
	}

	// Past the normal window but inside the permission window: still suppressed.
	*now = now.Add(5 * time.Second)
	n.ID = "b"
	if d := r.Route(n, p); d.Flash {
		t.Fatalf("permission flashes use the longer dedup window")
	}

	*now = now.Add(PermissionFlashDedupWindow)
	n.ID = "c"
	if d := r.Route(n, p); !d.Flash {
		t.Fatalf("permission flash must pass after the longer window")
	}
}
