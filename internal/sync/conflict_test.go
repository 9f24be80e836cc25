package sync

import (
	"testing"
	"time"

	"github.com/ihep/integration-gateway/internal/canonical"
)

func resourceAt(id string, updated time.Time) canonical.Resource {
	return canonical.NewResource(&canonical.Patient{ID: id, FamilyName: "Doe"},
		canonical.Provenance{PartnerID: "epic-prod", ResourceID: id}, updated)
}

func TestResolveStrategies(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	now := newer.Add(time.Minute)

	local := resourceAt("p1", older)
	remote := resourceAt("p1", newer)

	cases := []struct {
		name       string
		strategy   Strategy
		wantSource string
	}{
		{"local wins", StrategyLocalWins, "local"},
		{"remote wins", StrategyRemoteWins, "remote"},
		{"newest wins picks remote", StrategyNewestWins, "remote"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Resolve(local, remote, tc.strategy, now)
			if d.Source != tc.wantSource {
				t.Errorf("expected source %q, got %q", tc.wantSource, d.Source)
			}
			if d.Winner == nil {
				t.Fatal("expected a winner")
			}
			if d.Manual {
				t.Error("non-manual strategies must not flag for review")
			}
			if !d.ResolvedAt.Equal(now) {
				t.Errorf("expected resolvedAt %v, got %v", now, d.ResolvedAt)
			}
		})
	}
}

func TestResolveNewestWinsTieFavorsLocal(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	local := resourceAt("p1", ts)
	remote := resourceAt("p1", ts)

	d := Resolve(local, remote, StrategyNewestWins, ts)
	if d.Source != "local" {
		t.Errorf("expected tie to favor local, got %q", d.Source)
	}
	if d.Winner.Version != local.Version {
		t.Error("expected the local version to win")
	}
}

func TestResolveDeterministic(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	local := resourceAt("p1", ts)
	remote := resourceAt("p1", ts.Add(time.Second))

	first := Resolve(local, remote, StrategyNewestWins, ts)
	for i := 0; i < 10; i++ {
		if d := Resolve(local, remote, StrategyNewestWins, ts); d.Source != first.Source {
			t.Fatal("expected deterministic resolution for fixed inputs")
		}
	}
}

func TestResolveManualFlagsPair(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	local := resourceAt("p1", ts)
	remote := resourceAt("p1", ts.Add(time.Second))

	d := Resolve(local, remote, StrategyManual, ts)
	if !d.Manual {
		t.Fatal("expected a manual flag")
	}
	if d.Winner != nil {
		t.Error("manual strategy must not pick a winner")
	}
	if d.Local == nil || d.Remote == nil {
		t.Error("expected both versions to be carried for review")
	}
}

func TestParseStrategy(t *testing.T) {
	if s, err := ParseStrategy(""); err != nil || s != StrategyNewestWins {
		t.Errorf("expected empty input to default to newest_wins, got %q/%v", s, err)
	}
	if _, err := ParseStrategy("coin_flip"); err == nil {
		t.Error("expected error for unknown strategy")
	}
	for _, name := range []string{"local_wins", "remote_wins", "newest_wins", "manual"} {
		if _, err := ParseStrategy(name); err != nil {
			t.Errorf("expected %q to parse, got %v", name, err)
		}
	}
}
