package sync

import (
	"fmt"
	"time"

	"github.com/ihep/integration-gateway/internal/canonical"
)

// Strategy selects how a local/remote disagreement is settled.
type Strategy string

const (
	StrategyLocalWins  Strategy = "local_wins"
	StrategyRemoteWins Strategy = "remote_wins"
	StrategyNewestWins Strategy = "newest_wins"
	StrategyManual     Strategy = "manual"
)

// ParseStrategy validates a configured strategy name, defaulting empty input
// to newest_wins.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyLocalWins, StrategyRemoteWins, StrategyNewestWins, StrategyManual:
		return Strategy(s), nil
	case "":
		return StrategyNewestWins, nil
	}
	return "", fmt.Errorf("unknown conflict strategy %q", s)
}

// Decision is the outcome of resolving one conflict. Under the manual
// strategy no winner is chosen: Manual is true and both versions are carried
// for human review.
type Decision struct {
	Winner     *canonical.Resource `json:"winner,omitempty"`
	Strategy   Strategy            `json:"strategy"`
	Source     string              `json:"source,omitempty"` // "local" or "remote"
	ResolvedAt time.Time           `json:"resolved_at"`
	Manual     bool                `json:"manual,omitempty"`
	Local      *canonical.Resource `json:"local,omitempty"`
	Remote     *canonical.Resource `json:"remote,omitempty"`
}

// Resolve picks a winner between two versions of the same logical resource.
// Pure: the caller supplies the resolution time and persists the decision.
// Under newest_wins a timestamp tie favors the local version.
func Resolve(local, remote canonical.Resource, strategy Strategy, now time.Time) Decision {
	d := Decision{Strategy: strategy, ResolvedAt: now}
	switch strategy {
	case StrategyLocalWins:
		d.Winner, d.Source = &local, "local"
	case StrategyRemoteWins:
		d.Winner, d.Source = &remote, "remote"
	case StrategyNewestWins:
		if remote.LastUpdated.After(local.LastUpdated) {
			d.Winner, d.Source = &remote, "remote"
		} else {
			d.Winner, d.Source = &local, "local"
		}
	case StrategyManual:
		d.Manual = true
		d.Local, d.Remote = &local, &remote
	default:
		// unknown strategies are rejected at config time
		d.Winner, d.Source = &local, "local"
	}
	return d
}
