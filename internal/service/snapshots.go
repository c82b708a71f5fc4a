package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/agentsdashboard/orchestrator/internal/domain/run"
	"github.com/agentsdashboard/orchestrator/internal/port/cache"
	"github.com/agentsdashboard/orchestrator/internal/port/ledger"
)

// Snapshots serves run ledger snapshots with a read-through cache. Only
// terminal entries are cached; they never change again, so no invalidation
// is needed. Live runs always hit the ledger.
type Snapshots struct {
	store ledger.Store
	cache cache.Cache
	ttl   time.Duration
}

// NewSnapshots creates the snapshot reader. cache may be nil.
func NewSnapshots(store ledger.Store, c cache.Cache, ttl time.Duration) *Snapshots {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Snapshots{store: store, cache: c, ttl: ttl}
}

func snapshotKey(runID string) string { return "run-snapshot." + run.Key(runID) }

// Get returns the ledger snapshot for a run.
func (s *Snapshots) Get(ctx context.Context, runID string) (*run.LedgerEntry, error) {
	key := snapshotKey(runID)

	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var entry run.LedgerEntry
			if err := json.Unmarshal(data, &entry); err == nil {
				return &entry, nil
			}
		}
	}

	entry, err := s.store.GetSnapshot(ctx, run.Key(runID))
	if err != nil {
		return nil, err
	}

	if s.cache != nil && entry.State.Terminal() {
		if data, err := json.Marshal(entry); err == nil {
			if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
				slog.Debug("cache run snapshot", "run_id", runID, "error", err)
			}
		}
	}
	return entry, nil
}
