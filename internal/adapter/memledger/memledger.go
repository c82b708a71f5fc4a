// Package memledger provides an in-memory ledger.Store for development and
// tests. Entries do not survive process restart, so crash recovery is a
// no-op sweep over whatever the current process wrote.
package memledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agentsdashboard/orchestrator/internal/domain"
	"github.com/agentsdashboard/orchestrator/internal/domain/run"
	"github.com/agentsdashboard/orchestrator/internal/port/ledger"
)

// Store implements ledger.Store with a mutex-guarded map. Creation order is
// tracked with a monotonic counter so ListQueuedRequests is deterministic.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	nextSeq uint64
}

type entry struct {
	rec run.LedgerEntry
	seq uint64
}

// NewStore creates an empty in-memory ledger.
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

func (s *Store) UpsertQueued(_ context.Context, req *run.Request) error {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := req.Key()
	now := time.Now().UTC()

	if e, ok := s.entries[key]; ok {
		if e.rec.State == run.StateRunning {
			return fmt.Errorf("upsert queued %s: run is active: %w", key, domain.ErrConflict)
		}
		e.rec.State = run.StateQueued
		e.rec.TaskID = req.TaskID
		e.rec.RequestJSON = string(reqJSON)
		e.rec.Summary = ""
		e.rec.PayloadJSON = ""
		e.rec.StartedAt = nil
		e.rec.EndedAt = nil
		e.rec.UpdatedAt = now
		return nil
	}

	s.nextSeq++
	s.entries[key] = &entry{
		seq: s.nextSeq,
		rec: run.LedgerEntry{
			RunID:       key,
			TaskID:      req.TaskID,
			State:       run.StateQueued,
			RequestJSON: string(reqJSON),
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
	return nil
}

func (s *Store) MarkRunning(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[run.Key(runID)]
	if !ok {
		return fmt.Errorf("mark running %s: %w", runID, domain.ErrNotFound)
	}
	if e.rec.State != run.StateQueued {
		return fmt.Errorf("mark running %s: %w", runID, domain.ErrConflict)
	}

	now := time.Now().UTC()
	e.rec.State = run.StateRunning
	if e.rec.StartedAt == nil {
		e.rec.StartedAt = &now
	}
	e.rec.UpdatedAt = now
	return nil
}

func (s *Store) MarkCompleted(_ context.Context, runID string, state run.State, summary, payloadJSON string) error {
	if !state.Terminal() {
		return fmt.Errorf("mark completed %s: %q is not terminal: %w", runID, state, domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[run.Key(runID)]
	if !ok {
		return fmt.Errorf("mark completed %s: %w", runID, domain.ErrNotFound)
	}

	allowed := e.rec.State == run.StateRunning ||
		(state == run.StateCancelled && e.rec.State == run.StateQueued)
	if !allowed {
		return fmt.Errorf("mark completed %s: %w", runID, domain.ErrConflict)
	}

	now := time.Now().UTC()
	e.rec.State = state
	e.rec.Summary = summary
	e.rec.PayloadJSON = payloadJSON
	e.rec.EndedAt = &now
	e.rec.UpdatedAt = now
	return nil
}

func (s *Store) ListQueuedRequests(_ context.Context) ([]run.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var queued []*entry
	for _, e := range s.entries {
		if e.rec.State == run.StateQueued {
			queued = append(queued, e)
		}
	}
	sort.Slice(queued, func(i, j int) bool { return queued[i].seq < queued[j].seq })

	reqs := make([]run.Request, 0, len(queued))
	for _, e := range queued {
		var req run.Request
		if err := json.Unmarshal([]byte(e.rec.RequestJSON), &req); err != nil {
			return nil, fmt.Errorf("unmarshal queued request %s: %w", e.rec.RunID, err)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func (s *Store) ListRunningIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, e := range s.entries {
		if e.rec.State == run.StateRunning {
			ids = append(ids, e.rec.RunID)
		}
	}
	return ids, nil
}

func (s *Store) GetSnapshot(_ context.Context, runID string) (*run.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[run.Key(runID)]
	if !ok {
		return nil, fmt.Errorf("get run %s: %w", runID, domain.ErrNotFound)
	}
	rec := e.rec
	return &rec, nil
}

func (s *Store) RecoverStaleRunning(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	swept := 0
	for _, e := range s.entries {
		if e.rec.State != run.StateRunning {
			continue
		}
		e.rec.State = run.StateFailed
		e.rec.Summary = ledger.RecoverySummary
		e.rec.EndedAt = &now
		e.rec.UpdatedAt = now
		swept++
	}
	return swept, nil
}
