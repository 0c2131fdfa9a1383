package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/dbourene/kinjo-production/internal/production"
)

// MemoryStore is a concurrency-safe in-memory implementation of the
// installation repository and run ledger. It backs local runs without a
// database and the tests.
type MemoryStore struct {
	mu sync.RWMutex

	installations map[string]production.Installation
	// key: run id
	runs map[string]*production.Run
	// insertion order of runs, so ordering does not depend on clock resolution
	seq  map[string]uint64
	next uint64

	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		installations: make(map[string]production.Installation),
		runs:          make(map[string]*production.Run),
		seq:           make(map[string]uint64),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Name identifies the backend in health reports.
func (s *MemoryStore) Name() string {
	return "memory"
}

// PutInstallation inserts or replaces an installation.
func (s *MemoryStore) PutInstallation(inst production.Installation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installations[inst.ID] = inst
}

// LoadInstallations reads a JSON array of installations and stores each one.
func (s *MemoryStore) LoadInstallations(r io.Reader) (int, error) {
	var list []production.Installation
	if err := json.NewDecoder(r).Decode(&list); err != nil {
		return 0, fmt.Errorf("decode installations: %w", err)
	}
	for _, inst := range list {
		if inst.ID == "" {
			return 0, fmt.Errorf("installation without id")
		}
		s.PutInstallation(inst)
	}
	return len(list), nil
}

// Get returns a copy of the installation.
func (s *MemoryStore) Get(_ context.Context, id string) (*production.Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.installations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", production.ErrNotFound, id)
	}
	return &inst, nil
}

func (s *MemoryStore) BeginRun(_ context.Context, run *production.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	now := s.now()
	run.CreatedAt, run.UpdatedAt = now, now
	stored := *run
	s.runs[run.ID] = &stored
	s.next++
	s.seq[run.ID] = s.next
	return nil
}

func (s *MemoryStore) SetRunStatus(_ context.Context, runID string, status production.RunStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	run.Status = status
	run.Error = errMsg
	run.UpdatedAt = s.now()
	return nil
}

// CommitRun updates the installation and the run under one lock. A run
// older than a committed run of the same installation is marked superseded.
func (s *MemoryStore) CommitRun(_ context.Context, run *production.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.runs[run.ID]
	if !ok {
		return fmt.Errorf("run %s not found", run.ID)
	}
	inst, ok := s.installations[run.InstallationID]
	if !ok {
		return fmt.Errorf("%w: %s", production.ErrNotFound, run.InstallationID)
	}

	if s.newerCommittedLocked(stored) {
		stored.Status = production.RunSuperseded
		stored.Error = "a newer run was committed"
		stored.UpdatedAt = s.now()
		run.Status = production.RunSuperseded
		return fmt.Errorf("%w: run %s", production.ErrSuperseded, run.ID)
	}

	e := run.EnergyKWh
	inst.EnergyKWh = &e
	s.installations[run.InstallationID] = inst

	stored.Status = production.RunCommitted
	stored.Error = ""
	stored.UpdatedAt = s.now()
	run.Status = production.RunCommitted
	return nil
}

func (s *MemoryStore) newerCommittedLocked(run *production.Run) bool {
	for id, other := range s.runs {
		if other.InstallationID == run.InstallationID &&
			other.Status == production.RunCommitted &&
			s.seq[id] > s.seq[run.ID] {
			return true
		}
	}
	return false
}

func (s *MemoryStore) LatestRun(_ context.Context, installationID string) (*production.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *production.Run
	for _, run := range s.runs {
		if run.InstallationID != installationID {
			continue
		}
		if latest == nil || s.seq[run.ID] > s.seq[latest.ID] {
			latest = run
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

// RunsByStatus returns matching runs oldest first.
func (s *MemoryStore) RunsByStatus(_ context.Context, status production.RunStatus) ([]production.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []production.Run
	for _, run := range s.runs {
		if run.Status == status {
			result = append(result, *run)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return s.seq[result[i].ID] < s.seq[result[j].ID]
	})
	return result, nil
}
