// Package local holds degenerate in-process implementations of the
// collaborator ports. They let the CLI exercise the full lifecycle
// without external services; production deployments swap in real
// adapters.
package local

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/doeshing/overseer/internal/domain"
	"github.com/doeshing/overseer/internal/ports"
)

// MetadataAnalyzer reads the actionability confidence from item metadata
// ("confidence" key); items without one score a neutral default.
type MetadataAnalyzer struct {
	Default float64
}

func (a *MetadataAnalyzer) Analyze(_ context.Context, item *domain.WorkItem) (float64, string, error) {
	if raw, ok := item.Metadata["confidence"]; ok {
		confidence, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, "", fmt.Errorf("bad confidence %q: %w", raw, err)
		}
		return confidence, fmt.Sprintf("declared confidence %.2f", confidence), nil
	}
	return a.Default, "no analysis signal, using default confidence", nil
}

// MetadataImplementer shapes a ChangeSet from item metadata so the gate
// pipeline has something real to evaluate.
type MetadataImplementer struct {
	Provider string
}

func (i *MetadataImplementer) Implement(_ context.Context, item *domain.WorkItem) (domain.ChangeSet, error) {
	change := domain.ChangeSet{
		WorkItemID: item.ID,
		Provider:   i.Provider,
		Operation:  "apply implementation",
	}
	if files, ok := item.Metadata["files"]; ok {
		change.FilesChanged = strings.Split(files, ",")
	}
	if lines, ok := item.Metadata["lines"]; ok {
		if n, err := strconv.Atoi(lines); err == nil {
			change.LinesAdded = n
		}
	}
	if cost, ok := item.Metadata["estimated_cost"]; ok {
		if c, err := strconv.ParseFloat(cost, 64); err == nil {
			change.EstimatedCost = c
		}
	}
	return change, nil
}

// StaticVerifier reports the verdict declared in item metadata
// ("tests" key, "pass"/"fail"), defaulting to pass.
type StaticVerifier struct{}

func (v *StaticVerifier) Verify(_ context.Context, item *domain.WorkItem) (bool, string, error) {
	if verdict, ok := item.Metadata["tests"]; ok && verdict == "fail" {
		return false, "declared test failure", nil
	}
	return true, "", nil
}

// MemoryCheckpointStore keeps checkpoint refs in memory. Good enough for
// demos and tests; a real deployment points this port at source control.
type MemoryCheckpointStore struct {
	mu   sync.Mutex
	refs map[string]string
	head string
}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{refs: make(map[string]string)}
}

func (s *MemoryCheckpointStore) Checkpoint(_ context.Context, description string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := uuid.New().String()[:8]
	s.refs[ref] = description
	s.head = ref
	return ref, nil
}

func (s *MemoryCheckpointStore) Restore(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refs[ref]; !ok {
		return fmt.Errorf("unknown checkpoint %s", ref)
	}
	s.head = ref
	return nil
}

func (s *MemoryCheckpointStore) Exists(_ context.Context, ref string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.refs[ref]
	return ok, nil
}

// Head returns the most recently created or restored ref.
func (s *MemoryCheckpointStore) Head() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head
}

var (
	_ ports.Analyzer        = (*MetadataAnalyzer)(nil)
	_ ports.Implementer     = (*MetadataImplementer)(nil)
	_ ports.Verifier        = (*StaticVerifier)(nil)
	_ ports.CheckpointStore = (*MemoryCheckpointStore)(nil)
)
