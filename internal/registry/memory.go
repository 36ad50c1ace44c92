package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/agentgate/agentgate/pkg/models"
)

// MemoryStore is an in-process Store backed by a map. Used by tests and by
// deployments that opt out of SQLite persistence.
type MemoryStore struct {
	mu sync.RWMutex
	// byKey indexes specs by id@version; order preserves insertion sequence
	// so latest-resolution ties on created_at break toward the later insert.
	byKey map[string]*models.AgentSpec
	order []*models.AgentSpec
}

// NewMemoryStore creates an empty in-memory registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byKey: make(map[string]*models.AgentSpec)}
}

func specKey(id, version string) string { return id + "@" + version }

func (s *MemoryStore) Register(ctx context.Context, raw map[string]any) (string, string, error) {
	spec, err := normalizeSpec(raw)
	if err != nil {
		return "", "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := specKey(spec.ID, spec.Version)
	if _, ok := s.byKey[key]; ok {
		return "", "", &ErrVersionExists{ID: spec.ID, Version: spec.Version}
	}
	spec.CreatedAt = time.Now().UnixNano()
	s.byKey[key] = spec
	s.order = append(s.order, spec)
	return spec.ID, spec.Version, nil
}

func (s *MemoryStore) Get(ctx context.Context, id, version string) (*models.AgentSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if version != "" {
		spec, ok := s.byKey[specKey(id, version)]
		if !ok {
			return nil, &ErrNotFound{ID: id, Version: version}
		}
		return copySpec(spec), nil
	}

	var latest *models.AgentSpec
	for _, spec := range s.order {
		if spec.ID != id || spec.Archived {
			continue
		}
		if latest == nil || spec.CreatedAt >= latest.CreatedAt {
			latest = spec
		}
	}
	if latest == nil {
		return nil, &ErrNotFound{ID: id}
	}
	return copySpec(latest), nil
}

func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]models.AgentSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []*models.AgentSpec
	for _, spec := range s.order {
		if matchFilter(spec, filter) {
			rows = append(rows, spec)
		}
	}
	if filter.LatestOnly {
		rows = latestPerID(rows)
	}

	out := make([]models.AgentSummary, 0, len(rows))
	for _, spec := range rows {
		out = append(out, spec.Summary())
	}
	return out, nil
}

func (s *MemoryStore) Archive(ctx context.Context, id, version string) error {
	return s.setArchived(id, version, true)
}

func (s *MemoryStore) Unarchive(ctx context.Context, id, version string) error {
	return s.setArchived(id, version, false)
}

func (s *MemoryStore) setArchived(id, version string, archived bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if version != "" {
		spec, ok := s.byKey[specKey(id, version)]
		if !ok {
			return &ErrNotFound{ID: id, Version: version}
		}
		spec.Archived = archived
		return nil
	}

	found := false
	for _, spec := range s.order {
		if spec.ID == id {
			spec.Archived = archived
			found = true
		}
	}
	if !found {
		return &ErrNotFound{ID: id}
	}
	return nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order), nil
}

func (s *MemoryStore) Close() error { return nil }

func matchFilter(spec *models.AgentSpec, f ListFilter) bool {
	if !f.IncludeArchived && spec.Archived {
		return false
	}
	if f.Primitive != "" && string(spec.Primitive) != f.Primitive {
		return false
	}
	if f.SupportsMemory != nil && spec.SupportsMemory != *f.SupportsMemory {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(spec.ID), q) &&
			!strings.Contains(strings.ToLower(spec.Name), q) &&
			!strings.Contains(strings.ToLower(spec.Description), q) {
			return false
		}
	}
	return true
}

// latestPerID keeps one row per id: the maximum created_at among rows,
// preferring the later insert on a timestamp tie.
func latestPerID(rows []*models.AgentSpec) []*models.AgentSpec {
	best := make(map[string]int, len(rows))
	var order []string
	for i, spec := range rows {
		j, seen := best[spec.ID]
		if !seen {
			best[spec.ID] = i
			order = append(order, spec.ID)
			continue
		}
		if spec.CreatedAt >= rows[j].CreatedAt {
			best[spec.ID] = i
		}
	}
	out := make([]*models.AgentSpec, 0, len(order))
	for _, id := range order {
		out = append(out, rows[best[id]])
	}
	return out
}

// copySpec returns a shallow copy so callers cannot mutate stored state.
// Schema maps are shared but treated as immutable after registration.
func copySpec(spec *models.AgentSpec) *models.AgentSpec {
	c := *spec
	if spec.MemoryPolicy != nil {
		p := *spec.MemoryPolicy
		c.MemoryPolicy = &p
	}
	if spec.Credits != nil {
		cr := *spec.Credits
		c.Credits = &cr
	}
	if spec.Tags != nil {
		c.Tags = append([]string(nil), spec.Tags...)
	}
	return &c
}
