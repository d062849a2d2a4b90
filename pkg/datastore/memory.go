package datastore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sgi/pkg/utils"
)

// Memory is an in-process Store, used by tests and the console demo.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]Record
	order       map[string][]string // insertion order per collection
	now         func() time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]Record),
		order:       make(map[string][]string),
		now:         time.Now,
	}
}

func (m *Memory) Find(_ context.Context, q Query) ([]Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := m.match(q)
	if q.OrderBy != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			c := compare(matched[i][q.OrderBy], matched[j][q.OrderBy])
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	}

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return []Record{}, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]Record, len(matched))
	for i, r := range matched {
		out[i] = clone(r)
	}
	return out, nil
}

func (m *Memory) Count(_ context.Context, q Query) (int, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.match(q)), nil
}

func (m *Memory) Get(_ context.Context, collection, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return clone(r), nil
}

func (m *Memory) Insert(_ context.Context, collection string, rec Record) (string, error) {
	if err := validField(collection); err != nil {
		return "", err
	}
	norm, err := normalize(rec)
	if err != nil {
		return "", err
	}
	id := norm.ID()
	if id == "" {
		id = uuid.NewString()
		norm["id"] = id
	}
	if _, ok := norm["created_at"]; !ok {
		norm["created_at"] = m.now().UTC().Format(time.RFC3339)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.collections[collection] == nil {
		m.collections[collection] = make(map[string]Record)
	}
	if _, exists := m.collections[collection][id]; exists {
		return "", fmt.Errorf("%s/%s already exists", collection, id)
	}
	m.collections[collection][id] = norm
	m.order[collection] = append(m.order[collection], id)
	return id, nil
}

func (m *Memory) Update(_ context.Context, collection, id string, fields Record) error {
	norm, err := normalize(fields)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.collections[collection][id]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	for k, v := range norm {
		if k == "id" {
			continue
		}
		r[k] = v
	}
	r["updated_at"] = m.now().UTC().Format(time.RFC3339)
	return nil
}

func (m *Memory) match(q Query) []Record {
	var out []Record
	for _, id := range m.order[q.Collection] {
		r := m.collections[q.Collection][id]
		if matchesAll(r, q.Filters) {
			out = append(out, r)
		}
	}
	return out
}

func matchesAll(r Record, filters []Filter) bool {
	for _, f := range filters {
		v, ok := r[f.Field]
		if !ok || v == nil {
			if f.Op == OpNe {
				continue
			}
			return false
		}
		c := compare(v, f.Value)
		switch f.Op {
		case OpEq:
			if c != 0 {
				return false
			}
		case OpNe:
			if c == 0 {
				return false
			}
		case OpGt:
			if c <= 0 {
				return false
			}
		case OpGte:
			if c < 0 {
				return false
			}
		case OpLt:
			if c >= 0 {
				return false
			}
		case OpLte:
			if c > 0 {
				return false
			}
		case OpLike:
			if !utils.ContainsFold(fmt.Sprint(v), fmt.Sprint(f.Value)) {
				return false
			}
		}
	}
	return true
}

// compare orders numbers numerically and everything else as strings.
// Missing values sort first.
func compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func clone(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
