package signingkeys

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// MemoryRepository keeps key metadata in process memory. It is meant for
// tests and single-process tooling; nothing survives a restart.
type MemoryRepository struct {
	mu   sync.Mutex
	keys map[string]models.SigningKey
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{keys: make(map[string]models.SigningKey)}
}

func (m *MemoryRepository) Create(_ context.Context, key *models.SigningKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key.KeyID]; ok {
		return common.ErrorAlreadyExists
	}
	m.keys[key.KeyID] = *key
	return nil
}

// newestFirst must be called with mu held.
func (m *MemoryRepository) newestFirst() []models.SigningKey {
	out := make([]models.SigningKey, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *MemoryRepository) Latest(context.Context) (*models.SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.newestFirst()
	if len(all) == 0 {
		return nil, common.ErrorNotFound
	}
	return &all[0], nil
}

func (m *MemoryRepository) Get(_ context.Context, keyID string) (*models.SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[keyID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &k, nil
}

func (m *MemoryRepository) ListVerifiable(_ context.Context, now time.Time) ([]models.SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SigningKey
	for _, k := range m.newestFirst() {
		if k.VerifiableAt(now) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *MemoryRepository) DeleteDiscarded(_ context.Context, now time.Time) ([]models.SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SigningKey
	for id, k := range m.keys {
		if !k.VerifiableAt(now) {
			out = append(out, k)
			delete(m.keys, id)
		}
	}
	return out, nil
}

// Len returns the number of stored keys.
func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}
