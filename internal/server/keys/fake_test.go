package keys

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

type memRepo struct {
	mu      sync.Mutex
	keys    map[string]models.SigningKey
	failGet error
	failNew error
}

func newMemRepo() *memRepo {
	return &memRepo{keys: make(map[string]models.SigningKey)}
}

func (m *memRepo) Create(_ context.Context, k *models.SigningKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNew != nil {
		return m.failNew
	}
	m.keys[k.KeyID] = *k
	return nil
}

func (m *memRepo) sorted() []models.SigningKey {
	out := make([]models.SigningKey, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memRepo) Latest(context.Context) (*models.SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted()
	if len(all) == 0 {
		return nil, common.ErrorNotFound
	}
	return &all[0], nil
}

func (m *memRepo) Get(_ context.Context, kid string) (*models.SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	k, ok := m.keys[kid]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &k, nil
}

func (m *memRepo) ListVerifiable(_ context.Context, now time.Time) ([]models.SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SigningKey
	for _, k := range m.sorted() {
		if k.VerifiableAt(now) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memRepo) DeleteDiscarded(_ context.Context, now time.Time) ([]models.SigningKey, error) {
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

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

// fakeClock is a settable clock safe for concurrent use.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu    sync.Mutex
	calls [][]VerificationKey
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, keys []VerificationKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, keys)
	return p.err
}

func (p *recordingPublisher) last() []VerificationKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return nil
	}
	return p.calls[len(p.calls)-1]
}
