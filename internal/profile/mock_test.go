package profile

import (
	"context"
	"sync"

	"github.com/hitoshi/skillport/internal/model"
)

// mockProfileRepo はProfileRepositoryのインメモリモック。
// 関数フィールドが設定されていればそちらを優先する。
type mockProfileRepo struct {
	mu       sync.Mutex
	profiles map[string]*model.Profile

	findCalls   int
	createCalls int

	findByIDFn          func(ctx context.Context, id string) (*model.Profile, error)
	createIfNotExistsFn func(ctx context.Context, p *model.Profile) (bool, error)
	updateNameFn        func(ctx context.Context, id, name string) error
}

func newMockProfileRepo(profiles ...*model.Profile) *mockProfileRepo {
	m := &mockProfileRepo{profiles: make(map[string]*model.Profile)}
	for _, p := range profiles {
		m.profiles[p.ID] = p
	}
	return m
}

func (m *mockProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	m.mu.Lock()
	m.findCalls++
	fn := m.findByIDFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *mockProfileRepo) CreateIfNotExists(ctx context.Context, p *model.Profile) (bool, error) {
	m.mu.Lock()
	m.createCalls++
	fn := m.createIfNotExistsFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, p)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.ID]; ok {
		return false, nil
	}
	cp := *p
	m.profiles[p.ID] = &cp
	return true, nil
}

func (m *mockProfileRepo) UpdateName(ctx context.Context, id, name string) error {
	if m.updateNameFn != nil {
		return m.updateNameFn(ctx, id, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return model.NewUserNotFoundError()
	}
	p.Name = name
	return nil
}

func (m *mockProfileRepo) UpdateRoleAndStatus(ctx context.Context, id string, role model.Role, status model.ProfileStatus) error {
	return nil
}

func (m *mockProfileRepo) List(ctx context.Context, role model.Role, limit, offset int) ([]*model.Profile, error) {
	return nil, nil
}

func (m *mockProfileRepo) counts() (find, create int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findCalls, m.createCalls
}
