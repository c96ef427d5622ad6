package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/skillport/internal/model"
	"github.com/hitoshi/skillport/internal/repository"
	"github.com/hitoshi/skillport/internal/security"
)

// --- モック ---

type mockCredentialRepo struct {
	mu       sync.Mutex
	byEmail  map[string]*model.Credential
	profiles map[string]*model.Profile

	createWithProfileFn func(ctx context.Context, cred *model.Credential, p *model.Profile) error
}

func newMockCredentialRepo() *mockCredentialRepo {
	return &mockCredentialRepo{
		byEmail:  make(map[string]*model.Credential),
		profiles: make(map[string]*model.Profile),
	}
}

func (m *mockCredentialRepo) FindByEmail(ctx context.Context, email string) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byEmail[email], nil
}

func (m *mockCredentialRepo) CreateWithProfile(ctx context.Context, cred *model.Credential, p *model.Profile) error {
	if m.createWithProfileFn != nil {
		return m.createWithProfileFn(ctx, cred, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[cred.Email]; ok {
		return repository.ErrDuplicateEmail
	}
	m.byEmail[cred.Email] = cred
	m.profiles[p.ID] = p
	return nil
}

type mockProfileRepo struct {
	mu       sync.Mutex
	profiles map[string]*model.Profile
}

func (m *mockProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profiles[id], nil
}

func (m *mockProfileRepo) CreateIfNotExists(ctx context.Context, p *model.Profile) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.ID]; ok {
		return false, nil
	}
	m.profiles[p.ID] = p
	return true, nil
}

func (m *mockProfileRepo) UpdateName(ctx context.Context, id, name string) error { return nil }

func (m *mockProfileRepo) UpdateRoleAndStatus(ctx context.Context, id string, role model.Role, status model.ProfileStatus) error {
	return nil
}

func (m *mockProfileRepo) List(ctx context.Context, role model.Role, limit, offset int) ([]*model.Profile, error) {
	return nil, nil
}

type mockIdentityRepo struct {
	mu         sync.Mutex
	identities []*model.Identity
}

func (m *mockIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.identities {
		if i.Provider == provider && i.ProviderUserID == providerUserID {
			return i, nil
		}
	}
	return nil, nil
}

func (m *mockIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities = append(m.identities, identity)
	return nil
}

type mockSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[string]*model.Session)}
}

func (m *mockSessionRepo) Create(ctx context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Expired(time.Now()) {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *mockSessionRepo) Extend(ctx context.Context, id string, expiresAt time.Time) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	s.ExpiresAt = expiresAt
	cp := *s
	return &cp, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

type mockOAuthProvider struct {
	info *OAuthUserInfo
	err  error
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	return "https://idp.example.com/auth?state=" + state
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	return m.info, m.err
}

// --- ヘルパー ---

type testDeps struct {
	creds    *mockCredentialRepo
	profiles *mockProfileRepo
	idents   *mockIdentityRepo
	sessions *mockSessionRepo
}

func newTestService(t *testing.T, oauth OAuthProvider) (*Service, *testDeps) {
	t.Helper()
	deps := &testDeps{
		creds:    newMockCredentialRepo(),
		profiles: &mockProfileRepo{profiles: make(map[string]*model.Profile)},
		idents:   &mockIdentityRepo{},
		sessions: newMockSessionRepo(),
	}
	svc := NewService(oauth, deps.creds, deps.profiles, deps.idents, deps.sessions,
		security.NewTextSanitizer(),
		ServiceConfig{SessionTTL: time.Hour, BcryptCost: bcrypt.MinCost},
	)
	t.Cleanup(svc.Close)
	return svc, deps
}

// collectEvents は購読したイベントをチャネルで受け取る。
func collectEvents(t *testing.T, subscribe func(func(model.SessionEvent)) func()) <-chan model.SessionEvent {
	t.Helper()
	ch := make(chan model.SessionEvent, 16)
	unsubscribe := subscribe(func(ev model.SessionEvent) { ch <- ev })
	t.Cleanup(unsubscribe)
	return ch
}

func nextEvent(t *testing.T, ch <-chan model.SessionEvent) model.SessionEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session event")
		return model.SessionEvent{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan model.SessionEvent) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}
