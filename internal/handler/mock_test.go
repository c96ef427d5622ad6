package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/skillport/internal/identity"
	"github.com/hitoshi/skillport/internal/middleware"
	"github.com/hitoshi/skillport/internal/model"
	"github.com/hitoshi/skillport/internal/user"
)

// --- モック定義 ---

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	getCurrentSessionFn  func(ctx context.Context, token string) (*model.Session, error)
	signInWithPasswordFn func(ctx context.Context, email, password string) (*model.Session, error)
	signUpFn             func(ctx context.Context, email, password string, metadata identity.SignUpMetadata) (*model.Session, error)
	getLoginURLFn        func(state string) (string, error)
	signInWithOAuthFn    func(ctx context.Context, code string) (*model.Session, error)
	refreshSessionFn     func(ctx context.Context, token string) (*model.Session, error)
	signOutFn            func(ctx context.Context, token string) error

	mu        sync.Mutex
	signedOut []string
}

func (m *mockAuthService) GetCurrentSession(ctx context.Context, token string) (*model.Session, error) {
	if m.getCurrentSessionFn != nil {
		return m.getCurrentSessionFn(ctx, token)
	}
	return nil, nil
}

func (m *mockAuthService) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	if m.signInWithPasswordFn != nil {
		return m.signInWithPasswordFn(ctx, email, password)
	}
	return nil, identity.ErrInvalidCredentials
}

func (m *mockAuthService) SignUp(ctx context.Context, email, password string, metadata identity.SignUpMetadata) (*model.Session, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password, metadata)
	}
	return nil, nil
}

func (m *mockAuthService) GetLoginURL(state string) (string, error) {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "", identity.ErrOAuthDisabled
}

func (m *mockAuthService) SignInWithOAuth(ctx context.Context, code string) (*model.Session, error) {
	if m.signInWithOAuthFn != nil {
		return m.signInWithOAuthFn(ctx, code)
	}
	return nil, nil
}

func (m *mockAuthService) RefreshSession(ctx context.Context, token string) (*model.Session, error) {
	if m.refreshSessionFn != nil {
		return m.refreshSessionFn(ctx, token)
	}
	return nil, identity.ErrSessionNotFound
}

func (m *mockAuthService) SignOut(ctx context.Context, token string) error {
	m.mu.Lock()
	m.signedOut = append(m.signedOut, token)
	m.mu.Unlock()
	if m.signOutFn != nil {
		return m.signOutFn(ctx, token)
	}
	return nil
}

func (m *mockAuthService) signedOutTokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.signedOut...)
}

// mockProfileResolver はProfileResolverのモック実装。
// UserIDごとに返すユーザーまたはエラーを指定する。
type mockProfileResolver struct {
	users map[string]*model.User
	errs  map[string]error
}

func (m *mockProfileResolver) Resolve(ctx context.Context, session *model.Session) (*model.User, error) {
	if err, ok := m.errs[session.UserID]; ok {
		return nil, err
	}
	if u, ok := m.users[session.UserID]; ok {
		return u, nil
	}
	return &model.User{ID: session.UserID, Email: session.Email, Role: model.DefaultRole}, nil
}

// mockUserResolver はmiddleware.UserResolverのモック実装。
type mockUserResolver struct {
	users map[string]*model.User
	err   error
}

func (m *mockUserResolver) ResolveUser(ctx context.Context, token string) (*model.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.users[token], nil
}

// mockProfileService はProfileServiceInterfaceのモック実装。
type mockProfileService struct {
	getFn        func(ctx context.Context, userID string) (*model.Profile, error)
	updateNameFn func(ctx context.Context, userID, name string) (*model.Profile, error)
}

func (m *mockProfileService) Get(ctx context.Context, userID string) (*model.Profile, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID)
	}
	return nil, model.NewUserNotFoundError()
}

func (m *mockProfileService) UpdateName(ctx context.Context, userID, name string) (*model.Profile, error) {
	if m.updateNameFn != nil {
		return m.updateNameFn(ctx, userID, name)
	}
	return nil, model.NewUserNotFoundError()
}

// mockUserService はUserServiceInterfaceのモック実装。
type mockUserService struct {
	listFn   func(ctx context.Context, role model.Role, limit, offset int) ([]*model.Profile, error)
	updateFn func(ctx context.Context, actorID, targetID string, upd user.Update) (*model.Profile, error)
}

func (m *mockUserService) List(ctx context.Context, role model.Role, limit, offset int) ([]*model.Profile, error) {
	if m.listFn != nil {
		return m.listFn(ctx, role, limit, offset)
	}
	return nil, nil
}

func (m *mockUserService) Update(ctx context.Context, actorID, targetID string, upd user.Update) (*model.Profile, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, actorID, targetID, upd)
	}
	return nil, model.NewUserNotFoundError()
}

// mockHealthChecker はHealthCheckerのモック実装。
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

// fakeSessionSource はauthstate.SessionSourceのテスト用実装。
type fakeSessionSource struct {
	mu       sync.Mutex
	session  *model.Session
	cb       func(model.SessionEvent)
	unsubbed bool
}

func (f *fakeSessionSource) GetCurrentSession(ctx context.Context) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, nil
}

func (f *fakeSessionSource) OnSessionChange(cb func(model.SessionEvent)) func() {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.unsubbed = true
		f.mu.Unlock()
	}
}

// emit は登録済みのコールバックへイベントを送る。
func (f *fakeSessionSource) emit(ev model.SessionEvent) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (f *fakeSessionSource) isUnsubscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubbed
}

// --- ヘルパー ---

func testSession(userID string) *model.Session {
	return &model.Session{
		ID:        "token-" + userID,
		UserID:    userID,
		Email:     userID + "@example.com",
		ExpiresAt: time.Now().Add(24 * time.Hour),
		CreatedAt: time.Now(),
	}
}

// withUser はミドルウェアを経由せずにユーザーをコンテキストに注入する。
func withUser(r *http.Request, u *model.User) *http.Request {
	return r.WithContext(middleware.ContextWithUser(r.Context(), u))
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
