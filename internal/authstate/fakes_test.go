package authstate

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/skillport/internal/model"
)

const waitTimeout = 2 * time.Second

// --- フェイク ---

type fakeSource struct {
	mu         sync.Mutex
	current    *model.Session
	currentErr error
	cb         func(model.SessionEvent)
	unsubbed   bool
}

func (f *fakeSource) GetCurrentSession(ctx context.Context) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, f.currentErr
}

func (f *fakeSource) OnSessionChange(cb func(model.SessionEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cb = cb
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubbed = true
	}
}

func (f *fakeSource) emit(ev model.SessionEvent) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// fakeResolver はユーザーIDごとの応答を返す。gateが設定されていれば解放されるまでブロックする。
type fakeResolver struct {
	mu     sync.Mutex
	users  map[string]*model.User
	errs   map[string]error
	calls  []string
	gate   chan struct{}
	ctxErr chan error
}

func newFakeResolver(users ...*model.User) *fakeResolver {
	r := &fakeResolver{users: make(map[string]*model.User), errs: make(map[string]error)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeResolver) Resolve(ctx context.Context, session *model.Session) (*model.User, error) {
	r.mu.Lock()
	r.calls = append(r.calls, session.UserID)
	gate := r.gate
	ctxErr := r.ctxErr
	r.mu.Unlock()

	if gate != nil {
		<-gate
		if ctxErr != nil {
			ctxErr <- ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errs[session.UserID]; err != nil {
		return nil, err
	}
	u, ok := r.users[session.UserID]
	if !ok {
		return nil, context.DeadlineExceeded
	}
	cp := *u
	return &cp, nil
}

func (r *fakeResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type navigation struct {
	Path    string
	Replace bool
}

type fakeNavigator struct {
	ch chan navigation
}

func (n *fakeNavigator) Navigate(path string, replace bool) {
	n.ch <- navigation{Path: path, Replace: replace}
}

type fakeNotifier struct {
	ch chan model.Notification
}

func (n *fakeNotifier) Notify(notification model.Notification) {
	n.ch <- notification
}

type fakeLocation struct {
	mu   sync.Mutex
	path string
}

func (l *fakeLocation) CurrentPath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// logRecorder はログメッセージをチャネルに流すslog.Handler。
type logRecorder struct {
	ch chan string
}

func (h *logRecorder) Enabled(context.Context, slog.Level) bool { return true }
func (h *logRecorder) Handle(_ context.Context, r slog.Record) error {
	select {
	case h.ch <- r.Message:
	default:
	}
	return nil
}
func (h *logRecorder) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *logRecorder) WithGroup(string) slog.Handler      { return h }

// --- ハーネス ---

type harness struct {
	store    *Store
	source   *fakeSource
	resolver *fakeResolver
	nav      *fakeNavigator
	notes    *fakeNotifier
	location *fakeLocation
	logs     *logRecorder
}

func newHarness(t *testing.T, resolver *fakeResolver, location string) *harness {
	t.Helper()
	h := &harness{
		source:   &fakeSource{},
		resolver: resolver,
		nav:      &fakeNavigator{ch: make(chan navigation, 16)},
		notes:    &fakeNotifier{ch: make(chan model.Notification, 16)},
		location: &fakeLocation{path: location},
		logs:     &logRecorder{ch: make(chan string, 64)},
	}
	h.store = New(Deps{
		Source:    h.source,
		Resolver:  h.resolver,
		Navigator: h.nav,
		Notifier:  h.notes,
		Location:  h.location,
		Logger:    slog.New(h.logs),
	})
	t.Cleanup(h.store.Close)
	return h
}

func session(userID string) *model.Session {
	return &model.Session{
		ID:        "token-" + userID,
		UserID:    userID,
		Email:     userID + "@example.com",
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

// drain は所有goroutineがそれまでに積まれたタスクを全て処理するまで待つ。
func (h *harness) drain(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	if !h.store.enqueue(func() { close(done) }) {
		t.Fatal("store is closed")
	}
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("timed out draining store task queue")
	}
}

func waitForState(t *testing.T, ch <-chan State, pred func(State) bool) State {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case st, ok := <-ch:
			if !ok {
				t.Fatal("state channel closed")
			}
			if pred(st) {
				return st
			}
		case <-deadline:
			t.Fatal("timed out waiting for state")
			return State{}
		}
	}
}

func isSettled(phase Phase) func(State) bool {
	return func(st State) bool { return st.Phase == phase && !st.IsLoading }
}

func (h *harness) nextNavigation(t *testing.T) navigation {
	t.Helper()
	select {
	case n := <-h.nav.ch:
		return n
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for navigation")
		return navigation{}
	}
}

func (h *harness) assertNoNavigation(t *testing.T) {
	t.Helper()
	select {
	case n := <-h.nav.ch:
		t.Fatalf("unexpected navigation to %q", n.Path)
	default:
	}
}

func (h *harness) nextNotification(t *testing.T) model.Notification {
	t.Helper()
	select {
	case n := <-h.notes.ch:
		return n
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for notification")
		return model.Notification{}
	}
}

func (h *harness) waitForLog(t *testing.T, msg string) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case got := <-h.logs.ch:
			if got == msg {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for log %q", msg)
		}
	}
}
