// Package authstate は認証状態ホルダーを提供する。
//
// Storeはセッションソースのイベントとプロフィール解決から {user, isLoading} を導出する。
// 状態を変更するのは所有goroutineのみで、イベントとプロフィール解決の結果は
// タスクキューを通して到着順に直列処理される。プロフィール解決は同時に1件だけ実行され、
// 解決ごとにキャンセル用のcontextと世代番号を持つ。
package authstate

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hitoshi/skillport/internal/metrics"
	"github.com/hitoshi/skillport/internal/model"
	"github.com/hitoshi/skillport/internal/policy"
	"github.com/hitoshi/skillport/internal/profile"
)

// taskQueueSize は所有goroutineのタスクキューの容量。
const taskQueueSize = 64

// SessionSource は外部の認証サービスへのアクセスを抽象化する。
type SessionSource interface {
	GetCurrentSession(ctx context.Context) (*model.Session, error)
	OnSessionChange(cb func(model.SessionEvent)) (unsubscribe func())
}

// ProfileResolver はセッションをUserに解決する。
type ProfileResolver interface {
	Resolve(ctx context.Context, session *model.Session) (*model.User, error)
}

// Navigator は外部ルーターの遷移プリミティブ。
type Navigator interface {
	Navigate(path string, replace bool)
}

// Notifier はトースト通知の表示先。
type Notifier interface {
	Notify(n model.Notification)
}

// Location はクライアントの現在地（パスとクエリ）を返す。
type Location interface {
	CurrentPath() string
}

// Deps はStoreの協調オブジェクト。MetricsとLoggerは省略できる。
type Deps struct {
	Source    SessionSource
	Resolver  ProfileResolver
	Navigator Navigator
	Notifier  Notifier
	Location  Location
	Metrics   metrics.MetricsCollector
	Logger    *slog.Logger
}

// resolution は実行中のプロフィール解決。
type resolution struct {
	gen    uint64
	cancel context.CancelFunc
}

// outcome はプロフィール解決の結果。所有goroutineに戻されてから適用される。
type outcome struct {
	session    *model.Session
	user       *model.User
	sessionErr error
	err        error
}

// Store は認証状態ホルダー。New で生成し、Start でマウント、Close でアンマウントする。
type Store struct {
	deps Deps
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	tasks  chan func()
	done   chan struct{}

	lifecycle   sync.Mutex
	started     bool
	closed      bool
	unsubscribe func()

	stateMu  sync.RWMutex
	state    State
	watchers map[uint64]chan State
	nextW    uint64

	// 以下は所有goroutineのみが触る
	cache    map[string]*model.User
	inflight *resolution
	gen      uint64
}

// New はINITIALIZING状態のStoreを生成する。
func New(deps Deps) *Store {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		deps:     deps,
		log:      logger,
		ctx:      ctx,
		cancel:   cancel,
		tasks:    make(chan func(), taskQueueSize),
		done:     make(chan struct{}),
		state:    initializing(),
		watchers: make(map[uint64]chan State),
		cache:    make(map[string]*model.User),
	}
}

// Start はStoreをマウントする。所有goroutineを起動してセッション変更を購読し、
// 現在のセッションを読み込む。parentがキャンセルされるとCloseされる。
// 2回目以降の呼び出しとClose後の呼び出しは何もしない。
func (s *Store) Start(parent context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true

	go s.run()

	s.unsubscribe = s.deps.Source.OnSessionChange(func(ev model.SessionEvent) {
		s.enqueue(func() { s.handleEvent(ev) })
	})
	s.enqueue(s.mount)

	context.AfterFunc(parent, s.Close)
}

// Close はStoreをアンマウントする。購読を解除し、実行中の解決をキャンセルする。
// 以降に到着した解決結果やイベントは破棄される。状態の購読チャネルは閉じられる。
func (s *Store) Close() {
	s.lifecycle.Lock()
	if s.closed {
		s.lifecycle.Unlock()
		return
	}
	s.closed = true
	started := s.started
	unsubscribe := s.unsubscribe
	s.lifecycle.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.cancel()
	if started {
		<-s.done
	}

	s.stateMu.Lock()
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
	s.stateMu.Unlock()
}

// Snapshot は現在の状態を返す。
func (s *Store) Snapshot() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Subscribe は状態変更を受け取るチャネルと購読解除関数を返す。
// チャネルには直ちに現在の状態が届き、以降は最新の状態のみが保持される（読み遅れた中間状態は捨てられる）。
func (s *Store) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	s.stateMu.Lock()
	if s.isClosed() {
		s.stateMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextW
	s.nextW++
	s.watchers[id] = ch
	ch <- s.state
	s.stateMu.Unlock()

	return ch, func() {
		s.stateMu.Lock()
		defer s.stateMu.Unlock()
		if w, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(w)
		}
	}
}

// Dispatch はセッション変更イベントをキューに積む。Close後は破棄される。
func (s *Store) Dispatch(ev model.SessionEvent) {
	s.enqueue(func() { s.handleEvent(ev) })
}

func (s *Store) isClosed() bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.closed
}

func (s *Store) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case task := <-s.tasks:
			if s.ctx.Err() != nil {
				return
			}
			task()
		}
	}
}

// enqueue はタスクを所有goroutineのキューに積む。Close後はfalseを返す。
func (s *Store) enqueue(task func()) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.tasks <- task:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// mount は現在のセッションを読み込み、存在すればプロフィールを解決する。
func (s *Store) mount() {
	if s.inflight != nil {
		return
	}
	s.startResolution(nil)
}

// handleEvent はセッション変更イベントを分類して処理する。
func (s *Store) handleEvent(ev model.SessionEvent) {
	s.deps.Metrics.RecordSessionEvent(string(ev.Kind))

	if ev.Kind == model.EventSignedOut {
		s.signOut()
		return
	}

	if s.inflight != nil {
		s.log.Debug("session event ignored while resolving profile",
			slog.String("kind", string(ev.Kind)),
		)
		return
	}

	if ev.Session == nil {
		s.setState(unauthenticated())
		return
	}

	if user, ok := s.cache[ev.Session.UserID]; ok {
		s.deps.Metrics.RecordDedupHit()
		if cur := s.Snapshot(); cur.User == nil || cur.User.ID != user.ID || cur.IsLoading {
			s.setState(authenticated(user))
		}
		return
	}

	s.startResolution(ev.Session)
}

// signOut は実行中の解決をキャンセルし、ユーザーとキャッシュを消去して公開ページへ遷移する。
func (s *Store) signOut() {
	if s.inflight != nil {
		s.inflight.cancel()
		s.inflight = nil
	}
	clear(s.cache)
	s.setState(unauthenticated())
	s.deps.Navigator.Navigate(policy.LandingPath, true)
}

// startResolution はプロフィール解決を開始する。
// sessionがnilの場合は先に現在のセッションを読み込む。
func (s *Store) startResolution(session *model.Session) {
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(s.ctx)
	s.inflight = &resolution{gen: gen, cancel: cancel}

	cur := s.Snapshot()
	if !cur.IsLoading {
		cur.IsLoading = true
		s.setState(cur)
	}

	go func() {
		out := s.resolve(ctx, session)
		s.enqueue(func() { s.finishResolution(gen, out) })
	}()
}

// resolve は所有goroutineの外で実行される。状態には触れない。
func (s *Store) resolve(ctx context.Context, session *model.Session) outcome {
	if session == nil {
		current, err := s.deps.Source.GetCurrentSession(ctx)
		if err != nil {
			return outcome{sessionErr: err}
		}
		if current == nil {
			return outcome{}
		}
		session = current
	}

	user, err := s.deps.Resolver.Resolve(ctx, session)
	return outcome{session: session, user: user, err: err}
}

// finishResolution は解決結果を適用する。世代が一致しない結果は破棄する。
func (s *Store) finishResolution(gen uint64, out outcome) {
	if s.inflight == nil || s.inflight.gen != gen {
		s.log.Debug("stale profile resolution discarded", slog.Uint64("generation", gen))
		return
	}
	s.inflight.cancel()
	s.inflight = nil

	switch {
	case out.sessionErr != nil:
		s.log.Error("failed to get current session", slog.String("error", out.sessionErr.Error()))
		s.setState(unauthenticated())
		s.deps.Notifier.Notify(authErrorNotification())

	case out.session == nil:
		s.setState(unauthenticated())

	case out.err != nil || out.user == nil:
		err := out.err
		if err == nil {
			err = errors.New("resolver returned no user")
		}
		s.log.Error("failed to resolve profile",
			slog.String("user_id", out.session.UserID),
			slog.String("error", err.Error()),
		)
		s.setState(unauthenticated())
		s.deps.Notifier.Notify(profileErrorNotification(err))
		if !policy.IsPublic(s.deps.Location.CurrentPath()) {
			s.deps.Navigator.Navigate(policy.LoginPath, true)
		}

	default:
		s.cache[out.user.ID] = out.user
		s.setState(authenticated(out.user))
		s.deps.Navigator.Navigate(policy.PostLoginPath(out.user.Role, s.deps.Location.CurrentPath()), false)
	}
}

// setState は状態を更新して購読者に通知する。
func (s *Store) setState(st State) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	s.state = st
	for _, ch := range s.watchers {
		select {
		case ch <- st:
		default:
			// 読まれていない古い状態を捨てて最新に置き換える
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}

func authErrorNotification() model.Notification {
	return model.Notification{
		Level:   model.NotificationError,
		Title:   "認証エラー",
		Message: "認証状態を確認できませんでした。もう一度ログインしてください。",
	}
}

func profileErrorNotification(err error) model.Notification {
	if errors.Is(err, profile.ErrAccountSuspended) {
		return model.Notification{
			Level:   model.NotificationError,
			Title:   "アカウント停止中",
			Message: "このアカウントは停止されています。管理者に問い合わせてください。",
		}
	}
	return model.Notification{
		Level:   model.NotificationError,
		Title:   "プロフィールエラー",
		Message: "プロフィールを読み込めませんでした。時間をおいて再度お試しください。",
	}
}
