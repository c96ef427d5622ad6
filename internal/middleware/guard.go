package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/skillport/internal/metrics"
	"github.com/hitoshi/skillport/internal/model"
	"github.com/hitoshi/skillport/internal/policy"
)

// loadingRetryAfter は認証状態の確定待ちで返すRetry-Afterの秒数。
const loadingRetryAfter = "1"

// Guard はページ用のルートガード。リクエストごとに認証状態を組み立ててpolicy.Decideに委ねる。
type Guard struct {
	resolver UserResolver
	metrics  metrics.MetricsCollector
}

// NewGuard はGuardを生成する。mcがnilの場合はメトリクスを記録しない。
func NewGuard(resolver UserResolver, mc metrics.MetricsCollector) *Guard {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Guard{resolver: resolver, metrics: mc}
}

// NewRouteGuard はメトリクスなしのGuardでallowedRolesを要求するミドルウェアを返す。
func NewRouteGuard(resolver UserResolver, allowedRoles ...model.Role) func(next http.Handler) http.Handler {
	return NewGuard(resolver, nil).Require(allowedRoles...)
}

// Require はallowedRolesのいずれかを要求するミドルウェアを返す。
// allowedRolesが空の場合はログイン済みであればロールを問わない。
//
// 判定結果に応じて、表示ならユーザーをコンテキストに注入して次のハンドラーへ、
// リダイレクトなら303、ローディングなら503とRetry-Afterを返す。
func (g *Guard) Require(allowedRoles ...model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := g.state(r)
			action := policy.Decide(state, r.URL.RequestURI(), allowedRoles...)
			g.metrics.RecordGuardDecision(string(action.Kind))

			switch action.Kind {
			case policy.ActionLoading:
				w.Header().Set("Retry-After", loadingRetryAfter)
				writeJSON(w, http.StatusServiceUnavailable, action)
			case policy.ActionRedirect:
				http.Redirect(w, r, action.Path, http.StatusSeeOther)
			default:
				ctx := r.Context()
				if state.User != nil {
					ctx = ContextWithUser(ctx, state.User)
				}
				next.ServeHTTP(w, r.WithContext(ctx))
			}
		})
	}
}

// state はリクエストの認証状態を同期的に解決する。解決に失敗した場合は未ログインとして扱う。
func (g *Guard) state(r *http.Request) policy.GuardState {
	token := SessionToken(r)
	if token == "" {
		return policy.GuardState{}
	}

	user, err := g.resolver.ResolveUser(r.Context(), token)
	if err != nil {
		slog.Warn("route guard could not resolve user",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		return policy.GuardState{}
	}
	return policy.GuardState{User: user}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
