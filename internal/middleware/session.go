// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/skillport/internal/model"
	"github.com/hitoshi/skillport/internal/profile"
)

// SessionCookieName はセッショントークンを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userContextKey      = contextKey("user")
	logFieldsContextKey = contextKey("log_fields")
)

// UserResolver はセッショントークンをアプリケーションユーザーに解決する。
// セッションが存在しない場合はnil, nilを返す。
type UserResolver interface {
	ResolveUser(ctx context.Context, token string) (*model.User, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// プロフィールまで解決するJSON API用のミドルウェアを返す。
// 解決したユーザーをリクエストコンテキストに注入する。
// 未認証リクエストには401、停止中アカウントには403を返す。
func NewSessionMiddleware(resolver UserResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := SessionToken(r)
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			user, err := resolver.ResolveUser(r.Context(), token)
			if err != nil {
				if errors.Is(err, profile.ErrAccountSuspended) {
					WriteErrorResponse(w, http.StatusForbidden, model.NewAccountSuspendedError())
					return
				}
				slog.Error("failed to resolve session user",
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if user == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// SessionToken はリクエストのセッションCookieの値を返す。未設定の場合は空文字列。
func SessionToken(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// UserFromContext はリクエストコンテキストからユーザーを取得する。
// セッションミドルウェアまたはルートガードを通過したリクエストでのみ有効。
func UserFromContext(ctx context.Context) (*model.User, error) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || user == nil {
		return nil, fmt.Errorf("user not found in context")
	}
	return user, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, err := UserFromContext(ctx)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// ContextWithUser はコンテキストにユーザーを注入する。
// ロギングミドルウェアの配下であれば、アクセスログにもユーザーIDを記録させる。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	if f, ok := ctx.Value(logFieldsContextKey).(*logFields); ok && user != nil {
		f.setUserID(user.ID)
	}
	return context.WithValue(ctx, userContextKey, user)
}
