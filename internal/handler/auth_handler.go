// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/skillport/internal/authstate"
	"github.com/hitoshi/skillport/internal/identity"
	"github.com/hitoshi/skillport/internal/middleware"
	"github.com/hitoshi/skillport/internal/model"
	"github.com/hitoshi/skillport/internal/policy"
	"github.com/hitoshi/skillport/internal/profile"
)

const (
	oauthStateCookie  = "oauth_state"
	oauthReturnCookie = "oauth_return"
	oauthCookieMaxAge = 600 // 10分
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
// identity.Serviceが満たす。
type AuthServiceInterface interface {
	GetCurrentSession(ctx context.Context, token string) (*model.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	SignUp(ctx context.Context, email, password string, metadata identity.SignUpMetadata) (*model.Session, error)
	GetLoginURL(state string) (string, error)
	SignInWithOAuth(ctx context.Context, code string) (*model.Session, error)
	RefreshSession(ctx context.Context, token string) (*model.Session, error)
	SignOut(ctx context.Context, token string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	profiles ProfileResolver
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, profiles ProfileResolver, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		profiles: profiles,
		config:   config,
	}
}

// signUpRequest はサインアップリクエストのボディ。
type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	RedirectURI string `json:"redirect_uri"`
}

// authResponse はサインイン系エンドポイントのレスポンス。
type authResponse struct {
	User      *model.User `json:"user"`
	Redirect  string      `json:"redirect"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// sessionResponse は GET /auth/session のレスポンス。
type sessionResponse struct {
	State  authstate.State `json:"state"`
	Action policy.Action   `json:"action"`
}

// SignUp はパスワード認証のアカウントを作成してサインインする。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	var role model.Role
	if strings.TrimSpace(req.Role) != "" {
		parsed, err := model.ParseRole(req.Role)
		if err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRoleError(req.Role))
			return
		}
		role = parsed
	}

	session, err := h.service.SignUp(r.Context(), req.Email, req.Password, identity.SignUpMetadata{
		Name: req.Name,
		Role: role,
	})
	if err != nil {
		if errors.Is(err, identity.ErrInvalidRole) {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRoleError(req.Role))
			return
		}
		handleServiceError(w, identityError(err))
		return
	}

	h.completeSignIn(w, r, session, http.StatusCreated, "")
}

// Login はメールアドレスとパスワードでサインインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	session, err := h.service.SignInWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, identityError(err))
		return
	}

	h.completeSignIn(w, r, session, http.StatusOK, req.RedirectURI)
}

// completeSignIn はプロフィールを解決し、セッションCookieを設定してサインイン結果を返す。
// プロフィールを解決できない場合は発行したセッションを破棄する。
func (h *AuthHandler) completeSignIn(w http.ResponseWriter, r *http.Request, session *model.Session, status int, returnTo string) {
	user, err := h.profiles.Resolve(r.Context(), session)
	if err != nil {
		h.discardSession(r.Context(), session)
		writeProfileError(w, err)
		return
	}

	h.setSessionCookie(w, session.ID)
	writeJSON(w, status, authResponse{
		User:      user,
		Redirect:  policy.PostLoginPath(user.Role, policy.LoginURL(returnTo)),
		ExpiresAt: session.ExpiresAt,
	})
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.SessionToken(r); token != "" {
		if err := h.service.SignOut(r.Context(), token); err != nil {
			slog.Error("failed to sign out", slog.String("error", err.Error()))
			// サインアウトに失敗してもCookieはクリアする
		}
	}

	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"redirect": policy.LandingPath})
}

// Refresh はセッションの有効期限を延長する。
// POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.RefreshSession(r.Context(), middleware.SessionToken(r))
	if err != nil {
		if errors.Is(err, identity.ErrSessionNotFound) {
			h.clearSessionCookie(w)
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, session.ID)
	writeJSON(w, http.StatusOK, map[string]time.Time{"expires_at": session.ExpiresAt})
}

// Me は現在のログインユーザー情報を返す。セッションミドルウェアの配下で使用する。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Session は現在の認証状態と、pathクエリで指定されたパスに対するガード判定を返す。
// 未ログインでも200を返す。
// GET /auth/session?path=/educator/dashboard
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	location := r.URL.Query().Get("path")
	if location == "" {
		location = policy.LandingPath
	}

	var user *model.User
	session, err := h.service.GetCurrentSession(r.Context(), middleware.SessionToken(r))
	if err != nil {
		slog.Error("failed to get current session", slog.String("error", err.Error()))
	} else if session != nil {
		user, err = h.profiles.Resolve(r.Context(), session)
		if err != nil {
			slog.Warn("failed to resolve profile for session state",
				slog.String("user_id", session.UserID),
				slog.String("error", err.Error()),
			)
			user = nil
		}
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		State:  authstate.Resolved(user),
		Action: policy.Decide(policy.GuardState{User: user}, location),
	})
}

// GoogleLogin はGoogle OAuthフローを開始する。
// redirect_uriクエリがあればコールバック後の戻り先として保持する。
// GET /auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	url, err := h.service.GetLoginURL(state)
	if err != nil {
		if errors.Is(err, identity.ErrOAuthDisabled) {
			middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewAuthError())
			return
		}
		handleServiceError(w, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	h.setShortCookie(w, oauthStateCookie, state, oauthCookieMaxAge)
	if ret := policy.SafeReturnPath(r.URL.Query().Get(policy.ReturnToParam)); ret != "" {
		h.setShortCookie(w, oauthReturnCookie, ret, oauthCookieMaxAge)
	}

	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch")
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}
	h.setShortCookie(w, oauthStateCookie, "", -1)

	var returnTo string
	if c, err := r.Cookie(oauthReturnCookie); err == nil {
		returnTo = policy.SafeReturnPath(c.Value)
		h.setShortCookie(w, oauthReturnCookie, "", -1)
	}

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	// 3. 認証処理
	session, err := h.service.SignInWithOAuth(r.Context(), code)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		http.Redirect(w, r, h.config.BaseURL+policy.LoginPath+"?error=auth_failed", http.StatusSeeOther)
		return
	}

	user, err := h.profiles.Resolve(r.Context(), session)
	if err != nil {
		h.discardSession(r.Context(), session)
		reason := "profile_error"
		if errors.Is(err, profile.ErrAccountSuspended) {
			reason = "account_suspended"
		}
		http.Redirect(w, r, h.config.BaseURL+policy.LoginPath+"?error="+reason, http.StatusSeeOther)
		return
	}

	// 4. セッションCookieを設定してフロントエンドにリダイレクト
	h.setSessionCookie(w, session.ID)
	http.Redirect(w, r, h.config.BaseURL+policy.PostLoginPath(user.Role, policy.LoginURL(returnTo)), http.StatusSeeOther)
}

func (h *AuthHandler) discardSession(ctx context.Context, session *model.Session) {
	if err := h.service.SignOut(ctx, session.ID); err != nil {
		slog.Warn("failed to discard session",
			slog.String("user_id", session.UserID),
			slog.String("error", err.Error()),
		)
	}
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) setShortCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/auth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// identityError はidentityパッケージのエラーをAPIErrorに変換する。
// 対応するAPIErrorがない場合はそのまま返す。
func identityError(err error) error {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return model.NewInvalidCredentialsError()
	case errors.Is(err, identity.ErrEmailTaken):
		return model.NewEmailTakenError()
	case errors.Is(err, identity.ErrInvalidEmail):
		return model.NewInvalidEmailError()
	case errors.Is(err, identity.ErrWeakPassword):
		return model.NewWeakPasswordError(identity.MinPasswordLength)
	case errors.Is(err, identity.ErrPasswordTooLong):
		return &model.APIError{
			Code:     model.ErrCodeWeakPassword,
			Message:  "パスワードが長すぎます。",
			Category: "validation",
			Action:   "72バイト以内のパスワードを入力してください。",
		}
	}
	return err
}

// writeProfileError はプロフィール解決の失敗を書き込む。停止中アカウントは403とする。
func writeProfileError(w http.ResponseWriter, err error) {
	if errors.Is(err, profile.ErrAccountSuspended) {
		middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewAccountSuspendedError())
		return
	}
	slog.Error("failed to resolve profile", slog.String("error", err.Error()))
	middleware.WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     model.ErrCodeAuthError,
		Message:  "プロフィールを読み込めませんでした。",
		Category: "profile",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
