// Package identity はパスワード認証、Google OAuth認証、セッション管理を提供し、
// セッション変更イベント（SIGNED_IN / SIGNED_OUT / TOKEN_REFRESHED）を発行する。
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/skillport/internal/model"
	"github.com/hitoshi/skillport/internal/repository"
	"github.com/hitoshi/skillport/internal/security"
)

const (
	// MinPasswordLength はパスワードの最小長。
	MinPasswordLength = 8
	// MaxPasswordLength はbcryptが扱えるパスワードの最大バイト長。
	MaxPasswordLength = 72
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password too short")
	ErrPasswordTooLong    = errors.New("password too long")
	ErrInvalidRole        = errors.New("role not allowed for sign-up")
	ErrSessionNotFound    = errors.New("session not found or expired")
	ErrOAuthDisabled      = errors.New("oauth sign-in is not configured")
)

// SignUpMetadata はサインアップ時に登録ウィザードから渡される付加情報。
type SignUpMetadata struct {
	Name string
	Role model.Role
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionTTL time.Duration
	BcryptCost int // 0の場合はbcrypt.DefaultCost
}

// Service は認証に関するビジネスロジックを提供する。
// セッションの作成・延長・破棄のたびにイベントを購読者へ発行する。
type Service struct {
	oauth       OAuthProvider
	credRepo    repository.CredentialRepository
	profileRepo repository.ProfileRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	sanitizer   security.TextSanitizerService
	config      ServiceConfig
	events      *broker
	now         func() time.Time
}

// NewService はServiceを生成する。oauthがnilの場合はOAuthサインインを無効にする。
func NewService(
	oauth OAuthProvider,
	credRepo repository.CredentialRepository,
	profileRepo repository.ProfileRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	sanitizer security.TextSanitizerService,
	config ServiceConfig,
) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		oauth:       oauth,
		credRepo:    credRepo,
		profileRepo: profileRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		sanitizer:   sanitizer,
		config:      config,
		events:      newBroker(),
		now:         time.Now,
	}
}

// Close は全ての購読を解除する。
func (s *Service) Close() {
	s.events.close()
}

// OnSessionChange はセッション変更イベントの購読を登録し、購読解除関数を返す。
// イベントは発行順に、購読者ごとの配信goroutineからコールバックされる。
func (s *Service) OnSessionChange(cb func(model.SessionEvent)) func() {
	return s.events.subscribe(cb)
}

// GetCurrentSession はトークンに対応する有効なセッションを返す。
// トークンが空、またはセッションが存在しない・期限切れの場合はnilを返す。
func (s *Service) GetCurrentSession(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, nil
	}
	session, err := s.sessionRepo.FindByID(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return session, nil
}

// SignInWithPassword はメールアドレスとパスワードで認証し、セッションを発行する。
func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	email = normalizeEmail(email)

	cred, err := s.credRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}
	if cred == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(cred.PasswordHash, []byte(password)); err != nil {
		slog.Info("password sign-in rejected", slog.String("user_id", cred.UserID))
		return nil, ErrInvalidCredentials
	}

	session, err := s.startSession(ctx, cred.UserID, cred.Email)
	if err != nil {
		return nil, err
	}
	slog.Info("user signed in",
		slog.String("user_id", cred.UserID),
		slog.String("provider", "password"),
	)
	return session, nil
}

// SignUp はパスワード認証のアカウントとプロフィールを作成し、セッションを発行する。
// metadata.Roleが空の場合はparticipantとする。adminロールでのサインアップは許可しない。
func (s *Service) SignUp(ctx context.Context, email, password string, metadata SignUpMetadata) (*model.Session, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return nil, ErrInvalidEmail
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}
	if len(password) > MaxPasswordLength {
		return nil, ErrPasswordTooLong
	}

	role := metadata.Role
	if role == "" {
		role = model.DefaultRole
	}
	if !role.Valid() || role == model.RoleAdmin {
		return nil, ErrInvalidRole
	}

	name := s.sanitizer.SanitizeText(metadata.Name)
	if name == "" {
		name = model.NameFromEmail(email)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	userID := uuid.New().String()
	profile := &model.Profile{
		ID:        userID,
		Email:     email,
		Name:      name,
		Role:      role,
		Status:    model.ProfileStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	cred := &model.Credential{
		UserID:       userID,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
	}

	if err := s.credRepo.CreateWithProfile(ctx, cred, profile); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	slog.Info("new user signed up",
		slog.String("user_id", userID),
		slog.String("role", string(role)),
	)

	return s.startSession(ctx, userID, email)
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) (string, error) {
	if s.oauth == nil {
		return "", ErrOAuthDisabled
	}
	return s.oauth.GetLoginURL(state), nil
}

// SignInWithOAuth はOAuthコールバックの認可コードを処理し、セッションを発行する。
// 未登録ユーザーの場合はデフォルトプロフィールとidentityを作成する。
func (s *Service) SignInWithOAuth(ctx context.Context, code string) (*model.Session, error) {
	if s.oauth == nil {
		return nil, ErrOAuthDisabled
	}

	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, userInfo.Provider, userInfo.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	var userID string
	email := normalizeEmail(userInfo.Email)

	if identity != nil {
		userID = identity.UserID
	} else {
		userID = uuid.New().String()
		now := s.now()

		name := s.sanitizer.SanitizeText(userInfo.Name)
		if name == "" {
			name = model.NameFromEmail(email)
		}

		// プロフィールを先に作成し、identityは後から紐付ける
		if _, err := s.profileRepo.CreateIfNotExists(ctx, &model.Profile{
			ID:        userID,
			Email:     email,
			Name:      name,
			Role:      model.DefaultRole,
			Status:    model.ProfileStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return nil, fmt.Errorf("failed to create profile: %w", err)
		}

		if err := s.identRepo.Create(ctx, &model.Identity{
			ID:             uuid.New().String(),
			UserID:         userID,
			Provider:       userInfo.Provider,
			ProviderUserID: userInfo.ProviderUserID,
			CreatedAt:      now,
		}); err != nil {
			return nil, fmt.Errorf("failed to create identity: %w", err)
		}

		slog.Info("new user created",
			slog.String("user_id", userID),
			slog.String("provider", userInfo.Provider),
		)
	}

	session, err := s.startSession(ctx, userID, email)
	if err != nil {
		return nil, err
	}
	slog.Info("user signed in",
		slog.String("user_id", userID),
		slog.String("provider", userInfo.Provider),
	)
	return session, nil
}

// RefreshSession はセッションの有効期限を延長する。
// トークンは変わらない。対象が存在しない場合はErrSessionNotFoundを返す。
func (s *Service) RefreshSession(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}

	session, err := s.sessionRepo.Extend(ctx, token, s.now().Add(s.config.SessionTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	s.events.publish(model.SessionEvent{Kind: model.EventTokenRefreshed, Session: session})
	return session, nil
}

// SignOut はセッションを破棄する。存在しないセッションの破棄はエラーにしない。
func (s *Service) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to find session: %w", err)
	}

	if err := s.sessionRepo.DeleteByID(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	ended := &model.Session{ID: token}
	if session != nil {
		ended = session
	}
	s.events.publish(model.SessionEvent{Kind: model.EventSignedOut, Session: ended})

	slog.Info("user signed out", slog.String("user_id", ended.UserID))
	return nil
}

// SignOutUser は指定ユーザーの全セッションを破棄する。管理者によるアカウント停止時に使用する。
func (s *Service) SignOutUser(ctx context.Context, userID string) error {
	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	// IDを持たないセッションはユーザー単位のサインアウトを表す
	s.events.publish(model.SessionEvent{Kind: model.EventSignedOut, Session: &model.Session{UserID: userID}})

	slog.Info("all sessions revoked", slog.String("user_id", userID))
	return nil
}

// startSession はセッションを作成・永続化し、SIGNED_INを発行する。
func (s *Service) startSession(ctx context.Context, userID, email string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		Email:     email,
		ExpiresAt: now.Add(s.config.SessionTTL),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.events.publish(model.SessionEvent{Kind: model.EventSignedIn, Session: session})
	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
