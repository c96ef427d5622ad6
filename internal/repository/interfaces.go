// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/skillport/internal/model"
)

// ErrDuplicateEmail はメールアドレスが既に登録されている場合に返される。
var ErrDuplicateEmail = errors.New("email already registered")

// ProfileRepository はプロフィールデータの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// CreateIfNotExists はプロフィールを作成する。同一IDの行が既に存在する場合は何もしない。
	// 作成した場合はtrueを返す。
	CreateIfNotExists(ctx context.Context, profile *model.Profile) (bool, error)

	// UpdateName は表示名を更新する。
	UpdateName(ctx context.Context, id, name string) error

	// UpdateRoleAndStatus はロールとステータスを更新する。管理者操作用。
	UpdateRoleAndStatus(ctx context.Context, id string, role model.Role, status model.ProfileStatus) error

	// List はプロフィール一覧をcreated_at降順で返す。roleが空の場合は全ロールを対象とする。
	List(ctx context.Context, role model.Role, limit, offset int) ([]*model.Profile, error)
}

// CredentialRepository はパスワード認証情報の永続化インターフェース。
type CredentialRepository interface {
	// FindByEmail はメールアドレスで認証情報を検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Credential, error)

	// CreateWithProfile は認証情報とプロフィールを同一トランザクションで作成する。
	// メールアドレスが重複する場合はErrDuplicateEmailを返す。
	CreateWithProfile(ctx context.Context, cred *model.Credential, profile *model.Profile) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// Create はidentityを作成する。
	Create(ctx context.Context, identity *model.Identity) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Extend はセッションの有効期限を延長する。対象が存在しない場合はnilを返す。
	Extend(ctx context.Context, id string, expiresAt time.Time) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}
