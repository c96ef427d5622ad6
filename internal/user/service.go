// Package user は管理者によるユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/skillport/internal/model"
	"github.com/hitoshi/skillport/internal/repository"
)

const (
	// DefaultListLimit は一覧取得の既定件数。
	DefaultListLimit = 50
	// MaxListLimit は一覧取得の最大件数。
	MaxListLimit = 200
)

// SessionRevoker はユーザーの全セッションを終了させるインターフェース。
// identity.Service.SignOutUserが満たす。
type SessionRevoker interface {
	SignOutUser(ctx context.Context, userID string) error
}

// Update は管理者によるプロフィール変更の内容。nilのフィールドは変更しない。
type Update struct {
	Role   *model.Role
	Status *model.ProfileStatus
}

// Service はユーザー管理のサービス層。
// ロールとステータスの変更、および変更に伴うセッションの失効を提供する。
type Service struct {
	profiles repository.ProfileRepository
	revoker  SessionRevoker
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(profiles repository.ProfileRepository, revoker SessionRevoker) *Service {
	return &Service{
		profiles: profiles,
		revoker:  revoker,
	}
}

// List はプロフィール一覧を返す。roleが空の場合は全ロールを対象とする。
// limitは1からMaxListLimitの範囲に丸める。
func (s *Service) List(ctx context.Context, role model.Role, limit, offset int) ([]*model.Profile, error) {
	if role != "" && !role.Valid() {
		return nil, model.NewInvalidRoleError(string(role))
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	profiles, err := s.profiles.List(ctx, role, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	return profiles, nil
}

// Update は対象ユーザーのロールとステータスを変更する。
// 管理者は自分自身を降格・停止できない。
// ロールが変わった場合、またはアクティブでなくなった場合は対象の全セッションを失効させ、
// 次回サインイン時に新しいロールで解決させる。
func (s *Service) Update(ctx context.Context, actorID, targetID string, upd Update) (*model.Profile, error) {
	if upd.Role != nil && !upd.Role.Valid() {
		return nil, model.NewInvalidRoleError(string(*upd.Role))
	}
	if upd.Status != nil && !upd.Status.Valid() {
		return nil, model.NewInvalidStatusError(string(*upd.Status))
	}

	current, err := s.profiles.FindByID(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if current == nil {
		return nil, model.NewUserNotFoundError()
	}

	role, status := current.Role, current.Status
	if upd.Role != nil {
		role = *upd.Role
	}
	if upd.Status != nil {
		status = *upd.Status
	}

	if actorID == targetID && (role != model.RoleAdmin || status != model.ProfileStatusActive) {
		return nil, model.NewForbiddenError()
	}

	if role == current.Role && status == current.Status {
		return current, nil
	}

	if err := s.profiles.UpdateRoleAndStatus(ctx, targetID, role, status); err != nil {
		return nil, err
	}

	slog.Info("profile updated by admin",
		slog.String("actor_id", actorID),
		slog.String("user_id", targetID),
		slog.String("role", string(role)),
		slog.String("status", string(status)),
	)

	if role != current.Role || status != model.ProfileStatusActive {
		if err := s.revoker.SignOutUser(ctx, targetID); err != nil {
			return nil, fmt.Errorf("failed to revoke sessions: %w", err)
		}
	}

	updated, err := s.profiles.FindByID(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if updated == nil {
		return nil, model.NewUserNotFoundError()
	}
	return updated, nil
}
