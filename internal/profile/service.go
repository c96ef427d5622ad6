package profile

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/hitoshi/skillport/internal/model"
	"github.com/hitoshi/skillport/internal/repository"
	"github.com/hitoshi/skillport/internal/security"
)

// MaxNameLength は表示名の最大文字数（rune数）。
const MaxNameLength = 100

// Service はプロフィール編集のサービス層。
// ロールとステータスの変更は管理者操作（userパッケージ）でのみ行う。
type Service struct {
	repo      repository.ProfileRepository
	sanitizer security.TextSanitizerService
}

// NewService はServiceを生成する。
func NewService(repo repository.ProfileRepository, sanitizer security.TextSanitizerService) *Service {
	return &Service{repo: repo, sanitizer: sanitizer}
}

// Get は指定ユーザーのプロフィールを返す。
func (s *Service) Get(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if p == nil {
		return nil, model.NewUserNotFoundError()
	}
	return p, nil
}

// UpdateName は表示名をサニタイズして更新し、更新後のプロフィールを返す。
// サニタイズ後の名前が空、またはMaxNameLengthを超える場合はINVALID_NAMEエラーを返す。
func (s *Service) UpdateName(ctx context.Context, userID, rawName string) (*model.Profile, error) {
	name := s.sanitizer.SanitizeText(rawName)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return nil, model.NewInvalidNameError()
	}

	if err := s.repo.UpdateName(ctx, userID, name); err != nil {
		return nil, err
	}

	slog.Info("profile name updated",
		slog.String("user_id", userID),
	)
	return s.Get(ctx, userID)
}
