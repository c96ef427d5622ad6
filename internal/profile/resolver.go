// Package profile はセッションからアプリケーションユーザーを解決する機能と、
// プロフィール編集のドメインロジックを提供する。
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/skillport/internal/metrics"
	"github.com/hitoshi/skillport/internal/model"
	"github.com/hitoshi/skillport/internal/repository"
)

var (
	// ErrProfileFetch はプロフィールの取得自体に失敗した場合に返される。
	// 行が存在しないことはエラーではない。
	ErrProfileFetch = errors.New("failed to fetch profile")
	// ErrProfileCreate はデフォルトプロフィールの作成に失敗した場合に返される。
	ErrProfileCreate = errors.New("failed to create default profile")
	// ErrAccountSuspended はプロフィールが停止状態の場合に返される。
	ErrAccountSuspended = errors.New("account is suspended")
	// ErrNoSession はセッションがない、またはユーザーIDを持たない場合に返される。
	ErrNoSession = errors.New("session has no user id")
)

// Resolver はセッションをUserに解決する。
// 同一ユーザーIDに対する同時解決はsingleflightで1回のクエリにまとめる。
type Resolver struct {
	repo    repository.ProfileRepository
	metrics metrics.MetricsCollector
	group   singleflight.Group
	now     func() time.Time
}

// NewResolver はResolverを生成する。mcがnilの場合はメトリクスを記録しない。
func NewResolver(repo repository.ProfileRepository, mc metrics.MetricsCollector) *Resolver {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Resolver{
		repo:    repo,
		metrics: mc,
		now:     time.Now,
	}
}

// Resolve はセッションのユーザーIDに対応するプロフィールを取得してUserを返す。
// プロフィールが存在しない場合はparticipantロールのデフォルトプロフィールを作成する。
// ctxがキャンセルされた場合は共有中のクエリを待たずにctx.Err()を返す。
func (r *Resolver) Resolve(ctx context.Context, session *model.Session) (*model.User, error) {
	if session == nil || session.UserID == "" {
		return nil, ErrNoSession
	}

	// 共有される解決処理は最初の呼び出し元のキャンセルに巻き込まない
	ch := r.group.DoChan(session.UserID, func() (any, error) {
		return r.resolve(context.WithoutCancel(ctx), session)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Profile).User(), nil
	}
}

func (r *Resolver) resolve(ctx context.Context, session *model.Session) (*model.Profile, error) {
	start := r.now()
	outcome := metrics.OutcomeFound
	defer func() {
		r.metrics.RecordProfileResolution(outcome, r.now().Sub(start))
	}()

	p, err := r.repo.FindByID(ctx, session.UserID)
	if err != nil {
		outcome = metrics.OutcomeFetchError
		return nil, fmt.Errorf("%w: %w", ErrProfileFetch, err)
	}

	if p == nil {
		p, err = r.createDefault(ctx, session)
		if err != nil {
			if errors.Is(err, ErrProfileFetch) {
				outcome = metrics.OutcomeFetchError
			} else {
				outcome = metrics.OutcomeCreateError
			}
			return nil, err
		}
		outcome = metrics.OutcomeCreated
	}

	if p.Status == model.ProfileStatusSuspended {
		outcome = metrics.OutcomeSuspended
		slog.Warn("suspended profile rejected",
			slog.String("user_id", p.ID),
		)
		return nil, ErrAccountSuspended
	}

	return p, nil
}

// createDefault はデフォルトプロフィールを冪等に作成し、保存された行を読み直して返す。
// 他の経路が先に作成していた場合はその行を返す。
func (r *Resolver) createDefault(ctx context.Context, session *model.Session) (*model.Profile, error) {
	now := r.now()
	p := &model.Profile{
		ID:        session.UserID,
		Email:     session.Email,
		Name:      model.NameFromEmail(session.Email),
		Role:      model.DefaultRole,
		Status:    model.ProfileStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := r.repo.CreateIfNotExists(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProfileCreate, err)
	}

	stored, err := r.repo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProfileFetch, err)
	}
	if stored == nil {
		return nil, fmt.Errorf("%w: row missing after insert", ErrProfileCreate)
	}

	if created {
		slog.Info("default profile created",
			slog.String("user_id", stored.ID),
			slog.String("role", string(stored.Role)),
		)
	}
	return stored, nil
}
