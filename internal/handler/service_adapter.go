package handler

import (
	"context"

	"github.com/hitoshi/skillport/internal/middleware"
	"github.com/hitoshi/skillport/internal/model"
)

// SessionGetter はセッショントークンから現在のセッションを取得する。
// identity.Serviceが満たす。
type SessionGetter interface {
	GetCurrentSession(ctx context.Context, token string) (*model.Session, error)
}

// ProfileResolver はセッションをユーザーに解決する。profile.Resolverが満たす。
type ProfileResolver interface {
	Resolve(ctx context.Context, session *model.Session) (*model.User, error)
}

// SessionUserResolver はセッション取得とプロフィール解決を組み合わせ、
// middleware.UserResolverに適合させるアダプタ。
type SessionUserResolver struct {
	sessions SessionGetter
	profiles ProfileResolver
}

// NewSessionUserResolver はSessionUserResolverを生成する。
func NewSessionUserResolver(sessions SessionGetter, profiles ProfileResolver) *SessionUserResolver {
	return &SessionUserResolver{sessions: sessions, profiles: profiles}
}

// ResolveUser はトークンのセッションを取得し、プロフィールを解決する。
// セッションが存在しない場合はnil, nilを返す。
func (a *SessionUserResolver) ResolveUser(ctx context.Context, token string) (*model.User, error) {
	session, err := a.sessions.GetCurrentSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}
	return a.profiles.Resolve(ctx, session)
}

// compile-time interface check
var _ middleware.UserResolver = (*SessionUserResolver)(nil)
