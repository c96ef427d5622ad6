package identity

import (
	"context"
	"sync"

	"github.com/hitoshi/skillport/internal/model"
)

// BoundSource はServiceを1クライアントのセッションに束縛したセッションソース。
// そのセッションに関するイベントと、そのユーザー全体のサインアウトのみを転送する。
type BoundSource struct {
	svc   *Service
	token string

	mu     sync.Mutex
	userID string
}

// NewBoundSource はtokenに束縛されたBoundSourceを生成する。
func NewBoundSource(svc *Service, token string) *BoundSource {
	return &BoundSource{svc: svc, token: token}
}

// GetCurrentSession は束縛されたトークンの現在のセッションを返す。
func (b *BoundSource) GetCurrentSession(ctx context.Context) (*model.Session, error) {
	session, err := b.svc.GetCurrentSession(ctx, b.token)
	if err != nil {
		return nil, err
	}
	if session != nil {
		b.mu.Lock()
		b.userID = session.UserID
		b.mu.Unlock()
	}
	return session, nil
}

// OnSessionChange は束縛されたセッションに関するイベントのみを転送する。
// SIGNED_OUTはセッションを持たないイベントとして転送する。
func (b *BoundSource) OnSessionChange(cb func(model.SessionEvent)) func() {
	return b.svc.OnSessionChange(func(ev model.SessionEvent) {
		if !b.matches(ev) {
			return
		}
		if ev.Kind == model.EventSignedOut {
			ev.Session = nil
		}
		cb(ev)
	})
}

func (b *BoundSource) matches(ev model.SessionEvent) bool {
	if ev.Session == nil || b.token == "" {
		return false
	}
	if ev.Session.ID == b.token {
		if ev.Session.UserID != "" {
			b.mu.Lock()
			b.userID = ev.Session.UserID
			b.mu.Unlock()
		}
		return true
	}
	if ev.Session.ID != "" || ev.Kind != model.EventSignedOut {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.userID != "" && ev.Session.UserID == b.userID
}
