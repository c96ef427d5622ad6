package authstate

import "github.com/hitoshi/skillport/internal/model"

// Phase は認証状態マシンの状態。
type Phase string

const (
	PhaseInitializing    Phase = "INITIALIZING"
	PhaseAuthenticated   Phase = "AUTHENTICATED"
	PhaseUnauthenticated Phase = "UNAUTHENTICATED"
)

// State は認証状態のスナップショット。Userは共有されるため変更してはならない。
type State struct {
	Phase     Phase       `json:"phase"`
	User      *model.User `json:"user"`
	IsLoading bool        `json:"is_loading"`
}

func initializing() State {
	return State{Phase: PhaseInitializing, IsLoading: true}
}

func unauthenticated() State {
	return State{Phase: PhaseUnauthenticated}
}

func authenticated(u *model.User) State {
	return State{Phase: PhaseAuthenticated, User: u}
}

// Resolved は解決済みの状態を返す。uがnilの場合は未ログイン。
func Resolved(u *model.User) State {
	if u == nil {
		return unauthenticated()
	}
	return authenticated(u)
}
