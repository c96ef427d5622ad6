package policy

import "github.com/hitoshi/skillport/internal/model"

// ActionKind はルートガードの判定種別。
type ActionKind string

const (
	// ActionLoading は認証状態の確定待ち。ローディング表示のみを行う。
	ActionLoading ActionKind = "loading"
	// ActionRender は子要素をそのまま表示する。
	ActionRender ActionKind = "render"
	// ActionRedirect はPathへ遷移させる。
	ActionRedirect ActionKind = "redirect"
)

// Action はDecideの判定結果。
type Action struct {
	Kind ActionKind `json:"kind"`
	// Path はActionRedirectの遷移先。
	Path string `json:"path,omitempty"`
	// ReturnTo はログイン後に戻るべき元のパス。未ログインでのリダイレクト時のみ設定される。
	ReturnTo string `json:"return_to,omitempty"`
}

// GuardState はルートガードが参照する認証状態。
type GuardState struct {
	User      *model.User
	IsLoading bool
}

// Decide は認証状態と現在のパスから、表示・リダイレクト・ローディングのいずれかを決定する。
// 判定順序:
//  1. ローディング中 → ActionLoading
//  2. 公開パス → ActionRender
//  3. 未ログイン → ログインへリダイレクト（元のパスを保持）
//  4. allowedRolesに含まれないロール → UnauthorizedPathへリダイレクト
//  5. パスのロールセグメントとユーザーロールの不一致 → ユーザーの既定パスへリダイレクト
//  6. それ以外 → ActionRender
func Decide(state GuardState, location string, allowedRoles ...model.Role) Action {
	if state.IsLoading {
		return Action{Kind: ActionLoading}
	}

	if IsPublic(location) {
		return Action{Kind: ActionRender}
	}

	if state.User == nil {
		return Action{
			Kind:     ActionRedirect,
			Path:     LoginURL(location),
			ReturnTo: SafeReturnPath(location),
		}
	}

	if len(allowedRoles) > 0 && !containsRole(allowedRoles, state.User.Role) {
		return Action{Kind: ActionRedirect, Path: UnauthorizedPath}
	}

	if RoleMismatch(location, state.User.Role) {
		return Action{Kind: ActionRedirect, Path: DefaultPath(state.User.Role)}
	}

	return Action{Kind: ActionRender}
}

func containsRole(roles []model.Role, r model.Role) bool {
	for _, allowed := range roles {
		if allowed == r {
			return true
		}
	}
	return false
}
