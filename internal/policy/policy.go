// Package policy はロールごとの既定パスと、パスの公開/保護判定を行う純粋関数群を提供する。
// ナビゲーション自体は行わず、判定結果をActionとして返す。
package policy

import (
	"net/url"
	"strings"

	"github.com/hitoshi/skillport/internal/model"
)

const (
	// LandingPath はサインアウト後に遷移する公開ランディングページ。
	LandingPath = "/"
	// LoginPath はログインページ。
	LoginPath = "/login"
	// UnauthorizedPath はロール不足時の遷移先。
	UnauthorizedPath = "/unauthorized"
	// ReturnToParam はログイン後の戻り先を保持するクエリパラメータ名。
	ReturnToParam = "redirect_uri"

	registrationPrefix = "/registration/"
)

// publicPaths は認証なしでアクセスできるパスの許可リスト。
var publicPaths = map[string]struct{}{
	"/":             {},
	"/login":        {},
	"/signup":       {},
	"/about":        {},
	"/contact":      {},
	"/unauthorized": {},
	"/registration": {},
	"/auth/login":   {},
	"/auth/signup":  {},
	"/health":       {},
}

// DefaultPath はロールの既定ダッシュボードパスを返す。
func DefaultPath(role model.Role) string {
	switch role {
	case model.RoleAdmin:
		return "/admin/dashboard"
	case model.RoleEducator:
		return "/educator/dashboard"
	case model.RoleEmployer:
		return "/employer/dashboard"
	case model.RoleParticipant:
		return "/participant/dashboard"
	}
	// 未定義ロールはログインへ戻す
	return LoginPath
}

// IsPublic はパスが公開ルートかどうかを判定する。
// 許可リストに加え、/registration/ 配下は全て公開とする。
func IsPublic(path string) bool {
	p := normalize(path)
	if _, ok := publicPaths[p]; ok {
		return true
	}
	return strings.HasPrefix(p, registrationPrefix)
}

// RoleSegment はパスの先頭セグメントがロール名であればそのロールを返す。
func RoleSegment(path string) (model.Role, bool) {
	p := strings.TrimPrefix(normalize(path), "/")
	first, _, _ := strings.Cut(p, "/")
	r := model.Role(first)
	if !r.Valid() {
		return "", false
	}
	return r, true
}

// RoleMismatch はパスのロールセグメントがユーザーのロールと異なるかを判定する。
// 先頭セグメントがロール名でない場合はfalseを返す。
func RoleMismatch(path string, role model.Role) bool {
	seg, ok := RoleSegment(path)
	return ok && seg != role
}

// LoginURL はログイン後に戻るパスを保持したログインURLを返す。
// 戻り先はアプリ内の相対パスに限定する。
func LoginURL(returnTo string) string {
	safe := SafeReturnPath(returnTo)
	if safe == "" || safe == LoginPath {
		return LoginPath
	}
	return LoginPath + "?" + ReturnToParam + "=" + url.QueryEscape(safe)
}

// PostLoginPath はサインイン後の遷移先を返す。
// 現在地がredirect_uri付きのログインページで、戻り先がロールに合う保護パスであればそこへ戻し、
// それ以外はロールの既定パスを返す。
func PostLoginPath(role model.Role, location string) string {
	u, err := url.Parse(location)
	if err == nil && normalize(u.Path) == LoginPath {
		ret := SafeReturnPath(u.Query().Get(ReturnToParam))
		if ret != "" && !IsPublic(ret) && !RoleMismatch(ret, role) {
			return ret
		}
	}
	return DefaultPath(role)
}

// SafeReturnPath はオープンリダイレクトを防ぐため、アプリ内の相対パスのみを返す。
// 条件を満たさない場合は空文字列を返す。
func SafeReturnPath(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.IsAbs() || u.Host != "" {
		return ""
	}
	if !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, `\`) {
		return ""
	}
	return u.RequestURI()
}

// normalize はクエリと末尾スラッシュを取り除いたパスを返す。
func normalize(path string) string {
	p, _, _ := strings.Cut(path, "?")
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}
