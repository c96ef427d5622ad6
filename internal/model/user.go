// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
	"time"
)

// Role はポータルのロールを表す。値は以下の4つに閉じている。
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleEducator    Role = "educator"
	RoleEmployer    Role = "employer"
	RoleParticipant Role = "participant"
)

// DefaultRole はプロフィール自動作成時に付与されるロール。
const DefaultRole = RoleParticipant

// AllRoles は定義済みの全ロールを返す。
func AllRoles() []Role {
	return []Role{RoleAdmin, RoleEducator, RoleEmployer, RoleParticipant}
}

// Valid はロールが定義済みの値かどうかを判定する。
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleEducator, RoleEmployer, RoleParticipant:
		return true
	}
	return false
}

// ParseRole は文字列をRoleに変換する。大文字小文字と前後の空白は無視する。
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role: %q", s)
	}
	return r, nil
}

// ProfileStatus はプロフィールの状態を表す。
type ProfileStatus string

const (
	ProfileStatusActive    ProfileStatus = "active"
	ProfileStatusPending   ProfileStatus = "pending"
	ProfileStatusSuspended ProfileStatus = "suspended"
)

// Valid はステータスが定義済みの値かどうかを判定する。
func (s ProfileStatus) Valid() bool {
	switch s {
	case ProfileStatusActive, ProfileStatusPending, ProfileStatusSuspended:
		return true
	}
	return false
}

// User はアプリケーションレベルのユーザーを表す。
// Profileレコードから導出され、Profileが存在する場合にのみ存在する。
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
}

// Profile はprofilesテーブルに永続化されるユーザーのロールと表示情報。
type Profile struct {
	ID        string
	Email     string
	Name      string
	Role      Role
	Status    ProfileStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// User はProfileからアプリケーションレベルのUserを導出する。
func (p *Profile) User() *User {
	return &User{
		ID:    p.ID,
		Email: p.Email,
		Name:  p.Name,
		Role:  p.Role,
	}
}

// NameFromEmail はメールアドレスのローカル部から表示名を導出する。
func NameFromEmail(email string) string {
	local, _, found := strings.Cut(email, "@")
	if !found || local == "" {
		return email
	}
	return local
}

// Credential はパスワードサインイン用の認証情報。
type Credential struct {
	UserID       string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
// トークン(ID)と有効期限は認証サービスのみが所有する。
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired はセッションが期限切れかどうかを判定する。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
