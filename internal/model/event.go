package model

// SessionEventKind はセッション変更イベントの種類。
type SessionEventKind string

const (
	EventInitialSession SessionEventKind = "INITIAL_SESSION"
	EventSignedIn       SessionEventKind = "SIGNED_IN"
	EventSignedOut      SessionEventKind = "SIGNED_OUT"
	EventTokenRefreshed SessionEventKind = "TOKEN_REFRESHED"
)

// SessionEvent は認証サービスが発行するセッション変更イベント。
// SIGNED_OUTの場合もSessionには破棄されたセッションが入ることがある。
type SessionEvent struct {
	Kind    SessionEventKind `json:"kind"`
	Session *Session         `json:"session,omitempty"`
}

// NotificationLevel はトースト通知の重要度。
type NotificationLevel string

const (
	NotificationInfo    NotificationLevel = "info"
	NotificationSuccess NotificationLevel = "success"
	NotificationError   NotificationLevel = "error"
)

// Notification はユーザーに表示するトースト通知。
type Notification struct {
	Level   NotificationLevel `json:"level"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
}
