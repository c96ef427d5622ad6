package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/skillport/internal/middleware"
	"github.com/hitoshi/skillport/internal/model"
	"github.com/hitoshi/skillport/internal/policy"
)

// pageResponse はガードを通過したページの記述子。
// フロントエンドはこの記述子をもとに画面を描画する。
type pageResponse struct {
	Page   string      `json:"page"`
	Path   string      `json:"path"`
	Public bool        `json:"public"`
	Role   model.Role  `json:"role,omitempty"`
	User   *model.User `json:"user,omitempty"`
}

// PublicPage は公開ページの記述子を返すハンドラーを生成する。
func PublicPage(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, _ := middleware.UserFromContext(r.Context())
		writeJSON(w, http.StatusOK, pageResponse{
			Page:   name,
			Path:   r.URL.Path,
			Public: true,
			User:   u,
		})
	}
}

// RolePage はロール配下のページ記述子を返す。
// 先頭セグメントがロールでない場合は404とする。
// GET /{role}/dashboard, /{role}/*
func RolePage(w http.ResponseWriter, r *http.Request) {
	role, ok := policy.RoleSegment(r.URL.Path)
	if !ok || string(role) != chi.URLParam(r, "role") {
		middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "NOT_FOUND",
			Message:  "ページが見つかりません。",
			Category: "validation",
			Action:   "URLを確認してください。",
		})
		return
	}

	page := strings.Trim(chi.URLParam(r, "*"), "/")
	if page == "" {
		page = "dashboard"
	}

	u, _ := middleware.UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, pageResponse{
		Page: page,
		Path: r.URL.Path,
		Role: role,
		User: u,
	})
}
