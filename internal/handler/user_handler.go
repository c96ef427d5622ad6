package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/skillport/internal/middleware"
	"github.com/hitoshi/skillport/internal/model"
	"github.com/hitoshi/skillport/internal/user"
)

// UserServiceInterface は管理者向けユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	List(ctx context.Context, role model.Role, limit, offset int) ([]*model.Profile, error)
	Update(ctx context.Context, actorID, targetID string, upd user.Update) (*model.Profile, error)
}

// UserHandler は管理者によるユーザー管理のHTTPハンドラー。
// adminロールのガード配下で使用する。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{service: service}
}

// updateUserRequest はユーザー更新リクエストのボディ。省略したフィールドは変更しない。
type updateUserRequest struct {
	Role   *string `json:"role"`
	Status *string `json:"status"`
}

// listUsersResponse はユーザー一覧のレスポンス。
type listUsersResponse struct {
	Users  []profileResponse `json:"users"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// List はプロフィール一覧を返す。
// GET /admin/users?role=educator&limit=50&offset=0
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, ok := parseIntParam(w, q.Get("limit"))
	if !ok {
		return
	}
	offset, ok := parseIntParam(w, q.Get("offset"))
	if !ok {
		return
	}

	var role model.Role
	if raw := q.Get("role"); raw != "" {
		parsed, err := model.ParseRole(raw)
		if err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRoleError(raw))
			return
		}
		role = parsed
	}

	profiles, err := h.service.List(r.Context(), role, limit, offset)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := listUsersResponse{
		Users:  make([]profileResponse, 0, len(profiles)),
		Limit:  limit,
		Offset: offset,
	}
	for _, p := range profiles {
		resp.Users = append(resp.Users, toProfileResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Update は対象ユーザーのロールまたはステータスを変更する。
// PATCH /admin/users/{id}
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	actorID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	// プロフィールIDはUUID。形式が不正なIDに該当するユーザーは存在しない
	parsedID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		return
	}
	targetID := parsedID.String()

	var req updateUserRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	var upd user.Update
	if req.Role != nil {
		role, err := model.ParseRole(*req.Role)
		if err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRoleError(*req.Role))
			return
		}
		upd.Role = &role
	}
	if req.Status != nil {
		status := model.ProfileStatus(*req.Status)
		if !status.Valid() {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidStatusError(*req.Status))
			return
		}
		upd.Status = &status
	}

	p, err := h.service.Update(r.Context(), actorID, targetID, upd)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

// parseIntParam は数値クエリを解析する。空文字は0として扱う。
func parseIntParam(w http.ResponseWriter, raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return 0, false
	}
	return n, true
}
