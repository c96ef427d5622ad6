package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/skillport/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// apiErrがnilの場合はステータスコードに対応する既定のエラーを使う。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	if apiErr == nil {
		apiErr = defaultAPIError(statusCode)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     model.ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

func defaultAPIError(statusCode int) *model.APIError {
	switch statusCode {
	case http.StatusUnauthorized:
		return model.NewUnauthorizedError()
	case http.StatusForbidden:
		return model.NewForbiddenError()
	case http.StatusBadRequest:
		return model.NewInvalidRequestError()
	}
	return &model.APIError{
		Code:     model.ErrCodeInternal,
		Message:  http.StatusText(statusCode),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
