package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/socialwatch/internal/model"
)

// ErrorResponseBody はAPIエラーの応答形式。エラー応答と複数ハンドル取得の要素別エラーで共通。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
	// UpstreamStatus は UPSTREAM_ERROR の原因となった上流のステータス。
	UpstreamStatus int `json:"upstream_status,omitempty"`
}

// NewErrorResponseBody は APIError を応答形式に変換する。
func NewErrorResponseBody(apiErr *model.APIError) *ErrorResponseBody {
	return &ErrorResponseBody{
		Code:           apiErr.Code,
		Message:        apiErr.Message,
		Category:       apiErr.Category,
		Action:         apiErr.Action,
		UpstreamStatus: apiErr.UpstreamStatus,
	}
}

// WriteErrorResponse は apiErr を statusCode で書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(NewErrorResponseBody(apiErr))
}

// WriteInternalServerError は INTERNAL_ERROR を500で書き込む。原因はログにのみ残すこと。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
