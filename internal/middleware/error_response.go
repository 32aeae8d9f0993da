package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/todoman/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法、問い合わせ用の相関IDを含む。
type ErrorResponseBody struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	Category      string `json:"category"`
	Action        string `json:"action"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// APIErrorのCauseはレスポンスに含めない。
// rがnilの場合、相関IDはレスポンスヘッダーから取得する。
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, apiErr *model.APIError) {
	correlationID := w.Header().Get(CorrelationIDHeader)
	if r != nil {
		if id := CorrelationIDFromContext(r.Context()); id != "" {
			correlationID = id
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:          apiErr.Code,
		Message:       apiErr.Message,
		Category:      apiErr.Category,
		Action:        apiErr.Action,
		CorrelationID: correlationID,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, http.StatusInternalServerError, model.NewInternalError())
}
