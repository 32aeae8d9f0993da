package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/todoman/internal/authz"
	"github.com/hitoshi/todoman/internal/model"
)

// maxRequestBodyBytes はタスクAPIのリクエストボディ上限。
const maxRequestBodyBytes = 64 << 10

// TodoServiceInterface はタスクハンドラーが必要とするサービスインターフェース。
type TodoServiceInterface interface {
	List(ctx context.Context, actor authz.Identity, filterUserID string) ([]todoResponse, error)
	Add(ctx context.Context, actor authz.Identity, title, targetUserID string) (*todoResponse, error)
	Toggle(ctx context.Context, actor authz.Identity, todoID string) (*todoResponse, error)
	SetCompleted(ctx context.Context, actor authz.Identity, todoID string, completed bool) (*todoResponse, error)
	SoftDelete(ctx context.Context, actor authz.Identity, todoID string) (*todoResponse, error)
	Stats(ctx context.Context, actor authz.Identity) (*statsResponse, error)
}

// todoResponse はタスクのAPIレスポンス。
type todoResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	IsDeleted bool      `json:"is_deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// statsResponse はダッシュボード集計のAPIレスポンス。
type statsResponse struct {
	TotalTasks     int            `json:"totalTasks"`
	CompletedTasks int            `json:"completedTasks"`
	CompletionRate int            `json:"completionRate"`
	RecentActivity []todoResponse `json:"recentActivity"`
}

// createTodoRequest は POST /todos のリクエストボディ。
type createTodoRequest struct {
	Title  string `json:"title"`
	UserID string `json:"user_id"`
}

// updateTodoRequest は PATCH /todos/{id} のリクエストボディ。
// Completedが省略された場合は完了状態を反転する。
type updateTodoRequest struct {
	Completed *bool `json:"completed"`
}

// TodoHandler はタスク操作のHTTPハンドラー。
type TodoHandler struct {
	service TodoServiceInterface
}

// NewTodoHandler はTodoHandlerを生成する。
func NewTodoHandler(service TodoServiceInterface) *TodoHandler {
	return &TodoHandler{service: service}
}

// ListTodos はタスク一覧を返す。
// GET /todos?user_id=xxx
func (h *TodoHandler) ListTodos(w http.ResponseWriter, r *http.Request) {
	actor, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	todos, err := h.service.List(r.Context(), actor, r.URL.Query().Get("user_id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"todos": todos})
}

// CreateTodo はタスクを作成する。
// POST /todos
func (h *TodoHandler) CreateTodo(w http.ResponseWriter, r *http.Request) {
	actor, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	var req createTodoRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		writeAPIErrorResponse(w, r, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	todo, err := h.service.Add(r.Context(), actor, req.Title, req.UserID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "todo": todo})
}

// UpdateTodo はタスクの完了状態を更新する。
// PATCH /todos/{id}
// ボディに completed があればその値を設定し、なければ反転する。
func (h *TodoHandler) UpdateTodo(w http.ResponseWriter, r *http.Request) {
	actor, ok := identityFromRequest(w, r)
	if !ok {
		return
	}
	todoID := chi.URLParam(r, "id")

	req, err := decodeOptionalBody[updateTodoRequest](w, r)
	if err != nil {
		writeAPIErrorResponse(w, r, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	var todo *todoResponse
	if req.Completed != nil {
		todo, err = h.service.SetCompleted(r.Context(), actor, todoID, *req.Completed)
	} else {
		todo, err = h.service.Toggle(r.Context(), actor, todoID)
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "todo": todo})
}

// DeleteTodo はタスクを論理削除する。
// DELETE /todos/{id}
func (h *TodoHandler) DeleteTodo(w http.ResponseWriter, r *http.Request) {
	actor, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	todo, err := h.service.SoftDelete(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "todo": todo})
}

// DashboardStats はダッシュボード用の集計を返す。
// GET /dashboard/stats
func (h *TodoHandler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	actor, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	stats, err := h.service.Stats(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

// decodeOptionalBody はリクエストボディをデコードする。空ボディはゼロ値として扱う。
func decodeOptionalBody[T any](w http.ResponseWriter, r *http.Request) (T, error) {
	var v T
	if r.Body == nil {
		return v, nil
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		return v, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, err
	}
	return v, nil
}
