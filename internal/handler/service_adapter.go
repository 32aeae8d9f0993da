package handler

import (
	"context"

	"github.com/hitoshi/todoman/internal/auth"
	"github.com/hitoshi/todoman/internal/authz"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/todo"
)

// TodoServiceAdapter は todo.Service を TodoServiceInterface に適合させるアダプタ。
type TodoServiceAdapter struct {
	svc *todo.Service
}

// NewTodoServiceAdapter はTodoServiceAdapterを生成する。
func NewTodoServiceAdapter(svc *todo.Service) *TodoServiceAdapter {
	return &TodoServiceAdapter{svc: svc}
}

// List はタスク一覧をhandlerレスポンス型で返す。
func (a *TodoServiceAdapter) List(ctx context.Context, actor authz.Identity, filterUserID string) ([]todoResponse, error) {
	todos, err := a.svc.List(ctx, actor, filterUserID)
	if err != nil {
		return nil, err
	}
	return toTodoResponses(todos), nil
}

// Add はタスクを作成しhandlerレスポンス型で返す。
func (a *TodoServiceAdapter) Add(ctx context.Context, actor authz.Identity, title, targetUserID string) (*todoResponse, error) {
	return single(a.svc.Add(ctx, actor, title, targetUserID))
}

// Toggle は完了状態を反転しhandlerレスポンス型で返す。
func (a *TodoServiceAdapter) Toggle(ctx context.Context, actor authz.Identity, todoID string) (*todoResponse, error) {
	return single(a.svc.Toggle(ctx, actor, todoID))
}

// SetCompleted は完了状態を設定しhandlerレスポンス型で返す。
func (a *TodoServiceAdapter) SetCompleted(ctx context.Context, actor authz.Identity, todoID string, completed bool) (*todoResponse, error) {
	return single(a.svc.SetCompleted(ctx, actor, todoID, completed))
}

// SoftDelete はタスクを論理削除しhandlerレスポンス型で返す。
func (a *TodoServiceAdapter) SoftDelete(ctx context.Context, actor authz.Identity, todoID string) (*todoResponse, error) {
	return single(a.svc.SoftDelete(ctx, actor, todoID))
}

// Stats はダッシュボード集計をhandlerレスポンス型で返す。
func (a *TodoServiceAdapter) Stats(ctx context.Context, actor authz.Identity) (*statsResponse, error) {
	stats, err := a.svc.Stats(ctx, actor)
	if err != nil {
		return nil, err
	}
	return &statsResponse{
		TotalTasks:     stats.TotalTasks,
		CompletedTasks: stats.CompletedTasks,
		CompletionRate: stats.CompletionRate,
		RecentActivity: toTodoResponses(stats.RecentActivity),
	}, nil
}

func single(t *model.Todo, err error) (*todoResponse, error) {
	if err != nil {
		return nil, err
	}
	resp := toTodoResponse(t)
	return &resp, nil
}

// toTodoResponse はドメインのTodoをhandlerのレスポンス型に変換する。
func toTodoResponse(t *model.Todo) todoResponse {
	return todoResponse{
		ID:        t.ID,
		UserID:    t.UserID,
		Title:     t.Title,
		Completed: t.Completed,
		IsDeleted: t.IsDeleted,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

// toTodoResponses は空でも非nilのスライスを返す。
func toTodoResponses(todos []*model.Todo) []todoResponse {
	out := make([]todoResponse, 0, len(todos))
	for _, t := range todos {
		out = append(out, toTodoResponse(t))
	}
	return out
}

// --- compile-time interface checks ---

var _ TodoServiceInterface = (*TodoServiceAdapter)(nil)
var _ AuthServiceInterface = (*auth.Service)(nil)
