// Package todo はタスク操作のドメインロジックを提供する。
// すべての操作は認可判定を通過した後にのみストアへ到達する。
package todo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/todoman/internal/authz"
	"github.com/hitoshi/todoman/internal/metrics"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/repository"
	"github.com/hitoshi/todoman/internal/security"
)

// MaxTitleLength はタイトルの最大文字数（rune数）。
const MaxTitleLength = 500

// RecentActivityLimit はダッシュボードに表示する直近更新タスクの件数。
const RecentActivityLimit = 5

// 操作名（メトリクス・ログ用）
const (
	opList   = "list"
	opCreate = "create"
	opToggle = "toggle"
	opUpdate = "update"
	opDelete = "delete"
	opStats  = "stats"
)

// UserLookup は管理者による代理作成時の対象ユーザー存在確認に使用する。
type UserLookup interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Service はタスク操作のサービス層。
type Service struct {
	todoRepo  repository.TodoRepository
	users     UserLookup
	sanitizer security.TitleSanitizer
	metrics   metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewService(
	todoRepo repository.TodoRepository,
	users UserLookup,
	sanitizer security.TitleSanitizer,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		todoRepo:  todoRepo,
		users:     users,
		sanitizer: sanitizer,
		metrics:   collector,
	}
}

// List はタスク一覧をcreated_at降順で返す。
//
// filterUserIDが空の場合、read:all_todos を持つアクターには全ユーザーの一覧を、
// それ以外にはアクター本人の一覧を返す。
// filterUserIDが指定された場合はそのユーザーを所有者として read:todos を判定する。
func (s *Service) List(ctx context.Context, actor authz.Identity, filterUserID string) ([]*model.Todo, error) {
	if actor.UserID == "" {
		return nil, model.NewUnauthenticatedError()
	}
	filterUserID = strings.TrimSpace(filterUserID)

	var (
		todos []*model.Todo
		err   error
	)
	switch {
	case filterUserID == "" && authz.CanPerform(actor, authz.ActionReadAllTodos, "", actor.UserID):
		s.metrics.RecordAuthzDecision(string(authz.ActionReadAllTodos), true)
		todos, err = s.todoRepo.ListAll(ctx, "")

	case filterUserID == "" || filterUserID == actor.UserID:
		if err := s.authorize(actor, opList, authz.ActionReadTodos, actor.UserID); err != nil {
			return nil, err
		}
		todos, err = s.todoRepo.ListByUser(ctx, actor.UserID)

	default:
		if err := s.authorize(actor, opList, authz.ActionReadTodos, filterUserID); err != nil {
			return nil, err
		}
		if !isUUID(filterUserID) {
			s.metrics.RecordTodoOperation(opList, metrics.ResultSuccess)
			return []*model.Todo{}, nil
		}
		todos, err = s.todoRepo.ListAll(ctx, filterUserID)
	}
	if err != nil {
		s.metrics.RecordTodoOperation(opList, metrics.ResultError)
		return nil, fmt.Errorf("タスク一覧の取得に失敗しました: %w", err)
	}

	s.metrics.RecordTodoOperation(opList, metrics.ResultSuccess)
	return todos, nil
}

// Add はタスクを作成する。
// targetUserIDが空の場合はアクター本人が所有者となる。
// 本人以外を所有者に指定した場合、対象ユーザーが存在しなければUSER_NOT_FOUNDを返す。
func (s *Service) Add(ctx context.Context, actor authz.Identity, title, targetUserID string) (*model.Todo, error) {
	if actor.UserID == "" {
		return nil, model.NewUnauthenticatedError()
	}

	// 1. タイトルの検証
	cleaned, err := s.normalizeTitle(title)
	if err != nil {
		s.metrics.RecordTodoOperation(opCreate, metrics.ResultInvalid)
		return nil, err
	}

	// 2. 所有者の決定と認可
	owner := strings.TrimSpace(targetUserID)
	if owner == "" {
		owner = actor.UserID
	}
	if err := s.authorize(actor, opCreate, authz.ActionCreateTodos, owner); err != nil {
		return nil, err
	}

	// 3. 代理作成時の対象ユーザー存在確認
	if owner != actor.UserID {
		if !isUUID(owner) {
			s.metrics.RecordTodoOperation(opCreate, metrics.ResultNotFound)
			return nil, model.NewUserNotFoundError()
		}
		user, err := s.users.FindByID(ctx, owner)
		if err != nil {
			s.metrics.RecordTodoOperation(opCreate, metrics.ResultError)
			return nil, fmt.Errorf("対象ユーザーの取得に失敗しました: %w", err)
		}
		if user == nil {
			s.metrics.RecordTodoOperation(opCreate, metrics.ResultNotFound)
			return nil, model.NewUserNotFoundError()
		}
	}

	// 4. 作成
	created, err := s.todoRepo.Create(ctx, owner, cleaned)
	if err != nil {
		s.metrics.RecordTodoOperation(opCreate, metrics.ResultError)
		return nil, fmt.Errorf("タスクの作成に失敗しました: %w", err)
	}

	s.metrics.RecordTodoOperation(opCreate, metrics.ResultSuccess)
	slog.InfoContext(ctx, "タスクを作成しました",
		slog.String("todo_id", created.ID),
		slog.String("owner_id", created.UserID),
		slog.String("actor_id", actor.UserID),
	)
	return created, nil
}

// Toggle はタスクの完了状態を反転する。
func (s *Service) Toggle(ctx context.Context, actor authz.Identity, todoID string) (*model.Todo, error) {
	return s.mutate(ctx, actor, opToggle, authz.ActionUpdateTodos, todoID, s.todoRepo.Toggle)
}

// SetCompleted はタスクの完了状態を指定値に設定する。
func (s *Service) SetCompleted(ctx context.Context, actor authz.Identity, todoID string, completed bool) (*model.Todo, error) {
	return s.mutate(ctx, actor, opUpdate, authz.ActionUpdateTodos, todoID, func(ctx context.Context, id string) (*model.Todo, error) {
		return s.todoRepo.SetCompleted(ctx, id, completed)
	})
}

// SoftDelete はタスクを論理削除する。
func (s *Service) SoftDelete(ctx context.Context, actor authz.Identity, todoID string) (*model.Todo, error) {
	return s.mutate(ctx, actor, opDelete, authz.ActionDeleteTodos, todoID, s.todoRepo.SoftDelete)
}

// mutate は既存タスクに対する更新系操作の共通処理。
// 所有者の取得、認可判定、更新の順に実行する。
func (s *Service) mutate(
	ctx context.Context,
	actor authz.Identity,
	op string,
	action authz.Action,
	todoID string,
	apply func(ctx context.Context, id string) (*model.Todo, error),
) (*model.Todo, error) {
	if actor.UserID == "" {
		return nil, model.NewUnauthenticatedError()
	}

	// 1. IDの形式チェック（ストアには問い合わせない）
	if !isUUID(todoID) {
		s.metrics.RecordTodoOperation(op, metrics.ResultNotFound)
		return nil, model.NewTodoNotFoundError(todoID)
	}

	// 2. 所有者の取得
	existing, err := s.todoRepo.FindByID(ctx, todoID)
	if err != nil {
		s.metrics.RecordTodoOperation(op, metrics.ResultError)
		return nil, fmt.Errorf("タスクの取得に失敗しました: %w", err)
	}
	if existing == nil {
		s.metrics.RecordTodoOperation(op, metrics.ResultNotFound)
		return nil, model.NewTodoNotFoundError(todoID)
	}

	// 3. 認可
	if err := s.authorize(actor, op, action, existing.UserID); err != nil {
		return nil, err
	}

	// 4. 更新（取得後に削除された場合はnil）
	updated, err := apply(ctx, todoID)
	if err != nil {
		s.metrics.RecordTodoOperation(op, metrics.ResultError)
		return nil, fmt.Errorf("タスクの更新に失敗しました: %w", err)
	}
	if updated == nil {
		s.metrics.RecordTodoOperation(op, metrics.ResultNotFound)
		return nil, model.NewTodoNotFoundError(todoID)
	}

	s.metrics.RecordTodoOperation(op, metrics.ResultSuccess)
	return updated, nil
}

// Stats はダッシュボード用の集計を返す。
// read:all_todos を持つアクターには全ユーザー分、それ以外には本人分を返す。
func (s *Service) Stats(ctx context.Context, actor authz.Identity) (*model.TodoStats, error) {
	if actor.UserID == "" {
		return nil, model.NewUnauthenticatedError()
	}
	if err := s.authorize(actor, opStats, authz.ActionReadTodos, actor.UserID); err != nil {
		return nil, err
	}

	scope := actor.UserID
	if authz.CanPerform(actor, authz.ActionReadAllTodos, "", actor.UserID) {
		scope = ""
	}

	stats, err := s.todoRepo.Stats(ctx, scope, RecentActivityLimit)
	if err != nil {
		s.metrics.RecordTodoOperation(opStats, metrics.ResultError)
		return nil, fmt.Errorf("集計の取得に失敗しました: %w", err)
	}
	if stats.RecentActivity == nil {
		stats.RecentActivity = []*model.Todo{}
	}

	s.metrics.RecordTodoOperation(opStats, metrics.ResultSuccess)
	return stats, nil
}

// authorize は認可判定を行い、結果をメトリクスに記録する。
func (s *Service) authorize(actor authz.Identity, op string, action authz.Action, ownerID string) error {
	err := authz.Authorize(actor, action, ownerID, actor.UserID)
	s.metrics.RecordAuthzDecision(string(action), err == nil)
	if err != nil {
		s.metrics.RecordTodoOperation(op, metrics.ResultForbidden)
		slog.Warn("タスク操作が拒否されました",
			slog.String("operation", op),
			slog.String("action", string(action)),
			slog.String("actor_id", actor.UserID),
		)
		return err
	}
	return nil
}

// normalizeTitle はタイトルからマークアップを除去し、空文字列と長さ超過を拒否する。
func (s *Service) normalizeTitle(raw string) (string, error) {
	cleaned := strings.TrimSpace(raw)
	if s.sanitizer != nil {
		cleaned = s.sanitizer.Sanitize(cleaned)
	}
	if cleaned == "" {
		return "", model.NewValidationError("タイトルを入力してください")
	}
	if utf8.RuneCountInString(cleaned) > MaxTitleLength {
		return "", model.NewValidationError(fmt.Sprintf("タイトルは%d文字以内で入力してください", MaxTitleLength))
	}
	return cleaned, nil
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
