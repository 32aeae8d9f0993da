// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/repository"
)

// Profile は認証プロバイダーのクレームから得られるユーザー属性。
type Profile struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// Service はユーザー管理のサービス層。
// 認証プロバイダーのsubjectとローカルユーザーの対応付けを提供する。
type Service struct {
	userRepo repository.UserRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository) *Service {
	return &Service{userRepo: userRepo}
}

// Sync はsubjectをキーにユーザーを作成または更新する。
// 何度呼び出しても同一subjectのユーザーは1件のみ存在する（冪等）。
func (s *Service) Sync(ctx context.Context, p Profile) (*model.User, error) {
	subject := strings.TrimSpace(p.Subject)
	if subject == "" {
		return nil, model.NewUnauthenticatedError()
	}

	user, err := s.userRepo.Upsert(ctx, &model.User{
		Auth0ID: subject,
		Email:   strings.TrimSpace(p.Email),
		Name:    strings.TrimSpace(p.Name),
		Picture: strings.TrimSpace(p.Picture),
	})
	if err != nil {
		return nil, fmt.Errorf("ユーザーの同期に失敗しました: %w", err)
	}

	slog.DebugContext(ctx, "ユーザーを同期しました",
		slog.String("user_id", user.ID),
	)
	return user, nil
}

// Get は指定IDのユーザーを返す。存在しない場合はUSER_NOT_FOUNDを返す。
func (s *Service) Get(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}
