// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/todoman/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByAuth0ID は認証プロバイダーのsubjectでユーザーを検索する。見つからない場合はnilを返す。
	FindByAuth0ID(ctx context.Context, auth0ID string) (*model.User, error)

	// Upsert はauth0_idをキーにユーザーを作成または更新し、保存後の行を返す。
	// 空のemailは既存の値を上書きしない。
	Upsert(ctx context.Context, user *model.User) (*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// TodoRepository はタスクデータの永続化インターフェース。
// 論理削除済みのタスクはどの操作からも見えない。
type TodoRepository interface {
	// FindByID は指定IDのタスクを取得する。見つからない場合や論理削除済みの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Todo, error)

	// ListByUser は本人スコープでタスク一覧をcreated_at降順で返す。
	// 制限付き接続を使用し、行レベルセキュリティが適用される。
	ListByUser(ctx context.Context, userID string) ([]*model.Todo, error)

	// ListAll は全ユーザーのタスク一覧をcreated_at降順で返す。
	// ownerFilterが空でない場合はそのユーザーのタスクのみ返す。
	ListAll(ctx context.Context, ownerFilter string) ([]*model.Todo, error)

	// Create はタスクを作成し、ID・タイムスタンプを設定した行を返す。
	Create(ctx context.Context, userID, title string) (*model.Todo, error)

	// Toggle は完了状態を反転する。対象が存在しない場合はnilを返す。
	Toggle(ctx context.Context, id string) (*model.Todo, error)

	// SetCompleted は完了状態を指定値に設定する。対象が存在しない場合はnilを返す。
	SetCompleted(ctx context.Context, id string, completed bool) (*model.Todo, error)

	// SoftDelete はタスクを論理削除し、更新後の行を返す。対象が存在しない場合はnilを返す。
	SoftDelete(ctx context.Context, id string) (*model.Todo, error)

	// Stats は集計値と直近更新のタスクを返す。userIDが空の場合は全ユーザーを対象とする。
	Stats(ctx context.Context, userID string, recentLimit int) (*model.TodoStats, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
