package authz

import "github.com/hitoshi/todoman/internal/model"

// Action はタスク操作を表す権限文字列（resource:verb形式）。
type Action string

const (
	ActionReadTodos   Action = "read:todos"
	ActionCreateTodos Action = "create:todos"
	ActionUpdateTodos Action = "update:todos"
	ActionDeleteTodos Action = "delete:todos"

	// ActionReadAllTodos は全ユーザーのタスク一覧を閲覧する権限。
	ActionReadAllTodos Action = "read:all_todos"
)

// IsTodoAction は所有者単位で許可されるタスクCRUDアクションかどうかを返す。
func IsTodoAction(action Action) bool {
	switch action {
	case ActionReadTodos, ActionCreateTodos, ActionUpdateTodos, ActionDeleteTodos:
		return true
	default:
		return false
	}
}

// CanPerform はアクションの実行可否を判定する。
// 以下のルールを上から順に評価する:
//
//  1. adminロール: 常に許可
//  2. 明示的な権限にアクションが含まれる: タスクCRUDアクションは所有者本人の場合のみ、
//     それ以外（read:all_todos など）は無条件に許可
//  3. タスクCRUDアクションかつuserロール: 所有者本人の場合のみ許可
//  4. guestロール: read:todos のみ、所有者本人の場合のみ許可
//  5. それ以外: 拒否
//
// admin以外が他人のタスクをCRUDできる経路はない。未知のアクションは拒否される。
func CanPerform(id Identity, action Action, targetOwnerID, requestingUserID string) bool {
	if id.IsAdmin() {
		return true
	}

	owns := requestingUserID != "" && targetOwnerID == requestingUserID

	if id.HasExplicitPermission(action) {
		return !IsTodoAction(action) || owns
	}

	if IsTodoAction(action) && id.HasRole(RoleUser) {
		return owns
	}

	if id.HasRole(RoleGuest) {
		return action == ActionReadTodos && owns
	}

	return false
}

// Authorize はCanPerformが拒否した場合にFORBIDDENエラーを返す。
func Authorize(id Identity, action Action, targetOwnerID, requestingUserID string) error {
	if !CanPerform(id, action, targetOwnerID, requestingUserID) {
		return model.NewForbiddenError()
	}
	return nil
}
