package authz

import (
	"slices"
	"strings"
)

// ロール
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
	RoleGuest = "guest"
)

// PermissionSource は解決済み権限の出所を表す。
type PermissionSource string

const (
	// PermissionSourceExplicit はクレームで明示的に付与された権限。
	PermissionSourceExplicit PermissionSource = "explicit"
	// PermissionSourceRole はロールから導出された権限。
	PermissionSourceRole PermissionSource = "role"
)

// DefaultRolePermissions は明示的な権限クレームがない場合にロールから導出する権限。
var DefaultRolePermissions = map[string][]Action{
	RoleAdmin: {
		ActionReadTodos,
		ActionCreateTodos,
		ActionUpdateTodos,
		ActionDeleteTodos,
		ActionReadAllTodos,
	},
	RoleUser: {
		ActionReadTodos,
		ActionCreateTodos,
		ActionUpdateTodos,
		ActionDeleteTodos,
	},
	RoleGuest: {
		ActionReadTodos,
	},
}

// Identity はリクエストごとに解決される認証済みユーザーのロール・権限。
// 生成後に変更しない。
type Identity struct {
	// UserID はローカルのユーザーID（users.id）。認証サービスが設定する。
	UserID string

	SubjectID string
	Email     string
	Name      string
	Picture   string

	// Roles と Permissions は常に非nil。重複なし・昇順。
	Roles            []string
	Permissions      []string
	PermissionSource PermissionSource
}

// Resolve は抽出結果を正規化してIdentityを生成する。
//
// 権限の優先順位: クレームに明示的な権限があればそれを使い、
// なければロールからDefaultRolePermissionsで導出する。
func Resolve(x Extracted) Identity {
	roles := normalize(x.RawRoles)
	if len(roles) == 0 {
		roles = normalize(DefaultRoles)
	}

	id := Identity{
		SubjectID: x.SubjectID,
		Email:     x.Email,
		Name:      x.Name,
		Picture:   x.Picture,
		Roles:     roles,
	}

	if explicit := normalize(x.RawPermissions); len(explicit) > 0 {
		id.Permissions = explicit
		id.PermissionSource = PermissionSourceExplicit
		return id
	}

	var derived []string
	for _, role := range roles {
		for _, action := range DefaultRolePermissions[role] {
			derived = append(derived, string(action))
		}
	}
	id.Permissions = normalize(derived)
	id.PermissionSource = PermissionSourceRole
	return id
}

// WithUserID はローカルのユーザーIDを設定したコピーを返す。
func (id Identity) WithUserID(userID string) Identity {
	id.UserID = userID
	return id
}

// IsAdmin はadminロールを持つかどうかを返す。
func (id Identity) IsAdmin() bool {
	return id.HasRole(RoleAdmin)
}

// HasRole は指定ロールを持つかどうかを返す。
func (id Identity) HasRole(role string) bool {
	return slices.Contains(id.Roles, role)
}

// HasExplicitPermission はクレームで明示的に付与された権限に指定アクションが含まれるかを返す。
// ロール由来の権限は対象外。
func (id Identity) HasExplicitPermission(action Action) bool {
	if id.PermissionSource != PermissionSourceExplicit {
		return false
	}
	return slices.Contains(id.Permissions, string(action))
}

// normalize は前後空白を除去し、空要素と重複を除いた昇順のスライスを返す。
// 入力がnilでも空スライスを返す。
func normalize(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
