// Package authz は認証プロバイダーのクレームからロール・権限を解決し、
// タスク操作の可否を判定する。
//
// 処理は3段階に分かれる:
//
//	Claims --Extract--> Extracted --Resolve--> Identity --CanPerform--> bool
//
// いずれの段階も副作用を持たず、入力が不正でもパニックやエラーにはならない。
package authz

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultNamespaces はカスタムクレームの名前空間の既定値（優先順）。
var DefaultNamespaces = []string{
	"https://fifolio.app.com/",
	"https://fifolio.com/",
}

// DefaultRoles はロールクレームが存在しない場合に適用されるロール。
var DefaultRoles = []string{RoleUser}

// Claims は認証プロバイダーが発行したクレームの型付きレコード。
// 標準クレーム以外はExtraにJSONのまま保持する。
type Claims struct {
	Subject string
	Email   string
	Name    string
	Picture string
	Extra   map[string]json.RawMessage
}

// ParseClaims はJSONオブジェクトからClaimsを生成する。
// JSONオブジェクトでない場合のみエラーを返す。
func ParseClaims(data []byte) (Claims, error) {
	var c Claims
	if err := json.Unmarshal(data, &c); err != nil {
		return Claims{}, err
	}
	return c, nil
}

// UnmarshalJSON はJSONオブジェクトをClaimsに変換する。
// 標準クレームが文字列以外の型の場合は未設定として扱う。
func (c *Claims) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("claims must be a JSON object: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("claims must be a JSON object")
	}

	*c = Claims{Extra: make(map[string]json.RawMessage, len(raw))}
	for key, value := range raw {
		switch key {
		case "sub":
			c.Subject = decodeString(value)
		case "email":
			c.Email = decodeString(value)
		case "name":
			c.Name = decodeString(value)
		case "picture":
			c.Picture = decodeString(value)
		default:
			c.Extra[key] = value
		}
	}
	return nil
}

// MarshalJSON はClaimsをJSONオブジェクトに変換する。セッション保存に使用する。
func (c Claims) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Extra)+4)
	for key, value := range c.Extra {
		out[key] = value
	}
	if c.Subject != "" {
		out["sub"] = c.Subject
	}
	if c.Email != "" {
		out["email"] = c.Email
	}
	if c.Name != "" {
		out["name"] = c.Name
	}
	if c.Picture != "" {
		out["picture"] = c.Picture
	}
	return json.Marshal(out)
}

// ClaimPath はロールまたは権限を探索するクレームキーの1つを表す。
type ClaimPath struct {
	Name string // ログ・表示用の名前（例: "namespace[0]", "flat"）
	Key  string // クレームのキー
}

// Extracted はクレーム抽出の結果。
type Extracted struct {
	SubjectID string
	Email     string
	Name      string
	Picture   string

	RawRoles       []string
	RawPermissions []string

	// RolesPath / PermissionsPath は一致したClaimPathの名前。未一致の場合は空。
	RolesPath       string
	PermissionsPath string
}

// RolesFound はロールクレームが見つかったかどうかを返す。
func (x Extracted) RolesFound() bool {
	return x.RolesPath != ""
}

// PermissionsFound は権限クレームが見つかったかどうかを返す。
func (x Extracted) PermissionsFound() bool {
	return x.PermissionsPath != ""
}

// Extractor は優先順位付きのClaimPathリストに従ってクレームを抽出する。
type Extractor struct {
	rolePaths       []ClaimPath
	permissionPaths []ClaimPath
}

// NewExtractor はExtractorを生成する。
// 探索順序は namespaces の順にカスタム名前空間、最後にフラットキー。
// namespacesが空の場合はDefaultNamespacesを使用する。
func NewExtractor(namespaces []string) *Extractor {
	if len(namespaces) == 0 {
		namespaces = DefaultNamespaces
	}
	return &Extractor{
		rolePaths:       buildPaths(namespaces, "roles"),
		permissionPaths: buildPaths(namespaces, "permissions"),
	}
}

func buildPaths(namespaces []string, suffix string) []ClaimPath {
	paths := make([]ClaimPath, 0, len(namespaces)+1)
	for i, ns := range namespaces {
		ns = strings.TrimSpace(ns)
		if ns == "" {
			continue
		}
		paths = append(paths, ClaimPath{
			Name: fmt.Sprintf("namespace[%d]", i),
			Key:  ns + suffix,
		})
	}
	return append(paths, ClaimPath{Name: "flat", Key: suffix})
}

// RolePaths はロールの探索順序を返す。
func (e *Extractor) RolePaths() []ClaimPath {
	return append([]ClaimPath(nil), e.rolePaths...)
}

// PermissionPaths は権限の探索順序を返す。
func (e *Extractor) PermissionPaths() []ClaimPath {
	return append([]ClaimPath(nil), e.permissionPaths...)
}

// Extract はクレームからユーザー情報とロール・権限の生データを抽出する。
// ロールと権限はそれぞれ独立に、最初に空でない文字列配列が得られたパスを採用する。
// いずれも見つからない場合、ロールはDefaultRoles、権限は空集合となる。
func (e *Extractor) Extract(c Claims) Extracted {
	x := Extracted{
		SubjectID: strings.TrimSpace(c.Subject),
		Email:     strings.TrimSpace(c.Email),
		Name:      c.Name,
		Picture:   c.Picture,
	}

	x.RawRoles, x.RolesPath = firstMatch(c.Extra, e.rolePaths)
	if x.RawRoles == nil {
		x.RawRoles = append([]string(nil), DefaultRoles...)
	}

	x.RawPermissions, x.PermissionsPath = firstMatch(c.Extra, e.permissionPaths)
	if x.RawPermissions == nil {
		x.RawPermissions = []string{}
	}

	return x
}

func firstMatch(extra map[string]json.RawMessage, paths []ClaimPath) ([]string, string) {
	for _, p := range paths {
		raw, ok := extra[p.Key]
		if !ok {
			continue
		}
		if values := decodeStringList(raw); len(values) > 0 {
			return values, p.Name
		}
	}
	return nil, ""
}

// decodeStringList はJSON配列から空でない文字列要素だけを取り出す。
// 配列でない値や不正なJSONは空として扱う。
func decodeStringList(raw json.RawMessage) []string {
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	var out []string
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func decodeString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
