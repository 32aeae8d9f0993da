package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitoshi/todoman/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, auth0_id, email, name, picture, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(&u.ID, &u.Auth0ID, &u.Email, &u.Name, &u.Picture, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError("find user by ID", err)
	}
	return user, nil
}

// FindByAuth0ID は認証プロバイダーのsubjectでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByAuth0ID(ctx context.Context, auth0ID string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE auth0_id = $1`,
		auth0ID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError("find user by auth0 ID", err)
	}
	return user, nil
}

// Upsert はauth0_idをキーにユーザーを作成または更新する。
// 同一subjectで何度呼び出しても1行のみ存在する。
// email・name・pictureは空でない値のみ既存の値を上書きする。
func (r *PostgresUserRepo) Upsert(ctx context.Context, user *model.User) (*model.User, error) {
	saved, err := scanUser(r.db.QueryRowContext(ctx,
		`INSERT INTO users (auth0_id, email, name, picture)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (auth0_id) DO UPDATE SET
			email      = COALESCE(NULLIF(EXCLUDED.email, ''), users.email),
			name       = COALESCE(NULLIF(EXCLUDED.name, ''), users.name),
			picture    = COALESCE(NULLIF(EXCLUDED.picture, ''), users.picture),
			updated_at = now()
		 RETURNING `+userColumns,
		user.Auth0ID, user.Email, user.Name, user.Picture,
	))
	if err != nil {
		return nil, wrapStoreError("upsert user", err)
	}
	return saved, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
