package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/todoman/internal/model"
)

// PostgresTodoRepo はPostgreSQLを使用したタスクリポジトリ。
//
// 本人スコープの参照は制限付き接続の読み取り専用トランザクション内で
// app.current_user_id を設定してから実行し、行レベルセキュリティを適用する。
// 書き込みと管理者スコープの参照は特権接続を使用する。
type PostgresTodoRepo struct {
	privileged *sql.DB
	restricted TxBeginner
}

// NewPostgresTodoRepo はPostgresTodoRepoを生成する。
// restrictedがnilの場合は特権接続を使用する。
func NewPostgresTodoRepo(privileged *sql.DB, restricted TxBeginner) *PostgresTodoRepo {
	if restricted == nil {
		restricted = privileged
	}
	return &PostgresTodoRepo{privileged: privileged, restricted: restricted}
}

const todoColumns = `id, user_id, title, completed, is_deleted, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTodo(row rowScanner) (*model.Todo, error) {
	t := &model.Todo{}
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Completed, &t.IsDeleted, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func scanTodos(rows *sql.Rows) ([]*model.Todo, error) {
	defer rows.Close()

	todos := make([]*model.Todo, 0)
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, err
		}
		todos = append(todos, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return todos, nil
}

// withUserScope は制限付き接続で読み取り専用トランザクションを開始し、
// トランザクションローカルに app.current_user_id を設定してfnを実行する。
func (r *PostgresTodoRepo) withUserScope(ctx context.Context, userID string, fn func(tx *sql.Tx) error) error {
	tx, err := r.restricted.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT set_config('app.current_user_id', $1, true)`, userID); err != nil {
		return fmt.Errorf("set user scope: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// FindByID は指定IDのタスクを取得する。見つからない場合や論理削除済みの場合はnilを返す。
func (r *PostgresTodoRepo) FindByID(ctx context.Context, id string) (*model.Todo, error) {
	todo, err := scanTodo(r.privileged.QueryRowContext(ctx,
		`SELECT `+todoColumns+` FROM todos WHERE id = $1 AND is_deleted = false`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError("find todo", err)
	}
	return todo, nil
}

// ListByUser は本人スコープでタスク一覧をcreated_at降順で返す。
func (r *PostgresTodoRepo) ListByUser(ctx context.Context, userID string) ([]*model.Todo, error) {
	var todos []*model.Todo
	err := r.withUserScope(ctx, userID, func(tx *sql.Tx) error {
		// 制限付き接続が特権接続と共用の場合はRLSが効かないため、条件でも絞り込む
		rows, err := tx.QueryContext(ctx,
			`SELECT `+todoColumns+` FROM todos
			 WHERE user_id = $1 AND is_deleted = false
			 ORDER BY created_at DESC, id`,
			userID,
		)
		if err != nil {
			return err
		}
		todos, err = scanTodos(rows)
		return err
	})
	if err != nil {
		return nil, wrapStoreError("list todos", err)
	}
	return todos, nil
}

// ListAll は全ユーザー（またはownerFilterのユーザー）のタスク一覧をcreated_at降順で返す。
func (r *PostgresTodoRepo) ListAll(ctx context.Context, ownerFilter string) ([]*model.Todo, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if ownerFilter == "" {
		rows, err = r.privileged.QueryContext(ctx,
			`SELECT `+todoColumns+` FROM todos
			 WHERE is_deleted = false
			 ORDER BY created_at DESC, id`,
		)
	} else {
		rows, err = r.privileged.QueryContext(ctx,
			`SELECT `+todoColumns+` FROM todos
			 WHERE user_id = $1 AND is_deleted = false
			 ORDER BY created_at DESC, id`,
			ownerFilter,
		)
	}
	if err != nil {
		return nil, wrapStoreError("list all todos", err)
	}

	todos, err := scanTodos(rows)
	if err != nil {
		return nil, wrapStoreError("scan todos", err)
	}
	return todos, nil
}

// Create はタスクを作成する。completedはfalse、IDとタイムスタンプはDBが採番する。
func (r *PostgresTodoRepo) Create(ctx context.Context, userID, title string) (*model.Todo, error) {
	todo, err := scanTodo(r.privileged.QueryRowContext(ctx,
		`INSERT INTO todos (user_id, title) VALUES ($1, $2) RETURNING `+todoColumns,
		userID, title,
	))
	if err != nil {
		return nil, wrapStoreError("create todo", err)
	}
	return todo, nil
}

// Toggle は完了状態を単一のUPDATE文で反転する。
func (r *PostgresTodoRepo) Toggle(ctx context.Context, id string) (*model.Todo, error) {
	return r.updateOne(ctx, "toggle todo",
		`UPDATE todos SET completed = NOT completed, updated_at = now()
		 WHERE id = $1 AND is_deleted = false
		 RETURNING `+todoColumns,
		id,
	)
}

// SetCompleted は完了状態を指定値に設定する。
func (r *PostgresTodoRepo) SetCompleted(ctx context.Context, id string, completed bool) (*model.Todo, error) {
	return r.updateOne(ctx, "set todo completed",
		`UPDATE todos SET completed = $2, updated_at = now()
		 WHERE id = $1 AND is_deleted = false
		 RETURNING `+todoColumns,
		id, completed,
	)
}

// SoftDelete はタスクを論理削除する。物理削除は行わない。
func (r *PostgresTodoRepo) SoftDelete(ctx context.Context, id string) (*model.Todo, error) {
	return r.updateOne(ctx, "delete todo",
		`UPDATE todos SET is_deleted = true, updated_at = now()
		 WHERE id = $1 AND is_deleted = false
		 RETURNING `+todoColumns,
		id,
	)
}

func (r *PostgresTodoRepo) updateOne(ctx context.Context, op, query string, args ...any) (*model.Todo, error) {
	todo, err := scanTodo(r.privileged.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError(op, err)
	}
	return todo, nil
}

// Stats は集計値と直近更新のタスクを返す。
// userIDが空の場合は特権接続で全ユーザーを、それ以外は本人スコープで集計する。
func (r *PostgresTodoRepo) Stats(ctx context.Context, userID string, recentLimit int) (*model.TodoStats, error) {
	stats := &model.TodoStats{}

	collect := func(q interface {
		QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
		QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	}) error {
		// userIDが空の場合、$1の条件は常に真になる
		err := q.QueryRowContext(ctx,
			`SELECT count(*), count(*) FILTER (WHERE completed)
			 FROM todos
			 WHERE is_deleted = false AND ($1 = '' OR user_id::text = $1)`,
			userID,
		).Scan(&stats.TotalTasks, &stats.CompletedTasks)
		if err != nil {
			return err
		}

		rows, err := q.QueryContext(ctx,
			`SELECT `+todoColumns+` FROM todos
			 WHERE is_deleted = false AND ($1 = '' OR user_id::text = $1)
			 ORDER BY updated_at DESC, id
			 LIMIT $2`,
			userID, recentLimit,
		)
		if err != nil {
			return err
		}
		stats.RecentActivity, err = scanTodos(rows)
		return err
	}

	var err error
	if userID == "" {
		err = collect(r.privileged)
	} else {
		err = r.withUserScope(ctx, userID, func(tx *sql.Tx) error { return collect(tx) })
	}
	if err != nil {
		return nil, wrapStoreError("aggregate todo stats", err)
	}

	stats.CompletionRate = model.CompletionRate(stats.CompletedTasks, stats.TotalTasks)
	return stats, nil
}

// compile-time interface check
var _ TodoRepository = (*PostgresTodoRepo)(nil)
