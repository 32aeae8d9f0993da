package model

import (
	"math"
	"time"
)

// Todo はユーザーが所有するタスクを表す。
// 削除は論理削除（IsDeleted）で行い、レコードは保持する。
type Todo struct {
	ID        string
	UserID    string
	Title     string
	Completed bool
	IsDeleted bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TodoStats はダッシュボード用の集計値を表す。
type TodoStats struct {
	TotalTasks     int
	CompletedTasks int
	// CompletionRate は完了率（%、四捨五入）。タスクが0件の場合は0。
	CompletionRate int
	RecentActivity []*Todo
}

// CompletionRate は完了率を0〜100の整数（四捨五入）で返す。totalが0以下の場合は0。
func CompletionRate(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}
