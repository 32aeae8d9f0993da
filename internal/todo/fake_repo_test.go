package todo

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/repository"
)

// memoryTodoRepo はテスト用のインメモリTodoRepository。
type memoryTodoRepo struct {
	mu    sync.Mutex
	todos map[string]*model.Todo
	clock time.Time

	// err が設定されている場合、全操作がこのエラーを返す
	err error

	// 呼び出し記録
	listByUserCalls []string
	listAllCalls    []string
	findCalls       int
	statsScopes     []string
}

func newMemoryTodoRepo() *memoryTodoRepo {
	return &memoryTodoRepo{
		todos: make(map[string]*model.Todo),
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (r *memoryTodoRepo) tick() time.Time {
	r.clock = r.clock.Add(time.Second)
	return r.clock
}

func clone(t *model.Todo) *model.Todo {
	c := *t
	return &c
}

func (r *memoryTodoRepo) sorted(match func(*model.Todo) bool, less func(a, b *model.Todo) bool) []*model.Todo {
	out := make([]*model.Todo, 0)
	for _, t := range r.todos {
		if !t.IsDeleted && match(t) {
			out = append(out, clone(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func byCreatedDesc(a, b *model.Todo) bool { return a.CreatedAt.After(b.CreatedAt) }
func byUpdatedDesc(a, b *model.Todo) bool { return a.UpdatedAt.After(b.UpdatedAt) }

func (r *memoryTodoRepo) FindByID(ctx context.Context, id string) (*model.Todo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findCalls++
	if r.err != nil {
		return nil, r.err
	}
	t, ok := r.todos[id]
	if !ok || t.IsDeleted {
		return nil, nil
	}
	return clone(t), nil
}

func (r *memoryTodoRepo) ListByUser(ctx context.Context, userID string) ([]*model.Todo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listByUserCalls = append(r.listByUserCalls, userID)
	if r.err != nil {
		return nil, r.err
	}
	return r.sorted(func(t *model.Todo) bool { return t.UserID == userID }, byCreatedDesc), nil
}

func (r *memoryTodoRepo) ListAll(ctx context.Context, ownerFilter string) ([]*model.Todo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listAllCalls = append(r.listAllCalls, ownerFilter)
	if r.err != nil {
		return nil, r.err
	}
	return r.sorted(func(t *model.Todo) bool { return ownerFilter == "" || t.UserID == ownerFilter }, byCreatedDesc), nil
}

func (r *memoryTodoRepo) Create(ctx context.Context, userID, title string) (*model.Todo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	now := r.tick()
	t := &model.Todo{ID: uuid.NewString(), UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	r.todos[t.ID] = t
	return clone(t), nil
}

func (r *memoryTodoRepo) update(id string, fn func(t *model.Todo)) (*model.Todo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	t, ok := r.todos[id]
	if !ok || t.IsDeleted {
		return nil, nil
	}
	fn(t)
	t.UpdatedAt = r.tick()
	return clone(t), nil
}

func (r *memoryTodoRepo) Toggle(ctx context.Context, id string) (*model.Todo, error) {
	return r.update(id, func(t *model.Todo) { t.Completed = !t.Completed })
}

func (r *memoryTodoRepo) SetCompleted(ctx context.Context, id string, completed bool) (*model.Todo, error) {
	return r.update(id, func(t *model.Todo) { t.Completed = completed })
}

func (r *memoryTodoRepo) SoftDelete(ctx context.Context, id string) (*model.Todo, error) {
	return r.update(id, func(t *model.Todo) { t.IsDeleted = true })
}

func (r *memoryTodoRepo) Stats(ctx context.Context, userID string, recentLimit int) (*model.TodoStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statsScopes = append(r.statsScopes, userID)
	if r.err != nil {
		return nil, r.err
	}
	match := func(t *model.Todo) bool { return userID == "" || t.UserID == userID }

	stats := &model.TodoStats{}
	for _, t := range r.sorted(match, byCreatedDesc) {
		stats.TotalTasks++
		if t.Completed {
			stats.CompletedTasks++
		}
	}
	recent := r.sorted(match, byUpdatedDesc)
	if len(recent) > recentLimit {
		recent = recent[:recentLimit]
	}
	stats.RecentActivity = recent
	stats.CompletionRate = model.CompletionRate(stats.CompletedTasks, stats.TotalTasks)
	return stats, nil
}

var _ repository.TodoRepository = (*memoryTodoRepo)(nil)

// mockUserLookup はテスト用のUserLookup。
type mockUserLookup struct {
	users map[string]*model.User
	err   error
}

func (m *mockUserLookup) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.users[id], nil
}

var errStoreDown = errors.New("store down")
