package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/todoman/internal/authz"
	"github.com/hitoshi/todoman/internal/middleware"
	"github.com/hitoshi/todoman/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	getLoginURLFn    func(state string) string
	logoutURLFn      func(returnTo string) string
	handleCallbackFn func(ctx context.Context, code string) (*model.Session, error)
	logoutFn         func(ctx context.Context, sessionID string) error
	currentUserFn    func(ctx context.Context, userID string) (*model.User, error)
	syncUserFn       func(ctx context.Context, id authz.Identity) (*model.User, error)
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "https://tenant.auth0.com/authorize?state=" + state
}

func (m *mockAuthService) LogoutURL(returnTo string) string {
	if m.logoutURLFn != nil {
		return m.logoutURLFn(returnTo)
	}
	return "https://tenant.auth0.com/v2/logout?returnTo=" + returnTo
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	if m.currentUserFn != nil {
		return m.currentUserFn(ctx, userID)
	}
	return nil, model.NewUserNotFoundError()
}

func (m *mockAuthService) SyncUser(ctx context.Context, id authz.Identity) (*model.User, error) {
	if m.syncUserFn != nil {
		return m.syncUserFn(ctx, id)
	}
	return &model.User{ID: id.UserID, Auth0ID: id.SubjectID}, nil
}

type mockTodoService struct {
	listFn         func(ctx context.Context, actor authz.Identity, filterUserID string) ([]todoResponse, error)
	addFn          func(ctx context.Context, actor authz.Identity, title, targetUserID string) (*todoResponse, error)
	toggleFn       func(ctx context.Context, actor authz.Identity, todoID string) (*todoResponse, error)
	setCompletedFn func(ctx context.Context, actor authz.Identity, todoID string, completed bool) (*todoResponse, error)
	softDeleteFn   func(ctx context.Context, actor authz.Identity, todoID string) (*todoResponse, error)
	statsFn        func(ctx context.Context, actor authz.Identity) (*statsResponse, error)
}

func (m *mockTodoService) List(ctx context.Context, actor authz.Identity, filterUserID string) ([]todoResponse, error) {
	if m.listFn != nil {
		return m.listFn(ctx, actor, filterUserID)
	}
	return []todoResponse{}, nil
}

func (m *mockTodoService) Add(ctx context.Context, actor authz.Identity, title, targetUserID string) (*todoResponse, error) {
	if m.addFn != nil {
		return m.addFn(ctx, actor, title, targetUserID)
	}
	return &todoResponse{ID: "new", UserID: actor.UserID, Title: title}, nil
}

func (m *mockTodoService) Toggle(ctx context.Context, actor authz.Identity, todoID string) (*todoResponse, error) {
	if m.toggleFn != nil {
		return m.toggleFn(ctx, actor, todoID)
	}
	return &todoResponse{ID: todoID}, nil
}

func (m *mockTodoService) SetCompleted(ctx context.Context, actor authz.Identity, todoID string, completed bool) (*todoResponse, error) {
	if m.setCompletedFn != nil {
		return m.setCompletedFn(ctx, actor, todoID, completed)
	}
	return &todoResponse{ID: todoID, Completed: completed}, nil
}

func (m *mockTodoService) SoftDelete(ctx context.Context, actor authz.Identity, todoID string) (*todoResponse, error) {
	if m.softDeleteFn != nil {
		return m.softDeleteFn(ctx, actor, todoID)
	}
	return &todoResponse{ID: todoID, IsDeleted: true}, nil
}

func (m *mockTodoService) Stats(ctx context.Context, actor authz.Identity) (*statsResponse, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx, actor)
	}
	return &statsResponse{RecentActivity: []todoResponse{}}, nil
}

// staticIdentityResolver はセッションID・トークンごとに固定のIdentityを返す。
type staticIdentityResolver struct {
	sessions map[string]authz.Identity
	tokens   map[string]authz.Identity
}

func (s *staticIdentityResolver) IdentityFromSession(ctx context.Context, sessionID string) (authz.Identity, error) {
	if id, ok := s.sessions[sessionID]; ok {
		return id, nil
	}
	return authz.Identity{}, model.NewUnauthenticatedError()
}

func (s *staticIdentityResolver) IdentityFromBearer(ctx context.Context, token string) (authz.Identity, error) {
	if id, ok := s.tokens[token]; ok {
		return id, nil
	}
	return authz.Identity{}, model.NewUnauthenticatedError()
}

// --- ヘルパー ---

func identityWithRoles(userID string, roles ...string) authz.Identity {
	return authz.Resolve(authz.Extracted{
		SubjectID: "auth0|" + userID,
		Email:     userID + "@example.com",
		RawRoles:  roles,
	}).WithUserID(userID)
}

// withIdentity はIdentityミドルウェアを通過した状態のリクエストを返す。
func withIdentity(r *http.Request, id authz.Identity) *http.Request {
	return r.WithContext(middleware.ContextWithIdentity(r.Context(), id))
}
