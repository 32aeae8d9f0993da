package middleware

import (
	"context"

	"github.com/hitoshi/todoman/internal/authz"
	"github.com/hitoshi/todoman/internal/model"
)

// --- モック定義 ---

type mockIdentityResolver struct {
	fromSessionFn func(ctx context.Context, sessionID string) (authz.Identity, error)
	fromBearerFn  func(ctx context.Context, token string) (authz.Identity, error)
}

func (m *mockIdentityResolver) IdentityFromSession(ctx context.Context, sessionID string) (authz.Identity, error) {
	if m.fromSessionFn != nil {
		return m.fromSessionFn(ctx, sessionID)
	}
	return authz.Identity{}, model.NewUnauthenticatedError()
}

func (m *mockIdentityResolver) IdentityFromBearer(ctx context.Context, token string) (authz.Identity, error) {
	if m.fromBearerFn != nil {
		return m.fromBearerFn(ctx, token)
	}
	return authz.Identity{}, model.NewUnauthenticatedError()
}

// sessionResolver は指定したセッションIDのみを受け付けるリゾルバーを返す。
func sessionResolver(sessionID, userID string) *mockIdentityResolver {
	return &mockIdentityResolver{
		fromSessionFn: func(ctx context.Context, id string) (authz.Identity, error) {
			if id != sessionID {
				return authz.Identity{}, model.NewUnauthenticatedError()
			}
			return testIdentity(userID), nil
		},
	}
}

func testIdentity(userID string) authz.Identity {
	return authz.Resolve(authz.Extracted{SubjectID: "auth0|" + userID}).WithUserID(userID)
}
