package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warden-auth/warden/internal/shared"
)

func guardedRequest(t *testing.T, guard func(http.Handler) http.Handler, identity *shared.Identity) int {
	t.Helper()
	var hit bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if identity != nil {
		req = req.WithContext(shared.ContextWithIdentity(req.Context(), *identity))
	}
	rec := httptest.NewRecorder()
	guard(next).ServeHTTP(rec, req)
	if rec.Code == http.StatusOK && !hit {
		t.Fatal("200 without reaching the handler")
	}
	return rec.Code
}

func TestRequireAnyAdmitsHolder(t *testing.T) {
	store := moderatorFixture()
	svc, _ := newTestService(t, store)
	require.NoError(t, svc.Grant(context.Background(), GrantParams{UserID: 10, RoleID: 2, GrantedBy: 1}))
	mw := Middleware{Service: svc}

	code := guardedRequest(t, mw.RequireAny("content.moderate", "system.config"), &shared.Identity{UserID: 10})
	require.Equal(t, http.StatusOK, code)
}

func TestRequireAnyDeniesAnonymous(t *testing.T) {
	store := moderatorFixture()
	svc, _ := newTestService(t, store)
	mw := Middleware{Service: svc}

	code := guardedRequest(t, mw.RequireAny("content.moderate"), nil)
	require.Equal(t, http.StatusForbidden, code)
}

func TestRequireAnyDeniesWithoutPermission(t *testing.T) {
	store := moderatorFixture()
	svc, _ := newTestService(t, store)
	require.NoError(t, svc.Grant(context.Background(), GrantParams{UserID: 10, RoleID: 1, GrantedBy: 1}))
	mw := Middleware{Service: svc}

	code := guardedRequest(t, mw.RequireAny("system.config"), &shared.Identity{UserID: 10})
	require.Equal(t, http.StatusForbidden, code)
}

func TestRequireAllNeedsEveryPermission(t *testing.T) {
	store := moderatorFixture()
	svc, _ := newTestService(t, store)
	require.NoError(t, svc.Grant(context.Background(), GrantParams{UserID: 10, RoleID: 2, GrantedBy: 1}))
	mw := Middleware{Service: svc}

	code := guardedRequest(t, mw.RequireAll("profile.read", "content.moderate"), &shared.Identity{UserID: 10})
	require.Equal(t, http.StatusOK, code)

	code = guardedRequest(t, mw.RequireAll("profile.read", "system.config"), &shared.Identity{UserID: 10})
	require.Equal(t, http.StatusForbidden, code)
}

func TestGuardDeniesWhenStoreDown(t *testing.T) {
	store := moderatorFixture()
	svc, _ := newTestService(t, store)
	require.NoError(t, svc.Grant(context.Background(), GrantParams{UserID: 10, RoleID: 2, GrantedBy: 1}))

	store.mu.Lock()
	store.failReads = ErrStoreUnavailable
	store.mu.Unlock()
	svc.InvalidateAll()

	mw := Middleware{Service: svc}
	code := guardedRequest(t, mw.RequireAny("content.moderate"), &shared.Identity{UserID: 10})
	require.Equal(t, http.StatusForbidden, code)
}
