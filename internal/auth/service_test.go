package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kursus/internal/common"
	"github.com/noah-isme/backend-kursus/internal/store"
)

type stubUsers struct {
	byEmail map[string]store.User
	byID    map[uuid.UUID]store.User
}

func newStubUsers() *stubUsers {
	return &stubUsers{byEmail: map[string]store.User{}, byID: map[uuid.UUID]store.User{}}
}

func (s *stubUsers) CreateUser(_ context.Context, u store.User) error {
	if _, ok := s.byEmail[u.Email]; ok {
		return &pgconn.PgError{Code: "23505"}
	}
	s.byEmail[u.Email] = u
	s.byID[u.ID] = u
	return nil
}

func (s *stubUsers) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	u, ok := s.byEmail[email]
	if !ok {
		return store.User{}, store.ErrNoRows
	}
	return u, nil
}

func (s *stubUsers) GetUserByID(_ context.Context, id uuid.UUID) (store.User, error) {
	u, ok := s.byID[id]
	if !ok {
		return store.User{}, store.ErrNoRows
	}
	return u, nil
}

func newTestAuth(t *testing.T) (*Service, *stubUsers) {
	t.Helper()
	users := newStubUsers()
	svc, err := NewService(Config{Queries: users, Secret: "test-secret", AccessTokenTTL: time.Hour})
	require.NoError(t, err)
	svc.WithNow(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) })
	return svc, users
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestAuth(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Ana", "ANA@Example.com", "correct-horse", common.RoleInstructor)
	require.NoError(t, err)
	require.Equal(t, "ana@example.com", user.Email)
	require.Equal(t, common.RoleInstructor, user.Role)

	result, err := svc.Login(ctx, "ana@example.com", "correct-horse")
	require.NoError(t, err)
	require.NotEmpty(t, result.AccessToken)

	userID, role, err := svc.ParseAccessToken(result.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID.String(), userID)
	require.Equal(t, common.RoleInstructor, role)
}

func TestRegisterDefaultsToStudent(t *testing.T) {
	svc, _ := newTestAuth(t)
	user, err := svc.Register(context.Background(), "Bo", "bo@example.com", "long-enough", "")
	require.NoError(t, err)
	require.Equal(t, common.RoleStudent, user.Role)
}

func TestRegisterRejectsAdminRole(t *testing.T) {
	svc, _ := newTestAuth(t)
	_, err := svc.Register(context.Background(), "Bo", "bo@example.com", "long-enough", common.RoleAdmin)
	require.Error(t, err)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestAuth(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, "Ana", "ana@example.com", "correct-horse", "")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "Ana Again", "ana@example.com", "correct-horse", "")
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "EMAIL_ALREADY_USED", appErr.Code)
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newTestAuth(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, "Ana", "ana@example.com", "correct-horse", "")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "ana@example.com", "wrong-password")
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "INVALID_CREDENTIALS", appErr.Code)
}

func TestParseExpiredToken(t *testing.T) {
	svc, _ := newTestAuth(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, "Ana", "ana@example.com", "correct-horse", "")
	require.NoError(t, err)
	result, err := svc.Login(ctx, "ana@example.com", "correct-horse")
	require.NoError(t, err)

	svc.WithNow(func() time.Time { return time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC) })
	_, _, err = svc.ParseAccessToken(result.AccessToken)
	require.Error(t, err)
}

func TestRequireRole(t *testing.T) {
	svc, _ := newTestAuth(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, "Stu", "stu@example.com", "correct-horse", common.RoleStudent)
	require.NoError(t, err)
	result, err := svc.Login(ctx, "stu@example.com", "correct-horse")
	require.NoError(t, err)

	mw := Middleware{Service: svc}
	handler := mw.RequireRole(common.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+result.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	ok := mw.RequireRole(common.RoleStudent, common.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, found := common.UserID(r.Context())
		require.True(t, found)
		require.NotEmpty(t, id)
		w.WriteHeader(http.StatusOK)
	}))
	rec = httptest.NewRecorder()
	ok.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuthMissingToken(t *testing.T) {
	svc, _ := newTestAuth(t)
	mw := Middleware{Service: svc}
	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
