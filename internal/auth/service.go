// Package auth provides registration, login and JWT-based request
// authentication carrying the marketplace role (ADMIN / INSTRUCTOR /
// STUDENT).
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-kursus/internal/common"
	"github.com/noah-isme/backend-kursus/internal/store"
)

const defaultAccessTTL = 15 * time.Minute

const roleClaim = "role"

// Querier is the slice of the user store the auth service needs.
type Querier interface {
	CreateUser(ctx context.Context, u store.User) error
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (store.User, error)
}

// Service coordinates credential checks and token issuance.
type Service struct {
	queries   Querier
	secret    []byte
	accessTTL time.Duration
	issuer    string
	signer    jwa.SignatureAlgorithm
	now       func() time.Time
}

// Config configures the auth service.
type Config struct {
	Queries        Querier
	Secret         string
	AccessTokenTTL time.Duration
	Issuer         string
}

// User is the safe subset of the user model returned to clients.
type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// LoginResult bundles the token material returned after a successful login.
type LoginResult struct {
	User         User      `json:"user"`
	AccessToken  string    `json:"access_token"`
	AccessExpiry time.Time `json:"access_expires_at"`
}

// NewService constructs a Service with sane defaults.
func NewService(cfg Config) (*Service, error) {
	if cfg.Queries == nil {
		return nil, errors.New("auth: queries is required")
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "backend-kursus"
	}
	return &Service{
		queries:   cfg.Queries,
		secret:    []byte(secret),
		accessTTL: accessTTL,
		issuer:    issuer,
		signer:    jwa.HS256,
		now:       time.Now,
	}, nil
}

// WithNow allows tests to override the time provider.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Register creates a new user. Role defaults to STUDENT; ADMIN accounts are
// provisioned out of band.
func (s *Service) Register(ctx context.Context, name, email, password, role string) (User, error) {
	if strings.TrimSpace(name) == "" {
		return User{}, common.NewAppError("VALIDATION_ERROR", "name is required", http.StatusBadRequest, nil)
	}
	normalizedEmail := strings.TrimSpace(strings.ToLower(email))
	if normalizedEmail == "" {
		return User{}, common.NewAppError("VALIDATION_ERROR", "email is required", http.StatusBadRequest, nil)
	}
	if len(password) < 8 {
		return User{}, common.NewAppError("VALIDATION_ERROR", "password must be at least 8 characters", http.StatusBadRequest, nil)
	}
	switch role {
	case common.RoleStudent, common.RoleInstructor:
	case "":
		role = common.RoleStudent
	default:
		return User{}, common.NewAppError("VALIDATION_ERROR", "role must be STUDENT or INSTRUCTOR", http.StatusBadRequest, nil)
	}

	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	u := store.User{
		ID:           uuid.New(),
		Email:        normalizedEmail,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.now(),
	}
	if err := s.queries.CreateUser(ctx, u); err != nil {
		if store.IsUniqueViolation(err) {
			return User{}, common.NewAppError("EMAIL_ALREADY_USED", "email is already registered", http.StatusConflict, err)
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return toUser(u), nil
}

// Login verifies credentials and issues an access token carrying the role.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	normalizedEmail := strings.TrimSpace(strings.ToLower(email))
	if normalizedEmail == "" || password == "" {
		return LoginResult{}, invalidCredentials(nil)
	}
	u, err := s.queries.GetUserByEmail(ctx, normalizedEmail)
	if err != nil {
		return LoginResult{}, invalidCredentials(err)
	}
	ok, err := argon2id.ComparePasswordAndHash(password, u.PasswordHash)
	if err != nil || !ok {
		return LoginResult{}, invalidCredentials(err)
	}
	token, expiry, err := s.signAccessToken(u.ID.String(), u.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("sign access token: %w", err)
	}
	return LoginResult{User: toUser(u), AccessToken: token, AccessExpiry: expiry}, nil
}

// Me loads the user behind an authenticated request.
func (s *Service) Me(ctx context.Context, userID uuid.UUID) (User, error) {
	u, err := s.queries.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return User{}, common.NewAppError("UNAUTHORIZED", "user not found", http.StatusUnauthorized, err)
		}
		return User{}, err
	}
	return toUser(u), nil
}

// ParseAccessToken validates a token and returns the subject and role claims.
func (s *Service) ParseAccessToken(token string) (userID, role string, err error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return "", "", common.NewAppError("UNAUTHORIZED", "missing token", http.StatusUnauthorized, nil)
	}
	parsed, err := jwt.ParseString(trimmed,
		jwt.WithKey(s.signer, s.secret),
		jwt.WithIssuer(s.issuer),
		jwt.WithClock(jwt.ClockFunc(s.now)),
		jwt.WithValidate(true),
	)
	if err != nil {
		return "", "", common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
	}
	claim, ok := parsed.Get(roleClaim)
	if !ok {
		return "", "", common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, errors.New("auth: role claim missing"))
	}
	role, ok = claim.(string)
	if !ok || role == "" {
		return "", "", common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, errors.New("auth: role claim malformed"))
	}
	return parsed.Subject(), role, nil
}

func (s *Service) signAccessToken(userID, role string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.accessTTL)
	token, err := jwt.NewBuilder().
		Subject(userID).
		Issuer(s.issuer).
		IssuedAt(now).
		Expiration(expiresAt).
		Claim(roleClaim, role).
		Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(s.signer, s.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

func invalidCredentials(err error) *common.AppError {
	return common.NewAppError("INVALID_CREDENTIALS", "invalid email or password", http.StatusUnauthorized, err)
}

func toUser(u store.User) User {
	return User{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role, CreatedAt: u.CreatedAt}
}
