package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/ireporter/internal/models"
	"github.com/noah-isme/ireporter/internal/repository"
	appErrors "github.com/noah-isme/ireporter/pkg/errors"
)

type mockAuthRepo struct {
	users             map[string]*models.User
	createErr         error
	updatePasswordErr error
	lastLoginUpdated  bool
	promoted          []string
}

func newMockAuthRepo(users ...*models.User) *mockAuthRepo {
	m := &mockAuthRepo{users: make(map[string]*models.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) Create(ctx context.Context, user *models.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	if user.ID == "" {
		user.ID = "new-" + user.Email
	}
	m.users[user.ID] = user
	return nil
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if m.updatePasswordErr != nil {
		return m.updatePasswordErr
	}
	if u, ok := m.users[id]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

func (m *mockAuthRepo) PromoteToAdmin(ctx context.Context, id string) error {
	m.promoted = append(m.promoted, id)
	if u, ok := m.users[id]; ok {
		u.Role = models.RoleAdmin
	}
	return nil
}

type recordingAudit struct {
	logs []*models.AuditEntry
}

func (r *recordingAudit) Append(ctx context.Context, entry *models.AuditEntry) error {
	r.logs = append(r.logs, entry)
	return nil
}

type memoryRevoker struct {
	revoked map[string]time.Duration
}

func (m *memoryRevoker) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if m.revoked == nil {
		m.revoked = make(map[string]time.Duration)
	}
	m.revoked[jti] = ttl
	return nil
}

func (m *memoryRevoker) IsRevoked(ctx context.Context, jti string) bool {
	_, ok := m.revoked[jti]
	return ok
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func newTestAuthService(repo *mockAuthRepo, audit *recordingAudit, revoker *memoryRevoker) *AuthService {
	var a auditLogger
	if audit != nil {
		a = audit
	}
	var r TokenRevoker
	if revoker != nil {
		r = revoker
	}
	return NewAuthService(repo, a, r, validator.New(), zap.NewNop(), AuthConfig{AccessTokenSecret: "secret", AccessTokenExpiry: time.Hour, Issuer: "ireporter"})
}

func TestAuthServiceSignupCreatesCitizen(t *testing.T) {
	repo := newMockAuthRepo()
	audit := &recordingAudit{}
	svc := newTestAuthService(repo, audit, nil)

	info, err := svc.Signup(context.Background(), models.SignupRequest{FirstName: " Ada ", LastName: "Obi", Email: "ada@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleCitizen, info.Role)
	assert.Equal(t, "Ada", info.FirstName)
	stored := repo.users[info.ID]
	require.NotNil(t, stored)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("secret1")))
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionSignup, audit.logs[0].Action)
}

func TestAuthServiceSignupRejectsShortPasswordAndDuplicates(t *testing.T) {
	repo := newMockAuthRepo()
	svc := newTestAuthService(repo, nil, nil)

	_, err := svc.Signup(context.Background(), models.SignupRequest{FirstName: "A", LastName: "B", Email: "a@example.com", Password: "123"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.Code(err))

	repo.createErr = repository.ErrDuplicateEmail
	_, err = svc.Signup(context.Background(), models.SignupRequest{FirstName: "A", LastName: "B", Email: "a@example.com", Password: "123456"})
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	repo := newMockAuthRepo(&models.User{ID: "123", Email: "user@example.com", PasswordHash: hashed(t, "password"), Active: true, Role: models.RoleAdmin, FirstName: "Grace"})
	svc := newTestAuthService(repo, nil, nil)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, models.RoleAdmin, res.Role)
	assert.Equal(t, "Grace", res.User.FirstName)
	assert.Equal(t, int64(3600), res.ExpiresIn)
	assert.True(t, repo.lastLoginUpdated)
}

func TestAuthServiceLoginFailures(t *testing.T) {
	repo := newMockAuthRepo(
		&models.User{ID: "1", Email: "inactive@example.com", PasswordHash: hashed(t, "password"), Active: false},
		&models.User{ID: "2", Email: "user@example.com", PasswordHash: hashed(t, "password"), Active: true},
	)
	svc := newTestAuthService(repo, nil, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "inactive@example.com", Password: "password"})
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.Code(err))

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "wrong"})
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.Code(err))

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "nobody@example.com", Password: "password"})
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.Code(err))
}

func TestAuthServiceLogoutRevokesToken(t *testing.T) {
	repo := newMockAuthRepo(&models.User{ID: "u1", Email: "user@example.com", PasswordHash: hashed(t, "password"), Active: true, Role: models.RoleCitizen})
	revoker := &memoryRevoker{}
	svc := newTestAuthService(repo, nil, revoker)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)
	claims, err := svc.ValidateToken(context.Background(), res.AccessToken)
	require.NoError(t, err)
	require.NotEmpty(t, claims.ID)

	require.NoError(t, svc.Logout(context.Background(), claims, models.LoginRequest{}))
	assert.Greater(t, revoker.revoked[claims.ID], time.Duration(0))

	_, err = svc.ValidateToken(context.Background(), res.AccessToken)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.Code(err))
}

func TestAuthServiceMe(t *testing.T) {
	repo := newMockAuthRepo(&models.User{ID: "u1", Email: "user@example.com", Active: true, Role: models.RoleCitizen, FirstName: "Ada", LastName: "Obi"})
	svc := newTestAuthService(repo, nil, nil)

	info, err := svc.Me(context.Background(), &models.JWTClaims{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "Obi", info.LastName)

	_, err = svc.Me(context.Background(), &models.JWTClaims{UserID: "gone"})
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.Code(err))
}

func TestAuthServiceChangePassword(t *testing.T) {
	oldHash := hashed(t, "oldpass")
	repo := newMockAuthRepo(&models.User{ID: "u1", PasswordHash: oldHash, Active: true})
	svc := newTestAuthService(repo, nil, nil)

	err := svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{OldPassword: "oldpass", NewPassword: "newpassword", ConfirmPassword: "newpassword"})
	require.NoError(t, err)
	assert.NotEqual(t, oldHash, repo.users["u1"].PasswordHash)

	err = svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{OldPassword: "newpassword", NewPassword: "another1", ConfirmPassword: "different"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.Code(err))

	err = svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{OldPassword: "wrong", NewPassword: "another1", ConfirmPassword: "another1"})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	repo := newMockAuthRepo()
	svc := newTestAuthService(repo, nil, nil)
	user := &models.User{ID: "u1", Email: "user@example.com", Role: models.RoleAdmin}
	token, _, err := svc.generateAccessToken(user)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)

	other := NewAuthService(repo, nil, nil, nil, nil, AuthConfig{AccessTokenSecret: "other"})
	_, err = other.ValidateToken(context.Background(), token)
	assert.Error(t, err)
}

func TestEnsureAdmin(t *testing.T) {
	repo := newMockAuthRepo(&models.User{ID: "u1", Email: "citizen@example.com", Role: models.RoleCitizen, Active: true})
	svc := newTestAuthService(repo, nil, nil)

	require.NoError(t, svc.EnsureAdmin(context.Background(), "citizen@example.com", "pw"))
	assert.Equal(t, []string{"u1"}, repo.promoted)

	require.NoError(t, svc.EnsureAdmin(context.Background(), "root@example.com", "rootpass"))
	created, err := repo.FindByEmail(context.Background(), "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, created.Role)

	require.NoError(t, svc.EnsureAdmin(context.Background(), "", ""))
}
