package service

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reliefops/crisis-dispatch-api/internal/models"
	appErrors "github.com/reliefops/crisis-dispatch-api/pkg/errors"
)

type memUserRepo struct {
	mu      sync.Mutex
	byEmail map[string]*models.User
	audits  []*models.AuditLog
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byEmail: map[string]*models.User{}}
}

func (r *memUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (r *memUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.byEmail {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *memUserRepo) Create(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == "" {
		user.ID = "user-" + user.Email
	}
	r.byEmail[strings.ToLower(user.Email)] = user
	return nil
}

func (r *memUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, log)
	return nil
}

type bootstrapStub struct {
	seeded []string
}

func (s *bootstrapStub) EnsureExists(ctx context.Context, userID string) error {
	s.seeded = append(s.seeded, userID)
	return nil
}

func newAuthServiceForTest(users *memUserRepo, volunteers *bootstrapStub) *AuthService {
	return NewAuthService(users, volunteers, nil, nil, AuthConfig{
		Secret: "test-secret",
		Expiry: time.Hour,
		Issuer: "crisis-dispatch-api",
	})
}

func TestRegisterAndLoginRoundTrip(t *testing.T) {
	users := newMemUserRepo()
	svc := newAuthServiceForTest(users, &bootstrapStub{})

	registered, err := svc.Register(context.Background(), models.RegisterRequest{
		FullName: "Budi Santoso",
		Email:    "Budi@Example.com",
		Password: "hunter2hunter2",
	})
	require.NoError(t, err)
	require.NotEmpty(t, registered.AccessToken)
	require.Equal(t, models.RoleCivilian, registered.User.Role)
	require.Equal(t, "budi@example.com", registered.User.Email)

	logged, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "budi@example.com",
		Password: "hunter2hunter2",
	})
	require.NoError(t, err)
	require.Equal(t, registered.User.ID, logged.User.ID)
	require.Len(t, users.audits, 1)
	require.Equal(t, models.AuditActionLogin, users.audits[0].Action)
}

func TestRegisterVolunteerSeedsProfile(t *testing.T) {
	bootstrap := &bootstrapStub{}
	svc := newAuthServiceForTest(newMemUserRepo(), bootstrap)

	registered, err := svc.Register(context.Background(), models.RegisterRequest{
		FullName: "Dina",
		Email:    "dina@example.com",
		Password: "hunter2hunter2",
		Role:     models.RoleVolunteer,
	})
	require.NoError(t, err)
	require.Equal(t, []string{registered.User.ID}, bootstrap.seeded)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := newAuthServiceForTest(newMemUserRepo(), &bootstrapStub{})

	req := models.RegisterRequest{FullName: "Budi", Email: "budi@example.com", Password: "hunter2hunter2"}
	_, err := svc.Register(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), req)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	svc := newAuthServiceForTest(newMemUserRepo(), &bootstrapStub{})

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		FullName: "Budi",
		Email:    "budi@example.com",
		Password: "short",
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestLoginWrongPassword(t *testing.T) {
	svc := newAuthServiceForTest(newMemUserRepo(), &bootstrapStub{})

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		FullName: "Budi", Email: "budi@example.com", Password: "hunter2hunter2",
	})
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), models.LoginRequest{
		Email: "budi@example.com", Password: "wrong-password",
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestLoginUnknownEmail(t *testing.T) {
	svc := newAuthServiceForTest(newMemUserRepo(), &bootstrapStub{})

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email: "nobody@example.com", Password: "whatever1",
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestValidateTokenRoundTrip(t *testing.T) {
	svc := newAuthServiceForTest(newMemUserRepo(), &bootstrapStub{})

	registered, err := svc.Register(context.Background(), models.RegisterRequest{
		FullName: "Dina", Email: "dina@example.com", Password: "hunter2hunter2", Role: models.RoleVolunteer,
	})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(registered.AccessToken)
	require.NoError(t, err)
	require.Equal(t, registered.User.ID, claims.UserID)
	require.Equal(t, models.RoleVolunteer, claims.Role)
}

func TestValidateTokenRejectsForgedToken(t *testing.T) {
	issuer := newAuthServiceForTest(newMemUserRepo(), &bootstrapStub{})
	registered, err := issuer.Register(context.Background(), models.RegisterRequest{
		FullName: "Budi", Email: "budi@example.com", Password: "hunter2hunter2",
	})
	require.NoError(t, err)

	other := NewAuthService(newMemUserRepo(), nil, nil, nil, AuthConfig{
		Secret: "different-secret",
		Expiry: time.Hour,
	})
	_, err = other.ValidateToken(registered.AccessToken)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
