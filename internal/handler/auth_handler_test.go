package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/reliefops/crisis-dispatch-api/internal/middleware"
	"github.com/reliefops/crisis-dispatch-api/internal/models"
	"github.com/reliefops/crisis-dispatch-api/internal/service"
	"github.com/reliefops/crisis-dispatch-api/pkg/response"
)

type userRepoMock struct {
	byEmail map[string]*models.User
	audits  int
}

func newUserRepoMock() *userRepoMock {
	return &userRepoMock{byEmail: map[string]*models.User{}}
}

func (r *userRepoMock) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	user, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (r *userRepoMock) FindByID(ctx context.Context, id string) (*models.User, error) {
	for _, user := range r.byEmail {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *userRepoMock) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = "user-1"
	}
	r.byEmail[strings.ToLower(user.Email)] = user
	return nil
}

func (r *userRepoMock) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	r.audits++
	return nil
}

func newAuthRouter(t *testing.T) (*gin.Engine, *userRepoMock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := newUserRepoMock()
	svc := service.NewAuthService(users, nil, nil, nil, service.AuthConfig{
		Secret: "test-secret",
		Expiry: time.Hour,
		Issuer: "crisis-dispatch-api",
	})
	h := NewAuthHandler(svc)

	r := gin.New()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.GET("/users/me", middleware.JWT(svc), h.Me)
	return r, users
}

func performJSON(r *gin.Engine, method, path string, payload interface{}, token string) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if payload != nil {
		_ = json.NewEncoder(&body).Encode(payload)
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthHandlerRegisterLoginMe(t *testing.T) {
	router, users := newAuthRouter(t)

	w := performJSON(router, http.MethodPost, "/auth/register", models.RegisterRequest{
		FullName: "Budi Santoso",
		Email:    "budi@example.com",
		Password: "hunter2hunter2",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code)

	var registered struct {
		Data models.AuthResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &registered))
	require.NotEmpty(t, registered.Data.AccessToken)

	w = performJSON(router, http.MethodPost, "/auth/login", models.LoginRequest{
		Email:    "budi@example.com",
		Password: "hunter2hunter2",
	}, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, users.audits)

	w = performJSON(router, http.MethodGet, "/users/me", nil, registered.Data.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)

	var me struct {
		Data models.UserInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	require.Equal(t, "budi@example.com", me.Data.Email)
}

func TestAuthHandlerMeRequiresToken(t *testing.T) {
	router, _ := newAuthRouter(t)

	w := performJSON(router, http.MethodGet, "/users/me", nil, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	require.Equal(t, "UNAUTHORIZED", envelope.Error.Code)
}

func TestAuthHandlerRejectsMalformedPayload(t *testing.T) {
	router, _ := newAuthRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{not-json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
