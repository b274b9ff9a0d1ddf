package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"auth-starter/internal/domain"
	"auth-starter/internal/repository"
	"auth-starter/internal/service"
)

type mockUserRepo struct {
	mu           sync.Mutex
	usersByID    map[string]domain.User
	usersByEmail map[string]string
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		usersByID:    make(map[string]domain.User),
		usersByEmail: make(map[string]string),
	}
}

func (m *mockUserRepo) Create(_ context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.usersByEmail[user.Email]; exists {
		return repository.ErrDuplicateEmail
	}
	m.usersByID[user.ID] = user
	m.usersByEmail[user.Email] = user.ID
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[id]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	m.mu.Lock()
	id, ok := m.usersByEmail[email]
	m.mu.Unlock()
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return m.GetByID(ctx, id)
}

func (m *mockUserRepo) SetVerified(_ context.Context, id string, verifiedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.Verified = true
	user.UpdatedAt = verifiedAt
	m.usersByID[id] = user
	return nil
}

func (m *mockUserRepo) SetPasswordHash(_ context.Context, id, hash string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.PasswordHash = hash
	user.UpdatedAt = updatedAt
	m.usersByID[id] = user
	return nil
}

func (m *mockUserRepo) SetName(_ context.Context, id, firstName, lastName string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.FirstName = firstName
	user.LastName = lastName
	user.UpdatedAt = updatedAt
	m.usersByID[id] = user
	return nil
}

func (m *mockUserRepo) SetActive(_ context.Context, id string, active bool, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.Active = active
	user.UpdatedAt = updatedAt
	m.usersByID[id] = user
	return nil
}

func (m *mockUserRepo) List(_ context.Context) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]domain.User, 0, len(m.usersByID))
	for _, u := range m.usersByID {
		users = append(users, u)
	}
	return users, nil
}

type mockTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]domain.Token
}

func newMockTokenRepo() *mockTokenRepo {
	return &mockTokenRepo{tokens: make(map[string]domain.Token)}
}

func tokenKey(kind domain.TokenKind, digest string) string {
	return string(kind) + "|" + digest
}

func (m *mockTokenRepo) Insert(_ context.Context, token domain.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tokenKey(token.Kind, token.Digest)] = token
	return nil
}

func (m *mockTokenRepo) GetByDigest(_ context.Context, kind domain.TokenKind, digest string) (domain.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[tokenKey(kind, digest)]
	if !ok {
		return domain.Token{}, pgx.ErrNoRows
	}
	return token, nil
}

func (m *mockTokenRepo) ConsumeByDigest(_ context.Context, kind domain.TokenKind, digest string, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tokenKey(kind, digest)
	token, ok := m.tokens[key]
	if !ok || token.Consumed || token.Revoked || !now.Before(token.ExpiresAt) {
		return "", pgx.ErrNoRows
	}
	token.Consumed = true
	m.tokens[key] = token
	return token.UserID, nil
}

func (m *mockTokenRepo) RevokeByDigest(_ context.Context, kind domain.TokenKind, digest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tokenKey(kind, digest)
	if token, ok := m.tokens[key]; ok {
		token.Revoked = true
		m.tokens[key] = token
	}
	return nil
}

func (m *mockTokenRepo) InvalidateForUser(_ context.Context, kind domain.TokenKind, userID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, token := range m.tokens {
		if token.Kind != kind || token.UserID != userID {
			continue
		}
		if !now.Before(token.ExpiresAt) {
			delete(m.tokens, key)
			continue
		}
		token.Consumed = true
		m.tokens[key] = token
	}
	return nil
}

func (m *mockTokenRepo) RevokeSessionsForUser(_ context.Context, userID, exceptDigest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, token := range m.tokens {
		if token.Kind != domain.TokenKindSession || token.UserID != userID {
			continue
		}
		if token.Digest == exceptDigest {
			continue
		}
		token.Revoked = true
		m.tokens[key] = token
	}
	return nil
}

func (m *mockTokenRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, token := range m.tokens {
		if !now.Before(token.ExpiresAt) {
			delete(m.tokens, key)
			n++
		}
	}
	return n, nil
}

type mockEmailSender struct {
	mu          sync.Mutex
	verifyToken string
	resetToken  string
	resetCount  int
}

func (m *mockEmailSender) SendWelcome(_ context.Context, _ string, _ string) error {
	return nil
}

func (m *mockEmailSender) SendVerification(_ context.Context, _ string, token string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifyToken = token
	return nil
}

func (m *mockEmailSender) SendPasswordReset(_ context.Context, _ string, token string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetToken = token
	m.resetCount++
	return nil
}

func (m *mockEmailSender) resetMails() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetCount
}

func (m *mockEmailSender) lastVerifyToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verifyToken
}

func (m *mockEmailSender) lastResetToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetToken
}

func newTestRouter() (*gin.Engine, *mockEmailSender) {
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	sender := &mockEmailSender{}
	ledger := service.NewTokenLedger(newMockTokenRepo())
	hasher := service.NewBcryptHasher(bcrypt.MinCost)
	limiter := service.NewRateLimiter(time.Minute, 100)
	authSvc := service.NewAuthService(logger, newMockUserRepo(), ledger, hasher, sender, limiter, service.AuthServiceOptions{})
	authH := NewAuthHandler(logger, authSvc)

	return NewRouter(logger, authH, authSvc), sender
}

func doJSON(t *testing.T, router *gin.Engine, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func doForm(t *testing.T, router *gin.Engine, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthEndToEnd(t *testing.T) {
	router, sender := newTestRouter()

	// register
	w := doJSON(t, router, http.MethodPost, "/auth/v1/register", "", gin.H{
		"email":      "a@a.com",
		"password":   "pw",
		"first_name": "A",
		"last_name":  "A",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d (%s)", w.Code, w.Body.String())
	}

	// request-verify-token reemite el token
	w = doJSON(t, router, http.MethodPost, "/auth/v1/request-verify-token", "", gin.H{"email": "a@a.com"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("request-verify-token: expected 202, got %d", w.Code)
	}
	token := sender.lastVerifyToken()
	if token == "" {
		t.Fatalf("expected verification token delivered")
	}

	// login antes de verificar falla
	w = doForm(t, router, "/auth/v1/login", url.Values{"username": {"a@a.com"}, "password": {"pw"}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unverified login: expected 400, got %d", w.Code)
	}

	// verify
	w = doJSON(t, router, http.MethodPost, "/auth/v1/verify", "", gin.H{"token": token, "email": "a@a.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	// login devuelve el credencial bearer
	w = doForm(t, router, "/auth/v1/login", url.Values{"username": {"a@a.com"}, "password": {"pw"}})
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	var loginResp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &loginResp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if loginResp.AccessToken == "" || loginResp.TokenType != "bearer" {
		t.Fatalf("unexpected login response: %+v", loginResp)
	}

	// perfil autenticado
	w = doJSON(t, router, http.MethodGet, "/auth/v1/users/me", loginResp.AccessToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", w.Code)
	}
	var me domain.User
	if err := json.Unmarshal(w.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode me response: %v", err)
	}
	if me.Email != "a@a.com" || me.FirstName != "A" || !me.Verified {
		t.Fatalf("unexpected profile: %+v", me)
	}
	if strings.Contains(w.Body.String(), "password") {
		t.Fatalf("profile must not serialize password material")
	}

	// logout y reuso del mismo bearer
	w = doJSON(t, router, http.MethodPost, "/auth/v1/logout", loginResp.AccessToken, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", w.Code)
	}
	w = doJSON(t, router, http.MethodGet, "/auth/v1/users/me", loginResp.AccessToken, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("me after logout: expected 401, got %d", w.Code)
	}
}

func TestRegisterDuplicateEmailConflict(t *testing.T) {
	router, _ := newTestRouter()

	body := gin.H{"email": "a@a.com", "password": "pw", "first_name": "A", "last_name": "A"}
	if w := doJSON(t, router, http.MethodPost, "/auth/v1/register", "", body); w.Code != http.StatusCreated {
		t.Fatalf("first register: expected 201, got %d", w.Code)
	}
	if w := doJSON(t, router, http.MethodPost, "/auth/v1/register", "", body); w.Code != http.StatusConflict {
		t.Fatalf("second register: expected 409, got %d", w.Code)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	router, _ := newTestRouter()

	w := doForm(t, router, "/auth/v1/login", url.Values{"username": {"nobody@a.com"}, "password": {"pw"}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestForgotPasswordIndistinguishable(t *testing.T) {
	router, sender := newTestRouter()

	w := doJSON(t, router, http.MethodPost, "/auth/v1/register", "", gin.H{
		"email": "a@a.com", "password": "pw", "first_name": "A", "last_name": "A",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", w.Code)
	}

	known := doJSON(t, router, http.MethodPost, "/auth/v1/forgot-password", "", gin.H{"email": "a@a.com"})
	unknown := doJSON(t, router, http.MethodPost, "/auth/v1/forgot-password", "", gin.H{"email": "nobody@a.com"})
	if known.Code != http.StatusAccepted || unknown.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for both, got %d and %d", known.Code, unknown.Code)
	}
	if known.Body.String() != unknown.Body.String() {
		t.Fatalf("responses must be indistinguishable")
	}
	if sender.lastResetToken() == "" {
		t.Fatalf("expected reset token delivered for the known account")
	}
}

func TestForgotPasswordAlwaysAcceptedAtRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	sender := &mockEmailSender{}
	ledger := service.NewTokenLedger(newMockTokenRepo())
	hasher := service.NewBcryptHasher(bcrypt.MinCost)
	// ventana y máximo por defecto de producción
	limiter := service.NewRateLimiter(10*time.Minute, 3)
	authSvc := service.NewAuthService(logger, newMockUserRepo(), ledger, hasher, sender, limiter, service.AuthServiceOptions{})
	router := NewRouter(logger, NewAuthHandler(logger, authSvc), authSvc)

	w := doJSON(t, router, http.MethodPost, "/auth/v1/register", "", gin.H{
		"email": "a@a.com", "password": "pw", "first_name": "A", "last_name": "A",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", w.Code)
	}

	var first *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		w := doJSON(t, router, http.MethodPost, "/auth/v1/forgot-password", "", gin.H{"email": "a@a.com"})
		if w.Code != http.StatusAccepted {
			t.Fatalf("request %d: expected 202, got %d", i+1, w.Code)
		}
		if first == nil {
			first = w
		} else if w.Body.String() != first.Body.String() {
			t.Fatalf("request %d: body must not reveal the limit", i+1)
		}
	}
	// por encima del límite no sale correo
	if sender.resetMails() != 3 {
		t.Fatalf("expected 3 reset mails, got %d", sender.resetMails())
	}
}

func TestResetPasswordFlow(t *testing.T) {
	router, sender := newTestRouter()

	w := doJSON(t, router, http.MethodPost, "/auth/v1/register", "", gin.H{
		"email": "a@a.com", "password": "pw", "first_name": "A", "last_name": "A",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", w.Code)
	}
	w = doJSON(t, router, http.MethodPost, "/auth/v1/verify", "", gin.H{"token": sender.lastVerifyToken(), "email": "a@a.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d", w.Code)
	}

	w = doJSON(t, router, http.MethodPost, "/auth/v1/forgot-password", "", gin.H{"email": "a@a.com"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("forgot: expected 202, got %d", w.Code)
	}
	token := sender.lastResetToken()

	w = doJSON(t, router, http.MethodPost, "/auth/v1/reset-password", "", gin.H{"token": token, "password": "newpw"})
	if w.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	// token consumido
	w = doJSON(t, router, http.MethodPost, "/auth/v1/reset-password", "", gin.H{"token": token, "password": "again"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("reset replay: expected 400, got %d", w.Code)
	}

	if w := doForm(t, router, "/auth/v1/login", url.Values{"username": {"a@a.com"}, "password": {"pw"}}); w.Code != http.StatusBadRequest {
		t.Fatalf("old password: expected 400, got %d", w.Code)
	}
	if w := doForm(t, router, "/auth/v1/login", url.Values{"username": {"a@a.com"}, "password": {"newpw"}}); w.Code != http.StatusOK {
		t.Fatalf("new password: expected 200, got %d", w.Code)
	}
}

func TestChangePasswordViaPatch(t *testing.T) {
	router, sender := newTestRouter()

	w := doJSON(t, router, http.MethodPost, "/auth/v1/register", "", gin.H{
		"email": "a@a.com", "password": "pw", "first_name": "A", "last_name": "A",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", w.Code)
	}
	w = doJSON(t, router, http.MethodPost, "/auth/v1/verify", "", gin.H{"token": sender.lastVerifyToken(), "email": "a@a.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d", w.Code)
	}

	w = doForm(t, router, "/auth/v1/login", url.Values{"username": {"a@a.com"}, "password": {"pw"}})
	var loginResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &loginResp); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	w = doJSON(t, router, http.MethodPatch, "/auth/v1/users/me", loginResp.AccessToken, gin.H{"password": "changed"})
	if w.Code != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	// la sesión que hizo el cambio sigue viva
	if w := doJSON(t, router, http.MethodGet, "/auth/v1/users/me", loginResp.AccessToken, nil); w.Code != http.StatusOK {
		t.Fatalf("me after change: expected 200, got %d", w.Code)
	}
	if w := doForm(t, router, "/auth/v1/login", url.Values{"username": {"a@a.com"}, "password": {"changed"}}); w.Code != http.StatusOK {
		t.Fatalf("login with changed password: expected 200, got %d", w.Code)
	}
}

func TestBearerMiddlewareRejectsGarbage(t *testing.T) {
	router, _ := newTestRouter()

	if w := doJSON(t, router, http.MethodGet, "/auth/v1/users/me", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing header: expected 401, got %d", w.Code)
	}
	if w := doJSON(t, router, http.MethodGet, "/auth/v1/users/me", "not-a-token", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("bogus token: expected 401, got %d", w.Code)
	}
}
