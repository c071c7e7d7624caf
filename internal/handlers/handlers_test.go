package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazilink/kazilink-api/internal/models"
	"github.com/kazilink/kazilink-api/internal/realtime"
	"github.com/kazilink/kazilink-api/internal/repository/memory"
	"github.com/kazilink/kazilink-api/internal/services/chatsync"
	"github.com/kazilink/kazilink-api/internal/services/identity"
	"github.com/kazilink/kazilink-api/internal/services/tasks"
	"github.com/kazilink/kazilink-api/internal/session"
	"github.com/kazilink/kazilink-api/internal/utils"
)

const testSecret = "test-secret"

type fakeIDP struct {
	mu             sync.Mutex
	signups        map[string]string // email -> provider id
	passwordSynced []string
}

func (f *fakeIDP) SignUp(_ context.Context, email, _ string, _ map[string]any) (*identity.ProviderUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "prov-" + email
	f.signups[email] = id
	return &identity.ProviderUser{ID: id, Email: email}, nil
}

func (f *fakeIDP) VerifyOTP(_ context.Context, _ identity.OTPType, email, token string) (*identity.ProviderUser, error) {
	if token != "123456" {
		return nil, &identity.APIError{Status: http.StatusBadRequest, Message: "Token has expired or is invalid"}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &identity.ProviderUser{ID: f.signups[email], Email: email}, nil
}

func (f *fakeIDP) ResendSignup(context.Context, string) error { return nil }

func (f *fakeIDP) Recover(context.Context, string, string) error { return nil }

func (f *fakeIDP) UpdatePassword(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passwordSynced = append(f.passwordSynced, id)
	return nil
}

type testApp struct {
	app   *fiber.App
	store *memory.Store
	gw    *session.Gateway
	idp   *fakeIDP
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	store := memory.NewStore()
	gw := session.NewGateway(session.NewLocalSession(testSecret, 60), store)
	idp := &fakeIDP{signups: map[string]string{}}
	manager := tasks.NewManager(store, store, realtime.Discard{}, nil)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(nil)})
	Routes{
		Gateway: gw,
		Auth:    &AuthHandler{Users: store, Gateway: gw, IDP: idp, Expires: 60, FrontendBaseURL: "http://localhost:3000"},
		Tasks:   NewTaskHandler(manager),
		Admin:   &AdminHandler{Users: store, Tasks: manager},
		Chat:    &ChatSyncHandler{Sync: chatsync.NewService(store, store, nil, nil), Secret: "hook"},
	}.Mount(app)

	return &testApp{app: app, store: store, gw: gw, idp: idp}
}

// user creates a verified, active account and returns it with a bearer token.
func (a *testApp) user(t *testing.T, name string, role models.Role) (*models.User, string) {
	t.Helper()
	hash, err := utils.HashPassword("secret123")
	require.NoError(t, err)
	u := &models.User{Name: name, Email: name + "@example.com", Role: role, PasswordHash: hash, IsEmailVerified: true}
	require.NoError(t, a.store.CreateUser(context.Background(), u))
	token, err := a.gw.Issue(u)
	require.NoError(t, err)
	return u, token
}

type envelope struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Error   string              `json:"error"`
	Code    string              `json:"code"`
	Errors  map[string][]string `json:"errors"`
	Data    json.RawMessage     `json:"data"`
}

func (a *testApp) do(t *testing.T, method, path string, body any, token string, headers ...string) (*http.Response, envelope) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = bytes.NewBufferString(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(t, err)
			rd = bytes.NewReader(raw)
		}
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env envelope
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp, env
}

func TestProtectedRoutesRequireCredential(t *testing.T) {
	a := newTestApp(t)
	routes := []struct{ method, path string }{
		{http.MethodGet, "/api/auth/me"},
		{http.MethodPut, "/api/auth/me"},
		{http.MethodPost, "/api/tasks"},
		{http.MethodPatch, "/api/tasks/00000000-0000-0000-0000-000000000001/accept"},
		{http.MethodPatch, "/api/tasks/00000000-0000-0000-0000-000000000001/complete"},
		{http.MethodDelete, "/api/tasks/00000000-0000-0000-0000-000000000001"},
		{http.MethodGet, "/api/admin/users"},
		{http.MethodGet, "/api/admin/stats"},
		{http.MethodGet, "/api/chatsync/tasks/00000000-0000-0000-0000-000000000001/messages"},
	}
	for _, r := range routes {
		t.Run(r.method+" "+r.path, func(t *testing.T) {
			resp, env := a.do(t, r.method, r.path, nil, "")
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.False(t, env.Success)
			assert.Equal(t, "auth_required", env.Code)
			assert.NotEmpty(t, env.Error)
		})
	}
}

func TestInvalidCredentialsShareOneMessage(t *testing.T) {
	a := newTestApp(t)
	u, _ := a.user(t, "caro", models.RoleClient)
	expired, err := utils.SignJWT(testSecret, u.ID.String(), string(u.Role), -5)
	require.NoError(t, err)
	forged, err := utils.SignJWT("other", u.ID.String(), string(u.Role), 60)
	require.NoError(t, err)

	var messages []string
	for _, tok := range []string{"garbage", expired, forged} {
		resp, env := a.do(t, http.MethodGet, "/api/auth/me", nil, tok)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "invalid_credential", env.Code)
		messages = append(messages, env.Error)
	}
	assert.Equal(t, messages[0], messages[1])
	assert.Equal(t, messages[0], messages[2])
}

func TestCookieCarrier(t *testing.T) {
	a := newTestApp(t)
	_, token := a.user(t, "caro", models.RoleClient)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: token})
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminRoutesRejectNonAdmins(t *testing.T) {
	a := newTestApp(t)
	_, client := a.user(t, "caro", models.RoleClient)
	_, youth := a.user(t, "yusuf", models.RoleYouth)
	_, admin := a.user(t, "ada", models.RoleAdmin)

	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/admin/users"},
		{http.MethodGet, "/api/admin/tasks"},
		{http.MethodGet, "/api/admin/stats"},
		{http.MethodPatch, "/api/admin/users/00000000-0000-0000-0000-000000000001/deactivate"},
		{http.MethodDelete, "/api/admin/tasks/00000000-0000-0000-0000-000000000001"},
	}
	for _, p := range paths {
		for _, tok := range []string{client, youth} {
			resp, env := a.do(t, p.method, p.path, nil, tok)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode, p.path)
			assert.Equal(t, "admin_required", env.Code)
		}
	}

	resp, _ := a.do(t, http.MethodGet, "/api/admin/users", nil, admin)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegisterVerifyLogin(t *testing.T) {
	a := newTestApp(t)

	resp, env := a.do(t, http.MethodPost, "/api/auth/register", map[string]any{
		"name": "Yusuf", "email": "Yusuf@Example.com", "password": "secret123", "role": "youth",
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, env.Error)

	resp, env = a.do(t, http.MethodPost, "/api/auth/register", map[string]any{
		"name": "Again", "email": "yusuf@example.com", "password": "secret123",
	}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, env.Errors, "email")

	resp, env = a.do(t, http.MethodPost, "/api/auth/login", map[string]any{"email": "yusuf@example.com", "password": "secret123"}, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "email_not_verified", env.Code)

	resp, _ = a.do(t, http.MethodGet, "/api/auth/verify?token=000000&email=yusuf@example.com", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = a.do(t, http.MethodGet, "/api/auth/verify?token=123456&email=yusuf@example.com", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, env = a.do(t, http.MethodPost, "/api/auth/login", map[string]any{"email": "yusuf@example.com", "password": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, env = a.do(t, http.MethodPost, "/api/auth/login", map[string]any{"email": "yusuf@example.com", "password": "secret123"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var data struct {
		Token string          `json:"token"`
		User  models.UserView `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.NotEmpty(t, data.Token)
	assert.Equal(t, models.RoleYouth, data.User.Role)
	assert.True(t, data.User.IsEmailVerified)
	assert.NotContains(t, string(env.Data), "password")

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == session.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, 3600, cookie.MaxAge)

	resp, _ = a.do(t, http.MethodGet, "/api/auth/me", nil, data.Token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestResetPasswordSyncsProvider(t *testing.T) {
	a := newTestApp(t)
	resp, _ := a.do(t, http.MethodPost, "/api/auth/register", map[string]any{
		"name": "Caro", "email": "caro@example.com", "password": "secret123",
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = a.do(t, http.MethodPost, "/api/auth/reset-password", map[string]any{
		"email": "caro@example.com", "token": "123456", "newPassword": "brandnew1",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"prov-caro@example.com"}, a.idp.passwordSynced)

	u, err := a.store.GetUserByEmail(context.Background(), "caro@example.com")
	require.NoError(t, err)
	assert.True(t, utils.CheckPassword(u.PasswordHash, "brandnew1"))
}

func TestUpdateMe(t *testing.T) {
	a := newTestApp(t)
	_, token := a.user(t, "yusuf", models.RoleYouth)

	resp, env := a.do(t, http.MethodPut, "/api/auth/me", map[string]any{"skills": "plumbing, wiring ,", "bio": "Handy"}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode, env.Error)
	var v models.UserView
	require.NoError(t, json.Unmarshal(env.Data, &v))
	assert.Equal(t, []string{"plumbing", "wiring"}, v.Skills)
	assert.Equal(t, "Handy", v.Bio)

	long := string(bytes.Repeat([]byte("a"), models.MaxBioLength+1))
	resp, env = a.do(t, http.MethodPut, "/api/auth/me", map[string]any{"bio": long}, token)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, env.Errors, "bio")
}

func TestDeactivatedAccountIsRejected(t *testing.T) {
	a := newTestApp(t)
	u, token := a.user(t, "caro", models.RoleClient)
	_, admin := a.user(t, "ada", models.RoleAdmin)

	resp, _ := a.do(t, http.MethodPatch, "/api/admin/users/"+u.ID.String()+"/deactivate", nil, admin)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, env := a.do(t, http.MethodGet, "/api/auth/me", nil, token)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "account_inactive", env.Code)

	resp, env = a.do(t, http.MethodPost, "/api/auth/login", map[string]any{"email": u.Email, "password": "secret123"}, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "account_inactive", env.Code)

	resp, _ = a.do(t, http.MethodPatch, "/api/admin/users/"+u.ID.String()+"/activate", nil, admin)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = a.do(t, http.MethodGet, "/api/auth/me", nil, token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTaskFlowOverHTTP(t *testing.T) {
	a := newTestApp(t)
	client, clientTok := a.user(t, "caro", models.RoleClient)
	youth, youthTok := a.user(t, "yusuf", models.RoleYouth)
	_, adminTok := a.user(t, "ada", models.RoleAdmin)

	resp, env := a.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"title": "Fix tap", "description": "Kitchen tap leaks", "price": 500, "location": "Nairobi", "skills": []string{"plumbing"},
	}, youthTok)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, env = a.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"title": "Fix tap", "description": "Kitchen tap leaks", "price": 500, "location": "Nairobi", "skills": []string{"plumbing"},
	}, clientTok)
	require.Equal(t, http.StatusCreated, resp.StatusCode, env.Error)
	var task models.TaskView
	require.NoError(t, json.Unmarshal(env.Data, &task))
	assert.Equal(t, models.TaskOpen, task.Status)
	assert.Equal(t, client.ID, task.Client.ID)
	base := "/api/tasks/" + task.ID.String()

	resp, _ = a.do(t, http.MethodPatch, base+"/accept", nil, youthTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, env = a.do(t, http.MethodPatch, base+"/accept", nil, youthTok)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_applied", env.Code)

	resp, env = a.do(t, http.MethodGet, base, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(env.Data, &task))
	require.Len(t, task.Applicants, 1)
	assert.Equal(t, youth.ID, task.Applicants[0].ID)

	resp, env = a.do(t, http.MethodPatch, base+"/accept-applicant", map[string]any{"applicantId": client.ID.String()}, clientTok)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "not_an_applicant", env.Code)

	resp, env = a.do(t, http.MethodPatch, base+"/accept-applicant", map[string]any{"applicantId": youth.ID.String()}, clientTok)
	require.Equal(t, http.StatusOK, resp.StatusCode, env.Error)
	require.NoError(t, json.Unmarshal(env.Data, &task))
	assert.Equal(t, models.TaskAssigned, task.Status)
	assert.Equal(t, youth.ID, task.AssignedTo.ID)

	resp, env = a.do(t, http.MethodPatch, base, map[string]any{"price": 900}, clientTok)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "task_not_open", env.Code)

	resp, _ = a.do(t, http.MethodDelete, base, nil, clientTok)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = a.do(t, http.MethodPatch, base+"/complete", nil, youthTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, env = a.do(t, http.MethodPatch, base+"/complete", nil, youthTok)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "task_not_assigned", env.Code)

	resp, env = a.do(t, http.MethodGet, "/api/tasks?status=completed&assignedTo="+youth.ID.String(), nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []models.TaskView
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)

	resp, env = a.do(t, http.MethodGet, "/api/tasks?status=done", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, env.Errors, "status")

	resp, env = a.do(t, http.MethodGet, "/api/admin/stats", nil, adminTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats models.Stats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.EqualValues(t, 1, stats.CompletedTasks)
	assert.Equal(t, 100.0, stats.CompletionRate)

	resp, _ = a.do(t, http.MethodDelete, "/api/admin/tasks/"+task.ID.String(), nil, adminTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, env = a.do(t, http.MethodGet, base, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "task_not_found", env.Code)

	u, err := a.store.GetUser(context.Background(), youth.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, u.CompletedTasks)
}

func TestTaskValidation(t *testing.T) {
	a := newTestApp(t)
	_, clientTok := a.user(t, "caro", models.RoleClient)

	resp, env := a.do(t, http.MethodPost, "/api/tasks", map[string]any{"title": "", "price": -3}, clientTok)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_failed", env.Code)
	assert.Contains(t, env.Errors, "title")
	assert.Contains(t, env.Errors, "price")

	resp, env = a.do(t, http.MethodGet, "/api/tasks/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "task_not_found", env.Code)

	resp, env = a.do(t, http.MethodGet, "/api/nowhere", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", env.Code)
}

func TestChatWebhook(t *testing.T) {
	a := newTestApp(t)
	body := `{"record":{"id":"msg-1","room_id":"r","sender_id":"s","message":"hello"}}`

	resp, env := a.do(t, http.MethodPost, "/api/chatsync/webhook", body, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "auth_required", env.Code)

	for i := 0; i < 2; i++ {
		resp, env = a.do(t, http.MethodPost, "/api/chatsync/webhook", body, "", "X-Webhook-Secret", "hook")
		require.Equal(t, http.StatusOK, resp.StatusCode, env.Error)
	}
	var out struct {
		Created bool `json:"created"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.False(t, out.Created)

	stored, err := a.store.ListByTask(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	resp, env = a.do(t, http.MethodPost, "/api/chatsync/webhook", `{"old":{}}`, "", "X-Webhook-Secret", "hook")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	a := newTestApp(t)
	resp, env := a.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)
}
