package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, AnonKey: "anon", ServiceKey: "service"})
}

func TestSignUp(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/signup", r.URL.Path)
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "amina@example.com", body["email"])
		assert.Equal(t, "youth", body["data"].(map[string]any)["role"])
		_, _ = w.Write([]byte(`{"user":{"id":"prov-1","email":"amina@example.com"}}`))
	})

	u, err := c.SignUp(context.Background(), "amina@example.com", "secret123", map[string]any{"name": "Amina", "role": "youth"})
	require.NoError(t, err)
	assert.Equal(t, "prov-1", u.ID)
}

func TestVerifyOTPRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"msg":"Token has expired or is invalid"}`))
	})

	_, err := c.VerifyOTP(context.Background(), OTPSignup, "", "abc")
	require.Error(t, err)
	apiErr, ok := Rejected(err)
	require.True(t, ok)
	assert.Equal(t, "Token has expired or is invalid", apiErr.Message)
}

func TestServerErrorIsNotRejection(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	err := c.ResendSignup(context.Background(), "a@example.com")
	require.Error(t, err)
	_, ok := Rejected(err)
	assert.False(t, ok)
}

func TestUpdatePasswordUsesServiceKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/auth/v1/admin/users/prov-1", r.URL.Path)
		assert.Equal(t, "Bearer service", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, c.UpdatePassword(context.Background(), "prov-1", "newpass123"))
}

func TestRecoverRedirect(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "http://localhost:3000/reset-password", r.URL.Query().Get("redirect_to"))
	})
	require.NoError(t, c.Recover(context.Background(), "a@example.com", "http://localhost:3000/reset-password"))
}

func TestLookups(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/v1/chat_rooms":
			assert.Equal(t, "eq.room-1", r.URL.Query().Get("id"))
			_, _ = w.Write([]byte(`[{"task_id":"task-9"}]`))
		case "/rest/v1/chat_users":
			_, _ = w.Write([]byte(`[]`))
		}
	})

	task, err := c.RoomTask(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, "task-9", task)

	uid, err := c.ChatUserInternalID(context.Background(), "chat-user-1")
	require.NoError(t, err)
	assert.Empty(t, uid)
}

func TestInsertRealtimeEvent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/realtime_events", r.URL.Path)
		assert.Equal(t, "return=minimal", r.Header.Get("Prefer"))
		var rows []map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rows))
		require.Len(t, rows, 1)
		assert.Equal(t, "task:created", rows[0]["type"])
		assert.Nil(t, rows[0]["target_user_id"])
		w.WriteHeader(http.StatusCreated)
	})
	require.NoError(t, c.InsertRealtimeEvent(context.Background(), "task:created", "t1", nil, map[string]any{"title": "Fix tap"}))
}

func TestNotConfigured(t *testing.T) {
	c := New(Config{})
	err := c.ResendSignup(context.Background(), "a@example.com")
	assert.True(t, errors.Is(err, ErrNotConfigured))
}
