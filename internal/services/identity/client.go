// Package identity talks to the external identity provider: account signup,
// OTP verification, recovery mail, admin password updates, and the small
// REST tables the provider hosts for chat and realtime events.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

type Client struct {
	HTTP       *http.Client
	BaseURL    string
	AnonKey    string
	ServiceKey string
}

type Config struct {
	BaseURL    string
	AnonKey    string
	ServiceKey string
	Timeout    time.Duration
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		HTTP:       &http.Client{Timeout: cfg.Timeout},
		BaseURL:    cfg.BaseURL,
		AnonKey:    cfg.AnonKey,
		ServiceKey: cfg.ServiceKey,
	}
}

var ErrNotConfigured = errors.New("identity provider not configured")

// APIError is a non-2xx answer from the provider.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("identity provider: %d %s", e.Status, e.Message)
}

// Rejected reports whether err is the provider refusing the request (4xx),
// as opposed to being unreachable or failing.
func Rejected(err error) (*APIError, bool) {
	var e *APIError
	if errors.As(err, &e) && e.Status >= 400 && e.Status < 500 {
		return e, true
	}
	return nil, false
}

type ProviderUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// do sends body as JSON and decodes a 2xx response into out (when non-nil).
// admin selects the service key instead of the anon key.
func (c *Client) do(ctx context.Context, method, path string, admin bool, body, out any, header http.Header) error {
	if c.BaseURL == "" {
		return ErrNotConfigured
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	key := c.AnonKey
	if admin {
		key = c.ServiceKey
	}
	req.Header.Set("apikey", key)
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func errorMessage(raw []byte, fallback string) string {
	var e struct {
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
		Error            string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil {
		for _, m := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
			if m != "" {
				return m
			}
		}
	}
	return fallback
}

// SignUp creates the provider account and triggers the verification mail.
func (c *Client) SignUp(ctx context.Context, email, password string, meta map[string]any) (*ProviderUser, error) {
	body := map[string]any{"email": email, "password": password, "data": meta}
	var out struct {
		ProviderUser
		User *ProviderUser `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/signup", false, body, &out, nil); err != nil {
		return nil, err
	}
	if out.User != nil {
		return out.User, nil
	}
	return &out.ProviderUser, nil
}

type OTPType string

const (
	OTPSignup   OTPType = "signup"
	OTPRecovery OTPType = "recovery"
)

// VerifyOTP confirms an emailed token and returns the account it belongs to.
func (c *Client) VerifyOTP(ctx context.Context, typ OTPType, email, token string) (*ProviderUser, error) {
	body := map[string]any{"type": typ, "token": token}
	if email != "" {
		body["email"] = email
	} else {
		body["token_hash"] = token
		delete(body, "token")
	}
	var out struct {
		User ProviderUser `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/verify", false, body, &out, nil); err != nil {
		return nil, err
	}
	return &out.User, nil
}

func (c *Client) ResendSignup(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/auth/v1/resend", false, map[string]any{"type": OTPSignup, "email": email}, nil, nil)
}

// Recover sends the password reset mail linking back to redirectTo.
func (c *Client) Recover(ctx context.Context, email, redirectTo string) error {
	path := "/auth/v1/recover"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	return c.do(ctx, http.MethodPost, path, false, map[string]any{"email": email}, nil, nil)
}

func (c *Client) UpdatePassword(ctx context.Context, providerUserID, password string) error {
	return c.do(ctx, http.MethodPut, "/auth/v1/admin/users/"+url.PathEscape(providerUserID), true,
		map[string]any{"password": password}, nil, nil)
}

// selectOne reads one column of the first row of table where id = id.
func (c *Client) selectOne(ctx context.Context, table, column, id string) (string, error) {
	q := url.Values{}
	q.Set("id", "eq."+id)
	q.Set("select", column)
	q.Set("limit", "1")
	var rows []map[string]any
	if err := c.do(ctx, http.MethodGet, "/rest/v1/"+table+"?"+q.Encode(), true, nil, &rows, nil); err != nil {
		return "", err
	}
	if len(rows) == 0 || rows[0][column] == nil {
		return "", nil
	}
	return fmt.Sprint(rows[0][column]), nil
}

// RoomTask resolves the task a chat room belongs to; "" when unknown.
func (c *Client) RoomTask(ctx context.Context, roomID string) (string, error) {
	return c.selectOne(ctx, "chat_rooms", "task_id", roomID)
}

// ChatUserInternalID maps a chat user to our user id; "" when unknown.
func (c *Client) ChatUserInternalID(ctx context.Context, chatUserID string) (string, error) {
	return c.selectOne(ctx, "chat_users", "mongo_id", chatUserID)
}

func (c *Client) InsertRealtimeEvent(ctx context.Context, eventType, taskID string, targetUserID *string, payload map[string]any) error {
	row := map[string]any{
		"type":           eventType,
		"payload":        payload,
		"task_id":        taskID,
		"target_user_id": targetUserID,
	}
	h := http.Header{}
	h.Set("Prefer", "return=minimal")
	return c.do(ctx, http.MethodPost, "/rest/v1/realtime_events", true, []map[string]any{row}, nil, h)
}
