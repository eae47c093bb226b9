package client

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-go-golems/wizard-chat/pkg/admin"
	"github.com/go-go-golems/wizard-chat/pkg/chat"
	"github.com/pkg/errors"
)

// CreateSession asks the backend for a fresh session.
func (c *Client) CreateSession(ctx context.Context) (chat.Session, error) {
	var s chat.Session
	if err := c.doJSON(ctx, http.MethodPost, c.apiPath("/api/sessions"), nil, &s); err != nil {
		return chat.Session{}, errors.Wrap(err, "create session")
	}
	if s.ID == "" {
		return chat.Session{}, errors.New("create session: backend returned an empty session id")
	}
	if s.Status == "" {
		s.Status = chat.SessionActive
	}
	c.logger.Info().Str("session_id", s.ID).Msg("session created")
	return s, nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (chat.SessionRecord, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return chat.SessionRecord{}, errors.New("get session: session id is empty")
	}
	var r chat.SessionRecord
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint(c.baseURL, "api", "sessions", sessionID), nil, &r); err != nil {
		return chat.SessionRecord{}, errors.Wrapf(err, "get session %s", sessionID)
	}
	return r, nil
}

func (c *Client) ListSessions(ctx context.Context) ([]chat.SessionRecord, error) {
	var rs []chat.SessionRecord
	if err := c.doJSON(ctx, http.MethodGet, c.apiPath("/api/sessions"), nil, &rs); err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	return rs, nil
}

func (c *Client) Greeting(ctx context.Context) (string, error) {
	var out struct {
		Greeting string `json:"greeting"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.apiPath("/api/greeting"), nil, &out); err != nil {
		return "", errors.Wrap(err, "greeting")
	}
	return out.Greeting, nil
}

func (c *Client) Health(ctx context.Context) (admin.Health, error) {
	var h admin.Health
	if err := c.doJSON(ctx, http.MethodGet, c.apiPath("/health"), nil, &h); err != nil {
		return admin.Health{}, errors.Wrap(err, "health")
	}
	return h, nil
}

// Reply is the response of the non-streaming chat endpoint.
type Reply struct {
	Response  string `json:"response" yaml:"response"`
	SessionID string `json:"session_id" yaml:"session_id"`
	chat.Completion
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// Send performs one turn without streaming.
func (c *Client) Send(ctx context.Context, sessionID, message string) (Reply, error) {
	if err := validateTurn(sessionID, message); err != nil {
		return Reply{}, err
	}
	// a non-streaming turn takes as long as a streamed one
	cc := *c
	cc.requestTimeout = c.streamTimeout
	var r Reply
	if err := cc.doJSON(ctx, http.MethodPost, c.apiPath("/api/chat"), chatRequest{Message: message, SessionID: sessionID}, &r); err != nil {
		return Reply{}, errors.Wrap(err, "send message")
	}
	return r, nil
}

func (c *Client) Dashboard(ctx context.Context) (admin.Dashboard, error) {
	var d admin.Dashboard
	if err := c.doJSON(ctx, http.MethodGet, c.apiPath("/api/admin/dashboard"), nil, &d); err != nil {
		return admin.Dashboard{}, errors.Wrap(err, "admin dashboard")
	}
	return d, nil
}

func (c *Client) Settings(ctx context.Context) (admin.Settings, error) {
	var s admin.Settings
	if err := c.doJSON(ctx, http.MethodGet, c.apiPath("/api/admin/settings"), nil, &s); err != nil {
		return admin.Settings{}, errors.Wrap(err, "admin settings")
	}
	return s, nil
}

func (c *Client) UpdateSettings(ctx context.Context, u admin.SettingsUpdate) (admin.Settings, error) {
	if err := u.Validate(); err != nil {
		return admin.Settings{}, err
	}
	u.RecipientEmail = strings.TrimSpace(u.RecipientEmail)
	if err := c.doJSON(ctx, http.MethodPost, c.apiPath("/api/admin/settings"), u, nil); err != nil {
		return admin.Settings{}, errors.Wrap(err, "update admin settings")
	}
	return c.Settings(ctx)
}

var (
	ErrEmptySessionID = errors.New("session id is empty")
	ErrEmptyMessage   = errors.New("message is empty")
)

func validateTurn(sessionID, message string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrEmptySessionID
	}
	if strings.TrimSpace(message) == "" {
		return ErrEmptyMessage
	}
	return nil
}
