package client

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-go-golems/wizard-chat/pkg/chat"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

type NoticeType string

const (
	NoticeGreeting  NoticeType = "greeting"
	NoticeMessage   NoticeType = "message"
	NoticeEmailSent NoticeType = "email_sent"
)

// Notice is a server-pushed message on the per-session websocket.
type Notice struct {
	Type          NoticeType          `json:"type"`
	Message       string              `json:"message"`
	DataCollected *chat.DataCollected `json:"data_collected,omitempty"`
	IsComplete    *bool               `json:"is_complete,omitempty"`
}

// Notifications opens the session's websocket and delivers notices on the
// returned channel until ctx is cancelled or the server closes the socket.
// The channel is closed when delivery stops.
func (c *Client) Notifications(ctx context.Context, sessionID string) (<-chan Notice, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	target := c.endpoint(c.wsURL, "ws", sessionID)
	header := http.Header{}
	header.Set(requestIDHeader, uuid.NewString())

	dialer := websocket.Dialer{HandshakeTimeout: c.requestTimeout}
	conn, resp, err := dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", target)
	}

	logger := c.logger.With().Str("session_id", sessionID).Str("transport", "ws").Logger()
	logger.Debug().Str("url", target).Msg("notification socket connected")

	out := make(chan Notice, 16)
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	go func() {
		defer close(out)
		defer close(done)
		defer func() { _ = conn.Close() }()
		for {
			var n Notice
			if err := conn.ReadJSON(&n); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Warn().Err(err).Msg("notification socket closed")
				}
				return
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
