package client

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-go-golems/wizard-chat/pkg/chat"
	"github.com/pkg/errors"
)

// Streamer produces the events of one chat turn.
type Streamer interface {
	StreamChat(ctx context.Context, sessionID, message string) iter.Seq[chat.StreamEvent]
}

var _ Streamer = &Client{}

// StreamChat returns a sequence that, when ranged over, sends message to the
// streaming endpoint and yields its events in order. The sequence always ends
// with exactly one terminal event unless the consumer stops early: transport
// failures, non-2xx responses and bodies that end without a done or error
// record all surface as a final chat.ErrorEvent. It can be ranged over once.
func (c *Client) StreamChat(ctx context.Context, sessionID, message string) iter.Seq[chat.StreamEvent] {
	var used atomic.Bool
	return func(yield func(chat.StreamEvent) bool) {
		if !used.CompareAndSwap(false, true) {
			yield(chat.ErrorEvent{Kind: chat.KindInvalid, Message: "stream already consumed"})
			return
		}
		if err := validateTurn(sessionID, message); err != nil {
			yield(chat.ErrorEvent{Kind: chat.KindInvalid, Message: err.Error()})
			return
		}
		c.stream(ctx, sessionID, message, yield)
	}
}

func (c *Client) stream(ctx context.Context, sessionID, message string, yield func(chat.StreamEvent) bool) {
	// streamTimeout bounds the silence between records, not the whole turn.
	// The timer is paused while the consumer handles an event.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var idle atomic.Bool
	timer := time.AfterFunc(c.streamTimeout, func() {
		idle.Store(true)
		cancel()
	})
	defer timer.Stop()

	req, err := c.newRequest(ctx, http.MethodPost, c.apiPath("/api/chat/stream"), chatRequest{
		Message:   message,
		SessionID: sessionID,
	})
	if err != nil {
		yield(chat.ErrorEvent{Kind: chat.KindInvalid, Message: err.Error()})
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	logger := c.logger.With().
		Str("session_id", sessionID).
		Str("request_id", req.Header.Get(requestIDHeader)).
		Logger()
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("stream request failed")
		yield(c.transportError(ctx, idle.Load(), err))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		herr := &HTTPError{StatusCode: resp.StatusCode, Detail: readErrorDetail(resp.Body)}
		logger.Warn().Int("status", resp.StatusCode).Str("detail", herr.Detail).Msg("stream request rejected")
		yield(chat.ErrorEvent{Kind: chat.KindHTTP, Message: herr.Error()})
		return
	}

	dec := NewDecoder(resp.Body, logger)
	chunks := 0
	for {
		ev, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Warn().Int("chunks", chunks).Msg("stream ended without a terminal record")
				yield(chat.ErrorEvent{Kind: chat.KindTruncated, Message: "response stream ended unexpectedly"})
				return
			}
			logger.Warn().Err(err).Int("chunks", chunks).Msg("stream read failed")
			yield(c.transportError(ctx, idle.Load(), err))
			return
		}
		if !timer.Stop() && !ev.Terminal() {
			// fired between the read and now
			yield(c.transportError(ctx, true, context.DeadlineExceeded))
			return
		}
		if _, ok := ev.(chat.ChunkEvent); ok {
			chunks++
		}
		if !yield(ev) {
			logger.Debug().Int("chunks", chunks).Msg("stream consumer stopped early")
			return
		}
		timer.Reset(c.streamTimeout)
		if ev.Terminal() {
			logger.Debug().
				Int("chunks", chunks).
				Dur("elapsed", time.Since(start)).
				Str("terminal", fmt.Sprintf("%T", ev)).
				Msg("stream finished")
			return
		}
	}
}

func (c *Client) transportError(ctx context.Context, idle bool, err error) chat.ErrorEvent {
	switch {
	case idle:
		return chat.ErrorEvent{Kind: chat.KindTransport, Message: fmt.Sprintf("no data received for %s", c.streamTimeout)}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return chat.ErrorEvent{Kind: chat.KindTransport, Message: "request deadline exceeded"}
	case errors.Is(ctx.Err(), context.Canceled):
		return chat.ErrorEvent{Kind: chat.KindTransport, Message: "request cancelled"}
	default:
		return chat.ErrorEvent{Kind: chat.KindTransport, Message: err.Error()}
	}
}
