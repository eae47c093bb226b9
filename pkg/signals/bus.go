package signals

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-go-golems/wizard-chat/pkg/chat"
	"github.com/go-go-golems/wizard-chat/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultTopic = "wizard.completions"

// CompletionSignal is published for every finalized turn.
type CompletionSignal struct {
	SessionID     string             `json:"session_id" yaml:"session_id"`
	DataCollected chat.DataCollected `json:"data_collected" yaml:"data_collected"`
	IsComplete    bool               `json:"is_complete" yaml:"is_complete"`
	Collected     int                `json:"collected" yaml:"collected"`
	At            time.Time          `json:"at" yaml:"at"`
}

// Bus carries completion signals between the chat controller and whoever
// tracks progress: the transcript recorder in-process, or other processes
// through Redis Streams.
type Bus struct {
	pub     message.Publisher
	sub     message.Subscriber
	topic   string
	closers []func() error
	logger  zerolog.Logger
	now     func() time.Time
}

var _ conversation.CompletionObserver = &Bus{}

// NewInMemoryBus returns a bus backed by a watermill go channel.
func NewInMemoryBus() *Bus {
	logger := log.Logger.With().Str("component", "signals").Logger()
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, NewWatermillLogger(logger))
	return &Bus{
		pub:     ch,
		sub:     ch,
		topic:   DefaultTopic,
		closers: []func() error{ch.Close},
		logger:  logger,
		now:     time.Now,
	}
}

func (b *Bus) Topic() string {
	return b.topic
}

func (b *Bus) Publish(ctx context.Context, sig CompletionSignal) error {
	if sig.At.IsZero() {
		sig.At = b.now()
	}
	sig.Collected = sig.DataCollected.Count()
	payload, err := json.Marshal(sig)
	if err != nil {
		return errors.Wrap(err, "encode completion signal")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("session_id", sig.SessionID)
	msg.SetContext(ctx)
	if err := b.pub.Publish(b.topic, msg); err != nil {
		return errors.Wrap(err, "publish completion signal")
	}
	b.logger.Debug().
		Str("session_id", sig.SessionID).
		Int("collected", sig.Collected).
		Bool("is_complete", sig.IsComplete).
		Msg("completion signal published")
	return nil
}

// OnCompletion publishes the signal of a finalized turn.
func (b *Bus) OnCompletion(sessionID string, c chat.Completion) {
	err := b.Publish(context.Background(), CompletionSignal{
		SessionID:     sessionID,
		DataCollected: c.DataCollected,
		IsComplete:    c.IsComplete,
	})
	if err != nil {
		b.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to publish completion signal")
	}
}

// Subscribe delivers decoded signals until ctx is done. Messages that fail to
// decode are acked and dropped.
func (b *Bus) Subscribe(ctx context.Context) (<-chan CompletionSignal, error) {
	msgs, err := b.sub.Subscribe(ctx, b.topic)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe to completion signals")
	}
	out := make(chan CompletionSignal)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var sig CompletionSignal
				if err := json.Unmarshal(msg.Payload, &sig); err != nil {
					b.logger.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping undecodable completion signal")
					msg.Ack()
					continue
				}
				select {
				case out <- sig:
					msg.Ack()
				case <-ctx.Done():
					msg.Nack()
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *Bus) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
