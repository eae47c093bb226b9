package tokens

import (
	"sync"

	"github.com/go-go-golems/wizard-chat/pkg/chat"
	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens with the cl100k_base encoding. Counts are estimates of
// conversation size; the backend's model may tokenize differently.
type Counter struct {
	once  sync.Once
	codec tokenizer.Codec
	err   error
}

func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) load() error {
	c.once.Do(func() {
		c.codec, c.err = tokenizer.Get(tokenizer.Cl100kBase)
		if c.err != nil {
			c.err = errors.Wrap(c.err, "load cl100k_base codec")
		}
	})
	return c.err
}

func (c *Counter) Count(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	if err := c.load(); err != nil {
		return 0, err
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return 0, errors.Wrap(err, "error encoding input")
	}
	return len(ids), nil
}

// Stats summarises a conversation's size per role.
type Stats struct {
	UserTokens      int `json:"user_tokens" yaml:"user_tokens"`
	AssistantTokens int `json:"assistant_tokens" yaml:"assistant_tokens"`
	Messages        int `json:"messages" yaml:"messages"`
}

func (s Stats) Total() int {
	return s.UserTokens + s.AssistantTokens
}

func (c *Counter) Conversation(msgs []chat.Message) (Stats, error) {
	st := Stats{Messages: len(msgs)}
	for _, m := range msgs {
		n, err := c.Count(m.Content)
		if err != nil {
			return Stats{}, err
		}
		switch m.Role {
		case chat.RoleUser:
			st.UserTokens += n
		default:
			st.AssistantTokens += n
		}
	}
	return st, nil
}
