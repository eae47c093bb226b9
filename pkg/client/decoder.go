package client

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/go-go-golems/wizard-chat/pkg/chat"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const dataPrefix = "data: "

// MaxRecordSize caps one stream record. Longer records are skipped.
const MaxRecordSize = 1 << 20

// wireEvent is the JSON shape of one stream record.
type wireEvent struct {
	Type          string              `json:"type"`
	Content       *string             `json:"content"`
	DataCollected *chat.DataCollected `json:"data_collected"`
	IsComplete    bool                `json:"is_complete"`
	Message       string              `json:"message"`
}

// Decoder splits a streaming chat body into events. Records are separated by
// newlines and may span any number of reads. Lines that are not data records
// are ignored; data records that fail to decode are logged and skipped.
type Decoder struct {
	r      *bufio.Reader
	logger zerolog.Logger
	line   int
	max    int
}

func NewDecoder(r io.Reader, logger zerolog.Logger) *Decoder {
	return &Decoder{r: bufio.NewReader(r), logger: logger, max: MaxRecordSize}
}

// Next returns the next well-formed event. It returns io.EOF once the body is
// exhausted and any read error otherwise.
func (d *Decoder) Next() (chat.StreamEvent, error) {
	for {
		raw, size, err := d.readLine()
		switch {
		case size > d.max:
			d.line++
			d.logger.Warn().Int("line", d.line).Int("size", size).Int("max", d.max).Msg("skipping oversized stream record")
		case raw != "":
			d.line++
			if ev, ok := d.decodeLine(raw); ok {
				return ev, nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

// readLine reads up to and including the next newline. Once a line grows past
// d.max the rest of it is read and dropped, and only its size is reported.
func (d *Decoder) readLine() (string, int, error) {
	var buf []byte
	size := 0
	for {
		frag, err := d.r.ReadSlice('\n')
		size += len(frag)
		if size <= d.max {
			buf = append(buf, frag...)
		} else {
			buf = nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return string(buf), size, err
	}
}

func (d *Decoder) decodeLine(raw string) (chat.StreamEvent, bool) {
	line := strings.TrimRight(raw, "\r\n")
	if !strings.HasPrefix(line, dataPrefix) {
		if strings.TrimSpace(line) != "" {
			d.logger.Debug().Int("line", d.line).Str("record", truncate(line, 120)).Msg("ignoring non-data record")
		}
		return nil, false
	}
	payload := line[len(dataPrefix):]

	var w wireEvent
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		d.logger.Warn().Err(err).Int("line", d.line).Str("record", truncate(payload, 120)).Msg("skipping malformed stream record")
		return nil, false
	}

	switch w.Type {
	case "chunk":
		if w.Content == nil {
			d.logger.Warn().Int("line", d.line).Msg("skipping chunk record without content")
			return nil, false
		}
		return chat.ChunkEvent{Content: *w.Content}, true
	case "done":
		ev := chat.DoneEvent{}
		if w.DataCollected != nil {
			ev.DataCollected = *w.DataCollected
		}
		ev.IsComplete = w.IsComplete
		return ev, true
	case "error":
		msg := w.Message
		if msg == "" {
			msg = "Unknown error"
		}
		return chat.ErrorEvent{Kind: chat.KindServer, Message: msg}, true
	default:
		d.logger.Warn().Int("line", d.line).Str("type", w.Type).Msg("skipping stream record of unknown type")
		return nil, false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
