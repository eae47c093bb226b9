package client

import (
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/go-go-golems/wizard-chat/pkg/chat"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, d *Decoder) ([]chat.StreamEvent, error) {
	t.Helper()
	var out []chat.StreamEvent
	for {
		ev, err := d.Next()
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

func TestDecoderClassifiesRecords(t *testing.T) {
	body := strings.Join([]string{
		`data: {"type":"chunk","content":"Hel"}`,
		`data: {"type":"chunk","content":"lo"}`,
		``,
		`data: {"type":"done","data_collected":{"name":true,"email":false,"income":false},"is_complete":false}`,
		``,
	}, "\n")

	evs, err := collect(t, NewDecoder(strings.NewReader(body), zerolog.Nop()))
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, []chat.StreamEvent{
		chat.ChunkEvent{Content: "Hel"},
		chat.ChunkEvent{Content: "lo"},
		chat.DoneEvent{Completion: chat.Completion{DataCollected: chat.DataCollected{Name: true}}},
	}, evs)
}

func TestDecoderReassemblesRecordsAcrossReads(t *testing.T) {
	body := "data: {\"type\":\"chunk\",\"content\":\"a\\nb\"}\r\ndata: {\"type\":\"error\",\"message\":\"boom\"}\n"
	evs, err := collect(t, NewDecoder(iotest.OneByteReader(strings.NewReader(body)), zerolog.Nop()))
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, []chat.StreamEvent{
		chat.ChunkEvent{Content: "a\nb"},
		chat.ErrorEvent{Kind: chat.KindServer, Message: "boom"},
	}, evs)
}

func TestDecoderSkipsMalformedAndUnknownRecords(t *testing.T) {
	body := strings.Join([]string{
		`: keep-alive`,
		`event: message`,
		`data: {not json`,
		`data: {"type":"thinking","content":"x"}`,
		`data: {"type":"chunk"}`,
		`data: {"type":"chunk","content":"ok"}`,
		`data: {"type":"error"}`,
	}, "\n")

	evs, err := collect(t, NewDecoder(strings.NewReader(body), zerolog.Nop()))
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, []chat.StreamEvent{
		chat.ChunkEvent{Content: "ok"},
		chat.ErrorEvent{Kind: chat.KindServer, Message: "Unknown error"},
	}, evs)
}

func TestDecoderAcceptsFinalRecordWithoutNewline(t *testing.T) {
	body := `data: {"type":"done","is_complete":true}`
	evs, err := collect(t, NewDecoder(strings.NewReader(body), zerolog.Nop()))
	require.ErrorIs(t, err, io.EOF)
	require.Len(t, evs, 1)
	done, ok := evs[0].(chat.DoneEvent)
	require.True(t, ok)
	require.True(t, done.IsComplete)
	require.Equal(t, chat.DataCollected{}, done.DataCollected)
}

func TestDecoderEmptyChunkIsKept(t *testing.T) {
	evs, err := collect(t, NewDecoder(strings.NewReader(`data: {"type":"chunk","content":""}`+"\n"), zerolog.Nop()))
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, []chat.StreamEvent{chat.ChunkEvent{Content: ""}}, evs)
}

func TestDecoderSkipsOversizedRecords(t *testing.T) {
	huge := `data: {"type":"chunk","content":"` + strings.Repeat("x", 20000) + `"}`
	body := huge + "\n" + `data: {"type":"chunk","content":"after"}` + "\n" + huge

	d := NewDecoder(strings.NewReader(body), zerolog.Nop())
	d.max = 5000
	evs, err := collect(t, d)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, []chat.StreamEvent{chat.ChunkEvent{Content: "after"}}, evs)
	require.Equal(t, 3, d.line)
}

func TestDecoderKeepsRecordsLargerThanReadBuffer(t *testing.T) {
	content := strings.Repeat("y", 10000)
	body := `data: {"type":"chunk","content":"` + content + `"}` + "\n"
	evs, err := collect(t, NewDecoder(iotest.HalfReader(strings.NewReader(body)), zerolog.Nop()))
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, []chat.StreamEvent{chat.ChunkEvent{Content: content}}, evs)
}
