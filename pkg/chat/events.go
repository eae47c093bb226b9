package chat

import "fmt"

// StreamEvent is one decoded record of a streaming chat response. The set of
// implementations is closed: ChunkEvent, DoneEvent and ErrorEvent.
type StreamEvent interface {
	isStreamEvent()
	// Terminal reports whether no further events follow this one.
	Terminal() bool
}

type ChunkEvent struct {
	Content string
}

type DoneEvent struct {
	Completion
}

// ErrorKind classifies where a stream failure originated.
type ErrorKind string

const (
	// KindServer is an error record sent by the backend itself.
	KindServer ErrorKind = "server"
	// KindHTTP is a non-2xx response to the stream request.
	KindHTTP ErrorKind = "http"
	// KindTransport covers connection failures, timeouts and read errors.
	KindTransport ErrorKind = "transport"
	// KindTruncated is a body that ended without a done or error record.
	KindTruncated ErrorKind = "truncated"
	// KindInvalid is a request rejected locally before anything was sent.
	KindInvalid ErrorKind = "invalid"
)

type ErrorEvent struct {
	Kind    ErrorKind
	Message string
}

func (ChunkEvent) isStreamEvent() {}
func (DoneEvent) isStreamEvent()  {}
func (ErrorEvent) isStreamEvent() {}

func (ChunkEvent) Terminal() bool { return false }
func (DoneEvent) Terminal() bool  { return true }
func (ErrorEvent) Terminal() bool { return true }

func (e ErrorEvent) Error() string {
	if e.Kind == "" || e.Kind == KindServer {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

var (
	_ StreamEvent = ChunkEvent{}
	_ StreamEvent = DoneEvent{}
	_ StreamEvent = ErrorEvent{}
)
