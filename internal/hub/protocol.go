package hub

import "encoding/json"

// Op names one store operation carried over the websocket.
type Op string

const (
	OpRead         Op = "read"
	OpWrite        Op = "write"
	OpAppend       Op = "append"
	OpRemove       Op = "remove"
	OpSubscribe    Op = "subscribe"
	OpUnsubscribe  Op = "unsubscribe"
	OpOnDisconnect Op = "ondisconnect_remove"
)

// Request is a client-to-hub frame. ID correlates the reply.
type Request struct {
	ID    string          `json:"id"`
	Op    Op              `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Frame types in hub-to-client traffic.
const (
	FrameAck    = "ack"
	FrameErr    = "err"
	FrameChange = "change"
)

// Frame is a hub-to-client message: an ack/err reply to a request, or a
// pushed change carrying the full snapshot of a subscribed path.
type Frame struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Path  string          `json:"path,omitempty"`
	Key   string          `json:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
}
