// Package protocol defines the frames exchanged between callers and the
// vault, and the codecs used to put them on the wire.
package protocol

// FrameType identifies a frame
type FrameType string

const (
	TypeRequest  FrameType = "MACI_REQUEST"
	TypeResponse FrameType = "MACI_RESPONSE"
	TypeError    FrameType = "MACI_ERROR"
	TypePing     FrameType = "PING"
	TypePong     FrameType = "PONG"
)

// Frame is the envelope for every external message.
// Requests carry an action object, responses a Result and errors a string.
type Frame struct {
	Type    FrameType `json:"type" cbor:"type"`
	Payload any       `json:"payload,omitempty" cbor:"payload,omitempty"`
}

// Result is the {success, data|error} shape returned to internal callers
// and wrapped by MACI_RESPONSE for external ones.
type Result struct {
	Success bool   `json:"success" cbor:"success"`
	Data    any    `json:"data,omitempty" cbor:"data,omitempty"`
	Error   string `json:"error,omitempty" cbor:"error,omitempty"`
}

// OK builds a successful result
func OK(data any) Result {
	return Result{Success: true, Data: data}
}

// Fail builds a failed result
func Fail(message string) Result {
	return Result{Success: false, Error: message}
}

// Response wraps data in a MACI_RESPONSE frame
func Response(data any) Frame {
	return Frame{Type: TypeResponse, Payload: OK(data)}
}

// Error builds a MACI_ERROR frame
func Error(message string) Frame {
	return Frame{Type: TypeError, Payload: message}
}

// Pong answers a PING
func Pong() Frame {
	return Frame{Type: TypePong}
}
