package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/wagiedev/mcp-orchestrator-go/internal/errors"
)

// Version is the JSON-RPC version tag stamped on outgoing frames.
const Version = "2.0"

// Frame is one newline-delimited message read from a process's stdout.
// A frame with an id is a response to a tracked request; a frame without
// one is an unsolicited notification.
type Frame struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// IsResponse reports whether the frame carries a correlation id.
func (f *Frame) IsResponse() bool {
	return f.ID != nil
}

// RPCError is the error member of a response frame.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Request is an outgoing frame that expects a correlated response.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// Notification is an outgoing frame with no response expected.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// DecodeFrame parses one stdout line into a Frame.
// A failure is not fatal to the stream; it is surfaced as a
// FrameDecodeError and the line is preserved for the raw_output event.
func DecodeFrame(line []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return nil, &errors.FrameDecodeError{
			RawLine: string(line),
			Err:     err,
		}
	}

	return &f, nil
}
