package edge

import (
	"encoding/json"
	"fmt"
	"io"
)

// maxResponseSize bounds every response body read. Edge API responses
// are small JSON documents; the limit only guards against a misbehaving
// server.
const maxResponseSize int64 = 64 << 20

func readResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, maxResponseSize))
}

// errorBody reads an error response for diagnostics. Read errors are
// ignored; a partial body is still useful in a message.
func errorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4<<10))
	return string(data)
}

// envelope is the {"value": ...} wrapper most edge endpoints respond with.
type envelope struct {
	Value json.RawMessage `json:"value"`
}

// decodeValue unwraps an envelope into v.
func decodeValue(data []byte, v any) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decoding envelope: %w", err)
	}
	if len(env.Value) == 0 || string(env.Value) == "null" {
		return fmt.Errorf("response has no value")
	}
	if err := json.Unmarshal(env.Value, v); err != nil {
		return fmt.Errorf("decoding value: %w", err)
	}
	return nil
}
