package protocol

import (
	"encoding/json"
	"strconv"
)

// ParseRequest decodes one frame. On failure the returned Request still
// carries the best id that could be recovered (UnknownID otherwise) so the
// caller can address its Failure.
func ParseRequest(frame []byte) (Request, *Error) {
	var raw struct {
		ID     any             `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
		Meta   *Meta           `json:"meta"`
	}
	if err := json.Unmarshal(frame, &raw); err != nil {
		return Request{ID: UnknownID}, InvalidRequest("invalid JSON: %v", err)
	}

	req := Request{Method: raw.Method, Params: raw.Params}
	if raw.Meta != nil {
		req.Meta = *raw.Meta
	}

	switch id := raw.ID.(type) {
	case string:
		req.ID = id
	case float64:
		req.ID = strconv.FormatFloat(id, 'f', -1, 64)
	}
	if req.ID == "" {
		req.ID = UnknownID
		return req, MissingParam("id")
	}
	if req.Method == "" {
		return req, MissingParam("method")
	}
	return req, nil
}
