package daemon

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/neboloop/canvas/internal/protocol"
)

// decodeParams unmarshals the request params into dst. Absent params leave
// dst untouched; a field of the wrong type is reported against its name.
func decodeParams(raw json.RawMessage, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return protocol.InvalidParam(typeErr.Field, "parameter %q must be of type %s", typeErr.Field, typeErr.Type)
		}
		return protocol.InvalidRequest("params must be a JSON object: %v", err)
	}
	return nil
}

func requireString(name, value string) error {
	if value == "" {
		return protocol.MissingParam(name)
	}
	return nil
}
