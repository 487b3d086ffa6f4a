package signature

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

var ErrEmptyPayload = errors.New("callback payload is empty")

// ParseFields flattens the top level of a JSON object or a form-encoded body
// into strings. Nested values are dropped.
func ParseFields(raw []byte) (map[string]string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, ErrEmptyPayload
	}

	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("failed to decode callback JSON: %w", err)
		}
		out := make(map[string]string, len(obj))
		for k, v := range obj {
			switch val := v.(type) {
			case string:
				out[k] = val
			case json.Number:
				out[k] = val.String()
			case bool:
				out[k] = strconv.FormatBool(val)
			}
		}
		return out, nil
	}

	values, err := url.ParseQuery(string(trimmed))
	if err != nil {
		return nil, fmt.Errorf("failed to decode callback form: %w", err)
	}
	if len(values) == 0 {
		return nil, ErrEmptyPayload
	}
	out := make(map[string]string, len(values))
	for k := range values {
		out[k] = values.Get(k)
	}
	return out, nil
}
