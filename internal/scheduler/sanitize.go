package scheduler

import "encoding/json"

// Sanitize drops every key whose value is JSON null from a top-level object,
// since absence (not null) means "use the tool's default" across the
// JSON-RPC boundary. Sanitize is idempotent: Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return json.RawMessage(`{}`), nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	for k, v := range obj {
		if string(v) == "null" {
			delete(obj, k)
		}
	}
	return json.Marshal(obj)
}
