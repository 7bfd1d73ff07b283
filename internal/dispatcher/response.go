package dispatcher

import (
	"bytes"
	"encoding/json"
	"strings"
)

// idPaths are the places providers have been seen to put the message id.
var idPaths = [][]string{
	{"id"},
	{"messageId"},
	{"message_id"},
	{"idMessage"},
	{"sid"},
	{"key", "id"},
	{"data", "id"},
	{"data", "messageId"},
	{"messages", "0", "id"},
	{"result", "id"},
}

// ParseProviderID extracts the provider message id from a success body.
// It returns "" when the body is not JSON or carries no recognizable id.
// Numeric ids keep their exact digits, matching what callbacks carry.
func ParseProviderID(body []byte) string {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return ""
	}
	for _, p := range idPaths {
		if s := scalarString(lookup(doc, p)); s != "" {
			return s
		}
	}
	return ""
}

func lookup(doc any, path []string) any {
	cur := doc
	for _, key := range path {
		switch v := cur.(type) {
		case map[string]any:
			cur = v[key]
		case []any:
			if key != "0" || len(v) == 0 {
				return nil
			}
			cur = v[0]
		default:
			return nil
		}
	}
	return cur
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	}
	return ""
}
