package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/clinic-recall/internal/model"
)

// Event is a provider callback reduced to the fields reconciliation needs.
// Status is empty when the provider sent nothing recognizable.
type Event struct {
	MessageID string
	Status    model.MessageStatus
	RawStatus string
	Phone     string
	Text      string
	Error     string
	At        *time.Time
}

var (
	idPaths     = []string{"messageId", "message_id", "id", "message.id", "data.id", "data.messageId", "data.message_id", "data.message.id", "key.id"}
	statusPaths = []string{"status", "event", "type", "ack", "data.status", "data.event", "data.type", "data.ack"}
	phonePaths  = []string{"to", "phone", "toPhone", "data.to", "data.phone", "data.toPhone"}
	textPaths   = []string{"text", "content", "body", "data.text", "data.content", "data.body"}
	errorPaths  = []string{"error", "reason", "error.message", "data.error", "data.reason", "data.error.message"}
	timePaths   = []string{"timestamp", "time", "sentAt", "data.timestamp", "data.time", "data.sentAt"}
)

var ErrMalformed = errors.New("malformed webhook payload")

// ParseEvent extracts an Event from a JSON object. Only a body that is not a
// JSON object is an error; missing fields are left empty.
func ParseEvent(body []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if doc == nil {
		return Event{}, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	ev := Event{
		MessageID: first(doc, idPaths),
		Phone:     first(doc, phonePaths),
		Text:      first(doc, textPaths),
		Error:     first(doc, errorPaths),
	}

	for _, p := range statusPaths {
		raw := scalar(lookup(doc, p))
		if raw == "" {
			continue
		}
		if ev.RawStatus == "" {
			ev.RawStatus = raw
		}
		if st, ok := model.ParseMessageStatus(raw); ok {
			ev.Status = st
			break
		}
	}

	for _, p := range timePaths {
		if t, ok := parseTime(lookup(doc, p)); ok {
			ev.At = &t
			break
		}
	}
	return ev, nil
}

func first(doc map[string]any, paths []string) string {
	for _, p := range paths {
		if s := scalar(lookup(doc, p)); s != "" {
			return s
		}
	}
	return ""
}

func lookup(doc any, path string) any {
	cur := doc
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		if cur, ok = m[key]; !ok {
			return nil
		}
	}
	return cur
}

func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}

// parseTime accepts RFC 3339 strings and unix timestamps in seconds or
// milliseconds.
func parseTime(v any) (time.Time, bool) {
	s := scalar(v)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	if n > 1e12 {
		return time.UnixMilli(n).UTC(), true
	}
	return time.Unix(n, 0).UTC(), true
}
