package dispatcher

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/clinic-recall/internal/util"
)

// Message is what gets delivered. To is a normalized "+<digits>" phone.
type Message struct {
	To   string
	Text string
}

func (m Message) chatID() string { return util.PhoneDigits(m.To) + "@c.us" }

// Endpoint is one candidate send URL.
type Endpoint struct {
	Name string
	URL  string
}

// HeaderVariant is an auth/content header convention. Build returns nil when
// the variant's credential is not configured.
type HeaderVariant struct {
	Name  string
	Build func(Config) http.Header
}

// BodyVariant is a JSON field-naming convention. Build returns nil when the
// variant's required inputs are not configured.
type BodyVariant struct {
	Name   string
	ChatID bool
	Build  func(Config, Message) map[string]any
}

// pathTemplate entries may reference {instance} and {token}; such entries are
// only used when those values are configured.
type pathTemplate struct {
	name string
	path string
}

var pathCatalog = []pathTemplate{
	{"send-message", "/send-message"},
	{"api-send-message", "/api/send-message"},
	{"api-sendText", "/api/sendText"},
	{"messages-send", "/api/messages/send"},
	{"v1-messages", "/v1/messages"},
	{"messages-chat", "/messages/chat"},
	{"instance-messages-chat", "/{instance}/messages/chat"},
	{"instance-sendText", "/message/sendText/{instance}"},
	{"session-send-message", "/api/{instance}/send-message"},
	{"green-sendMessage", "/waInstance{instance}/sendMessage/{token}"},
	{"token-send", "/send/{token}"},
}

func plainHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	return h
}

func apiKey(c Config) string {
	if c.Token != "" {
		return c.Token
	}
	return c.BearerToken
}

func keyHeader(name string) func(Config) http.Header {
	return func(c Config) http.Header {
		k := apiKey(c)
		if k == "" {
			return nil
		}
		h := plainHeaders()
		h.Set(name, k)
		return h
	}
}

var headerVariants = []HeaderVariant{
	{Name: "plain", Build: func(Config) http.Header { return plainHeaders() }},
	{Name: "bearer", Build: func(c Config) http.Header {
		if c.BearerToken == "" {
			return nil
		}
		h := plainHeaders()
		h.Set("Authorization", "Bearer "+c.BearerToken)
		return h
	}},
	{Name: "bearer-access-token", Build: func(c Config) http.Header {
		if c.Token == "" || c.Token == c.BearerToken {
			return nil
		}
		h := plainHeaders()
		h.Set("Authorization", "Bearer "+c.Token)
		return h
	}},
	{Name: "x-api-key", Build: keyHeader("X-API-Key")},
	{Name: "apikey", Build: keyHeader("apikey")},
	{Name: "token", Build: keyHeader("token")},
}

var bodyVariants = []BodyVariant{
	{Name: "chat-id", ChatID: true, Build: func(_ Config, m Message) map[string]any {
		return map[string]any{"chatId": m.chatID(), "message": m.Text}
	}},
	{Name: "instance-token", Build: func(c Config, m Message) map[string]any {
		if c.InstanceID == "" || c.Token == "" {
			return nil
		}
		return map[string]any{"instance_id": c.InstanceID, "token": c.Token, "to": m.To, "body": m.Text}
	}},
	{Name: "to-text", Build: func(_ Config, m Message) map[string]any {
		return map[string]any{"to": m.To, "text": m.Text}
	}},
	{Name: "phone-message", Build: func(_ Config, m Message) map[string]any {
		return map[string]any{"phone": m.To, "message": m.Text}
	}},
	{Name: "session-chat-id", ChatID: true, Build: func(c Config, m Message) map[string]any {
		if c.InstanceID == "" {
			return nil
		}
		return map[string]any{"session": c.InstanceID, "chatId": m.chatID(), "text": m.Text}
	}},
	{Name: "session-number", Build: func(c Config, m Message) map[string]any {
		if c.InstanceID == "" {
			return nil
		}
		return map[string]any{"session": c.InstanceID, "number": util.PhoneDigits(m.To), "text": m.Text}
	}},
	{Name: "sender-to", Build: func(c Config, m Message) map[string]any {
		if c.SenderNumber == "" {
			return nil
		}
		return map[string]any{"from": c.SenderNumber, "to": m.To, "text": m.Text}
	}},
	{Name: "sender-phone", Build: func(c Config, m Message) map[string]any {
		if c.SenderNumber == "" {
			return nil
		}
		return map[string]any{"sender": c.SenderNumber, "phone": m.To, "message": m.Text}
	}},
}

func trimBase(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "/")
}

// Endpoints lists the candidate URLs, bases outermost.
func Endpoints(c Config) []Endpoint {
	if u := strings.TrimSpace(c.CustomURL); u != "" {
		return []Endpoint{{Name: "custom", URL: u}}
	}

	var bases []string
	seen := map[string]bool{}
	for _, b := range append([]string{c.BaseURL, c.APIBase, c.DefaultBase}, c.FallbackBases...) {
		b = trimBase(b)
		if b == "" || seen[b] {
			continue
		}
		seen[b] = true
		bases = append(bases, b)
	}

	paths := []pathTemplate{}
	if p := strings.TrimSpace(c.SendPath); p != "" {
		paths = append(paths, pathTemplate{"configured", p})
	}
	paths = append(paths, pathCatalog...)

	var out []Endpoint
	for _, b := range bases {
		pathSeen := map[string]bool{}
		for _, p := range paths {
			path, ok := expandPath(p.path, c)
			if !ok || pathSeen[path] {
				continue
			}
			pathSeen[path] = true
			out = append(out, Endpoint{Name: p.name, URL: b + path})
		}
	}
	return out
}

func expandPath(p string, c Config) (string, bool) {
	if strings.Contains(p, "{instance}") {
		if c.InstanceID == "" {
			return "", false
		}
		p = strings.ReplaceAll(p, "{instance}", c.InstanceID)
	}
	if strings.Contains(p, "{token}") {
		if c.Token == "" {
			return "", false
		}
		p = strings.ReplaceAll(p, "{token}", c.Token)
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p, true
}

// Headers lists the header variants whose credentials are configured.
func Headers(c Config) []HeaderVariant {
	var out []HeaderVariant
	for _, v := range headerVariants {
		if v.Build(c) != nil {
			out = append(out, v)
		}
	}
	return out
}

// Bodies lists the body variants whose inputs are configured. In chat-id
// mode the chat-id keyed variants move to the front, keeping relative order.
func Bodies(c Config) []BodyVariant {
	sample := Message{To: "+0", Text: ""}
	var chat, rest []BodyVariant
	for _, v := range bodyVariants {
		if v.Build(c, sample) == nil {
			continue
		}
		if v.ChatID && c.ChatIDMode {
			chat = append(chat, v)
		} else {
			rest = append(rest, v)
		}
	}
	return append(chat, rest...)
}

// Request is one fully resolved combination of the plan.
type Request struct {
	Endpoint Endpoint
	Header   HeaderVariant
	Body     BodyVariant
}

// Strategy names the combination, e.g. "send-message/bearer/chat-id".
func (r Request) Strategy() string {
	return r.Endpoint.Name + "/" + r.Header.Name + "/" + r.Body.Name
}

// Plan enumerates endpoints x headers x bodies in priority order. The result
// depends only on c, so retries walk the same sequence. limit <= 0 means all.
func Plan(c Config, limit int) []Request {
	eps, hs, bs := Endpoints(c), Headers(c), Bodies(c)
	var out []Request
	for _, e := range eps {
		for _, h := range hs {
			for _, b := range bs {
				out = append(out, Request{Endpoint: e, Header: h, Body: b})
				if limit > 0 && len(out) >= limit {
					return out
				}
			}
		}
	}
	return out
}
