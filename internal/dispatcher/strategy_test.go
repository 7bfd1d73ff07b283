package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names[T any](xs []T, name func(T) string) []string {
	out := make([]string, 0, len(xs))
	for _, x := range xs {
		out = append(out, name(x))
	}
	return out
}

func TestEndpoints_CustomURLIsExclusive(t *testing.T) {
	eps := Endpoints(Config{CustomURL: " https://gw.example/send ", BaseURL: "https://a.example"})
	require.Len(t, eps, 1)
	assert.Equal(t, "https://gw.example/send", eps[0].URL)
}

func TestEndpoints_BaseOrderAndDedup(t *testing.T) {
	eps := Endpoints(Config{
		BaseURL:       "https://base.example/",
		APIBase:       "https://api.example",
		DefaultBase:   "https://base.example",
		FallbackBases: []string{"https://api.green-api.com", " ", "https://api.ultramsg.com"},
		SendPath:      "/custom/send",
	})

	var bases []string
	for _, e := range eps {
		if e.Name == "configured" {
			bases = append(bases, e.URL)
		}
	}
	assert.Equal(t, []string{
		"https://base.example/custom/send",
		"https://api.example/custom/send",
		"https://api.green-api.com/custom/send",
		"https://api.ultramsg.com/custom/send",
	}, bases)
	assert.Equal(t, "https://base.example/custom/send", eps[0].URL)
	assert.Equal(t, "https://base.example/send-message", eps[1].URL)
}

func TestEndpoints_ScopedPathsNeedInstanceAndToken(t *testing.T) {
	plain := names(Endpoints(Config{BaseURL: "https://b"}), func(e Endpoint) string { return e.URL })
	assert.NotContains(t, plain, "https://b/waInstance42/sendMessage/tok")
	for _, u := range plain {
		assert.NotContains(t, u, "{")
	}

	scoped := names(Endpoints(Config{BaseURL: "https://b", InstanceID: "42", Token: "tok"}), func(e Endpoint) string { return e.URL })
	assert.Contains(t, scoped, "https://b/waInstance42/sendMessage/tok")
	assert.Contains(t, scoped, "https://b/42/messages/chat")
	assert.Contains(t, scoped, "https://b/send/tok")
}

func TestHeaders_OnlyConfiguredCredentials(t *testing.T) {
	got := names(Headers(Config{}), func(h HeaderVariant) string { return h.Name })
	assert.Equal(t, []string{"plain"}, got)

	got = names(Headers(Config{BearerToken: "b", Token: "t"}), func(h HeaderVariant) string { return h.Name })
	assert.Equal(t, []string{"plain", "bearer", "bearer-access-token", "x-api-key", "apikey", "token"}, got)

	got = names(Headers(Config{BearerToken: "same", Token: "same"}), func(h HeaderVariant) string { return h.Name })
	assert.NotContains(t, got, "bearer-access-token")

	h := headerVariants[3].Build(Config{Token: "t"})
	assert.Equal(t, "t", h.Get("X-API-Key"))
	assert.Equal(t, "application/json", h.Get("Content-Type"))
}

func TestBodies_RequiredInputsAndChatIDMode(t *testing.T) {
	got := names(Bodies(Config{}), func(b BodyVariant) string { return b.Name })
	assert.Equal(t, []string{"chat-id", "to-text", "phone-message"}, got)

	full := Config{InstanceID: "i", Token: "t", SenderNumber: "+51900000000"}
	got = names(Bodies(full), func(b BodyVariant) string { return b.Name })
	assert.Equal(t, []string{"chat-id", "instance-token", "to-text", "phone-message",
		"session-chat-id", "session-number", "sender-to", "sender-phone"}, got)

	full.ChatIDMode = true
	got = names(Bodies(full), func(b BodyVariant) string { return b.Name })
	assert.Equal(t, []string{"chat-id", "session-chat-id", "instance-token", "to-text", "phone-message",
		"session-number", "sender-to", "sender-phone"}, got)
}

func TestBodies_ChatIDFormat(t *testing.T) {
	body := bodyVariants[0].Build(Config{}, Message{To: "+51987654321", Text: "Hola"})
	assert.Equal(t, "51987654321@c.us", body["chatId"])
	assert.Equal(t, "Hola", body["message"])
}

func TestPlan_DeterministicNesting(t *testing.T) {
	cfg := Config{BaseURL: "https://a", FallbackBases: []string{"https://b"}, BearerToken: "x"}

	p1 := Plan(cfg, 0)
	p2 := Plan(cfg, 0)
	require.Equal(t, names(p1, Request.Strategy), names(p2, Request.Strategy))

	// bodies vary fastest, then headers, then paths, then bases
	assert.Equal(t, "send-message/plain/chat-id", p1[0].Strategy())
	assert.Equal(t, "send-message/plain/to-text", p1[1].Strategy())
	assert.Equal(t, "send-message/bearer/chat-id", p1[3].Strategy())
	assert.Equal(t, "https://a/send-message", p1[0].Endpoint.URL)
	assert.Equal(t, "https://b/send-message", p1[len(p1)/2].Endpoint.URL)

	assert.Len(t, Plan(cfg, 5), 5)
}
