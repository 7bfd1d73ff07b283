package http

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jmehdipour/clinic-recall/internal/service/webhook"
)

const maxWebhookBody = 1 << 20

// chatWebhook acknowledges every well-formed callback, matched or not. Only
// unreadable bodies and store failures answer 500.
func (s *Server) chatWebhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "read body"})
	}
	ev, err := webhook.ParseEvent(body)
	if err != nil {
		s.log.Warn("malformed webhook", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "malformed payload"})
	}
	if _, err := s.d.Webhook.Reconcile(c.Request().Context(), ev); err != nil {
		s.log.Error("webhook reconcile failed",
			zap.String("provider_message_id", ev.MessageID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "store error"})
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
