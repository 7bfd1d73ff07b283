package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jmehdipour/clinic-recall/internal/model"
	"github.com/jmehdipour/clinic-recall/internal/repository"
	"github.com/jmehdipour/clinic-recall/internal/util"
)

// listMessages returns the latest known status per message from ClickHouse.
func (s *Server) listMessages(c echo.Context) error {
	limit, offset := page(c)

	var st model.MessageStatus
	if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
		tmp := model.MessageStatus(raw)
		if !tmp.Valid() {
			return badRequest(c, "invalid status")
		}
		st = tmp
	}

	phone := util.NormalizePhone(strings.TrimSpace(c.QueryParam("phone")))

	events, err := s.d.Reports.ListLatest(c.Request().Context(), repository.EventFilter{
		OwnerID: owner(c),
		Phone:   phone,
		Status:  st,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"limit":   limit,
		"offset":  offset,
		"count":   len(events),
		"results": events,
	})
}

// statusCounts aggregates events per status over [from, to); the window
// defaults to the last seven days.
func (s *Server) statusCounts(c echo.Context) error {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -7)
	for name, dst := range map[string]*time.Time{"from": &from, "to": &to} {
		if raw := c.QueryParam(name); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return badRequest(c, "invalid "+name)
			}
			*dst = t.UTC()
		}
	}
	if !from.Before(to) {
		return badRequest(c, "from must be before to")
	}
	counts, err := s.d.Reports.CountByStatus(c.Request().Context(), owner(c), from, to)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"from": from, "to": to, "counts": counts})
}
