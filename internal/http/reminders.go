package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/jmehdipour/clinic-recall/internal/http/middleware"
	"github.com/jmehdipour/clinic-recall/internal/model"
	"github.com/jmehdipour/clinic-recall/internal/repository"
	"github.com/jmehdipour/clinic-recall/internal/service/reminders"
)

func owner(c echo.Context) string {
	id, _ := middleware.OwnerIDFromCtx(c)
	return id
}

// page reads limit/offset; out-of-range values fall back to the defaults.
func page(c echo.Context) (limit, offset int) {
	limit = 50
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func (s *Server) listReminders(c echo.Context) error {
	limit, offset := page(c)
	list, err := s.d.Reminders.List(c.Request().Context(), repository.ReminderFilter{
		OwnerID:   owner(c),
		PatientID: strings.TrimSpace(c.QueryParam("patientId")),
		Status:    model.ReminderStatus(strings.TrimSpace(c.QueryParam("status"))),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"limit":   limit,
		"offset":  offset,
		"count":   len(list),
		"results": list,
	})
}

func (s *Server) createReminder(c echo.Context) error {
	var in reminders.ManualReminder
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "bad request")
	}
	in.OwnerID = owner(c)
	rem, err := s.d.Reminders.Create(c.Request().Context(), in)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, rem)
}

func (s *Server) deleteReminder(c echo.Context) error {
	if err := s.d.Reminders.Delete(c.Request().Context(), owner(c), c.Param("id")); err != nil {
		return s.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// sendReminder delivers one reminder immediately. A provider rejection is
// not an HTTP error: the failed log is returned with 200.
func (s *Server) sendReminder(c echo.Context) error {
	log, err := s.d.Reminders.SendNow(c.Request().Context(), owner(c), c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, log)
}

func (s *Server) reminderLogs(c echo.Context) error {
	logs, err := s.d.Reminders.Attempts(c.Request().Context(), owner(c), c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"count": len(logs), "results": logs})
}

func (s *Server) processDue(c echo.Context) error {
	sum, err := s.d.Reminders.ProcessDueNow(c.Request().Context())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (s *Server) serviceCompleted(c echo.Context) error {
	var in reminders.ServiceCompletion
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "bad request")
	}
	in.OwnerID = owner(c)
	rem, err := s.d.Reminders.FromServiceCompletion(c.Request().Context(), in)
	return s.scheduled(c, rem, err)
}

func (s *Server) treatmentRecorded(c echo.Context) error {
	var in reminders.TreatmentRecord
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "bad request")
	}
	in.OwnerID = owner(c)
	rem, err := s.d.Reminders.FromTreatmentRecord(c.Request().Context(), in)
	return s.scheduled(c, rem, err)
}

func (s *Server) scheduled(c echo.Context, rem *model.Reminder, err error) error {
	if err != nil {
		return s.writeError(c, err)
	}
	if rem == nil {
		return c.JSON(http.StatusOK, map[string]any{"scheduled": false})
	}
	return c.JSON(http.StatusCreated, map[string]any{"scheduled": true, "reminder": rem})
}
