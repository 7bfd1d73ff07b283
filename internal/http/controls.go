package http

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jmehdipour/clinic-recall/internal/model"
	"github.com/jmehdipour/clinic-recall/internal/service/controls"
)

func (s *Server) listSchedules(c echo.Context) error {
	list, err := s.d.Controls.List(c.Request().Context(), owner(c))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"count": len(list), "results": list})
}

func (s *Server) createSchedule(c echo.Context) error {
	var in controls.NewSchedule
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "bad request")
	}
	in.OwnerID = owner(c)
	sched, err := s.d.Controls.Create(c.Request().Context(), in)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, sched)
}

type transitionFunc func(ctx context.Context, ownerID, id string) (*model.ControlSchedule, error)

func (s *Server) transition(c echo.Context, fn transitionFunc) error {
	sched, err := fn(c.Request().Context(), owner(c), c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, sched)
}

func (s *Server) pauseSchedule(c echo.Context) error  { return s.transition(c, s.d.Controls.Pause) }
func (s *Server) resumeSchedule(c echo.Context) error { return s.transition(c, s.d.Controls.Resume) }
func (s *Server) cancelSchedule(c echo.Context) error { return s.transition(c, s.d.Controls.Cancel) }

func (s *Server) listAppointments(c echo.Context) error {
	list, err := s.d.Appointments.ListBySchedule(c.Request().Context(), owner(c), c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"count": len(list), "results": list})
}
