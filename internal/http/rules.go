package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jmehdipour/clinic-recall/internal/rules"
)

func (s *Server) listRules(c echo.Context) error {
	list, err := s.d.Rules.List(c.Request().Context(), owner(c))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"count": len(list), "results": list})
}

func (s *Server) createRule(c echo.Context) error {
	var in rules.Input
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "bad request")
	}
	rule, err := s.d.Rules.Create(c.Request().Context(), owner(c), in)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, rule)
}

func (s *Server) updateRule(c echo.Context) error {
	var in rules.Input
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "bad request")
	}
	rule, err := s.d.Rules.Update(c.Request().Context(), owner(c), c.Param("id"), in)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, rule)
}
