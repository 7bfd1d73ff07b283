package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/jmehdipour/clinic-recall/internal/model"
)

type stubUsers struct {
	users map[string]model.User
	err   error
}

func (s stubUsers) GetByAPIKey(_ context.Context, key string) (*model.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.users[key]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (stubUsers) Upsert(context.Context, model.User) error { return nil }

func TestAPIKeyMiddleware(t *testing.T) {
	users := stubUsers{users: map[string]model.User{
		"good":      {ID: "owner-1", Status: "active"},
		"suspended": {ID: "owner-2", Status: "suspended"},
	}}

	cases := []struct {
		name  string
		key   string
		users stubUsers
		code  int
		owner string
	}{
		{"missing", "", users, http.StatusUnauthorized, ""},
		{"unknown", "nope", users, http.StatusUnauthorized, ""},
		{"suspended", "suspended", users, http.StatusUnauthorized, ""},
		{"store error", "good", stubUsers{err: errors.New("db down")}, http.StatusInternalServerError, ""},
		{"active", "good", users, http.StatusOK, "owner-1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.key != "" {
				req.Header.Set("X-API-Key", tc.key)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			var seen string
			h := APIKeyMiddleware(tc.users)(func(c echo.Context) error {
				seen, _ = OwnerIDFromCtx(c)
				return c.NoContent(http.StatusOK)
			})
			assert.NoError(t, h(c))
			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, tc.owner, seen)
		})
	}
}
