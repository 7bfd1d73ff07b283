package render

import (
	"io"
	"strings"
	"time"

	"github.com/valyala/fasttemplate"

	"github.com/jmehdipour/clinic-recall/internal/model"
)

const dateLayout = "02/01/2006"

// Renderer fills {placeholder} tokens in reminder templates.
type Renderer struct {
	loc *time.Location
}

// New returns a Renderer formatting dates in loc (UTC when nil).
func New(loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{loc: loc}
}

// Vars is the placeholder map a template is rendered against.
func (r *Renderer) Vars(p model.Patient, svc *model.Service, dueAt *time.Time) map[string]string {
	vars := map[string]string{
		"nombre":    p.FirstName,
		"apellidos": p.LastName,
		"servicio":  "",
		"fecha":     "",
		"telefono":  p.Phone,
	}
	if svc != nil {
		vars["servicio"] = svc.Name
	}
	if dueAt != nil && !dueAt.IsZero() {
		vars["fecha"] = dueAt.In(r.loc).Format(dateLayout)
	}
	return vars
}

// Render substitutes every {key} in tpl. Unknown keys render as "", and a
// template with an unclosed tag is returned unchanged.
func (r *Renderer) Render(tpl string, p model.Patient, svc *model.Service, dueAt *time.Time) string {
	t, err := fasttemplate.NewTemplate(tpl, "{", "}")
	if err != nil {
		return tpl
	}
	vars := r.Vars(p, svc, dueAt)
	return t.ExecuteFuncString(func(w io.Writer, tag string) (int, error) {
		v, ok := vars[strings.TrimSpace(tag)]
		if !ok {
			return 0, nil
		}
		return io.WriteString(w, v)
	})
}
