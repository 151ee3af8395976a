package web

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"emperror.dev/errors"
	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = []string{"index", "detail", "results", "login", "signup", "error"}

var templateFuncs = template.FuncMap{
	"humanizeTime": func(t time.Time) string { return humanize.Time(t) },
	"comma":        func(n int) string { return humanize.Comma(int64(n)) },
	"pluralize": func(n int) string {
		if n == 1 {
			return ""
		}
		return "s"
	},
}

// parseTemplates builds one template set per page on top of the base layout.
func parseTemplates() (map[string]*template.Template, error) {
	templates := make(map[string]*template.Template, len(pages))
	for _, page := range pages {
		t, err := template.New(page).Funcs(templateFuncs).ParseFS(templateFS, "templates/base.html", "templates/"+page+".html")
		if err != nil {
			return nil, errors.WrapIfWithDetails(err, "failed to parse template", "page", page)
		}
		templates[page] = t
	}
	return templates, nil
}

// render executes a page with the session, pending flashes and CSRF token added.
func (s *Server) render(c *gin.Context, status int, page string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}

	sess := currentSession(c)
	data["session"] = sess
	data["messages"] = sess.PopFlashes()
	data["csrf"] = sess.CSRF()

	c.Render(status, render.HTML{Template: s.templates[page], Name: "base", Data: data})
}

func (s *Server) notFound(c *gin.Context) {
	s.render(c, http.StatusNotFound, "error", gin.H{"status": http.StatusNotFound, "message": "Page not found."})
}

func (s *Server) serverError(c *gin.Context, err error) {
	_ = c.Error(err)
	requestLogger(c).WithError(err).Error("request failed")
	s.render(c, http.StatusInternalServerError, "error", gin.H{"status": http.StatusInternalServerError, "message": "Something went wrong."})
}

// redirect answers with 302 like a browser form flow expects.
func redirect(c *gin.Context, location string) {
	c.Redirect(http.StatusFound, location)
}
