package handler

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"path"
	"time"

	"github.com/labstack/echo/v4"
)

//go:embed templates static
var assets embed.FS

// StaticFS holds the viewer script and stylesheet served under /static.
func StaticFS() fs.FS {
	sub, err := fs.Sub(assets, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// Renderer implements echo.Renderer.  Each page is parsed together with the
// shared layout, except embed.html which stands alone.
type Renderer struct {
	pages map[string]*template.Template
}

var funcs = template.FuncMap{
	"add":  func(a, b int) int { return a + b },
	"date": func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04") },
	// stylesheet text is checked for markup at upload
	"css": func(s string) template.CSS { return template.CSS(s) },
}

// NewRenderer parses every embedded page template.
func NewRenderer() (*Renderer, error) {
	names, err := fs.Glob(assets, "templates/*.html")
	if err != nil {
		return nil, err
	}
	r := &Renderer{pages: map[string]*template.Template{}}
	for _, n := range names {
		base := path.Base(n)
		if base == "layout.html" {
			continue
		}
		files := []string{"templates/layout.html", n}
		if base == "embed.html" {
			files = []string{n}
		}
		t, err := template.New(base).Funcs(funcs).ParseFS(assets, files...)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", base, err)
		}
		r.pages[base] = t
	}
	return r, nil
}

func (r *Renderer) Render(w io.Writer, name string, data any, _ echo.Context) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("template %q not found", name)
	}
	return t.ExecuteTemplate(w, "layout", data)
}
