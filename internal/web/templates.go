package web

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/erazemk/bazaar/internal/logger"
	"github.com/erazemk/bazaar/internal/model"
	webembed "github.com/erazemk/bazaar/web"
)

// Templates holds parsed HTML templates.
type Templates struct {
	templates map[string]*template.Template
}

// FuncMap returns the template function map.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"conditions": func() []model.Condition { return model.Conditions },
		"label":      model.Condition.Label,
		"suggestion": model.Condition.Suggestion,
	}
}

var pages = []string{
	"login.html",
	"register.html",
	"details.html",
	"my_items.html",
	"upload.html",
	"watchlist.html",
	"profile.html",
	"sample.html",
}

// LoadTemplates parses all page templates with the layout.
func LoadTemplates() (*Templates, error) {
	tfs := webembed.TemplatesFS()

	layoutBytes, err := fs.ReadFile(tfs, "layout.html")
	if err != nil {
		return nil, fmt.Errorf("reading layout template: %w", err)
	}

	ts := &Templates{templates: make(map[string]*template.Template)}

	for _, page := range pages {
		pageBytes, err := fs.ReadFile(tfs, page)
		if err != nil {
			return nil, fmt.Errorf("reading template %s: %w", page, err)
		}

		tmpl := template.New(page).Funcs(FuncMap())
		tmpl, err = tmpl.Parse(string(layoutBytes))
		if err != nil {
			return nil, fmt.Errorf("parsing layout for %s: %w", page, err)
		}
		tmpl, err = tmpl.Parse(string(pageBytes))
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", page, err)
		}

		ts.templates[page] = tmpl
	}

	return ts, nil
}

// Render renders a page inside the layout.
func (ts *Templates) Render(w http.ResponseWriter, r *http.Request, name string, data any) {
	ts.RenderStatus(w, r, http.StatusOK, name, data)
}

// RenderStatus is Render with an explicit status code.
func (ts *Templates) RenderStatus(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := ts.execute(&buf, name, "layout", data); err != nil {
		logger.FromRequest(r).Error().Err(err).Str("template", name).Msg("failed to render template")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// Fragment renders one named block of a page, without the layout.
func (ts *Templates) Fragment(page, block string, data any) (string, error) {
	var buf bytes.Buffer
	if err := ts.execute(&buf, page, block, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (ts *Templates) execute(buf *bytes.Buffer, page, block string, data any) error {
	tmpl, ok := ts.templates[page]
	if !ok {
		return fmt.Errorf("template %s not found", page)
	}
	return tmpl.ExecuteTemplate(buf, block, data)
}

// PageData is the base data passed to all templates.
type PageData struct {
	Title   string
	User    *model.Identity
	Error   string
	Success string
}
