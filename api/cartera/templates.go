package cartera

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"CarteraDash/api/cartera/portafolio"
	"CarteraDash/api/constants"
	"CarteraDash/internal/logger"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	layoutTemplate = "layout.html"

	pageIndex   = "index.html"
	pageDetalle = "detalle.html"
	pageGestion = "gestion.html"
	pageUpload  = "upload.html"
)

// Page carries what the layout shows on every screen.
type Page struct {
	Nav             string
	FechaProyectado string
	FechaPagos      string
	Error           string
}

type tableView struct {
	Title   string
	Heads   []string
	Franjas []string
	Rows    []portafolio.Row
}

// FormatMoney renders pesos with dot thousands and no decimals: $ 1.234.567
func FormatMoney(v float64) string {
	return "$ " + humanize.FormatFloat("#.###,", v)
}

func FormatPct(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

func FormatCount(n int) string {
	return humanize.FormatInteger("#.###,", n)
}

func templateFuncs(loc *time.Location) template.FuncMap {
	return template.FuncMap{
		"money": FormatMoney,
		"pct":   FormatPct,
		"count": FormatCount,
		"add":   func(a, b int) int { return a + b },
		"stamp": func(t time.Time) string {
			return t.In(loc).Format(constants.FileStampFormat)
		},
		"seccion": func(title string, franjas []string, rows []portafolio.Row, heads ...string) tableView {
			return tableView{Title: title, Heads: heads, Franjas: franjas, Rows: rows}
		},
	}
}

// loadTemplates parses every page together with the shared layout.
func loadTemplates(loc *time.Location) (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template)
	for _, page := range []string{pageIndex, pageDetalle, pageGestion, pageUpload} {
		t, err := template.New(layoutTemplate).
			Funcs(templateFuncs(loc)).
			ParseFS(templateFS, "templates/"+layoutTemplate, "templates/"+page)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", page, err)
		}
		pages[page] = t
	}
	return pages, nil
}

// render executes into a buffer first so a template error still yields a clean 500.
func (d *Dashboard) render(w http.ResponseWriter, status int, page string, data interface{}) {
	t, ok := d.pages[page]
	if !ok {
		http.Error(w, constants.ErrRenderFailed, http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, layoutTemplate, data); err != nil {
		logger.L().Errorw("template render failed", "page", page, "error", err)
		http.Error(w, constants.ErrRenderFailed, http.StatusInternalServerError)
		return
	}
	w.Header().Set(constants.ContentTypeText, constants.ContentTypeHTML)
	w.WriteHeader(status)
	buf.WriteTo(w)
}
