// ABOUTME: Template loading and rendering for the admin UI.
// ABOUTME: Embeds HTML templates; every page gets its own clone of the layout.

package admin

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
)

//go:embed templates/*.html templates/probes/*.html
var templateFS embed.FS

var funcs = template.FuncMap{
	"join": strings.Join,
}

var (
	layoutTmpl   *template.Template
	pageTmpls    map[string]*template.Template
	partialTmpls *template.Template
)

// partialPaths are row templates re-rendered alone for htmx swaps
var partialPaths = []string{
	"templates/probes/row.html",
}

var pageDefinitions = map[string]string{
	"dashboard":   "templates/dashboard.html",
	"modules":     "templates/modules.html",
	"probes-list": "templates/probes/list.html",
}

func parsePageTemplates() map[string]*template.Template {
	templates := make(map[string]*template.Template)
	for name, path := range pageDefinitions {
		tmpl := template.Must(layoutTmpl.Clone())
		tmpl = template.Must(tmpl.ParseFS(templateFS, path))
		tmpl = template.Must(tmpl.ParseFS(templateFS, partialPaths...))
		templates[name] = tmpl
	}
	return templates
}

func init() {
	layoutTmpl = template.Must(template.New("layout").Funcs(funcs).ParseFS(templateFS, "templates/layout.html"))
	partialTmpls = template.Must(template.New("partials").Funcs(funcs).ParseFS(templateFS, partialPaths...))
	pageTmpls = parsePageTemplates()
}

func renderPage(w io.Writer, page string, data any) error {
	tmpl, ok := pageTmpls[page]
	if !ok {
		return fmt.Errorf("unknown page %q", page)
	}
	return tmpl.ExecuteTemplate(w, "layout", data)
}

func renderPartial(w io.Writer, name string, data any) error {
	return partialTmpls.ExecuteTemplate(w, name, data)
}
