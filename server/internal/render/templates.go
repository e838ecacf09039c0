package render

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"path"
	"sync"
)

//go:embed templates
var embedded embed.FS

// TemplateSet holds all parsed page templates. Each page is parsed with the
// base layout into its own template so {{define "content"}} blocks never collide.
type TemplateSet struct {
	pages map[string]*template.Template
	mu    sync.RWMutex
}

// Execute renders a page through the "base" layout
func (ts *TemplateSet) Execute(w io.Writer, pageName string, data any) error {
	ts.mu.RLock()
	tmpl, ok := ts.pages[pageName]
	ts.mu.RUnlock()

	if !ok {
		return fmt.Errorf("template %q not found", pageName)
	}
	return tmpl.ExecuteTemplate(w, "base", data)
}

// Has checks if a template exists
func (ts *TemplateSet) Has(pageName string) bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	_, ok := ts.pages[pageName]
	return ok
}

// Names returns all available template names
func (ts *TemplateSet) Names() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	names := make([]string, 0, len(ts.pages))
	for name := range ts.pages {
		names = append(names, name)
	}
	return names
}

// Default loads the templates compiled into the binary
func Default() (*TemplateSet, error) {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		return nil, err
	}
	return LoadTemplates(sub)
}

// LoadTemplates parses layouts/base.html and every pages/*.html of fsys
func LoadTemplates(fsys fs.FS) (*TemplateSet, error) {
	funcMap := template.FuncMap{
		"renderMarkdown": Markdown,
	}

	pageFiles, err := fs.Glob(fsys, "pages/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to list page templates: %w", err)
	}
	if len(pageFiles) == 0 {
		return nil, fmt.Errorf("no page templates found")
	}

	ts := &TemplateSet{pages: make(map[string]*template.Template)}
	for _, pageFile := range pageFiles {
		pageName := path.Base(pageFile)
		pageTemplate, err := template.New("base").Funcs(funcMap).ParseFS(fsys, "layouts/base.html", pageFile)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", pageName, err)
		}
		ts.pages[pageName] = pageTemplate
	}
	return ts, nil
}
