package render

import (
	"html/template"

	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"
)

var markdownPolicy = bluemonday.UGCPolicy()

// Markdown converts a provider description to safe HTML
func Markdown(markdown string) template.HTML {
	unsafe := blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(blackfriday.CommonExtensions))
	return template.HTML(markdownPolicy.SanitizeBytes(unsafe))
}
