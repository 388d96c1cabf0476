package api

import (
	"embed"
	"html/template"
	"strconv"
	"strings"
)

//go:embed templates/*
var templateFS embed.FS

// newTemplates parses the embedded HTML templates.
func newTemplates() *template.Template {
	funcs := template.FuncMap{
		"yearList": func(years []int) string {
			parts := make([]string, len(years))
			for i, y := range years {
				parts[i] = strconv.Itoa(y)
			}
			return strings.Join(parts, " vs ")
		},
	}
	return template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html"))
}
