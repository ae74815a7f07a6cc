// Package web は画面のテンプレートを埋め込みで提供します。
package web

import (
	"embed"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

// Templates は全画面のテンプレートを読み込みます。
// 各ページは layout.html の header と footer を共有します。
func Templates() (*template.Template, error) {
	return template.ParseFS(templateFS, "templates/*.html")
}

// MustTemplates は Templates の失敗時に panic します。埋め込みテンプレートの構文誤りは起動時に検出します。
func MustTemplates() *template.Template {
	return template.Must(Templates())
}
