package report

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const reportCSS = `body{font-family:-apple-system,"Segoe UI",Helvetica,Arial,sans-serif;color:#1c1917;max-width:1000px;margin:0 auto;padding:1rem;}` +
	`h1{border-bottom:2px solid #1e3a5f;padding-bottom:0.3rem;}` +
	`table{width:100%;border-collapse:collapse;border:1px solid #a8a29e;font-size:0.85rem;margin-bottom:1rem;}` +
	`th,td{border:1px solid #a8a29e;padding:0.35rem 0.45rem;text-align:left;vertical-align:top;}` +
	`thead th{background:#f1f5f9;font-weight:700;}` +
	`blockquote{border-left:4px solid #b45309;background:#fef3c7;margin:0;padding:0.5rem 1rem;}` +
	`@media print{@page{size:A4;margin:12mm;}body{padding:0;}}`

// HTML converts the markdown summary into a standalone document.
func HTML(markdown string) (string, error) {
	var content strings.Builder
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(markdown), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return "<!doctype html><html><head><meta charset='utf-8'><title>Price Review Scenario Run</title>" +
		"<style>" + reportCSS + "</style></head><body>" +
		content.String() +
		"</body></html>", nil
}
