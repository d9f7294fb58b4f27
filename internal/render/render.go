// Package render turns user-authored text into safe output.
package render

import (
	"bytes"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

var (
	md = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			gmhtml.WithHardWraps(),
		),
	)
	ugc    = bluemonday.UGCPolicy()
	strict = bluemonday.StrictPolicy()
)

func init() {
	ugc.AllowImages()
	ugc.AddTargetBlankToFullyQualifiedLinks(true)
	ugc.RequireNoReferrerOnLinks(true)
}

// PlainText renders a post body and strips the resulting markup, leaving
// the readable text for previews.
func PlainText(source string) string {
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(Markdown(source))))
}

// Markdown renders a post body to sanitized HTML. On a conversion error the
// escaped source is returned.
func Markdown(source string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(source), &buf); err != nil {
		return html.EscapeString(source)
	}
	return ugc.Sanitize(buf.String())
}
