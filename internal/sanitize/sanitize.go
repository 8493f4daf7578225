// Package sanitize reduces remote HTML content to plain text. Remote
// summaries and notes arrive as markup from a server we don't control;
// nothing downstream of the federation layer renders HTML.
package sanitize

import (
	"strings"

	"golang.org/x/net/html"
)

// blocky tags that imply a break when flattened to text.
var breakAfter = map[string]bool{
	"p": true, "br": true, "div": true, "li": true, "blockquote": true,
}

// raw text elements whose contents are never text.
var dropContents = map[string]bool{
	"script": true, "style": true,
}

// Text strips all markup from the fragment, keeping the text content.
// Block-level boundaries become single newlines. Invalid markup is
// handled the way browsers handle it, not rejected.
func Text(fragment string) string {
	var sb strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(sb.String())
		case html.TextToken:
			sb.Write(tokenizer.Text())
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if dropContents[string(name)] {
				skipElement(tokenizer, string(name))
			}
		case html.EndTagToken, html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			if breakAfter[string(name)] {
				sb.WriteString("\n")
			}
		}
	}
}

func skipElement(tokenizer *html.Tokenizer, until string) {
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return
		case html.EndTagToken:
			if name, _ := tokenizer.TagName(); string(name) == until {
				return
			}
		}
	}
}
