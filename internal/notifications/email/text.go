package email

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// HTMLToText converts a post body into readable plain text. Block elements
// become paragraphs, list items are bulleted and links keep their target.
// Input that cannot be parsed is returned unchanged.
func HTMLToText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	var w textWriter
	w.walk(doc.Find("body"))
	return strings.TrimSpace(w.sb.String())
}

type textWriter struct {
	sb           strings.Builder
	newlines     int // trailing newlines written
	pendingSpace bool
}

func (w *textWriter) walk(sel *goquery.Selection) {
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		switch name := goquery.NodeName(s); name {
		case "#text":
			w.text(s.Text())
		case "#comment", "script", "style", "head":
		case "br":
			w.newline()
		case "hr":
			w.ensureNewlines(2)
			w.raw("----")
			w.ensureNewlines(2)
		case "li":
			w.ensureNewlines(1)
			w.raw("* ")
			w.walk(s)
			w.ensureNewlines(1)
		case "a":
			w.walk(s)
			href, _ := s.Attr("href")
			if href != "" && !strings.HasPrefix(href, "#") && href != strings.TrimSpace(s.Text()) {
				w.raw(" [" + href + "]")
			}
		case "img":
			if alt, ok := s.Attr("alt"); ok && alt != "" {
				w.text("[" + alt + "]")
			}
		case "p", "div", "blockquote", "pre", "ul", "ol", "table", "tr",
			"h1", "h2", "h3", "h4", "h5", "h6":
			w.ensureNewlines(2)
			w.walk(s)
			w.ensureNewlines(2)
		default:
			w.walk(s)
		}
	})
}

// text writes s with runs of whitespace collapsed to one space.
func (w *textWriter) text(s string) {
	if s == "" {
		return
	}
	first, _ := utf8.DecodeRuneInString(s)
	last, _ := utf8.DecodeLastRuneInString(s)

	fields := strings.Fields(s)
	if len(fields) == 0 {
		w.pendingSpace = true
		return
	}
	if (unicode.IsSpace(first) || w.pendingSpace) && w.sb.Len() > 0 && w.newlines == 0 {
		w.sb.WriteByte(' ')
	}
	w.sb.WriteString(strings.Join(fields, " "))
	w.newlines = 0
	w.pendingSpace = unicode.IsSpace(last)
}

func (w *textWriter) raw(s string) {
	w.sb.WriteString(s)
	w.newlines = 0
	w.pendingSpace = false
}

func (w *textWriter) newline() {
	w.sb.WriteByte('\n')
	w.newlines++
	w.pendingSpace = false
}

func (w *textWriter) ensureNewlines(n int) {
	if w.sb.Len() == 0 {
		return
	}
	for w.newlines < n {
		w.newline()
	}
}
