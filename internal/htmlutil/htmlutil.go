// Package htmlutil holds pure helpers for pulling values out of HTML and
// converting HTML descriptions into the formats sites accept.
package htmlutil

import (
	"fmt"
	"html"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

var markdown = md.NewConverter("", true, nil)

// ExtractInputValue returns the value attribute of the first input named field.
// It returns an empty string when the field is absent or the HTML cannot be parsed.
func ExtractInputValue(html, field string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	sel := fmt.Sprintf(`input[name=%q]`, field)
	return doc.Find(sel).First().AttrOr("value", "")
}

// FindText returns the trimmed text of the first element matching selector.
func FindText(html, selector string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

// ToPlaintext flattens an HTML description into text, keeping paragraph and
// line breaks and rendering links as "text (href)".
func ToPlaintext(src string) string {
	if !strings.Contains(src, "<") {
		return src
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return src
	}

	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		text := a.Text()
		if ok && href != "" && href != text {
			a.ReplaceWithHtml(html.EscapeString(text + " (" + href + ")"))
		}
	})
	doc.Find("p, div, li, h1, h2, h3, h4, h5, h6").AppendHtml("\n\n")

	var (
		out   []string
		blank bool
	)
	for _, line := range strings.Split(doc.Text(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			blank = len(out) > 0
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}

	return strings.Join(out, "\n")
}

// ToMarkdown converts an HTML description to markdown.
func ToMarkdown(src string) (string, error) {
	out, err := markdown.ConvertString(src)
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	return out, nil
}
