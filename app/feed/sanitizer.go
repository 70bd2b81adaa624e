package feed

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer makes feed HTML safe to store and serve.
type Sanitizer struct {
	policy *bluemonday.Policy
}

func NewSanitizer() *Sanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "hr", "div", "span",
		"b", "strong", "i", "em", "u", "s", "del", "ins", "sub", "sup", "small", "mark", "abbr", "cite", "q",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li", "dl", "dt", "dd",
		"blockquote", "pre", "code", "kbd", "samp",
		"table", "thead", "tbody", "tfoot", "tr", "th", "td", "caption",
		"figure", "figcaption",
	)

	p.RequireParseableURLs(true)
	p.AllowRelativeURLs(false)
	p.AllowURLSchemes("http", "https", "mailto")

	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("title").OnElements("a", "abbr", "img")
	p.RequireNoFollowOnLinks(true)

	p.AllowAttrs("src").Matching(regexp.MustCompile(`(?i)^https?://`)).OnElements("img")
	p.AllowAttrs("alt").OnElements("img")
	p.AllowAttrs("width", "height").Matching(bluemonday.Integer).OnElements("img")
	p.AllowAttrs("colspan", "rowspan").Matching(bluemonday.Integer).OnElements("td", "th")

	return &Sanitizer{policy: p}
}

// Sanitize rewrites relative links against base and strips everything the
// policy does not allow.
func (s *Sanitizer) Sanitize(html string, base *url.URL) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}

	if base != nil {
		html = absolutize(html, base)
	}

	return strings.TrimSpace(s.policy.Sanitize(html))
}

func absolutize(html string, base *url.URL) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}

	rewrite := func(attr string) func(int, *goquery.Selection) {
		return func(_ int, sel *goquery.Selection) {
			val, ok := sel.Attr(attr)
			if !ok {
				return
			}
			ref, err := url.Parse(strings.TrimSpace(val))
			if err != nil {
				sel.RemoveAttr(attr)
				return
			}
			sel.SetAttr(attr, base.ResolveReference(ref).String())
		}
	}

	doc.Find("[href]").Each(rewrite("href"))
	doc.Find("[src]").Each(rewrite("src"))

	body, err := doc.Find("body").Html()
	if err != nil {
		return html
	}

	return body
}

var spaceRun = regexp.MustCompile(`\s+`)

// PlainText returns the visible text of an HTML fragment with whitespace
// collapsed.
func PlainText(html string) string {
	if !strings.Contains(html, "<") {
		return collapseSpace(html)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return collapseSpace(html)
	}

	doc.Find("script, style").Remove()

	return collapseSpace(doc.Text())
}

func collapseSpace(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}
