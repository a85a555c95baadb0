package observer

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Selectors locate messages inside the conversation page.
type Selectors struct {
	Region string `yaml:"region"` // container of the message list
	Item   string `yaml:"item"`   // one message bubble, inside Region
	Author string `yaml:"author"` // sender name, inside Item
	Text   string `yaml:"text"`   // message body, inside Item
}

// DefaultSelectors match the messenger's conversation view.
var DefaultSelectors = Selectors{
	Region: `[data-marker="messagesHistory/list"]`,
	Item:   `[data-marker^="message("]`,
	Author: `[data-marker="message/author"]`,
	Text:   `[data-marker="message/text"]`,
}

func (s Selectors) withDefaults() Selectors {
	if s.Region == "" {
		s.Region = DefaultSelectors.Region
	}
	if s.Item == "" {
		s.Item = DefaultSelectors.Item
	}
	if s.Author == "" {
		s.Author = DefaultSelectors.Author
	}
	if s.Text == "" {
		s.Text = DefaultSelectors.Text
	}
	return s
}

// LastMessage returns the most recent qualifying message in the region
// markup. Bubbles whose text the filter rejects are skipped; a bubble with
// no author inherits the nearest earlier one, as consecutive messages from
// one sender are grouped under a single name.
func LastMessage(markup string, sel Selectors, f *Filter) (from, text string, ok bool) {
	if strings.TrimSpace(markup) == "" {
		return "", "", false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", "", false
	}
	items := doc.Find(sel.Item)
	for i := items.Length() - 1; i >= 0; i-- {
		item := items.Eq(i)
		body := item.Find(sel.Text).First()
		if body.Length() == 0 {
			body = item
		}
		t, accepted := f.Accept(lastLine(blockText(body)))
		if !accepted {
			continue
		}
		return authorOf(items, i, sel, f), t, true
	}
	return "", "", false
}

func authorOf(items *goquery.Selection, i int, sel Selectors, f *Filter) string {
	for ; i >= 0; i-- {
		if a := f.Normalize(items.Eq(i).Find(sel.Author).First().Text()); a != "" {
			return a
		}
	}
	return ""
}

// lastLine returns the last non-blank line of s, trimmed.
func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

var blockTags = map[string]bool{
	"br": true, "div": true, "p": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "header": true, "footer": true,
}

// blockText approximates the page's innerText: text nodes joined, with a
// line break around block elements. Scripts and styles are skipped.
func blockText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "template":
				return
			}
		}
		block := n.Type == html.ElementNode && blockTags[n.Data]
		if block {
			b.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			b.WriteByte('\n')
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return b.String()
}
