package monitor

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/net/html"
)

// Normalize strips markup down to visible text: script, style and
// noscript subtrees are dropped, remaining text nodes are joined with
// collapsed whitespace. Fingerprinting the normalized text instead of
// the raw body keeps rotating nonces and inline-script churn from
// reading as content changes.
func Normalize(raw string) string {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		// Not HTML; fingerprint the raw text as-is.
		return collapseWhitespace(raw)
	}
	var b strings.Builder
	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(doc)
	return collapseWhitespace(b.String())
}

// Fingerprint digests normalized content for change comparison.
func Fingerprint(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
