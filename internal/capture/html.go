package capture

import (
	"errors"
	"strings"

	"golang.org/x/net/html"
)

// strippedTags are subtrees removed before markup is handed to a caller;
// they carry no visible content and inflate the payload.
var strippedTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
}

// ExtractBody parses markup and returns the body content with script-like
// subtrees removed. Fragments are accepted: the parser wraps them in a
// document, so the body always exists for well-formed input.
func ExtractBody(markup string) (string, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return "", err
	}
	prune(root)

	body := findElement(root, "body")
	if body == nil {
		return "", errors.New("markup has no body")
	}

	var b strings.Builder
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

// prune removes stripped subtrees in place.
func prune(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && strippedTags[c.Data] {
			n.RemoveChild(c)
		} else {
			prune(c)
		}
		c = next
	}
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}
