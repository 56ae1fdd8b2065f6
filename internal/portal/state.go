package portal

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/wolfman30/lca-filing-automation/internal/browser"
)

// Snapshot captures the current form values keyed by input id (or name).
// The sidecar serializes live input state into the markup it returns.
func Snapshot(ctx context.Context, d browser.Driver) (map[string]any, error) {
	page, err := d.PageHTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("portal: read form state: %w", err)
	}
	return ParseFormState(page)
}

// ParseFormState extracts input, select and textarea values from markup.
func ParseFormState(markup string) (map[string]any, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("portal: parse form markup: %w", err)
	}
	state := map[string]any{}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "input":
				readInput(n, state)
			case "select":
				if key := fieldKey(n); key != "" {
					state[key] = selectedOption(n)
				}
			case "textarea":
				if key := fieldKey(n); key != "" {
					state[key] = textContent(n)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return state, nil
}

func readInput(n *html.Node, state map[string]any) {
	typ := strings.ToLower(attr(n, "type"))
	switch typ {
	case "hidden", "submit", "button", "image", "reset":
		return
	case "radio":
		name := attr(n, "name")
		if name == "" {
			name = attr(n, "id")
		}
		if name != "" && hasAttr(n, "checked") {
			state[name] = attr(n, "value")
		}
		return
	case "checkbox":
		if key := fieldKey(n); key != "" {
			state[key] = hasAttr(n, "checked")
		}
		return
	}
	if key := fieldKey(n); key != "" {
		state[key] = attr(n, "value")
	}
}

func selectedOption(n *html.Node) string {
	var first, chosen string
	var found, haveFirst bool
	var walk func(c *html.Node)
	walk = func(c *html.Node) {
		if found {
			return
		}
		if c.Type == html.ElementNode && c.Data == "option" {
			v := attr(c, "value")
			if !hasAttr(c, "value") {
				v = strings.TrimSpace(textContent(c))
			}
			if !haveFirst {
				first, haveFirst = v, true
			}
			if hasAttr(c, "selected") {
				chosen, found = v, true
				return
			}
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			walk(k)
		}
	}
	walk(n)
	if found {
		return chosen
	}
	return first
}

func fieldKey(n *html.Node) string {
	if id := attr(n, "id"); id != "" {
		return id
	}
	return attr(n, "name")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(c *html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			walk(k)
		}
	}
	walk(n)
	return b.String()
}
