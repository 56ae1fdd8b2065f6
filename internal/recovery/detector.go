// Package recovery finds validation errors on a portal page, repairs them
// once with the decision oracle, and clears portal-level system errors.
package recovery

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/wolfman30/lca-filing-automation/internal/browser"
	"github.com/wolfman30/lca-filing-automation/internal/lca"
)

// errorClasses mark elements that carry a validation message.
var errorClasses = []string{
	"error-message", "errormessage", "field-error", "fielderror",
	"validation-error", "usa-error-message", "alert-danger", "invalid-feedback",
}

// containerClasses mark the wrapper that groups a label, input and message.
var containerClasses = []string{"form-group", "field-container", "input-group", "usa-form-group"}

// Detector scans page markup for validation errors.
type Detector struct{}

// Scan reads the page and returns every error message it finds.
func (Detector) Scan(ctx context.Context, d browser.Driver) ([]lca.FieldError, error) {
	page, err := d.PageHTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("recovery: read page: %w", err)
	}
	return ParseErrors(page)
}

// ParseErrors finds error messages and attributes each to a field by, in
// order: an explicit data-field-id or for attribute, the input inside the
// enclosing form group, or the closest preceding input.
func ParseErrors(markup string) ([]lca.FieldError, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("recovery: parse page: %w", err)
	}

	var (
		out       []lca.FieldError
		seen      = map[string]bool{}
		lastInput string
	)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if isInput(n) {
				if id := inputKey(n); id != "" {
					lastInput = id
				}
				if strings.EqualFold(attr(n, "aria-invalid"), "true") {
					add(&out, seen, lca.FieldError{FieldID: inputKey(n), Message: invalidMessage(n)})
				}
			}
			if isErrorNode(n) {
				msg := strings.Join(strings.Fields(textContent(n)), " ")
				if msg != "" {
					add(&out, seen, lca.FieldError{FieldID: associate(n, lastInput), Message: msg})
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out, nil
}

// add keeps the first message per field; messages for the same field from
// aria-invalid and an error element collapse into the more specific one.
func add(out *[]lca.FieldError, seen map[string]bool, e lca.FieldError) {
	key := e.FieldID + "\x00" + e.Message
	if seen[key] {
		return
	}
	if e.FieldID != "" {
		for i, prev := range *out {
			if prev.FieldID == e.FieldID {
				if prev.Message == genericInvalid {
					(*out)[i] = e
				}
				seen[key] = true
				return
			}
		}
	}
	seen[key] = true
	*out = append(*out, e)
}

const genericInvalid = "Invalid value"

func invalidMessage(n *html.Node) string {
	if msg := attr(n, "data-error"); msg != "" {
		return msg
	}
	return genericInvalid
}

func isErrorNode(n *html.Node) bool {
	if strings.EqualFold(attr(n, "role"), "alert") {
		return true
	}
	return hasClass(n, errorClasses...)
}

func associate(n *html.Node, lastInput string) string {
	for _, key := range []string{"data-field-id", "data-for", "for"} {
		if v := attr(n, key); v != "" {
			return v
		}
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		if v := attr(p, "data-field-id"); v != "" {
			return v
		}
		if hasClass(p, containerClasses...) {
			if id := firstInput(p); id != "" {
				return id
			}
			break
		}
	}
	return lastInput
}

func firstInput(n *html.Node) string {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && isInput(c) {
			if id := inputKey(c); id != "" {
				return id
			}
		}
		if id := firstInput(c); id != "" {
			return id
		}
	}
	return ""
}

func isInput(n *html.Node) bool {
	switch n.Data {
	case "select", "textarea":
		return true
	case "input":
		switch strings.ToLower(attr(n, "type")) {
		case "hidden", "submit", "button", "image", "reset":
			return false
		}
		return true
	}
	return false
}

func inputKey(n *html.Node) string {
	if strings.EqualFold(attr(n, "type"), "radio") {
		if name := attr(n, "name"); name != "" {
			return name
		}
	}
	if id := attr(n, "id"); id != "" {
		return id
	}
	return attr(n, "name")
}

func hasClass(n *html.Node, classes ...string) bool {
	for _, c := range strings.Fields(strings.ToLower(attr(n, "class"))) {
		for _, want := range classes {
			if c == want {
				return true
			}
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(c *html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			walk(k)
		}
	}
	walk(n)
	return b.String()
}
