// Package browsertest provides an in-memory browser.Driver for tests.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/wolfman30/lca-filing-automation/internal/browser"
)

// Action is one recorded driver call.
type Action struct {
	Op       string
	Selector string
	Value    string
}

// Page is a scriptable fake page. Selectors listed in Visible exist and are
// visible; Fill and friends accept any selector unless it is in Missing.
// OnClick and OnFill hooks let tests model page transitions.
type Page struct {
	mu sync.Mutex

	id       string
	Visible  map[string]bool
	Texts    map[string]string
	Missing  map[string]bool
	Values   map[string]string
	Checked  map[string]bool
	HTML     string
	Text     string
	URL      string
	Fail     map[string]error
	OnClick  map[string]func(p *Page)
	OnFill   map[string]func(p *Page, value string)
	OnReload func(p *Page)
	Log      []Action
	Closed   bool
}

var _ browser.PooledDriver = (*Page)(nil)

// NewPage returns an empty page with the given session id.
func NewPage(id string) *Page {
	return &Page{
		id:      id,
		Visible: map[string]bool{},
		Texts:   map[string]string{},
		Missing: map[string]bool{},
		Values:  map[string]string{},
		Checked: map[string]bool{},
		Fail:    map[string]error{},
		OnClick: map[string]func(p *Page){},
		OnFill:  map[string]func(p *Page, value string){},
	}
}

// Show marks selectors visible. Call from hooks or under no lock.
func (p *Page) Show(selectors ...string) {
	for _, s := range selectors {
		p.Visible[s] = true
	}
}

// Hide removes selectors from the page.
func (p *Page) Hide(selectors ...string) {
	for _, s := range selectors {
		delete(p.Visible, s)
	}
}

// Actions returns a copy of the call log.
func (p *Page) Actions() []Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Action(nil), p.Log...)
}

// Did reports whether op was called with selector.
func (p *Page) Did(op, selector string) bool {
	for _, a := range p.Actions() {
		if a.Op == op && a.Selector == selector {
			return true
		}
	}
	return false
}

// Value returns the last filled value of selector.
func (p *Page) Value(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Values[selector]
}

// Set mutates the page under its lock.
func (p *Page) Set(fn func(p *Page)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *Page) record(op, selector, value string) error {
	p.Log = append(p.Log, Action{Op: op, Selector: selector, Value: value})
	if err := p.Fail[op]; err != nil {
		return err
	}
	if selector != "" && p.Missing[selector] {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	return nil
}

func (p *Page) ID() string { return p.id }

func (p *Page) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("navigate", "", url); err != nil {
		return err
	}
	p.URL = url
	return ctx.Err()
}

func (p *Page) FindElement(_ context.Context, selector string) (browser.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("query", selector, ""); err != nil {
		return browser.Element{}, err
	}
	if !p.Visible[selector] {
		return browser.Element{}, fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	return browser.Element{Selector: selector, Text: p.Texts[selector], Visible: true}, nil
}

func (p *Page) IsVisible(_ context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.Fail["query"]; err != nil {
		return false, err
	}
	return p.Visible[selector], nil
}

func (p *Page) Fill(_ context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("fill", selector, value); err != nil {
		return err
	}
	p.Values[selector] = value
	if hook := p.OnFill[selector]; hook != nil {
		hook(p, value)
	}
	return nil
}

func (p *Page) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("click", selector, ""); err != nil {
		return err
	}
	if hook := p.OnClick[selector]; hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) Select(_ context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("select", selector, value); err != nil {
		return err
	}
	p.Values[selector] = value
	return nil
}

func (p *Page) SetChecked(_ context.Context, selector string, checked bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("check", selector, fmt.Sprint(checked)); err != nil {
		return err
	}
	p.Checked[selector] = checked
	return nil
}

func (p *Page) Press(_ context.Context, selector, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record("press", selector, key)
}

func (p *Page) InputValue(_ context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("value", selector, ""); err != nil {
		return "", err
	}
	return p.Values[selector], nil
}

func (p *Page) WaitForLoad(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("wait", "", ""); err != nil {
		return err
	}
	return ctx.Err()
}

func (p *Page) Reload(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("reload", "", ""); err != nil {
		return err
	}
	if p.OnReload != nil {
		p.OnReload(p)
	}
	return nil
}

func (p *Page) CurrentURL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.URL, nil
}

func (p *Page) PageText(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("text", "", ""); err != nil {
		return "", err
	}
	return p.Text, nil
}

func (p *Page) PageHTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("content", "", ""); err != nil {
		return "", err
	}
	return p.HTML, nil
}

func (p *Page) Screenshot(context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("screenshot", "", ""); err != nil {
		return nil, err
	}
	return []byte("\x89PNG fake " + strings.ReplaceAll(p.id, " ", "_")), nil
}
