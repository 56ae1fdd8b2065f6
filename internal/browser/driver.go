package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
)

// Element describes a matched DOM node.
type Element struct {
	Selector string `json:"selector"`
	Tag      string `json:"tag"`
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Type     string `json:"type,omitempty"`
	Text     string `json:"text,omitempty"`
	Visible  bool   `json:"visible"`
}

// Driver is the page-level capability the portal automation works through.
// A Driver is owned by exactly one filing at a time.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	FindElement(ctx context.Context, selector string) (Element, error)
	IsVisible(ctx context.Context, selector string) (bool, error)
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	Select(ctx context.Context, selector, value string) error
	SetChecked(ctx context.Context, selector string, checked bool) error
	Press(ctx context.Context, selector, key string) error
	InputValue(ctx context.Context, selector string) (string, error)
	WaitForLoad(ctx context.Context) error
	Reload(ctx context.Context) error
	CurrentURL(ctx context.Context) (string, error)
	PageText(ctx context.Context) (string, error)
	PageHTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// Session is one sidecar browser context. It implements Driver.
type Session struct {
	id     string
	client *Client
}

var _ Driver = (*Session)(nil)

func (s *Session) ID() string { return s.id }

// Close ends the browser context on the sidecar.
func (s *Session) Close(ctx context.Context) error {
	return s.client.CloseSession(ctx, s.id)
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	_, err := s.client.action(ctx, s.id, "navigate", actionRequest{URL: url})
	return err
}

func (s *Session) FindElement(ctx context.Context, selector string) (Element, error) {
	out, err := s.client.action(ctx, s.id, "query", actionRequest{Selector: selector})
	if err != nil {
		return Element{}, err
	}
	if out.Element == nil {
		return Element{}, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return *out.Element, nil
}

// IsVisible reports false, not an error, for selectors that match nothing.
func (s *Session) IsVisible(ctx context.Context, selector string) (bool, error) {
	el, err := s.FindElement(ctx, selector)
	if errors.Is(err, ErrElementNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return el.Visible, nil
}

func (s *Session) Fill(ctx context.Context, selector, value string) error {
	_, err := s.client.action(ctx, s.id, "fill", actionRequest{Selector: selector, Value: value})
	return err
}

func (s *Session) Click(ctx context.Context, selector string) error {
	_, err := s.client.action(ctx, s.id, "click", actionRequest{Selector: selector})
	return err
}

func (s *Session) Select(ctx context.Context, selector, value string) error {
	_, err := s.client.action(ctx, s.id, "select", actionRequest{Selector: selector, Value: value})
	return err
}

func (s *Session) SetChecked(ctx context.Context, selector string, checked bool) error {
	_, err := s.client.action(ctx, s.id, "check", actionRequest{Selector: selector, Checked: &checked})
	return err
}

func (s *Session) Press(ctx context.Context, selector, key string) error {
	_, err := s.client.action(ctx, s.id, "press", actionRequest{Selector: selector, Key: key})
	return err
}

func (s *Session) InputValue(ctx context.Context, selector string) (string, error) {
	out, err := s.client.action(ctx, s.id, "value", actionRequest{Selector: selector})
	if err != nil {
		return "", err
	}
	return out.Value, nil
}

func (s *Session) WaitForLoad(ctx context.Context) error {
	_, err := s.client.action(ctx, s.id, "wait", actionRequest{})
	return err
}

func (s *Session) Reload(ctx context.Context) error {
	_, err := s.client.action(ctx, s.id, "reload", actionRequest{})
	return err
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	out, err := s.client.action(ctx, s.id, "url", actionRequest{})
	if err != nil {
		return "", err
	}
	return out.URL, nil
}

func (s *Session) PageText(ctx context.Context) (string, error) {
	out, err := s.client.action(ctx, s.id, "text", actionRequest{})
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

func (s *Session) PageHTML(ctx context.Context) (string, error) {
	out, err := s.client.action(ctx, s.id, "content", actionRequest{})
	if err != nil {
		return "", err
	}
	return out.HTML, nil
}

// Screenshot returns a full-page PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	out, err := s.client.action(ctx, s.id, "screenshot", actionRequest{FullPage: true})
	if err != nil {
		return nil, err
	}
	png, err := base64.StdEncoding.DecodeString(out.Screenshot)
	if err != nil {
		return nil, fmt.Errorf("browser: decode screenshot: %w", err)
	}
	return png, nil
}
