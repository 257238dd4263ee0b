package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"

	"signin-automation/captcha"
)

// Page adapts a rod page to the primitives the solver and the sign-in glue
// use. Each call is bounded by its own timeout.
type Page struct {
	page       *rod.Page
	timeout    time.Duration
	navTimeout time.Duration
	logger     *logrus.Logger

	// client binds the raw protocol client to ctx; replaced in tests
	client func(ctx context.Context) proto.Client

	mu      sync.Mutex
	mouseX  float64
	mouseY  float64
	pressed bool
}

func newPage(p *rod.Page, timeout, navTimeout time.Duration, logger *logrus.Logger) *Page {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if navTimeout <= 0 {
		navTimeout = 30 * time.Second
	}
	page := &Page{page: p, timeout: timeout, navTimeout: navTimeout, logger: logger}
	page.client = func(ctx context.Context) proto.Client {
		return p.Context(ctx)
	}
	return page
}

func (p *Page) bound(ctx context.Context) *rod.Page {
	return p.page.Context(ctx).Timeout(p.timeout)
}

// call runs a raw protocol request under the action timeout.
func (p *Page) call(ctx context.Context, fn func(c proto.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return fn(p.client(ctx))
}

// find returns nil without error when selector matches nothing.
func (p *Page) find(ctx context.Context, selector string) (*rod.Element, error) {
	has, el, err := p.bound(ctx).Has(selector)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}
	return el, nil
}

func (p *Page) must(ctx context.Context, selector string) (*rod.Element, error) {
	el, err := p.find(ctx, selector)
	if err != nil {
		return nil, err
	}
	if el == nil {
		return nil, fmt.Errorf("element not found: %s", selector)
	}
	return el, nil
}

// WaitFor polls for selector until timeout. Absence is not an error.
func (p *Page) WaitFor(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	_, err := p.page.Context(ctx).Timeout(timeout).Element(selector)
	switch {
	case err == nil:
		return true, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return false, nil
	default:
		return false, err
	}
}

func (p *Page) Has(ctx context.Context, selector string) (bool, error) {
	el, err := p.find(ctx, selector)
	return el != nil, err
}

func (p *Page) Attribute(ctx context.Context, selector, name string) (string, error) {
	el, err := p.find(ctx, selector)
	if err != nil || el == nil {
		return "", err
	}
	val, err := el.Attribute(name)
	if err != nil {
		return "", err
	}
	if val == nil {
		return "", nil
	}
	return *val, nil
}

func (p *Page) BoundingBox(ctx context.Context, selector string) (captcha.Box, error) {
	el, err := p.must(ctx, selector)
	if err != nil {
		return captcha.Box{}, err
	}
	shape, err := el.Shape()
	if err != nil {
		return captcha.Box{}, err
	}
	box := shape.Box()
	if box == nil {
		return captcha.Box{}, fmt.Errorf("element has no layout: %s", selector)
	}
	return captcha.Box{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}, nil
}

// Screenshot captures selector as PNG, or the viewport when selector is empty.
func (p *Page) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	if selector == "" {
		return p.bound(ctx).Screenshot(false, nil)
	}
	el, err := p.must(ctx, selector)
	if err != nil {
		return nil, err
	}
	return el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
}

// Eval runs a function expression and decodes its JSON result into out.
func (p *Page) Eval(ctx context.Context, script string, out interface{}) error {
	res, err := p.bound(ctx).Eval(script)
	if err != nil {
		return fmt.Errorf("failed to evaluate script: %w", err)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode script result: %w", err)
	}
	return json.Unmarshal(raw, out)
}

func (p *Page) Content(ctx context.Context) (string, error) {
	return p.bound(ctx).HTML()
}

func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	el, err := p.must(ctx, selector)
	if err != nil {
		return "", err
	}
	return el.Text()
}

func (p *Page) Click(ctx context.Context, selector string) error {
	el, err := p.must(ctx, selector)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// Input replaces the value of a text field.
func (p *Page) Input(ctx context.Context, selector, text string) error {
	el, err := p.must(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		p.logger.WithError(err).Debug("Failed to select existing text")
	}
	return el.Input(text)
}

// Type appends text at the cursor of a focused field.
func (p *Page) Type(ctx context.Context, selector, text string) error {
	el, err := p.must(ctx, selector)
	if err != nil {
		return err
	}
	return el.Input(text)
}

// Navigate opens url and waits for the load event.
func (p *Page) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx).Timeout(p.navTimeout)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		p.logger.WithError(err).WithField("url", url).Warn("Page load wait failed, proceeding anyway")
	}
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	info, err := p.bound(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *Page) Reload(ctx context.Context) error {
	page := p.page.Context(ctx).Timeout(p.navTimeout)
	if err := page.Reload(); err != nil {
		return err
	}
	return page.WaitLoad()
}

func (p *Page) MouseMove(ctx context.Context, x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ev := proto.InputDispatchMouseEvent{
		Type: proto.InputDispatchMouseEventTypeMouseMoved,
		X:    x,
		Y:    y,
	}
	if p.pressed {
		ev.Button = proto.InputMouseButtonLeft
		ev.Buttons = buttonMask(true)
	}
	if err := p.call(ctx, func(c proto.Client) error { return ev.Call(c) }); err != nil {
		return fmt.Errorf("failed to move mouse: %w", err)
	}
	p.mouseX, p.mouseY = x, y
	return nil
}

func (p *Page) MouseDown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ev := proto.InputDispatchMouseEvent{
		Type:       proto.InputDispatchMouseEventTypeMousePressed,
		X:          p.mouseX,
		Y:          p.mouseY,
		Button:     proto.InputMouseButtonLeft,
		Buttons:    buttonMask(true),
		ClickCount: 1,
	}
	if err := p.call(ctx, func(c proto.Client) error { return ev.Call(c) }); err != nil {
		return fmt.Errorf("failed to press mouse: %w", err)
	}
	p.pressed = true
	return nil
}

func (p *Page) MouseUp(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ev := proto.InputDispatchMouseEvent{
		Type:       proto.InputDispatchMouseEventTypeMouseReleased,
		X:          p.mouseX,
		Y:          p.mouseY,
		Button:     proto.InputMouseButtonLeft,
		Buttons:    buttonMask(false),
		ClickCount: 1,
	}
	if err := p.call(ctx, func(c proto.Client) error { return ev.Call(c) }); err != nil {
		return fmt.Errorf("failed to release mouse: %w", err)
	}
	p.pressed = false
	return nil
}

func buttonMask(left bool) *int {
	mask := 0
	if left {
		mask = 1
	}
	return &mask
}

// EvalOnNewDocument registers a script that runs before any page script.
func (p *Page) EvalOnNewDocument(script string) error {
	return p.call(context.Background(), func(c proto.Client) error {
		_, err := proto.PageAddScriptToEvaluateOnNewDocument{Source: script}.Call(c)
		return err
	})
}

func (p *Page) SetUserAgent(ua string) error {
	req := proto.NetworkSetUserAgentOverride{UserAgent: ua}
	if err := p.call(context.Background(), func(c proto.Client) error { return req.Call(c) }); err != nil {
		return fmt.Errorf("failed to set user agent: %w", err)
	}
	return nil
}

func (p *Page) SetViewport(width, height int) error {
	req := proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	}
	if err := p.call(context.Background(), func(c proto.Client) error { return req.Call(c) }); err != nil {
		return fmt.Errorf("failed to set viewport: %w", err)
	}
	return nil
}

var _ captcha.Page = (*Page)(nil)
