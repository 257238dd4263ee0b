// Package captchatest provides an in-memory page for exercising the solver
// and the sign-in flow without a browser.
package captchatest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"signin-automation/captcha"
)

// Event is a recorded pointer event.
type Event struct {
	Kind string // "move", "down" or "up"
	X    float64
	Y    float64
}

// FakePage is a scriptable captcha.Page. Element presence, attributes and
// boxes are plain maps; hooks let a test change the page when the trigger is
// clicked or the pointer is released.
type FakePage struct {
	mu sync.Mutex

	elements    map[string]bool
	attributes  map[string]map[string]string
	boxes       map[string]captcha.Box
	texts       map[string]string
	screenshots map[string][]byte
	inputs      map[string]string

	EvalResult  interface{}
	EvalErr     error
	ContentText string
	CurrentURL  string

	ClickErr   error
	WaitForErr error
	MouseErr   error // returned by every MouseMove after the press
	ReloadErr  error

	// OnClick runs after a successful click on selector.
	OnClick func(p *FakePage, selector string)
	// OnRelease runs after MouseUp.
	OnRelease func(p *FakePage)
	// OnReload runs after every Reload.
	OnReload func(p *FakePage)
	// OnNavigate runs after every Navigate.
	OnNavigate func(p *FakePage, url string)

	events    []Event
	clicks    []string
	visits    []string
	reloads   int
	waits     []time.Duration
	evalCalls int
	pressed   bool
}

// NewFakePage returns an empty page.
func NewFakePage() *FakePage {
	return &FakePage{
		elements:    make(map[string]bool),
		attributes:  make(map[string]map[string]string),
		boxes:       make(map[string]captcha.Box),
		texts:       make(map[string]string),
		screenshots: make(map[string][]byte),
		inputs:      make(map[string]string),
	}
}

// Show makes selector present.
func (p *FakePage) Show(selectors ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range selectors {
		p.elements[s] = true
	}
}

// Hide removes selector.
func (p *FakePage) Hide(selectors ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range selectors {
		delete(p.elements, s)
	}
}

// SetAttribute sets an attribute and makes the element present.
func (p *FakePage) SetAttribute(selector, name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[selector] = true
	if p.attributes[selector] == nil {
		p.attributes[selector] = make(map[string]string)
	}
	p.attributes[selector][name] = value
}

// SetBox sets the bounding box of selector.
func (p *FakePage) SetBox(selector string, box captcha.Box) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.boxes[selector] = box
}

// SetText sets the inner text of selector and makes it present.
func (p *FakePage) SetText(selector, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[selector] = true
	p.texts[selector] = text
}

// SetScreenshot sets the bytes returned for an element screenshot.
func (p *FakePage) SetScreenshot(selector string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.screenshots[selector] = data
}

// SetContent replaces the page content.
func (p *FakePage) SetContent(content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ContentText = content
}

func (p *FakePage) WaitFor(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waits = append(p.waits, timeout)
	if p.WaitForErr != nil {
		return false, p.WaitForErr
	}
	return p.elements[selector], nil
}

func (p *FakePage) Has(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elements[selector], nil
}

func (p *FakePage) Attribute(ctx context.Context, selector, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.elements[selector] {
		return "", nil
	}
	return p.attributes[selector][name], nil
}

func (p *FakePage) BoundingBox(ctx context.Context, selector string) (captcha.Box, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	box, ok := p.boxes[selector]
	if !ok || !p.elements[selector] {
		return captcha.Box{}, fmt.Errorf("no box for %q", selector)
	}
	return box, nil
}

func (p *FakePage) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.screenshots[selector]
	if !ok {
		return nil, fmt.Errorf("no screenshot for %q", selector)
	}
	return data, nil
}

func (p *FakePage) Eval(ctx context.Context, script string, out interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evalCalls++
	if p.EvalErr != nil {
		return p.EvalErr
	}
	raw, err := json.Marshal(p.EvalResult)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (p *FakePage) Content(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ContentText, nil
}

func (p *FakePage) Text(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.elements[selector] {
		return "", fmt.Errorf("element not found: %s", selector)
	}
	return p.texts[selector], nil
}

func (p *FakePage) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	if p.ClickErr != nil {
		p.mu.Unlock()
		return p.ClickErr
	}
	if !p.elements[selector] {
		p.mu.Unlock()
		return fmt.Errorf("element not found: %s", selector)
	}
	p.clicks = append(p.clicks, selector)
	hook := p.OnClick
	p.mu.Unlock()

	if hook != nil {
		hook(p, selector)
	}
	return nil
}

func (p *FakePage) Input(ctx context.Context, selector, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.elements[selector] {
		return fmt.Errorf("element not found: %s", selector)
	}
	p.inputs[selector] = text
	return nil
}

func (p *FakePage) Type(ctx context.Context, selector, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.elements[selector] {
		return fmt.Errorf("element not found: %s", selector)
	}
	p.inputs[selector] += text
	return nil
}

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.visits = append(p.visits, url)
	p.CurrentURL = url
	hook := p.OnNavigate
	p.mu.Unlock()

	if hook != nil {
		hook(p, url)
	}
	return nil
}

func (p *FakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CurrentURL, nil
}

func (p *FakePage) Reload(ctx context.Context) error {
	p.mu.Lock()
	p.reloads++
	err := p.ReloadErr
	hook := p.OnReload
	p.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return err
}

func (p *FakePage) MouseMove(ctx context.Context, x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pressed && p.MouseErr != nil {
		return p.MouseErr
	}
	p.events = append(p.events, Event{Kind: "move", X: x, Y: y})
	return nil
}

func (p *FakePage) MouseDown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pressed = true
	p.events = append(p.events, Event{Kind: "down"})
	return nil
}

func (p *FakePage) MouseUp(ctx context.Context) error {
	p.mu.Lock()
	p.pressed = false
	p.events = append(p.events, Event{Kind: "up"})
	hook := p.OnRelease
	p.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return nil
}

// Events returns a copy of the pointer event log.
func (p *FakePage) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// ResetEvents clears the pointer event log.
func (p *FakePage) ResetEvents() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// Clicks returns the clicked selectors in order.
func (p *FakePage) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Visits returns the navigated URLs in order.
func (p *FakePage) Visits() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.visits...)
}

// Inputs returns the last value typed into selector.
func (p *FakePage) Inputs(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inputs[selector]
}

// Reloads returns how many times the page was reloaded.
func (p *FakePage) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

// EvalCalls returns how many scripts were evaluated.
func (p *FakePage) EvalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evalCalls
}

// Waits returns the timeouts passed to WaitFor.
func (p *FakePage) Waits() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.waits...)
}

// Contains reports whether the content holds s.
func (p *FakePage) Contains(s string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Contains(p.ContentText, s)
}

var _ captcha.Page = (*FakePage)(nil)
