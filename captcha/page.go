package captcha

import (
	"context"
	"time"
)

// Page is the slice of a live browser page the solver drives. Every method is
// expected to bound its own wait.
type Page interface {
	// WaitFor reports whether selector shows up within timeout. A timeout is
	// not an error.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) (bool, error)
	// Has checks for selector without waiting.
	Has(ctx context.Context, selector string) (bool, error)
	// Attribute returns the attribute value, or "" when element or attribute
	// is missing.
	Attribute(ctx context.Context, selector, name string) (string, error)
	BoundingBox(ctx context.Context, selector string) (Box, error)
	// Screenshot captures the element, or the viewport for an empty selector.
	Screenshot(ctx context.Context, selector string) ([]byte, error)
	// Eval runs a JS function expression and decodes its JSON result into out.
	Eval(ctx context.Context, script string, out interface{}) error
	Content(ctx context.Context) (string, error)
	Click(ctx context.Context, selector string) error
	Reload(ctx context.Context) error

	MouseMove(ctx context.Context, x, y float64) error
	MouseDown(ctx context.Context) error
	MouseUp(ctx context.Context) error
}
