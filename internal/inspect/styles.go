// Package inspect reads structure and style facts from a live page: computed
// styles, accessibility trees, plain-language descriptions and selector
// suggestions.
package inspect

import (
	"context"
	"fmt"

	"github.com/neboloop/canvas/internal/browser"
)

// computedStyleScript returns the requested computed properties of the
// element, or all of them when props is empty.
const computedStyleScript = `(el, props) => {
  const cs = window.getComputedStyle(el);
  const names = (props && props.length) ? props : Array.from(cs);
  const out = {};
  for (const name of names) out[name] = cs.getPropertyValue(name);
  return out;
}`

// Styles returns computed styles for the first element matching selector.
func Styles(ctx context.Context, page browser.Page, selector string, props []string) (map[string]string, error) {
	if props == nil {
		props = []string{}
	}
	raw, err := page.EvaluateOn(ctx, selector, computedStyleScript, props)
	if err != nil {
		return nil, err
	}
	m, ok := raw.(map[string]any)
	if !ok {
		if raw == nil {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("unexpected computed style result %T", raw)
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		} else if v != nil {
			out[k] = fmt.Sprint(v)
		}
	}
	return out, nil
}

// DOM returns the accessibility tree below selector, depth entries deep.
func DOM(ctx context.Context, page browser.Page, selector string, depth int) (*browser.Node, error) {
	snap, err := page.AriaSnapshot(ctx, selector)
	if err != nil {
		return nil, err
	}
	return browser.ParseAriaSnapshot(snap, depth), nil
}
