package inspect

import (
	"context"
	"strings"

	"github.com/neboloop/canvas/internal/browser"
)

// MaxSuggestions caps the candidates returned by Suggest.
const MaxSuggestions = 5

// commonSelectors are probed on the live page when a selector matches
// nothing.
var commonSelectors = []string{
	"main", "header", "nav", "footer", "button", "a", "input", "form",
	"h1", "h2", "img", "[role=button]", "[role=navigation]", "[role=main]",
	"[role=dialog]", "body",
}

// classIDScript lists every class name and id in the document.
const classIDScript = `() => {
  const classes = new Set();
  const ids = new Set();
  for (const el of document.querySelectorAll("[class], [id]")) {
    if (el.id) ids.add(el.id);
    for (const c of el.classList || []) classes.add(c);
  }
  return { classes: Array.from(classes).sort(), ids: Array.from(ids).sort() };
}`

// Suggest proposes selectors that exist on the page as alternatives to a
// selector that matched nothing: class or id names related to the failed
// one, then common structural selectors. It never fails; any error while
// probing yields fewer or no suggestions.
func Suggest(ctx context.Context, page browser.Page, failed string) (out []string) {
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()

	seen := make(map[string]bool)
	add := func(s string) {
		if s != failed && !seen[s] && len(out) < MaxSuggestions {
			seen[s] = true
			out = append(out, s)
		}
	}

	// Names related to the failed class or id are the closest guesses, so
	// they go ahead of the generic structural selectors.
	if strings.HasPrefix(failed, ".") || strings.HasPrefix(failed, "#") {
		for _, s := range relatedNames(ctx, page, failed) {
			add(s)
		}
	}
	for _, sel := range commonSelectors {
		if len(out) >= MaxSuggestions {
			break
		}
		if n, err := page.Count(ctx, sel); err == nil && n > 0 {
			add(sel)
		}
	}
	return out
}

func relatedNames(ctx context.Context, page browser.Page, failed string) []string {
	raw, err := page.Evaluate(ctx, classIDScript, nil)
	if err != nil {
		return nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	prefix, key := ".", "classes"
	if strings.HasPrefix(failed, "#") {
		prefix, key = "#", "ids"
	}
	needle := strings.ToLower(strings.TrimLeft(failed, ".#"))
	if needle == "" {
		return nil
	}

	names, _ := m[key].([]any)
	var out []string
	for _, n := range names {
		name, ok := n.(string)
		if !ok || name == "" {
			continue
		}
		lower := strings.ToLower(name)
		if strings.Contains(lower, needle) || strings.Contains(needle, lower) {
			out = append(out, prefix+name)
		}
	}
	return out
}
