package inspect

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/neboloop/canvas/internal/browser"
)

const maxDescribedChildren = 10

var cueProperties = []string{"display", "position", "background-color"}

// Box is a bounding box rounded to whole pixels.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Description is the structured input and rendered text of describe.
type Description struct {
	Selector   string            `json:"selector"`
	Role       string            `json:"role"`
	Name       string            `json:"name,omitempty"`
	Box        *Box              `json:"box,omitempty"`
	Visible    bool              `json:"visible"`
	Disabled   bool              `json:"disabled"`
	Cues       map[string]string `json:"cues,omitempty"`
	ChildRoles []string          `json:"childRoles"`
	Text       string            `json:"description"`
}

// Describe gathers role, geometry, style cues and child roles for selector
// and renders them as one sentence. Equal inputs always render equal text.
func Describe(ctx context.Context, page browser.Page, selector string) (*Description, error) {
	scope := selector
	if scope == "" {
		scope = "body"
	}

	snap, err := page.AriaSnapshot(ctx, scope)
	if err != nil {
		return nil, err
	}
	root := browser.ParseAriaSnapshot(snap, 2)

	d := &Description{Selector: scope}
	switch {
	case root.Synthetic && selector == "":
		d.Role, d.ChildRoles = "page", root.ChildRoles(maxDescribedChildren)
	case root.Synthetic:
		d.Role, d.ChildRoles = "generic", root.ChildRoles(maxDescribedChildren)
	default:
		d.Role, d.Name = root.Role, root.Name
		d.ChildRoles = root.ChildRoles(maxDescribedChildren)
	}

	rect, err := page.BoundingBox(ctx, scope)
	if err != nil {
		return nil, err
	}
	if rect != nil {
		d.Box = &Box{
			X:      int(math.Round(rect.X)),
			Y:      int(math.Round(rect.Y)),
			Width:  int(math.Round(rect.Width)),
			Height: int(math.Round(rect.Height)),
		}
	}

	state, err := page.State(ctx, scope)
	if err != nil {
		return nil, err
	}
	d.Visible, d.Disabled = state.Visible, state.Disabled

	styles, err := Styles(ctx, page, scope, cueProperties)
	if err != nil {
		return nil, err
	}
	d.Cues = interestingCues(styles)

	d.Text = render(d)
	return d, nil
}

func interestingCues(styles map[string]string) map[string]string {
	cues := make(map[string]string)
	if v := styles["display"]; v != "" && v != "block" && v != "inline" {
		cues["display"] = v
	}
	if v := styles["position"]; v != "" && v != "static" {
		cues["position"] = v
	}
	if v := styles["background-color"]; v != "" && v != "transparent" && v != "rgba(0, 0, 0, 0)" {
		cues["background-color"] = v
	}
	return cues
}

func render(d *Description) string {
	var b strings.Builder
	b.WriteString(article(d.Role))
	b.WriteString(" ")
	b.WriteString(d.Role)
	if d.Name != "" {
		fmt.Fprintf(&b, " named %q", d.Name)
	}
	if d.Box != nil {
		fmt.Fprintf(&b, " at (%d, %d) sized %dx%d", d.Box.X, d.Box.Y, d.Box.Width, d.Box.Height)
	}
	b.WriteString(".")

	var cues []string
	if v, ok := d.Cues["display"]; ok {
		cues = append(cues, "display "+v)
	}
	if v, ok := d.Cues["position"]; ok {
		cues = append(cues, "position "+v)
	}
	if v, ok := d.Cues["background-color"]; ok {
		cues = append(cues, "background "+v)
	}
	if len(cues) > 0 {
		b.WriteString(" Styles: ")
		b.WriteString(strings.Join(cues, ", "))
		b.WriteString(".")
	}

	if !d.Visible {
		b.WriteString(" It is hidden.")
	}
	if d.Disabled {
		b.WriteString(" It is disabled.")
	}

	switch n := len(d.ChildRoles); n {
	case 0:
		b.WriteString(" It has no accessible children.")
	case 1:
		fmt.Fprintf(&b, " It contains 1 child: %s.", d.ChildRoles[0])
	default:
		fmt.Fprintf(&b, " It contains %d children: %s.", n, strings.Join(d.ChildRoles, ", "))
	}
	return b.String()
}

func article(word string) string {
	if word == "" {
		return "A"
	}
	switch word[0] {
	case 'a', 'e', 'i', 'o', 'u':
		return "An"
	}
	return "A"
}
