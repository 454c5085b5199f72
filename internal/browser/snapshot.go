package browser

import (
	"regexp"
	"strconv"
	"strings"
)

// DefaultSnapshotDepth bounds ParseAriaSnapshot when the caller passes 0.
const DefaultSnapshotDepth = 5

// Node is one entry of an accessibility snapshot.
type Node struct {
	Role     string  `json:"role"`
	Name     string  `json:"name,omitempty"`
	Level    int     `json:"level,omitempty"`
	Children []*Node `json:"children,omitempty"`
	// Synthetic marks the wrapper added around several top-level entries.
	Synthetic bool `json:"-"`
}

var (
	// Matches role lines like `  - button "Submit" [level=2]:`.
	rolePattern  = regexp.MustCompile(`^(\s*)-\s+(\w+)(?:\s+"([^"]*)")?(.*)$`)
	levelPattern = regexp.MustCompile(`\[level=(\d+)\]`)
)

// ParseAriaSnapshot turns Playwright's aria snapshot text into a tree.
// Top-level entries are depth 1 and nothing deeper than depth is kept.
// Several top-level entries are wrapped in a synthetic "region" root.
func ParseAriaSnapshot(text string, depth int) *Node {
	if depth <= 0 {
		depth = DefaultSnapshotDepth
	}

	type frame struct {
		indent int
		node   *Node
		kept   bool
	}
	var (
		roots []*Node
		stack []frame
	)
	for _, line := range strings.Split(text, "\n") {
		m := rolePattern.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		indent := len(m[1])
		for len(stack) > 0 && stack[len(stack)-1].indent >= indent {
			stack = stack[:len(stack)-1]
		}

		n := &Node{Role: m[2], Name: m[3]}
		if lm := levelPattern.FindStringSubmatch(m[4]); lm != nil {
			n.Level, _ = strconv.Atoi(lm[1])
		}

		level := len(stack) + 1
		kept := level <= depth
		if len(stack) > 0 {
			parent := stack[len(stack)-1]
			kept = kept && parent.kept
			if kept {
				parent.node.Children = append(parent.node.Children, n)
			}
		} else if kept {
			roots = append(roots, n)
		}
		stack = append(stack, frame{indent: indent, node: n, kept: kept})
	}

	if len(roots) == 1 {
		return roots[0]
	}
	return &Node{Role: "region", Children: roots, Synthetic: true}
}

// ChildRoles returns the roles of n's direct children, at most max of them.
func (n *Node) ChildRoles(max int) []string {
	if n == nil {
		return nil
	}
	roles := make([]string, 0, len(n.Children))
	for i, c := range n.Children {
		if max > 0 && i >= max {
			break
		}
		roles = append(roles, c.Role)
	}
	return roles
}
