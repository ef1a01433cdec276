package lineage

import (
	"slices"
	"strings"
)

// NotAvailable marks a row whose version has no resolvable link, usually
// because the model that produced it was deleted.
const NotAvailable = "N/A"

const (
	branchMid  = "├── "
	branchLast = "└── "
	indentMid  = "│   "
	indentLast = "    "
)

// LinkFunc resolves a version to its display link. ok=false renders as
// NotAvailable.
type LinkFunc func(version string) (link string, ok bool)

// DescribeFunc returns the human description of a version.
type DescribeFunc func(version string) string

// Row is one rendered line of a tree.
type Row struct {
	Prefix      string `json:"prefix"`
	Description string `json:"description"`
	Name        string `json:"name"`
	Link        string `json:"link"`
}

// Tree is the flattened rendering of one root and its descendants.
type Tree struct {
	Category string `json:"category"`
	Rows     []Row  `json:"rows"`
}

// Render flattens every tree of f in pre-order, one Tree per root in root
// creation order. Children are visited in attachment order, so identical
// input renders identically.
func Render(f *Forest, link LinkFunc, describe DescribeFunc) []Tree {
	if link == nil {
		link = func(string) (string, bool) { return "", false }
	}
	if describe == nil {
		describe = func(v string) string { return v }
	}

	roots := f.roots()
	trees := make([]Tree, 0, len(roots))
	for _, r := range roots {
		var rows []Row
		f.walk(r, "", "", func(idx int, prefix string) {
			name := f.nodes[idx].name
			l, ok := link(name)
			if !ok {
				l = NotAvailable
			}
			rows = append(rows, Row{Prefix: prefix, Description: describe(name), Name: name, Link: l})
		})
		trees = append(trees, Tree{Category: f.nodes[r].category, Rows: rows})
	}
	return trees
}

func (f *Forest) walk(idx int, prefix, indent string, visit func(idx int, prefix string)) {
	visit(idx, prefix)
	kids := f.nodes[idx].children
	for i, k := range kids {
		if i == len(kids)-1 {
			f.walk(k, indent+branchLast, indent+indentLast, visit)
		} else {
			f.walk(k, indent+branchMid, indent+indentMid, visit)
		}
	}
}

// SortByCategory orders trees by category, keeping the render order of
// trees that share one.
func SortByCategory(trees []Tree) {
	slices.SortStableFunc(trees, func(a, b Tree) int {
		return strings.Compare(a.Category, b.Category)
	})
}

// String draws the tree as text, one node per line.
func (t Tree) String() string {
	var sb strings.Builder
	for _, r := range t.Rows {
		sb.WriteString(r.Prefix)
		sb.WriteString(r.Name)
		sb.WriteByte('\n')
	}
	return sb.String()
}
