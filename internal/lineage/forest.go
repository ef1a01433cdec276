// Package lineage reconstructs version ancestry forests from the (possibly
// inconsistent) history chains recorded on each model revision.
//
// Nodes live in an index table owned by a Forest; parent links are indices,
// so the structure carries no cyclic references. A Forest is rebuilt from
// scratch for every request and has no identity across builds.
package lineage

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// ParentPolicy decides what happens when a node that already has a parent is
// claimed by a different one.
type ParentPolicy int

const (
	// KeepExisting leaves the first assigned parent in place.
	KeepExisting ParentPolicy = iota
	// Replace moves the node under the newly requested parent.
	Replace
)

func (p ParentPolicy) String() string {
	switch p {
	case KeepExisting:
		return "keep_existing"
	case Replace:
		return "replace"
	default:
		return fmt.Sprintf("ParentPolicy(%d)", int(p))
	}
}

// ParsePolicy maps a configuration value onto a ParentPolicy.
func ParsePolicy(s string) (ParentPolicy, error) {
	switch s {
	case "", "keep_existing":
		return KeepExisting, nil
	case "replace":
		return Replace, nil
	}
	return KeepExisting, fmt.Errorf("unknown parent policy %q", s)
}

// Lineage is one model revision: its version, its ancestor chain ordered
// oldest first (the nearest parent is last) and its category.
type Lineage struct {
	Version  string
	History  []string
	Category string
}

// Ancestry is the value side of a version -> (history, category) mapping.
type Ancestry struct {
	History  []string
	Category string
}

// FromMap flattens a version -> ancestry mapping into build input. Keys are
// sorted so that first-wins rules give the same answer on every call.
func FromMap(m map[string]Ancestry) []Lineage {
	versions := make([]string, 0, len(m))
	for v := range m {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	out := make([]Lineage, 0, len(versions))
	for _, v := range versions {
		out = append(out, Lineage{Version: v, History: m[v].History, Category: m[v].Category})
	}
	return out
}

// Resolution records how a parent conflict was settled.
type Resolution string

const (
	KeptExisting Resolution = "kept_existing"
	Replaced     Resolution = "replaced"
	RefusedCycle Resolution = "refused_cycle"
)

// Conflict is a parent claim that could not be applied as-is.
type Conflict struct {
	Child      string
	Existing   string // empty when the child had no parent yet
	Requested  string
	Resolution Resolution
}

const noParent = -1

type node struct {
	name     string
	category string
	parent   int
	children []int
}

// Forest is the set of version nodes produced by Build.
type Forest struct {
	nodes     []node
	index     map[string]int
	conflicts []Conflict
}

type builder struct {
	policy ParentPolicy
	log    *zap.Logger
}

// Option configures Build.
type Option func(*builder)

func WithPolicy(p ParentPolicy) Option { return func(b *builder) { b.policy = p } }

func WithLogger(l *zap.Logger) Option {
	return func(b *builder) {
		if l != nil {
			b.log = l
		}
	}
}

// Build creates one node per distinct version string found in entries, either
// as a version or inside any history, and links each history's consecutive
// pairs as parent -> child. Conflicting claims are resolved by the configured
// ParentPolicy and recorded; Build never fails.
func Build(entries []Lineage, opts ...Option) *Forest {
	b := builder{policy: KeepExisting, log: zap.NewNop()}
	for _, opt := range opts {
		opt(&b)
	}
	f := &Forest{index: make(map[string]int)}

	keys := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, ok := f.index[e.Version]; ok {
			continue
		}
		f.add(e.Version, e.Category)
		keys[e.Version] = struct{}{}
	}

	for _, e := range entries {
		for _, v := range e.History {
			idx, ok := f.index[v]
			if !ok {
				f.add(v, e.Category)
				continue
			}
			if _, isKey := keys[v]; isKey {
				continue
			}
			if first := f.nodes[idx].category; first != e.Category {
				b.log.Warn("ancestor seen under more than one category, keeping first",
					zap.String("version", v),
					zap.String("category", first),
					zap.String("ignored_category", e.Category),
				)
			}
		}
	}

	// nearest parent first, so it wins under KeepExisting
	for _, e := range entries {
		if n := len(e.History); n > 0 {
			b.setParent(f, e.History[n-1], e.Version)
		}
	}

	for _, e := range entries {
		for i := 0; i+1 < len(e.History); i++ {
			b.setParent(f, e.History[i], e.History[i+1])
		}
	}

	return f
}

func (f *Forest) add(name, category string) {
	f.index[name] = len(f.nodes)
	f.nodes = append(f.nodes, node{name: name, category: category, parent: noParent})
}

func (b *builder) setParent(f *Forest, parentName, childName string) {
	c, p := f.index[childName], f.index[parentName]
	cur := f.nodes[c].parent
	if cur == p {
		return
	}

	if c == p || f.isAncestor(c, p) {
		f.record(b.log, Conflict{Child: childName, Existing: f.nameOf(cur), Requested: parentName, Resolution: RefusedCycle})
		return
	}

	if cur != noParent {
		if b.policy == KeepExisting {
			f.record(b.log, Conflict{Child: childName, Existing: f.nodes[cur].name, Requested: parentName, Resolution: KeptExisting})
			return
		}
		f.detach(c)
		f.record(b.log, Conflict{Child: childName, Existing: f.nodes[cur].name, Requested: parentName, Resolution: Replaced})
	}

	f.nodes[c].parent = p
	f.nodes[p].children = append(f.nodes[p].children, c)
}

// isAncestor reports whether a is n itself or one of n's ancestors.
func (f *Forest) isAncestor(a, n int) bool {
	for cur := n; cur != noParent; cur = f.nodes[cur].parent {
		if cur == a {
			return true
		}
	}
	return false
}

func (f *Forest) detach(c int) {
	p := f.nodes[c].parent
	kids := f.nodes[p].children
	for i, k := range kids {
		if k == c {
			f.nodes[p].children = append(kids[:i:i], kids[i+1:]...)
			break
		}
	}
	f.nodes[c].parent = noParent
}

func (f *Forest) record(log *zap.Logger, c Conflict) {
	f.conflicts = append(f.conflicts, c)
	log.Info("parents do not match",
		zap.String("child", c.Child),
		zap.String("existing_parent", c.Existing),
		zap.String("requested_parent", c.Requested),
		zap.String("resolution", string(c.Resolution)),
	)
}

func (f *Forest) nameOf(idx int) string {
	if idx == noParent {
		return ""
	}
	return f.nodes[idx].name
}

// Len is the number of distinct versions in the forest.
func (f *Forest) Len() int { return len(f.nodes) }

// Names lists every version in creation order.
func (f *Forest) Names() []string {
	out := make([]string, len(f.nodes))
	for i, n := range f.nodes {
		out[i] = n.name
	}
	return out
}

// Node is a read-only view of one forest entry.
type Node struct {
	Name     string
	Category string
	Parent   string // empty for roots
	Children []string
}

// Lookup returns a snapshot of the node for version.
func (f *Forest) Lookup(version string) (Node, bool) {
	idx, ok := f.index[version]
	if !ok {
		return Node{}, false
	}
	n := f.nodes[idx]
	return Node{
		Name:     n.name,
		Category: n.category,
		Parent:   f.nameOf(n.parent),
		Children: f.Children(version),
	}, true
}

// Has reports whether version is a node of the forest.
func (f *Forest) Has(version string) bool {
	_, ok := f.index[version]
	return ok
}

// Category returns the category a version was created with.
func (f *Forest) Category(version string) (string, bool) {
	idx, ok := f.index[version]
	if !ok {
		return "", false
	}
	return f.nodes[idx].category, true
}

// Parent returns the parent of version, if it has one.
func (f *Forest) Parent(version string) (string, bool) {
	idx, ok := f.index[version]
	if !ok || f.nodes[idx].parent == noParent {
		return "", false
	}
	return f.nodes[f.nodes[idx].parent].name, true
}

// Children returns the children of version in the order they were attached.
func (f *Forest) Children(version string) []string {
	idx, ok := f.index[version]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(f.nodes[idx].children))
	for _, k := range f.nodes[idx].children {
		out = append(out, f.nodes[k].name)
	}
	return out
}

// Path returns the chain from the root of version's tree down to version.
func (f *Forest) Path(version string) []string {
	idx, ok := f.index[version]
	if !ok {
		return nil
	}
	var rev []string
	for cur := idx; cur != noParent; cur = f.nodes[cur].parent {
		rev = append(rev, f.nodes[cur].name)
	}
	out := make([]string, len(rev))
	for i, name := range rev {
		out[len(rev)-1-i] = name
	}
	return out
}

// Roots lists the versions without a parent, in creation order.
func (f *Forest) Roots() []string {
	var out []string
	for _, idx := range f.roots() {
		out = append(out, f.nodes[idx].name)
	}
	return out
}

func (f *Forest) roots() []int {
	var out []int
	for i, n := range f.nodes {
		if n.parent == noParent {
			out = append(out, i)
		}
	}
	return out
}

// Conflicts returns the parent claims that were not applied as requested.
func (f *Forest) Conflicts() []Conflict {
	return append([]Conflict(nil), f.conflicts...)
}
