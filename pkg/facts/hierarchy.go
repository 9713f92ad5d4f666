package facts

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Unclassified is the bucket for values without an ancestor at the
// requested level.
const Unclassified = "unclassified"

// Hierarchy errors
var (
	// ErrHierarchyCycle is returned when adding a parent link would create a loop
	ErrHierarchyCycle = errors.New("hierarchy cycle")
	// ErrConflictingParent is returned when a value is given two different parents
	ErrConflictingParent = errors.New("conflicting parent")
	// ErrUnknownLevel is returned when rolling up to a level the hierarchy does not declare
	ErrUnknownLevel = errors.New("unknown hierarchy level")
)

// Hierarchy is a tree of permissible values of one dimension, e.g.
// world -> region -> country. Lookups are case-insensitive and return the
// spelling used when the value was added.
type Hierarchy struct {
	levels   []string
	canon    map[string]string
	parent   map[string]string
	children map[string][]string
}

// NewHierarchy returns an empty hierarchy. levels name the depths from the
// root down, e.g. "world", "region", "country"; they are optional.
func NewHierarchy(levels ...string) *Hierarchy {
	return &Hierarchy{
		levels:   levels,
		canon:    make(map[string]string),
		parent:   make(map[string]string),
		children: make(map[string][]string),
	}
}

func key(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// AddRoot registers a value without parent.
func (h *Hierarchy) AddRoot(v string) {
	if _, ok := h.canon[key(v)]; !ok {
		h.canon[key(v)] = v
	}
}

// Add registers child under parent, adding either if unknown.
func (h *Hierarchy) Add(child, parent string) error {
	h.AddRoot(parent)
	h.AddRoot(child)

	ck, pk := key(child), key(parent)

	if existing, ok := h.parent[ck]; ok {
		if existing == pk {
			return nil
		}

		return fmt.Errorf("%w: %s has parents %s and %s", ErrConflictingParent, child, h.canon[existing], parent)
	}

	for a := pk; a != ""; a = h.parent[a] {
		if a == ck {
			return fmt.Errorf("%w: %s -> %s", ErrHierarchyCycle, child, parent)
		}
	}

	h.parent[ck] = pk
	h.children[pk] = append(h.children[pk], ck)

	return nil
}

// Contains reports whether v is a known value.
func (h *Hierarchy) Contains(v string) bool {
	_, ok := h.canon[key(v)]
	return ok
}

// Canonical returns the registered spelling of v.
func (h *Hierarchy) Canonical(v string) (string, bool) {
	c, ok := h.canon[key(v)]
	return c, ok
}

// Parent returns the parent of v.
func (h *Hierarchy) Parent(v string) (string, bool) {
	p, ok := h.parent[key(v)]
	if !ok {
		return "", false
	}

	return h.canon[p], true
}

// Children returns the direct children of v, sorted.
func (h *Hierarchy) Children(v string) []string {
	ks := h.children[key(v)]

	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = h.canon[k]
	}

	sort.Strings(out)

	return out
}

// Ancestors returns the chain from v's parent up to its root.
func (h *Hierarchy) Ancestors(v string) []string {
	var out []string

	for p, ok := h.parent[key(v)]; ok; p, ok = h.parent[p] {
		out = append(out, h.canon[p])
	}

	return out
}

// Depth returns the distance of v from its root, or -1 when unknown.
func (h *Hierarchy) Depth(v string) int {
	if !h.Contains(v) {
		return -1
	}

	return len(h.Ancestors(v))
}

// Levels returns the declared level names.
func (h *Hierarchy) Levels() []string {
	return append([]string(nil), h.levels...)
}

// LevelDepth resolves a level name into a depth.
func (h *Hierarchy) LevelDepth(level string) (int, error) {
	for i, l := range h.levels {
		if strings.EqualFold(l, level) {
			return i, nil
		}
	}

	return 0, fmt.Errorf("%w: %s", ErrUnknownLevel, level)
}

// AncestorAt returns v's ancestor at depth, or v itself when it already
// sits at that depth. Values that are unknown, or whose chain ends above
// depth, map to Unclassified. Values deeper than a known ancestor keep
// nothing but that ancestor.
func (h *Hierarchy) AncestorAt(v string, depth int) string {
	d := h.Depth(v)
	if d < depth {
		return Unclassified
	}

	cur := key(v)
	for ; d > depth; d-- {
		cur = h.parent[cur]
	}

	return h.canon[cur]
}

// Descendants returns every value below v at depth.
func (h *Hierarchy) Descendants(v string, depth int) []string {
	var out []string

	var walk func(k string, d int)
	walk = func(k string, d int) {
		if d == depth {
			out = append(out, h.canon[k])
			return
		}

		for _, c := range h.children[k] {
			walk(c, d+1)
		}
	}

	if d := h.Depth(v); d >= 0 {
		walk(key(v), d)
	}

	sort.Strings(out)

	return out
}
