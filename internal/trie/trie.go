package trie

import "strings"

/*
Arena-based prefix trie over internal class names.

Names are split on '/' so that "java/" matches "java/lang/String" but not
"javax/swing/JPanel". Nodes live in one slice and refer to their children by
index, which keeps a table of a few hundred package prefixes in a handful of
allocations.
*/

// NodeIndex represents the index of a trie node.
type NodeIndex int

// Arena stores all trie nodes.
type Arena struct {
	nodes []arenaNode
}

type arenaNode struct {
	// children maps a path segment to the child node.
	children map[string]NodeIndex
	// isEnd marks a node where an inserted prefix ends.
	isEnd bool
}

// NewArena creates a new arena holding only the root node.
func NewArena() *Arena {
	arena := &Arena{
		nodes: make([]arenaNode, 0, 64),
	}
	arena.nodes = append(arena.nodes, arenaNode{children: make(map[string]NodeIndex)})
	return arena
}

func (a *Arena) newNode() NodeIndex {
	idx := NodeIndex(len(a.nodes))
	a.nodes = append(a.nodes, arenaNode{children: make(map[string]NodeIndex)})
	return idx
}

// Insert inserts a segment sequence.
func (a *Arena) Insert(sequence []string) {
	current := NodeIndex(0)
	for _, part := range sequence {
		node := &a.nodes[current]
		childIdx, exists := node.children[part]
		if !exists {
			childIdx = a.newNode()
			// re-read: newNode may have moved the slice
			a.nodes[current].children[part] = childIdx
		}
		current = childIdx
	}
	a.nodes[current].isEnd = true
}

// Longest returns the number of leading segments of sequence covered by
// the longest inserted prefix, or -1 when none matches.
func (a *Arena) Longest(sequence []string) int {
	best := -1
	current := NodeIndex(0)
	if a.nodes[current].isEnd {
		best = 0
	}
	for i, part := range sequence {
		next, ok := a.nodes[current].children[part]
		if !ok {
			break
		}
		current = next
		if a.nodes[current].isEnd {
			best = i + 1
		}
	}
	return best
}

// PrefixSet matches internal class names against package or class
// prefixes. A prefix ending in '/' names a package subtree; any other
// prefix names exactly one class.
type PrefixSet struct {
	arena    *Arena
	prefixes []string
}

// NewPrefixSet returns a set holding prefixes.
func NewPrefixSet(prefixes ...string) *PrefixSet {
	s := &PrefixSet{arena: NewArena()}
	for _, p := range prefixes {
		s.Add(p)
	}
	return s
}

// Add inserts a prefix. Dotted names are accepted.
func (s *PrefixSet) Add(prefix string) {
	prefix = strings.ReplaceAll(prefix, ".", "/")
	if prefix == "" {
		return
	}
	s.prefixes = append(s.prefixes, prefix)
	s.arena.Insert(segments(prefix))
}

// Match reports whether name falls under any prefix in the set.
func (s *PrefixSet) Match(name string) bool {
	if s == nil || len(s.prefixes) == 0 {
		return false
	}
	return s.arena.Longest(strings.Split(name, "/")) >= 0
}

// Len returns the number of prefixes added.
func (s *PrefixSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.prefixes)
}

func segments(prefix string) []string {
	return strings.Split(strings.TrimSuffix(prefix, "/"), "/")
}
