package tree

import (
	"fmt"

	"github.com/mit-pdos/go-blocktree/addr"
	"github.com/mit-pdos/go-blocktree/common"
)

// Stats summarizes the shape of a tree.
type Stats struct {
	Height   int // levels of nodes; 0 for an empty tree
	Internal int
	Leaves   int
	Keys     int
}

// visit walks the subtree at page depth-first, left to right, calling fn on
// each node before its children. lo and hi bound the keys the subtree may
// hold (nil means unbounded).
func (t *Tree) visit(page common.Bnum, depth int, lo, hi []byte,
	fn func(n *node, depth int, lo, hi []byte) error) error {
	if depth > int(t.dev.NumBlocks()) {
		return fmt.Errorf("cycle at node %d: %w", page, ErrCorrupt)
	}
	n, err := readNode(t.dev, page)
	if err != nil {
		return err
	}
	if err := fn(n, depth, lo, hi); err != nil {
		return err
	}
	for i, e := range n.edges {
		clo, chi := lo, hi
		if i > 0 {
			clo = e.key
		}
		if i+1 < len(n.edges) {
			chi = n.edges[i+1].key
		}
		if err := t.visit(e.child, depth+1, clo, chi, fn); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) walk(fn func(n *node, depth int, lo, hi []byte) error) error {
	if !t.hasRoot {
		return nil
	}
	return t.visit(t.root, 1, nil, nil, fn)
}

// Scan calls fn on every key in tree order, with the locator of its value.
func (t *Tree) Scan(fn func(key []byte, loc addr.Locator) error) error {
	return t.walk(func(n *node, depth int, lo, hi []byte) error {
		for _, e := range n.ents {
			if err := fn(e.key, e.val); err != nil {
				return err
			}
		}
		return nil
	})
}

// Stats reports the number of nodes and keys reachable from the root.
func (t *Tree) Stats() (Stats, error) {
	var s Stats
	err := t.walk(func(n *node, depth int, lo, hi []byte) error {
		if depth > s.Height {
			s.Height = depth
		}
		if n.kind == LEAF {
			s.Leaves++
			s.Keys += len(n.ents)
		} else {
			s.Internal++
		}
		return nil
	})
	return s, err
}

// Check verifies that every node is ordered by cmp: keys within a leaf
// strictly ascend, separators within an internal node strictly ascend, and
// every key lies within the bounds its ancestors' separators route to it.
func (t *Tree) Check(cmp Compare) error {
	return t.walk(func(n *node, depth int, lo, hi []byte) error {
		var keys [][]byte
		for _, e := range n.ents {
			keys = append(keys, e.key)
		}
		for i, e := range n.edges {
			if i > 0 {
				keys = append(keys, e.key)
			}
		}
		if n.kind == LEAF && len(keys) == 0 && depth > 1 {
			return fmt.Errorf("empty leaf %d: %w", n.page, ErrCorrupt)
		}
		for i, k := range keys {
			if i > 0 && cmp(keys[i-1], k) >= 0 {
				return fmt.Errorf("node %d: key %d out of order: %w",
					n.page, i, ErrCorrupt)
			}
			if lo != nil && cmp(k, lo) < 0 {
				return fmt.Errorf("node %d: key %d below its separator: %w",
					n.page, i, ErrCorrupt)
			}
			if hi != nil && cmp(k, hi) >= 0 {
				return fmt.Errorf("node %d: key %d at or above the next separator: %w",
					n.page, i, ErrCorrupt)
			}
		}
		return nil
	})
}
