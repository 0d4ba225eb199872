// Package tree implements the blob tree: a key-ordered index over a block
// device whose keys live inline in leaf nodes and whose values are stored as
// separate streams.
//
// Every node is a seq stream of entry records. The first record is a one-byte
// type tag; a leaf follows it with one record per key,
//
//	[ value block (4) | value subindex (2) | key ]
//
// in ascending key order, and an internal node with one record per child,
//
//	[ child block (4) | separator key ]
//
// where the first child's separator is empty. Keys >= a separator are routed
// to that separator's child.
//
// Streams are never modified once written, so an update writes the changed
// leaf as a new stream and rewrites each ancestor to point at it, ending in a
// new root page. Old nodes and values are left in place.
//
// Keys are ordered by a Compare function supplied on each call. A Tree is not
// safe for concurrent use, and it must have exclusive use of its device.
package tree

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mit-pdos/go-blocktree/addr"
	"github.com/mit-pdos/go-blocktree/common"
	"github.com/mit-pdos/go-blocktree/device"
	"github.com/mit-pdos/go-blocktree/seq"
	"github.com/mit-pdos/go-blocktree/util"
)

var (
	// ErrKeyTooLarge means a key does not fit in one leaf entry.
	ErrKeyTooLarge = errors.New("tree: key too large")
	// ErrCorrupt means a node on the device is malformed or misordered.
	ErrCorrupt = errors.New("tree: corrupt node")
)

// MaxKeyLen is the longest key that fits in a leaf entry.
const MaxKeyLen = common.MAXENTRYLEN - LEAFHDR

// Compare orders query against candidate: negative if query sorts first,
// zero if they are equal, positive otherwise.
type Compare func(query, candidate []byte) int

// Bytewise orders keys as bytes.Compare does.
var Bytewise Compare = bytes.Compare

type Tree struct {
	dev     device.Device
	root    common.Bnum
	hasRoot bool
}

// New creates an empty tree on dev.
func New(dev device.Device) *Tree {
	return &Tree{dev: dev}
}

// Open attaches to the tree whose root node starts at block root.
func Open(dev device.Device, root common.Bnum) (*Tree, error) {
	if _, err := readNode(dev, root); err != nil {
		return nil, fmt.Errorf("open root %d: %w", root, err)
	}
	return &Tree{dev: dev, root: root, hasRoot: true}, nil
}

// RootPage returns the first block of the root node, if the tree is not
// empty.
func (t *Tree) RootPage() (common.Bnum, bool) {
	return t.root, t.hasRoot
}

func (t *Tree) setRoot(page common.Bnum) {
	util.DPrintf(1, "tree: root %d\n", page)
	t.root = page
	t.hasRoot = true
}

func (t *Tree) clearRoot() {
	util.DPrintf(1, "tree: empty\n")
	t.root = 0
	t.hasRoot = false
}

func (t *Tree) capacity() uint64 {
	return common.BlockCapacity(t.dev.BlockSize())
}

// A frame records the internal node visited at one level of a descent and the
// edge taken from it.
type frame struct {
	n   *node
	idx int
}

// descend walks from the root to the leaf responsible for key.
func (t *Tree) descend(key []byte, cmp Compare) ([]frame, *node, error) {
	var path []frame
	page := t.root
	for {
		if uint64(len(path)) > t.dev.NumBlocks() {
			return nil, nil, fmt.Errorf("cycle at node %d: %w", page, ErrCorrupt)
		}
		n, err := readNode(t.dev, page)
		if err != nil {
			return nil, nil, err
		}
		if n.kind == LEAF {
			return path, n, nil
		}
		idx := n.route(key, cmp)
		path = append(path, frame{n: n, idx: idx})
		page = n.edges[idx].child
	}
}

// A part is one node produced by persisting a modified node; sep is the
// separator for every part but the first.
type part struct {
	sep  []byte
	page common.Bnum
}

// persist writes out n, which was oldSize bytes before being modified,
// splitting it in two if it outgrew its space.
//
// A node that still fits in one block, or that did not grow, is written as
// is. Otherwise it is split at its median, unless it has too few entries to
// split, in which case it is written as a multi-block node.
func (t *Tree) persist(n *node, oldSize uint64) ([]part, error) {
	sz := n.encodedSize()
	if sz <= t.capacity() || sz <= oldSize || !n.splittable() {
		page, err := writeNode(t.dev, n)
		if err != nil {
			return nil, err
		}
		return []part{{page: page}}, nil
	}
	left, right, sep := n.split()
	util.DPrintf(3, "tree: split %v node of %d entries (%d bytes)\n",
		n.kind, n.numEntries(), sz)
	lp, err := writeNode(t.dev, left)
	if err != nil {
		return nil, err
	}
	rp, err := writeNode(t.dev, right)
	if err != nil {
		return nil, err
	}
	return []part{{page: lp}, {sep: sep, page: rp}}, nil
}

// propagate installs parts, the replacement for the child reached through the
// last frame of path, into each ancestor in turn and finally sets the root.
func (t *Tree) propagate(path []frame, parts []part) error {
	for i := len(path) - 1; i >= 0; i-- {
		n := path[i].n
		idx := path[i].idx
		oldSize := n.size
		n.edges[idx].child = parts[0].page
		if len(parts) == 2 {
			n.insertEdge(idx+1, edge{child: parts[1].page, key: parts[1].sep})
		}
		var err error
		parts, err = t.persist(n, oldSize)
		if err != nil {
			return err
		}
	}
	if len(parts) == 1 {
		t.setRoot(parts[0].page)
		return nil
	}
	root := mkInternal([]edge{
		{child: parts[0].page},
		{child: parts[1].page, key: parts[1].sep},
	})
	page, err := writeNode(t.dev, root)
	if err != nil {
		return err
	}
	util.DPrintf(3, "tree: new root %d over %d and %d\n",
		page, parts[0].page, parts[1].page)
	t.setRoot(page)
	return nil
}

func (t *Tree) writeValue(value []byte) (addr.Locator, error) {
	if len(value) == 0 {
		return addr.EmptyValue, nil
	}
	first, _, err := seq.Write(t.dev, value)
	if err != nil {
		return addr.Locator{}, err
	}
	return addr.MkLocator(first, 0), nil
}

func (t *Tree) readValue(loc addr.Locator) ([]byte, error) {
	if loc.IsEmpty() {
		return []byte{}, nil
	}
	return seq.ReadAll(t.dev, loc.Blkno)
}

// Insert stores value under key, replacing any value key already has.
//
// The value is always written as a new stream.
func (t *Tree) Insert(key []byte, value []byte, cmp Compare) error {
	if uint64(len(key)) > MaxKeyLen {
		return fmt.Errorf("%d bytes: %w", len(key), ErrKeyTooLarge)
	}
	loc, err := t.writeValue(value)
	if err != nil {
		return err
	}
	ent := leafEnt{val: loc, key: util.CloneByteSlice(key)}

	if !t.hasRoot {
		page, err := writeNode(t.dev, mkLeaf([]leafEnt{ent}))
		if err != nil {
			return err
		}
		t.setRoot(page)
		return nil
	}

	path, leaf, err := t.descend(key, cmp)
	if err != nil {
		return err
	}
	oldSize := leaf.size
	idx, found := leaf.search(key, cmp)
	if found {
		util.DPrintf(5, "tree: replace %v in leaf %d\n", leaf.ents[idx].val, leaf.page)
		leaf.ents[idx] = ent
	} else {
		leaf.insertEnt(idx, ent)
	}
	parts, err := t.persist(leaf, oldSize)
	if err != nil {
		return err
	}
	return t.propagate(path, parts)
}

// Find returns the value stored under key.
func (t *Tree) Find(key []byte, cmp Compare) ([]byte, bool, error) {
	if !t.hasRoot {
		return nil, false, nil
	}
	_, leaf, err := t.descend(key, cmp)
	if err != nil {
		return nil, false, err
	}
	idx, found := leaf.search(key, cmp)
	if !found {
		return nil, false, nil
	}
	v, err := t.readValue(leaf.ents[idx].val)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Delete removes key from the tree. Deleting an absent key does nothing.
//
// Nodes left underfull are not merged with their siblings, but a node left
// empty is removed from its parent.
func (t *Tree) Delete(key []byte, cmp Compare) error {
	if !t.hasRoot {
		return nil
	}
	path, leaf, err := t.descend(key, cmp)
	if err != nil {
		return err
	}
	idx, found := leaf.search(key, cmp)
	if !found {
		return nil
	}
	oldSize := leaf.size
	leaf.removeEnt(idx)
	if len(leaf.ents) > 0 {
		parts, err := t.persist(leaf, oldSize)
		if err != nil {
			return err
		}
		return t.propagate(path, parts)
	}

	// drop the emptied leaf, and any ancestors it empties in turn
	for i := len(path) - 1; i >= 0; i-- {
		n := path[i].n
		oldSize := n.size
		n.removeEdge(path[i].idx)
		if len(n.edges) == 0 {
			continue
		}
		if i == 0 && len(n.edges) == 1 {
			return t.collapse(n.edges[0].child)
		}
		parts, err := t.persist(n, oldSize)
		if err != nil {
			return err
		}
		return t.propagate(path[:i], parts)
	}
	t.clearRoot()
	return nil
}

// collapse makes page the root, skipping down through internal nodes that
// have a single child.
func (t *Tree) collapse(page common.Bnum) error {
	for depth := uint64(0); ; depth++ {
		if depth > t.dev.NumBlocks() {
			return fmt.Errorf("cycle at node %d: %w", page, ErrCorrupt)
		}
		n, err := readNode(t.dev, page)
		if err != nil {
			return err
		}
		if n.kind == LEAF || len(n.edges) > 1 {
			break
		}
		page = n.edges[0].child
	}
	util.DPrintf(3, "tree: collapse root to %d\n", page)
	t.setRoot(page)
	return nil
}
