package tree

import (
	"encoding/binary"
	"fmt"

	"github.com/tchajed/goose/machine"

	"github.com/mit-pdos/go-blocktree/addr"
	"github.com/mit-pdos/go-blocktree/common"
	"github.com/mit-pdos/go-blocktree/device"
	"github.com/mit-pdos/go-blocktree/entry"
	"github.com/mit-pdos/go-blocktree/seq"
)

type nodeKind byte

const (
	INTERNAL nodeKind = 1
	LEAF     nodeKind = 2
)

func (k nodeKind) String() string {
	switch k {
	case INTERNAL:
		return "internal"
	case LEAF:
		return "leaf"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

const (
	LEAFHDR uint64 = 4 + 2 // value block, value subindex
	EDGEHDR uint64 = 4     // child block

	// a node needs this many entries before it is split
	MINLEAFSPLIT = 2
	MINEDGESPLIT = 4
)

var tagSize = entry.Size(1)

// A leafEnt maps a key to the locator of its value.
type leafEnt struct {
	val addr.Locator
	key []byte
}

func (e leafEnt) size() uint64 {
	return entry.Size(LEAFHDR + uint64(len(e.key)))
}

// An edge routes keys >= key to child. The first edge of a node has no key.
type edge struct {
	child common.Bnum
	key   []byte
}

func (e edge) size() uint64 {
	return entry.Size(EDGEHDR + uint64(len(e.key)))
}

// node is the in-memory form of one tree node stream.
type node struct {
	kind  nodeKind
	page  common.Bnum // first block, if read from the device
	size  uint64      // encoded size when read
	ents  []leafEnt
	edges []edge
}

func mkLeaf(ents []leafEnt) *node {
	return &node{kind: LEAF, ents: ents}
}

func mkInternal(edges []edge) *node {
	return &node{kind: INTERNAL, edges: edges}
}

func (n *node) encodedSize() uint64 {
	sz := tagSize
	for _, e := range n.ents {
		sz += e.size()
	}
	for _, e := range n.edges {
		sz += e.size()
	}
	return sz
}

func (n *node) numEntries() int {
	if n.kind == LEAF {
		return len(n.ents)
	}
	return len(n.edges)
}

func (n *node) splittable() bool {
	if n.kind == LEAF {
		return len(n.ents) >= MINLEAFSPLIT
	}
	return len(n.edges) >= MINEDGESPLIT
}

// split divides n at its median entry. The separator is the first key of the
// right half; for an internal node it moves out of the right half, whose
// first edge loses its key.
func (n *node) split() (*node, *node, []byte) {
	if n.kind == LEAF {
		mid := len(n.ents) / 2
		left := mkLeaf(append([]leafEnt(nil), n.ents[:mid]...))
		right := mkLeaf(append([]leafEnt(nil), n.ents[mid:]...))
		return left, right, right.ents[0].key
	}
	mid := len(n.edges) / 2
	left := mkInternal(append([]edge(nil), n.edges[:mid]...))
	right := mkInternal(append([]edge(nil), n.edges[mid:]...))
	sep := right.edges[0].key
	right.edges[0].key = nil
	return left, right, sep
}

// search finds key among the leaf's entries, or where it would be inserted.
func (n *node) search(key []byte, cmp Compare) (int, bool) {
	for i, e := range n.ents {
		c := cmp(key, e.key)
		if c == 0 {
			return i, true
		}
		if c < 0 {
			return i, false
		}
	}
	return len(n.ents), false
}

// route picks the edge to follow for key: the last one whose separator is
// <= key.
func (n *node) route(key []byte, cmp Compare) int {
	idx := 0
	for i := 1; i < len(n.edges); i++ {
		if cmp(key, n.edges[i].key) < 0 {
			break
		}
		idx = i
	}
	return idx
}

func (n *node) insertEnt(i int, e leafEnt) {
	n.ents = append(n.ents, leafEnt{})
	copy(n.ents[i+1:], n.ents[i:])
	n.ents[i] = e
}

func (n *node) removeEnt(i int) {
	n.ents = append(n.ents[:i], n.ents[i+1:]...)
}

func (n *node) insertEdge(i int, e edge) {
	n.edges = append(n.edges, edge{})
	copy(n.edges[i+1:], n.edges[i:])
	n.edges[i] = e
}

// removeEdge drops edge i. Keys it routed go to the edge before it, or for
// i == 0 to the new first edge.
func (n *node) removeEdge(i int) {
	n.edges = append(n.edges[:i], n.edges[i+1:]...)
	if len(n.edges) > 0 {
		n.edges[0].key = nil
	}
}

func encodeLeafEnt(e leafEnt) []byte {
	b := make([]byte, LEAFHDR+uint64(len(e.key)))
	machine.UInt32Put(b[0:4], uint32(e.val.Blkno))
	binary.LittleEndian.PutUint16(b[4:6], e.val.Sub)
	copy(b[LEAFHDR:], e.key)
	return b
}

func decodeLeafEnt(b []byte) (leafEnt, error) {
	if uint64(len(b)) < LEAFHDR {
		return leafEnt{}, fmt.Errorf("leaf entry of %d bytes: %w", len(b), ErrCorrupt)
	}
	return leafEnt{
		val: addr.MkLocator(common.Bnum(machine.UInt32Get(b[0:4])),
			binary.LittleEndian.Uint16(b[4:6])),
		key: b[LEAFHDR:],
	}, nil
}

func encodeEdge(e edge) []byte {
	b := make([]byte, EDGEHDR+uint64(len(e.key)))
	machine.UInt32Put(b[0:4], uint32(e.child))
	copy(b[EDGEHDR:], e.key)
	return b
}

func decodeEdge(b []byte) (edge, error) {
	if uint64(len(b)) < EDGEHDR {
		return edge{}, fmt.Errorf("edge of %d bytes: %w", len(b), ErrCorrupt)
	}
	return edge{
		child: common.Bnum(machine.UInt32Get(b[0:4])),
		key:   b[EDGEHDR:],
	}, nil
}

// writeNode stores n as a new stream and returns its first block.
func writeNode(dev device.Device, n *node) (common.Bnum, error) {
	sw := seq.NewWriter(dev)
	w := entry.NewWriter(sw)
	w.Write([]byte{byte(n.kind)})
	if err := w.CompleteEntry(); err != nil {
		return 0, err
	}
	for _, e := range n.ents {
		w.Write(encodeLeafEnt(e))
		if err := w.CompleteEntry(); err != nil {
			return 0, err
		}
	}
	for _, e := range n.edges {
		w.Write(encodeEdge(e))
		if err := w.CompleteEntry(); err != nil {
			return 0, err
		}
	}
	w.Close()
	size := sw.Len()
	page, _, err := sw.Finish()
	if err != nil {
		return 0, err
	}
	n.page = page
	n.size = size
	return page, nil
}

func readNode(dev device.Device, page common.Bnum) (*node, error) {
	if page >= dev.NumBlocks() {
		return nil, fmt.Errorf("node at block %d of %d: %w",
			page, dev.NumBlocks(), ErrCorrupt)
	}
	r := entry.NewReader(seq.NewReader(dev, page))
	ok, err := r.Enter()
	if err != nil {
		return nil, err
	}
	if !ok || r.Len() != 1 {
		return nil, fmt.Errorf("node %d has no type tag: %w", page, ErrCorrupt)
	}
	tag, err := r.ReadEntry()
	if err != nil {
		return nil, err
	}
	n := &node{kind: nodeKind(tag[0]), page: page, size: tagSize}
	if n.kind != LEAF && n.kind != INTERNAL {
		return nil, fmt.Errorf("node %d: %v: %w", page, n.kind, ErrCorrupt)
	}
	for {
		ok, err := r.Enter()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		b, err := r.ReadEntry()
		if err != nil {
			return nil, err
		}
		n.size += entry.Size(uint64(len(b)))
		if n.kind == LEAF {
			e, err := decodeLeafEnt(b)
			if err != nil {
				return nil, err
			}
			n.ents = append(n.ents, e)
		} else {
			e, err := decodeEdge(b)
			if err != nil {
				return nil, err
			}
			n.edges = append(n.edges, e)
		}
	}
	if n.kind == INTERNAL && len(n.edges) == 0 {
		return nil, fmt.Errorf("internal node %d has no children: %w", page, ErrCorrupt)
	}
	return n, nil
}
