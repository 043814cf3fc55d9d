package rdtree

import (
	"encoding/binary"
	"fmt"

	"rdtree/internal/bitalg"
)

// nodeFull is returned by InsertItem when the node has no room left; the
// caller is expected to split the node and retry.
var nodeFull = fmt.Errorf("rdtree: node is full")

// IsFull reports whether err is the sentinel InsertItem returns when a
// node has no more room.
func IsFull(err error) bool {
	return err == nodeFull
}

// Node is a fixed-size page holding a header, an item count, and up to
// Capacity() packed items. InsertItem places each item in ascending order
// of Max under bitalg.Cmp; AppendItem and OverwriteItem do not re-sort, so
// a node filled by a split or root growth, or refreshed by adjust-tree or
// condense-tree, can hold its items out of that order. Bytes 0:2 carry the depth-of-root, meaningful only when id == 1. Bytes
// 2:4 carry the item count. Mutations set Dirty, consumed by the cache on
// release.
type Node struct {
	id     int64
	parent int64
	cfg    Config
	data   []byte
	Dirty  bool
	pins   int
}

// newNode allocates a zeroed node of the configured byte size.
func newNode(id, parent int64, cfg Config) *Node {
	return &Node{
		id:     id,
		parent: parent,
		cfg:    cfg,
		data:   make([]byte, cfg.NodeSize),
		Dirty:  true,
	}
}

// loadNode reconstructs a node from a persisted blob.
func loadNode(id, parent int64, cfg Config, blob []byte) *Node {
	data := make([]byte, cfg.NodeSize)
	copy(data, blob)
	return &Node{id: id, parent: parent, cfg: cfg, data: data}
}

// ID returns the node's id. Root is always id 1.
func (n *Node) ID() int64 { return n.id }

// Parent returns the node's parent id, or 0 if this is the root.
func (n *Node) Parent() int64 { return n.parent }

// Bytes returns the node's raw page buffer, for writing back through the
// paging adapter.
func (n *Node) Bytes() []byte { return n.data }

// Depth returns the depth-of-root stamped in bytes 0:2. Meaningful only
// when ID() == 1.
func (n *Node) Depth() int {
	return int(binary.BigEndian.Uint16(n.data[0:2]))
}

// SetDepth stamps the depth-of-root into bytes 0:2.
func (n *Node) SetDepth(d int) {
	binary.BigEndian.PutUint16(n.data[0:2], uint16(d))
	n.Dirty = true
}

// Size returns the current item count n.
func (n *Node) Size() int {
	return int(binary.BigEndian.Uint16(n.data[2:4]))
}

func (n *Node) setSize(size int) {
	binary.BigEndian.PutUint16(n.data[2:4], uint16(size))
}

func (n *Node) itemOffset(i int) int {
	return nodeHeaderSize + i*n.cfg.ItemSize()
}

// GetItem decodes and returns a copy of the item at slot i.
func (n *Node) GetItem(i int) *Item {
	off := n.itemOffset(i)
	b := n.cfg.BFPBytes
	id := int64(binary.BigEndian.Uint64(n.data[off : off+8]))
	minW := binary.BigEndian.Uint16(n.data[off+8 : off+10])
	maxW := binary.BigEndian.Uint16(n.data[off+10 : off+12])
	bfp := append([]byte(nil), n.data[off+12:off+12+b]...)
	max := append([]byte(nil), n.data[off+12+b:off+12+2*b]...)
	return &Item{ID: id, MinW: minW, MaxW: maxW, BFP: bfp, Max: max}
}

// putItem encodes it into slot i, regardless of current size.
func (n *Node) putItem(i int, it *Item) {
	off := n.itemOffset(i)
	b := n.cfg.BFPBytes
	binary.BigEndian.PutUint64(n.data[off:off+8], uint64(it.ID))
	binary.BigEndian.PutUint16(n.data[off+8:off+10], it.MinW)
	binary.BigEndian.PutUint16(n.data[off+10:off+12], it.MaxW)
	copy(n.data[off+12:off+12+b], it.BFP)
	copy(n.data[off+12+b:off+12+2*b], it.Max)
	n.Dirty = true
}

// OverwriteItem replaces the item at slot i without resorting. Adjust-tree
// and condense-tree use it to refresh a child's bounding item in the slot
// found by rowid lookup; when the new Max orders differently from its
// neighbours, the node's ascending Max order is not restored.
func (n *Node) OverwriteItem(i int, it *Item) {
	n.putItem(i, it)
}

// InsertItem inserts it keeping the item array sorted by Max ascending
// under bitalg.Cmp. Returns nodeFull (test with IsFull) without mutating
// the node when the node is already at capacity.
func (n *Node) InsertItem(it *Item) error {
	size := n.Size()
	if size >= n.cfg.Capacity() {
		return nodeFull
	}

	insertAt := size
	for i := 0; i < size; i++ {
		cur := n.GetItem(i)
		if bitalg.Cmp(it.Max, cur.Max) < 0 {
			insertAt = i
			break
		}
	}

	for i := size; i > insertAt; i-- {
		prev := n.GetItem(i - 1)
		n.putItem(i, prev)
	}
	n.putItem(insertAt, it)
	n.setSize(size + 1)
	n.Dirty = true
	return nil
}

// AppendItem appends it without maintaining sort order; used while
// assembling the two halves of a split and the two-item root built by
// growRoot. The resulting nodes are not re-sorted afterwards.
func (n *Node) AppendItem(it *Item) {
	size := n.Size()
	n.putItem(size, it)
	n.setSize(size + 1)
	n.Dirty = true
}

// DeleteItem removes the item at slot i, shifting the tail left.
func (n *Node) DeleteItem(i int) {
	size := n.Size()
	for j := i; j < size-1; j++ {
		next := n.GetItem(j + 1)
		n.putItem(j, next)
	}
	n.setSize(size - 1)
	n.Dirty = true
}

// RowidIndex linear-scans for the slot holding id (a rowid on a leaf node,
// a child node id on an internal node) and reports whether it was found.
func (n *Node) RowidIndex(id int64) (int, bool) {
	size := n.Size()
	for i := 0; i < size; i++ {
		if n.GetItem(i).ID == id {
			return i, true
		}
	}
	return 0, false
}

// Zero resets the item count to 0, leaving the depth-of-root header byte
// range untouched (callers that also need to reset depth call SetDepth
// explicitly).
func (n *Node) Zero() {
	n.setSize(0)
	n.Dirty = true
}
