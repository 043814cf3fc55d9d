package rdtree

import (
	"context"
	"fmt"
)

// Cache is the node cache (NC): an id->node map that pins live nodes and
// flushes dirty ones on release. RootDepth mirrors the tree's current
// depth-of-root and is stamped into node 1's header at flush time, since
// the node itself does not otherwise know when its owning tree's depth
// has changed.
type Cache struct {
	pager     *Pager
	cfg       Config
	nodes     map[int64]*pinnedNode
	RootDepth int
}

type pinnedNode struct {
	node *Node
	pins int
}

// NewCache constructs an empty cache bound to pager.
func NewCache(pager *Pager, cfg Config) *Cache {
	return &Cache{pager: pager, cfg: cfg, nodes: make(map[int64]*pinnedNode)}
}

// Acquire returns nodeid, pinning it. If already resident its pin count
// is incremented; otherwise it is read from the pager via the
// (nodeid,parent) pair it says it's bound to. parent is ignored for an
// already-resident node (callers cannot change a live node's parent
// through Acquire; use the explicit parent bookkeeping in tree.go when a
// node genuinely moves).
func (c *Cache) Acquire(ctx context.Context, nodeid, parent int64) (*Node, error) {
	if entry, ok := c.nodes[nodeid]; ok {
		entry.pins++
		return entry.node, nil
	}
	blob, ok, err := c.pager.ReadNode(ctx, nodeid)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("rdtree: node %d not found: %w", nodeid, ErrCorruption)
	}
	n := loadNode(nodeid, parent, c.cfg, blob)
	c.nodes[nodeid] = &pinnedNode{node: n, pins: 1}
	return n, nil
}

// AllocateNode allocates a brand-new node id bound to parent, pins it
// once, and inserts it into the cache. The node starts dirty (it has
// never been flushed) and empty.
func (c *Cache) AllocateNode(ctx context.Context, parent int64) (*Node, error) {
	id, err := c.pager.NextNodeID(ctx)
	if err != nil {
		return nil, err
	}
	n := newNode(id, parent, c.cfg)
	c.nodes[id] = &pinnedNode{node: n, pins: 1}
	return n, nil
}

// Release drops one pin on n. If n is dirty and this was its last pin,
// the node is flushed via the pager first (stamping RootDepth into node
// 1's header), then the pin is dropped; once the pin count reaches zero
// the node is evicted from the cache.
func (c *Cache) Release(ctx context.Context, n *Node) error {
	entry, ok := c.nodes[n.id]
	if !ok {
		return fmt.Errorf("rdtree: releasing unpinned node %d: %w", n.id, ErrCorruption)
	}
	if n.Dirty && entry.pins == 1 {
		if n.id == 1 {
			n.SetDepth(c.RootDepth)
		}
		if err := c.pager.WriteNode(ctx, n.id, n.Bytes()); err != nil {
			return err
		}
		n.Dirty = false
	}
	entry.pins--
	if entry.pins == 0 {
		delete(c.nodes, n.id)
	}
	return nil
}

// Delete removes a dissolved node from both the cache and the backing
// node table, bypassing the dirty-flush path entirely: a node headed for
// deletion is never written back.
func (c *Cache) Delete(ctx context.Context, n *Node) error {
	delete(c.nodes, n.id)
	return c.pager.DeleteNode(ctx, n.id)
}
