package rdtree

import (
	"context"
	"fmt"
)

type pathEntry struct {
	node *Node
	idx  int
}

// Cursor is a depth-first iterator (CUR) over a Tree: it applies the
// current constraint (nil means an unconstrained full scan) at every node
// visit, descending into internal items that survive TestInternal and
// emitting rowids from leaf items that survive TestLeaf.
type Cursor struct {
	tree        *Tree
	constraint  Constraint
	path        []pathEntry
	eof         bool
	rowid       int64
	bfp         []byte
	Interrupted func() bool
}

// NewCursor opens a cursor bound to t, not yet positioned; call Filter to
// start a scan.
func (t *Tree) NewCursor() *Cursor {
	return &Cursor{tree: t}
}

// Filter (re)starts the cursor at the root with the given constraint (nil
// for a full scan) and advances to the first matching row.
func (c *Cursor) Filter(ctx context.Context, constraint Constraint) error {
	if err := c.Close(ctx); err != nil {
		return err
	}
	c.constraint = constraint
	root, err := c.tree.cache.Acquire(ctx, 1, 0)
	if err != nil {
		return err
	}
	c.path = append(c.path, pathEntry{node: root, idx: 0})
	c.eof = false
	return c.advance(ctx)
}

// Next steps to the next matching row.
func (c *Cursor) Next(ctx context.Context) error {
	if len(c.path) == 0 {
		c.eof = true
		return nil
	}
	c.path[len(c.path)-1].idx++
	return c.advance(ctx)
}

// EOF reports whether the cursor has been exhausted.
func (c *Cursor) EOF() bool { return c.eof }

// Rowid returns the rowid of the current row. Valid only when !EOF().
func (c *Cursor) Rowid() int64 { return c.rowid }

// BFP returns the fingerprint bytes of the current row. Valid only when
// !EOF(). The returned slice is owned by the cursor and must not be
// retained past the next Next/Filter/Close call.
func (c *Cursor) BFP() []byte { return c.bfp }

// Close releases every node pinned along the current path.
func (c *Cursor) Close(ctx context.Context) error {
	for i := len(c.path) - 1; i >= 0; i-- {
		if err := c.tree.cache.Release(ctx, c.path[i].node); err != nil {
			return err
		}
	}
	c.path = nil
	return nil
}

func (c *Cursor) advance(ctx context.Context) error {
	for len(c.path) > 0 {
		if c.Interrupted != nil && c.Interrupted() {
			return fmt.Errorf("rdtree: scan interrupted: %w", ErrInterrupted)
		}

		top := &c.path[len(c.path)-1]
		if top.idx >= top.node.Size() {
			if err := c.tree.cache.Release(ctx, top.node); err != nil {
				return err
			}
			c.path = c.path[:len(c.path)-1]
			if len(c.path) > 0 {
				c.path[len(c.path)-1].idx++
			}
			continue
		}

		item := top.node.GetItem(top.idx)
		depthHere := len(c.path) - 1
		isLeafLevel := depthHere == c.tree.depth

		if isLeafLevel {
			accept := c.constraint == nil || !c.constraint.TestLeaf(item)
			if accept {
				c.rowid = item.ID
				c.bfp = item.BFP
				c.eof = false
				return nil
			}
			top.idx++
			continue
		}

		if c.constraint != nil && c.constraint.TestInternal(item) {
			top.idx++
			continue
		}

		child, err := c.tree.cache.Acquire(ctx, item.ID, top.node.id)
		if err != nil {
			return err
		}
		c.path = append(c.path, pathEntry{node: child, idx: 0})
	}
	c.eof = true
	return nil
}
