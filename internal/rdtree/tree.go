package rdtree

import (
	"context"
	"fmt"
)

// Tree is the top-level tree-operations (TO) object: choose-leaf descent,
// node split, adjust-tree, delete and condense-tree, bulk reinsertion, and
// rowid allocation, all driven through a Cache bound to a Pager.
type Tree struct {
	cache *Cache
	pager *Pager
	cfg   Config
	depth int // depth-of-root: absolute depth of the leaf level
}

// OpenTree attaches a Tree to an already-initialized schema (see
// SchemaInit), reading the current depth-of-root from the persisted root
// node.
func OpenTree(ctx context.Context, pager *Pager, cfg Config) (*Tree, error) {
	cache := NewCache(pager, cfg)
	root, err := cache.Acquire(ctx, 1, 0)
	if err != nil {
		return nil, err
	}
	depth := root.Depth()
	if err := cache.Release(ctx, root); err != nil {
		return nil, err
	}
	cache.RootDepth = depth
	return &Tree{cache: cache, pager: pager, cfg: cfg, depth: depth}, nil
}

// nodeEnvelope computes the bounding item for node: the OR of all its
// items' BFPs, the min/max of their weight brackets, and the cmp-max of
// their Max values. ID is left zero; callers set it to the node's own id
// before writing the item into a parent.
func nodeEnvelope(node *Node) *Item {
	size := node.Size()
	first := node.GetItem(0)
	env := first.Clone()
	for i := 1; i < size; i++ {
		env.ExtendBounds(node.GetItem(i))
	}
	return env
}

// relinkItems updates the mapping table entry for every item stored in
// node to point at node's own id: rowid->node for a leaf, node->parent for
// an internal node. Called whenever a node's item set changes wholesale
// (a fresh split, a copy during root growth or collapse), since any item
// that moved to a different node id needs its locator updated.
func (t *Tree) relinkItems(ctx context.Context, node *Node, isLeaf bool) error {
	size := node.Size()
	for i := 0; i < size; i++ {
		it := node.GetItem(i)
		if isLeaf {
			if err := t.pager.WriteRowidNode(ctx, it.ID, node.id); err != nil {
				return err
			}
		} else {
			if err := t.pager.WriteParent(ctx, it.ID, node.id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Insert adds (rowid, bfp) to the tree. bfp must already be exactly
// cfg.BFPBytes long; callers validate width before calling in (the vtab
// layer rejects mismatched widths with ErrInvalidArgument).
func (t *Tree) Insert(ctx context.Context, rowid int64, bfp []byte) error {
	if _, ok, err := t.pager.ReadRowidNode(ctx, rowid); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("rdtree: rowid %d already indexed: %w", rowid, ErrConstraint)
	}

	item := NewLeafItem(rowid, bfp)
	leaf, err := t.chooseLeaf(ctx, item, 0)
	if err != nil {
		return err
	}

	if err := t.pager.WriteRowidNode(ctx, rowid, leaf.id); err != nil {
		return err
	}
	if err := t.pager.BumpFrequenciesForInsert(ctx, bfp); err != nil {
		return err
	}

	if err := leaf.InsertItem(item); err == nil {
		return t.adjustTree(ctx, leaf, nil, true)
	} else if !IsFull(err) {
		return err
	}

	sibling, err := t.splitNode(ctx, leaf, item, true)
	if err != nil {
		return err
	}
	return t.adjustTree(ctx, leaf, sibling, true)
}

// splitNode redistributes node's existing items plus newItem between
// node (reused, cleared first) and a freshly allocated sibling, per the
// tree's configured strategy, and synchronizes the mapping tables for
// both halves. The returned sibling is pinned; the caller releases it
// once incorporated into the parent.
func (t *Tree) splitNode(ctx context.Context, node *Node, newItem *Item, isLeaf bool) (*Node, error) {
	size := node.Size()
	items := make([]*Item, 0, size+1)
	for i := 0; i < size; i++ {
		items = append(items, node.GetItem(i))
	}
	items = append(items, newItem)

	sibling, err := t.cache.AllocateNode(ctx, node.parent)
	if err != nil {
		return nil, err
	}
	node.Zero()

	dist := pairDistanceFor(t.cfg.Strategy)
	assignItems(items, node, sibling, dist, t.cfg.MinFill())

	if err := t.relinkItems(ctx, node, isLeaf); err != nil {
		return nil, err
	}
	if err := t.relinkItems(ctx, sibling, isLeaf); err != nil {
		return nil, err
	}
	return sibling, nil
}

// adjustTree walks from node toward the root, fixing the parent item that
// points at node and propagating a new sibling upward, cascading into a
// parent split (or a root growth) as needed.
func (t *Tree) adjustTree(ctx context.Context, node *Node, sibling *Node, isLeaf bool) error {
	for {
		if node.id == 1 {
			if sibling != nil {
				if err := t.growRoot(ctx, node, sibling, isLeaf); err != nil {
					return err
				}
				return t.cache.Release(ctx, sibling)
			}
			return t.cache.Release(ctx, node)
		}

		grandparent := int64(0)
		if node.parent != 1 {
			gp, ok, err := t.pager.ReadParent(ctx, node.parent)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("rdtree: node %d missing parent entry: %w", node.parent, ErrCorruption)
			}
			grandparent = gp
		}
		parent, err := t.cache.Acquire(ctx, node.parent, grandparent)
		if err != nil {
			return err
		}

		idx, ok := parent.RowidIndex(node.id)
		if !ok {
			return fmt.Errorf("rdtree: node %d missing from parent %d: %w", node.id, parent.id, ErrCorruption)
		}
		bounds := nodeEnvelope(node)
		bounds.ID = node.id
		parent.OverwriteItem(idx, bounds)

		var nextSibling *Node
		if sibling != nil {
			siblingBounds := nodeEnvelope(sibling)
			siblingBounds.ID = sibling.id
			if err := t.pager.WriteParent(ctx, sibling.id, parent.id); err != nil {
				return err
			}
			sibling.parent = parent.id

			if err := parent.InsertItem(siblingBounds); err == nil {
				if err := t.cache.Release(ctx, sibling); err != nil {
					return err
				}
			} else if IsFull(err) {
				nextSibling, err = t.splitNode(ctx, parent, siblingBounds, false)
				if err != nil {
					return err
				}
				if err := t.cache.Release(ctx, sibling); err != nil {
					return err
				}
			} else {
				return err
			}
		}

		if err := t.cache.Release(ctx, node); err != nil {
			return err
		}
		node = parent
		sibling = nextSibling
		isLeaf = false
	}
}

// growRoot handles the root-split case: node 1 must always remain the
// root, so the old root's content is copied to a freshly allocated node
// id, the new sibling is attached alongside it, and node 1 is rewritten
// as a two-item internal node pointing at both.
func (t *Tree) growRoot(ctx context.Context, oldRoot, newSibling *Node, isLeaf bool) error {
	moved, err := t.cache.AllocateNode(ctx, 1)
	if err != nil {
		return err
	}
	copy(moved.data, oldRoot.data)
	moved.Dirty = true
	if err := t.relinkItems(ctx, moved, isLeaf); err != nil {
		return err
	}

	movedBounds := nodeEnvelope(moved)
	movedBounds.ID = moved.id
	siblingBounds := nodeEnvelope(newSibling)
	siblingBounds.ID = newSibling.id

	oldRoot.Zero()
	oldRoot.AppendItem(movedBounds)
	oldRoot.AppendItem(siblingBounds)
	t.depth++
	oldRoot.SetDepth(t.depth)
	t.cache.RootDepth = t.depth

	if err := t.pager.WriteParent(ctx, moved.id, 1); err != nil {
		return err
	}
	if err := t.pager.WriteParent(ctx, newSibling.id, 1); err != nil {
		return err
	}
	moved.parent = 1
	newSibling.parent = 1

	return t.cache.Release(ctx, moved)
}

// Delete removes rowid's leaf item, decrements the frequency tables, and
// runs condense-tree to dissolve and reinsert any node that falls below
// minfill as a result.
func (t *Tree) Delete(ctx context.Context, rowid int64) error {
	nodeID, ok, err := t.pager.ReadRowidNode(ctx, rowid)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("rdtree: rowid %d not found: %w", rowid, ErrCorruption)
	}

	parentID := int64(0)
	if nodeID != 1 {
		p, ok, err := t.pager.ReadParent(ctx, nodeID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("rdtree: node %d missing parent entry: %w", nodeID, ErrCorruption)
		}
		parentID = p
	}

	leaf, err := t.cache.Acquire(ctx, nodeID, parentID)
	if err != nil {
		return err
	}
	idx, ok := leaf.RowidIndex(rowid)
	if !ok {
		return fmt.Errorf("rdtree: rowid %d not found in node %d: %w", rowid, nodeID, ErrCorruption)
	}
	bfp := append([]byte(nil), leaf.GetItem(idx).BFP...)
	leaf.DeleteItem(idx)

	if err := t.pager.DeleteRowidNode(ctx, rowid); err != nil {
		return err
	}
	if err := t.pager.BumpFrequenciesForDelete(ctx, bfp); err != nil {
		return err
	}

	return t.condenseTree(ctx, leaf, true)
}

type condenseEntry struct {
	items  []*Item
	height int
}

// condenseTree ascends from node toward the root after a deletion,
// dissolving any node that falls below minfill and queueing its items for
// reinsertion at their original height, fixing the bounds of nodes that
// remain, and finally collapsing the root if it is left with a single
// child.
func (t *Tree) condenseTree(ctx context.Context, node *Node, isLeaf bool) error {
	var reinsert []condenseEntry
	height := 0

	for node.id != 1 {
		grandparent := int64(0)
		if node.parent != 1 {
			gp, ok, err := t.pager.ReadParent(ctx, node.parent)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("rdtree: node %d missing parent entry: %w", node.parent, ErrCorruption)
			}
			grandparent = gp
		}
		parent, err := t.cache.Acquire(ctx, node.parent, grandparent)
		if err != nil {
			return err
		}

		idx, ok := parent.RowidIndex(node.id)
		if !ok {
			return fmt.Errorf("rdtree: node %d missing from parent %d: %w", node.id, parent.id, ErrCorruption)
		}

		if node.Size() < t.cfg.MinFill() {
			size := node.Size()
			items := make([]*Item, size)
			for i := 0; i < size; i++ {
				items[i] = node.GetItem(i)
			}
			reinsert = append(reinsert, condenseEntry{items: items, height: height})

			parent.DeleteItem(idx)
			if err := t.pager.DeleteParent(ctx, node.id); err != nil {
				return err
			}
			if err := t.cache.Delete(ctx, node); err != nil {
				return err
			}
		} else {
			bounds := nodeEnvelope(node)
			bounds.ID = node.id
			parent.OverwriteItem(idx, bounds)
			if err := t.cache.Release(ctx, node); err != nil {
				return err
			}
		}

		node = parent
		height++
		isLeaf = false
	}

	if node.Size() == 1 && t.depth > 0 {
		onlyChild := node.GetItem(0)
		child, err := t.cache.Acquire(ctx, onlyChild.ID, 1)
		if err != nil {
			return err
		}

		node.Zero()
		copy(node.data, child.data)
		node.Dirty = true
		t.depth--
		node.SetDepth(t.depth)
		t.cache.RootDepth = t.depth

		childIsLeaf := t.depth == 0
		if err := t.relinkItems(ctx, node, childIsLeaf); err != nil {
			return err
		}
		if err := t.pager.DeleteParent(ctx, onlyChild.ID); err != nil {
			return err
		}
		if err := t.cache.Delete(ctx, child); err != nil {
			return err
		}
	}

	if err := t.cache.Release(ctx, node); err != nil {
		return err
	}

	for _, entry := range reinsert {
		for _, it := range entry.items {
			if err := t.bulkReinsertItem(ctx, it, entry.height); err != nil {
				return err
			}
		}
	}
	return nil
}

// bulkReinsertItem reinserts an item collected by condense-tree at its
// original height, without touching the frequency tables (it never
// logically left the index).
func (t *Tree) bulkReinsertItem(ctx context.Context, item *Item, height int) error {
	leaf, err := t.chooseLeaf(ctx, item, height)
	if err != nil {
		return err
	}
	isLeafLevel := height == 0

	if isLeafLevel {
		if err := t.pager.WriteRowidNode(ctx, item.ID, leaf.id); err != nil {
			return err
		}
	} else {
		if err := t.pager.WriteParent(ctx, item.ID, leaf.id); err != nil {
			return err
		}
	}

	if err := leaf.InsertItem(item); err == nil {
		return t.adjustTree(ctx, leaf, nil, isLeafLevel)
	} else if !IsFull(err) {
		return err
	}

	sibling, err := t.splitNode(ctx, leaf, item, isLeafLevel)
	if err != nil {
		return err
	}
	return t.adjustTree(ctx, leaf, sibling, isLeafLevel)
}

// NextRowid allocates a fresh rowid for an insert whose host-provided
// value was NULL.
func (t *Tree) NextRowid(ctx context.Context) (int64, error) {
	return t.pager.NextRowid(ctx)
}
