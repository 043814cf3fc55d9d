package rdtree

import (
	"context"
	"fmt"

	"rdtree/internal/bitalg"
)

// tanimotoDistance is the Generic/Subset split-seed distance: 1 minus
// Tanimoto similarity.
func tanimotoDistance(a, b *Item) float64 {
	return 1 - bitalg.Tanimoto(a.BFP, b.BFP)
}

// similarityDistance is the Similarity strategy's split-seed distance,
// the weight-distance between the two items' min/max brackets.
func similarityDistance(a, b *Item) float64 {
	return WeightDistance(a, b)
}

// pairDistanceFor returns the seed/next-pick distance function for a
// split performed under strategy. Per the source's class hierarchy,
// Subset's assign_items is byte-for-byte the Generic one; only Similarity
// overrides pick_seeds/pick_next, and it does so with the same
// weight-distance function in both places.
func pairDistanceFor(s Strategy) distanceFn {
	if s == StrategySimilarity {
		return similarityDistance
	}
	return tanimotoDistance
}

// chooseLeaf descends from the root to the node at the given height above
// the leaf level (0 = leaf), selecting children according to the tree's
// configured strategy, and returns that node pinned.
func (t *Tree) chooseLeaf(ctx context.Context, item *Item, height int) (*Node, error) {
	switch t.cfg.Strategy {
	case StrategySubset:
		return t.chooseLeafSubset(ctx, item, height)
	case StrategySimilarity:
		return t.chooseLeafSimilarity(ctx, item, height)
	default:
		return t.chooseLeafGeneric(ctx, item, height)
	}
}

// chooseLeafGeneric minimizes growth, then weight-distance, then child
// weight.
func (t *Tree) chooseLeafGeneric(ctx context.Context, item *Item, height int) (*Node, error) {
	node, err := t.cache.Acquire(ctx, 1, 0)
	if err != nil {
		return nil, err
	}
	for step := 0; step < t.depth-height; step++ {
		size := node.Size()
		if size == 0 {
			return nil, fmt.Errorf("rdtree: internal node %d has no children: %w", node.id, ErrCorruption)
		}
		var best int64
		var bestGrowth, bestWeight int
		var bestDist float64
		for i := 0; i < size; i++ {
			cur := node.GetItem(i)
			growth := cur.Growth(item)
			dist := WeightDistance(cur, item)
			weight := cur.Weight()
			if i == 0 ||
				growth < bestGrowth ||
				(growth == bestGrowth && dist < bestDist) ||
				(growth == bestGrowth && dist == bestDist && weight < bestWeight) {
				bestGrowth, bestDist, bestWeight = growth, dist, weight
				best = cur.ID
			}
		}
		child, err := t.cache.Acquire(ctx, best, node.id)
		if err != nil {
			return nil, err
		}
		if err := t.cache.Release(ctx, node); err != nil {
			return nil, err
		}
		node = child
	}
	return node, nil
}

// chooseLeafSubset minimizes growth, then child weight (no weight-distance
// tie-break).
func (t *Tree) chooseLeafSubset(ctx context.Context, item *Item, height int) (*Node, error) {
	node, err := t.cache.Acquire(ctx, 1, 0)
	if err != nil {
		return nil, err
	}
	for step := 0; step < t.depth-height; step++ {
		size := node.Size()
		if size == 0 {
			return nil, fmt.Errorf("rdtree: internal node %d has no children: %w", node.id, ErrCorruption)
		}
		var best int64
		var bestGrowth, bestWeight int
		for i := 0; i < size; i++ {
			cur := node.GetItem(i)
			growth := cur.Growth(item)
			weight := cur.Weight()
			if i == 0 || growth < bestGrowth || (growth == bestGrowth && weight < bestWeight) {
				bestGrowth, bestWeight = growth, weight
				best = cur.ID
			}
		}
		child, err := t.cache.Acquire(ctx, best, node.id)
		if err != nil {
			return nil, err
		}
		if err := t.cache.Release(ctx, node); err != nil {
			return nil, err
		}
		node = child
	}
	return node, nil
}

// chooseLeafSimilarity minimizes weight-distance first, then growth.
func (t *Tree) chooseLeafSimilarity(ctx context.Context, item *Item, height int) (*Node, error) {
	node, err := t.cache.Acquire(ctx, 1, 0)
	if err != nil {
		return nil, err
	}
	for step := 0; step < t.depth-height; step++ {
		size := node.Size()
		if size == 0 {
			return nil, fmt.Errorf("rdtree: internal node %d has no children: %w", node.id, ErrCorruption)
		}
		var best int64
		var bestDist float64
		var bestGrowth int
		for i := 0; i < size; i++ {
			cur := node.GetItem(i)
			dist := WeightDistance(cur, item)
			growth := cur.Growth(item)
			if i == 0 || dist < bestDist || (dist == bestDist && growth < bestGrowth) {
				bestDist, bestGrowth = dist, growth
				best = cur.ID
			}
		}
		child, err := t.cache.Acquire(ctx, best, node.id)
		if err != nil {
			return nil, err
		}
		if err := t.cache.Release(ctx, node); err != nil {
			return nil, err
		}
		node = child
	}
	return node, nil
}
