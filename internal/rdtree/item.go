package rdtree

import "rdtree/internal/bitalg"

// Item is the unit stored in a node slot. On a leaf it carries a rowid and
// a BFP (min_w == max_w == popcount(bfp), max == bfp). On an internal node
// it additionally brackets the popcounts of all descendant leaves and
// carries the envelope (OR of descendant BFPs) and the cmp-max of
// descendant max values.
//
// ID is the rowid on a leaf item and the child node id on an internal
// item; the field is typed uniformly as int64 and its meaning is assigned
// by the depth of the node that holds it.
type Item struct {
	ID   int64
	MinW uint16
	MaxW uint16
	BFP  []byte
	Max  []byte
}

// NewLeafItem builds a leaf item for rowid carrying bfp. The caller's bfp
// slice is copied so the item owns independent storage.
func NewLeafItem(rowid int64, bfp []byte) *Item {
	w := uint16(bitalg.Weight(bfp))
	owned := append([]byte(nil), bfp...)
	maxCopy := append([]byte(nil), bfp...)
	return &Item{
		ID:   rowid,
		MinW: w,
		MaxW: w,
		BFP:  owned,
		Max:  maxCopy,
	}
}

// Clone returns a deep copy of item, safe to mutate independently.
func (it *Item) Clone() *Item {
	return &Item{
		ID:   it.ID,
		MinW: it.MinW,
		MaxW: it.MaxW,
		BFP:  append([]byte(nil), it.BFP...),
		Max:  append([]byte(nil), it.Max...),
	}
}

// Weight returns popcount(bfp); on a leaf this equals MinW and MaxW.
func (it *Item) Weight() int {
	return bitalg.Weight(it.BFP)
}

// Contains reports whether other's bounds and envelope are entirely
// covered by it: it is the standard RDtreeItem.contains check for
// invariant I1. Nothing on the insertion path calls it.
func (it *Item) Contains(other *Item) bool {
	return it.MinW <= other.MinW &&
		it.MaxW >= other.MaxW &&
		bitalg.Contains(it.BFP, other.BFP) &&
		bitalg.Cmp(it.Max, other.Max) >= 0
}

// Growth returns the number of bits the envelope would gain by absorbing
// added, i.e. bitalg.Growth(it.BFP, added.BFP).
func (it *Item) Growth(added *Item) int {
	return bitalg.Growth(it.BFP, added.BFP)
}

// ExtendBounds widens it in place so that it covers added: the envelope
// absorbs added's bits, the weight bracket widens if needed, and Max
// becomes the cmp-larger of the two.
func (it *Item) ExtendBounds(added *Item) {
	bitalg.UnionInto(it.BFP, added.BFP)
	if it.MinW > added.MinW {
		it.MinW = added.MinW
	}
	if it.MaxW < added.MaxW {
		it.MaxW = added.MaxW
	}
	if bitalg.Cmp(it.Max, added.Max) < 0 {
		it.Max = append([]byte(nil), added.Max...)
	}
}

// WeightDistance is |a.min_w - b.min_w| + |a.max_w - b.max_w|, used by the
// Generic strategy's descent tie-break and by the Similarity strategy's
// primary seed/next-pick distance.
func WeightDistance(a, b *Item) float64 {
	d1 := absInt(int(a.MinW) - int(b.MinW))
	d2 := absInt(int(a.MaxW) - int(b.MaxW))
	return float64(d1 + d2)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
