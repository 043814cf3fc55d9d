package rdtree_test

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"rdtree/internal/rdtree"
)

func dummy(nbits int, v byte) []byte {
	b := make([]byte, nbits/8)
	for i := range b {
		b[i] = v
	}
	return b
}

func openTestTree(t *testing.T, bfpBytes int, strategy rdtree.Strategy) (*rdtree.Tree, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := rdtree.Config{
		BFPBytes: bfpBytes,
		NodeSize: rdtree.DeriveNodeSize(4096, bfpBytes),
		Strategy: strategy,
	}
	ctx := context.Background()
	require.NoError(t, rdtree.SchemaInit(ctx, db, "xyz", cfg))

	pager, err := rdtree.OpenPager(db, "xyz", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { pager.Close() })

	tree, err := rdtree.OpenTree(ctx, pager, cfg)
	require.NoError(t, err)
	return tree, db
}

func scanAll(t *testing.T, tree *rdtree.Tree, constraint rdtree.Constraint) []int64 {
	t.Helper()
	ctx := context.Background()
	cur := tree.NewCursor()
	require.NoError(t, cur.Filter(ctx, constraint))
	var got []int64
	for !cur.EOF() {
		got = append(got, cur.Rowid())
		require.NoError(t, cur.Next(ctx))
	}
	require.NoError(t, cur.Close(ctx))
	return got
}

func TestTree_CreateEmpty(t *testing.T) {
	_, db := openTestTree(t, 32, rdtree.StrategyGeneric)

	var nodeRows, rowidRows, parentRows, bitfreqRows, weightfreqRows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM xyz_node`).Scan(&nodeRows))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM xyz_rowid`).Scan(&rowidRows))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM xyz_parent`).Scan(&parentRows))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM xyz_bitfreq`).Scan(&bitfreqRows))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM xyz_weightfreq`).Scan(&weightfreqRows))

	require.Equal(t, 1, nodeRows)
	require.Equal(t, 0, rowidRows)
	require.Equal(t, 0, parentRows)
	require.Equal(t, 256, bitfreqRows)
	require.Equal(t, 257, weightfreqRows)
}

func TestTree_SingleInsert(t *testing.T) {
	tree, db := openTestTree(t, 16, rdtree.StrategyGeneric)
	ctx := context.Background()

	require.NoError(t, tree.Insert(ctx, 1, dummy(128, 0)))

	var rowidRows, nodeRows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM xyz_rowid`).Scan(&rowidRows))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM xyz_node`).Scan(&nodeRows))
	require.Equal(t, 1, rowidRows)
	require.Equal(t, 1, nodeRows)

	var freq int
	require.NoError(t, db.QueryRow(`SELECT freq FROM xyz_weightfreq WHERE weight = 0`).Scan(&freq))
	require.Equal(t, 1, freq)
}

func TestTree_UpdateInPlace(t *testing.T) {
	tree, _ := openTestTree(t, 128, rdtree.StrategyGeneric)
	ctx := context.Background()

	require.NoError(t, tree.Insert(ctx, 1, dummy(1024, 0)))
	require.NoError(t, tree.Delete(ctx, 1))
	require.NoError(t, tree.Insert(ctx, 1, dummy(1024, 1)))

	got := scanAll(t, tree, nil)
	require.Equal(t, []int64{1}, got)
}

func TestTree_GrowIntoInternal(t *testing.T) {
	tree, db := openTestTree(t, 128, rdtree.StrategyGeneric)
	ctx := context.Background()

	for i := 0; i < 42; i++ {
		require.NoError(t, tree.Insert(ctx, int64(i), dummy(1024, byte(i))))
	}

	var nodeRows, parentRows, rowidRows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM xyz_node`).Scan(&nodeRows))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM xyz_parent`).Scan(&parentRows))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM xyz_rowid`).Scan(&rowidRows))

	require.GreaterOrEqual(t, nodeRows, 3)
	require.GreaterOrEqual(t, parentRows, 2)
	require.Equal(t, 42, rowidRows)
}

func TestTree_SubsetQuery(t *testing.T) {
	tree, _ := openTestTree(t, 128, rdtree.StrategyGeneric)
	ctx := context.Background()

	a := dummy(1024, 0x0F)
	b := dummy(1024, 0xFF)
	c := dummy(1024, 0xF0)
	require.NoError(t, tree.Insert(ctx, 1, a))
	require.NoError(t, tree.Insert(ctx, 2, b))
	require.NoError(t, tree.Insert(ctx, 3, c))

	constraint := rdtree.NewSubsetConstraint(dummy(1024, 0x0F))
	got := scanAll(t, tree, constraint)
	require.ElementsMatch(t, []int64{1, 2}, got)
}

func TestTree_TanimotoQuery(t *testing.T) {
	tree, pager := openTreeWithPager(t, 128, rdtree.StrategyGeneric)
	ctx := context.Background()

	a := dummy(1024, 0x0F)
	b := dummy(1024, 0xFF)
	c := dummy(1024, 0xF0)
	require.NoError(t, tree.Insert(ctx, 1, a))
	require.NoError(t, tree.Insert(ctx, 2, b))
	require.NoError(t, tree.Insert(ctx, 3, c))

	constraint := rdtree.NewTanimotoConstraint(dummy(1024, 0x0F), 0.5)
	require.NoError(t, constraint.Initialize(ctx, pager))

	got := scanAll(t, tree, constraint)
	require.ElementsMatch(t, []int64{1, 2}, got)
}

func openTreeWithPager(t *testing.T, bfpBytes int, strategy rdtree.Strategy) (*rdtree.Tree, *rdtree.Pager) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := rdtree.Config{BFPBytes: bfpBytes, NodeSize: rdtree.DeriveNodeSize(4096, bfpBytes), Strategy: strategy}
	ctx := context.Background()
	require.NoError(t, rdtree.SchemaInit(ctx, db, "xyz", cfg))

	pager, err := rdtree.OpenPager(db, "xyz", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { pager.Close() })

	tree, err := rdtree.OpenTree(ctx, pager, cfg)
	require.NoError(t, err)
	return tree, pager
}

func TestTree_DeleteThenCondense(t *testing.T) {
	tree, _ := openTestTree(t, 128, rdtree.StrategyGeneric)
	ctx := context.Background()

	ids := make([]int64, 0, 60)
	for i := 0; i < 60; i++ {
		id := int64(i)
		require.NoError(t, tree.Insert(ctx, id, dummy(1024, byte(i))))
		ids = append(ids, id)
	}

	for _, id := range ids[:40] {
		require.NoError(t, tree.Delete(ctx, id))
	}

	got := scanAll(t, tree, nil)
	require.ElementsMatch(t, ids[40:], got)
}

func TestTree_DuplicateRowidRejected(t *testing.T) {
	tree, _ := openTestTree(t, 16, rdtree.StrategyGeneric)
	ctx := context.Background()

	require.NoError(t, tree.Insert(ctx, 1, dummy(128, 0)))
	err := tree.Insert(ctx, 1, dummy(128, 1))
	require.ErrorIs(t, err, rdtree.ErrConstraint)
}
