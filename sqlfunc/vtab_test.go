package sqlfunc_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"rdtree/sqlfunc"
)

func openVTabDB(t *testing.T, driverName string) *sql.DB {
	t.Helper()
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return sqlfunc.RegisterModule(conn)
		},
	})
	db, err := sql.Open(driverName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestVTab_CreateInsertSelect(t *testing.T) {
	db := openVTabDB(t, "sqlite3_vtab_create_insert")
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `CREATE VIRTUAL TABLE mols USING rdtree(id, fp bits(1024))`)
	require.NoError(t, err)

	fp := make([]byte, 128)
	fp[0] = 0x0F
	_, err = db.ExecContext(ctx, `INSERT INTO mols(id, fp) VALUES (1, ?)`, fp)
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mols`).Scan(&count))
	require.Equal(t, 1, count)

	var gotID int64
	var gotFP []byte
	require.NoError(t, db.QueryRowContext(ctx, `SELECT id, fp FROM mols WHERE id = 1`).Scan(&gotID, &gotFP))
	require.Equal(t, int64(1), gotID)
	require.Equal(t, fp, gotFP)
}

func TestVTab_SubsetMatchQuery(t *testing.T) {
	db := openVTabDB(t, "sqlite3_vtab_subset")
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `CREATE VIRTUAL TABLE mols USING rdtree(id, fp bytes(16))`)
	require.NoError(t, err)

	a := make([]byte, 16)
	a[0] = 0x0F
	b := make([]byte, 16)
	b[0] = 0xFF
	c := make([]byte, 16)
	c[0] = 0xF0

	for i, fp := range [][]byte{a, b, c} {
		_, err := db.ExecContext(ctx, `INSERT INTO mols(id, fp) VALUES (?, ?)`, i+1, fp)
		require.NoError(t, err)
	}

	q := make([]byte, 16)
	q[0] = 0x0F
	rows, err := db.QueryContext(ctx, `SELECT id FROM mols WHERE fp MATCH rdtree_subset(?)`, q)
	require.NoError(t, err)
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	require.NoError(t, rows.Err())
	require.ElementsMatch(t, []int64{1, 2}, ids)
}

func TestVTab_DeleteRemovesRow(t *testing.T) {
	db := openVTabDB(t, "sqlite3_vtab_delete")
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `CREATE VIRTUAL TABLE mols USING rdtree(id, fp bytes(8))`)
	require.NoError(t, err)

	fp := make([]byte, 8)
	fp[0] = 0x01
	_, err = db.ExecContext(ctx, `INSERT INTO mols(id, fp) VALUES (1, ?)`, fp)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `DELETE FROM mols WHERE id = 1`)
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mols`).Scan(&count))
	require.Equal(t, 0, count)
}

func TestVTab_DropDestroysBackingTables(t *testing.T) {
	db := openVTabDB(t, "sqlite3_vtab_drop")
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `CREATE VIRTUAL TABLE mols USING rdtree(id, fp bytes(8))`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `DROP TABLE mols`)
	require.NoError(t, err)

	var name string
	err = db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE name = 'mols_node'`).Scan(&name)
	require.ErrorIs(t, err, sql.ErrNoRows)
}
