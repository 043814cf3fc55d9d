package main

import (
	"database/sql"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"rdtree/sqlfunc"
)

func openTestDB(t *testing.T, driverName, path string) *sql.DB {
	t.Helper()
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return sqlfunc.RegisterModule(conn)
		},
	})
	db, err := sql.Open(driverName, path)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDumpAndLoad_RoundTripsNodeTable(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "mols.db")
	dumpPath := filepath.Join(dir, "mols.dump")

	db := openTestDB(t, "rdtreectl_dump_test", dbPath)
	_, err := db.Exec(`CREATE VIRTUAL TABLE mols USING rdtree(id, fp bytes(16))`)
	require.NoError(t, err)

	for i := int64(1); i <= 20; i++ {
		fp := make([]byte, 16)
		fp[0] = byte(i)
		_, err := db.Exec(`INSERT INTO mols(id, fp) VALUES (?, ?)`, i, fp)
		require.NoError(t, err)
	}

	var nodeSize int
	require.NoError(t, db.QueryRow(`SELECT length(data) FROM mols_node WHERE nodeid = 1`).Scan(&nodeSize))
	require.NoError(t, db.Close())

	require.NoError(t, runDump([]string{"-db", dbPath, "-table", "mols", "-out", dumpPath}))

	// Corrupt the live node table to prove load actually restores it.
	db2 := openTestDB(t, "rdtreectl_dump_test_2", dbPath)
	_, err = db2.Exec(`DELETE FROM mols_node`)
	require.NoError(t, err)
	var count int
	require.NoError(t, db2.QueryRow(`SELECT COUNT(*) FROM mols_node`).Scan(&count))
	require.Equal(t, 0, count)
	require.NoError(t, db2.Close())

	require.NoError(t, runLoad([]string{"-db", dbPath, "-table", "mols", "-in", dumpPath, "-width", strconv.Itoa(nodeSize)}))

	db3 := openTestDB(t, "rdtreectl_dump_test_3", dbPath)
	require.NoError(t, db3.QueryRow(`SELECT COUNT(*) FROM mols_node`).Scan(&count))
	require.GreaterOrEqual(t, count, 1)

	var rowCount int
	require.NoError(t, db3.QueryRow(`SELECT COUNT(*) FROM mols`).Scan(&rowCount))
	require.Equal(t, 20, rowCount)
}
