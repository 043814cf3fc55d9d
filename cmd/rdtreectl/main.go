// Command rdtreectl is a small embedding/diagnostic CLI for the rdtree
// virtual table module: it can create an index, run ad-hoc SQL against
// one, and dump/restore an index's node table to a checksummed flat file
// independent of the live SQLite connection.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/mattn/go-sqlite3"

	"rdtree/sqlfunc"
)

const driverName = "rdtree_sqlite3"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return sqlfunc.RegisterModule(conn)
		},
	})
}

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "create":
		err = runCreate(os.Args[2:])
	case "query":
		err = runQuery(os.Args[2:])
	case "dump":
		err = runDump(os.Args[2:])
	case "load":
		err = runLoad(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("rdtreectl: %v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: rdtreectl <command> [flags]

commands:
  create  -db PATH -table NAME -idcol NAME -bfpcol NAME -width N [-bytes] [-option OPT]
  query   -db PATH -sql SQL
  dump    -db PATH -table NAME -out FILE
  load    -db PATH -table NAME -in FILE -width N`)
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	dbPath := fs.String("db", "", "path to the SQLite database file")
	table := fs.String("table", "", "virtual table name")
	idCol := fs.String("idcol", "id", "row id column name")
	bfpCol := fs.String("bfpcol", "fp", "fingerprint column name")
	width := fs.Int("width", 1024, "fingerprint width")
	bytesUnit := fs.Bool("bytes", false, "interpret -width as a byte count instead of a bit count")
	option := fs.String("option", "", "OPT_FOR_SUBSET_QUERIES or OPT_FOR_SIMILARITY_QUERIES")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" || *table == "" {
		return fmt.Errorf("create: -db and -table are required")
	}

	unit := "bits"
	if *bytesUnit {
		unit = "bytes"
	}
	stmt := fmt.Sprintf(`CREATE VIRTUAL TABLE %s USING rdtree(%s, %s %s(%d)`,
		*table, *idCol, *bfpCol, unit, *width)
	if *option != "" {
		stmt += ", " + *option
	}
	stmt += ")"

	db, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(stmt); err != nil {
		return fmt.Errorf("create: %w", err)
	}
	log.Printf("created rdtree table %s on %s", *table, *dbPath)
	return nil
}

func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	dbPath := fs.String("db", "", "path to the SQLite database file")
	query := fs.String("sql", "", "SQL statement to run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" || *query == "" {
		return fmt.Errorf("query: -db and -sql are required")
	}

	db, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query(*query)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	vals := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		fmt.Println(formatRow(cols, vals))
	}
	return rows.Err()
}

func formatRow(cols []string, vals []interface{}) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += "  "
		}
		out += fmt.Sprintf("%s=%v", c, vals[i])
	}
	return out
}
