package main

import (
	"flag"
	"fmt"
	"os"

	"rdtree/pkg/storage"
)

// runDump snapshots table_node's rows into a checksummed flat file of
// storage.Page records, one per node, independent of the live SQLite
// connection: a portable backup format for an rdtree index's tree pages.
func runDump(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	dbPath := fs.String("db", "", "path to the SQLite database file")
	table := fs.String("table", "", "rdtree virtual table name")
	outPath := fs.String("out", "", "output dump file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" || *table == "" || *outPath == "" {
		return fmt.Errorf("dump: -db, -table, and -out are required")
	}

	db, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query(fmt.Sprintf(`SELECT nodeid, data FROM %s_node ORDER BY nodeid`, *table))
	if err != nil {
		return fmt.Errorf("dump: reading node table: %w", err)
	}
	defer rows.Close()

	out, err := os.OpenFile(*outPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("dump: creating %s: %w", *outPath, err)
	}
	defer out.Close()

	payloadSize := 0
	count := 0
	for rows.Next() {
		var nodeid int64
		var data []byte
		if err := rows.Scan(&nodeid, &data); err != nil {
			return err
		}
		if payloadSize == 0 {
			payloadSize = len(data)
		} else if len(data) != payloadSize {
			return fmt.Errorf("dump: node %d has size %d, expected %d (node size must be uniform within one index)", nodeid, len(data), payloadSize)
		}
		p := storage.NewPage(nodeid, payloadSize)
		if err := p.SetData(data); err != nil {
			return fmt.Errorf("dump: node %d: %w", nodeid, err)
		}
		if err := storage.WritePage(out, p); err != nil {
			return fmt.Errorf("dump: writing node %d: %w", nodeid, err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	fmt.Printf("dumped %d nodes (%d bytes each) from %s to %s\n", count, payloadSize, *table, *outPath)
	return nil
}

// runLoad restores a dump file written by runDump back into table_node,
// overwriting any existing rows for the node ids present in the file.
// -width must match the payload size the dump was written with.
func runLoad(args []string) error {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	dbPath := fs.String("db", "", "path to the SQLite database file")
	table := fs.String("table", "", "rdtree virtual table name")
	inPath := fs.String("in", "", "input dump file path")
	width := fs.Int("width", 0, "node payload size in bytes, as reported by the matching dump")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" || *table == "" || *inPath == "" || *width <= 0 {
		return fmt.Errorf("load: -db, -table, -in, and a positive -width are required")
	}

	in, err := os.Open(*inPath)
	if err != nil {
		return fmt.Errorf("load: opening %s: %w", *inPath, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	recordSize := storage.HeaderSize + *width
	if info.Size()%int64(recordSize) != 0 {
		return fmt.Errorf("load: dump file size %d is not a multiple of record size %d", info.Size(), recordSize)
	}
	count := info.Size() / int64(recordSize)

	db, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	stmt, err := db.Prepare(fmt.Sprintf(`INSERT OR REPLACE INTO %s_node(nodeid, data) VALUES (?, ?)`, *table))
	if err != nil {
		return fmt.Errorf("load: preparing insert: %w", err)
	}
	defer stmt.Close()

	restored := 0
	for id := int64(0); id < count; id++ {
		p, err := storage.ReadPage(in, id, *width)
		if err != nil {
			return fmt.Errorf("load: reading page %d: %w", id, err)
		}
		if p.DataSize == 0 {
			// Unwritten slot: node id was never allocated, or was dissolved
			// by condense-tree before the dump was taken. pageOffset
			// addresses pages directly by node id, so gaps read back as
			// empty pages rather than as entries to restore.
			continue
		}
		if _, err := stmt.Exec(p.ID, p.Data[:p.DataSize]); err != nil {
			return fmt.Errorf("load: restoring node %d: %w", p.ID, err)
		}
		restored++
	}

	fmt.Printf("restored %d nodes into %s from %s\n", restored, *table, *inPath)
	return nil
}
