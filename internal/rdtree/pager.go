package rdtree

import (
	"context"
	"database/sql"
	"fmt"
)

// Pager is the paging adapter (PA): it owns every prepared statement that
// reads, writes, or deletes a node page, a rowid->node mapping, a
// node->parent mapping, or a bit/weight frequency counter, through the
// host's database/sql handle. One Pager serves one index table T.
type Pager struct {
	db    *sql.DB
	table string
	cfg   Config

	readNode     *sql.Stmt
	writeNode    *sql.Stmt
	deleteNode   *sql.Stmt
	readRowid    *sql.Stmt
	writeRowid   *sql.Stmt
	deleteRowid  *sql.Stmt
	readParent   *sql.Stmt
	writeParent  *sql.Stmt
	deleteParent *sql.Stmt
	bumpBitFreq  *sql.Stmt
	readBitFreq  *sql.Stmt
	bumpWeightFreq *sql.Stmt
	maxRowid     *sql.Stmt
	maxNodeID    *sql.Stmt
}

// OpenPager prepares the statement set against the five backing tables of
// index table name. The tables must already exist (see SchemaInit).
func OpenPager(db *sql.DB, table string, cfg Config) (*Pager, error) {
	p := &Pager{db: db, table: table, cfg: cfg}

	stmts := []struct {
		dst  **sql.Stmt
		sql  string
	}{
		{&p.readNode, fmt.Sprintf(`SELECT data FROM %s_node WHERE nodeid = ?`, table)},
		{&p.writeNode, fmt.Sprintf(`INSERT OR REPLACE INTO %s_node(nodeid, data) VALUES (?, ?)`, table)},
		{&p.deleteNode, fmt.Sprintf(`DELETE FROM %s_node WHERE nodeid = ?`, table)},
		{&p.readRowid, fmt.Sprintf(`SELECT nodeid FROM %s_rowid WHERE rowid = ?`, table)},
		{&p.writeRowid, fmt.Sprintf(`INSERT OR REPLACE INTO %s_rowid(rowid, nodeid) VALUES (?, ?)`, table)},
		{&p.deleteRowid, fmt.Sprintf(`DELETE FROM %s_rowid WHERE rowid = ?`, table)},
		{&p.readParent, fmt.Sprintf(`SELECT parentnode FROM %s_parent WHERE nodeid = ?`, table)},
		{&p.writeParent, fmt.Sprintf(`INSERT OR REPLACE INTO %s_parent(nodeid, parentnode) VALUES (?, ?)`, table)},
		{&p.deleteParent, fmt.Sprintf(`DELETE FROM %s_parent WHERE nodeid = ?`, table)},
		{&p.bumpBitFreq, fmt.Sprintf(`UPDATE %s_bitfreq SET freq = freq + ? WHERE bitno = ?`, table)},
		{&p.readBitFreq, fmt.Sprintf(`SELECT freq FROM %s_bitfreq WHERE bitno = ?`, table)},
		{&p.bumpWeightFreq, fmt.Sprintf(`UPDATE %s_weightfreq SET freq = freq + ? WHERE weight = ?`, table)},
		{&p.maxRowid, fmt.Sprintf(`SELECT COALESCE(MAX(rowid), 0) FROM %s_rowid`, table)},
		{&p.maxNodeID, fmt.Sprintf(`SELECT COALESCE(MAX(nodeid), 0) FROM %s_node`, table)},
	}
	for _, s := range stmts {
		stmt, err := db.Prepare(s.sql)
		if err != nil {
			return nil, fmt.Errorf("rdtree: preparing statement: %w", err)
		}
		*s.dst = stmt
	}
	return p, nil
}

// Close releases every prepared statement.
func (p *Pager) Close() error {
	stmts := []*sql.Stmt{
		p.readNode, p.writeNode, p.deleteNode,
		p.readRowid, p.writeRowid, p.deleteRowid,
		p.readParent, p.writeParent, p.deleteParent,
		p.bumpBitFreq, p.readBitFreq, p.bumpWeightFreq, p.maxRowid, p.maxNodeID,
	}
	var firstErr error
	for _, s := range stmts {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SchemaInit creates the five backing tables for table name T and seeds
// the empty root node (nodeid=1, depth 0, item count 0) plus the zeroed
// bit/weight frequency rows.
func SchemaInit(ctx context.Context, db *sql.DB, table string, cfg Config) error {
	ddl := []string{
		fmt.Sprintf(`CREATE TABLE %s_node(nodeid INTEGER PRIMARY KEY, data BLOB)`, table),
		fmt.Sprintf(`CREATE TABLE %s_rowid(rowid INTEGER PRIMARY KEY, nodeid INTEGER)`, table),
		fmt.Sprintf(`CREATE TABLE %s_parent(nodeid INTEGER PRIMARY KEY, parentnode INTEGER)`, table),
		fmt.Sprintf(`CREATE TABLE %s_bitfreq(bitno INTEGER PRIMARY KEY, freq INTEGER)`, table),
		fmt.Sprintf(`CREATE TABLE %s_weightfreq(weight INTEGER PRIMARY KEY, freq INTEGER)`, table),
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rdtree: schema init: %w", err)
		}
	}

	root := newNode(1, 0, cfg)
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s_node(nodeid, data) VALUES (1, ?)`, table), root.Bytes()); err != nil {
		return fmt.Errorf("rdtree: seeding root node: %w", err)
	}

	nbits := cfg.BFPBytes * 8
	for bit := 0; bit < nbits; bit++ {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s_bitfreq(bitno, freq) VALUES (?, 0)`, table), bit); err != nil {
			return fmt.Errorf("rdtree: seeding bit frequency table: %w", err)
		}
	}
	for w := 0; w <= nbits; w++ {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s_weightfreq(weight, freq) VALUES (?, 0)`, table), w); err != nil {
			return fmt.Errorf("rdtree: seeding weight frequency table: %w", err)
		}
	}
	return nil
}

// SchemaDestroy drops all five backing tables.
func SchemaDestroy(ctx context.Context, db *sql.DB, table string) error {
	for _, suffix := range []string{"_node", "_rowid", "_parent", "_bitfreq", "_weightfreq"} {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s%s`, table, suffix)); err != nil {
			return fmt.Errorf("rdtree: schema destroy: %w", err)
		}
	}
	return nil
}

// SchemaRename renames all five backing tables to match a new table name.
func SchemaRename(ctx context.Context, db *sql.DB, oldTable, newTable string) error {
	for _, suffix := range []string{"_node", "_rowid", "_parent", "_bitfreq", "_weightfreq"} {
		stmt := fmt.Sprintf(`ALTER TABLE %s%s RENAME TO %s%s`, oldTable, suffix, newTable, suffix)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rdtree: schema rename: %w", err)
		}
	}
	return nil
}

// ReadNode fetches the raw blob for nodeid, or reports ok=false if absent.
func (p *Pager) ReadNode(ctx context.Context, nodeid int64) (blob []byte, ok bool, err error) {
	row := p.readNode.QueryRowContext(ctx, nodeid)
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("rdtree: reading node %d: %w", nodeid, ErrHostIO)
	}
	return blob, true, nil
}

// WriteNode persists node's current bytes under its own id.
func (p *Pager) WriteNode(ctx context.Context, nodeid int64, blob []byte) error {
	if _, err := p.writeNode.ExecContext(ctx, nodeid, blob); err != nil {
		return fmt.Errorf("rdtree: writing node %d: %w", nodeid, ErrHostIO)
	}
	return nil
}

// DeleteNode removes a node page entirely (used by condense-tree when a
// node is dissolved, and by the root-collapse path's old child slot).
func (p *Pager) DeleteNode(ctx context.Context, nodeid int64) error {
	if _, err := p.deleteNode.ExecContext(ctx, nodeid); err != nil {
		return fmt.Errorf("rdtree: deleting node %d: %w", nodeid, ErrHostIO)
	}
	return nil
}

// ReadRowidNode looks up which node currently holds rowid.
func (p *Pager) ReadRowidNode(ctx context.Context, rowid int64) (nodeid int64, ok bool, err error) {
	row := p.readRowid.QueryRowContext(ctx, rowid)
	if err := row.Scan(&nodeid); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("rdtree: reading rowid map for %d: %w", rowid, ErrHostIO)
	}
	return nodeid, true, nil
}

// WriteRowidNode records (or updates) that rowid now lives in nodeid.
func (p *Pager) WriteRowidNode(ctx context.Context, rowid, nodeid int64) error {
	if _, err := p.writeRowid.ExecContext(ctx, rowid, nodeid); err != nil {
		return fmt.Errorf("rdtree: writing rowid map for %d: %w", rowid, ErrHostIO)
	}
	return nil
}

// DeleteRowidNode removes rowid's leaf locator entry.
func (p *Pager) DeleteRowidNode(ctx context.Context, rowid int64) error {
	if _, err := p.deleteRowid.ExecContext(ctx, rowid); err != nil {
		return fmt.Errorf("rdtree: deleting rowid map for %d: %w", rowid, ErrHostIO)
	}
	return nil
}

// ReadParent looks up the parent of a non-root node.
func (p *Pager) ReadParent(ctx context.Context, nodeid int64) (parent int64, ok bool, err error) {
	row := p.readParent.QueryRowContext(ctx, nodeid)
	if err := row.Scan(&parent); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("rdtree: reading parent map for %d: %w", nodeid, ErrHostIO)
	}
	return parent, true, nil
}

// WriteParent records (or updates) nodeid's parent.
func (p *Pager) WriteParent(ctx context.Context, nodeid, parent int64) error {
	if _, err := p.writeParent.ExecContext(ctx, nodeid, parent); err != nil {
		return fmt.Errorf("rdtree: writing parent map for %d: %w", nodeid, ErrHostIO)
	}
	return nil
}

// DeleteParent removes a node->parent entry (the node has become the
// root, or has been dissolved by condense-tree).
func (p *Pager) DeleteParent(ctx context.Context, nodeid int64) error {
	if _, err := p.deleteParent.ExecContext(ctx, nodeid); err != nil {
		return fmt.Errorf("rdtree: deleting parent map for %d: %w", nodeid, ErrHostIO)
	}
	return nil
}

// BitFreq reads bit_freq[bit].
func (p *Pager) BitFreq(ctx context.Context, bit int) (int, error) {
	var freq int
	row := p.readBitFreq.QueryRowContext(ctx, bit)
	if err := row.Scan(&freq); err != nil {
		return 0, fmt.Errorf("rdtree: reading bit frequency %d: %w", bit, ErrHostIO)
	}
	return freq, nil
}

// BumpFrequenciesForInsert increments bit_freq for every set bit of bfp
// and weight_freq[popcount(bfp)], atomically with the leaf item mutation
// that introduced it.
func (p *Pager) BumpFrequenciesForInsert(ctx context.Context, bfp []byte) error {
	return p.bumpFrequencies(ctx, bfp, +1)
}

// BumpFrequenciesForDelete decrements the same counters on removal.
func (p *Pager) BumpFrequenciesForDelete(ctx context.Context, bfp []byte) error {
	return p.bumpFrequencies(ctx, bfp, -1)
}

func (p *Pager) bumpFrequencies(ctx context.Context, bfp []byte, delta int) error {
	weight := 0
	for byteIdx, b := range bfp {
		for bit := 0; bit < 8; bit++ {
			if b&(1<<uint(bit)) == 0 {
				continue
			}
			weight++
			bitno := byteIdx*8 + bit
			if _, err := p.bumpBitFreq.ExecContext(ctx, delta, bitno); err != nil {
				return fmt.Errorf("rdtree: updating bit frequency %d: %w", bitno, ErrHostIO)
			}
		}
	}
	if _, err := p.bumpWeightFreq.ExecContext(ctx, delta, weight); err != nil {
		return fmt.Errorf("rdtree: updating weight frequency %d: %w", weight, ErrHostIO)
	}
	return nil
}

// NextRowid generates a monotonically increasing rowid not colliding with
// the rowid->node map, for inserts whose host-provided rowid was NULL.
func (p *Pager) NextRowid(ctx context.Context) (int64, error) {
	var max int64
	row := p.maxRowid.QueryRowContext(ctx)
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("rdtree: allocating rowid: %w", ErrHostIO)
	}
	return max + 1, nil
}

// NextNodeID allocates a fresh node id for a node created by a split or by
// the root-growth path. Node id 1 is reserved for the root and never
// handed out here.
func (p *Pager) NextNodeID(ctx context.Context) (int64, error) {
	var max int64
	row := p.maxNodeID.QueryRowContext(ctx)
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("rdtree: allocating node id: %w", ErrHostIO)
	}
	if max < 1 {
		max = 1
	}
	return max + 1, nil
}
