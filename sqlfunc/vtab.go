package sqlfunc

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"rdtree/internal/rdtree"
)

// ModuleName is the virtual table module name registered on every
// connection: CREATE VIRTUAL TABLE t USING rdtree(id, fp bits(N)).
const ModuleName = "rdtree"

// RegisterModule registers both the scalar BFP functions and the rdtree
// virtual table module on a fresh connection. Pass it as a
// mattn/go-sqlite3 SQLiteDriver's ConnectHook.
func RegisterModule(conn *sqlite3.SQLiteConn) error {
	if err := RegisterScalarFunctions(conn); err != nil {
		return err
	}
	return conn.CreateModule(ModuleName, &Module{})
}

// Module implements sqlite3.Module: one rdtree virtual table instance per
// CREATE VIRTUAL TABLE / per-connection CONNECT.
type Module struct{}

// singleConnConnector wraps an already-open sqlite3 connection so
// database/sql will hand it straight back from Connect instead of dialing
// a new one; the virtual table pins its Pager to the same host connection
// the module was created on.
type singleConnConnector struct {
	conn driver.Conn
	drv  driver.Driver
}

func (s *singleConnConnector) Connect(context.Context) (driver.Conn, error) { return s.conn, nil }
func (s *singleConnConnector) Driver() driver.Driver                        { return s.drv }

func hostDB(c *sqlite3.SQLiteConn) *sql.DB {
	db := sql.OpenDB(&singleConnConnector{conn: c, drv: &sqlite3.SQLiteDriver{}})
	// The connector always hands back the same live driver.Conn; capping the
	// pool at one keeps database/sql from trying to open it concurrently.
	db.SetMaxOpenConns(1)
	return db
}

// Create handles "CREATE VIRTUAL TABLE ... USING rdtree(...)": it parses
// the column declaration, lays down the five backing tables, and opens the
// tree.
func (m *Module) Create(c *sqlite3.SQLiteConn, args []string) (sqlite3.VTab, error) {
	ta, err := ParseCreateArgs(args)
	if err != nil {
		return nil, err
	}
	db := hostDB(c)
	ctx := context.Background()

	var pageSize int
	if err := db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("rdtree: reading host page size: %w", rdtree.ErrHostIO)
	}
	ta.Config.NodeSize = rdtree.DeriveNodeSize(pageSize, ta.Config.BFPBytes)

	if err := rdtree.SchemaInit(ctx, db, ta.TableName, ta.Config); err != nil {
		return nil, err
	}
	return connectTable(ctx, c, db, ta)
}

// Connect handles re-attaching to an existing rdtree table (a fresh
// connection, or a schema reload): it re-derives the node size from the
// persisted root blob rather than the host's current page size.
func (m *Module) Connect(c *sqlite3.SQLiteConn, args []string) (sqlite3.VTab, error) {
	ta, err := ParseCreateArgs(args)
	if err != nil {
		return nil, err
	}
	db := hostDB(c)
	ctx := context.Background()

	var root []byte
	row := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT data FROM %s_node WHERE nodeid = 1`, ta.TableName))
	if err := row.Scan(&root); err != nil {
		return nil, fmt.Errorf("rdtree: connecting to %s: %w", ta.TableName, rdtree.ErrCorruption)
	}
	ta.Config.NodeSize = rdtree.NodeSizeFromRootBlob(root)
	return connectTable(ctx, c, db, ta)
}

func connectTable(ctx context.Context, c *sqlite3.SQLiteConn, db *sql.DB, ta TableArgs) (*VTable, error) {
	pager, err := rdtree.OpenPager(db, ta.TableName, ta.Config)
	if err != nil {
		return nil, err
	}
	tree, err := rdtree.OpenTree(ctx, pager, ta.Config)
	if err != nil {
		pager.Close()
		return nil, err
	}
	v := &VTable{db: db, pager: pager, tree: tree, args: ta}
	if err := c.DeclareVTab(v.schema()); err != nil {
		pager.Close()
		return nil, err
	}
	return v, nil
}

// VTable is the per-table handle backing sqlite3.VTab, holding the open
// Pager/Tree for the lifetime of the CREATE/CONNECT.
type VTable struct {
	db    *sql.DB
	pager *rdtree.Pager
	tree  *rdtree.Tree
	args  TableArgs
}

func (v *VTable) schema() string {
	return fmt.Sprintf(`CREATE TABLE x(%s INTEGER PRIMARY KEY, %s BLOB)`, v.args.IDColumn, v.args.BFPColumn)
}

// BestIndex recognizes a MATCH constraint against the id or fingerprint
// column (idxNum 1, built from a rdtree_subset/rdtree_tanimoto blob) and
// otherwise falls back to a full scan (idxNum 0).
func (v *VTable) BestIndex(cst []sqlite3.InfoConstraint, _ []sqlite3.InfoOrderBy) (*sqlite3.IndexResult, error) {
	used := make([]bool, len(cst))
	idxNum := 0
	cost := 1_000_000.0
	rows := 1_000_000.0

	for i, c := range cst {
		if !c.Usable || (c.Column != 0 && c.Column != 1) || c.Op != sqlite3.OpMATCH {
			continue
		}
		used[i] = true
		idxNum = 1
		cost = 10.0
		rows = 10.0
		break
	}

	return &sqlite3.IndexResult{
		Used:          used,
		IdxNum:        idxNum,
		IdxStr:        "",
		EstimatedCost: cost,
		EstimatedRows: rows,
	}, nil
}

// Disconnect releases the per-connection resources without touching the
// persisted tables.
func (v *VTable) Disconnect() error {
	return v.pager.Close()
}

// Destroy drops the five backing tables; called on DROP TABLE.
func (v *VTable) Destroy() error {
	ctx := context.Background()
	if err := v.pager.Close(); err != nil {
		return err
	}
	return rdtree.SchemaDestroy(ctx, v.db, v.args.TableName)
}

// Rename renames the five backing tables to track an ALTER TABLE RENAME.
func (v *VTable) Rename(newName string) error {
	ctx := context.Background()
	if err := rdtree.SchemaRename(ctx, v.db, v.args.TableName, newName); err != nil {
		return err
	}
	v.args.TableName = newName
	return nil
}

// Open starts a new cursor over the table.
func (v *VTable) Open() (sqlite3.VTabCursor, error) {
	return &Cursor{vt: v}, nil
}

// Update implements sqlite3.VTabUpdater: INSERT, DELETE, and UPDATE (as a
// delete of the old rowid followed by an insert of the new row).
func (v *VTable) Update(argv []interface{}) (int64, error) {
	ctx := context.Background()

	if len(argv) == 1 {
		rowid, err := toRowid(argv[0])
		if err != nil {
			return 0, err
		}
		return 0, v.tree.Delete(ctx, rowid)
	}

	if argv[0] != nil {
		oldRowid, err := toRowid(argv[0])
		if err != nil {
			return 0, err
		}
		if err := v.tree.Delete(ctx, oldRowid); err != nil {
			return 0, err
		}
	}

	rowid, err := rowidForInsert(ctx, v, argv[1])
	if err != nil {
		return 0, err
	}
	bfp, ok := argv[3].([]byte)
	if !ok {
		return 0, fmt.Errorf("rdtree: fingerprint column requires a blob value: %w", rdtree.ErrInvalidArgument)
	}
	if len(bfp) != v.args.Config.BFPBytes {
		return 0, fmt.Errorf("rdtree: fingerprint length %d != %d: %w", len(bfp), v.args.Config.BFPBytes, rdtree.ErrInvalidArgument)
	}
	if err := v.tree.Insert(ctx, rowid, bfp); err != nil {
		return 0, err
	}
	return rowid, nil
}

func rowidForInsert(ctx context.Context, v *VTable, argv1 interface{}) (int64, error) {
	if argv1 == nil {
		return v.tree.NextRowid(ctx)
	}
	return toRowid(argv1)
}

func toRowid(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("rdtree: rowid must be an integer: %w", rdtree.ErrInvalidArgument)
	}
}

// Cursor implements sqlite3.VTabCursor over a rdtree.Cursor.
type Cursor struct {
	vt *VTable
	rc *rdtree.Cursor
}

// Filter starts a scan. idxNum==1 carries a constraint blob built by
// rdtree_subset/rdtree_tanimoto in vals[0]; idxNum==0 is an unconstrained
// full scan.
func (cur *Cursor) Filter(idxNum int, _ string, vals []interface{}) error {
	ctx := context.Background()

	var constraint rdtree.Constraint
	if idxNum == 1 && len(vals) > 0 {
		blob, ok := vals[0].([]byte)
		if !ok {
			return fmt.Errorf("rdtree: MATCH argument must be a constraint blob: %w", rdtree.ErrInvalidArgument)
		}
		c, err := rdtree.DeserializeConstraint(blob, cur.vt.args.Config.BFPBytes)
		if err != nil {
			return err
		}
		if tc, ok := c.(*rdtree.TanimotoConstraint); ok {
			if err := tc.Initialize(ctx, cur.vt.pager); err != nil {
				return err
			}
		}
		constraint = c
	}

	cur.rc = cur.vt.tree.NewCursor()
	return cur.rc.Filter(ctx, constraint)
}

// Next advances to the next matching row.
func (cur *Cursor) Next() error {
	return cur.rc.Next(context.Background())
}

// EOF reports whether the scan is exhausted.
func (cur *Cursor) EOF() bool {
	return cur.rc.EOF()
}

// Column fills col with the current row's id (0) or fingerprint (1).
func (cur *Cursor) Column(c *sqlite3.SQLiteContext, col int) error {
	switch col {
	case 0:
		c.ResultInt64(cur.rc.Rowid())
	case 1:
		c.ResultBlob(cur.rc.BFP())
	default:
		return fmt.Errorf("rdtree: unknown column %d: %w", col, rdtree.ErrInvalidArgument)
	}
	return nil
}

// Rowid returns the current row's rowid.
func (cur *Cursor) Rowid() (int64, error) {
	return cur.rc.Rowid(), nil
}

// Close releases the cursor's pinned path nodes.
func (cur *Cursor) Close() error {
	if cur.rc == nil {
		return nil
	}
	return cur.rc.Close(context.Background())
}
