package sqlfunc

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"rdtree/internal/rdtree"
)

// TableArgs is the parsed argument list of
// "CREATE VIRTUAL TABLE t USING rdtree(idcol, bfpcol bits(N)[, OPTION])".
type TableArgs struct {
	ModuleName string
	TableName  string
	IDColumn   string
	BFPColumn  string
	Config     rdtree.Config
}

var widthDecl = regexp.MustCompile(`^(bits|bytes)\((\d+)\)$`)

// ParseCreateArgs parses the sqlite3.VTab module argument slice handed to
// xCreate/xConnect: module name, database name, table name, then the
// user-declared column list. Accepts 5 args (module, db, table, idcol,
// "bfpcol bits(N)") or 6 (with a trailing strategy option).
func ParseCreateArgs(args []string) (TableArgs, error) {
	if len(args) != 5 && len(args) != 6 {
		return TableArgs{}, fmt.Errorf("rdtree: expected 2 or 3 column/option arguments, got %d: %w", len(args)-3, rdtree.ErrInvalidArgument)
	}

	ta := TableArgs{
		ModuleName: args[0],
		TableName:  args[2],
		IDColumn:   strings.TrimSpace(args[3]),
	}

	bfpDecl := strings.Fields(strings.TrimSpace(args[4]))
	if len(bfpDecl) != 2 {
		return TableArgs{}, fmt.Errorf("rdtree: malformed fingerprint column declaration %q: %w", args[4], rdtree.ErrInvalidArgument)
	}
	ta.BFPColumn = bfpDecl[0]

	m := widthDecl.FindStringSubmatch(bfpDecl[1])
	if m == nil {
		return TableArgs{}, fmt.Errorf("rdtree: fingerprint column must declare bits(N) or bytes(N), got %q: %w", bfpDecl[1], rdtree.ErrInvalidArgument)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return TableArgs{}, fmt.Errorf("rdtree: invalid width %q: %w", m[2], rdtree.ErrInvalidArgument)
	}
	bfpBytes, err := rdtree.ParseBFPWidth(m[1], n)
	if err != nil {
		return TableArgs{}, err
	}

	strategy := rdtree.StrategyGeneric
	if len(args) == 6 {
		opt := strings.ToUpper(strings.TrimSpace(args[5]))
		switch opt {
		case "OPT_FOR_SUBSET_QUERIES":
			strategy = rdtree.StrategySubset
		case "OPT_FOR_SIMILARITY_QUERIES":
			strategy = rdtree.StrategySimilarity
		default:
			return TableArgs{}, fmt.Errorf("rdtree: unrecognized option %q: %w", args[5], rdtree.ErrInvalidArgument)
		}
	}

	ta.Config = rdtree.Config{BFPBytes: bfpBytes, Strategy: strategy}
	return ta, nil
}
