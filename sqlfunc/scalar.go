// Package sqlfunc wires the rdtree core into a real SQLite host: scalar
// BFP functions, the constraint-blob builders, and the rdtree virtual
// table module, all registered against a mattn/go-sqlite3 connection.
package sqlfunc

import (
	"fmt"

	"github.com/mattn/go-sqlite3"

	"rdtree/internal/bitalg"
	"rdtree/internal/rdtree"
)

// sqliteMismatch mirrors SQLITE_MISMATCH (20): the error code the source
// returns for length-disagreeing or non-blob scalar arguments.
const sqliteMismatch = 20

// RegisterScalarFunctions registers the scalar BFP surface (SBF):
// bfp_weight, bfp_length, bfp_tanimoto, bfp_dice, bfp_dummy, plus the
// constraint-blob builders rdtree_subset and rdtree_tanimoto, on conn.
func RegisterScalarFunctions(conn *sqlite3.SQLiteConn) error {
	registrations := []struct {
		name string
		fn   interface{}
	}{
		{"bfp_weight", bfpWeight},
		{"bfp_length", bfpLength},
		{"bfp_tanimoto", bfpTanimoto},
		{"bfp_dice", bfpDice},
		{"bfp_dummy", bfpDummy},
		{"rdtree_subset", rdtreeSubset},
		{"rdtree_tanimoto", rdtreeTanimoto},
	}
	for _, r := range registrations {
		if err := conn.RegisterFunc(r.name, r.fn, true); err != nil {
			return fmt.Errorf("sqlfunc: registering %s: %w", r.name, err)
		}
	}
	return nil
}

// bfpWeight returns popcount(bfp), NULL-propagating.
func bfpWeight(bfp []byte) (interface{}, error) {
	if bfp == nil {
		return nil, nil
	}
	return int64(bitalg.Weight(bfp)), nil
}

// bfpLength returns 8*len(bfp), NULL-propagating.
func bfpLength(bfp []byte) (interface{}, error) {
	if bfp == nil {
		return nil, nil
	}
	return int64(len(bfp) * 8), nil
}

// bfpTanimoto returns the Tanimoto similarity of two BFPs, NULL-
// propagating. On a length mismatch it returns an error wrapping
// rdtree.ErrInvalidArgument whose message carries SQLITE_MISMATCH's code;
// the SQLite result code of the failing statement is not set to
// SQLITE_MISMATCH.
func bfpTanimoto(a, b []byte) (interface{}, error) {
	if a == nil || b == nil {
		return nil, nil
	}
	if len(a) != len(b) {
		return nil, sqliteError(sqliteMismatch, "bfp_tanimoto: mismatched fingerprint length")
	}
	return bitalg.Tanimoto(a, b), nil
}

// bfpDice returns the Dice similarity of two BFPs, NULL-propagating. On a
// length mismatch it returns the same kind of error as bfpTanimoto.
func bfpDice(a, b []byte) (interface{}, error) {
	if a == nil || b == nil {
		return nil, nil
	}
	if len(a) != len(b) {
		return nil, sqliteError(sqliteMismatch, "bfp_dice: mismatched fingerprint length")
	}
	return bitalg.Dice(a, b), nil
}

// bfpDummy builds a constant-byte BFP of nbits/8 bytes, each set to byteval
// & 0xFF, for test fixtures. nbits is floor-divided by 8 and clamped to
// [1, MaxBFPBytes] bytes rather than rejected.
func bfpDummy(nbits int64, byteval int64) (interface{}, error) {
	n := int(nbits / 8)
	if n <= 0 {
		n = 1
	} else if n > rdtree.MaxBFPBytes {
		n = rdtree.MaxBFPBytes
	}
	out := make([]byte, n)
	v := byte(byteval & 0xFF)
	for i := range out {
		out[i] = v
	}
	return out, nil
}

// rdtreeSubset builds a subset constraint blob consumed by an
// "<idcol> MATCH rdtree_subset(q)" predicate.
func rdtreeSubset(bfp []byte) (interface{}, error) {
	if bfp == nil {
		return nil, nil
	}
	return rdtree.SerializeSubset(bfp), nil
}

// rdtreeTanimoto builds a Tanimoto constraint blob consumed by an
// "<idcol> MATCH rdtree_tanimoto(q, threshold)" predicate.
func rdtreeTanimoto(bfp []byte, threshold float64) (interface{}, error) {
	if bfp == nil {
		return nil, nil
	}
	return rdtree.SerializeTanimoto(bfp, threshold), nil
}

func sqliteError(code int, msg string) error {
	return fmt.Errorf("%s (sqlite code %d): %w", msg, code, rdtree.ErrInvalidArgument)
}
