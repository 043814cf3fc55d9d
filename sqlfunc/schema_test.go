package sqlfunc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rdtree/internal/rdtree"
	"rdtree/sqlfunc"
)

func TestParseCreateArgs_BitsDeclaration(t *testing.T) {
	args := []string{"rdtree", "main", "mols", "id", "fp bits(1024)"}
	ta, err := sqlfunc.ParseCreateArgs(args)
	require.NoError(t, err)
	require.Equal(t, "mols", ta.TableName)
	require.Equal(t, "id", ta.IDColumn)
	require.Equal(t, "fp", ta.BFPColumn)
	require.Equal(t, 128, ta.Config.BFPBytes)
	require.Equal(t, rdtree.StrategyGeneric, ta.Config.Strategy)
}

func TestParseCreateArgs_BytesDeclarationWithOption(t *testing.T) {
	args := []string{"rdtree", "main", "mols", "id", "fp bytes(32)", "OPT_FOR_SIMILARITY_QUERIES"}
	ta, err := sqlfunc.ParseCreateArgs(args)
	require.NoError(t, err)
	require.Equal(t, 32, ta.Config.BFPBytes)
	require.Equal(t, rdtree.StrategySimilarity, ta.Config.Strategy)
}

func TestParseCreateArgs_SubsetOption(t *testing.T) {
	args := []string{"rdtree", "main", "mols", "id", "fp bits(256)", "opt_for_subset_queries"}
	ta, err := sqlfunc.ParseCreateArgs(args)
	require.NoError(t, err)
	require.Equal(t, rdtree.StrategySubset, ta.Config.Strategy)
}

func TestParseCreateArgs_RejectsBadArgCount(t *testing.T) {
	_, err := sqlfunc.ParseCreateArgs([]string{"rdtree", "main", "mols", "id"})
	require.ErrorIs(t, err, rdtree.ErrInvalidArgument)
}

func TestParseCreateArgs_RejectsMissingWidth(t *testing.T) {
	_, err := sqlfunc.ParseCreateArgs([]string{"rdtree", "main", "mols", "id", "fp blob"})
	require.ErrorIs(t, err, rdtree.ErrInvalidArgument)
}

func TestParseCreateArgs_RejectsUnknownOption(t *testing.T) {
	_, err := sqlfunc.ParseCreateArgs([]string{"rdtree", "main", "mols", "id", "fp bits(64)", "OPT_BOGUS"})
	require.ErrorIs(t, err, rdtree.ErrInvalidArgument)
}

func TestParseCreateArgs_RejectsOversizeWidth(t *testing.T) {
	_, err := sqlfunc.ParseCreateArgs([]string{"rdtree", "main", "mols", "id", "fp bytes(1000)"})
	require.ErrorIs(t, err, rdtree.ErrInvalidArgument)
}
