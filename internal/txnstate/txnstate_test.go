package txnstate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/finchdb/finch/internal/dberr"
)

func TestBeginExplicitRejectsNesting(t *testing.T) {
	s := New()
	require.NoError(t, s.BeginExplicit(Write))
	require.ErrorIs(t, s.BeginExplicit(Read), dberr.StartTransactionInAnotherTransaction)
}

func TestCommitRollbackResetState(t *testing.T) {
	s := New()
	require.NoError(t, s.BeginExplicit(Write))
	require.NoError(t, s.Commit())
	require.False(t, s.InTransaction())

	require.NoError(t, s.BeginExplicit(Read))
	require.NoError(t, s.Rollback())
	require.False(t, s.InTransaction())
}

func TestRollbackOutsideTransaction(t *testing.T) {
	s := New()
	require.ErrorIs(t, s.Rollback(), dberr.RollbackNotInTransaction)
}

func TestDBAutoNesting(t *testing.T) {
	s := New()
	require.NoError(t, s.EnterDBAuto(Write))
	require.Equal(t, 1, s.DBAutoDepth())
	require.NoError(t, s.EnterDBAuto(Write))
	require.Equal(t, 2, s.DBAutoDepth())

	s.ExitDBAuto()
	require.Equal(t, 1, s.DBAutoDepth())
	require.True(t, s.InTransaction())

	s.ExitDBAuto()
	require.Equal(t, 0, s.DBAutoDepth())
	require.False(t, s.InTransaction())
}

func TestDBAutoUpgradesReadToWrite(t *testing.T) {
	s := New()
	require.NoError(t, s.EnterDBAuto(Read))
	require.Equal(t, Read, s.Kind())
	require.NoError(t, s.EnterDBAuto(Write))
	require.Equal(t, Write, s.Kind())
}

func TestExplicitUserTransactionRidesAlongWithDBAutoUpgrade(t *testing.T) {
	s := New()
	require.NoError(t, s.BeginExplicit(Read))
	// A nested internal write call upgrades the held lock in place without
	// touching mode or depth bookkeeping.
	require.NoError(t, s.EnterDBAuto(Write))
	require.Equal(t, Write, s.Kind())
	require.NoError(t, s.Commit())
}

func TestRequireWrite(t *testing.T) {
	s := New()
	require.ErrorIs(t, s.RequireWrite(), dberr.CannotWriteDbWithoutTransaction)
	require.NoError(t, s.BeginExplicit(Read))
	require.ErrorIs(t, s.RequireWrite(), dberr.CannotWriteDbWithoutTransaction)
	require.NoError(t, s.Commit())
	require.NoError(t, s.BeginExplicit(Write))
	require.NoError(t, s.RequireWrite())
}

func TestSessionIDStable(t *testing.T) {
	s := New()
	id := s.ID()
	require.NoError(t, s.BeginExplicit(Write))
	require.Equal(t, id, s.ID())
}
