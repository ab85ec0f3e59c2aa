package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testPageSize = 64

func openTestJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.journal")
	j, err := Open(path, testPageSize)
	require.NoError(t, err)
	return j, path
}

func payloadOf(b byte) []byte {
	p := make([]byte, testPageSize)
	for i := range p {
		p[i] = b
	}
	return p
}

func TestOpenFreshWritesHeader(t *testing.T) {
	j, _ := openTestJournal(t)
	defer j.Close()
	require.Equal(t, int64(HeaderSize), j.Length())
	require.NotZero(t, j.salt1)
	require.NotZero(t, j.salt2)
}

func TestAppendCommitReadBack(t *testing.T) {
	j, _ := openTestJournal(t)
	defer j.Close()

	require.NoError(t, j.LockWrite())
	require.NoError(t, j.AppendFrame(5, payloadOf(0xAB)))
	off, ok := j.FrameOffset(5)
	require.True(t, ok)
	data, err := j.ReadPayload(off)
	require.NoError(t, err)
	require.Equal(t, payloadOf(0xAB), data)

	require.NoError(t, j.Commit(1))
	off2, ok := j.FrameOffset(5)
	require.True(t, ok)
	require.Equal(t, off, off2)
}

func TestRollbackDiscardsPending(t *testing.T) {
	j, _ := openTestJournal(t)
	defer j.Close()

	require.NoError(t, j.LockWrite())
	require.NoError(t, j.AppendFrame(1, payloadOf(1)))
	beforeLen := j.Length()
	require.Greater(t, beforeLen, int64(HeaderSize))

	require.NoError(t, j.Rollback())
	_, ok := j.FrameOffset(1)
	require.False(t, ok)
	require.Equal(t, int64(HeaderSize), j.Length())
}

func TestReadYourWritesPrefersPendingOverCommitted(t *testing.T) {
	j, _ := openTestJournal(t)
	defer j.Close()

	require.NoError(t, j.LockWrite())
	require.NoError(t, j.AppendFrame(1, payloadOf(1)))
	require.NoError(t, j.Commit(1))

	require.NoError(t, j.LockWrite())
	require.NoError(t, j.AppendFrame(1, payloadOf(2)))
	off, ok := j.FrameOffset(1)
	require.True(t, ok)
	data, err := j.ReadPayload(off)
	require.NoError(t, err)
	require.Equal(t, payloadOf(2), data)
	require.NoError(t, j.Rollback())

	// After rollback the committed value from the first transaction must
	// still be the one returned.
	off, ok = j.FrameOffset(1)
	require.True(t, ok)
	data, err = j.ReadPayload(off)
	require.NoError(t, err)
	require.Equal(t, payloadOf(1), data)
}

func TestRecoveryTruncatesTornFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torn.journal")
	j, err := Open(path, testPageSize)
	require.NoError(t, err)

	require.NoError(t, j.LockWrite())
	require.NoError(t, j.AppendFrame(1, payloadOf(1)))
	require.NoError(t, j.Commit(1))

	require.NoError(t, j.LockWrite())
	require.NoError(t, j.AppendFrame(2, payloadOf(2)))
	// Simulate the process dying before a commit frame was written: the
	// transaction's frame is on disk but was never promoted to committed.
	require.NoError(t, j.Close())

	reopened, err := Open(path, testPageSize)
	require.NoError(t, err)
	defer reopened.Close()

	_, ok := reopened.FrameOffset(2)
	require.False(t, ok, "uncommitted frame must not survive recovery")
	off, ok := reopened.FrameOffset(1)
	require.True(t, ok)
	data, err := reopened.ReadPayload(off)
	require.NoError(t, err)
	require.Equal(t, payloadOf(1), data)
}

func TestRecoveryTruncatesCorruptedPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.journal")
	j, err := Open(path, testPageSize)
	require.NoError(t, err)

	require.NoError(t, j.LockWrite())
	require.NoError(t, j.AppendFrame(1, payloadOf(1)))
	require.NoError(t, j.Commit(1))
	require.NoError(t, j.Close())

	// Corrupt one payload byte in place so its CRC no longer matches.
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF}, HeaderSize+frameMetaSize)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(path, testPageSize)
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, int64(HeaderSize), reopened.Length())
	_, ok := reopened.FrameOffset(1)
	require.False(t, ok)
}

func TestCheckpointAppliesToMainFileAndResetsJournal(t *testing.T) {
	j, _ := openTestJournal(t)
	defer j.Close()

	require.NoError(t, j.LockWrite())
	require.NoError(t, j.AppendFrame(2, payloadOf(7)))
	require.NoError(t, j.Commit(1))

	oldSalt1 := j.salt1
	mainPath := filepath.Join(t.TempDir(), "main.db")
	mainFile, err := os.OpenFile(mainPath, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer mainFile.Close()

	require.NoError(t, j.Checkpoint(mainFile, testPageSize))
	require.Equal(t, int64(HeaderSize), j.Length())
	require.NotEqual(t, oldSalt1, j.salt1)
	require.NotZero(t, j.salt2)

	buf := make([]byte, testPageSize)
	_, err = mainFile.ReadAt(buf, 2*int64(testPageSize))
	require.NoError(t, err)
	require.Equal(t, payloadOf(7), buf)

	_, ok := j.FrameOffset(2)
	require.False(t, ok, "committed map is cleared after checkpoint")
}

func TestLockWriteThenUnlockOnSameFD(t *testing.T) {
	// flock is per open-file-description, so a single Journal handle can
	// always re-acquire its own lock; cross-process contention is covered
	// by internal/backend's exclusion test instead.
	j, _ := openTestJournal(t)
	defer j.Close()
	require.NoError(t, j.LockWrite())
	require.NoError(t, j.Unlock())
}

func TestUpgradeFromReadToWrite(t *testing.T) {
	j, _ := openTestJournal(t)
	defer j.Close()
	require.NoError(t, j.LockRead())
	require.NoError(t, j.Upgrade())
	require.True(t, j.exclusive)
}

func TestLoadHeaderRejectsPageSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "psmismatch.journal")
	j, err := Open(path, 64)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	_, err = Open(path, 128)
	require.Error(t, err)
}

func TestNoOpCommitIsIdempotent(t *testing.T) {
	j, _ := openTestJournal(t)
	defer j.Close()
	require.NoError(t, j.LockWrite())
	require.NoError(t, j.Commit(1))
	lenBefore := j.Length()
	require.NoError(t, j.LockWrite())
	require.NoError(t, j.Commit(1))
	require.Equal(t, lenBefore, j.Length())
}
