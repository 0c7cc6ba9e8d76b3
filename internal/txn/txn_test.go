package txn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransaction_CreateCommitsToDisk(t *testing.T) {
	dir := t.TempDir()
	tx := New(dir, ".kandev", nil)

	require.NoError(t, tx.AddCreate("a.txt", "hello"))
	result := tx.Commit()

	require.True(t, result.Success)
	assert.False(t, result.RolledBack)
	assert.Contains(t, result.CommittedFiles, filepath.Join(dir, "a.txt"))

	content, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	_, err = os.Stat(tx.tempDir)
	assert.True(t, os.IsNotExist(err), "temp dir must be removed after commit")
}

func TestTransaction_UpdateBacksUpOriginal(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(target, []byte("original"), 0o644))

	tx := New(dir, ".kandev", nil)
	require.NoError(t, tx.AddUpdate("b.txt", "updated"))
	result := tx.Commit()

	require.True(t, result.Success)
	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "updated", string(content))
}

func TestTransaction_DeleteRemovesFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "c.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	tx := New(dir, ".kandev", nil)
	require.NoError(t, tx.AddDelete("c.txt"))
	result := tx.Commit()

	require.True(t, result.Success)
	_, err := os.Stat(target)
	assert.True(t, os.IsNotExist(err))
}

func TestTransaction_MoveRelocatesFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("content"), 0o644))

	tx := New(dir, ".kandev", nil)
	require.NoError(t, tx.AddMove("src.txt", "dst/dst.txt"))
	result := tx.Commit()

	require.True(t, result.Success)
	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err))
	content, err := os.ReadFile(filepath.Join(dir, "dst", "dst.txt"))
	require.NoError(t, err)
	assert.Equal(t, "content", string(content))
}

// TestTransaction_RollbackOnApplyFailure mirrors scenario S5: a create
// that succeeds followed by one that cannot be applied must leave the
// filesystem as if neither had happened.
func TestTransaction_RollbackOnApplyFailure(t *testing.T) {
	dir := t.TempDir()
	tx := New(dir, ".kandev", nil)

	require.NoError(t, tx.AddCreate("a.txt", "A"))
	// A target path that collides with an existing file used as a
	// directory component forces the second apply to fail.
	blocker := filepath.Join(dir, "blocked")
	require.NoError(t, os.WriteFile(blocker, []byte("not a dir"), 0o644))
	require.NoError(t, tx.AddCreate(filepath.Join("blocked", "b.txt"), "B"))

	result := tx.Commit()

	assert.False(t, result.Success)
	assert.True(t, result.RolledBack)
	_, err := os.Stat(filepath.Join(dir, "a.txt"))
	assert.True(t, os.IsNotExist(err), "a.txt must not exist after rollback")
}

func TestTransaction_CheckpointRestore(t *testing.T) {
	dir := t.TempDir()
	tx := New(dir, ".kandev", nil)

	require.NoError(t, tx.AddCreate("a.txt", "A"))
	cp, err := tx.CreateCheckpoint()
	require.NoError(t, err)

	require.NoError(t, tx.AddCreate("b.txt", "B"))
	require.Len(t, tx.operations, 2)

	require.NoError(t, tx.RestoreCheckpoint(cp))
	assert.Len(t, tx.operations, 1)
	assert.Equal(t, "a.txt", filepath.Base(tx.operations[0].TargetPath))
}

func TestTransaction_CommitIsOneShot(t *testing.T) {
	dir := t.TempDir()
	tx := New(dir, ".kandev", nil)
	require.NoError(t, tx.AddCreate("a.txt", "A"))

	first := tx.Commit()
	require.True(t, first.Success)

	second := tx.Commit()
	assert.False(t, second.Success)
	assert.Error(t, second.Error)
}

func TestTransaction_AddAfterCommitFails(t *testing.T) {
	dir := t.TempDir()
	tx := New(dir, ".kandev", nil)
	require.NoError(t, tx.AddCreate("a.txt", "A"))
	tx.Commit()

	err := tx.AddCreate("b.txt", "B")
	assert.Error(t, err)
}

func TestTransaction_RestoreCheckpointAfterCommitFails(t *testing.T) {
	dir := t.TempDir()
	tx := New(dir, ".kandev", nil)
	require.NoError(t, tx.AddCreate("a.txt", "A"))
	cp, err := tx.CreateCheckpoint()
	require.NoError(t, err)
	tx.Commit()

	err = tx.RestoreCheckpoint(cp)
	assert.Error(t, err)
}
