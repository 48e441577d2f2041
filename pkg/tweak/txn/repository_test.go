package txn

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tweakctl/tweakctl/pkg/tweak/types"
)

// beginAt opens a committed-later transaction with a pinned clock so tests
// control chronological order.
func beginAt(t *testing.T, repo *Repository, at time.Time) *Txn {
	t.Helper()
	saved := repo.now
	repo.now = func() time.Time { return at }
	defer func() { repo.now = saved }()

	txn, err := repo.Begin()
	require.NoError(t, err)
	return txn
}

func TestListOrdersOldestFirst(t *testing.T) {
	t.Parallel()
	repo, _ := newTestRepo(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	second := beginAt(t, repo, base.Add(time.Hour))
	second.AddKnob("b")
	require.NoError(t, second.Commit())

	first := beginAt(t, repo, base)
	first.AddKnob("a")
	require.NoError(t, first.Commit())

	manifests, err := repo.List()
	require.NoError(t, err)
	require.Len(t, manifests, 2)
	assert.Equal(t, first.ID(), manifests[0].ID)
	assert.Equal(t, second.ID(), manifests[1].ID)
}

func TestListSkipsUncommittedAndUnreadable(t *testing.T) {
	t.Parallel()
	repo, fs := newTestRepo(t)

	committed, err := repo.Begin()
	require.NoError(t, err)
	committed.AddKnob("a")
	require.NoError(t, committed.Commit())

	// Mid-write by another invocation: directory without a manifest.
	require.NoError(t, fs.MkdirAll("/state/txns/2026-03-01T10-00-00.000-abcdef", 0o755))

	// A manifest a future version wrote.
	future := `{"schema_version": 99, "id": "future", "scope": "user"}`
	require.NoError(t, fs.MkdirAll("/state/txns/2099-01-01T00-00-00.000-ffffff", 0o755))
	require.NoError(t, afero.WriteFile(fs,
		"/state/txns/2099-01-01T00-00-00.000-ffffff/manifest.json", []byte(future), 0o644))

	// Garbage that does not parse.
	require.NoError(t, fs.MkdirAll("/state/txns/garbage", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/state/txns/garbage/manifest.json", []byte("{"), 0o644))

	manifests, err := repo.List()
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	assert.Equal(t, committed.ID(), manifests[0].ID)
}

func TestListEmptyStore(t *testing.T) {
	t.Parallel()
	repo, _ := newTestRepo(t)

	manifests, err := repo.List()
	require.NoError(t, err)
	assert.Empty(t, manifests)
}

func TestOldestFor(t *testing.T) {
	t.Parallel()
	repo, _ := newTestRepo(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	first := beginAt(t, repo, base)
	first.AddKnob("swappiness")
	require.NoError(t, first.Commit())

	second := beginAt(t, repo, base.Add(time.Minute))
	second.AddKnob("swappiness")
	require.NoError(t, second.Commit())

	m, err := repo.OldestFor("swappiness")
	require.NoError(t, err)
	assert.Equal(t, first.ID(), m.ID)

	// Once the oldest is reverted, the next one becomes authoritative.
	require.NoError(t, repo.MarkReverted(first.ID()))
	m, err = repo.OldestFor("swappiness")
	require.NoError(t, err)
	assert.Equal(t, second.ID(), m.ID)

	_, err = repo.OldestFor("never-applied")
	assert.True(t, errors.Is(err, types.ErrKnobNotFound))
}

func TestPendingDeduplicatesOldestWins(t *testing.T) {
	t.Parallel()
	repo, fs := newTestRepo(t)

	path := "/etc/security/limits.d/audio.conf"
	require.NoError(t, afero.WriteFile(fs, path, []byte("original\n"), 0o644))

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first := beginAt(t, repo, base)
	_, err := first.Capture(path, notOwned)
	require.NoError(t, err)
	first.Effect(EffectSysfs, "/sys/kernel/mm/thp", "always", "madvise")
	first.AddKnob("a")
	require.NoError(t, first.Commit())

	require.NoError(t, afero.WriteFile(fs, path, []byte("modified\n"), 0o644))

	second := beginAt(t, repo, base.Add(time.Minute))
	_, err = second.Capture(path, notOwned)
	require.NoError(t, err)
	second.Effect(EffectSysfs, "/sys/kernel/mm/thp", "madvise", "never")
	second.Effect(EffectSystemd, "system:ondemand.service", "enabled", "disabled")
	second.AddKnob("b")
	require.NoError(t, second.Commit())

	state, err := repo.Pending()
	require.NoError(t, err)

	require.Len(t, state.Backups, 1)
	assert.Equal(t, first.ID(), state.Backups[0].TxnID)
	assert.True(t, state.Backups[0].Present)

	require.Len(t, state.Effects, 2)
	assert.Equal(t, first.ID(), state.Effects[0].TxnID)
	assert.Equal(t, "always", state.Effects[0].Record.Before)
	assert.Equal(t, second.ID(), state.Effects[1].TxnID)
	assert.Equal(t, EffectSystemd, state.Effects[1].Record.Kind)

	// Reverted transactions drop out of the pending view.
	require.NoError(t, repo.MarkReverted(first.ID()))
	require.NoError(t, repo.MarkReverted(second.ID()))
	state, err = repo.Pending()
	require.NoError(t, err)
	assert.Empty(t, state.Backups)
	assert.Empty(t, state.Effects)
}

func TestPendingReportsAbsentTargets(t *testing.T) {
	t.Parallel()
	repo, _ := newTestRepo(t)

	txn, err := repo.Begin()
	require.NoError(t, err)
	_, err = txn.Capture("/etc/udev/rules.d/40-audio.rules", notOwned)
	require.NoError(t, err)
	txn.AddKnob("udev")
	require.NoError(t, txn.Commit())

	state, err := repo.Pending()
	require.NoError(t, err)
	require.Len(t, state.Backups, 1)
	assert.False(t, state.Backups[0].Present)
}

func TestCleanRemovesOnlyOldReverted(t *testing.T) {
	t.Parallel()
	repo, fs := newTestRepo(t)

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	oldReverted := beginAt(t, repo, old)
	oldReverted.AddKnob("a")
	require.NoError(t, oldReverted.Commit())
	require.NoError(t, repo.MarkReverted(oldReverted.ID()))

	oldActive := beginAt(t, repo, old.Add(time.Minute))
	oldActive.AddKnob("b")
	require.NoError(t, oldActive.Commit())

	recent := beginAt(t, repo, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	recent.AddKnob("c")
	require.NoError(t, recent.Commit())
	require.NoError(t, repo.MarkReverted(recent.ID()))

	repo.now = func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }
	removed, err := repo.Clean(30)
	require.NoError(t, err)
	assert.Equal(t, []string{oldReverted.ID()}, removed)

	gone, _ := afero.DirExists(fs, filepath.Join("/state/txns", oldReverted.ID()))
	assert.False(t, gone)

	manifests, err := repo.List()
	require.NoError(t, err)
	assert.Len(t, manifests, 2, "unreverted and recent transactions survive")
}

func TestReadBackupRequiresBlob(t *testing.T) {
	t.Parallel()
	repo, _ := newTestRepo(t)

	_, err := repo.ReadBackup("whatever", BackupRecord{Path: "/x", Existed: false})
	assert.Error(t, err)
}
