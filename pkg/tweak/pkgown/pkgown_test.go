package pkgown

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tweakctl/tweakctl/pkg/tweak/system"
)

// countingPackages wraps FakePackages and counts Owner calls so cache hits
// are observable.
type countingPackages struct {
	system.FakePackages
	ownerCalls int
}

func (p *countingPackages) Owner(ctx context.Context, path string) (string, bool, error) {
	p.ownerCalls++
	return p.FakePackages.Owner(ctx, path)
}

func openCache(t *testing.T, pm system.PackageManager) *Cache {
	t.Helper()
	c, err := Open(t.TempDir(), pm, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestOwnerCachesAnswers(t *testing.T) {
	pm := &countingPackages{FakePackages: system.FakePackages{
		Owners: map[string]string{"/usr/share/alsa/alsa.conf": "alsa-lib"},
	}}
	c := openCache(t, pm)
	ctx := context.Background()

	pkg, owned, err := c.Owner(ctx, "/usr/share/alsa/alsa.conf")
	require.NoError(t, err)
	assert.True(t, owned)
	assert.Equal(t, "alsa-lib", pkg)
	assert.Equal(t, 1, pm.ownerCalls)

	// The second lookup is served from the cache even if the backing
	// answer changes.
	pm.Owners["/usr/share/alsa/alsa.conf"] = "something-else"
	pkg, owned, err = c.Owner(ctx, "/usr/share/alsa/alsa.conf")
	require.NoError(t, err)
	assert.True(t, owned)
	assert.Equal(t, "alsa-lib", pkg)
	assert.Equal(t, 1, pm.ownerCalls)
}

func TestOwnerCachesNegativeAnswers(t *testing.T) {
	pm := &countingPackages{FakePackages: system.FakePackages{Owners: map[string]string{}}}
	c := openCache(t, pm)
	ctx := context.Background()

	_, owned, err := c.Owner(ctx, "/etc/security/limits.d/audio.conf")
	require.NoError(t, err)
	assert.False(t, owned)

	_, owned, err = c.Owner(ctx, "/etc/security/limits.d/audio.conf")
	require.NoError(t, err)
	assert.False(t, owned)
	assert.Equal(t, 1, pm.ownerCalls, "unowned answers are cached too")
}

func TestInvalidate(t *testing.T) {
	pm := &countingPackages{FakePackages: system.FakePackages{
		Owners: map[string]string{"/usr/share/x": "pkg-a"},
	}}
	c := openCache(t, pm)
	ctx := context.Background()

	_, _, err := c.Owner(ctx, "/usr/share/x")
	require.NoError(t, err)

	require.NoError(t, c.Invalidate("/usr/share/x"))
	pm.Owners["/usr/share/x"] = "pkg-b"

	pkg, _, err := c.Owner(ctx, "/usr/share/x")
	require.NoError(t, err)
	assert.Equal(t, "pkg-b", pkg)
	assert.Equal(t, 2, pm.ownerCalls)

	// Invalidating an uncached path is a no-op.
	require.NoError(t, c.Invalidate("/never/seen"))
}

func TestRestorePassthrough(t *testing.T) {
	pm := &countingPackages{FakePackages: system.FakePackages{
		Owners:        map[string]string{},
		RestoreResult: system.RestoreAttributesOnly,
	}}
	c := openCache(t, pm)

	outcome, err := c.Restore(context.Background(), "alsa-lib", "/usr/share/alsa/alsa.conf")
	require.NoError(t, err)
	assert.Equal(t, system.RestoreAttributesOnly, outcome)
	assert.Equal(t, []string{"alsa-lib:/usr/share/alsa/alsa.conf"}, pm.Restored)
}
