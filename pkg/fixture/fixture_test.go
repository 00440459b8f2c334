package fixture

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacktea/blobcheck/pkg/xerrors"
)

func md5hex(data string) string {
	sum := md5.Sum([]byte(data))
	return hex.EncodeToString(sum[:])
}

func TestResolveCanonicalPath(t *testing.T) {
	fsys := memfs.New()
	require.NoError(t, util.WriteFile(fsys, "tests/__fixtures__/test-1.png", []byte("one"), 0o644))
	r := NewResolver(fsys)

	got, err := r.Resolve("./tests/__fixtures__/test-1.png")
	require.NoError(t, err)
	assert.Equal(t, "tests/__fixtures__/test-1.png", got)
}

func TestResolveMissing(t *testing.T) {
	r := NewResolver(memfs.New())
	_, err := r.Resolve("./tests/__fixtures__/nop.png")
	require.Error(t, err)
	assert.Equal(t, xerrors.KindNotFound, xerrors.KindOf(err))
}

func TestResolveDirectory(t *testing.T) {
	fsys := memfs.New()
	require.NoError(t, fsys.MkdirAll("tests", 0o755))
	r := NewResolver(fsys)

	_, err := r.Resolve("tests")
	assert.Equal(t, xerrors.KindInvalid, xerrors.KindOf(err))
	_, err = r.Resolve("   ")
	assert.Equal(t, xerrors.KindInvalid, xerrors.KindOf(err))
}

func TestDigestIsContentBased(t *testing.T) {
	fsys := memfs.New()
	require.NoError(t, util.WriteFile(fsys, "a/one.png", []byte("same bytes"), 0o644))
	require.NoError(t, util.WriteFile(fsys, "b/copy.png", []byte("same bytes"), 0o644))
	require.NoError(t, util.WriteFile(fsys, "b/other.png", []byte("other bytes"), 0o644))
	r := NewResolver(fsys)

	one, err := r.Digest("a/one.png")
	require.NoError(t, err)
	copied, err := r.Digest("b/copy.png")
	require.NoError(t, err)
	other, err := r.Digest("b/other.png")
	require.NoError(t, err)

	assert.Equal(t, md5hex("same bytes"), one)
	assert.Equal(t, one, copied)
	assert.NotEqual(t, one, other)
}

func TestDigestUsesCache(t *testing.T) {
	fsys := memfs.New()
	require.NoError(t, util.WriteFile(fsys, "x.bin", []byte("x"), 0o644))
	r := NewResolver(fsys)

	for i := 0; i < 3; i++ {
		sum, err := r.Digest("x.bin")
		require.NoError(t, err)
		assert.Equal(t, md5hex("x"), sum)
	}
	stats := r.CacheStats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestOSResolver(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "disk.png"), []byte("disk"), 0o644))
	r := NewOSResolver(dir)

	sum, err := r.Digest("disk.png")
	require.NoError(t, err)
	assert.Equal(t, md5hex("disk"), sum)

	_, err = r.Digest("missing.png")
	assert.True(t, xerrors.IsNotFound(err))
}

func TestOSResolverAbsolutePath(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(dir, "nested", "abs.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte("absolute"), 0o644))
	r := NewOSResolver(".")

	got, err := r.Resolve(abs)
	require.NoError(t, err)
	assert.Equal(t, filepath.ToSlash(abs), got)

	sum, err := r.Digest(abs)
	require.NoError(t, err)
	assert.Equal(t, md5hex("absolute"), sum)

	_, err = r.Digest(filepath.Join(dir, "missing.png"))
	assert.True(t, xerrors.IsNotFound(err))
	_, err = r.Resolve(filepath.Join(dir, "nested"))
	assert.Equal(t, xerrors.KindInvalid, xerrors.KindOf(err))
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rel.png"), []byte("relative"), 0o644))
	r := NewOSResolver(dir)

	clean, data, err := r.ReadFile("./rel.png")
	require.NoError(t, err)
	assert.Equal(t, "rel.png", clean)
	assert.Equal(t, []byte("relative"), data)

	abs := filepath.Join(dir, "rel.png")
	clean, data, err = r.ReadFile(abs)
	require.NoError(t, err)
	assert.Equal(t, filepath.ToSlash(abs), clean)
	assert.Equal(t, []byte("relative"), data)

	_, _, err = r.ReadFile("nop.png")
	assert.True(t, xerrors.IsNotFound(err))
}

func TestMemResolverKeepsAbsolutePathsInside(t *testing.T) {
	fsys := memfs.New()
	require.NoError(t, util.WriteFile(fsys, "fixtures/x.png", []byte("x"), 0o644))
	r := NewResolver(fsys)

	sum, err := r.Digest("/fixtures/x.png")
	require.NoError(t, err)
	assert.Equal(t, md5hex("x"), sum)
}
