// Package fixture resolves on-disk fixture files and hashes their content so
// they can be correlated with the descriptors recorded by the test engine.
package fixture

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/jacktea/blobcheck/pkg/cache"
	"github.com/jacktea/blobcheck/pkg/xerrors"
)

// Resolver resolves fixture paths relative to the root of a filesystem.
// Resolvers over the local disk also accept absolute paths.
type Resolver struct {
	fs      billy.Filesystem
	host    billy.Filesystem
	digests *cache.Cache[string]
}

// NewResolver returns a Resolver over fsys.
func NewResolver(fsys billy.Filesystem) *Resolver {
	return &Resolver{fs: fsys, digests: cache.New[string](256, 0)}
}

// NewOSResolver returns a Resolver rooted at dir on the local disk.
func NewOSResolver(dir string) *Resolver {
	if dir == "" {
		dir = "."
	}
	r := NewResolver(osfs.New(dir))
	r.host = osfs.New("/")
	return r
}

// CacheStats reports digest cache usage.
func (r *Resolver) CacheStats() cache.Stats { return r.digests.Stats() }

// lookup picks the filesystem a canonical path lives on.
func (r *Resolver) lookup(clean string) billy.Filesystem {
	if r.host != nil && path.IsAbs(clean) {
		return r.host
	}
	return r.fs
}

// Resolve returns the canonical form of p, failing with KindNotFound when it
// does not exist and KindInvalid when it is a directory.
func (r *Resolver) Resolve(p string) (string, error) {
	clean := canonical(p)
	if clean == "" {
		return "", xerrors.E(xerrors.KindInvalid, "fixture.Resolve", p)
	}
	info, err := r.lookup(clean).Stat(clean)
	if err != nil {
		return "", xerrors.Wrap(notFoundOr(err), "fixture.Resolve", p, err)
	}
	if info.IsDir() {
		return "", xerrors.E(xerrors.KindInvalid, "fixture.Resolve", p)
	}
	return clean, nil
}

// Digest returns the lowercase hex MD5 of the file at p. Digests are cached
// by path, size and modification time.
func (r *Resolver) Digest(p string) (string, error) {
	clean, err := r.Resolve(p)
	if err != nil {
		return "", err
	}
	fsys := r.lookup(clean)
	info, err := fsys.Stat(clean)
	if err != nil {
		return "", xerrors.Wrap(notFoundOr(err), "fixture.Digest", p, err)
	}
	cacheKey := fmt.Sprintf("%s|%d|%d", clean, info.Size(), info.ModTime().UnixNano())
	if sum, ok := r.digests.Get(cacheKey); ok {
		return sum, nil
	}
	f, err := fsys.Open(clean)
	if err != nil {
		return "", xerrors.Wrap(notFoundOr(err), "fixture.Digest", p, err)
	}
	defer f.Close()
	hasher := md5.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", xerrors.Wrap(xerrors.KindInternal, "fixture.Digest", p, err)
	}
	sum := hex.EncodeToString(hasher.Sum(nil))
	r.digests.Set(cacheKey, sum)
	return sum, nil
}

// ReadFile returns the canonical path of p and the file's content.
func (r *Resolver) ReadFile(p string) (string, []byte, error) {
	clean, err := r.Resolve(p)
	if err != nil {
		return "", nil, err
	}
	data, err := util.ReadFile(r.lookup(clean), clean)
	if err != nil {
		return "", nil, xerrors.Wrap(notFoundOr(err), "fixture.ReadFile", p, err)
	}
	return clean, data, nil
}

func canonical(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return ""
	}
	clean := path.Clean(p)
	if clean == "." || clean == "/" {
		return ""
	}
	return clean
}

func notFoundOr(err error) xerrors.Kind {
	if kind := xerrors.KindOf(err); kind == xerrors.KindNotFound || kind == xerrors.KindPermission {
		return kind
	}
	return xerrors.KindInternal
}
