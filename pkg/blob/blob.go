package blob

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
)

// VersionSeparator joins a base key and a version slug into a version key.
const VersionSeparator = "-V/"

// Fit controls how a version is fitted into its target box.
type Fit string

const (
	FitCover   Fit = "cover"
	FitContain Fit = "contain"
	FitFill    Fit = "fill"
	FitInside  Fit = "inside"
	FitOutside Fit = "outside"
)

// VersionDescriptor names the transform parameters of a derived version.
type VersionDescriptor struct {
	Width  int
	Height int
	Fit    Fit
	Format string
}

// BlobInput is the payload handed to Storage.Store.
type BlobInput struct {
	Name     string
	MimeType string
	Data     []byte
}

// Codec derives version keys and slugs. The match engine only ever compares
// versions through the keys a Codec produces.
type Codec interface {
	VersionKey(base string, v VersionDescriptor) string
	Slug(v VersionDescriptor) string
	IsVersionOf(key, base string) bool
	SlugOf(versionKey string) string
}

// DefaultCodec is the key scheme used by TestEngine.
type DefaultCodec struct{}

var _ Codec = DefaultCodec{}

// VersionKey returns base + "-V/" + slug. The result always starts with base
// and never equals it.
func (DefaultCodec) VersionKey(base string, v VersionDescriptor) string {
	return base + VersionSeparator + DefaultCodec{}.Slug(v)
}

// Slug serializes v as v-<width>x<height>[-<fit>][-<format>].
func (DefaultCodec) Slug(v VersionDescriptor) string {
	parts := []string{"v", dimension(v.Width) + "x" + dimension(v.Height)}
	if v.Fit != "" {
		parts = append(parts, string(v.Fit))
	}
	if v.Format != "" {
		parts = append(parts, strings.ToLower(v.Format))
	}
	return strings.Join(parts, "-")
}

// IsVersionOf reports whether key is a version key derived from base.
func (DefaultCodec) IsVersionOf(key, base string) bool {
	return len(key) > len(base)+len(VersionSeparator) && strings.HasPrefix(key, base+VersionSeparator)
}

// SlugOf returns the slug following the first separator of a version key,
// or "" for a base key.
func (DefaultCodec) SlugOf(versionKey string) string {
	_, rest, ok := strings.Cut(versionKey, VersionSeparator)
	if !ok {
		return ""
	}
	slug, _, _ := strings.Cut(rest, VersionSeparator)
	return slug
}

func dimension(n int) string {
	if n <= 0 {
		return "auto"
	}
	return strconv.Itoa(n)
}

// MD5 returns the lowercase hex MD5 of data.
func MD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
