package match

import (
	"github.com/stretchr/testify/assert"

	"github.com/jacktea/blobcheck/pkg/blob"
	"github.com/jacktea/blobcheck/pkg/eventlog"
)

// NotFoundKey stands in for the base key when no stored file carries the
// requested content hash. It never collides with a generated key.
const NotFoundKey = "%NOT_FOUND%"

// Options is assertion-relevant metadata attached to a store or dispose. A nil
// Options means "do not filter on options".
type Options = map[string]any

// OptionsEqual compares requested and recorded options structurally: maps are
// compared key by key regardless of order, values recursively, with no type
// coercion (int 1 and float64 1 differ).
func OptionsEqual(requested, recorded Options) bool {
	if requested == nil || recorded == nil {
		return requested == nil && recorded == nil
	}
	return assert.ObjectsAreEqual(requested, recorded)
}

// Tier tells how far a version lookup got before it failed.
type Tier int

const (
	// TierNothingRecorded means the scoped table is empty.
	TierNothingRecorded Tier = iota
	// TierBaseMissing means no stored file has the requested content hash.
	TierBaseMissing
	// TierNoVariants means the base exists but has no versions.
	TierNoVariants
	// TierNoMatch means versions exist but none matches by key or options.
	TierNoMatch
	// TierMatched means the requested version was found.
	TierMatched
)

func (t Tier) String() string {
	switch t {
	case TierNothingRecorded:
		return "nothing recorded"
	case TierBaseMissing:
		return "base missing"
	case TierNoVariants:
		return "no variants"
	case TierNoMatch:
		return "no match"
	case TierMatched:
		return "matched"
	default:
		return "unknown"
	}
}

// StoredMatch is the outcome of WasStored.
type StoredMatch struct {
	Matched bool
	// Candidates share the requested content hash.
	Candidates *eventlog.Table
	// Scoped is every stored event in scope, listed when the match fails.
	Scoped *eventlog.Table
}

// DisposedMatch is the outcome of WasDisposedKey.
type DisposedMatch struct {
	Matched    bool
	Candidates *eventlog.Table
}

// VersionMatch is the outcome of WasStoredVersion and WasDisposedVersion.
type VersionMatch struct {
	Matched    bool
	Tier       Tier
	BaseKey    string
	BaseFound  bool
	VersionKey string
	Slug       string
	Variants   *eventlog.Table
	Scoped     *eventlog.Table
}

// WasStored looks for a stored event whose content hash is md5 and, when
// options is non-nil, whose options equal it.
func WasStored(table *eventlog.Table, md5 string, options Options) StoredMatch {
	candidates := table.Filter(func(ev eventlog.Event) bool { return ev.Descriptor.MD5 == md5 })
	matched := false
	for _, ev := range candidates.Events() {
		if options == nil || OptionsEqual(options, ev.Options) {
			matched = true
			break
		}
	}
	return StoredMatch{Matched: matched, Candidates: candidates, Scoped: orEmpty(table)}
}

// WasDisposedKey reports whether key is in the disposed table.
func WasDisposedKey(table *eventlog.Table, key string) DisposedMatch {
	return DisposedMatch{Matched: table.Has(key), Candidates: orEmpty(table)}
}

// WasDisposedVersion reports whether version v of baseKey was disposed.
func WasDisposedVersion(table *eventlog.Table, codec blob.Codec, baseKey string, v blob.VersionDescriptor) VersionMatch {
	m := VersionMatch{
		BaseKey:    baseKey,
		BaseFound:  true,
		VersionKey: codec.VersionKey(baseKey, v),
		Slug:       codec.Slug(v),
		Variants:   variantsOf(table, codec, baseKey),
		Scoped:     orEmpty(table),
	}
	_, m.Matched = m.Variants.Get(m.VersionKey)
	m.Tier = versionTier(m)
	return m
}

// WasStoredVersion resolves the base key by content hash, then looks for
// version v of it, additionally requiring options equality when options is
// non-nil.
func WasStoredVersion(table *eventlog.Table, codec blob.Codec, md5 string, v blob.VersionDescriptor, options Options) VersionMatch {
	m := VersionMatch{
		BaseKey: NotFoundKey,
		Slug:    codec.Slug(v),
		Scoped:  orEmpty(table),
	}
	for _, ev := range m.Scoped.Events() {
		if ev.Descriptor.MD5 == md5 {
			m.BaseKey = ev.Key
			m.BaseFound = true
			break
		}
	}
	m.VersionKey = codec.VersionKey(m.BaseKey, v)
	if m.BaseFound {
		m.Variants = variantsOf(table, codec, m.BaseKey)
	} else {
		m.Variants = eventlog.NewTable()
	}
	if ev, ok := m.Variants.Get(m.VersionKey); ok {
		m.Matched = options == nil || OptionsEqual(options, ev.Options)
	}
	m.Tier = versionTier(m)
	return m
}

func versionTier(m VersionMatch) Tier {
	switch {
	case m.Matched:
		return TierMatched
	case m.Scoped.Len() == 0:
		return TierNothingRecorded
	case !m.BaseFound:
		return TierBaseMissing
	case m.Variants.Len() == 0:
		return TierNoVariants
	default:
		return TierNoMatch
	}
}

func variantsOf(table *eventlog.Table, codec blob.Codec, baseKey string) *eventlog.Table {
	return table.Filter(func(ev eventlog.Event) bool { return codec.IsVersionOf(ev.Key, baseKey) })
}

func orEmpty(table *eventlog.Table) *eventlog.Table {
	if table == nil {
		return eventlog.NewTable()
	}
	return table
}
