package eventlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacktea/blobcheck/pkg/xerrors"
)

func event(key string, owner OwnerID, name string) Event {
	return Event{Key: key, Owner: owner, Descriptor: Descriptor{Name: name, MD5: "md5-" + name}}
}

func TestTableKeepsInsertionOrder(t *testing.T) {
	table := NewTable()
	table.Put(event("c", "a", "c.png"))
	table.Put(event("a", "a", "a.png"))
	table.Put(event("b", "a", "b.png"))
	table.Put(event("c", "b", "c2.png"))

	assert.Equal(t, []string{"c", "a", "b"}, table.Keys())
	ev, ok := table.Get("c")
	require.True(t, ok)
	assert.Equal(t, "c2.png", ev.Descriptor.Name)
	assert.Equal(t, 3, table.Len())
}

func TestTableFilterPreservesKeys(t *testing.T) {
	table := NewTable()
	table.Put(event("k1", "s1", "one"))
	table.Put(event("k2", "s2", "two"))
	table.Put(event("k3", "s1", "three"))

	owned := table.Filter(func(ev Event) bool { return ev.Owner == "s1" })
	assert.Equal(t, []string{"k1", "k3"}, owned.Keys())
	assert.Equal(t, 3, table.Len(), "filter must not touch the source table")
}

func TestNilTableIsEmpty(t *testing.T) {
	var table *Table
	assert.Equal(t, 0, table.Len())
	assert.False(t, table.Has("k"))
	assert.Empty(t, table.Keys())
	assert.Equal(t, 0, table.Filter(func(Event) bool { return true }).Len())
}

func TestLogTablesAreIndependent(t *testing.T) {
	log := New()
	log.RecordStored(event("k1", "s1", "one"))
	log.RecordDisposed(event("k2", "s1", "two"))

	assert.True(t, log.Stored().Has("k1"))
	assert.False(t, log.Stored().Has("k2"))
	assert.True(t, log.Disposed().Has("k2"))
	assert.False(t, log.Disposed().Has("k1"))
}

func TestLogSnapshotsDoNotAlias(t *testing.T) {
	log := New()
	log.RecordStored(event("k1", "s1", "one"))
	snap := log.Stored()
	log.RecordStored(event("k2", "s1", "two"))
	assert.Equal(t, 1, snap.Len())
	assert.Equal(t, 2, log.Stored().Len())
}

func TestLogReset(t *testing.T) {
	log := New()
	log.RecordStored(event("k1", "s1", "one"))
	log.RecordDisposed(event("k1", "s1", "one"))

	log.Reset()

	assert.Equal(t, 0, log.Stored().Len())
	assert.Equal(t, 0, log.Disposed().Len())
}

func TestArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "archive.db")
	archive, err := OpenArchive(ArchiveConfig{Path: path})
	require.NoError(t, err)
	defer archive.Close()

	log := New()
	log.RecordStored(event("z", "s1", "z.png"))
	log.RecordStored(Event{
		Key:        "a",
		Owner:      "s2",
		Descriptor: Descriptor{Name: "a.png", MD5: "abc"},
		Options:    map[string]any{"bucket": "test-bucket"},
	})
	log.RecordStored(Event{Key: "e", Owner: "s2", Descriptor: Descriptor{Name: "e.png"}, Options: map[string]any{}})
	log.RecordDisposed(event("z", "s1", "z.png"))

	require.NoError(t, archive.Save(ctx, "TestSomething", log))

	names, err := archive.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"TestSomething"}, names)

	loaded, err := archive.Load(ctx, "TestSomething")
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a", "e"}, loaded.Stored().Keys())
	ev, ok := loaded.LookupStored("a")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"bucket": "test-bucket"}, ev.Options)
	assert.Equal(t, OwnerID("s2"), ev.Owner)
	assert.True(t, loaded.Disposed().Has("z"))

	// empty and absent options stay distinct
	empty, ok := loaded.LookupStored("e")
	require.True(t, ok)
	require.NotNil(t, empty.Options)
	assert.Empty(t, empty.Options)
	absent, ok := loaded.LookupStored("z")
	require.True(t, ok)
	assert.Nil(t, absent.Options)
}

func TestArchiveMissingSnapshot(t *testing.T) {
	ctx := context.Background()
	archive, err := OpenArchive(ArchiveConfig{Path: filepath.Join(t.TempDir(), "archive.db")})
	require.NoError(t, err)
	defer archive.Close()

	_, err = archive.Load(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, xerrors.KindNotFound, xerrors.KindOf(err))
}

func TestArchiveDelete(t *testing.T) {
	ctx := context.Background()
	archive, err := OpenArchive(ArchiveConfig{Path: filepath.Join(t.TempDir(), "archive.db")})
	require.NoError(t, err)
	defer archive.Close()

	require.NoError(t, archive.Save(ctx, "one", New()))
	require.NoError(t, archive.Delete(ctx, "one"))
	names, err := archive.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestOpenArchiveRequiresPath(t *testing.T) {
	_, err := OpenArchive(ArchiveConfig{})
	require.Error(t, err)
	assert.Equal(t, xerrors.KindInvalid, xerrors.KindOf(err))
}
