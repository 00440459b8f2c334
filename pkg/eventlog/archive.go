package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/jacktea/blobcheck/pkg/xerrors"
)

var bucketSnapshots = []byte("snapshots")

// ArchiveConfig configures the BoltDB-backed snapshot archive.
type ArchiveConfig struct {
	Path     string
	NoSync   bool
	ReadOnly bool
	Timeout  time.Duration
}

// Archive persists named Log snapshots in a BoltDB file so a failed test's
// recording can be inspected after the process exits.
type Archive struct {
	cfg ArchiveConfig
	db  *bolt.DB
}

// Snapshot is the archived form of a Log. Events keep their recording order.
type Snapshot struct {
	Name     string    `json:"name"`
	SavedAt  time.Time `json:"saved_at"`
	Stored   []Event   `json:"stored"`
	Disposed []Event   `json:"disposed"`
}

// OpenArchive opens (creating when writable) the archive at cfg.Path.
func OpenArchive(cfg ArchiveConfig) (*Archive, error) {
	if cfg.Path == "" {
		return nil, xerrors.E(xerrors.KindInvalid, "eventlog.OpenArchive", "path")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 1 * time.Second
	}
	opts := bolt.Options{
		Timeout:  cfg.Timeout,
		NoSync:   cfg.NoSync,
		ReadOnly: cfg.ReadOnly,
	}
	db, err := bolt.Open(cfg.Path, 0o600, &opts)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindOf(err), "eventlog.OpenArchive", cfg.Path, err)
	}
	a := &Archive{cfg: cfg, db: db}
	if !cfg.ReadOnly {
		if err := a.init(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *Archive) init() error {
	return a.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSnapshots); err != nil {
			return fmt.Errorf("boltdb: create bucket %s: %w", bucketSnapshots, err)
		}
		return nil
	})
}

// Save stores a snapshot of log under name, replacing any previous one.
func (a *Archive) Save(ctx context.Context, name string, log *Log) error {
	if name == "" {
		return xerrors.E(xerrors.KindInvalid, "Archive.Save", "name")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := Snapshot{
		Name:     name,
		SavedAt:  time.Now().UTC(),
		Stored:   log.Stored().Events(),
		Disposed: log.Disposed().Events(),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return xerrors.Wrap(xerrors.KindInternal, "Archive.Save", name, err)
	}
	return a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put([]byte(name), data)
	})
}

// Load rebuilds the Log archived under name.
func (a *Archive) Load(ctx context.Context, name string) (*Log, error) {
	snap, err := a.Snapshot(ctx, name)
	if err != nil {
		return nil, err
	}
	return snap.Log(), nil
}

// Snapshot returns the raw snapshot archived under name.
func (a *Archive) Snapshot(ctx context.Context, name string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	err := a.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketSnapshots)
		if bkt == nil {
			return xerrors.E(xerrors.KindNotFound, "Archive.Load", name)
		}
		data := bkt.Get([]byte(name))
		if data == nil {
			return xerrors.E(xerrors.KindNotFound, "Archive.Load", name)
		}
		if err := json.Unmarshal(data, &snap); err != nil {
			return xerrors.Wrap(xerrors.KindCorrupt, "Archive.Load", name, err)
		}
		return nil
	})
	return snap, err
}

// List returns the archived snapshot names in key order.
func (a *Archive) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []string
	err := a.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketSnapshots)
		if bkt == nil {
			return nil
		}
		c := bkt.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			out = append(out, string(k))
		}
		return nil
	})
	return out, err
}

// Delete removes the snapshot archived under name.
func (a *Archive) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Delete([]byte(name))
	})
}

// Close releases the underlying BoltDB.
func (a *Archive) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Log rebuilds an in-memory Log from the snapshot.
func (s Snapshot) Log() *Log {
	log := New()
	for _, ev := range s.Stored {
		log.RecordStored(ev)
	}
	for _, ev := range s.Disposed {
		log.RecordDisposed(ev)
	}
	return log
}
