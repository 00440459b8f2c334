package blob

import (
	"context"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/jacktea/blobcheck/pkg/eventlog"
	"github.com/jacktea/blobcheck/pkg/xerrors"
)

// Storage is one storage instance. Every event it produces carries its owner
// identity, which is what instance-scoped assertions filter on.
type Storage struct {
	engine *TestEngine
	owner  eventlog.OwnerID
}

func newStorage(engine *TestEngine) *Storage {
	return &Storage{engine: engine, owner: eventlog.OwnerID(uuid.NewString())}
}

// Owner returns the identity stamped on this instance's events.
func (s *Storage) Owner() eventlog.OwnerID { return s.owner }

// Engine returns the engine backing this instance.
func (s *Storage) Engine() *TestEngine { return s.engine }

// Store saves in and returns its generated key.
func (s *Storage) Store(ctx context.Context, in BlobInput, opts map[string]any) (string, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return "", xerrors.E(xerrors.KindInvalid, "Storage.Store", "name")
	}
	key := uuid.NewString() + "/" + path.Base(name)
	if err := s.StoreAt(ctx, key, in, opts); err != nil {
		return "", err
	}
	return key, nil
}

// StoreAt saves in under a caller-chosen key, replacing any payload already
// there.
func (s *Storage) StoreAt(ctx context.Context, key string, in BlobInput, opts map[string]any) error {
	if key == "" {
		return xerrors.E(xerrors.KindInvalid, "Storage.StoreAt", "key")
	}
	mimeType := in.MimeType
	if mimeType == "" {
		mimeType = mimetype.Detect(in.Data).String()
	}
	desc := eventlog.Descriptor{
		Name:     strings.TrimSpace(in.Name),
		MimeType: mimeType,
		MD5:      MD5(in.Data),
		Size:     int64(len(in.Data)),
	}
	if err := s.engine.putPayload(ctx, key, desc, in.Data); err != nil {
		return err
	}
	s.engine.recordStored(eventlog.Event{Key: key, Owner: s.owner, Descriptor: desc, Options: opts})
	return nil
}

// StoreVersion derives version v of the blob stored under key. Payloads are
// not really transformed; the recorded hash covers the slug and the payload
// so a version never shares its original's content hash.
func (s *Storage) StoreVersion(ctx context.Context, key string, v VersionDescriptor, opts map[string]any) (string, error) {
	if key == "" {
		return "", xerrors.E(xerrors.KindInvalid, "Storage.StoreVersion", "key")
	}
	data, err := s.engine.getPayload(ctx, key)
	if err != nil {
		return "", err
	}
	base, _ := s.engine.log.LookupStored(key)
	codec := s.engine.codec
	slug := codec.Slug(v)
	versionKey := codec.VersionKey(key, v)
	desc := eventlog.Descriptor{
		Name:     base.Descriptor.Name,
		MimeType: versionMimeType(base.Descriptor.MimeType, v.Format),
		MD5:      MD5(append([]byte(slug), data...)),
		Size:     int64(len(data)),
	}
	if err := s.engine.putPayload(ctx, versionKey, desc, data); err != nil {
		return "", err
	}
	s.engine.recordStored(eventlog.Event{Key: versionKey, Owner: s.owner, Descriptor: desc, Options: opts})
	return versionKey, nil
}

// Retrieve returns the payload stored under key.
func (s *Storage) Retrieve(ctx context.Context, key string) ([]byte, error) {
	return s.engine.getPayload(ctx, key)
}

// Dispose deletes the blob stored under key.
func (s *Storage) Dispose(ctx context.Context, key string, opts map[string]any) error {
	return s.dispose(ctx, "Storage.Dispose", key, opts)
}

// DisposeVersion deletes version v of the blob stored under key.
func (s *Storage) DisposeVersion(ctx context.Context, key string, v VersionDescriptor, opts map[string]any) error {
	return s.dispose(ctx, "Storage.DisposeVersion", s.engine.codec.VersionKey(key, v), opts)
}

func (s *Storage) dispose(ctx context.Context, op, key string, opts map[string]any) error {
	if key == "" {
		return xerrors.E(xerrors.KindInvalid, op, "key")
	}
	if err := s.engine.deletePayload(ctx, key); err != nil {
		return xerrors.Wrap(xerrors.KindOf(err), op, key, err)
	}
	stored, _ := s.engine.log.LookupStored(key)
	s.engine.recordDisposed(eventlog.Event{Key: key, Owner: s.owner, Descriptor: stored.Descriptor, Options: opts})
	return nil
}

func versionMimeType(base, format string) string {
	if format == "" {
		return base
	}
	return "image/" + strings.ToLower(format)
}
