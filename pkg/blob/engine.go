package blob

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"go.uber.org/zap"

	"github.com/jacktea/blobcheck/pkg/eventlog"
	"github.com/jacktea/blobcheck/pkg/xerrors"
)

// DefaultBucket holds payloads written through a TestEngine.
const DefaultBucket = "blobcheck"

// EngineOptions configure a TestEngine.
type EngineOptions struct {
	Bucket string
	Codec  Codec
	Logger *zap.Logger
}

// TestEngine is the fake storage backend. Payloads live in an in-memory S3
// bucket and every store/dispose is recorded in the engine's event log.
type TestEngine struct {
	mu      sync.RWMutex
	backend gofakes3.Backend
	bucket  string
	codec   Codec
	log     *eventlog.Log
	logger  *zap.Logger
}

// NewTestEngine returns an engine with an empty log and an empty bucket.
func NewTestEngine(opts EngineOptions) (*TestEngine, error) {
	if opts.Bucket == "" {
		opts.Bucket = DefaultBucket
	}
	if err := gofakes3.ValidateBucketName(opts.Bucket); err != nil {
		return nil, xerrors.Wrap(xerrors.KindInvalid, "blob.NewTestEngine", opts.Bucket, err)
	}
	if opts.Codec == nil {
		opts.Codec = DefaultCodec{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	e := &TestEngine{
		bucket: opts.Bucket,
		codec:  opts.Codec,
		log:    eventlog.New(),
		logger: opts.Logger.Named("testengine"),
	}
	if err := e.resetBackend(); err != nil {
		return nil, err
	}
	return e, nil
}

// Log returns the engine's event log.
func (e *TestEngine) Log() *eventlog.Log { return e.log }

// Codec returns the key codec used for version keys.
func (e *TestEngine) Codec() Codec { return e.codec }

// Bucket returns the name of the payload bucket.
func (e *TestEngine) Bucket() string { return e.bucket }

// Backend returns the in-memory S3 backend currently holding payloads. Reset
// replaces it, so callers should not keep the result across resets.
func (e *TestEngine) Backend() gofakes3.Backend { return e.s3() }

// NewStorage returns a storage instance with a fresh owner identity.
func (e *TestEngine) NewStorage() *Storage {
	return newStorage(e)
}

// Reset clears the event log and drops every payload.
func (e *TestEngine) Reset() error {
	e.log.Reset()
	return e.resetBackend()
}

// Archive saves the current log into archive under name.
func (e *TestEngine) Archive(ctx context.Context, archive *eventlog.Archive, name string) error {
	return archive.Save(ctx, name, e.log)
}

func (e *TestEngine) resetBackend() error {
	backend := s3mem.New()
	if err := backend.CreateBucket(e.bucket); err != nil {
		return xerrors.Wrap(xerrors.KindInternal, "TestEngine.reset", e.bucket, err)
	}
	e.mu.Lock()
	e.backend = backend
	e.mu.Unlock()
	return nil
}

func (e *TestEngine) s3() gofakes3.Backend {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.backend
}

func (e *TestEngine) putPayload(ctx context.Context, key string, desc eventlog.Descriptor, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	meta := map[string]string{
		"Content-Type":    desc.MimeType,
		"X-Amz-Meta-Name": desc.Name,
	}
	if _, err := e.s3().PutObject(e.bucket, key, meta, bytes.NewReader(data), int64(len(data)), nil); err != nil {
		return xerrors.Wrap(xerrors.KindInternal, "TestEngine.put", key, err)
	}
	return nil
}

func (e *TestEngine) getPayload(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	obj, err := e.s3().GetObject(e.bucket, key, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindNotFound, "TestEngine.get", key, err)
	}
	defer obj.Contents.Close()
	data, err := io.ReadAll(obj.Contents)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "TestEngine.get", key, err)
	}
	return data, nil
}

func (e *TestEngine) hasPayload(key string) bool {
	_, err := e.s3().HeadObject(e.bucket, key)
	return err == nil
}

func (e *TestEngine) deletePayload(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !e.hasPayload(key) {
		return xerrors.E(xerrors.KindNotFound, "TestEngine.delete", key)
	}
	if _, err := e.s3().DeleteObject(e.bucket, key); err != nil {
		return xerrors.Wrap(xerrors.KindInternal, "TestEngine.delete", key, err)
	}
	return nil
}

func (e *TestEngine) recordStored(ev eventlog.Event) {
	e.log.RecordStored(ev)
	e.logger.Debug("recorded store",
		zap.String("key", ev.Key),
		zap.String("owner", string(ev.Owner)),
		zap.String("name", ev.Descriptor.Name),
		zap.Bool("options", ev.Options != nil),
	)
}

func (e *TestEngine) recordDisposed(ev eventlog.Event) {
	e.log.RecordDisposed(ev)
	e.logger.Debug("recorded dispose",
		zap.String("key", ev.Key),
		zap.String("owner", string(ev.Owner)),
		zap.String("name", ev.Descriptor.Name),
	)
}
