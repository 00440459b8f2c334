package s3gw

import (
	"context"
	"crypto/md5"
	"io"
	"path"
	"strings"
	"time"

	"github.com/johannesboyne/gofakes3"

	"github.com/jacktea/blobcheck/pkg/blob"
	"github.com/jacktea/blobcheck/pkg/match"
	"github.com/jacktea/blobcheck/pkg/xerrors"
)

const (
	metaPrefix = "X-Amz-Meta-"
	metaName   = "name"
)

// Backend implements gofakes3.Backend on top of one storage instance. Writes
// and deletes go through the instance so they land in the engine's event
// log; reads are served straight from the engine's payload bucket.
type Backend struct {
	storage *blob.Storage
}

var _ gofakes3.Backend = (*Backend)(nil)

// NewBackend records every write through storage.
func NewBackend(storage *blob.Storage) *Backend {
	return &Backend{storage: storage}
}

func (b *Backend) bucket() string { return b.storage.Engine().Bucket() }

func (b *Backend) payloads() gofakes3.Backend { return b.storage.Engine().Backend() }

func (b *Backend) ensureBucket(name string) error {
	if name != b.bucket() {
		return gofakes3.BucketNotFound(name)
	}
	return nil
}

func (b *Backend) ListBuckets() ([]gofakes3.BucketInfo, error) {
	return b.payloads().ListBuckets()
}

func (b *Backend) ListBucket(name string, prefix *gofakes3.Prefix, page gofakes3.ListBucketPage) (*gofakes3.ObjectList, error) {
	if err := b.ensureBucket(name); err != nil {
		return nil, err
	}
	return b.payloads().ListBucket(name, prefix, page)
}

// CreateBucket only accepts the engine's own bucket, which always exists.
func (b *Backend) CreateBucket(name string) error {
	if err := gofakes3.ValidateBucketName(name); err != nil {
		return err
	}
	if name == b.bucket() {
		return gofakes3.ResourceError(gofakes3.ErrBucketAlreadyExists, name)
	}
	return gofakes3.ResourceError(gofakes3.ErrNotImplemented, name)
}

func (b *Backend) BucketExists(name string) (bool, error) {
	return name == b.bucket(), nil
}

func (b *Backend) DeleteBucket(name string) error {
	if err := b.ensureBucket(name); err != nil {
		return err
	}
	return gofakes3.ResourceError(gofakes3.ErrNotImplemented, name)
}

func (b *Backend) ForceDeleteBucket(name string) error {
	return b.DeleteBucket(name)
}

func (b *Backend) GetObject(bucket, object string, rangeRequest *gofakes3.ObjectRangeRequest) (*gofakes3.Object, error) {
	if err := b.ensureBucket(bucket); err != nil {
		return nil, err
	}
	return b.payloads().GetObject(bucket, object, rangeRequest)
}

func (b *Backend) HeadObject(bucket, object string) (*gofakes3.Object, error) {
	if err := b.ensureBucket(bucket); err != nil {
		return nil, err
	}
	return b.payloads().HeadObject(bucket, object)
}

// DeleteObject disposes object. Deleting a missing key succeeds without
// recording anything, as S3 does.
func (b *Backend) DeleteObject(bucket, object string) (gofakes3.ObjectDeleteResult, error) {
	if err := b.ensureBucket(bucket); err != nil {
		return gofakes3.ObjectDeleteResult{}, err
	}
	if err := b.storage.Dispose(context.Background(), object, nil); err != nil && !xerrors.IsNotFound(err) {
		return gofakes3.ObjectDeleteResult{}, err
	}
	return gofakes3.ObjectDeleteResult{}, nil
}

// PutObject stores input under key. X-Amz-Meta-* headers other than Name
// become the recorded options.
func (b *Backend) PutObject(bucket, key string, meta map[string]string, input io.Reader, _ int64, _ *gofakes3.PutConditions) (gofakes3.PutObjectResult, error) {
	if err := b.ensureBucket(bucket); err != nil {
		return gofakes3.PutObjectResult{}, err
	}
	data, err := io.ReadAll(input)
	if err != nil {
		return gofakes3.PutObjectResult{}, err
	}
	if err := b.store(key, meta, data); err != nil {
		return gofakes3.PutObjectResult{}, err
	}
	return gofakes3.PutObjectResult{}, nil
}

func (b *Backend) DeleteMulti(bucket string, objects ...string) (gofakes3.MultiDeleteResult, error) {
	if err := b.ensureBucket(bucket); err != nil {
		return gofakes3.MultiDeleteResult{}, err
	}
	var result gofakes3.MultiDeleteResult
	for _, key := range objects {
		if _, err := b.DeleteObject(bucket, key); err != nil {
			result.Error = append(result.Error, gofakes3.ErrorResultFromError(err))
		} else {
			result.Deleted = append(result.Deleted, gofakes3.ObjectID{Key: key})
		}
	}
	return result, result.AsError()
}

// CopyObject records the copy as a fresh store under dstKey.
func (b *Backend) CopyObject(srcBucket, srcKey, dstBucket, dstKey string, meta map[string]string) (gofakes3.CopyObjectResult, error) {
	if err := b.ensureBucket(srcBucket); err != nil {
		return gofakes3.CopyObjectResult{}, err
	}
	if err := b.ensureBucket(dstBucket); err != nil {
		return gofakes3.CopyObjectResult{}, err
	}
	data, err := b.storage.Retrieve(context.Background(), srcKey)
	if err != nil {
		if xerrors.IsNotFound(err) {
			return gofakes3.CopyObjectResult{}, gofakes3.KeyNotFound(srcKey)
		}
		return gofakes3.CopyObjectResult{}, err
	}
	if err := b.store(dstKey, meta, data); err != nil {
		return gofakes3.CopyObjectResult{}, err
	}
	sum := md5.Sum(data)
	return gofakes3.CopyObjectResult{
		ETag:         gofakes3.FormatETag(sum[:]),
		LastModified: gofakes3.NewContentTime(time.Now()),
	}, nil
}

func (b *Backend) store(key string, meta map[string]string, data []byte) error {
	name, opts := splitMeta(meta)
	if name == "" {
		base, _, _ := strings.Cut(key, blob.VersionSeparator)
		name = path.Base(base)
	}
	in := blob.BlobInput{Name: name, MimeType: meta["Content-Type"], Data: data}
	return b.storage.StoreAt(context.Background(), key, in, opts)
}

// splitMeta pulls the blob name out of user metadata and turns the rest into
// options. It returns nil options when no user metadata was sent.
func splitMeta(meta map[string]string) (string, match.Options) {
	var (
		name string
		opts match.Options
	)
	for k, v := range meta {
		if len(k) <= len(metaPrefix) || !strings.EqualFold(k[:len(metaPrefix)], metaPrefix) {
			continue
		}
		key := strings.ToLower(k[len(metaPrefix):])
		if key == metaName {
			name = v
			continue
		}
		if opts == nil {
			opts = match.Options{}
		}
		opts[key] = match.ParseValue(v)
	}
	return name, opts
}
