package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/btdt-ci/btdt/internal/cacheerr"
)

// S3Storage is a Storage realization backed by an S3 bucket, an addition
// beyond spec §4.1's mandated filesystem/in-memory pair (see
// SPEC_FULL.md §4.1). Grounded on the teacher's own go.mod: gobuildcache
// is itself an S3-capable Go build cache, so this reuses
// aws-sdk-go-v2/service/s3 for the same purpose in this domain — durable,
// off-box storage for a named cache without running a dedicated cache
// server.
//
// Object keys are namespaced under prefix the same way FilesystemStorage
// is rooted at a directory. Writes buffer to a local temp file (bounded
// by disk, not process memory) and are committed with a single
// PutObject once the caller closes the writer, giving the same
// "nothing visible until Close succeeds" semantics as the staged-file
// filesystem backend, since S3 has no rename primitive to build atomic
// commit on top of.
type S3Storage struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Storage creates a storage backend rooted at bucket/prefix using
// the default AWS credential chain (environment, shared config, IMDS).
func NewS3Storage(ctx context.Context, bucket, prefix string) (*S3Storage, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, cacheerr.Wrap(cacheerr.KindIO, "load AWS config", err)
	}
	return &S3Storage{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (s *S3Storage) objectKey(p string) string {
	p = strings.TrimPrefix(p, "/")
	if s.prefix == "" {
		return p
	}
	return s.prefix + "/" + p
}

func (s *S3Storage) Exists(p string) (bool, error) {
	ctx := context.Background()
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(p)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, cacheerr.Wrap(cacheerr.KindIO, "head "+p, err)
}

func (s *S3Storage) Open(p string) (io.ReadCloser, int64, error) {
	ctx := context.Background()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(p)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, 0, cacheerr.Wrap(cacheerr.KindNotFound, "get "+p, err)
		}
		return nil, 0, cacheerr.Wrap(cacheerr.KindIO, "get "+p, err)
	}
	size := int64(0)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}

func (s *S3Storage) Create(p string) (WriteCloser, error) {
	tmp, err := os.CreateTemp("", "btdt-s3-staging-*")
	if err != nil {
		return nil, cacheerr.Wrap(cacheerr.KindIO, "create local staging file", err)
	}
	return &s3Writer{s3: s, key: s.objectKey(p), tmp: tmp}, nil
}

func (s *S3Storage) Remove(p string) error {
	ctx := context.Background()
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(p)),
	})
	if err != nil {
		return cacheerr.Wrap(cacheerr.KindIO, "delete "+p, err)
	}
	return nil
}

func (s *S3Storage) List(prefix string) ([]Entry, error) {
	ctx := context.Background()
	key := s.objectKey(prefix)
	if key != "" && !strings.HasSuffix(key, "/") {
		key += "/"
	}
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(key),
		Delimiter: aws.String("/"),
	})

	var out []Entry
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, cacheerr.Wrap(cacheerr.KindIO, "list "+prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), key), "/")
			out = append(out, Entry{Name: name, Type: EntryDir})
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), key)
			if name == "" {
				continue
			}
			out = append(out, Entry{Name: name, Type: EntryFile, Size: aws.ToInt64(obj.Size)})
		}
	}
	return out, nil
}

func (s *S3Storage) Stat(p string) (Info, error) {
	ctx := context.Background()
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(p)),
	})
	if err != nil {
		if isNotFound(err) {
			return Info{}, cacheerr.Wrap(cacheerr.KindNotFound, "head "+p, err)
		}
		return Info{}, cacheerr.Wrap(cacheerr.KindIO, "head "+p, err)
	}
	info := Info{Size: aws.ToInt64(out.ContentLength)}
	if out.LastModified != nil {
		info.LastAccess = *out.LastModified
	}
	return info, nil
}

// Touch re-uploads the object's own bytes to bump its LastModified time,
// used by S3Storage in lieu of a native last-access timestamp: S3
// doesn't expose or let callers set atime, only LastModified, and
// updating that is the closest approximation available. Cheap for the
// small metadata records this backend is used for; not recommended for
// touching multi-gigabyte blobs on every Get.
func (s *S3Storage) Touch(p string) error {
	ctx := context.Background()
	key := s.objectKey(p)
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(s.bucket + "/" + key),
		MetadataDirective: types.MetadataDirectiveReplace,
	})
	if err != nil {
		if isNotFound(err) {
			return cacheerr.Wrap(cacheerr.KindNotFound, "touch "+p, err)
		}
		return cacheerr.Wrap(cacheerr.KindIO, "touch "+p, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 404
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}

type s3Writer struct {
	s3  *S3Storage
	key string
	tmp *os.File
}

func (w *s3Writer) Write(p []byte) (int, error) {
	n, err := w.tmp.Write(p)
	if err != nil {
		return n, cacheerr.Wrap(cacheerr.KindIO, "write local staging file", err)
	}
	return n, nil
}

func (w *s3Writer) Close() error {
	defer os.Remove(w.tmp.Name())

	if _, err := w.tmp.Seek(0, io.SeekStart); err != nil {
		w.tmp.Close()
		return cacheerr.Wrap(cacheerr.KindIO, "rewind staging file", err)
	}
	info, err := w.tmp.Stat()
	if err != nil {
		w.tmp.Close()
		return cacheerr.Wrap(cacheerr.KindIO, "stat staging file", err)
	}

	var body io.Reader = w.tmp
	if info.Size() == 0 {
		body = bytes.NewReader(nil)
	}

	ctx := context.Background()
	_, err = w.s3.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(w.s3.bucket),
		Key:           aws.String(w.key),
		Body:          body,
		ContentLength: aws.Int64(info.Size()),
	})
	closeErr := w.tmp.Close()
	if err != nil {
		return cacheerr.Wrap(cacheerr.KindIO, "put object "+w.key, err)
	}
	if closeErr != nil {
		return cacheerr.Wrap(cacheerr.KindIO, "close staging file", closeErr)
	}
	return nil
}
