package file

import (
	"context"
	"io"
	"sort"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/porter/pkg/errors"
)

// gcsStore is a Store over one Cloud Storage bucket.
type gcsStore struct {
	loc    Location
	client *storage.Client
	bucket *storage.BucketHandle
}

func newGCSStore(ctx context.Context, loc Location, args *Args) (*gcsStore, error) {
	var opts []option.ClientOption
	if args.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(args.CredentialsFile))
	}
	if args.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(args.Endpoint))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create GCS client")
	}
	return &gcsStore{loc: loc, client: client, bucket: client.Bucket(loc.Bucket)}, nil
}

func (s *gcsStore) Join(elem ...string) string {
	return "gs://" + s.loc.Bucket + "/" + objectKey(append([]string{s.loc.Prefix}, elem...)...)
}

func (s *gcsStore) object(path string) *storage.ObjectHandle {
	return s.bucket.Object(ParseLocation(path).Prefix)
}

func (s *gcsStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := s.object(path).NewReader(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to download "+path)
	}
	return r, nil
}

// Create returns a writer that commits on Close. Abort cancels the writer's
// context, which discards the upload.
func (s *gcsStore) Create(ctx context.Context, path string) (ObjectWriter, error) {
	ctx, cancel := context.WithCancel(ctx)
	return &gcsWriter{Writer: s.object(path).NewWriter(ctx), cancel: cancel}, nil
}

type gcsWriter struct {
	*storage.Writer
	cancel context.CancelFunc
}

func (w *gcsWriter) Close() error {
	defer w.cancel()
	return w.Writer.Close()
}

func (w *gcsWriter) Abort(cause error) error {
	w.cancel()
	_ = w.Writer.Close()
	return nil
}

func (s *gcsStore) List(ctx context.Context, prefix string) ([]string, error) {
	key := ParseLocation(prefix).Prefix
	if key != "" {
		key += "/"
	}
	var out []string
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: key})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to list "+prefix)
		}
		out = append(out, "gs://"+s.loc.Bucket+"/"+attrs.Name)
	}
	sort.Strings(out)
	return out, nil
}

func (s *gcsStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.object(path).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeConnection, "failed to stat "+path)
	}
	return true, nil
}

func (s *gcsStore) Remove(ctx context.Context, path string) error {
	err := s.object(path).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to delete "+path)
	}
	return nil
}

func (s *gcsStore) Close() error { return s.client.Close() }
