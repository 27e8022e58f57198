package file

import (
	"context"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ajitpratap0/porter/pkg/errors"
)

const defaultUploadPartSize = 5 * 1024 * 1024 // 5MB

// s3Store is a Store over one S3 bucket.
type s3Store struct {
	loc      Location
	client   *s3.Client
	uploader *manager.Uploader
}

func newS3Store(ctx context.Context, loc Location, args *Args) (*s3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if args.Region != "" {
		opts = append(opts, awsconfig.WithRegion(args.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to load AWS configuration")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if args.Endpoint != "" {
			o.BaseEndpoint = aws.String(args.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &s3Store{
		loc:    loc,
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = defaultUploadPartSize
		}),
	}, nil
}

func (s *s3Store) Join(elem ...string) string {
	return "s3://" + s.loc.Bucket + "/" + objectKey(append([]string{s.loc.Prefix}, elem...)...)
}

func (s *s3Store) key(path string) string {
	return ParseLocation(path).Prefix
}

func (s *s3Store) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.loc.Bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to download "+path)
	}
	return out.Body, nil
}

// Create streams the written bytes to a multipart upload. The upload
// completes when the writer is closed; Abort fails the upload, which makes
// the uploader abort the multipart upload.
func (s *s3Store) Create(ctx context.Context, path string) (ObjectWriter, error) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.loc.Bucket),
			Key:    aws.String(s.key(path)),
			Body:   pr,
		})
		_ = pr.CloseWithError(err)
		done <- err
	}()
	return &uploadWriter{pw: pw, done: done, path: path}, nil
}

type uploadWriter struct {
	pw   *io.PipeWriter
	done chan error
	path string
}

func (w *uploadWriter) Write(p []byte) (int, error) { return w.pw.Write(p) }

func (w *uploadWriter) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}
	if err := <-w.done; err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to upload to "+w.path)
	}
	return nil
}

func (w *uploadWriter) Abort(cause error) error {
	if cause == nil {
		cause = io.ErrUnexpectedEOF
	}
	_ = w.pw.CloseWithError(cause)
	<-w.done
	return nil
}

func (s *s3Store) List(ctx context.Context, prefix string) ([]string, error) {
	key := s.key(prefix)
	if key != "" {
		key += "/"
	}
	var out []string
	pager := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.loc.Bucket),
		Prefix: aws.String(key),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to list "+prefix)
		}
		for _, obj := range page.Contents {
			out = append(out, "s3://"+s.loc.Bucket+"/"+aws.ToString(obj.Key))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *s3Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.loc.Bucket),
		Key:    aws.String(s.key(path)),
	})
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeConnection, "failed to stat "+path)
	}
	return true, nil
}

func (s *s3Store) Remove(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.loc.Bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to delete "+path)
	}
	return nil
}

func (s *s3Store) Close() error { return nil }
