package file

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ajitpratap0/porter/pkg/errors"
)

// Store is the object storage a file connector reads and writes through.
// Paths are full locations as returned by Join.
type Store interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Create(ctx context.Context, path string) (ObjectWriter, error)
	// List returns every object under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// Exists reports whether path is a single object.
	Exists(ctx context.Context, path string) (bool, error)
	Remove(ctx context.Context, path string) error
	Join(elem ...string) string
	Close() error
}

// ObjectWriter is a pending object. Close commits it; Abort discards
// whatever was written so no partial object is left behind.
type ObjectWriter interface {
	io.WriteCloser
	Abort(cause error) error
}

// Location is a parsed root. Scheme is "" for local paths.
type Location struct {
	Scheme string
	Bucket string
	Prefix string
}

// ParseLocation splits s3://bucket/prefix and gs://bucket/prefix roots.
// Anything else is a local path.
func ParseLocation(root string) Location {
	for _, scheme := range []string{"s3", "gs"} {
		if rest, ok := strings.CutPrefix(root, scheme+"://"); ok {
			bucket, prefix, _ := strings.Cut(rest, "/")
			return Location{Scheme: scheme, Bucket: bucket, Prefix: strings.Trim(prefix, "/")}
		}
	}
	return Location{Prefix: root}
}

// objectKey joins key parts with "/" and drops empty ones.
func objectKey(elem ...string) string {
	parts := make([]string, 0, len(elem))
	for _, e := range elem {
		if e = strings.Trim(e, "/"); e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, "/")
}

// localStore is a Store over the local filesystem.
type localStore struct {
	root string
}

func newLocalStore(root string) *localStore {
	return &localStore{root: root}
}

func (s *localStore) Join(elem ...string) string {
	return filepath.Join(append([]string{s.root}, elem...)...)
}

func (s *localStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open "+path)
	}
	return f, nil
}

func (s *localStore) Create(ctx context.Context, path string) (ObjectWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create directory for "+path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create "+path)
	}
	return &localWriter{File: f}, nil
}

type localWriter struct {
	*os.File
}

func (w *localWriter) Abort(cause error) error {
	_ = w.File.Close()
	if err := os.Remove(w.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to remove partial "+w.Name())
	}
	return nil
}

func (s *localStore) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(prefix, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			out = append(out, path)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to list "+prefix)
	}
	sort.Strings(out)
	return out, nil
}

func (s *localStore) Exists(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeFile, "failed to stat "+path)
	}
	return info.Mode().IsRegular(), nil
}

func (s *localStore) Remove(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to remove "+path)
	}
	return nil
}

func (s *localStore) Close() error { return nil }
