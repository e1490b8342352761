package corpus

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// Backend persists raw testcase bytes keyed by fingerprint. Local disk is
// the default and the one exercised by tests; a gs:// URI switches
// corpus_directory/solutions_directory to the GCS-backed implementation
// (SPEC_FULL §11).
type Backend interface {
	Save(fingerprint string, data []byte) error
	Load(fingerprint string) ([]byte, error)
	List() ([]string, error)
}

// NewBackend picks a Backend for dir: a gs://bucket/prefix URI selects the
// GCS backend, anything else is treated as a local directory path.
func NewBackend(ctx context.Context, dir string) (Backend, error) {
	if strings.HasPrefix(dir, "gs://") {
		return newGCSBackend(ctx, dir)
	}
	return newLocalBackend(dir)
}

type localBackend struct {
	dir string
}

func newLocalBackend(dir string) (Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &localBackend{dir: dir}, nil
}

func (b *localBackend) Save(fingerprint string, data []byte) error {
	return os.WriteFile(filepath.Join(b.dir, fingerprint), data, 0o644)
}

func (b *localBackend) Load(fingerprint string) ([]byte, error) {
	return os.ReadFile(filepath.Join(b.dir, fingerprint))
}

func (b *localBackend) List() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// gcsBackend stores each entry as an object named <prefix>/<fingerprint> in
// a GCS bucket, using cloud.google.com/go/storage directly.
type gcsBackend struct {
	ctx    context.Context
	client *storage.Client
	bucket string
	prefix string
}

func newGCSBackend(ctx context.Context, uri string) (Backend, error) {
	rest := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(rest, "/", 2)
	bucket := parts[0]
	prefix := ""
	if len(parts) > 1 {
		prefix = parts[1]
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &gcsBackend{ctx: ctx, client: client, bucket: bucket, prefix: prefix}, nil
}

func (b *gcsBackend) objectName(fingerprint string) string {
	if b.prefix == "" {
		return fingerprint
	}
	return b.prefix + "/" + fingerprint
}

func (b *gcsBackend) Save(fingerprint string, data []byte) error {
	w := b.client.Bucket(b.bucket).Object(b.objectName(fingerprint)).NewWriter(b.ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (b *gcsBackend) Load(fingerprint string) ([]byte, error) {
	r, err := b.client.Bucket(b.bucket).Object(b.objectName(fingerprint)).NewReader(b.ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (b *gcsBackend) List() ([]string, error) {
	it := b.client.Bucket(b.bucket).Objects(b.ctx, &storage.Query{Prefix: b.prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		name := attrs.Name
		if b.prefix != "" {
			name = strings.TrimPrefix(name, b.prefix+"/")
		}
		names = append(names, name)
	}
	return names, nil
}
