package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// ManifestObject is the name of the manifest inside a run's prefix.
const ManifestObject = "manifest.json"

// ErrEmptyRun is returned by Write when the run directory holds no files.
var ErrEmptyRun = errors.New("archive: run directory is empty")

// Manifest describes an archived run.
type Manifest struct {
	RunID       string            `json:"run_id"`
	TotalSize   int64             `json:"total_size"`
	Files       []FileInfo        `json:"files"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
}

// FileInfo describes one archived file. Object is relative to the run's
// prefix and always uses forward slashes.
type FileInfo struct {
	Object   string `json:"object"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// Options configures Write.
type Options struct {
	Skip     func(name string) bool
	Metadata map[string]string
	Now      func() time.Time
}

// Option is a functional option for Write.
type Option func(*Options)

// WithSkip excludes files whose base name matches skip.
func WithSkip(skip func(name string) bool) Option {
	return func(o *Options) {
		o.Skip = skip
	}
}

// WithMetadata sets caller-defined metadata stored in the manifest.
func WithMetadata(metadata map[string]string) Option {
	return func(o *Options) {
		o.Metadata = metadata
	}
}

// WithNow overrides the completion timestamp source.
func WithNow(now func() time.Time) Option {
	return func(o *Options) {
		o.Now = now
	}
}

// Prefix returns the object prefix of a run.
func Prefix(runID string) string {
	return runID + "/"
}

// ManifestPath returns the manifest key of a run.
func ManifestPath(runID string) string {
	return Prefix(runID) + ManifestObject
}

// Write mirrors every file under localDir to <runID>/<relative path> in
// bucket and then writes the manifest. The manifest is written last, so a
// run without a manifest is incomplete and can be rewritten.
func Write(ctx context.Context, bucket *blob.Bucket, runID, localDir string, opts ...Option) (*Manifest, error) {
	if runID == "" || strings.ContainsAny(runID, `/\`) {
		return nil, fmt.Errorf("archive: invalid run id %q", runID)
	}
	o := Options{Now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	var files []string
	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if o.Skip != nil && o.Skip(d.Name()) {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: walk %s: %w", localDir, err)
	}
	if len(files) == 0 {
		return nil, ErrEmptyRun
	}
	sort.Strings(files)

	manifest := &Manifest{RunID: runID, Metadata: o.Metadata}
	for _, p := range files {
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
		object := filepath.ToSlash(rel)
		if object == ManifestObject {
			return nil, fmt.Errorf("archive: %s collides with the manifest", p)
		}

		info, err := putFile(ctx, bucket, Prefix(runID)+object, p)
		if err != nil {
			return nil, err
		}
		info.Object = object
		manifest.Files = append(manifest.Files, info)
		manifest.TotalSize += info.Size
	}

	manifest.CompletedAt = o.Now().UTC()
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("archive: marshal manifest: %w", err)
	}
	if err := bucket.WriteAll(ctx, ManifestPath(runID), data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return nil, fmt.Errorf("archive: write manifest: %w", err)
	}
	return manifest, nil
}

func putFile(ctx context.Context, bucket *blob.Bucket, key, localPath string) (FileInfo, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("archive: %w", err)
	}
	defer f.Close()

	// Canceling ctx before Close aborts the write, so no partial object is
	// committed.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := bucket.NewWriter(wctx, key, &blob.WriterOptions{ContentType: contentType(localPath)})
	if err != nil {
		return FileInfo{}, fmt.Errorf("archive: create %s: %w", key, err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, h), f)
	if err != nil {
		cancel()
		w.Close()
		return FileInfo{}, fmt.Errorf("archive: write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return FileInfo{}, fmt.Errorf("archive: commit %s: %w", key, err)
	}
	return FileInfo{Size: n, Checksum: hex.EncodeToString(h.Sum(nil))}, nil
}

func contentType(p string) string {
	switch path.Ext(filepath.ToSlash(p)) {
	case ".json":
		return "application/json"
	default:
		return "text/plain; charset=utf-8"
	}
}

// ReadManifest reads the manifest of an archived run. A missing manifest
// wraps gcerrors.NotFound.
func ReadManifest(ctx context.Context, bucket *blob.Bucket, runID string) (*Manifest, error) {
	data, err := bucket.ReadAll(ctx, ManifestPath(runID))
	if err != nil {
		return nil, fmt.Errorf("archive: read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("archive: unmarshal manifest: %w", err)
	}
	return &manifest, nil
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
