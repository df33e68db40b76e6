package archive

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
)

// ValidationResult contains the results of validating an archived run.
type ValidationResult struct {
	Valid          bool     // true if all files exist and sizes match
	TotalSize      int64    // total size from manifest
	FileCount      int      // number of files in manifest
	MissingFiles   int      // number of files that don't exist
	SizeMismatches int      // number of files with wrong size
	Errors         []string // detailed error messages
}

// Validate checks that every file listed in the run's manifest exists with
// the recorded size. It reads object attributes only.
//
// Missing files and size mismatches are reported in the result, not as an
// error. An error is returned when the manifest cannot be read or the
// bucket cannot be queried.
func Validate(ctx context.Context, bucket *blob.Bucket, runID string) (*ValidationResult, error) {
	manifest, err := ReadManifest(ctx, bucket, runID)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{
		Valid:     true,
		TotalSize: manifest.TotalSize,
		FileCount: len(manifest.Files),
		Errors:    make([]string, 0),
	}

	for _, f := range manifest.Files {
		key := Prefix(runID) + f.Object
		attrs, err := bucket.Attributes(ctx, key)
		if err != nil {
			if IsNotFound(err) {
				result.Valid = false
				result.MissingFiles++
				result.Errors = append(result.Errors, fmt.Sprintf("missing: %s", key))
				continue
			}
			return nil, fmt.Errorf("archive: check %s: %w", key, err)
		}
		if attrs.Size != f.Size {
			result.Valid = false
			result.SizeMismatches++
			result.Errors = append(result.Errors,
				fmt.Sprintf("size mismatch: %s: expected %d, got %d", key, f.Size, attrs.Size))
		}
	}
	return result, nil
}
