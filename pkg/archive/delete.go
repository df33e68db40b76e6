package archive

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
)

// Delete removes an archived run: every file in the manifest, then the
// manifest. Files that are already gone are ignored, so an interrupted
// Delete can be repeated.
func Delete(ctx context.Context, bucket *blob.Bucket, runID string) error {
	manifest, err := ReadManifest(ctx, bucket, runID)
	if err != nil {
		return err
	}

	for _, f := range manifest.Files {
		key := Prefix(runID) + f.Object
		if err := bucket.Delete(ctx, key); err != nil && !IsNotFound(err) {
			return fmt.Errorf("archive: delete %s: %w", key, err)
		}
	}

	if err := bucket.Delete(ctx, ManifestPath(runID)); err != nil {
		return fmt.Errorf("archive: delete manifest: %w", err)
	}
	return nil
}
