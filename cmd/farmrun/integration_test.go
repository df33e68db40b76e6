//go:build integration

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ligustah/farmrun/internal/farm"
	"github.com/ligustah/farmrun/internal/farm/farmtest"
	"github.com/ligustah/farmrun/internal/testutils"
	"github.com/ligustah/farmrun/pkg/archive"
)

func TestCLIIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	logcat := testutils.GenerateTestData(256 * 1024)
	farmServer := testutils.StartFarmServer(t, map[string][]byte{
		"0/0/0/0": logcat,
		"0/0/0/1": []byte("INSTRUMENTATION_CODE: -1\n"),
	})

	t.Log("Starting Minio container...")
	minio := testutils.StartMinioContainer(t, ctx, "farmrun-archive")
	defer func() {
		if err := minio.Close(ctx); err != nil {
			t.Logf("failed to terminate minio container: %v", err)
		}
	}()

	svc := &farmtest.Service{
		Pools:       map[string]*farm.DevicePool{poolRef: farmtest.StaticPool(poolRef, "arn:device:pixel6")},
		UploadURL:   farmServer.URL,
		RunStatuses: []farm.RunStatus{farm.RunSubmitted, farm.RunRunning, farm.RunCompleted},
		Results:     farmtest.Tree(farmServer.URL, 1, 1, 1, 2),
	}
	useService(t, svc)

	cfg := testConfig(t)
	cfg.Archive.Bucket = minio.BucketURL

	var runID string
	t.Run("run", func(t *testing.T) {
		var stdout bytes.Buffer
		if code := executeRun(ctx, cfg, discard(), &stdout, nil); code != ExitSuccess {
			t.Fatalf("run failed with exit code %d:\n%s", code, stdout.String())
		}
		runID = svc.ScheduledRuns()[0].Name

		if uploads := farmServer.Uploads(); len(uploads) != 2 {
			t.Errorf("farm received %d uploads, want 2", len(uploads))
		}

		got, err := os.ReadFile(filepath.Join(cfg.ResultsDir, runID, "Pixel6API30", "BenchTest0.0.logcat"))
		if err != nil {
			t.Fatalf("read logcat: %v", err)
		}
		if !bytes.Equal(got, logcat) {
			t.Error("downloaded logcat does not match")
		}
	})

	t.Run("archived_objects", func(t *testing.T) {
		objects, err := minio.Objects(ctx, archive.Prefix(runID))
		if err != nil {
			t.Fatalf("list objects: %v", err)
		}
		delete(objects, archive.ManifestPath(runID))

		want := map[string]int64{
			archive.Prefix(runID) + "Pixel6API30/BenchTest0.0.logcat": int64(len(logcat)),
			archive.Prefix(runID) + "Pixel6API30/BenchTest0.0.txt":    int64(len("INSTRUMENTATION_CODE: -1\n")),
			archive.Prefix(runID) + "Pixel6API30/device.json":         int64(len(`{"model":"Pixel 6","os":"10"}`)),
		}
		if diff := cmp.Diff(want, objects); diff != "" {
			t.Errorf("archived objects mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("validate", func(t *testing.T) {
		if code := runArchiveValidate([]string{"-bucket", minio.BucketURL, "-run", runID}); code != ExitSuccess {
			t.Fatalf("validate failed with exit code %d", code)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if code := runArchiveDelete([]string{"-bucket", minio.BucketURL, "-run", runID, "-force"}); code != ExitSuccess {
			t.Fatalf("delete failed with exit code %d", code)
		}
		objects, err := minio.Objects(ctx, archive.Prefix(runID))
		if err != nil {
			t.Fatalf("list objects: %v", err)
		}
		if len(objects) != 0 {
			t.Errorf("objects left after delete: %v", objects)
		}
	})
}
