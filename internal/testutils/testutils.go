//go:build integration

// Package testutils provides shared test infrastructure for integration tests.
package testutils

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gocloud.dev/blob"
)

// GenerateTestData generates size bytes of deterministic data.
func GenerateTestData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}

// FarmServer stands in for the pre-signed locations of a device farm. It
// accepts PUT uploads under /uploads/ and serves artifacts under
// /artifacts/.
type FarmServer struct {
	*httptest.Server

	mu        sync.Mutex
	uploads   map[string][]byte
	artifacts map[string][]byte
}

// StartFarmServer starts a FarmServer serving artifacts, keyed by path
// below /artifacts/. The server is closed when the test ends.
func StartFarmServer(t *testing.T, artifacts map[string][]byte) *FarmServer {
	t.Helper()

	fs := &FarmServer{uploads: make(map[string][]byte), artifacts: make(map[string][]byte)}
	for name, data := range artifacts {
		fs.artifacts["/artifacts/"+name] = data
	}

	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		defer fs.mu.Unlock()

		switch r.Method {
		case http.MethodPut:
			data, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			fs.uploads[r.URL.Path] = data
		case http.MethodGet:
			data, ok := fs.artifacts[r.URL.Path]
			if !ok {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.Write(data)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(fs.Close)
	return fs
}

// Uploads returns a copy of the bodies received per upload path.
func (fs *FarmServer) Uploads() map[string][]byte {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make(map[string][]byte, len(fs.uploads))
	for k, v := range fs.uploads {
		out[k] = v
	}
	return out
}

// ArtifactURL returns the download URL of the named artifact.
func (fs *FarmServer) ArtifactURL(name string) string {
	return fs.URL + "/artifacts/" + name
}

// MinioEnv contains connection information for a Minio test environment.
type MinioEnv struct {
	Container testcontainers.Container
	Bucket    string
	BucketURL string
	Endpoint  string
	Client    *minio.Client
}

// Close terminates the Minio container.
func (e *MinioEnv) Close(ctx context.Context) error {
	if e.Container != nil {
		return e.Container.Terminate(ctx)
	}
	return nil
}

// OpenBucket opens a gocloud bucket connection to the Minio environment.
func (e *MinioEnv) OpenBucket(ctx context.Context) (*blob.Bucket, error) {
	return blob.OpenBucket(ctx, e.BucketURL)
}

// Objects lists every object below prefix with its size, read directly
// through the Minio API.
func (e *MinioEnv) Objects(ctx context.Context, prefix string) (map[string]int64, error) {
	out := make(map[string]int64)
	for obj := range e.Client.ListObjects(ctx, e.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		out[obj.Key] = obj.Size
	}
	return out, nil
}

// StartMinioContainer starts a Minio container and creates bucketName in it.
func StartMinioContainer(t *testing.T, ctx context.Context, bucketName string) *MinioEnv {
	t.Helper()

	const (
		accessKey = "minioadmin"
		secretKey = "minioadmin"
		region    = "us-east-1"
	)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     accessKey,
				"MINIO_ROOT_PASSWORD": secretKey,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("get container port: %v", err)
	}
	endpoint := fmt.Sprintf("%s:%s", host, port.Port())

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
		Region: region,
	})
	if err != nil {
		t.Fatalf("create minio client: %v", err)
	}
	if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: region}); err != nil {
		t.Fatalf("create bucket: %v", err)
	}

	// Build gocloud S3 URL with query parameters for minio
	bucketURL := fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=%s",
		bucketName, endpoint, region)

	// gocloud reads credentials from the environment.
	t.Setenv("AWS_ACCESS_KEY_ID", accessKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", secretKey)

	return &MinioEnv{
		Container: container,
		Bucket:    bucketName,
		BucketURL: bucketURL,
		Endpoint:  endpoint,
		Client:    client,
	}
}
