// Package http moves artifact bytes to and from a device farm.
//
// This package handles:
//   - PUT of a local file to a pre-signed upload location
//   - GET of result artifacts, retried with exponential backoff
//   - Connection pooling for parallel downloads
//   - TransferError with the server's status and reason phrase
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	// Upload a package
//	err := client.Put(ctx, upload.URL, "app-debug.apk", "application/octet-stream")
//
//	// Fetch an artifact
//	body, err := client.Get(ctx, artifact.URL)
//	defer body.Close()
package http
