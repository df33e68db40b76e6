// Package archive mirrors a finished run's result directory into object
// storage and checks or removes the mirrored copy later.
//
// The package is storage-agnostic via gocloud.dev/blob.
//
// # Storage Layout
//
//	{bucket}/{run-id}/{job}/device.json
//	{bucket}/{run-id}/{job}/{test}.{ext}
//	{bucket}/{run-id}/manifest.json        (written last)
//
// # Manifest Format
//
//	{
//	  "run_id": "small-hw-support-2024-03-07-090502",
//	  "total_size": 48213,
//	  "files": [
//	    {"object": "Pixel6API31/BenchTest0.0.logcat", "size": 40960, "checksum": "..."},
//	    ...
//	  ],
//	  "completed_at": "2024-03-07T10:12:44Z"
//	}
//
// Checksums are hex encoded SHA-256 digests of the file contents.
package archive
