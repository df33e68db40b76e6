// Package uploader registers local artifacts with the device farm, transfers
// their bytes and waits for the farm to accept them.
//
// An upload is registered under the name "<run-id>-<file>", its bytes are
// sent with a single PUT to the pre-signed URL the farm returns, and its
// status is polled until it is succeeded or failed. A failed upload is
// reported as a *farm.RemoteProcessingError carrying the farm's message.
package uploader
