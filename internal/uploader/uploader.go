package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ligustah/farmrun/internal/farm"
	"github.com/ligustah/farmrun/internal/poll"
)

// DefaultContentType is sent with every artifact upload.
const DefaultContentType = "application/octet-stream"

// Transfer streams a local file to a pre-signed location.
type Transfer interface {
	Put(ctx context.Context, url, path, contentType string) error
}

// Options configures a Coordinator.
type Options struct {
	// Project is the farm project the uploads belong to.
	Project string

	// ContentType is sent with the PUT request.
	// Default: application/octet-stream
	ContentType string

	// Poll controls how often the upload status is checked.
	// Default: every 3s for at most 30m
	Poll poll.Options

	// Logger receives status lines. Default: slog.Default()
	Logger *slog.Logger
}

// Coordinator performs the register, transfer, await sequence for one
// artifact at a time.
type Coordinator struct {
	svc      farm.Service
	transfer Transfer
	opts     Options
	log      *slog.Logger
}

// New creates a Coordinator.
func New(svc farm.Service, transfer Transfer, opts Options) *Coordinator {
	if opts.ContentType == "" {
		opts.ContentType = DefaultContentType
	}
	if opts.Poll.Interval == 0 {
		opts.Poll = poll.Fixed(3*time.Second, 30*time.Minute)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{svc: svc, transfer: transfer, opts: opts, log: log}
}

// Upload registers path as an artifact of the given kind named
// "<runID>-<basename>", transfers it and polls until the farm reports it as
// usable. The returned handle always has status succeeded.
//
// A failed upload cannot be resumed; calling Upload again registers a new
// artifact.
func (c *Coordinator) Upload(ctx context.Context, runID, path string, kind farm.ArtifactKind) (farm.UploadHandle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return farm.UploadHandle{}, &farm.ConfigurationError{Reason: fmt.Sprintf("artifact %s", path), Err: err}
	}

	name := runID + "-" + filepath.Base(path)
	log := c.log.With("name", name, "kind", string(kind))

	created, err := c.svc.CreateUpload(ctx, farm.CreateUploadInput{
		Project:     c.opts.Project,
		Name:        name,
		Kind:        kind,
		ContentType: c.opts.ContentType,
	})
	if err != nil {
		return farm.UploadHandle{}, fmt.Errorf("register upload %s: %w", name, err)
	}
	log.Info("upload registered", "ref", created.Ref, "size", humanize.IBytes(uint64(info.Size())))

	if err := c.transfer.Put(ctx, created.URL, path, c.opts.ContentType); err != nil {
		return farm.UploadHandle{}, fmt.Errorf("upload %s: %w", name, err)
	}
	log.Info("upload transferred", "ref", created.Ref)

	handle := farm.UploadHandle{
		Ref:    created.Ref,
		Name:   name,
		Kind:   kind,
		Status: created.Status,
	}
	current := created
	first := true

	err = poll.Until(ctx, c.opts.Poll, func(ctx context.Context) (bool, error) {
		// The registration response carries the first status.
		if !first {
			up, err := c.svc.GetUpload(ctx, created.Ref)
			if err != nil {
				return false, fmt.Errorf("get upload %s: %w", created.Ref, err)
			}
			current = up
		}
		first = false
		handle.Status = current.Status

		switch current.Status {
		case farm.UploadInitialized:
			return false, nil
		case farm.UploadSucceeded:
			return true, nil
		case farm.UploadFailed:
			return false, &farm.RemoteProcessingError{Ref: created.Ref, Name: name, Message: current.Message}
		default:
			log.Info("upload status", "status", string(current.Status))
			return false, nil
		}
	})
	if err != nil {
		return handle, fmt.Errorf("await upload %s: %w", name, err)
	}

	log.Info("upload ready", "ref", handle.Ref)
	return handle, nil
}
