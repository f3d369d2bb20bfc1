// Package folderstatus implements component G: the folder-status
// broadcaster primitive and the emit_folder_status decorator (§4.G).
package folderstatus

import (
	"context"
	"fmt"

	"github.com/orbimport/importsvc/internal/errorsx"
)

// Status is the unordered folder-status enum of spec §3.
type Status string

const (
	Unknown    Status = "UNKNOWN"
	Failed     Status = "FAILED"
	NotStarted Status = "NOT_STARTED"
	Pending    Status = "PENDING"
	Previewing Status = "PREVIEWING"
	Tagged     Status = "TAGGED"
	Importing  Status = "IMPORTING"
	Imported   Status = "IMPORTED"
	Deleting   Status = "DELETING"
	Deleted    Status = "DELETED"
)

// Channel is the broker topic folder-status updates are published on
// (§4.I's example channel name).
const Channel = "folder:status"

// Update is the wire payload of one transition (§6.4
// FolderStatusUpdate).
type Update struct {
	Hash   string                      `json:"hash"`
	Path   string                      `json:"path"`
	Status Status                      `json:"status"`
	Exc    *errorsx.SerializedException `json:"exception,omitempty"`
}

// publisher is the narrow capability Broadcaster needs from
// pubsub.Publisher — kept as an interface so tests can substitute an
// in-memory fake instead of a live Redis connection.
type publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// Broadcaster sends folder-status updates over a pubsub.Publisher (§4.G
// send_folder_status_update, implemented via the generic pub/sub
// primitive of §4.I rather than a bespoke channel).
type Broadcaster struct {
	pub publisher
}

// New wraps a Publisher for folder-status traffic specifically.
func New(pub publisher) *Broadcaster {
	return &Broadcaster{pub: pub}
}

// Send publishes one status transition as a single Redis PUBLISH.
// Delivery is best effort: there is no ack or retry, a listener that is
// not subscribed at that moment misses it, and internal/pubsub drops
// messages when a hub's or client's buffer is full. Order is preserved per hash because
// Send is always called synchronously from the single worker owning that
// folder's session.
func (b *Broadcaster) Send(ctx context.Context, hash, path string, status Status, exc error) error {
	u := Update{Hash: hash, Path: path, Status: status}
	if exc != nil {
		u.Exc = errorsx.Serialize(exc)
	}
	if err := b.pub.Publish(ctx, Channel, u); err != nil {
		return fmt.Errorf("folderstatus: publish: %w", err)
	}
	return nil
}

// WorkerFunc is the shape of a stage-like function EmitFolderStatus wraps:
// it receives the folder identity and returns an error (nil on success).
type WorkerFunc func(ctx context.Context, hash, path string) error

// Emit decorates fn with the before/after/FAILED status emission of
// §4.G's emit_folder_status: emits before on entry, after on normal
// return, FAILED (carrying the error) on failure, then re-raises so an
// outer exception-as-value wrapper can still convert it.
func (b *Broadcaster) Emit(before, after Status) func(WorkerFunc) WorkerFunc {
	return func(fn WorkerFunc) WorkerFunc {
		return func(ctx context.Context, hash, path string) error {
			if err := b.Send(ctx, hash, path, before, nil); err != nil {
				return err
			}
			if err := fn(ctx, hash, path); err != nil {
				if sendErr := b.Send(ctx, hash, path, Failed, err); sendErr != nil {
					return fmt.Errorf("%w (and folderstatus send failed: %v)", err, sendErr)
				}
				return err
			}
			return b.Send(ctx, hash, path, after, nil)
		}
	}
}
