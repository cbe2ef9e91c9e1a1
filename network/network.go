package network

import (
	"context"
	"errors"
	"time"

	"github.com/ipfs/go-log/v2"
	"github.com/tidepool-labs/tidepool/blob"
	"github.com/tidepool-labs/tidepool/ledger"
)

// DefaultUploadTimeout is the ceiling imposed on transmitting a blob to storage nodes.
const DefaultUploadTimeout = 10 * time.Minute

var (
	// ErrRetryable is matched by errors that signal a transient client condition.
	// Resetting the client before retrying may resolve it.
	ErrRetryable = errors.New("retryable blob store client error")

	ErrFlowNotEncoded    = errors.New("write flow has not been encoded")
	ErrFlowNotRegistered = errors.New("write flow has not been registered")
	ErrFlowNotUploaded   = errors.New("write flow has not been uploaded")
)

var logger = log.Logger("tidepool/network")

type (
	// File is a file written by a WriteFlow, together with the blob it was stored in.
	// BlobID is empty until the blob has been certified.
	File struct {
		BlobID     blob.ID
		Identifier string
	}
	// RegisterOptions parameterise the storage reservation of a blob.
	RegisterOptions struct {
		// Epochs is the number of epochs storage is paid for.
		Epochs int
		// Deletable reports whether the owner may reclaim the storage before it expires.
		Deletable bool
		// Owner is the address that will own the blob object.
		Owner ledger.Address
	}
	// WriteFlow stores files as one blob through the encode, register, upload and certify steps.
	// The steps must be called in order; each returns an error if its predecessor has not completed.
	WriteFlow interface {
		Encode(context.Context) error
		Register(RegisterOptions) (ledger.Transaction, error)
		Upload(context.Context, ledger.Digest) error
		Certify() (ledger.Transaction, error)
		ListFiles(context.Context) ([]File, error)
	}
	// Quilt is a blob read from the network that may contain multiple files.
	Quilt interface {
		// Files extracts the files held by the quilt. blob.ErrNotQuilt is returned for plain blobs.
		Files(context.Context) ([]blob.Payload, error)
	}
	// Client reads and writes blobs on a blob store network.
	Client interface {
		WriteFilesFlow(files []blob.Payload) WriteFlow
		GetBlob(context.Context, blob.ID) (Quilt, error)
		ReadBlob(context.Context, blob.ID) ([]byte, error)
		// Reset discards cached connection state so that the next call starts afresh.
		Reset()
		DeleteBlobTransaction(ctx context.Context, blobObjectID ledger.ObjectID, owner ledger.Address) (ledger.Transaction, error)
	}
)

// Blob objects registered on the ledger have BlobObjectType and the following fields.
const (
	BlobObjectType = "blob::Blob"

	FieldBlobID          = "blob_id"
	FieldRoot            = "root"
	FieldSize            = "size"
	FieldDataShards      = "data_shards"
	FieldParityShards    = "parity_shards"
	FieldRegisteredEpoch = "registered_epoch"
	FieldEndEpoch        = "end_epoch"
	FieldDeletable       = "deletable"
	FieldCertified       = "certified"
	FieldCertifiedEpoch  = "certified_epoch"
)

type retryableError struct {
	err error
}

// Retryable marks err as transient; the result matches ErrRetryable.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

func (r *retryableError) Error() string {
	return r.err.Error()
}

func (r *retryableError) Unwrap() error {
	return r.err
}

func (r *retryableError) Is(target error) bool {
	return target == ErrRetryable
}

// IsRetryable reports whether err signals a transient client condition.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryable)
}
