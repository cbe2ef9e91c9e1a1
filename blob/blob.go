package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/ipfs/go-log/v2"
)

var (
	ErrBlobNotFound   = errors.New("no blob is found with given ID")
	ErrBlobTooLarge   = errors.New("blob size exceeds the maximum allowed")
	ErrNotEnoughSpace = errors.New("insufficient local storage space remaining")
	ErrMissingBlobID  = errors.New("failed to get blob ID from upload result")
	ErrNotQuilt       = errors.New("blob is not a quilt")
)

var (
	logger = log.Logger("tidepool/blob")
)

type (
	// ID is the content-derived identifier assigned to a blob once it is certified.
	ID string
	// Payload is a named byte sequence to be stored as one file of a blob.
	Payload struct {
		// Identifier is the logical name of the payload within the blob.
		Identifier string
		// Data is the raw content.
		Data []byte
	}
	// UploadResult is returned by a fully completed upload.
	UploadResult struct {
		BlobID ID    `json:"blobId"`
		Size   int64 `json:"size"`
	}
	// HistoryEntry records one successful upload for later display.
	HistoryEntry struct {
		UploadResult
		FileName   string    `json:"fileName"`
		UploadDate time.Time `json:"uploadDate"`
	}
	// Descriptor describes an object held by a Store.
	Descriptor struct {
		// Key is the name under which the object is stored.
		Key string
		// Size is the size of the object in bytes.
		Size uint64
		// ModificationTime is the latest time at which the object was modified.
		ModificationTime time.Time
	}
	// Store persists opaque objects by key. Storage nodes of the local network are Stores.
	Store interface {
		Put(context.Context, string, io.Reader) (*Descriptor, error)
		Describe(context.Context, string) (*Descriptor, error)
		Get(context.Context, string) (io.ReadSeekCloser, error)
		Remove(context.Context, string) error
		List(context.Context) ([]string, error)
	}
)

// NewPayload instantiates a Payload, copying data so that later changes by the caller are not observed.
func NewPayload(identifier string, data []byte) Payload {
	cp := make([]byte, len(data))
	copy(cp, data)
	return Payload{Identifier: identifier, Data: cp}
}

// ParseID trims surrounding whitespace from v and validates that the remainder is a usable blob ID.
func ParseID(v string) (ID, error) {
	var id ID
	if err := id.Decode(v); err != nil {
		return "", err
	}
	return id, nil
}

// String returns the string representation of ID.
func (i ID) String() string {
	return string(i)
}

// Decode instantiates the ID from the decoded string value.
func (i *ID) Decode(v string) error {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return &ValidationError{Field: "blob ID", Reason: "empty string"}
	}
	*i = ID(clean)
	return nil
}
