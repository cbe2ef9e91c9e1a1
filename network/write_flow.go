package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/tidepool-labs/tidepool/blob"
	"github.com/tidepool-labs/tidepool/ledger"
)

var _ WriteFlow = (*localWriteFlow)(nil)

type localWriteFlow struct {
	network  *Local
	files    []blob.Payload
	encoded  *blob.Encoded
	register ledger.Transaction
	objectID ledger.ObjectID
}

func (f *localWriteFlow) Encode(_ context.Context) error {
	if len(f.files) == 0 {
		return &blob.EncodingError{Err: errors.New("no files to write")}
	}
	content, err := blob.EncodeQuilt(f.files)
	if err != nil {
		return &blob.EncodingError{Err: err}
	}
	encoded, err := blob.Encode(content, blob.WithShards(f.network.dataShards, f.network.parityShards))
	if err != nil {
		return err
	}
	f.encoded = encoded
	return nil
}

func (f *localWriteFlow) Register(opts RegisterOptions) (ledger.Transaction, error) {
	if f.encoded == nil {
		return nil, ErrFlowNotEncoded
	}
	if opts.Epochs <= 0 {
		return nil, &blob.ValidationError{Field: "epochs", Reason: "must be positive"}
	}
	if opts.Owner == "" {
		return nil, &blob.ValidationError{Field: "owner", Reason: "empty address"}
	}
	tx, err := ledger.NewTransaction(ledger.Call{
		Function: fnRegister,
		Args: map[string]string{
			FieldBlobID:       string(f.encoded.ID),
			FieldRoot:         f.encoded.Root.String(),
			FieldSize:         strconv.FormatInt(f.encoded.Size, 10),
			FieldDataShards:   strconv.Itoa(f.encoded.DataShards),
			FieldParityShards: strconv.Itoa(f.encoded.ParityShards),
			FieldDeletable:    strconv.FormatBool(opts.Deletable),
			"epochs":          strconv.Itoa(opts.Epochs),
			"owner":           string(opts.Owner),
			"nonce":           uuid.NewString(),
		},
	})
	if err != nil {
		return nil, err
	}
	f.register = tx
	return tx, nil
}

// Upload waits for the registration to execute and then distributes slivers across storage nodes.
// At least as many slivers as there are data shards must be stored for the upload to succeed.
func (f *localWriteFlow) Upload(ctx context.Context, digest ledger.Digest) error {
	if f.register == nil {
		return ErrFlowNotRegistered
	}
	receipt, err := f.network.ledger.WaitForTransaction(ctx, digest)
	if err != nil {
		return err
	}
	var objectID ledger.ObjectID
	for _, id := range receipt.Created {
		obj, err := f.network.ledger.GetObject(ctx, id)
		if err != nil {
			continue
		}
		if obj.Type == BlobObjectType && obj.Fields[FieldBlobID] == string(f.encoded.ID) {
			objectID = id
			break
		}
	}
	if objectID == "" {
		return fmt.Errorf("transaction %s did not register blob %s", digest, f.encoded.ID)
	}

	stored, err := f.storeSlivers(ctx)
	if err != nil {
		return err
	}
	if stored < f.encoded.DataShards {
		return fmt.Errorf("stored %d of %d required slivers for blob %s", stored, f.encoded.DataShards, f.encoded.ID)
	}
	f.objectID = objectID
	logger.Debugw("Uploaded slivers", "id", f.encoded.ID, "object", objectID, "stored", stored, "total", len(f.encoded.Slivers))
	return nil
}

func (f *localWriteFlow) storeSlivers(ctx context.Context) (int, error) {
	f.network.sweepMu.RLock()
	defer f.network.sweepMu.RUnlock()

	nodes := f.network.nodes
	var stored int
	for i, sliver := range f.encoded.Slivers {
		if err := ctx.Err(); err != nil {
			return stored, err
		}
		node := i % len(nodes)
		if _, err := nodes[node].Put(ctx, sliverKey(f.encoded.ID, i), bytes.NewReader(sliver)); err != nil {
			logger.Warnw("Failed to store sliver on storage node", "id", f.encoded.ID, "sliver", i, "node", node, "err", err)
			continue
		}
		stored++
	}
	return stored, nil
}

func (f *localWriteFlow) Certify() (ledger.Transaction, error) {
	if f.objectID == "" {
		return nil, ErrFlowNotUploaded
	}
	return ledger.NewTransaction(ledger.Call{
		Function: fnCertify,
		Args: map[string]string{
			"blob_object_id": string(f.objectID),
			"nonce":          uuid.NewString(),
		},
	})
}

// ListFiles lists the written files. Blob IDs are only populated once the blob is certified.
func (f *localWriteFlow) ListFiles(ctx context.Context) ([]File, error) {
	if f.encoded == nil {
		return nil, ErrFlowNotEncoded
	}
	var id blob.ID
	if f.objectID != "" {
		switch obj, err := f.network.ledger.GetObject(ctx, f.objectID); {
		case err == nil:
			if obj.Fields[FieldCertified] == "true" {
				id = f.encoded.ID
			}
		case errors.Is(err, ledger.ErrObjectNotFound):
		default:
			return nil, err
		}
	}
	files := make([]File, 0, len(f.files))
	for _, file := range f.files {
		files = append(files, File{BlobID: id, Identifier: file.Identifier})
	}
	return files, nil
}
