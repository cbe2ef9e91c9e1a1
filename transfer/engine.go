package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ipfs/go-log/v2"
	"github.com/tidepool-labs/tidepool/blob"
	"github.com/tidepool-labs/tidepool/ledger"
	"github.com/tidepool-labs/tidepool/network"
)

var (
	ErrNoClient = errors.New("no blob store client is configured")
	ErrNoLedger = errors.New("no ledger reader is configured")
)

var logger = log.Logger("tidepool/transfer")

// Engine uploads blobs through the encode, register, upload and certify steps and retrieves them
// through an ordered chain of retrieval strategies. It holds no per-call state and is safe for
// concurrent use.
type Engine struct {
	*options
}

// New instantiates a new Engine.
func New(o ...Option) (*Engine, error) {
	opts, err := newOptions(o...)
	if err != nil {
		return nil, err
	}
	return &Engine{options: opts}, nil
}

// session carries the state of one upload between its steps.
type session struct {
	id             string
	payload        blob.Payload
	flow           network.WriteFlow
	registerDigest ledger.Digest
	certifyDigest  ledger.Digest
}

// Upload stores payload as a new blob owned by owner, signing the register and certify
// transactions with signer. A result is only returned once every step has completed;
// no step is retried.
func (e *Engine) Upload(ctx context.Context, payload blob.Payload, signer ledger.Signer, owner ledger.Address, o ...UploadOption) (*blob.UploadResult, error) {
	result, err := e.upload(ctx, payload, signer, owner, newUploadOptions(o...))
	if err != nil {
		return nil, fmt.Errorf("upload flow failed: %w", err)
	}
	return result, nil
}

func (e *Engine) upload(ctx context.Context, payload blob.Payload, signer ledger.Signer, owner ledger.Address, opts *uploadOptions) (*blob.UploadResult, error) {
	if len(payload.Data) == 0 {
		return nil, &blob.ValidationError{Field: "payload", Reason: "empty content"}
	}
	if signer == nil {
		return nil, &blob.ValidationError{Field: "signer", Reason: "not specified"}
	}
	if owner == "" {
		return nil, &blob.ValidationError{Field: "owner", Reason: "empty address"}
	}
	if e.client == nil {
		return nil, ErrNoClient
	}
	if payload.Identifier == "" {
		payload.Identifier = DefaultIdentifier
	}
	s := &session{
		id:      uuid.NewString(),
		payload: payload,
		flow:    e.client.WriteFilesFlow([]blob.Payload{payload}),
	}
	logger.Infow("Initializing upload flow", "session", s.id, "size", len(payload.Data), "epochs", opts.epochs, "deletable", opts.deletable)

	logger.Debugw("Encoding blob", "session", s.id)
	if err := s.flow.Encode(ctx); err != nil {
		var encErr *blob.EncodingError
		if !errors.As(err, &encErr) {
			err = &blob.EncodingError{Err: err}
		}
		return nil, err
	}

	registerTx, err := s.flow.Register(network.RegisterOptions{Epochs: opts.epochs, Deletable: opts.deletable, Owner: owner})
	if err != nil {
		return nil, fmt.Errorf("failed to build register transaction: %w", err)
	}
	logger.Debugw("Awaiting register signature", "session", s.id)
	if s.registerDigest, err = sign(ctx, signer, "register", registerTx); err != nil {
		return nil, err
	}
	logger.Infow("Register transaction signed", "session", s.id, "digest", s.registerDigest)

	logger.Debugw("Uploading slivers to storage nodes", "session", s.id)
	uploadCtx, cancel := context.WithTimeout(ctx, e.uploadTimeout)
	err = s.flow.Upload(uploadCtx, s.registerDigest)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("upload to storage nodes failed: %w", err)
	}
	logger.Debugw("Upload completed", "session", s.id)

	certifyTx, err := s.flow.Certify()
	if err != nil {
		return nil, fmt.Errorf("failed to build certify transaction: %w", err)
	}
	logger.Debugw("Awaiting certify signature", "session", s.id)
	if s.certifyDigest, err = sign(ctx, signer, "certify", certifyTx); err != nil {
		return nil, err
	}
	logger.Infow("Certify transaction signed", "session", s.id, "digest", s.certifyDigest)

	files, err := s.flow.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploaded files: %w", err)
	}
	if len(files) == 0 || files[0].BlobID == "" {
		return nil, blob.ErrMissingBlobID
	}
	result := &blob.UploadResult{BlobID: files[0].BlobID, Size: int64(len(payload.Data))}
	logger.Infow("Upload flow completed", "session", s.id, "id", result.BlobID, "size", result.Size)
	return result, nil
}

func sign(ctx context.Context, signer ledger.Signer, step string, tx ledger.Transaction) (ledger.Digest, error) {
	receipt, err := signer.Sign(ctx, tx)
	if err != nil {
		return "", &blob.SigningError{Step: step, Err: err}
	}
	if receipt == nil || receipt.Digest == "" {
		return "", &blob.SigningError{Step: step, Err: errors.New("signer returned no digest")}
	}
	return receipt.Digest, nil
}

// Retrieve returns the content of the blob with the given ID, trying each retrieval strategy in
// order until one succeeds. Surrounding whitespace is trimmed from id before use.
// If every strategy fails, a *blob.RetrievalError holding all failures is returned.
func (e *Engine) Retrieve(ctx context.Context, id string) ([]byte, error) {
	blobID, err := blob.ParseID(id)
	if err != nil {
		return nil, err
	}
	attempts := make([]error, 0, len(e.strategies))
	for _, strategy := range e.strategies {
		data, err := strategy.Fetch(ctx, blobID)
		if err == nil {
			logger.Debugw("Retrieved blob", "id", blobID, "strategy", strategy.Name(), "size", len(data))
			return data, nil
		}
		logger.Warnw("Retrieval strategy failed", "id", blobID, "strategy", strategy.Name(), "err", err)
		attempts = append(attempts, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &blob.RetrievalError{Attempts: attempts}
}

// Download retrieves the blob with the given ID and returns its content along with the name it
// should be saved under. The name defaults to "<id>.bin".
func (e *Engine) Download(ctx context.Context, id string, fileName string) ([]byte, string, error) {
	logger.Infow("Downloading blob", "id", id)
	data, err := e.Retrieve(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if fileName == "" {
		blobID, _ := blob.ParseID(id)
		fileName = string(blobID) + ".bin"
	}
	return data, fileName, nil
}

// Delete deletes the blob object owned by owner that holds the blob with the given ID, signing the
// deletion with signer, and waits for the deletion to execute. If owner holds no such object the
// blob is considered already deleted and nil is returned.
func (e *Engine) Delete(ctx context.Context, id string, owner ledger.Address, signer ledger.Signer) error {
	blobID, err := blob.ParseID(id)
	if err != nil {
		return err
	}
	if signer == nil {
		return &blob.ValidationError{Field: "signer", Reason: "not specified"}
	}
	if e.client == nil {
		return ErrNoClient
	}
	if e.ledger == nil {
		return ErrNoLedger
	}
	objectID, err := e.blobObjectID(ctx, blobID, owner)
	if err != nil {
		return err
	}
	if objectID == "" {
		logger.Infow("No blob object found; blob may already be deleted", "id", blobID, "owner", owner)
		return nil
	}
	tx, err := e.client.DeleteBlobTransaction(ctx, objectID, owner)
	if err != nil {
		return fmt.Errorf("failed to build delete transaction: %w", err)
	}
	digest, err := sign(ctx, signer, "delete", tx)
	if err != nil {
		return err
	}
	if _, err := e.ledger.WaitForTransaction(ctx, digest); err != nil {
		return fmt.Errorf("failed to wait for delete transaction: %w", err)
	}
	logger.Infow("Deleted blob", "id", blobID, "object", objectID, "digest", digest)
	return nil
}

func (e *Engine) blobObjectID(ctx context.Context, id blob.ID, owner ledger.Address) (ledger.ObjectID, error) {
	objs, err := e.ledger.OwnedObjects(ctx, owner)
	if err != nil {
		return "", fmt.Errorf("failed to list objects owned by %s: %w", owner, err)
	}
	for _, obj := range objs {
		if obj.Type == network.BlobObjectType && obj.Fields[network.FieldBlobID] == string(id) {
			return obj.ID, nil
		}
	}
	return "", nil
}
