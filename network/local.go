package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/tidepool-labs/tidepool/blob"
	"github.com/tidepool-labs/tidepool/ledger"
)

var _ Client = (*Local)(nil)

const (
	fnRegister = "blob::register"
	fnCertify  = "blob::certify"
	fnDelete   = "blob::delete"
)

// Local is a blob store network whose storage nodes are directories on the local file system and
// whose blob objects live on an in-memory ledger. Blobs are erasure coded into slivers which are
// spread across the nodes, so a blob stays readable while at most parity-shards nodes lose theirs.
type Local struct {
	*options
	ledger *ledger.Memory
	nodes  []blob.Store
	expiry *expiryScheduler
	// sweepMu is held for reading while slivers are written and for writing while expired
	// slivers are removed. Executors never take it.
	sweepMu sync.RWMutex

	mu        sync.Mutex
	unhealthy map[int]bool
}

// NewLocal instantiates a local network and installs its blob functions on the given ledger.
func NewLocal(l *ledger.Memory, o ...Option) (*Local, error) {
	opts, err := newOptions(o...)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, errors.New("ledger must be specified")
	}
	nodes := make([]blob.Store, 0, opts.nodeCount)
	for i := 0; i < opts.nodeCount; i++ {
		dir := filepath.Join(opts.storeDir, fmt.Sprintf("node-%d", i))
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create storage node directory: %w", err)
		}
		nodes = append(nodes, blob.NewLocalStore(dir, blob.WithMinFreeSpace(opts.minFreeSpace)))
	}
	n := &Local{
		options:   opts,
		ledger:    l,
		nodes:     nodes,
		unhealthy: make(map[int]bool),
	}
	n.expiry = newExpiryScheduler(opts.expiryInterval, n)
	l.Register(fnRegister, n.executeRegister)
	l.Register(fnCertify, n.executeCertify)
	l.Register(fnDelete, n.executeDelete)
	logger.Infow("Local blob network ready", "dir", opts.storeDir, "nodes", len(nodes), "dataShards", opts.dataShards, "parityShards", opts.parityShards)
	return n, nil
}

// Start starts removing slivers of expired and deleted blobs in the background.
func (n *Local) Start(ctx context.Context) error {
	n.expiry.start(ctx)
	return nil
}

// Shutdown stops background work.
func (n *Local) Shutdown(ctx context.Context) error {
	return n.expiry.stop(ctx)
}

// Epoch returns the current storage epoch.
func (n *Local) Epoch() uint64 {
	elapsed := n.clock().Sub(n.genesis)
	if elapsed < 0 {
		return 0
	}
	return uint64(elapsed / n.epochDuration)
}

// WriteFilesFlow starts a write flow that stores files as a single quilt.
func (n *Local) WriteFilesFlow(files []blob.Payload) WriteFlow {
	return &localWriteFlow{network: n, files: files}
}

// GetBlob reads the blob as a quilt. The quilt is materialized eagerly.
func (n *Local) GetBlob(ctx context.Context, id blob.ID) (Quilt, error) {
	raw, err := n.ReadBlob(ctx, id)
	if err != nil {
		return nil, err
	}
	return rawQuilt(raw), nil
}

// ReadBlob reconstructs the blob content from the slivers held by healthy storage nodes.
// Nodes that fail to serve a sliver are marked unhealthy and skipped until Reset is called;
// if too few slivers remain, the returned error matches ErrRetryable.
func (n *Local) ReadBlob(ctx context.Context, id blob.ID) ([]byte, error) {
	obj, err := n.readableObject(ctx, id)
	if err != nil {
		return nil, err
	}
	size, dataShards, parityShards, err := sliverLayout(obj)
	if err != nil {
		return nil, err
	}
	slivers := make([][]byte, dataShards+parityShards)
	var available int
	for i := range slivers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := i % len(n.nodes)
		if n.isUnhealthy(idx) {
			continue
		}
		sliver, err := n.readSliver(ctx, idx, id, i)
		switch {
		case err == nil:
			slivers[i] = sliver
			available++
		case errors.Is(err, blob.ErrBlobNotFound):
			logger.Debugw("Sliver missing from storage node", "id", id, "sliver", i, "node", idx)
		default:
			logger.Warnw("Storage node failed to serve sliver; marking node unhealthy", "id", id, "sliver", i, "node", idx, "err", err)
			n.markUnhealthy(idx)
		}
	}
	if available < dataShards {
		return nil, Retryable(fmt.Errorf("only %d of %d required slivers are available for blob %s", available, dataShards, id))
	}
	data, err := blob.Reconstruct(slivers, size, dataShards, parityShards)
	if err != nil {
		return nil, err
	}
	if ok, err := blob.Verify(id, data); err != nil || !ok {
		return nil, fmt.Errorf("reconstructed content does not match blob %s", id)
	}
	return data, nil
}

// Reset marks every storage node healthy again.
func (n *Local) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unhealthy = make(map[int]bool)
	logger.Debug("Local network client state reset")
}

// DeleteBlobTransaction builds a transaction that deletes the blob object and reclaims its storage.
func (n *Local) DeleteBlobTransaction(ctx context.Context, blobObjectID ledger.ObjectID, owner ledger.Address) (ledger.Transaction, error) {
	obj, err := n.ledger.GetObject(ctx, blobObjectID)
	if err != nil {
		return nil, err
	}
	if obj.Type != BlobObjectType {
		return nil, fmt.Errorf("object %s is not a blob", blobObjectID)
	}
	if obj.Owner != owner {
		return nil, fmt.Errorf("blob object %s is not owned by %s", blobObjectID, owner)
	}
	if obj.Fields[FieldDeletable] != "true" {
		return nil, fmt.Errorf("blob object %s is not deletable", blobObjectID)
	}
	return ledger.NewTransaction(ledger.Call{
		Function: fnDelete,
		Args: map[string]string{
			"blob_object_id": string(blobObjectID),
			"nonce":          uuid.NewString(),
		},
	})
}

// readableObject returns a certified, unexpired blob object for id.
func (n *Local) readableObject(ctx context.Context, id blob.ID) (*ledger.Object, error) {
	epoch := n.Epoch()
	objs, err := n.ledger.Find(ctx, BlobObjectType, func(obj ledger.Object) bool {
		return obj.Fields[FieldBlobID] == string(id) && obj.Fields[FieldCertified] == "true" && !expired(obj, epoch)
	})
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, blob.ErrBlobNotFound
	}
	return &objs[0], nil
}

func (n *Local) readSliver(ctx context.Context, node int, id blob.ID, index int) ([]byte, error) {
	r, err := n.nodes[node].Get(ctx, sliverKey(id, index))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// storedSlivers counts the slivers of the given blob held by storage nodes.
func (n *Local) storedSlivers(ctx context.Context, id blob.ID, total int) int {
	var stored int
	for i := 0; i < total; i++ {
		if _, err := n.nodes[i%len(n.nodes)].Describe(ctx, sliverKey(id, i)); err == nil {
			stored++
		}
	}
	return stored
}

func (n *Local) isUnhealthy(node int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.unhealthy[node]
}

func (n *Local) markUnhealthy(node int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unhealthy[node] = true
}

func (n *Local) executeRegister(ex *ledger.Execution, call *ledger.Call) error {
	args := make(map[string]string, 8)
	for _, name := range []string{FieldBlobID, FieldRoot, FieldSize, FieldDataShards, FieldParityShards, FieldDeletable, "epochs", "owner"} {
		v, err := call.Arg(name)
		if err != nil {
			return err
		}
		args[name] = v
	}
	epochs, err := strconv.Atoi(args["epochs"])
	if err != nil || epochs <= 0 {
		return fmt.Errorf("invalid epochs %q", args["epochs"])
	}
	if epochs > n.maxEpochsAhead {
		return fmt.Errorf("cannot reserve storage for %d epochs; at most %d are allowed", epochs, n.maxEpochsAhead)
	}
	epoch := n.Epoch()
	id := ex.Create(ledger.Address(args["owner"]), BlobObjectType, map[string]string{
		FieldBlobID:          args[FieldBlobID],
		FieldRoot:            args[FieldRoot],
		FieldSize:            args[FieldSize],
		FieldDataShards:      args[FieldDataShards],
		FieldParityShards:    args[FieldParityShards],
		FieldDeletable:       args[FieldDeletable],
		FieldRegisteredEpoch: strconv.FormatUint(epoch, 10),
		FieldEndEpoch:        strconv.FormatUint(epoch+uint64(epochs), 10),
		FieldCertified:       "false",
	})
	logger.Debugw("Registered blob", "id", args[FieldBlobID], "object", id, "epochs", epochs)
	return nil
}

func (n *Local) executeCertify(ex *ledger.Execution, call *ledger.Call) error {
	objID, err := call.Arg("blob_object_id")
	if err != nil {
		return err
	}
	obj, err := ex.Get(ledger.ObjectID(objID))
	if err != nil {
		return err
	}
	if obj.Type != BlobObjectType {
		return fmt.Errorf("object %s is not a blob", objID)
	}
	if obj.Fields[FieldCertified] == "true" {
		return fmt.Errorf("blob object %s is already certified", objID)
	}
	_, dataShards, parityShards, err := sliverLayout(obj)
	if err != nil {
		return err
	}
	id := blob.ID(obj.Fields[FieldBlobID])
	if stored := n.storedSlivers(context.Background(), id, dataShards+parityShards); stored < dataShards {
		return fmt.Errorf("blob %s is not durably stored: %d of %d required slivers present", id, stored, dataShards)
	}
	obj.Fields[FieldCertified] = "true"
	obj.Fields[FieldCertifiedEpoch] = strconv.FormatUint(n.Epoch(), 10)
	return ex.Update(*obj)
}

func (n *Local) executeDelete(ex *ledger.Execution, call *ledger.Call) error {
	objID, err := call.Arg("blob_object_id")
	if err != nil {
		return err
	}
	obj, err := ex.Get(ledger.ObjectID(objID))
	if err != nil {
		return err
	}
	if obj.Type != BlobObjectType {
		return fmt.Errorf("object %s is not a blob", objID)
	}
	if obj.Owner != ex.Sender() {
		return fmt.Errorf("blob object %s is not owned by sender", objID)
	}
	if obj.Fields[FieldDeletable] != "true" {
		return fmt.Errorf("blob object %s is not deletable", objID)
	}
	return ex.Delete(obj.ID)
}

func sliverKey(id blob.ID, index int) string {
	return fmt.Sprintf("%s.%d", id, index)
}

func sliverLayout(obj *ledger.Object) (size int64, dataShards, parityShards int, err error) {
	if size, err = strconv.ParseInt(obj.Fields[FieldSize], 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("blob object %s has invalid size: %w", obj.ID, err)
	}
	if dataShards, err = strconv.Atoi(obj.Fields[FieldDataShards]); err != nil {
		return 0, 0, 0, fmt.Errorf("blob object %s has invalid data shards: %w", obj.ID, err)
	}
	if parityShards, err = strconv.Atoi(obj.Fields[FieldParityShards]); err != nil {
		return 0, 0, 0, fmt.Errorf("blob object %s has invalid parity shards: %w", obj.ID, err)
	}
	return size, dataShards, parityShards, nil
}

func expired(obj ledger.Object, epoch uint64) bool {
	end, err := strconv.ParseUint(obj.Fields[FieldEndEpoch], 10, 64)
	return err != nil || epoch >= end
}

type rawQuilt []byte

func (q rawQuilt) Files(_ context.Context) ([]blob.Payload, error) {
	return blob.DecodeQuilt(q)
}
