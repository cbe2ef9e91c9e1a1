package network_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidepool-labs/tidepool/blob"
	"github.com/tidepool-labs/tidepool/ledger"
	"github.com/tidepool-labs/tidepool/network"
	"go.uber.org/goleak"
)

func checkGoLeaks(t *testing.T) {
	// Ignore goroutines that are already running.
	ignoreCurrent := goleak.IgnoreCurrent()
	// Check if new goroutines are still running at end of test.
	t.Cleanup(func() {
		goleak.VerifyNone(t, ignoreCurrent)
	})
}

type fixture struct {
	dir     string
	ledger  *ledger.Memory
	network *network.Local
	signer  *ledger.KeySigner
}

func newFixture(t *testing.T, o ...network.Option) *fixture {
	dir := t.TempDir()
	mem := ledger.NewMemory()
	opts := append([]network.Option{
		network.WithStoreDir(dir),
		network.WithMinFreeSpace(-1),
	}, o...)
	n, err := network.NewLocal(mem, opts...)
	require.NoError(t, err)
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ledger.NewKeySigner(priv, mem)
	require.NoError(t, err)
	return &fixture{dir: dir, ledger: mem, network: n, signer: signer}
}

// write runs a complete write flow and returns the certified blob ID.
func (f *fixture) write(t *testing.T, deletable bool, files ...blob.Payload) blob.ID {
	ctx := context.Background()
	flow := f.network.WriteFilesFlow(files)
	require.NoError(t, flow.Encode(ctx))
	tx, err := flow.Register(network.RegisterOptions{Epochs: 5, Deletable: deletable, Owner: f.signer.Address()})
	require.NoError(t, err)
	receipt, err := f.signer.Sign(ctx, tx)
	require.NoError(t, err)
	require.NoError(t, flow.Upload(ctx, receipt.Digest))
	tx, err = flow.Certify()
	require.NoError(t, err)
	_, err = f.signer.Sign(ctx, tx)
	require.NoError(t, err)
	listed, err := flow.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, listed, len(files))
	require.NotEmpty(t, listed[0].BlobID)
	return listed[0].BlobID
}

func (f *fixture) sliverPath(node int, id blob.ID, index int) string {
	return filepath.Join(f.dir, fmt.Sprintf("node-%d", node), fmt.Sprintf("%s.%d.bin", id, index))
}

func TestLocalWriteAndRead(t *testing.T) {
	checkGoLeaks(t)
	f := newFixture(t)
	ctx := context.Background()

	want := blob.NewPayload("notes.txt", []byte("Halló heimur!"))
	id := f.write(t, false, want)

	quilt, err := f.network.GetBlob(ctx, id)
	require.NoError(t, err)
	files, err := quilt.Files(ctx)
	require.NoError(t, err)
	require.Equal(t, []blob.Payload{want}, files)

	raw, err := f.network.ReadBlob(ctx, id)
	require.NoError(t, err)
	ok, err := blob.Verify(id, raw)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLocalWriteIsDeterministic(t *testing.T) {
	f := newFixture(t)
	payload := blob.NewPayload("a", []byte("same content"))
	require.Equal(t, f.write(t, false, payload), f.write(t, false, payload))
}

func TestLocalFlowStepsMustBeOrdered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flow := f.network.WriteFilesFlow([]blob.Payload{blob.NewPayload("a", []byte("a"))})

	_, err := flow.Register(network.RegisterOptions{Epochs: 1, Owner: f.signer.Address()})
	require.ErrorIs(t, err, network.ErrFlowNotEncoded)
	_, err = flow.ListFiles(ctx)
	require.ErrorIs(t, err, network.ErrFlowNotEncoded)

	require.NoError(t, flow.Encode(ctx))
	require.ErrorIs(t, flow.Upload(ctx, "unknown"), network.ErrFlowNotRegistered)
	_, err = flow.Certify()
	require.ErrorIs(t, err, network.ErrFlowNotUploaded)

	files, err := flow.ListFiles(ctx)
	require.NoError(t, err)
	require.Equal(t, []network.File{{Identifier: "a"}}, files)
}

func TestLocalEncodeRejectsEmptyFiles(t *testing.T) {
	f := newFixture(t)
	err := f.network.WriteFilesFlow(nil).Encode(context.Background())
	var encErr *blob.EncodingError
	require.ErrorAs(t, err, &encErr)
}

func TestLocalRegisterValidatesEpochs(t *testing.T) {
	f := newFixture(t, network.WithMaxEpochsAhead(10))
	ctx := context.Background()
	flow := f.network.WriteFilesFlow([]blob.Payload{blob.NewPayload("a", []byte("a"))})
	require.NoError(t, flow.Encode(ctx))

	_, err := flow.Register(network.RegisterOptions{Epochs: 0, Owner: f.signer.Address()})
	require.True(t, blob.IsValidationError(err))

	tx, err := flow.Register(network.RegisterOptions{Epochs: 11, Owner: f.signer.Address()})
	require.NoError(t, err)
	_, err = f.signer.Sign(ctx, tx)
	require.ErrorContains(t, err, "at most 10")
}

func TestLocalReadUnknownBlob(t *testing.T) {
	f := newFixture(t)
	_, err := f.network.ReadBlob(context.Background(), "bafkunknown")
	require.ErrorIs(t, err, blob.ErrBlobNotFound)
}

func TestLocalUncertifiedBlobIsNotReadable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flow := f.network.WriteFilesFlow([]blob.Payload{blob.NewPayload("a", []byte("pending"))})
	require.NoError(t, flow.Encode(ctx))
	tx, err := flow.Register(network.RegisterOptions{Epochs: 1, Owner: f.signer.Address()})
	require.NoError(t, err)
	receipt, err := f.signer.Sign(ctx, tx)
	require.NoError(t, err)
	require.NoError(t, flow.Upload(ctx, receipt.Digest))

	files, err := flow.ListFiles(ctx)
	require.NoError(t, err)
	require.Empty(t, files[0].BlobID)

	encoded, err := blob.Encode(mustQuilt(t, blob.NewPayload("a", []byte("pending"))))
	require.NoError(t, err)
	_, err = f.network.ReadBlob(ctx, encoded.ID)
	require.ErrorIs(t, err, blob.ErrBlobNotFound)
}

func TestLocalToleratesLostSliversUntilParityIsExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.write(t, false, blob.NewPayload("a", []byte("durable content")))

	require.NoError(t, os.Remove(f.sliverPath(0, id, 0)))
	require.NoError(t, os.Remove(f.sliverPath(5, id, 5)))
	_, err := f.network.ReadBlob(ctx, id)
	require.NoError(t, err)

	require.NoError(t, os.Remove(f.sliverPath(3, id, 3)))
	_, err = f.network.ReadBlob(ctx, id)
	require.ErrorIs(t, err, network.ErrRetryable)
}

func TestLocalResetRestoresUnhealthyNodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.write(t, false, blob.NewPayload("a", []byte("content served by flaky nodes")))

	// A directory in place of the sliver makes the node fail to serve it.
	broken := f.sliverPath(0, id, 0)
	original, err := os.ReadFile(broken)
	require.NoError(t, err)
	require.NoError(t, os.Remove(broken))
	require.NoError(t, os.Mkdir(broken, 0750))

	_, err = f.network.ReadBlob(ctx, id)
	require.NoError(t, err)

	require.NoError(t, os.Remove(f.sliverPath(1, id, 1)))
	require.NoError(t, os.Remove(f.sliverPath(2, id, 2)))
	_, err = f.network.ReadBlob(ctx, id)
	require.ErrorIs(t, err, network.ErrRetryable)

	require.NoError(t, os.Remove(broken))
	require.NoError(t, os.WriteFile(broken, original, 0600))

	// Node 0 stays skipped until the client is reset.
	_, err = f.network.ReadBlob(ctx, id)
	require.ErrorIs(t, err, network.ErrRetryable)

	f.network.Reset()
	_, err = f.network.ReadBlob(ctx, id)
	require.NoError(t, err)
}

func TestLocalDeleteBlob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.write(t, true, blob.NewPayload("a", []byte("deletable")))

	owned, err := f.ledger.OwnedObjects(ctx, f.signer.Address())
	require.NoError(t, err)
	require.Len(t, owned, 1)
	require.Equal(t, string(id), owned[0].Fields[network.FieldBlobID])

	tx, err := f.network.DeleteBlobTransaction(ctx, owned[0].ID, f.signer.Address())
	require.NoError(t, err)
	receipt, err := f.signer.Sign(ctx, tx)
	require.NoError(t, err)
	require.Equal(t, []ledger.ObjectID{owned[0].ID}, receipt.Deleted)

	_, err = f.network.ReadBlob(ctx, id)
	require.ErrorIs(t, err, blob.ErrBlobNotFound)
}

func TestLocalDeleteRequiresDeletableBlob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, false, blob.NewPayload("a", []byte("permanent")))

	owned, err := f.ledger.OwnedObjects(ctx, f.signer.Address())
	require.NoError(t, err)
	_, err = f.network.DeleteBlobTransaction(ctx, owned[0].ID, f.signer.Address())
	require.ErrorContains(t, err, "not deletable")

	_, err = f.network.DeleteBlobTransaction(ctx, owned[0].ID, "0xsomeoneelse")
	require.ErrorContains(t, err, "not owned")
}

func TestLocalBlobsExpire(t *testing.T) {
	var mu sync.Mutex
	now := time.Now()
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	f := newFixture(t, network.WithClock(clock), network.WithEpochDuration(time.Hour))
	ctx := context.Background()
	id := f.write(t, false, blob.NewPayload("a", []byte("short lived")))

	mu.Lock()
	now = now.Add(5 * time.Hour)
	mu.Unlock()
	require.Equal(t, uint64(5), f.network.Epoch())

	_, err := f.network.ReadBlob(ctx, id)
	require.ErrorIs(t, err, blob.ErrBlobNotFound)
}

func TestLocalStartShutdown(t *testing.T) {
	checkGoLeaks(t)
	f := newFixture(t, network.WithExpiryInterval(10*time.Millisecond))
	require.NoError(t, f.network.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.network.Shutdown(ctx))
}

func mustQuilt(t *testing.T, files ...blob.Payload) []byte {
	b, err := blob.EncodeQuilt(files)
	require.NoError(t, err)
	return b
}
