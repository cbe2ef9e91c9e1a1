package transfer_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidepool-labs/tidepool/blob"
	"github.com/tidepool-labs/tidepool/ledger"
	"github.com/tidepool-labs/tidepool/network"
	"github.com/tidepool-labs/tidepool/transfer"
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

// mockFlow records which steps of a write flow were invoked.
type mockFlow struct {
	encodeErr  error
	uploadErr  error
	blobID     blob.ID
	encodes    atomic.Int32
	registers  atomic.Int32
	uploads    atomic.Int32
	certifies  atomic.Int32
	listings   atomic.Int32
	registered network.RegisterOptions
}

func (f *mockFlow) Encode(context.Context) error {
	f.encodes.Add(1)
	return f.encodeErr
}

func (f *mockFlow) Register(opts network.RegisterOptions) (ledger.Transaction, error) {
	f.registers.Add(1)
	f.registered = opts
	return ledger.Transaction("register"), nil
}

func (f *mockFlow) Upload(context.Context, ledger.Digest) error {
	f.uploads.Add(1)
	return f.uploadErr
}

func (f *mockFlow) Certify() (ledger.Transaction, error) {
	f.certifies.Add(1)
	return ledger.Transaction("certify"), nil
}

func (f *mockFlow) ListFiles(context.Context) ([]network.File, error) {
	f.listings.Add(1)
	return []network.File{{BlobID: f.blobID, Identifier: transfer.DefaultIdentifier}}, nil
}

// mockClient is a network.Client whose reads fail with configured errors.
type mockClient struct {
	flow       *mockFlow
	getBlobErr error
	readErr    error
	readData   []byte
	getBlobs   atomic.Int32
	reads      atomic.Int32
	resets     atomic.Int32
	writes     atomic.Int32
}

func (c *mockClient) WriteFilesFlow([]blob.Payload) network.WriteFlow {
	c.writes.Add(1)
	return c.flow
}

func (c *mockClient) GetBlob(context.Context, blob.ID) (network.Quilt, error) {
	c.getBlobs.Add(1)
	return nil, c.getBlobErr
}

func (c *mockClient) ReadBlob(context.Context, blob.ID) ([]byte, error) {
	c.reads.Add(1)
	return c.readData, c.readErr
}

func (c *mockClient) Reset() {
	c.resets.Add(1)
}

func (c *mockClient) DeleteBlobTransaction(context.Context, ledger.ObjectID, ledger.Address) (ledger.Transaction, error) {
	return ledger.Transaction("delete"), nil
}

// mockSigner fails signing of the transactions whose content is listed in fail.
type mockSigner struct {
	fail  map[string]error
	calls atomic.Int32
}

func (s *mockSigner) Sign(_ context.Context, tx ledger.Transaction) (*ledger.Receipt, error) {
	s.calls.Add(1)
	if err := s.fail[string(tx)]; err != nil {
		return nil, err
	}
	return &ledger.Receipt{Digest: ledger.Digest("digest-" + string(tx))}, nil
}

func failingServer(t *testing.T, status int, body string, hits *atomic.Int32) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, body, status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestUploadEmptyPayloadFailsWithoutNetworkCalls(t *testing.T) {
	client := &mockClient{flow: &mockFlow{}}
	signer := &mockSigner{}
	engine, err := transfer.New(transfer.WithClient(client))
	require.NoError(t, err)

	_, err = engine.Upload(context.Background(), blob.NewPayload("a", nil), signer, "0xowner")
	require.True(t, blob.IsValidationError(err))
	require.ErrorContains(t, err, "upload flow failed: ")
	require.Zero(t, client.writes.Load())
	require.Zero(t, client.flow.encodes.Load())
	require.Zero(t, signer.calls.Load())
}

func TestUploadRunsStepsInOrder(t *testing.T) {
	flow := &mockFlow{blobID: "bafyblob"}
	client := &mockClient{flow: flow}
	engine, err := transfer.New(transfer.WithClient(client))
	require.NoError(t, err)

	got, err := engine.Upload(context.Background(), blob.NewPayload("", []byte("fish")), &mockSigner{}, "0xowner")
	require.NoError(t, err)
	require.Equal(t, &blob.UploadResult{BlobID: "bafyblob", Size: 4}, got)
	require.Equal(t, network.RegisterOptions{Epochs: transfer.DefaultEpochs, Deletable: true, Owner: "0xowner"}, flow.registered)
	require.EqualValues(t, 1, flow.encodes.Load())
	require.EqualValues(t, 1, flow.uploads.Load())
	require.EqualValues(t, 1, flow.certifies.Load())
	require.EqualValues(t, 1, flow.listings.Load())
}

func TestUploadOptions(t *testing.T) {
	flow := &mockFlow{blobID: "bafyblob"}
	engine, err := transfer.New(transfer.WithClient(&mockClient{flow: flow}))
	require.NoError(t, err)

	_, err = engine.Upload(context.Background(), blob.NewPayload("a", []byte("x")), &mockSigner{}, "0xowner",
		transfer.WithEpochs(12), transfer.WithDeletable(false))
	require.NoError(t, err)
	require.Equal(t, 12, flow.registered.Epochs)
	require.False(t, flow.registered.Deletable)

	_, err = engine.Upload(context.Background(), blob.NewPayload("a", []byte("x")), &mockSigner{}, "0xowner", transfer.WithEpochs(0))
	require.NoError(t, err)
	require.Equal(t, transfer.DefaultEpochs, flow.registered.Epochs)
}

func TestUploadRegisterSigningFailureStopsFlow(t *testing.T) {
	flow := &mockFlow{blobID: "bafyblob"}
	engine, err := transfer.New(transfer.WithClient(&mockClient{flow: flow}))
	require.NoError(t, err)
	declined := errors.New("user declined")
	signer := &mockSigner{fail: map[string]error{"register": declined}}

	got, err := engine.Upload(context.Background(), blob.NewPayload("a", []byte("x")), signer, "0xowner")
	require.Nil(t, got)
	var signErr *blob.SigningError
	require.ErrorAs(t, err, &signErr)
	require.Equal(t, "register", signErr.Step)
	require.ErrorIs(t, err, declined)
	require.EqualError(t, err, "upload flow failed: register transaction failed: user declined")
	require.Zero(t, flow.uploads.Load())
	require.Zero(t, flow.certifies.Load())
}

func TestUploadCertifySigningFailureReturnsNoResult(t *testing.T) {
	flow := &mockFlow{blobID: "bafyblob"}
	engine, err := transfer.New(transfer.WithClient(&mockClient{flow: flow}))
	require.NoError(t, err)
	signer := &mockSigner{fail: map[string]error{"certify": errors.New("execution aborted")}}

	got, err := engine.Upload(context.Background(), blob.NewPayload("a", []byte("x")), signer, "0xowner")
	require.Nil(t, got)
	var signErr *blob.SigningError
	require.ErrorAs(t, err, &signErr)
	require.Equal(t, "certify", signErr.Step)
	require.EqualValues(t, 1, flow.uploads.Load())
	require.Zero(t, flow.listings.Load())
}

func TestUploadEncodingFailure(t *testing.T) {
	flow := &mockFlow{encodeErr: errors.New("bad input")}
	signer := &mockSigner{}
	engine, err := transfer.New(transfer.WithClient(&mockClient{flow: flow}))
	require.NoError(t, err)

	_, err = engine.Upload(context.Background(), blob.NewPayload("a", []byte("x")), signer, "0xowner")
	var encErr *blob.EncodingError
	require.ErrorAs(t, err, &encErr)
	require.Zero(t, flow.registers.Load())
	require.Zero(t, signer.calls.Load())
}

func TestUploadFailurePropagates(t *testing.T) {
	flow := &mockFlow{uploadErr: errors.New("relay unavailable")}
	engine, err := transfer.New(transfer.WithClient(&mockClient{flow: flow}))
	require.NoError(t, err)

	_, err = engine.Upload(context.Background(), blob.NewPayload("a", []byte("x")), &mockSigner{}, "0xowner")
	require.ErrorContains(t, err, "relay unavailable")
	require.Zero(t, flow.certifies.Load())
}

func TestUploadMissingBlobID(t *testing.T) {
	engine, err := transfer.New(transfer.WithClient(&mockClient{flow: &mockFlow{}}))
	require.NoError(t, err)

	_, err = engine.Upload(context.Background(), blob.NewPayload("a", []byte("x")), &mockSigner{}, "0xowner")
	require.ErrorIs(t, err, blob.ErrMissingBlobID)
	require.EqualError(t, err, "upload flow failed: failed to get blob ID from upload result")
}

func TestUploadWithoutClient(t *testing.T) {
	engine, err := transfer.New()
	require.NoError(t, err)
	_, err = engine.Upload(context.Background(), blob.NewPayload("a", []byte("x")), &mockSigner{}, "0xowner")
	require.ErrorIs(t, err, transfer.ErrNoClient)
}

func TestRetrieveEmptyIDFailsWithoutNetworkCalls(t *testing.T) {
	client := &mockClient{}
	var hits atomic.Int32
	srv := failingServer(t, http.StatusNotFound, "not found", &hits)
	engine, err := transfer.New(
		transfer.WithClient(client),
		transfer.WithEndpoints(blob.Endpoints{Aggregator: srv.URL, Gateway: srv.URL}),
	)
	require.NoError(t, err)

	_, err = engine.Retrieve(context.Background(), "   ")
	require.True(t, blob.IsValidationError(err))
	require.Zero(t, client.getBlobs.Load())
	require.Zero(t, client.reads.Load())
	require.Zero(t, hits.Load())
}

func TestRetrieveFallsThroughAllTiers(t *testing.T) {
	client := &mockClient{getBlobErr: errors.New("not a quilt"), readErr: errors.New("node unreachable")}
	var aggregatorHits, gatewayHits atomic.Int32
	aggregator := failingServer(t, http.StatusServiceUnavailable, "aggregator down", &aggregatorHits)
	gateway := failingServer(t, http.StatusNotFound, "blob not found", &gatewayHits)
	engine, err := transfer.New(
		transfer.WithClient(client),
		transfer.WithEndpoints(blob.Endpoints{Aggregator: aggregator.URL, Gateway: gateway.URL}),
		transfer.WithHTTPClient(&http.Client{Timeout: time.Second}),
	)
	require.NoError(t, err)

	_, err = engine.Retrieve(context.Background(), "bafyblob")
	var retrievalErr *blob.RetrievalError
	require.ErrorAs(t, err, &retrievalErr)
	require.EqualError(t, err, "failed to retrieve blob after trying all methods: Gateway download failed: 404 - blob not found")
	require.Len(t, retrievalErr.Attempts, 3)
	require.EqualError(t, retrievalErr.Attempts[1], "Aggregator download failed: 503 - aggregator down")
	require.NotErrorIs(t, retrievalErr.Attempts[1], blob.ErrBlobNotFound)
	require.ErrorIs(t, retrievalErr.Attempts[2], blob.ErrBlobNotFound)
	require.True(t, blob.IsNotFound(err))
	require.Zero(t, client.resets.Load())
	require.EqualValues(t, 1, client.getBlobs.Load())
	require.EqualValues(t, 1, client.reads.Load())
	require.EqualValues(t, 1, aggregatorHits.Load())
	require.EqualValues(t, 1, gatewayHits.Load())
}

func TestRetrieveResetsClientOnceOnRetryableError(t *testing.T) {
	transient := network.Retryable(errors.New("connection reset"))
	client := &mockClient{getBlobErr: transient, readErr: transient}
	var aggregatorHits atomic.Int32
	aggregator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		aggregatorHits.Add(1)
		if r.URL.Path != "/v1/bafyblob" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("from aggregator"))
	}))
	t.Cleanup(aggregator.Close)
	engine, err := transfer.New(
		transfer.WithClient(client),
		transfer.WithEndpoints(blob.Endpoints{Aggregator: aggregator.URL, Gateway: "http://127.0.0.1:1"}),
	)
	require.NoError(t, err)

	got, err := engine.Retrieve(context.Background(), "  bafyblob  ")
	require.NoError(t, err)
	require.Equal(t, []byte("from aggregator"), got)
	require.EqualValues(t, 1, client.resets.Load())
	require.EqualValues(t, 2, client.getBlobs.Load())
	require.EqualValues(t, 2, client.reads.Load())
	require.EqualValues(t, 1, aggregatorHits.Load())
}

func TestRetrieveHungAggregatorTimesOutAndFallsBackOnGateway(t *testing.T) {
	client := &mockClient{getBlobErr: errors.New("not a quilt"), readErr: errors.New("node unreachable")}
	release := make(chan struct{})
	aggregator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(aggregator.Close)
	t.Cleanup(func() { close(release) })
	var gatewayHits atomic.Int32
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gatewayHits.Add(1)
		if r.URL.Path != "/v1/bafyblob" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("from gateway"))
	}))
	t.Cleanup(gateway.Close)
	engine, err := transfer.New(
		transfer.WithClient(client),
		transfer.WithEndpoints(blob.Endpoints{Aggregator: aggregator.URL, Gateway: gateway.URL}),
		transfer.WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}),
	)
	require.NoError(t, err)

	start := time.Now()
	got, err := engine.Retrieve(context.Background(), "bafyblob")
	require.NoError(t, err)
	require.Equal(t, []byte("from gateway"), got)
	require.EqualValues(t, 1, gatewayHits.Load())
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestRetrieveClientSuccessShortCircuits(t *testing.T) {
	client := &mockClient{getBlobErr: errors.New("not a quilt"), readData: []byte("raw")}
	var hits atomic.Int32
	srv := failingServer(t, http.StatusInternalServerError, "unused", &hits)
	engine, err := transfer.New(
		transfer.WithClient(client),
		transfer.WithEndpoints(blob.Endpoints{Aggregator: srv.URL, Gateway: srv.URL}),
	)
	require.NoError(t, err)

	got, err := engine.Retrieve(context.Background(), "bafyblob")
	require.NoError(t, err)
	require.Equal(t, []byte("raw"), got)
	require.Zero(t, hits.Load())
}

func TestDownloadDefaultsFileName(t *testing.T) {
	client := &mockClient{getBlobErr: errors.New("not a quilt"), readData: []byte("raw")}
	engine, err := transfer.New(transfer.WithClient(client))
	require.NoError(t, err)

	data, name, err := engine.Download(context.Background(), " bafyblob ", "")
	require.NoError(t, err)
	require.Equal(t, []byte("raw"), data)
	require.Equal(t, "bafyblob.bin", name)

	_, name, err = engine.Download(context.Background(), "bafyblob", "notes.txt")
	require.NoError(t, err)
	require.Equal(t, "notes.txt", name)
}

func newLocalEngine(t *testing.T) (*transfer.Engine, *ledger.KeySigner) {
	mem := ledger.NewMemory()
	n, err := network.NewLocal(mem, network.WithStoreDir(t.TempDir()), network.WithMinFreeSpace(-1))
	require.NoError(t, err)
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ledger.NewKeySigner(priv, mem)
	require.NoError(t, err)
	engine, err := transfer.New(
		transfer.WithClient(n),
		transfer.WithLedger(mem),
		transfer.WithStrategies(transfer.NewClientStrategy(n)),
	)
	require.NoError(t, err)
	return engine, signer
}

func TestUploadRetrieveRoundTrip(t *testing.T) {
	checkGoLeaks(t)
	engine, signer := newLocalEngine(t)
	ctx := context.Background()

	for _, size := range []int{1, 1000, 3<<20 + 17} {
		want := make([]byte, size)
		_, err := rand.Read(want)
		require.NoError(t, err)

		result, err := engine.Upload(ctx, blob.NewPayload("", want), signer, signer.Address())
		require.NoError(t, err)
		require.EqualValues(t, size, result.Size)

		got, err := engine.Retrieve(ctx, string(result.BlobID))
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestDeleteBlob(t *testing.T) {
	engine, signer := newLocalEngine(t)
	ctx := context.Background()

	result, err := engine.Upload(ctx, blob.NewPayload("a", []byte("to be deleted")), signer, signer.Address())
	require.NoError(t, err)
	require.NoError(t, engine.Delete(ctx, string(result.BlobID), signer.Address(), signer))

	_, err = engine.Retrieve(ctx, string(result.BlobID))
	require.ErrorIs(t, err, blob.ErrBlobNotFound)

	// Deleting again finds no object and succeeds.
	require.NoError(t, engine.Delete(ctx, string(result.BlobID), signer.Address(), signer))
}

func TestDeleteNonDeletableBlobFails(t *testing.T) {
	engine, signer := newLocalEngine(t)
	ctx := context.Background()

	result, err := engine.Upload(ctx, blob.NewPayload("a", []byte("permanent")), signer, signer.Address(), transfer.WithDeletable(false))
	require.NoError(t, err)
	require.ErrorContains(t, engine.Delete(ctx, string(result.BlobID), signer.Address(), signer), "not deletable")
}
