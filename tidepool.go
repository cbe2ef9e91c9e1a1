package tidepool

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/ipfs/go-log/v2"
	"github.com/tidepool-labs/tidepool/api/server"
	"github.com/tidepool-labs/tidepool/history"
	"github.com/tidepool-labs/tidepool/ledger"
	"github.com/tidepool-labs/tidepool/network"
	"github.com/tidepool-labs/tidepool/transfer"
)

var (
	logger = log.Logger("tidepool")
)

// Tidepool is a service that exposes a simple HTTP API to upload, retrieve and delete blobs stored
// as erasure-coded slivers across storage nodes, with ownership and lifetime tracked on a ledger.
type Tidepool struct {
	*options
	network    *network.Local
	engine     *transfer.Engine
	history    *history.BoltStore
	httpServer *server.HttpServer
	signer     *ledger.KeySigner
}

// New instantiates a new Tidepool service.
func New(o ...Option) (*Tidepool, error) {
	opts, err := newOptions(o...)
	if err != nil {
		return nil, err
	}
	cfg := opts.config

	mem := ledger.NewMemory()
	local, err := network.NewLocal(mem,
		network.WithStoreDir(filepath.Join(cfg.StoreDir, "network")),
		network.WithNodeCount(cfg.Network.Nodes),
		network.WithShards(cfg.Network.DataShards, cfg.Network.ParityShards),
		network.WithEpochDuration(cfg.Network.EpochDuration),
		network.WithMaxEpochsAhead(cfg.Network.MaxEpochsAhead),
		network.WithExpiryInterval(cfg.Network.ExpiryInterval),
		network.WithMinFreeSpace(cfg.Network.MinFreeSpace),
	)
	if err != nil {
		return nil, err
	}
	engine, err := transfer.New(
		transfer.WithClient(local),
		transfer.WithLedger(mem),
		transfer.WithEndpoints(cfg.Endpoints),
		transfer.WithHTTPTimeout(cfg.Retrieval.HTTPTimeout),
		transfer.WithUploadTimeout(cfg.Upload.Timeout),
	)
	if err != nil {
		return nil, err
	}
	hist, err := history.Open(filepath.Join(cfg.StoreDir, "history.db"))
	if err != nil {
		return nil, err
	}
	// The ledger starts empty, so the expiry sweep on start removes every stored sliver and
	// nothing recorded by a previous run can be retrieved any more.
	if err := hist.Clear(); err != nil {
		_ = hist.Close()
		return nil, err
	}
	logger.Warnw("Upload history reset since the ledger does not outlive the process", "storeDir", cfg.StoreDir)

	serverOptions := []server.Option{
		server.WithHttpListenAddr(cfg.HTTPListenAddr),
		server.WithEndpoints(cfg.Endpoints),
		server.WithHistory(hist),
		server.WithDirectReader(transfer.NewClientStrategy(local)),
		server.WithUploadOptions(transfer.WithEpochs(cfg.Upload.Epochs), transfer.WithDeletable(cfg.Upload.Deletable)),
		server.WithCache(cfg.Cache.TTL, cfg.Cache.Capacity),
		server.WithUploadRateLimit(cfg.RateLimiter.Limit, cfg.RateLimiter.Burst),
		server.WithTrustedProxies(cfg.RateLimiter.TrustedProxies...),
	}
	var signer *ledger.KeySigner
	if !opts.readOnly {
		if signer, err = loadSigner(opts, mem); err != nil {
			_ = hist.Close()
			return nil, err
		}
		serverOptions = append(serverOptions, server.WithSigner(signer, signer.Address()))
	}
	httpServer, err := server.NewHttpServer(engine, append(serverOptions, opts.serverOptions...)...)
	if err != nil {
		_ = hist.Close()
		return nil, err
	}
	return &Tidepool{
		options:    opts,
		network:    local,
		engine:     engine,
		history:    hist,
		httpServer: httpServer,
		signer:     signer,
	}, nil
}

func loadSigner(opts *options, submitter ledger.Submitter) (*ledger.KeySigner, error) {
	ks, err := opts.keyStoreOpener()
	if err != nil {
		return nil, err
	}
	key, err := ks.PrivateKey(opts.config.KeyName, true)
	if err != nil {
		return nil, err
	}
	return ledger.NewKeySigner(key, submitter)
}

// Engine returns the transfer engine used by the service.
func (t *Tidepool) Engine() *transfer.Engine {
	return t.engine
}

// Address returns the ledger address uploads are owned by, or an empty address if the service is
// read-only.
func (t *Tidepool) Address() ledger.Address {
	if t.signer == nil {
		return ""
	}
	return t.signer.Address()
}

// Start starts the tidepool services.
func (t *Tidepool) Start(ctx context.Context) error {
	if err := t.network.Start(ctx); err != nil {
		return err
	}
	if err := t.httpServer.Start(ctx); err != nil {
		_ = t.network.Shutdown(ctx)
		return err
	}
	logger.Infow("Tidepool started", "address", t.Address(), "storeDir", t.config.StoreDir)
	return nil
}

// Shutdown shuts down the tidepool services.
func (t *Tidepool) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.httpServer.Shutdown(ctx),
		t.network.Shutdown(ctx),
		t.history.Close(),
	)
}
