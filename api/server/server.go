package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/ipfs/go-log/v2"
	"github.com/jellydator/ttlcache/v3"
	"github.com/tidepool-labs/tidepool/blob"
	"github.com/tidepool-labs/tidepool/transfer"
	"golang.org/x/time/rate"
)

var logger = log.Logger("tidepool/api/server")

type (
	HttpServer struct {
		*options
		httpServer *http.Server
		engine     *transfer.Engine
		// blobs caches retrieved content; blobs are immutable so entries never go stale.
		blobs    *ttlcache.Cache[blob.ID, []byte]
		limiters *ttlcache.Cache[string, *rate.Limiter]
		// limitersMu makes limiter creation per client atomic.
		limitersMu sync.Mutex
		started    bool
	}
)

func NewHttpServer(engine *transfer.Engine, o ...Option) (*HttpServer, error) {
	if engine == nil {
		return nil, errors.New("transfer engine must be specified")
	}
	opts, err := newOptions(o...)
	if err != nil {
		return nil, err
	}
	server := &HttpServer{
		options: opts,
		engine:  engine,
		blobs: ttlcache.New[blob.ID, []byte](
			ttlcache.WithTTL[blob.ID, []byte](opts.cacheTTL),
			ttlcache.WithCapacity[blob.ID, []byte](opts.cacheCapacity),
		),
		limiters: ttlcache.New[string, *rate.Limiter](
			ttlcache.WithTTL[string, *rate.Limiter](limiterTTL),
			ttlcache.WithDisableTouchOnHit[string, *rate.Limiter](),
		),
	}
	server.httpServer = &http.Server{
		Handler: server.ServeMux(),
	}
	return server, nil
}

func (m *HttpServer) Start(_ context.Context) error {
	listener, err := net.Listen("tcp", m.httpListenAddr)
	if err != nil {
		return err
	}
	go m.blobs.Start()
	go m.limiters.Start()
	m.started = true
	go func() {
		if err := m.httpServer.Serve(listener); errors.Is(err, http.ErrServerClosed) {
			logger.Info("HTTP server stopped successfully.")
		} else {
			logger.Errorw("HTTP server stopped erroneously.", "err", err)
		}
	}()
	logger.Infow("HTTP server started successfully.", "address", listener.Addr())
	return nil
}

func (m *HttpServer) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v0/blob", m.handleBlobRoot)
	mux.HandleFunc("/v0/blob/", m.handleBlobSubtree)
	mux.HandleFunc("/v0/history", m.handleHistory)
	mux.HandleFunc("/v1/", m.handleAggregatorRead)
	mux.HandleFunc("/blob/", m.handleAggregatorRead)
	mux.HandleFunc("/", m.handleRoot)
	return mux
}

func (m *HttpServer) Shutdown(ctx context.Context) error {
	err := m.httpServer.Shutdown(ctx)
	if m.started {
		m.blobs.Stop()
		m.limiters.Stop()
		m.started = false
	}
	return err
}
