package server

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/tidepool-labs/tidepool/blob"
	"github.com/tidepool-labs/tidepool/history"
	"github.com/tidepool-labs/tidepool/ledger"
	"github.com/tidepool-labs/tidepool/transfer"
)

type (
	Option  func(*options) error
	options struct {
		httpListenAddr string
		maxBlobLength  uint64
		endpoints      blob.Endpoints
		history        history.Store
		signer         ledger.Signer
		owner          ledger.Address
		uploadOptions  []transfer.UploadOption
		directReader   transfer.Strategy
		cacheTTL       time.Duration
		cacheCapacity  uint64
		rateLimit      float64
		rateBurst      int
		trustedProxies map[string]struct{}
	}
)

func newOptions(o ...Option) (*options, error) {
	opts := &options{
		httpListenAddr: "0.0.0.0:40080",
		maxBlobLength:  1 << 30, // 1 GiB
		endpoints:      blob.DefaultEndpoints(),
		cacheTTL:       5 * time.Minute,
		cacheCapacity:  256,
		rateLimit:      1,
		rateBurst:      5,
	}
	for _, apply := range o {
		if err := apply(opts); err != nil {
			return nil, err
		}
	}
	return opts, nil
}

func WithHttpListenAddr(addr string) Option {
	return func(o *options) error {
		o.httpListenAddr = addr
		return nil
	}
}

func WithMaxBlobLength(l uint64) Option {
	return func(o *options) error {
		o.maxBlobLength = l
		return nil
	}
}

// WithEndpoints sets the endpoints the URLs returned to clients are derived from.
func WithEndpoints(e blob.Endpoints) Option {
	return func(o *options) error {
		o.endpoints = e
		return nil
	}
}

// WithHistory sets the store successful uploads are recorded in.
// Without it uploads are not recorded and the history endpoint responds with an empty list.
func WithHistory(h history.Store) Option {
	return func(o *options) error {
		o.history = h
		return nil
	}
}

// WithSigner sets the signer and owner address used for uploads and deletions.
// Without it the server only serves reads.
func WithSigner(s ledger.Signer, owner ledger.Address) Option {
	return func(o *options) error {
		if s == nil || owner == "" {
			return errors.New("signer and owner must both be specified")
		}
		o.signer = s
		o.owner = owner
		return nil
	}
}

// WithUploadOptions sets the options applied to every upload.
func WithUploadOptions(uo ...transfer.UploadOption) Option {
	return func(o *options) error {
		o.uploadOptions = uo
		return nil
	}
}

// WithDirectReader sets the strategy used to serve aggregator-compatible reads at /v1/{id} and
// /blob/{id}. It should not fall back on HTTP endpoints, since those may point at this server.
// Without it those paths are not served.
func WithDirectReader(s transfer.Strategy) Option {
	return func(o *options) error {
		o.directReader = s
		return nil
	}
}

// WithCache sets the lifetime and capacity of the cache of retrieved blobs.
func WithCache(ttl time.Duration, capacity uint64) Option {
	return func(o *options) error {
		if ttl <= 0 {
			return errors.New("cache ttl must be positive")
		}
		o.cacheTTL = ttl
		o.cacheCapacity = capacity
		return nil
	}
}

// WithUploadRateLimit sets the number of uploads per second and burst allowed per client address.
func WithUploadRateLimit(limit float64, burst int) Option {
	return func(o *options) error {
		if limit <= 0 || burst <= 0 {
			return errors.New("upload rate limit and burst must be positive")
		}
		o.rateLimit = limit
		o.rateBurst = burst
		return nil
	}
}

// WithTrustedProxies sets the peer IPs whose X-Forwarded-For header identifies the client for
// upload rate limiting. Requests from any other peer are limited by their own address.
// Defaults to none.
func WithTrustedProxies(ips ...string) Option {
	return func(o *options) error {
		trusted := make(map[string]struct{}, len(ips))
		for _, ip := range ips {
			if net.ParseIP(ip) == nil {
				return fmt.Errorf("trusted proxy must be an IP address: %q", ip)
			}
			trusted[ip] = struct{}{}
		}
		o.trustedProxies = trusted
		return nil
	}
}
