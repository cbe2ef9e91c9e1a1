package network

import (
	"errors"
	"os"
	"path/filepath"
	"time"
)

type (
	// Option represents a configurable parameter of the local network.
	Option  func(*options) error
	options struct {
		storeDir       string
		nodeCount      int
		dataShards     int
		parityShards   int
		minFreeSpace   int64
		epochDuration  time.Duration
		maxEpochsAhead int
		genesis        time.Time
		clock          func() time.Time
		expiryInterval time.Duration
	}
)

func newOptions(o ...Option) (*options, error) {
	opts := &options{
		dataShards:     4,
		parityShards:   2,
		epochDuration:  24 * time.Hour,
		maxEpochsAhead: 53,
		clock:          time.Now,
		expiryInterval: time.Hour,
	}
	for _, apply := range o {
		if err := apply(opts); err != nil {
			return nil, err
		}
	}
	if opts.storeDir == "" {
		opts.storeDir = filepath.Join(os.TempDir(), "tidepool-network")
		logger.Warnw("No store directory is specified. Falling back on temporary directory.", "dir", opts.storeDir)
	}
	if opts.dataShards <= 0 || opts.parityShards < 0 {
		return nil, errors.New("data shards must be positive and parity shards must not be negative")
	}
	if opts.nodeCount == 0 {
		opts.nodeCount = opts.dataShards + opts.parityShards
	}
	if opts.nodeCount < 0 {
		return nil, errors.New("node count must not be negative")
	}
	if opts.epochDuration <= 0 {
		return nil, errors.New("epoch duration must be positive")
	}
	if opts.genesis.IsZero() {
		opts.genesis = opts.clock()
	}
	return opts, nil
}

// WithStoreDir sets the directory under which each storage node keeps its slivers.
// Defaults to a directory under os.TempDir.
func WithStoreDir(dir string) Option {
	return func(o *options) error {
		o.storeDir = dir
		return nil
	}
}

// WithNodeCount sets the number of storage nodes. Slivers are assigned to nodes round-robin.
// Defaults to one node per sliver.
func WithNodeCount(n int) Option {
	return func(o *options) error {
		o.nodeCount = n
		return nil
	}
}

// WithShards sets the number of data and parity slivers each blob is encoded into.
// Defaults to 4 data and 2 parity slivers.
func WithShards(data, parity int) Option {
	return func(o *options) error {
		o.dataShards = data
		o.parityShards = parity
		return nil
	}
}

// WithMinFreeSpace sets the free disk space each storage node must retain. See blob.WithMinFreeSpace.
func WithMinFreeSpace(space int64) Option {
	return func(o *options) error {
		o.minFreeSpace = space
		return nil
	}
}

// WithEpochDuration sets the length of a storage epoch. Defaults to one day.
func WithEpochDuration(d time.Duration) Option {
	return func(o *options) error {
		o.epochDuration = d
		return nil
	}
}

// WithMaxEpochsAhead sets the maximum number of epochs storage may be reserved for. Defaults to 53.
func WithMaxEpochsAhead(n int) Option {
	return func(o *options) error {
		o.maxEpochsAhead = n
		return nil
	}
}

// WithGenesis sets the start time of epoch zero. Defaults to the time the network is instantiated.
func WithGenesis(t time.Time) Option {
	return func(o *options) error {
		o.genesis = t
		return nil
	}
}

// WithClock sets the function used to tell the current time. Defaults to time.Now.
func WithClock(clock func() time.Time) Option {
	return func(o *options) error {
		if clock == nil {
			return errors.New("clock must not be nil")
		}
		o.clock = clock
		return nil
	}
}

// WithExpiryInterval sets how often slivers of expired or deleted blobs are removed. Defaults to one hour.
func WithExpiryInterval(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return errors.New("expiry interval must be positive")
		}
		o.expiryInterval = d
		return nil
	}
}
