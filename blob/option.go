package blob

const (
	Kib = 1 << (10 * (iota + 1))
	Mib
	Gib
)

const (
	defaultMinFreeSpace = 64 * Mib
	defaultChunkSize    = 1 * Mib
	defaultDataShards   = 4
	defaultParityShards = 2
)

// config contains all options for LocalStore.
type config struct {
	minFreeSpace uint64
}

// Option is a function that sets a value in a config.
type Option func(*config)

// getOpts creates a config and applies Options to it.
func getOpts(options []Option) config {
	cfg := config{
		minFreeSpace: defaultMinFreeSpace,
	}
	for _, opt := range options {
		opt(&cfg)
	}
	return cfg
}

// WithMinFreeSpace seta the minimum amount of free dist space that must remain
// after writing a blob. If unset or 0 then defaultMinFreeSpace is used. If -1, then
// no free space checks are performed.
func WithMinFreeSpace(space int64) Option {
	return func(c *config) {
		if space == 0 {
			space = defaultMinFreeSpace
		} else if space < 0 {
			space = 0
		}
		c.minFreeSpace = uint64(space)
	}
}

// encodeConfig contains all options for Encode.
type encodeConfig struct {
	chunkSize    int64
	dataShards   int
	parityShards int
}

// EncodeOption is a function that sets a value in an encodeConfig.
type EncodeOption func(*encodeConfig)

func getEncodeOpts(options []EncodeOption) encodeConfig {
	cfg := encodeConfig{
		chunkSize:    defaultChunkSize,
		dataShards:   defaultDataShards,
		parityShards: defaultParityShards,
	}
	for _, opt := range options {
		opt(&cfg)
	}
	return cfg
}

// WithChunkSize sets the size of chunks the content commitment is computed over.
// Defaults to 1 MiB.
func WithChunkSize(size int64) EncodeOption {
	return func(c *encodeConfig) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithShards sets the number of data and parity slivers a blob is erasure coded into.
// Defaults to 4 data and 2 parity slivers.
func WithShards(data, parity int) EncodeOption {
	return func(c *encodeConfig) {
		c.dataShards = data
		c.parityShards = parity
	}
}
