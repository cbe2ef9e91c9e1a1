package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tidepool-labs/tidepool/blob"
	"gopkg.in/yaml.v3"
)

type Network struct {
	Nodes          int           `yaml:"nodes"`
	DataShards     int           `yaml:"dataShards"`
	ParityShards   int           `yaml:"parityShards"`
	EpochDuration  time.Duration `yaml:"epochDuration"`
	MaxEpochsAhead int           `yaml:"maxEpochsAhead"`
	ExpiryInterval time.Duration `yaml:"expiryInterval"`
	MinFreeSpace   int64         `yaml:"minFreeSpace"` // -1 disables the free space check
}

type Upload struct {
	Epochs    int           `yaml:"epochs"`
	Deletable bool          `yaml:"deletable"`
	Timeout   time.Duration `yaml:"timeout"`
}

type Retrieval struct {
	HTTPTimeout time.Duration `yaml:"httpTimeout"`
}

type Cache struct {
	TTL      time.Duration `yaml:"ttl"`
	Capacity uint64        `yaml:"capacity"`
}

type RateLimiter struct {
	Limit          float64  `yaml:"limit"` // Uploads per second per client
	Burst          int      `yaml:"burst"`
	TrustedProxies []string `yaml:"trustedProxies,omitempty"` // Peers whose X-Forwarded-For identifies the client
}

type Config struct {
	StoreDir       string         `yaml:"storeDir"`
	HTTPListenAddr string         `yaml:"httpListenAddr"`
	KeyName        string         `yaml:"keyName"`
	Endpoints      blob.Endpoints `yaml:"endpoints"`
	Network        Network        `yaml:"network"`
	Upload         Upload         `yaml:"upload"`
	Retrieval      Retrieval      `yaml:"retrieval"`
	Cache          Cache          `yaml:"cache"`
	RateLimiter    RateLimiter    `yaml:"rateLimiter"`
}

var (
	ErrConfigFileUnreadable        = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable    = errors.New("config file is unmarshallable")
	ErrStoreDirMissing             = errors.New("storeDir is missing in config")
	ErrHTTPListenAddrMissing       = errors.New("httpListenAddr is missing in config")
	ErrKeyNameMissing              = errors.New("keyName is missing in config")
	ErrAggregatorMissing           = errors.New("endpoints.aggregator is missing in config")
	ErrGatewayMissing              = errors.New("endpoints.gateway is missing in config")
	ErrScanMissing                 = errors.New("endpoints.scan is missing in config")
	ErrNetworkShardsInvalid        = errors.New("network.dataShards must be positive and network.parityShards must not be negative")
	ErrNetworkNodesInvalid         = errors.New("network.nodes must not be negative")
	ErrNetworkEpochDurationMissing = errors.New("network.epochDuration is missing or invalid in config")
	ErrNetworkMaxEpochsMissing     = errors.New("network.maxEpochsAhead is missing or invalid in config")
	ErrNetworkExpiryMissing        = errors.New("network.expiryInterval is missing or invalid in config")
	ErrUploadTimeoutMissing        = errors.New("upload.timeout is missing or invalid in config")
	ErrRetrievalTimeoutMissing     = errors.New("retrieval.httpTimeout is missing or invalid in config")
	ErrCacheTTLMissing             = errors.New("cache.ttl is missing or invalid in config")
	ErrRateLimiterLimitMissing     = errors.New("rateLimiter.limit is missing or invalid in config")
)

// LoadConfig reads and validates the YAML configuration file at configFile.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigFileUnreadable, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigFileUnmarshallable, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that every required field is set.
func (cfg *Config) Validate() error {
	switch {
	case cfg.StoreDir == "":
		return ErrStoreDirMissing
	case cfg.HTTPListenAddr == "":
		return ErrHTTPListenAddrMissing
	case cfg.KeyName == "":
		return ErrKeyNameMissing
	case cfg.Endpoints.Aggregator == "":
		return ErrAggregatorMissing
	case cfg.Endpoints.Gateway == "":
		return ErrGatewayMissing
	case cfg.Endpoints.Scan == "":
		return ErrScanMissing
	case cfg.Network.DataShards <= 0 || cfg.Network.ParityShards < 0:
		return ErrNetworkShardsInvalid
	case cfg.Network.Nodes < 0:
		return ErrNetworkNodesInvalid
	case cfg.Network.EpochDuration <= 0:
		return ErrNetworkEpochDurationMissing
	case cfg.Network.MaxEpochsAhead <= 0:
		return ErrNetworkMaxEpochsMissing
	case cfg.Network.ExpiryInterval <= 0:
		return ErrNetworkExpiryMissing
	case cfg.Upload.Timeout <= 0:
		return ErrUploadTimeoutMissing
	case cfg.Retrieval.HTTPTimeout <= 0:
		return ErrRetrievalTimeoutMissing
	case cfg.Cache.TTL <= 0:
		return ErrCacheTTLMissing
	case cfg.RateLimiter.Limit <= 0:
		return ErrRateLimiterLimitMissing
	}
	return nil
}

// GenerateConfig returns a configuration populated with defaults that stores its data under storeDir.
func GenerateConfig(storeDir string) *Config {
	return &Config{
		StoreDir:       storeDir,
		HTTPListenAddr: "0.0.0.0:40080",
		KeyName:        "default",
		Endpoints:      blob.DefaultEndpoints(),
		Network: Network{
			DataShards:     4,
			ParityShards:   2,
			EpochDuration:  24 * time.Hour,
			MaxEpochsAhead: 53,
			ExpiryInterval: time.Hour,
		},
		Upload: Upload{
			Epochs:    5,
			Deletable: true,
			Timeout:   10 * time.Minute,
		},
		Retrieval: Retrieval{
			HTTPTimeout: 30 * time.Second,
		},
		Cache: Cache{
			TTL:      5 * time.Minute,
			Capacity: 256,
		},
		RateLimiter: RateLimiter{
			Limit: 1,
			Burst: 5,
		},
	}
}

// Write writes cfg as YAML to configFile, refusing to overwrite an existing file.
func (cfg *Config) Write(configFile string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(configFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
