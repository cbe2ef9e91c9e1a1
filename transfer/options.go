package transfer

import (
	"errors"
	"net/http"
	"time"

	"github.com/tidepool-labs/tidepool/blob"
	"github.com/tidepool-labs/tidepool/ledger"
	"github.com/tidepool-labs/tidepool/network"
)

const (
	// DefaultHTTPTimeout bounds each request made by the HTTP retrieval strategies.
	DefaultHTTPTimeout = 30 * time.Second
	// DefaultEpochs is the number of epochs storage is reserved for unless specified otherwise.
	DefaultEpochs = 5
	// DefaultIdentifier names the payload within its blob when the payload carries no identifier.
	DefaultIdentifier = "vault-data"
)

type (
	// Option represents a configurable parameter of Engine.
	Option  func(*options) error
	options struct {
		client        network.Client
		ledger        ledger.Reader
		endpoints     blob.Endpoints
		httpClient    *http.Client
		httpTimeout   time.Duration
		uploadTimeout time.Duration
		strategies    []Strategy
	}

	// UploadOption represents a configurable parameter of a single upload.
	UploadOption  func(*uploadOptions)
	uploadOptions struct {
		epochs    int
		deletable bool
	}
)

func newOptions(o ...Option) (*options, error) {
	opts := &options{
		endpoints:     blob.DefaultEndpoints(),
		httpTimeout:   DefaultHTTPTimeout,
		uploadTimeout: network.DefaultUploadTimeout,
	}
	for _, apply := range o {
		if err := apply(opts); err != nil {
			return nil, err
		}
	}
	if opts.httpClient == nil {
		opts.httpClient = &http.Client{Timeout: opts.httpTimeout}
	}
	if opts.strategies == nil {
		if opts.client != nil {
			opts.strategies = append(opts.strategies, NewClientStrategy(opts.client))
		} else {
			logger.Warn("No blob store client is specified. Retrieval will only use HTTP endpoints.")
		}
		opts.strategies = append(opts.strategies,
			NewAggregatorStrategy(opts.endpoints, opts.httpClient),
			NewGatewayStrategy(opts.endpoints, opts.httpClient),
		)
	}
	return opts, nil
}

// WithClient sets the blob store client used for uploads, deletions and direct retrieval.
// Uploads and deletions fail if no client is set.
func WithClient(c network.Client) Option {
	return func(o *options) error {
		o.client = c
		return nil
	}
}

// WithLedger sets the ledger reader used to look up blob objects and wait for transactions.
// Required for Engine.Delete.
func WithLedger(r ledger.Reader) Option {
	return func(o *options) error {
		o.ledger = r
		return nil
	}
}

// WithEndpoints sets the aggregator and gateway endpoints used by the HTTP retrieval strategies.
// Defaults to blob.DefaultEndpoints.
func WithEndpoints(e blob.Endpoints) Option {
	return func(o *options) error {
		o.endpoints = e
		return nil
	}
}

// WithHTTPClient sets the HTTP client used by the HTTP retrieval strategies.
// Its timeout must be finite; defaults to a client with DefaultHTTPTimeout.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) error {
		if c == nil || c.Timeout <= 0 {
			return errors.New("http client must have a finite timeout")
		}
		o.httpClient = c
		return nil
	}
}

// WithHTTPTimeout sets the per-request timeout of the default HTTP client.
// Defaults to DefaultHTTPTimeout.
func WithHTTPTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return errors.New("http timeout must be positive")
		}
		o.httpTimeout = d
		return nil
	}
}

// WithUploadTimeout sets the ceiling imposed on transmitting a blob to storage nodes.
// Defaults to network.DefaultUploadTimeout.
func WithUploadTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return errors.New("upload timeout must be positive")
		}
		o.uploadTimeout = d
		return nil
	}
}

// WithStrategies overrides the ordered list of retrieval strategies.
// Defaults to the direct client, followed by the aggregator and then the gateway.
func WithStrategies(s ...Strategy) Option {
	return func(o *options) error {
		if len(s) == 0 {
			return errors.New("at least one retrieval strategy must be specified")
		}
		o.strategies = s
		return nil
	}
}

func newUploadOptions(o ...UploadOption) *uploadOptions {
	opts := &uploadOptions{
		epochs:    DefaultEpochs,
		deletable: true,
	}
	for _, apply := range o {
		apply(opts)
	}
	return opts
}

// WithEpochs sets the number of epochs storage is reserved for.
// Zero or negative values keep DefaultEpochs.
func WithEpochs(n int) UploadOption {
	return func(o *uploadOptions) {
		if n > 0 {
			o.epochs = n
		}
	}
}

// WithDeletable sets whether the owner may delete the blob before it expires. Defaults to true.
func WithDeletable(d bool) UploadOption {
	return func(o *uploadOptions) {
		o.deletable = d
	}
}
