package tidepool

import (
	"os"
	"path/filepath"

	"github.com/tidepool-labs/tidepool/api/server"
	"github.com/tidepool-labs/tidepool/config"
	"github.com/tidepool-labs/tidepool/ledger"
)

type (
	// Option represents a configurable parameter in Tidepool service.
	Option  func(*options) error
	options struct {
		config         *config.Config
		serverOptions  []server.Option
		keyStoreOpener func() (*ledger.DiskKeyStore, error)
		readOnly       bool
	}
)

func newOptions(o ...Option) (*options, error) {
	opts := &options{}
	for _, apply := range o {
		if err := apply(opts); err != nil {
			return nil, err
		}
	}
	if opts.config == nil {
		dir := filepath.Join(os.TempDir(), "tidepool")
		logger.Warnw("No configuration is specified. Falling back on defaults with store in temporary directory.", "dir", dir)
		opts.config = config.GenerateConfig(dir)
	}
	if err := opts.config.Validate(); err != nil {
		return nil, err
	}
	if opts.keyStoreOpener == nil {
		opts.keyStoreOpener = ledger.DefaultDiskKeyStoreOpener(filepath.Join(opts.config.StoreDir, "keystore"), true)
	}
	return opts, nil
}

// WithConfig sets the configuration every component is instantiated from.
// Defaults to config.GenerateConfig with a store directory under os.TempDir.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		o.config = cfg
		return nil
	}
}

// WithServerOptions sets additional options to be used when instantiating server.HttpServer.
// They are applied after the options derived from the configuration.
func WithServerOptions(serverOptions ...server.Option) Option {
	return func(o *options) error {
		o.serverOptions = serverOptions
		return nil
	}
}

// WithKeyStoreOpener sets the function used to open the keystore holding the signing key.
// Defaults to a disk keystore under the configured store directory, created if it does not exist.
func WithKeyStoreOpener(opener func() (*ledger.DiskKeyStore, error)) Option {
	return func(o *options) error {
		o.keyStoreOpener = opener
		return nil
	}
}

// WithReadOnly disables uploads and deletions, in which case no signing key is loaded.
func WithReadOnly(readOnly bool) Option {
	return func(o *options) error {
		o.readOnly = readOnly
		return nil
	}
}
