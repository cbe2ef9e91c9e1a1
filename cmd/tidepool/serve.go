package main

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/tidepool-labs/tidepool"
	"github.com/tidepool-labs/tidepool/config"
	"github.com/tidepool-labs/tidepool/ledger"
	"github.com/urfave/cli/v2"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Runs the storage network and serves the HTTP API",
	Flags: []cli.Flag{
		storeDirFlag,
		configFlag,
		&cli.BoolFlag{
			Name:    "readOnly",
			Usage:   "Whether to disable uploads and deletions",
			EnvVars: []string{"TIDEPOOL_READ_ONLY"},
		},
	},
	Action: func(cctx *cli.Context) error {
		cfg, err := loadOrGenerateConfig(cctx)
		if err != nil {
			return err
		}
		t, err := tidepool.New(
			tidepool.WithConfig(cfg),
			tidepool.WithReadOnly(cctx.Bool("readOnly")),
		)
		if err != nil {
			logger.Fatalw("Failed to instantiate Tidepool", "err", err)
		}
		ctx := cctx.Context

		if err := t.Start(ctx); err != nil {
			logger.Fatalw("Failed to start Tidepool", "err", err)
		}
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt)
		<-c
		logger.Info("Terminating...")
		if err := t.Shutdown(ctx); err != nil {
			logger.Warnw("Failure occurred while shutting down Tidepool.", "err", err)
		}
		logger.Info("Shut down Tidepool successfully.")
		return nil
	},
}

var configInitCommand = &cli.Command{
	Name:  "config-init",
	Usage: "Writes a configuration file populated with defaults",
	Flags: []cli.Flag{
		storeDirFlag,
		&cli.StringFlag{
			Name:    "config",
			Usage:   "The path at which to write the configuration file",
			Value:   "tidepool.yaml",
			EnvVars: []string{"TIDEPOOL_CONFIG"},
		},
	},
	Action: func(cctx *cli.Context) error {
		path := cctx.String("config")
		if err := config.GenerateConfig(cctx.String("storeDir")).Write(path); err != nil {
			return fmt.Errorf("failed to write configuration: %w", err)
		}
		fmt.Fprintln(cctx.App.Writer, "Wrote configuration to", path)
		return nil
	},
}

var keygenCommand = &cli.Command{
	Name:  "keygen",
	Usage: "Generates the signing key used to own uploaded blobs, or prints its address if it exists",
	Flags: []cli.Flag{
		storeDirFlag,
		&cli.StringFlag{
			Name:  "name",
			Usage: "The name of the key",
			Value: "default",
		},
	},
	Action: func(cctx *cli.Context) error {
		opener := ledger.DefaultDiskKeyStoreOpener(filepath.Join(cctx.String("storeDir"), "keystore"), true)
		ks, err := opener()
		if err != nil {
			return err
		}
		key, err := ks.PrivateKey(cctx.String("name"), true)
		if err != nil {
			return err
		}
		fmt.Fprintln(cctx.App.Writer, ledger.AddressFromPublicKey(key.Public().(ed25519.PublicKey)))
		return nil
	},
}

func loadOrGenerateConfig(cctx *cli.Context) (*config.Config, error) {
	path := cctx.String("config")
	if path == "" {
		logger.Infow("No configuration file is specified. Using defaults.", "storeDir", cctx.String("storeDir"))
		return config.GenerateConfig(cctx.String("storeDir")), nil
	}
	switch cfg, err := config.LoadConfig(path); {
	case err == nil:
		logger.Infow("Loaded configuration", "path", path)
		return cfg, nil
	case errors.Is(err, config.ErrConfigFileUnreadable) && !fileExists(path):
		logger.Infow("Configuration file does not exist. Writing defaults.", "path", path)
		cfg := config.GenerateConfig(cctx.String("storeDir"))
		if err := cfg.Write(path); err != nil {
			return nil, err
		}
		return cfg, nil
	default:
		return nil, err
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
