package main

import (
	"os"
	"path/filepath"

	"github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
)

var logger = log.Logger("tidepool/cmd")

var (
	storeDirFlag = &cli.StringFlag{
		Name:        "storeDir",
		Usage:       "The path at which to store Tidepool data",
		DefaultText: "tidepool under OS temporary directory",
		Value:       filepath.Join(os.TempDir(), "tidepool"),
		EnvVars:     []string{"TIDEPOOL_STORE_DIR"},
	}
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "The path to the YAML configuration file",
		EnvVars: []string{"TIDEPOOL_CONFIG"},
	}
	endpointFlag = &cli.StringFlag{
		Name:    "endpoint",
		Usage:   "The Tidepool HTTP API endpoint",
		Value:   "http://localhost:40080",
		EnvVars: []string{"TIDEPOOL_API_ENDPOINT"},
	}
)

func main() {
	if _, set := os.LookupEnv("GOLOG_LOG_LEVEL"); !set {
		_ = log.SetLogLevel("*", "INFO")
	}
	app := cli.App{
		Name:  "tidepool",
		Usage: "Erasure-coded blob storage with ledger-tracked lifetimes",
		Commands: []*cli.Command{
			serveCommand,
			configInitCommand,
			keygenCommand,
			uploadCommand,
			getCommand,
			urlsCommand,
			historyCommand,
			deleteCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}
