package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tidepool-labs/tidepool/api"
	"github.com/tidepool-labs/tidepool/blob"
	"github.com/urfave/cli/v2"
)

var httpClient = &http.Client{Timeout: 10 * time.Minute}

var uploadCommand = &cli.Command{
	Name:      "upload",
	Usage:     "Uploads a file as a new blob",
	ArgsUsage: "<file>",
	Flags: []cli.Flag{
		endpointFlag,
		&cli.IntFlag{
			Name:        "epochs",
			Usage:       "The number of epochs to store the blob for",
			DefaultText: "server default",
		},
	},
	Action: func(cctx *cli.Context) error {
		path := cctx.Args().First()
		if path == "" {
			return errors.New("file to upload must be specified")
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		query := url.Values{"filename": {filepath.Base(path)}}
		if epochs := cctx.Int("epochs"); epochs > 0 {
			query.Set("epochs", strconv.Itoa(epochs))
		}
		target, err := apiURL(cctx, query, "v0", "blob")
		if err != nil {
			return err
		}
		resp, err := httpClient.Post(target, "application/octet-stream", f)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			return responseError(resp)
		}
		var posted api.PostBlobResponse
		if err := json.NewDecoder(resp.Body).Decode(&posted); err != nil {
			return err
		}
		w := cctx.App.Writer
		fmt.Fprintf(w, "Blob ID:    %s\n", posted.ID)
		fmt.Fprintf(w, "Size:       %s\n", posted.FormattedSize)
		printURLs(w, posted.URLs)
		return nil
	},
}

var getCommand = &cli.Command{
	Name:      "get",
	Usage:     "Downloads the content of a blob",
	ArgsUsage: "<blob-id>",
	Flags: []cli.Flag{
		endpointFlag,
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "The path to write the content to",
			DefaultText: "<blob-id>.bin in current directory",
		},
	},
	Action: func(cctx *cli.Context) error {
		id, err := blob.ParseID(cctx.Args().First())
		if err != nil {
			return err
		}
		target, err := apiURL(cctx, nil, "v0", "blob", string(id))
		if err != nil {
			return err
		}
		resp, err := httpClient.Get(target)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return responseError(resp)
		}
		output := cctx.String("output")
		if output == "" {
			output = string(id) + ".bin"
			if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
				output = filepath.Base(params["filename"])
			}
		}
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		n, err := io.Copy(f, resp.Body)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "Wrote %s to %s\n", blob.SizeString(n), output)
		return nil
	},
}

var urlsCommand = &cli.Command{
	Name:      "urls",
	Usage:     "Prints the URLs at which a blob can be viewed",
	ArgsUsage: "<blob-id>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "aggregator", Value: blob.DefaultAggregatorURL, EnvVars: []string{"TIDEPOOL_AGGREGATOR_URL"}},
		&cli.StringFlag{Name: "gateway", Value: blob.DefaultGatewayURL, EnvVars: []string{"TIDEPOOL_GATEWAY_URL"}},
		&cli.StringFlag{Name: "scan", Value: blob.DefaultScanURL, EnvVars: []string{"TIDEPOOL_SCAN_URL"}},
	},
	Action: func(cctx *cli.Context) error {
		id, err := blob.ParseID(cctx.Args().First())
		if err != nil {
			return err
		}
		endpoints := blob.Endpoints{
			Aggregator: cctx.String("aggregator"),
			Gateway:    cctx.String("gateway"),
			Scan:       cctx.String("scan"),
		}
		gateway, err := endpoints.GatewayURL(id)
		if err != nil {
			return err
		}
		printURLs(cctx.App.Writer, api.BlobURLs{
			Aggregator: endpoints.BlobURL(id),
			Gateway:    gateway,
			Scan:       endpoints.ScanURL(id),
		})
		return nil
	},
}

var historyCommand = &cli.Command{
	Name:  "history",
	Usage: "Lists the most recent uploads, newest first",
	Flags: []cli.Flag{endpointFlag},
	Action: func(cctx *cli.Context) error {
		target, err := apiURL(cctx, nil, "v0", "history")
		if err != nil {
			return err
		}
		resp, err := httpClient.Get(target)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return responseError(resp)
		}
		var history api.GetHistoryResponse
		if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
			return err
		}
		w := cctx.App.Writer
		if len(history.Uploads) == 0 {
			fmt.Fprintln(w, "No uploads yet.")
			return nil
		}
		for _, u := range history.Uploads {
			fmt.Fprintf(w, "%s  %-10s  %s  %s\n", u.UploadDate.Local().Format(time.DateTime), u.FormattedSize, u.ID, u.FileName)
		}
		return nil
	},
}

var deleteCommand = &cli.Command{
	Name:      "delete",
	Usage:     "Deletes a deletable blob owned by the server key",
	ArgsUsage: "<blob-id>",
	Flags:     []cli.Flag{endpointFlag},
	Action: func(cctx *cli.Context) error {
		id, err := blob.ParseID(cctx.Args().First())
		if err != nil {
			return err
		}
		target, err := apiURL(cctx, nil, "v0", "blob", string(id))
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(cctx.Context, http.MethodDelete, target, nil)
		if err != nil {
			return err
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			return responseError(resp)
		}
		fmt.Fprintln(cctx.App.Writer, "Deleted", id)
		return nil
	},
}

func apiURL(cctx *cli.Context, query url.Values, elem ...string) (string, error) {
	joined, err := url.JoinPath(cctx.String("endpoint"), elem...)
	if err != nil {
		return "", err
	}
	if len(query) != 0 {
		joined += "?" + query.Encode()
	}
	return joined, nil
}

func printURLs(w io.Writer, urls api.BlobURLs) {
	fmt.Fprintf(w, "Aggregator: %s\n", urls.Aggregator)
	fmt.Fprintf(w, "Gateway:    %s\n", urls.Gateway)
	fmt.Fprintf(w, "Explorer:   %s\n", urls.Scan)
}

func responseError(resp *http.Response) error {
	var errResp api.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<10)).Decode(&errResp); err == nil && errResp.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, errResp.Error)
	}
	return errors.New(resp.Status)
}
