package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidepool-labs/tidepool/blob"
	"github.com/tidepool-labs/tidepool/network"
)

// maxErrorBodySize caps how much of a failed HTTP response is kept as diagnostic text.
const maxErrorBodySize = 4 << 10

var (
	_ Strategy = (*ClientStrategy)(nil)
	_ Strategy = (*HTTPStrategy)(nil)
)

// Strategy is one way of retrieving the content of a blob.
type Strategy interface {
	// Name identifies the strategy in logs.
	Name() string
	Fetch(ctx context.Context, id blob.ID) ([]byte, error)
}

// ClientStrategy retrieves blobs directly from storage nodes using a network.Client.
// The blob is first read as a quilt and its first file returned; if that fails it is read as
// raw content. If the raw read fails with a retryable error, the client is reset and both reads
// are repeated exactly once.
type ClientStrategy struct {
	client network.Client
}

// NewClientStrategy instantiates a ClientStrategy that reads through c.
func NewClientStrategy(c network.Client) *ClientStrategy {
	return &ClientStrategy{client: c}
}

func (s *ClientStrategy) Name() string {
	return "client"
}

func (s *ClientStrategy) Fetch(ctx context.Context, id blob.ID) ([]byte, error) {
	data, err := s.read(ctx, id)
	if err == nil || !network.IsRetryable(err) {
		return data, err
	}
	logger.Infow("Blob store client failed with retryable error; resetting client and retrying", "id", id, "err", err)
	s.client.Reset()
	return s.read(ctx, id)
}

func (s *ClientStrategy) read(ctx context.Context, id blob.ID) ([]byte, error) {
	data, err := s.readQuilt(ctx, id)
	if err == nil {
		return data, nil
	}
	logger.Debugw("Failed to read blob as quilt; falling back on raw read", "id", id, "err", err)
	return s.client.ReadBlob(ctx, id)
}

func (s *ClientStrategy) readQuilt(ctx context.Context, id blob.ID) ([]byte, error) {
	quilt, err := s.client.GetBlob(ctx, id)
	if err != nil {
		return nil, err
	}
	files, err := quilt.Files(ctx)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.New("no files found in blob")
	}
	return files[0].Data, nil
}

// StatusError is returned by an HTTPStrategy when the server responds with a non-2xx status.
// A 404 response matches blob.ErrBlobNotFound.
type StatusError struct {
	Label      string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s download failed: %d - %s", e.Label, e.StatusCode, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == blob.ErrBlobNotFound && e.StatusCode == http.StatusNotFound
}

// HTTPStrategy retrieves blobs with a plain HTTP GET. Any non-2xx response fails the retrieval.
type HTTPStrategy struct {
	name   string
	label  string
	url    func(blob.ID) string
	client *http.Client
}

// NewAggregatorStrategy instantiates an HTTPStrategy reading from the aggregator at e.AggregatorReadURL.
func NewAggregatorStrategy(e blob.Endpoints, c *http.Client) *HTTPStrategy {
	return &HTTPStrategy{name: "aggregator", label: "Aggregator", url: e.AggregatorReadURL, client: c}
}

// NewGatewayStrategy instantiates an HTTPStrategy reading from the gateway at e.GatewayReadURL.
func NewGatewayStrategy(e blob.Endpoints, c *http.Client) *HTTPStrategy {
	return &HTTPStrategy{name: "gateway", label: "Gateway", url: e.GatewayReadURL, client: c}
}

func (s *HTTPStrategy) Name() string {
	return s.name
}

func (s *HTTPStrategy) Fetch(ctx context.Context, id blob.ID) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url(id), nil)
	if err != nil {
		return nil, fmt.Errorf("%s download failed: %w", s.label, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s download failed: %w", s.label, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, &StatusError{Label: s.label, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s download failed: %w", s.label, err)
	}
	return data, nil
}
