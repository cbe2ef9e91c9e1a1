package blob

import "strings"

const (
	DefaultAggregatorURL = "https://aggregator.walrus-testnet.walrus.space"
	DefaultGatewayURL    = "https://gateway.walrus-testnet.walrus.space"
	DefaultScanURL       = "https://walruscan.com/testnet"
)

// Endpoints are the base URLs that blob viewing and retrieval URLs are derived from.
type Endpoints struct {
	Aggregator string `yaml:"aggregator"`
	Gateway    string `yaml:"gateway"`
	Scan       string `yaml:"scan"`
}

// DefaultEndpoints returns the public testnet endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Aggregator: DefaultAggregatorURL,
		Gateway:    DefaultGatewayURL,
		Scan:       DefaultScanURL,
	}
}

// BlobURL returns the aggregator URL at which the blob can be viewed or downloaded.
func (e Endpoints) BlobURL(id ID) string {
	return base(e.Aggregator) + "/v1/" + string(id)
}

// GatewayURL returns the gateway URL linking to the blob.
func (e Endpoints) GatewayURL(id ID) (string, error) {
	if id == "" {
		return "", &ValidationError{Field: "blob ID", Reason: "empty string"}
	}
	return base(e.Gateway) + "/blob/" + string(id), nil
}

// ScanURL returns the explorer URL for inspecting the blob on-chain.
func (e Endpoints) ScanURL(id ID) string {
	return base(e.Scan) + "/blob/" + string(id)
}

// AggregatorReadURL returns the URL the aggregator serves the blob content at.
func (e Endpoints) AggregatorReadURL(id ID) string {
	return e.BlobURL(id)
}

// GatewayReadURL returns the URL the gateway serves the blob content at.
func (e Endpoints) GatewayReadURL(id ID) string {
	return base(e.Gateway) + "/v1/" + string(id)
}

func base(u string) string {
	return strings.TrimRight(u, "/")
}
