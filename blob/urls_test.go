package blob_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidepool-labs/tidepool/blob"
)

func TestDerivedURLs(t *testing.T) {
	endpoints := blob.DefaultEndpoints()
	id := blob.ID("abc123")

	require.Equal(t, "https://aggregator.walrus-testnet.walrus.space/v1/abc123", endpoints.BlobURL(id))
	require.Equal(t, "https://walruscan.com/testnet/blob/abc123", endpoints.ScanURL(id))
	require.Equal(t, "https://gateway.walrus-testnet.walrus.space/v1/abc123", endpoints.GatewayReadURL(id))

	gateway, err := endpoints.GatewayURL(id)
	require.NoError(t, err)
	require.Equal(t, "https://gateway.walrus-testnet.walrus.space/blob/abc123", gateway)

	_, err = endpoints.GatewayURL("")
	require.True(t, blob.IsValidationError(err))
}

func TestDerivedURLsTrimTrailingSlash(t *testing.T) {
	endpoints := blob.Endpoints{Aggregator: "http://localhost:31415/", Scan: "http://scan/"}
	require.Equal(t, "http://localhost:31415/v1/abc123", endpoints.BlobURL("abc123"))
	require.Equal(t, "http://scan/blob/abc123", endpoints.ScanURL("abc123"))
}

func TestParseID(t *testing.T) {
	id, err := blob.ParseID("  abc123\n")
	require.NoError(t, err)
	require.Equal(t, blob.ID("abc123"), id)

	id, err = blob.ParseID("abc123")
	require.NoError(t, err)
	require.Equal(t, "abc123", id.String())

	for _, v := range []string{"", "   ", "\t\n"} {
		_, err := blob.ParseID(v)
		require.True(t, blob.IsValidationError(err))
	}
}
