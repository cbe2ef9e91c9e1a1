package api

import "time"

type (
	// PostBlobResponse represents the response to a successful POST request to upload a blob.
	PostBlobResponse struct {
		// ID is the unique identifier for the uploaded blob.
		ID string `json:"id"`
		// Size is the number of bytes uploaded.
		Size int64 `json:"size"`
		// FormattedSize is Size in human-readable form, e.g. "1.5 KB".
		FormattedSize string `json:"formattedSize"`
		// URLs are the locations at which the blob can be viewed.
		URLs BlobURLs `json:"urls"`
	}
	// BlobURLs are the derived URLs for viewing a blob.
	BlobURLs struct {
		Aggregator string `json:"aggregator"`
		Gateway    string `json:"gateway"`
		Scan       string `json:"scan"`
	}
	// GetURLsResponse represents the response to a GET request for the URLs of a blob.
	GetURLsResponse struct {
		ID   string   `json:"id"`
		URLs BlobURLs `json:"urls"`
	}
	// ErrorResponse represents the response that signal an error has occurred.
	ErrorResponse struct {
		// Error is the description of the error.
		Error string `json:"error"`
	}
	GetHistoryResponse struct {
		Uploads []Upload `json:"uploads"`
	}
	Upload struct {
		ID            string    `json:"id"`
		Size          int64     `json:"size"`
		FormattedSize string    `json:"formattedSize"`
		FileName      string    `json:"fileName"`
		UploadDate    time.Time `json:"uploadDate"`
		URLs          BlobURLs  `json:"urls"`
	}
)
