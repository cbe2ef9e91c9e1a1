package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/tidepool-labs/tidepool/api"
	"github.com/tidepool-labs/tidepool/blob"
	"github.com/tidepool-labs/tidepool/transfer"
)

func (m *HttpServer) handleBlobRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set(httpHeaderAllow(http.MethodPost, http.MethodOptions))
	case http.MethodPost:
		m.handlePostBlob(w, r)
	default:
		respondWithNotAllowed(w, http.MethodPost, http.MethodOptions)
	}
}

func (m *HttpServer) handlePostBlob(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Content-Type") != "application/octet-stream" {
		respondWithJson(w, errResponseNotStreamContentType, http.StatusBadRequest)
		return
	}
	if m.signer == nil {
		respondWithJson(w, errResponseWritesDisabled, http.StatusNotImplemented)
		return
	}
	if ok, retryAfter := m.allowUpload(r); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		respondWithJson(w, errResponseTooManyRequests, http.StatusTooManyRequests)
		return
	}
	body := r.Body
	var contentLength uint64
	if value := r.Header.Get("Content-Length"); value != "" {
		var err error
		if contentLength, err = strconv.ParseUint(value, 10, 64); err != nil {
			if errors.Is(err, strconv.ErrSyntax) {
				respondWithJson(w, errResponseInvalidContentLength, http.StatusBadRequest)
			} else {
				respondWithJson(w, errResponseContentLengthTooLarge(m.maxBlobLength), http.StatusBadRequest)
			}
			return
		}
		if contentLength > m.maxBlobLength {
			respondWithJson(w, errResponseContentLengthTooLarge(m.maxBlobLength), http.StatusBadRequest)
			return
		}
		// Wrap body reader to signal content length to readBody.
		body = sizerReadCloser{
			ReadCloser: r.Body,
			size:       int64(contentLength),
		}
	}
	defer body.Close()
	data, err := readBody(body, m.maxBlobLength)
	switch {
	case err == nil:
	case errors.Is(err, blob.ErrBlobTooLarge):
		respondWithJson(w, errResponseMaxBlobLengthExceeded(m.maxBlobLength), http.StatusBadRequest)
		return
	default:
		respondWithJson(w, errResponseInternalError(err), http.StatusInternalServerError)
		return
	}
	fileName := r.URL.Query().Get("filename")
	uploadOptions := m.uploadOptions
	if v := r.URL.Query().Get("epochs"); v != "" {
		epochs, err := strconv.Atoi(v)
		if err != nil || epochs <= 0 {
			respondWithJson(w, errResponseInvalidEpochs, http.StatusBadRequest)
			return
		}
		uploadOptions = append(uploadOptions[:len(uploadOptions):len(uploadOptions)], transfer.WithEpochs(epochs))
	}

	result, err := m.engine.Upload(r.Context(), blob.NewPayload(fileName, data), m.signer, m.owner, uploadOptions...)
	switch {
	case err == nil:
	case blob.IsValidationError(err):
		respondWithJson(w, api.ErrorResponse{Error: err.Error()}, http.StatusBadRequest)
		return
	default:
		logger.Errorw("Upload failed", "size", len(data), "err", err)
		respondWithJson(w, errResponseInternalError(err), http.StatusInternalServerError)
		return
	}
	logger := logger.With("id", result.BlobID, "size", result.Size)
	if contentLength != 0 && uint64(result.Size) != contentLength {
		logger.Warnw("Content-Length in request header did not match the data length", "expectedSize", contentLength)
	}
	if fileName == "" {
		fileName = string(result.BlobID) + ".bin"
	}
	if m.history != nil {
		entry := blob.HistoryEntry{UploadResult: *result, FileName: fileName, UploadDate: time.Now().UTC()}
		if err := m.history.Record(entry); err != nil {
			logger.Warnw("Failed to record upload in history", "err", err)
		}
	}
	respondWithJson(w, api.PostBlobResponse{
		ID:            string(result.BlobID),
		Size:          result.Size,
		FormattedSize: blob.SizeString(result.Size),
		URLs:          m.urls(result.BlobID),
	}, http.StatusCreated)
	logger.Debug("Blob created successfully")
}

func (m *HttpServer) handleBlobSubtree(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set(httpHeaderAllow(http.MethodGet, http.MethodDelete, http.MethodOptions))
	case http.MethodGet:
		m.handleBlobGet(w, r)
	case http.MethodDelete:
		m.handleBlobDelete(w, r)
	default:
		respondWithNotAllowed(w, http.MethodGet, http.MethodDelete, http.MethodOptions)
	}
}

func (m *HttpServer) handleBlobGet(w http.ResponseWriter, r *http.Request) {
	suffix := strings.TrimPrefix(r.URL.Path, "/v0/blob/")
	segments := strings.Split(suffix, "/")
	switch len(segments) {
	case 1:
		m.handleBlobGetByID(w, r, segments[0])
	case 2:
		if segments[1] == "urls" {
			m.handleBlobGetURLsByID(w, r, segments[0])
		} else {
			respondWithJson(w, errResponsePageNotFound, http.StatusNotFound)
		}
	default:
		respondWithJson(w, errResponsePageNotFound, http.StatusNotFound)
	}
}

func (m *HttpServer) handleBlobGetByID(w http.ResponseWriter, r *http.Request, idUriSegment string) {
	var id blob.ID
	if err := id.Decode(idUriSegment); err != nil {
		respondWithJson(w, errResponseInvalidBlobID, http.StatusBadRequest)
		return
	}
	fileName := r.URL.Query().Get("filename")
	if item := m.blobs.Get(id); item != nil {
		if fileName == "" {
			fileName = string(id) + ".bin"
		}
		m.serveBlob(w, r, fileName, item.Value())
		return
	}
	data, fileName, err := m.engine.Download(r.Context(), string(id), fileName)
	if err != nil {
		respondWithRetrievalError(w, id, err)
		return
	}
	m.blobs.Set(id, data, ttlcache.DefaultTTL)
	m.serveBlob(w, r, fileName, data)
	logger.Debugw("Blob fetched successfully", "id", id, "size", len(data))
}

func (m *HttpServer) handleBlobGetURLsByID(w http.ResponseWriter, _ *http.Request, idUriSegment string) {
	var id blob.ID
	if err := id.Decode(idUriSegment); err != nil {
		respondWithJson(w, errResponseInvalidBlobID, http.StatusBadRequest)
		return
	}
	respondWithJson(w, api.GetURLsResponse{ID: string(id), URLs: m.urls(id)}, http.StatusOK)
}

func (m *HttpServer) handleBlobDelete(w http.ResponseWriter, r *http.Request) {
	suffix := strings.TrimPrefix(r.URL.Path, "/v0/blob/")
	if strings.Contains(suffix, "/") {
		respondWithJson(w, errResponsePageNotFound, http.StatusNotFound)
		return
	}
	var id blob.ID
	if err := id.Decode(suffix); err != nil {
		respondWithJson(w, errResponseInvalidBlobID, http.StatusBadRequest)
		return
	}
	if m.signer == nil {
		respondWithJson(w, errResponseWritesDisabled, http.StatusNotImplemented)
		return
	}
	if err := m.engine.Delete(r.Context(), string(id), m.owner, m.signer); err != nil {
		logger.Errorw("Failed to delete blob", "id", id, "err", err)
		respondWithJson(w, errResponseInternalError(err), http.StatusInternalServerError)
		return
	}
	m.blobs.Delete(id)
	w.WriteHeader(http.StatusNoContent)
	logger.Debugw("Blob deleted successfully", "id", id)
}

func (m *HttpServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set(httpHeaderAllow(http.MethodGet, http.MethodOptions))
		return
	case http.MethodGet:
	default:
		respondWithNotAllowed(w, http.MethodGet, http.MethodOptions)
		return
	}
	response := api.GetHistoryResponse{Uploads: []api.Upload{}}
	if m.history != nil {
		entries, err := m.history.List()
		if err != nil {
			respondWithJson(w, errResponseInternalError(err), http.StatusInternalServerError)
			return
		}
		for _, entry := range entries {
			response.Uploads = append(response.Uploads, api.Upload{
				ID:            string(entry.BlobID),
				Size:          entry.Size,
				FormattedSize: blob.SizeString(entry.Size),
				FileName:      entry.FileName,
				UploadDate:    entry.UploadDate,
				URLs:          m.urls(entry.BlobID),
			})
		}
	}
	respondWithJson(w, response, http.StatusOK)
}

// handleAggregatorRead serves blob content at the paths aggregators and gateways use, so that
// other deployments can list this server as their aggregator or gateway.
func (m *HttpServer) handleAggregatorRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		respondWithNotAllowed(w, http.MethodGet, http.MethodHead)
		return
	}
	if m.directReader == nil {
		respondWithJson(w, errResponsePageNotFound, http.StatusNotFound)
		return
	}
	segment := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/v1/"), "/blob/")
	var id blob.ID
	if strings.Contains(segment, "/") || id.Decode(segment) != nil {
		respondWithJson(w, errResponseInvalidBlobID, http.StatusBadRequest)
		return
	}
	if item := m.blobs.Get(id); item != nil {
		m.serveBlob(w, r, "", item.Value())
		return
	}
	data, err := m.directReader.Fetch(r.Context(), id)
	if err != nil {
		respondWithRetrievalError(w, id, err)
		return
	}
	m.blobs.Set(id, data, ttlcache.DefaultTTL)
	m.serveBlob(w, r, "", data)
}

func (m *HttpServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set(httpHeaderAllow(http.MethodOptions))
	default:
		respondWithJson(w, errResponsePageNotFound, http.StatusNotFound)
	}
}

func (m *HttpServer) serveBlob(w http.ResponseWriter, r *http.Request, fileName string, data []byte) {
	w.Header().Set(httpHeaderContentTypeOctetStream())
	w.Header().Set(httpHeaderContentTypeOptionsNoSniff())
	w.Header().Set(httpHeaderContentLength(uint64(len(data))))
	if fileName != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, sanitizeFileName(fileName)))
	}
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(data); err != nil {
		logger.Debugw("Failed to write blob content", "err", err)
	}
}

func (m *HttpServer) urls(id blob.ID) api.BlobURLs {
	gateway, _ := m.endpoints.GatewayURL(id)
	return api.BlobURLs{
		Aggregator: m.endpoints.BlobURL(id),
		Gateway:    gateway,
		Scan:       m.endpoints.ScanURL(id),
	}
}

func respondWithRetrievalError(w http.ResponseWriter, id blob.ID, err error) {
	switch {
	case blob.IsValidationError(err):
		respondWithJson(w, errResponseInvalidBlobID, http.StatusBadRequest)
	case blob.IsNotFound(err):
		respondWithJson(w, errResponseBlobNotFound, http.StatusNotFound)
	default:
		logger.Warnw("Failed to retrieve blob", "id", id, "err", err)
		respondWithJson(w, api.ErrorResponse{Error: err.Error()}, http.StatusBadGateway)
	}
}
