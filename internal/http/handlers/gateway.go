package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"richform/internal/storage"

	"github.com/go-chi/chi/v5"
)

// maxImageBytes bounds uploads and proxied downloads.
const maxImageBytes = 20 << 20

// gatewayResponse is the envelope shared by /upload and /proxy.
type gatewayResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Upload accepts a raw image payload (multipart field "image"), stores it
// under a fresh key and returns the hosted URL.
func (a *App) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		a.json(w, http.StatusBadRequest, gatewayResponse{Success: false, Error: "No image provided"})
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		a.json(w, http.StatusBadRequest, gatewayResponse{Success: false, Error: "No image provided"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes))
	if err != nil || len(data) == 0 {
		a.json(w, http.StatusBadRequest, gatewayResponse{Success: false, Error: "No image provided"})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}

	key := a.Keys.Next(contentType)
	if err := a.Store.Put(r.Context(), key, data, contentType); err != nil {
		a.Log.Error().Err(err).Str("key", key).Msg("store image failed")
		a.json(w, http.StatusInternalServerError, gatewayResponse{Success: false, Error: err.Error()})
		return
	}

	a.Log.Debug().Str("key", key).Int("bytes", len(data)).Msg("image stored")
	a.json(w, http.StatusOK, gatewayResponse{Success: true, URL: a.hostedURL(key)})
}

// ProxyFetch downloads an external image server-side (multipart field "url"),
// stores the bytes, and returns the hosted URL. Fetching server-side avoids
// the cross-origin restrictions a browser would hit.
func (a *App) ProxyFetch(w http.ResponseWriter, r *http.Request) {
	remoteURL := r.FormValue("url")
	if remoteURL == "" {
		a.json(w, http.StatusBadRequest, gatewayResponse{Success: false, Error: "No URL provided"})
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, remoteURL, nil)
	if err != nil {
		a.json(w, http.StatusBadRequest, gatewayResponse{Success: false, Error: "Invalid URL"})
		return
	}

	resp, err := a.Fetch.Do(req)
	if err != nil {
		a.Log.Warn().Err(err).Str("url", remoteURL).Msg("proxy fetch failed")
		a.json(w, http.StatusInternalServerError, gatewayResponse{Success: false, Error: err.Error()})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.json(w, http.StatusBadRequest, gatewayResponse{
			Success: false,
			Error:   fmt.Sprintf("Failed to fetch image: %d", resp.StatusCode),
		})
		return
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		a.json(w, http.StatusInternalServerError, gatewayResponse{Success: false, Error: err.Error()})
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}

	key := a.Keys.Next(contentType)
	if err := a.Store.Put(r.Context(), key, data, contentType); err != nil {
		a.Log.Error().Err(err).Str("key", key).Msg("store proxied image failed")
		a.json(w, http.StatusInternalServerError, gatewayResponse{Success: false, Error: err.Error()})
		return
	}

	a.Log.Debug().Str("key", key).Str("source", remoteURL).Msg("external image proxied")
	a.json(w, http.StatusOK, gatewayResponse{Success: true, URL: a.hostedURL(key)})
}

// RetrieveImage streams a stored blob with its content type and a long-lived
// cache directive. Stored objects are immutable, so aggressive caching is safe.
func (a *App) RetrieveImage(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "filename")

	obj, err := a.Store.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("Image not found"))
			return
		}
		a.Log.Error().Err(err).Str("key", key).Msg("retrieve image failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}

// NotFound mirrors the gateway's JSON error envelope for unknown routes.
func (a *App) NotFound(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusNotFound, gatewayResponse{Success: false, Error: "Not found: " + r.URL.Path})
}
