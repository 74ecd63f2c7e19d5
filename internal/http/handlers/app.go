package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"richform/internal/infra"
	"richform/internal/providers/formstore"
	"richform/internal/storage"
)

// App carries the dependencies shared by all HTTP handlers.
type App struct {
	Store         storage.BlobStore
	Keys          *storage.KeyGenerator
	PublicBaseURL string

	// FormStore is nil when no API credential is configured; the relay
	// reports the misconfiguration instead of guessing.
	FormStore *formstore.Client

	// Fetch performs server-side fetches of external images for /proxy.
	Fetch *http.Client

	Log infra.Logger
}

func NewApp(store storage.BlobStore, keys *storage.KeyGenerator, publicBaseURL string, formStore *formstore.Client, fetch *http.Client, log infra.Logger) *App {
	if fetch == nil {
		fetch = &http.Client{Timeout: 20 * time.Second}
	}
	return &App{
		Store:         store,
		Keys:          keys,
		PublicBaseURL: publicBaseURL,
		FormStore:     formStore,
		Fetch:         fetch,
		Log:           log,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// hostedURL builds the public retrieval URL for a stored key.
func (a *App) hostedURL(key string) string {
	return a.PublicBaseURL + "/image/" + key
}
