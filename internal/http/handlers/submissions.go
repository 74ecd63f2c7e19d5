package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"richform/internal/providers/formstore"
)

// submissionError is the relay's structured failure envelope.
type submissionError struct {
	Error            string          `json:"error"`
	Status           int             `json:"status,omitempty"`
	UpstreamResponse json.RawMessage `json:"upstreamResponse,omitempty"`
}

// FetchSubmission relays one submission record from the form store. The
// upstream document is passed through verbatim on success.
func (a *App) FetchSubmission(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		a.json(w, http.StatusBadRequest, submissionError{Error: "Missing id parameter"})
		return
	}

	if a.FormStore == nil {
		a.json(w, http.StatusInternalServerError, submissionError{Error: "Missing form store API credential"})
		return
	}

	raw, err := a.FormStore.FetchSubmission(r.Context(), id)
	if err != nil {
		var ue *formstore.UpstreamError
		if errors.As(err, &ue) {
			payload := ue.Payload
			if payload == nil {
				payload = json.RawMessage("null")
			}
			a.json(w, http.StatusBadGateway, submissionError{
				Error:            "Failed to fetch submission",
				Status:           ue.Status,
				UpstreamResponse: payload,
			})
			return
		}
		a.Log.Error().Err(err).Str("submission_id", id).Msg("submission fetch failed")
		a.json(w, http.StatusBadGateway, submissionError{Error: "Failed to fetch submission"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}
