package routes

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"visual-regression/internal/baseline"
	"visual-regression/internal/compare"
	"visual-regression/internal/storage"
)

type ArtifactsResponse struct {
	Key         string `json:"key"`
	Baseline    string `json:"baseline,omitempty"`
	Highlighted string `json:"highlighted,omitempty"`
	Composite   string `json:"composite,omitempty"`
	Difference  string `json:"difference,omitempty"`
}

// ListArtifacts returns the baseline and the latest default-keyed diff artifacts for a key, base64 encoded.
func ListArtifacts(baselines *baseline.Manager, artifacts storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")

		data, err := baselines.Fetch(r.Context(), key)
		if err != nil {
			writeLookupError(w, r, err)
			return
		}

		response := ArtifactsResponse{
			Key:      key,
			Baseline: base64.StdEncoding.EncodeToString(data),
		}

		highlightedKey, compositeKey, differenceKey := compare.ArtifactKeys(key)
		for artifactKey, field := range map[string]*string{
			highlightedKey: &response.Highlighted,
			compositeKey:   &response.Composite,
			differenceKey:  &response.Difference,
		} {
			if url, err := artifacts.Lookup(r.Context(), artifactKey); err == nil {
				if data, err := artifacts.Get(r.Context(), url); err == nil {
					*field = base64.StdEncoding.EncodeToString(data)
				}
			}
		}

		b, err := json.Marshal(response)
		if err != nil {
			slog.Error(fmt.Sprintf("failed to marshal json: %s", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	}
}

func writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, baseline.ErrInvalidKey):
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
	case errors.Is(err, storage.ErrNotExist):
		http.NotFound(w, r)
	default:
		slog.Error(fmt.Sprintf("failed to fetch baseline: %s", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
