package routes

import (
	"net/http"
	"strconv"

	"visual-regression/internal/baseline"
)

// GetBaseline serves the encoded baseline raster for a key.
func GetBaseline(baselines *baseline.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := baselines.Fetch(r.Context(), r.PathValue("key"))
		if err != nil {
			writeLookupError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", http.DetectContentType(data))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
