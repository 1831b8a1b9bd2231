package routes

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"visual-regression/internal/baseline"
	"visual-regression/internal/compare"
	diffimage "visual-regression/internal/diff/image"
	"visual-regression/internal/raster"

	"golang.org/x/xerrors"
)

const maxUploadSize = 32 << 20

// Compare accepts a multipart upload of the actual raster and runs it against the key's baseline.
// Form fields: key, actual (file), and optionally threshold and maxDiffPixels.
func Compare(comparator *compare.Comparator, defaults diffimage.Tolerance) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		defer r.MultipartForm.RemoveAll()

		key := r.FormValue("key")
		if key == "" {
			http.Error(w, "key is required", http.StatusBadRequest)
			return
		}

		tolerance, err := parseTolerance(r, defaults)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		actualFile, _, err := r.FormFile("actual")
		if err != nil {
			http.Error(w, "actual is required", http.StatusBadRequest)
			return
		}
		defer actualFile.Close()

		actualPath, err := spool(actualFile)
		if err != nil {
			slog.Error(fmt.Sprintf("failed to spool upload: %s", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		defer os.Remove(actualPath)

		result, err := comparator.Compare(r.Context(), compare.Request{
			Key:        key,
			ActualPath: actualPath,
			Tolerance:  tolerance,
		})
		if err != nil {
			var decodeErr *raster.DecodeError
			switch {
			case errors.Is(err, baseline.ErrInvalidKey), errors.Is(err, diffimage.ErrInvalidTolerance):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.As(err, &decodeErr) && decodeErr.Source == actualPath:
				http.Error(w, "actual is not a decodable image", http.StatusUnprocessableEntity)
			default:
				slog.Error(fmt.Sprintf("failed to compare: %s", err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := compare.EncodeJSON(w, result); err != nil {
			slog.Error(fmt.Sprintf("failed to write response: %s", err))
		}
	}
}

func parseTolerance(r *http.Request, defaults diffimage.Tolerance) (*diffimage.Tolerance, error) {
	tolerance := defaults
	if v := r.FormValue("threshold"); v != "" {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, xerrors.Errorf("invalid threshold %q", v)
		}
		tolerance.Threshold = threshold
	}
	if v := r.FormValue("maxDiffPixels"); v != "" {
		maxDiffPixels, err := strconv.Atoi(v)
		if err != nil {
			return nil, xerrors.Errorf("invalid maxDiffPixels %q", v)
		}
		tolerance.MaxDiffPixels = maxDiffPixels
	}
	return &tolerance, nil
}

func spool(src io.Reader) (string, error) {
	f, err := os.CreateTemp("", "actual-*.png")
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(f, src); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
