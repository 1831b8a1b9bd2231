// Package baseline owns the reference rasters that comparisons are judged against.
//
// A baseline is created exactly once per key, from the first raster captured for it,
// and is never rewritten afterwards. Creation goes through Storage.Create so that two
// runs racing to bootstrap the same key end with a single baseline and no error.
package baseline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"visual-regression/internal/raster"
	"visual-regression/internal/storage"

	"golang.org/x/xerrors"
)

type Kind int

const (
	// Existing means a baseline was already stored for the key.
	Existing Kind = iota
	// Bootstrapped means the candidate raster has just become the baseline.
	Bootstrapped
)

func (k Kind) String() string {
	switch k {
	case Bootstrapped:
		return "bootstrapped"
	case Existing:
		return "existing"
	default:
		return "unknown"
	}
}

type Outcome struct {
	Kind Kind
	URL  string
}

var ErrInvalidKey = errors.New("invalid baseline key")

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+(/[A-Za-z0-9._-]+)*$`)

const keyPrefix = "baselines/"

type Manager struct {
	storage storage.Storage
	logger  *slog.Logger
}

func NewManager(s storage.Storage, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		storage: s,
		logger:  logger,
	}
}

// StorageKey maps a baseline key onto its storage location.
func StorageKey(key string) (string, error) {
	if !keyPattern.MatchString(key) {
		return "", xerrors.Errorf("%q: %w", key, ErrInvalidKey)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "." || segment == ".." {
			return "", xerrors.Errorf("%q: %w", key, ErrInvalidKey)
		}
	}
	return keyPrefix + key + ".png", nil
}

// Resolve returns the baseline for key, adopting the raster at candidatePath when none exists yet.
// The candidate file is copied, never moved or modified.
func (m *Manager) Resolve(ctx context.Context, key string, candidatePath string) (*Outcome, error) {
	storageKey, err := StorageKey(key)
	if err != nil {
		return nil, err
	}

	url, err := m.storage.Lookup(ctx, storageKey)
	if err == nil {
		return &Outcome{Kind: Existing, URL: url}, nil
	}
	if !errors.Is(err, storage.ErrNotExist) {
		return nil, xerrors.Errorf("failed to look up baseline %s: %w", key, err)
	}

	data, err := os.ReadFile(candidatePath)
	if err != nil {
		return nil, &raster.DecodeError{Source: candidatePath, Err: err}
	}
	// A capture that cannot be decoded must never become the reference.
	if _, err := raster.Decode(data); err != nil {
		return nil, &raster.DecodeError{Source: candidatePath, Err: errors.Unwrap(err)}
	}

	url, err = m.storage.Create(ctx, storageKey, data)
	if errors.Is(err, storage.ErrExist) {
		m.logger.Debug("baseline bootstrapped concurrently, using existing", "key", key, "url", url)
		return &Outcome{Kind: Existing, URL: url}, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("failed to create baseline %s: %w", key, err)
	}

	m.logger.Info("baseline created", "key", key, "url", url)
	return &Outcome{Kind: Bootstrapped, URL: url}, nil
}

// Load decodes the baseline stored at url.
func (m *Manager) Load(ctx context.Context, url string) (*raster.Raster, error) {
	data, err := m.storage.Get(ctx, url)
	if err != nil {
		return nil, &raster.DecodeError{Source: url, Err: err}
	}

	r, err := raster.Decode(data)
	if err != nil {
		return nil, &raster.DecodeError{Source: url, Err: errors.Unwrap(err)}
	}
	return r, nil
}

// Fetch returns the encoded baseline for key.
func (m *Manager) Fetch(ctx context.Context, key string) ([]byte, error) {
	storageKey, err := StorageKey(key)
	if err != nil {
		return nil, err
	}

	url, err := m.storage.Lookup(ctx, storageKey)
	if err != nil {
		return nil, xerrors.Errorf("failed to look up baseline %s: %w", key, err)
	}

	data, err := m.storage.Get(ctx, url)
	if err != nil {
		return nil, xerrors.Errorf("failed to read baseline %s: %w", key, err)
	}
	return data, nil
}
