package baseline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"visual-regression/internal/raster"
	"visual-regression/internal/storage"

	"github.com/google/go-cmp/cmp"
)

func writeSolidPNG(t *testing.T, path string, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buffer.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return buffer.Bytes()
}

func TestManager_Resolve(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	t.Run("BootstrapThenExisting", func(t *testing.T) {
		m := NewManager(storage.NewMemoryStorage(), nil)
		first := filepath.Join(dir, "first.png")
		firstData := writeSolidPNG(t, first, color.White)

		outcome, err := m.Resolve(ctx, "home/hero", first)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome.Kind != Bootstrapped {
			t.Fatalf("Expected Bootstrapped, got %v", outcome.Kind)
		}

		second := filepath.Join(dir, "second.png")
		writeSolidPNG(t, second, color.Black)

		again, err := m.Resolve(ctx, "home/hero", second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := cmp.Diff(&Outcome{Kind: Existing, URL: outcome.URL}, again); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}

		stored, err := m.Fetch(ctx, "home/hero")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !bytes.Equal(stored, firstData) {
			t.Error("Expected the first capture to remain the baseline")
		}

		if _, err := os.Stat(first); err != nil {
			t.Errorf("Expected candidate file to be left in place: %v", err)
		}
	})

	t.Run("Load", func(t *testing.T) {
		m := NewManager(storage.NewMemoryStorage(), nil)
		path := filepath.Join(dir, "load.png")
		writeSolidPNG(t, path, color.NRGBA{R: 1, G: 2, B: 3, A: 255})

		outcome, err := m.Resolve(ctx, "load", path)
		if err != nil {
			t.Fatal(err)
		}

		r, err := m.Load(ctx, outcome.URL)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if r.Width != 4 || r.Height != 4 || r.At(3, 3) != (color.NRGBA{R: 1, G: 2, B: 3, A: 255}) {
			t.Errorf("unexpected raster %dx%d %v", r.Width, r.Height, r.At(3, 3))
		}
	})

	t.Run("CorruptCandidate", func(t *testing.T) {
		s := storage.NewMemoryStorage()
		m := NewManager(s, nil)
		path := filepath.Join(dir, "corrupt.png")
		if err := os.WriteFile(path, []byte("garbage"), 0644); err != nil {
			t.Fatal(err)
		}

		_, err := m.Resolve(ctx, "corrupt", path)

		var decodeErr *raster.DecodeError
		if !errors.As(err, &decodeErr) {
			t.Fatalf("Expected DecodeError, got %v", err)
		}
		if _, err := s.Lookup(ctx, "baselines/corrupt.png"); !errors.Is(err, storage.ErrNotExist) {
			t.Errorf("Expected no baseline to be created, got %v", err)
		}
	})

	t.Run("MissingCandidate", func(t *testing.T) {
		m := NewManager(storage.NewMemoryStorage(), nil)

		_, err := m.Resolve(ctx, "missing", filepath.Join(dir, "nope.png"))

		var decodeErr *raster.DecodeError
		if !errors.As(err, &decodeErr) {
			t.Fatalf("Expected DecodeError, got %v", err)
		}
	})
}

func TestStorageKey(t *testing.T) {
	type want struct {
		key string
		err error
	}

	tests := []struct {
		name string
		in   string
		want want
	}{
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"first_card",
			want{"baselines/first_card.png", nil},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"projects/first-card.v2",
			want{"baselines/projects/first-card.v2.png", nil},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"",
			want{"", ErrInvalidKey},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"../etc/passwd",
			want{"", ErrInvalidKey},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"/absolute",
			want{"", ErrInvalidKey},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"with space",
			want{"", ErrInvalidKey},
		},
	}
	for _, tt := range tests {
		name := tt.name
		in := tt.in
		want := tt.want
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, err := StorageKey(in)
			if !errors.Is(err, want.err) {
				t.Errorf("Expected error %v, got %v", want.err, err)
			}
			if got != want.key {
				t.Errorf("Expected %q, got %q", want.key, got)
			}
		})
	}
}

func TestManager_ResolveRace(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	file, err := storage.NewFileStorage(ctx, storage.FileConfig{Directory: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}

	for name, s := range map[string]storage.Storage{"memory": storage.NewMemoryStorage(), "file": file} {
		t.Run(name, func(t *testing.T) {
			m := NewManager(s, nil)

			const runs = 12
			candidates := make([]string, runs)
			contents := make(map[string]int, runs)
			for i := range candidates {
				candidates[i] = filepath.Join(dir, fmt.Sprintf("%s-%d.png", name, i))
				data := writeSolidPNG(t, candidates[i], color.NRGBA{R: uint8(i * 20), A: 255})
				contents[string(data)] = i
			}

			outcomes := make([]*Outcome, runs)
			var wg sync.WaitGroup
			for i := 0; i < runs; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					outcome, err := m.Resolve(ctx, "race", candidates[i])
					if err != nil {
						t.Errorf("unexpected error: %v", err)
						return
					}
					outcomes[i] = outcome
				}(i)
			}
			wg.Wait()

			winner := -1
			for i, outcome := range outcomes {
				if outcome == nil {
					t.FailNow()
				}
				if outcome.Kind == Bootstrapped {
					if winner != -1 {
						t.Fatalf("Expected a single bootstrap, runs %d and %d both won", winner, i)
					}
					winner = i
				}
			}
			if winner == -1 {
				t.Fatal("Expected one run to bootstrap")
			}

			stored, err := m.Fetch(ctx, "race")
			if err != nil {
				t.Fatal(err)
			}
			if got, ok := contents[string(stored)]; !ok || got != winner {
				t.Errorf("Expected baseline from run %d, got run %d", winner, got)
			}
		})
	}
}
