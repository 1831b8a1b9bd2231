package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

func newTestS3Storage(t *testing.T) Storage {
	t.Helper()

	faker := gofakes3.New(s3mem.New())
	ts := httptest.NewServer(faker.Server())
	t.Cleanup(ts.Close)

	ctx := context.Background()
	sdkConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test-key", "test-secret", ""),
		),
	)
	if err != nil {
		t.Fatalf("failed to load AWS config: %v", err)
	}

	client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(ts.URL)
		o.UsePathStyle = true
	})
	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String("baselines"),
	}); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	return NewS3StorageFromClient(client, S3Config{Bucket: "baselines"})
}

func backends(t *testing.T) map[string]Storage {
	t.Helper()

	file, err := NewFileStorage(context.Background(), FileConfig{Directory: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create file storage: %v", err)
	}

	return map[string]Storage{
		"file":   file,
		"memory": NewMemoryStorage(),
		"s3":     newTestS3Storage(t),
	}
}

func TestStorage(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("LookupMissing", func(t *testing.T) {
				if _, err := s.Lookup(ctx, "baselines/missing.png"); !errors.Is(err, ErrNotExist) {
					t.Errorf("Expected ErrNotExist, got %v", err)
				}
			})

			t.Run("PutGet", func(t *testing.T) {
				url, err := s.Put(ctx, "diff/a/highlighted.png", []byte("first"))
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if _, err := s.Put(ctx, "diff/a/highlighted.png", []byte("second")); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}

				data, err := s.Get(ctx, url)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !bytes.Equal(data, []byte("second")) {
					t.Errorf("Expected Put to overwrite, got %q", data)
				}
			})

			t.Run("CreateOnce", func(t *testing.T) {
				url, err := s.Create(ctx, "baselines/once.png", []byte("winner"))
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}

				again, err := s.Create(ctx, "baselines/once.png", []byte("loser"))
				if !errors.Is(err, ErrExist) {
					t.Fatalf("Expected ErrExist, got %v", err)
				}
				if again != url {
					t.Errorf("Expected existing URL %s, got %s", url, again)
				}

				found, err := s.Lookup(ctx, "baselines/once.png")
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if found != url {
					t.Errorf("Expected Lookup to return %s, got %s", url, found)
				}

				data, err := s.Get(ctx, url)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !bytes.Equal(data, []byte("winner")) {
					t.Errorf("Expected first write to survive, got %q", data)
				}
			})

			t.Run("GetMissing", func(t *testing.T) {
				url, err := s.Put(ctx, "tmp/exists.png", []byte("x"))
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				missing := url[:len(url)-len("exists.png")] + "gone.png"
				if _, err := s.Get(ctx, missing); !errors.Is(err, ErrNotExist) {
					t.Errorf("Expected ErrNotExist, got %v", err)
				}
			})
		})
	}
}

func TestStorage_CreateRace(t *testing.T) {
	ctx := context.Background()

	file, err := NewFileStorage(ctx, FileConfig{Directory: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}

	for name, s := range map[string]Storage{"file": file, "memory": NewMemoryStorage()} {
		t.Run(name, func(t *testing.T) {
			const writers = 16

			var wg sync.WaitGroup
			var mu sync.Mutex
			var winners []string

			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					payload := fmt.Sprintf("writer-%d", i)
					_, err := s.Create(ctx, "baselines/race.png", []byte(payload))
					if err == nil {
						mu.Lock()
						winners = append(winners, payload)
						mu.Unlock()
					} else if !errors.Is(err, ErrExist) {
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			wg.Wait()

			if len(winners) != 1 {
				t.Fatalf("Expected exactly one winner, got %v", winners)
			}

			url, err := s.Lookup(ctx, "baselines/race.png")
			if err != nil {
				t.Fatal(err)
			}
			data, err := s.Get(ctx, url)
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != winners[0] {
				t.Errorf("Expected stored data %q, got %q", winners[0], data)
			}
		})
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	if _, err := New(ctx, Config{Backend: "memory"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := New(ctx, Config{Backend: "file", Directory: t.TempDir()}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := New(ctx, Config{Backend: "ftp"}); err == nil {
		t.Error("Expected unknown backend to be rejected")
	}
}
