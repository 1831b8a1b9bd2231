package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/xerrors"
)

type s3Storage struct {
	client *s3.Client
	config S3Config
}

type S3Config struct {
	Bucket string
}

func NewS3Storage(ctx context.Context, s S3Config) (Storage, error) {
	c, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, xerrors.Errorf("failed to load AWS config: %w", err)
	}
	s3Client := s3.NewFromConfig(c, func(o *s3.Options) {
		if s3EndpointUrl, ok := os.LookupEnv("S3_ENDPOINT_URL"); ok {
			o.BaseEndpoint = aws.String(s3EndpointUrl)
		}
		o.UsePathStyle = true
	})

	return NewS3StorageFromClient(s3Client, s), nil
}

// NewS3StorageFromClient wraps an already configured client, e.g. one pointed at a fake server.
func NewS3StorageFromClient(client *s3.Client, s S3Config) Storage {
	return &s3Storage{
		client: client,
		config: s,
	}
}

func (s *s3Storage) url(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.config.Bucket, key)
}

func (s *s3Storage) Put(ctx context.Context, key string, data []byte) (string, error) {
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(http.DetectContentType(data)),
	}); err != nil {
		return "", xerrors.Errorf("failed to upload to S3: %w", err)
	}

	return s.url(key), nil
}

func (s *s3Storage) Create(ctx context.Context, key string, data []byte) (string, error) {
	if _, err := s.Lookup(ctx, key); err == nil {
		return s.url(key), ErrExist
	} else if !errors.Is(err, ErrNotExist) {
		return "", err
	}

	// If-None-Match makes the write conditional on the server, closing the
	// window between the lookup above and this put.
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(http.DetectContentType(data)),
		IfNoneMatch: aws.String("*"),
	}); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
			return s.url(key), ErrExist
		}
		return "", xerrors.Errorf("failed to upload to S3: %w", err)
	}

	return s.url(key), nil
}

func (s *s3Storage) Lookup(ctx context.Context, key string) (string, error) {
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	}); err != nil {
		if isNotFound(err) {
			return "", ErrNotExist
		}
		return "", xerrors.Errorf("failed to stat S3 object: %w", err)
	}

	return s.url(key), nil
}

func (s *s3Storage) Get(ctx context.Context, url string) ([]byte, error) {
	key := strings.TrimPrefix(url, fmt.Sprintf("s3://%s/", s.config.Bucket))

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, xerrors.Errorf("failed to download %s: %w", url, ErrNotExist)
		}
		return nil, xerrors.Errorf("failed to download from S3: %w", err)
	}
	defer result.Body.Close()

	var buffer bytes.Buffer
	if _, err := buffer.ReadFrom(result.Body); err != nil {
		return nil, xerrors.Errorf("failed to read S3 object: %w", err)
	}

	return buffer.Bytes(), nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey")
}
