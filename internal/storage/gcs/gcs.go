// Package gcs implements the Google Cloud Storage backend. Data-room
// documents and receipts live in a private bucket; readers receive V4 signed
// URLs and the portal never proxies document content. Authentication uses
// Application Default Credentials or an explicit service account key.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	appconfig "github.com/sparkcreatives/spark-portal/internal/config"
	appstorage "github.com/sparkcreatives/spark-portal/internal/storage"
	"github.com/sparkcreatives/spark-portal/pkg/checksum"
)

func init() {
	appstorage.Register("gcs", func(cfg *appconfig.Config) (appstorage.Storage, error) {
		return New(&cfg.Storage.GCS)
	})
}

// GCSStorage implements appstorage.Storage for Google Cloud Storage
type GCSStorage struct {
	client *storage.Client
	bucket string
	now    func() time.Time

	// accessID and privateKey sign URLs locally when a service account key
	// is configured. Otherwise the client falls back to the IAM signBlob API.
	accessID   string
	privateKey []byte
}

// serviceAccountKey is the subset of a service account key file used for signing.
type serviceAccountKey struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// loadSigner extracts signing credentials from the configured key, if any.
func loadSigner(cfg *appconfig.GCSStorageConfig) (string, []byte, error) {
	raw := []byte(cfg.CredentialsJSON)
	if len(raw) == 0 && cfg.CredentialsFile != "" {
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return "", nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		raw = data
	}
	if len(raw) == 0 {
		return "", nil, nil
	}

	var key serviceAccountKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return "", nil, fmt.Errorf("failed to parse service account key: %w", err)
	}
	if key.ClientEmail == "" || key.PrivateKey == "" {
		return "", nil, nil
	}
	return key.ClientEmail, []byte(key.PrivateKey), nil
}

// clientOptions translates the configured auth method into client options.
//
//   - "default" or empty: Application Default Credentials (GOOGLE_APPLICATION_CREDENTIALS,
//     the metadata server on GCE/GKE/Cloud Run, or gcloud user credentials)
//   - "service_account": credentials_json or credentials_file
//   - "workload_identity": same as default; federation is configured outside the process
func clientOptions(cfg *appconfig.GCSStorageConfig) ([]option.ClientOption, error) {
	var opts []option.ClientOption

	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	authMethod := cfg.AuthMethod
	if authMethod == "" {
		if cfg.CredentialsFile != "" || cfg.CredentialsJSON != "" {
			authMethod = "service_account"
		} else {
			authMethod = "default"
		}
	}

	switch authMethod {
	case "service_account":
		switch {
		case cfg.CredentialsJSON != "":
			opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		case cfg.CredentialsFile != "":
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		default:
			return nil, fmt.Errorf("credentials_file or credentials_json is required for service_account auth")
		}
	case "workload_identity", "default":
	default:
		return nil, fmt.Errorf("unsupported auth_method: %s (must be 'default', 'service_account', or 'workload_identity')", authMethod)
	}

	return opts, nil
}

// New creates a Google Cloud Storage backend
func New(cfg *appconfig.GCSStorageConfig) (*GCSStorage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}

	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}

	accessID, privateKey, err := loadSigner(cfg)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStorage{
		client:     client,
		bucket:     cfg.Bucket,
		now:        time.Now,
		accessID:   accessID,
		privateKey: privateKey,
	}, nil
}

func (s *GCSStorage) Name() string { return "gcs" }

// Close closes the GCS client
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

// Upload streams an object into the bucket, recording its SHA256 as metadata.
func (s *GCSStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64) (*appstorage.UploadResult, error) {
	if err := appstorage.ValidateKey(key); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	sum := checksum.Sum(data)

	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = contentTypeFor(key)
	writer.Metadata = map[string]string{checksum.MetadataKey: sum}

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close GCS writer: %w", err)
	}

	return &appstorage.UploadResult{Path: key, Size: int64(len(data)), Checksum: sum}, nil
}

// Download opens an object for reading
func (s *GCSStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", appstorage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to read from GCS: %w", err)
	}
	return reader, nil
}

// SignedURL returns a V4 signed GET URL. The object is not checked for
// existence; a missing object surfaces as a 404 from GCS when followed.
//
// Signing needs either a service account key or, under ADC, the
// iam.serviceAccountTokenCreator role for signBlob.
func (s *GCSStorage) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := appstorage.ValidateKey(key); err != nil {
		return "", err
	}

	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: s.now().Add(ttl),
	}
	if s.privateKey != nil {
		opts.GoogleAccessID = s.accessID
		opts.PrivateKey = s.privateKey
	}

	signed, err := s.client.Bucket(s.bucket).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}
	return signed, nil
}

// Exists checks if an object exists
func (s *GCSStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

func contentTypeFor(key string) string {
	if len(key) > 4 && key[len(key)-4:] == ".pdf" {
		return "application/pdf"
	}
	return "application/octet-stream"
}
