package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/andresuchdata/gdrive-helper/internal/config"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/chartmuseum/storage"
	"golang.org/x/oauth2"
)

const objectKeyPrefix = "tokens/"

// ObjectStore keeps the token as a single object "tokens/<slot>.json" in any
// chartmuseum storage backend (S3-compatible, local directory, ...).
type ObjectStore struct {
	backend storage.Backend
	key     string
}

// NewS3Backend builds an S3-compatible backend with path-style addressing.
func NewS3Backend(cfg config.ObjectStoreConfig) (storage.Backend, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint must be provided")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials must be provided")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket must be provided")
	}

	endpoint := s3Endpoint(cfg)

	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	// The chartmuseum backend resolves credentials from the AWS environment.
	os.Setenv("AWS_ACCESS_KEY_ID", cfg.AccessKey)
	os.Setenv("AWS_SECRET_ACCESS_KEY", cfg.SecretKey)
	os.Setenv("AWS_REGION", region)
	os.Setenv("AWS_DEFAULT_REGION", region)

	forcePathStyle := true
	return storage.NewAmazonS3BackendWithOptions(
		cfg.Bucket,
		"", // no prefix
		region,
		endpoint,
		"",
		&storage.AmazonS3Options{S3ForcePathStyle: &forcePathStyle},
	), nil
}

// s3Endpoint adds a scheme to a bare host, honouring UseSSL.
func s3Endpoint(cfg config.ObjectStoreConfig) string {
	if strings.HasPrefix(cfg.Endpoint, "http://") || strings.HasPrefix(cfg.Endpoint, "https://") {
		return cfg.Endpoint
	}
	scheme := "https"
	if !cfg.UseSSL {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s", scheme, strings.TrimPrefix(cfg.Endpoint, "//"))
}

func NewObjectStore(backend storage.Backend, slot string) *ObjectStore {
	return &ObjectStore{
		backend: backend,
		key:     objectKeyPrefix + slotOrDefault(slot) + ".json",
	}
}

func (s *ObjectStore) Load(_ context.Context) (*oauth2.Token, error) {
	object, err := s.backend.GetObject(s.key)
	if isMissingObject(err) {
		return nil, nil //nolint:nilnil // empty slot
	}
	if err != nil {
		return nil, fmt.Errorf("object get %s failed: %w", s.key, err)
	}

	return decode(object.Content, s.key)
}

func (s *ObjectStore) Save(_ context.Context, tok *oauth2.Token) error {
	data, err := encode(tok)
	if err != nil {
		return err
	}
	if err := s.backend.PutObject(s.key, data); err != nil {
		return fmt.Errorf("object put %s failed: %w", s.key, err)
	}
	return nil
}

// isMissingObject recognises "no such object" from the S3 and local
// filesystem backends.
func isMissingObject(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		return awsErr.Code() == s3.ErrCodeNoSuchKey || awsErr.Code() == "NotFound"
	}
	return false
}

var _ Store = (*ObjectStore)(nil)
