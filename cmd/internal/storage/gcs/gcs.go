package gcs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cloudrotate/rotate-backups/cmd/internal/storage"

	retry "github.com/avast/retry-go/v4"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	gcsstorage "cloud.google.com/go/storage"
)

// Storage implements the storage contract for a GCS bucket.
type Storage struct {
	log    *slog.Logger
	c      *gcsstorage.Client
	config *Config
}

// Config provides configuration for the GCS storage backend.
type Config struct {
	BucketName   string
	ObjectPrefix string
	ProjectID    string
	ClientOpts   []option.ClientOption
}

func (c *Config) validate() error {
	if c.BucketName == "" {
		return errors.New("gcs bucket name must not be empty")
	}
	for _, opt := range c.ClientOpts {
		if opt == nil {
			return errors.New("option can not be nil")
		}
	}

	return nil
}

// New returns a GCS storage backend.
func New(ctx context.Context, log *slog.Logger, config *Config) (*Storage, error) {
	if config == nil {
		return nil, errors.New("gcs storage requires a config")
	}

	err := config.validate()
	if err != nil {
		return nil, err
	}

	client, err := gcsstorage.NewClient(ctx, config.ClientOpts...)
	if err != nil {
		return nil, err
	}

	return &Storage{
		c:      client,
		config: config,
		log:    log,
	}, nil
}

// Name returns the bucket name.
func (s *Storage) Name() string {
	return s.config.BucketName
}

// Kind describes the backing objects.
func (s *Storage) Kind() string {
	return "object"
}

// ListNames enumerates all object names in the bucket. Transient listing
// failures are retried, the rotation core itself never retries.
func (s *Storage) ListNames(ctx context.Context) ([]string, error) {
	var names []string

	err := retry.Do(func() error {
		names = names[:0]

		it := s.c.Bucket(s.config.BucketName).Objects(ctx, &gcsstorage.Query{
			Prefix: s.config.ObjectPrefix,
		})

		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				if errors.Is(err, gcsstorage.ErrBucketNotExist) {
					return retry.Unrecoverable(fmt.Errorf("%w: %s", storage.ErrNotFound, s.config.BucketName))
				}
				return err
			}
			names = append(names, attrs.Name)
		}

		return nil
	}, retry.Context(ctx), retry.Attempts(3))
	if err != nil {
		return nil, err
	}

	return names, nil
}

// DeleteNames removes the given objects. GCS has no multi-delete API, so
// the batch is issued object by object and failures are collected into a
// single partial deletion outcome.
func (s *Storage) DeleteNames(ctx context.Context, names []string) error {
	bucket := s.c.Bucket(s.config.BucketName)

	var failed []string
	for _, name := range names {
		err := bucket.Object(name).Delete(ctx)
		if err == nil || errors.Is(err, gcsstorage.ErrObjectNotExist) {
			continue
		}

		if errors.Is(err, gcsstorage.ErrBucketNotExist) {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, s.config.BucketName)
		}

		var googleErr *googleapi.Error
		if errors.As(err, &googleErr) && googleErr.Code == http.StatusNotFound {
			continue
		}

		s.log.Warn("object deletion failed", "name", name, "error", err)
		failed = append(failed, name)
	}

	if len(failed) > 0 {
		return &storage.PartialDeletionError{Failed: failed}
	}

	return nil
}
