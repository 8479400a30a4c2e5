package s3

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudrotate/rotate-backups/cmd/internal/storage"

	retry "github.com/avast/retry-go/v4"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3 limits a single DeleteObjects request to 1000 keys.
const maxKeysPerDelete = 1000

// Storage implements the storage contract for an S3 bucket.
type Storage struct {
	log    *slog.Logger
	c      *awss3.Client
	config *Config
}

// Config provides configuration for the S3 storage backend.
type Config struct {
	BucketName   string
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	ObjectPrefix string
	// PathStyle addresses the bucket in the path instead of the host,
	// required by MinIO and most other S3 compatibles.
	PathStyle bool
}

func (c *Config) validate() error {
	if c.BucketName == "" {
		return errors.New("s3 bucket name must not be empty")
	}
	if c.AccessKey == "" {
		return errors.New("s3 accesskey must not be empty")
	}
	if c.SecretKey == "" {
		return errors.New("s3 secretkey must not be empty")
	}

	return nil
}

// New returns an S3 storage backend.
func New(ctx context.Context, log *slog.Logger, config *Config) (*Storage, error) {
	if config == nil {
		return nil, errors.New("s3 storage requires a config")
	}

	err := config.validate()
	if err != nil {
		return nil, err
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(config.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load aws config: %w", err)
	}

	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
		}
		o.UsePathStyle = config.PathStyle
	})

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

// ListNames enumerates all object keys in the bucket. Transient listing
// failures are retried, the rotation core itself never retries.
func (s *Storage) ListNames(ctx context.Context) ([]string, error) {
	var names []string

	err := retry.Do(func() error {
		names = names[:0]

		paginator := awss3.NewListObjectsV2Paginator(s.c, &awss3.ListObjectsV2Input{
			Bucket: aws.String(s.config.BucketName),
			Prefix: aws.String(s.config.ObjectPrefix),
		})

		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				var noBucket *types.NoSuchBucket
				if errors.As(err, &noBucket) {
					return retry.Unrecoverable(fmt.Errorf("%w: %s", storage.ErrNotFound, s.config.BucketName))
				}
				return err
			}

			for _, object := range page.Contents {
				if object.Key != nil {
					names = append(names, *object.Key)
				}
			}
		}

		return nil
	}, retry.Context(ctx), retry.Attempts(3))
	if err != nil {
		return nil, err
	}

	return names, nil
}

// DeleteNames removes the given object keys with batched DeleteObjects
// calls. Keys that the bucket reports as failed are collected into a
// partial deletion error, already deleted keys stay deleted.
func (s *Storage) DeleteNames(ctx context.Context, names []string) error {
	var failed []string

	for start := 0; start < len(names); start += maxKeysPerDelete {
		batch := names[start:min(start+maxKeysPerDelete, len(names))]
		objects := make([]types.ObjectIdentifier, 0, len(batch))
		for _, name := range batch {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(name)})
		}

		out, err := s.c.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
			Bucket: aws.String(s.config.BucketName),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			var noBucket *types.NoSuchBucket
			if errors.As(err, &noBucket) {
				return fmt.Errorf("%w: %s", storage.ErrNotFound, s.config.BucketName)
			}
			return fmt.Errorf("unable to delete objects: %w", err)
		}

		for _, e := range out.Errors {
			if e.Key != nil {
				s.log.Warn("object deletion failed", "key", *e.Key, "code", aws.ToString(e.Code), "message", aws.ToString(e.Message))
				failed = append(failed, *e.Key)
			}
		}
	}

	if len(failed) > 0 {
		return &storage.PartialDeletionError{Failed: failed}
	}

	return nil
}
