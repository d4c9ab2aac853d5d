package offsite

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/fgeck/lndbackup/internal/models"
	"github.com/rs/zerolog"
)

const uploadPartSize = 64 * 1024 * 1024

// S3Store is an ObjectStore backed by an S3 bucket.
type S3Store struct {
	client       *s3.Client
	uploader     *manager.Uploader
	bucket       string
	storageClass types.StorageClass
	logger       zerolog.Logger
}

// NewS3Store creates an S3 client from the default AWS credential chain. With a custom endpoint,
// AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY are used as static credentials and path-style
// addressing is enabled.
func NewS3Store(ctx context.Context, logger zerolog.Logger, cfg models.OffsiteConfig) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.MaxAttempts > 0 {
		opts = append(opts,
			awsconfig.WithRetryMaxAttempts(cfg.MaxAttempts),
			awsconfig.WithRetryMode(aws.RetryModeStandard),
		)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		accessKey, secretKey := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")
		if accessKey != "" && secretKey != "" {
			awsCfg.Credentials = credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
		}
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
		logger.Debug().Str("endpoint", cfg.Endpoint).Msg("S3 client initialized with custom endpoint")
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = uploadPartSize
		u.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenSupported
	})

	storageClass := types.StorageClass(cfg.StorageClass)
	if storageClass == "" {
		storageClass = types.StorageClassStandard
	}

	return &S3Store{
		client:       client,
		uploader:     uploader,
		bucket:       cfg.Bucket,
		storageClass: storageClass,
		logger:       logger,
	}, nil
}

// Upload streams a local file to key.
func (s *S3Store) Upload(ctx context.Context, localPath, key string, metadata map[string]string) error {
	file, err := os.Open(localPath) //nolint:gosec // path is built from a sanitized image name
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         file,
		StorageClass: s.storageClass,
		Metadata:     metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

// List returns every key starting with prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// Delete removes key.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// VerifyAccess checks credentials and bucket access.
func (s *S3Store) VerifyAccess(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("failed to verify AWS credentials or bucket access: %w", err)
	}
	return nil
}
