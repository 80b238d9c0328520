package datasource

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/aidrin/pkg/constants"
	"github.com/inferloop/aidrin/pkg/errors"
)

const s3Scheme = "s3://"

// S3Config holds configuration for S3 dataset access
type S3Config struct {
	Region          string        `json:"region" mapstructure:"region"`
	AccessKeyID     string        `json:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string        `json:"secret_access_key" mapstructure:"secret_access_key"`
	SessionToken    string        `json:"session_token,omitempty" mapstructure:"session_token"`
	Endpoint        string        `json:"endpoint,omitempty" mapstructure:"endpoint"`
	ForcePathStyle  bool          `json:"force_path_style" mapstructure:"force_path_style"`
	DisableSSL      bool          `json:"disable_ssl" mapstructure:"disable_ssl"`
	Timeout         time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries      int           `json:"max_retries" mapstructure:"max_retries"`
	PartSize        int64         `json:"part_size" mapstructure:"part_size"`
}

// S3Fetcher downloads dataset objects from S3 or an S3-compatible store.
type S3Fetcher struct {
	config     *S3Config
	downloader *s3manager.Downloader
	logger     *logrus.Logger
	mu         sync.Mutex
}

// NewS3Fetcher creates a fetcher. The AWS session is created lazily on the
// first fetch.
func NewS3Fetcher(config *S3Config, logger *logrus.Logger) (*S3Fetcher, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "S3 config cannot be nil")
	}
	if config.Region == "" && config.Endpoint == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "S3 region or endpoint is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = constants.DefaultStorageTimeout
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &S3Fetcher{
		config: config,
		logger: logger,
	}, nil
}

func (f *S3Fetcher) connect() (*s3manager.Downloader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.downloader != nil {
		return f.downloader, nil
	}

	awsConfig := &aws.Config{
		Region:     aws.String(f.config.Region),
		MaxRetries: aws.Int(f.config.MaxRetries),
	}

	if f.config.AccessKeyID != "" && f.config.SecretAccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			f.config.AccessKeyID,
			f.config.SecretAccessKey,
			f.config.SessionToken,
		)
	}

	// S3-compatible services
	if f.config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(f.config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(f.config.ForcePathStyle)
	}

	if f.config.DisableSSL {
		awsConfig.DisableSSL = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed,
			"Failed to create AWS session")
	}

	f.downloader = s3manager.NewDownloader(sess, func(d *s3manager.Downloader) {
		if f.config.PartSize > 0 {
			d.PartSize = f.config.PartSize
		}
	})

	f.logger.WithFields(logrus.Fields{
		"region":   f.config.Region,
		"endpoint": f.config.Endpoint,
	}).Info("Connected to S3")

	return f.downloader, nil
}

// Fetch downloads one object into memory.
func (f *S3Fetcher) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	downloader, err := f.connect()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	buf := aws.NewWriteAtBuffer([]byte{})
	n, err := downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeData, errors.CodeReadFailed,
			fmt.Sprintf("Failed to download s3://%s/%s", bucket, key))
	}

	f.logger.WithFields(logrus.Fields{
		"bucket": bucket,
		"key":    key,
		"bytes":  n,
	}).Debug("Downloaded dataset object")

	return buf.Bytes(), nil
}

// ParseS3URI splits "s3://bucket/key" into its parts.
func ParseS3URI(path string) (bucket, key string, ok bool) {
	if !strings.HasPrefix(path, s3Scheme) {
		return "", "", false
	}
	rest := strings.TrimPrefix(path, s3Scheme)
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
