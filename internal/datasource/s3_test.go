package datasource

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/aidrin/pkg/constants"
	apperrors "github.com/inferloop/aidrin/pkg/errors"
)

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		path   string
		bucket string
		key    string
		ok     bool
	}{
		{"s3://bucket/key.csv", "bucket", "key.csv", true},
		{"s3://bucket/nested/dir/key.json", "bucket", "nested/dir/key.json", true},
		{"s3://bucket", "", "", false},
		{"s3://bucket/", "", "", false},
		{"s3:///key.csv", "", "", false},
		{"/local/path.csv", "", "", false},
		{"https://bucket/key.csv", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			bucket, key, ok := ParseS3URI(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestNewS3Fetcher(t *testing.T) {
	_, err := NewS3Fetcher(nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidConfig, apperrors.AsAppError(err).Code)

	_, err = NewS3Fetcher(&S3Config{}, nil)
	require.Error(t, err)

	f, err := NewS3Fetcher(&S3Config{Region: "us-east-1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultStorageTimeout, f.config.Timeout)
}

func TestS3FetcherIntegration(t *testing.T) {
	endpoint := os.Getenv("AIDRIN_TEST_S3_ENDPOINT")
	bucket := os.Getenv("AIDRIN_TEST_S3_BUCKET")
	if endpoint == "" || bucket == "" {
		t.Skip("AIDRIN_TEST_S3_ENDPOINT and AIDRIN_TEST_S3_BUCKET not set")
	}

	f, err := NewS3Fetcher(&S3Config{
		Region:         "us-east-1",
		Endpoint:       endpoint,
		ForcePathStyle: true,
		DisableSSL:     true,
	}, nil)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), bucket, "does-not-exist.csv")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeReadFailed, apperrors.AsAppError(err).Code)
}
