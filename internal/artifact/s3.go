package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"model_gateway/internal/serving"
	"model_gateway/internal/utils"
)

// S3Store fetches model artifacts from an S3 bucket
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	logger *utils.Logger
}

// NewS3Store creates an S3-backed artifact store
func NewS3Store(ctx context.Context, bucket, region, prefix string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3Store{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
		logger: utils.NewLogger("s3-artifacts"),
	}, nil
}

// Fetch downloads one artifact object. The registered path is joined to the
// configured key prefix.
func (s *S3Store) Fetch(ctx context.Context, path string) ([]byte, error) {
	key := s.prefix + strings.TrimPrefix(path, "/")

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, serving.NotFoundf("artifact s3://%s/%s does not exist", s.bucket, key)
		}
		s.logger.Error("artifact download failed", "bucket", s.bucket, "key", key, "error", err)
		return nil, serving.Unavailablef("failed to fetch artifact s3://%s/%s: %v", s.bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, serving.Unavailablef("failed to read artifact body s3://%s/%s: %v", s.bucket, key, err)
	}

	s.logger.Debug("artifact fetched", "bucket", s.bucket, "key", key, "bytes", len(data))
	return data, nil
}

var _ Store = (*S3Store)(nil)
