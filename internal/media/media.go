// Package media stores user uploads in an S3-compatible bucket. Reads
// are public through the bucket URL; writes require authentication; a
// delete must target a key under the caller's own prefix.
package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/cooperblacks/liaotian/internal/config"
)

// ErrForbiddenKey is returned when a delete targets a key outside the
// caller's prefix.
var ErrForbiddenKey = fmt.Errorf("object key does not belong to caller")

type Store struct {
	client    *s3.Client
	bucket    string
	publicURL string
	maxSize   int64
	logger    *slog.Logger
}

func NewStore(ctx context.Context, cfg *appconfig.Config, logger *slog.Logger) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.MediaRegion),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.MediaAccessKey, cfg.MediaSecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.MediaEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.MediaEndpoint)
			o.UsePathStyle = true // MinIO and friends
		}
	})

	return &Store{
		client:    client,
		bucket:    cfg.MediaBucket,
		publicURL: strings.TrimRight(cfg.MediaPublicURL, "/"),
		maxSize:   int64(cfg.MediaMaxSizeMB) << 20,
		logger:    logger,
	}, nil
}

// MaxSize is the upload limit in bytes.
func (s *Store) MaxSize() int64 { return s.maxSize }

// PublicURL returns the public address for an object key.
func (s *Store) PublicURL(key string) string {
	return s.publicURL + "/" + key
}

// Upload writes an object and returns its public URL. The key is not
// forced under the caller's prefix -- only deletes check ownership --
// so an off-prefix write is allowed but logged.
func (s *Store) Upload(ctx context.Context, callerID, key, contentType string, body io.Reader) (string, error) {
	key = cleanKey(key)
	if key == "" {
		return "", fmt.Errorf("empty object key")
	}
	if owner := firstSegment(key); owner != callerID {
		s.logger.Warn("upload outside caller prefix", "caller", callerID, "key", key)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}

	return s.PublicURL(key), nil
}

// Delete removes an object. The first path segment of the key must be
// the caller's id.
func (s *Store) Delete(ctx context.Context, callerID, key string) error {
	key = cleanKey(key)
	if firstSegment(key) != callerID {
		return ErrForbiddenKey
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// cleanKey normalizes the key and rejects traversal.
func cleanKey(key string) string {
	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	if key == "." || strings.HasPrefix(key, "..") {
		return ""
	}
	return key
}

func firstSegment(key string) string {
	if i := strings.IndexByte(key, '/'); i > 0 {
		return key[:i]
	}
	return key
}
