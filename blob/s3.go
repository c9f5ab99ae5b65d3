package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"canvas-collab/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type s3Storage struct {
	s3Client *s3.Client
	bucket   string
}

// NewS3Storage creates an S3-backed blob store.
func NewS3Storage(bucketName string) *s3Storage {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	return &s3Storage{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucketName,
	}
}

func (s *s3Storage) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.s3Client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload blob %s: %v", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *s3Storage) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get blob %s: %v", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob data: %v", err)
	}
	return data, nil
}

func (s *s3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete blob %s: %v", key, err)
	}
	return nil
}
