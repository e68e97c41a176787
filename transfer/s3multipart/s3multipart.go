// Package s3multipart implements a blockwise upload transport on S3
// multipart uploads. Block i is uploaded as part i+1; the upload is
// completed after the last block and aborted on failure.
package s3multipart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/justapithecus/earshot/transfer"
	"github.com/justapithecus/earshot/types"
)

// MinPartSize is the S3 minimum size of every part but the last.
const MinPartSize = 5 * 1024 * 1024

// MaxParts is the S3 limit on parts per upload.
const MaxParts = 10000

// ErrBlockSize is returned by Begin for blocks below MinPartSize.
var ErrBlockSize = errors.New("block size below S3 minimum part size")

// API is the subset of *s3.Client used by the sender.
type API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Config configures the sender.
type Config struct {
	// Bucket is the target bucket (required).
	Bucket string
	// Prefix is prepended to object keys (optional).
	Prefix string
	// DeviceID partitions object keys.
	DeviceID string
	// Now returns the time used for the day partition (default time.Now).
	Now func() time.Time
}

// Sender uploads recordings as S3 multipart uploads.
type Sender struct {
	api    API
	config Config
}

// New creates a sender over api.
func New(api API, cfg Config) (*Sender, error) {
	if api == nil {
		return nil, errors.New("s3multipart: client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3multipart: bucket is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sender{api: api, config: cfg}, nil
}

// Key returns the object key for resource.
func (s *Sender) Key(resource string) string {
	return path.Join(s.config.Prefix, types.ObjectPath(s.config.DeviceID, s.config.Now(), resource))
}

// Probe checks that the bucket exists and is accessible.
func (s *Sender) Probe(ctx context.Context) error {
	_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.config.Bucket)})
	if err != nil {
		return fmt.Errorf("s3multipart: head bucket: %w", err)
	}
	return nil
}

// Begin creates the multipart upload.
func (s *Sender) Begin(ctx context.Context, resource, contentType string, blockSize int) (transfer.Stream, error) {
	if blockSize < MinPartSize {
		return nil, fmt.Errorf("%w: %d < %d", ErrBlockSize, blockSize, MinPartSize)
	}
	key := s.Key(resource)
	out, err := s.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"device-id": s.config.DeviceID,
			"resource":  resource,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("s3multipart: create upload: %w", err)
	}
	return &stream{sender: s, key: key, uploadID: aws.ToString(out.UploadId)}, nil
}

type stream struct {
	sender   *Sender
	key      string
	uploadID string
	parts    []s3types.CompletedPart
}

func (st *stream) SendBlock(ctx context.Context, index uint64, data []byte, _ bool) error {
	if index >= MaxParts {
		return fmt.Errorf("s3multipart: block %d exceeds %d parts", index, MaxParts)
	}
	partNumber := int32(index + 1)
	out, err := st.sender.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(st.sender.config.Bucket),
		Key:           aws.String(st.key),
		UploadId:      aws.String(st.uploadID),
		PartNumber:    aws.Int32(partNumber),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("s3multipart: upload part %d: %w", partNumber, err)
	}
	st.parts = append(st.parts, s3types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int32(partNumber),
	})
	return nil
}

func (st *stream) Commit(ctx context.Context) error {
	_, err := st.sender.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(st.sender.config.Bucket),
		Key:             aws.String(st.key),
		UploadId:        aws.String(st.uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: st.parts},
	})
	if err != nil {
		return fmt.Errorf("s3multipart: complete upload: %w", err)
	}
	return nil
}

func (st *stream) Abort(ctx context.Context) error {
	_, err := st.sender.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(st.sender.config.Bucket),
		Key:      aws.String(st.key),
		UploadId: aws.String(st.uploadID),
	})
	if err != nil {
		return fmt.Errorf("s3multipart: abort upload: %w", err)
	}
	return nil
}

// Verify Sender implements the transfer interface.
var _ transfer.Sender = (*Sender)(nil)
