// Package photo opens task evidence photos from local files or S3.
package photo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"tareas/internal/config"
)

var (
	ErrEmpty    = errors.New("photo is empty")
	ErrNotImage = errors.New("photo is not an image")
)

// Source opens a photo reference for upload.
type Source interface {
	Open(ctx context.Context, ref string) (*Photo, error)
}

// Photo is an opened image ready to be streamed into a multipart form.
type Photo struct {
	Filename    string
	ContentType string
	io.Reader
	closer io.Closer
}

func (p *Photo) Close() error {
	if p == nil || p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store resolves local paths and s3://bucket/key references.
type Store struct {
	// NewS3 builds the S3 client on first use.
	NewS3  func(ctx context.Context) (S3API, error)
	Logger *logrus.Logger

	once  sync.Once
	s3    S3API
	s3Err error
}

// NewStore returns a store whose S3 client follows cfg.
func NewStore(cfg config.S3Config, logger *logrus.Logger) *Store {
	return &Store{
		NewS3: func(ctx context.Context) (S3API, error) {
			return NewS3Client(ctx, cfg)
		},
		Logger: logger,
	}
}

// NewS3Client loads the default AWS credential chain. A custom endpoint
// targets S3-compatible stores such as MinIO or LocalStack.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

func (s *Store) Open(ctx context.Context, ref string) (*Photo, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrEmpty
	}
	if strings.HasPrefix(ref, "s3://") {
		return s.openS3(ctx, ref)
	}
	f, err := os.Open(ref)
	if err != nil {
		return nil, err
	}
	p, err := sniff(filepath.Base(ref), f, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return p, nil
}

func (s *Store) openS3(ctx context.Context, ref string) (*Photo, error) {
	bucket, key, ok := strings.Cut(strings.TrimPrefix(ref, "s3://"), "/")
	if !ok || bucket == "" || key == "" {
		return nil, fmt.Errorf("invalid s3 reference %q", ref)
	}
	client, err := s.client(ctx)
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ref, err)
	}
	s.logger().WithFields(logrus.Fields{"bucket": bucket, "key": key}).Debug("photo fetched from s3")
	p, err := sniff(path.Base(key), out.Body, out.Body)
	if err != nil {
		out.Body.Close()
		return nil, err
	}
	return p, nil
}

func (s *Store) client(ctx context.Context) (S3API, error) {
	s.once.Do(func() {
		if s.NewS3 == nil {
			s.s3Err = errors.New("s3 photo references are not configured")
			return
		}
		s.s3, s.s3Err = s.NewS3(ctx)
	})
	return s.s3, s.s3Err
}

func (s *Store) logger() *logrus.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return logrus.StandardLogger()
}

// sniff reads the head of r to check it is a non-empty image.
func sniff(name string, r io.Reader, c io.Closer) (*Photo, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if n == 0 {
		return nil, ErrEmpty
	}
	head = head[:n]
	ct := http.DetectContentType(head)
	if !strings.HasPrefix(ct, "image/") {
		return nil, ErrNotImage
	}
	return &Photo{
		Filename:    name,
		ContentType: ct,
		Reader:      io.MultiReader(bytes.NewReader(head), r),
		closer:      c,
	}, nil
}
