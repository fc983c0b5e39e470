package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3Config holds the bucket settings for presigned-URL uploads.
type S3Config struct {
	Region        string
	Bucket        string
	Endpoint      string // for S3-compatible stores such as MinIO
	AccessKey     string
	SecretKey     string
	Prefix        string
	PresignExpiry time.Duration
}

// objectStore is the slice of S3 the provider needs.
type objectStore interface {
	Upload(ctx context.Context, bucket, key string, body io.Reader, contentType string) error
	PresignGet(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}

type s3Store struct {
	presigner *s3.PresignClient
	uploader  *manager.Uploader
}

func newS3Store(ctx context.Context, cfg S3Config) (*s3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	return &s3Store{
		presigner: s3.NewPresignClient(client),
		uploader:  manager.NewUploader(client),
	}, nil
}

func (s *s3Store) Upload(ctx context.Context, bucket, key string, body io.Reader, contentType string) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	return nil
}

func (s *s3Store) PresignGet(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	result, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("s3 presign: %w", err)
	}
	return result.URL, nil
}

// S3Provider uploads local files to a bucket and hands out presigned GET URLs.
type S3Provider struct {
	store  objectStore
	bucket string
	prefix string
	expiry time.Duration
	log    *slog.Logger
}

func NewS3Provider(ctx context.Context, cfg S3Config, log *slog.Logger) (*S3Provider, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 provider: bucket is required")
	}
	store, err := newS3Store(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newS3Provider(store, cfg, log), nil
}

func newS3Provider(store objectStore, cfg S3Config, log *slog.Logger) *S3Provider {
	if log == nil {
		log = slog.Default()
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "uploads"
	}
	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &S3Provider{store: store, bucket: cfg.Bucket, prefix: prefix, expiry: expiry, log: log}
}

func (p *S3Provider) Name() string { return "s3" }

func (p *S3Provider) URL(ctx context.Context, source string) (string, error) {
	if IsRemote(source) {
		return "", ErrNotApplicable
	}
	local := localPath(source)
	f, err := os.Open(local)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", local, err)
	}
	defer f.Close()

	base := filepath.Base(local)
	key := path.Join(p.prefix, uuid.NewString(), base)
	contentType := mime.TypeByExtension(filepath.Ext(base))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if err := p.store.Upload(ctx, p.bucket, key, f, contentType); err != nil {
		return "", err
	}
	u, err := p.store.PresignGet(ctx, p.bucket, key, p.expiry)
	if err != nil {
		return "", err
	}
	p.log.Info("uploaded to s3", "bucket", p.bucket, "key", key, "expires_in", p.expiry)
	return u, nil
}
