package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config is optional; empty values fall back to the default AWS credential chain.
type S3Config struct {
	Region       string
	Profile      string
	UsePathStyle bool
	// Endpoint points at an S3-compatible store instead of AWS.
	Endpoint string

	AccessKeyID     string
	SecretAccessKey string
}

// S3 reads archive objects from a bucket.
type S3 struct {
	client *s3.Client
}

func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	c := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &S3{client: c}, nil
}

// List returns every key under prefix, following continuation tokens.
func (s *S3) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
	}
	if prefix != "" {
		in.Prefix = aws.String(prefix)
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return keys, nil
}

// Get returns the object's streaming body. Caller must Close it.
func (s *S3) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

// IsS3URI reports whether target uses the s3 scheme.
func IsS3URI(target string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(target)), "s3://")
}

// ParseS3URI splits s3://bucket/prefix into its bucket and key prefix.
func ParseS3URI(target string) (bucket, prefix string, err error) {
	parsed, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return "", "", fmt.Errorf("parse s3 uri %q: %w", target, err)
	}
	if !strings.EqualFold(parsed.Scheme, "s3") {
		return "", "", fmt.Errorf("parse s3 uri %q: scheme must be s3", target)
	}
	if parsed.Host == "" {
		return "", "", fmt.Errorf("parse s3 uri %q: bucket is empty", target)
	}
	return parsed.Host, strings.TrimPrefix(parsed.Path, "/"), nil
}
