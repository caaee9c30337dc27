package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// S3Config configures an S3-compatible endpoint (AWS, MinIO, SeaweedFS).
type S3Config struct {
	Endpoint       string
	Region         string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
	// PublicBaseURL is prefixed to bucket/key to build retrieval URLs.
	PublicBaseURL string
	// Timeout bounds each request; zero means 30s.
	Timeout time.Duration
}

// S3 stores artifacts with conditional writes so an existing key is never replaced.
type S3 struct {
	api        *s3.Client
	publicBase string
}

func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("S3_ENDPOINT is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("S3_ACCESS_KEY and S3_SECRET_KEY are required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	endpoint := cfg.Endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// The SDK only applies AWS_CA_BUNDLE and its transport defaults to a buildable client.
	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(timeout)),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		o.BaseEndpoint = aws.String(endpoint)
		if o.HTTPClient != nil {
			o.HTTPClient = traced(o.HTTPClient)
		}
	})
	return &S3{api: client, publicBase: strings.TrimRight(cfg.PublicBaseURL, "/")}, nil
}

func (c *S3) Upload(ctx context.Context, bucket, key string, body io.Reader, opts UploadOptions) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        body,
		IfNoneMatch: aws.String("*"),
	}
	if opts.ContentType != "" {
		in.ContentType = aws.String(opts.ContentType)
	}
	if h := opts.cacheHeader(); h != "" {
		in.CacheControl = aws.String(h)
	}

	if _, err := c.api.PutObject(ctx, in); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "PreconditionFailed" || apiErr.ErrorCode() == "ConditionalRequestConflict") {
			return fmt.Errorf("%w: %s/%s", ErrObjectExists, bucket, key)
		}
		return fmt.Errorf("s3 put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (c *S3) PublicURL(bucket, key string) string {
	return fmt.Sprintf("%s/%s/%s", c.publicBase, bucket, escapeKey(key))
}

type doerTransport struct{ next aws.HTTPClient }

func (t doerTransport) RoundTrip(req *http.Request) (*http.Response, error) { return t.next.Do(req) }

type tracedClient struct{ rt http.RoundTripper }

func (c tracedClient) Do(req *http.Request) (*http.Response, error) { return c.rt.RoundTrip(req) }

// traced adds client spans around an SDK HTTP client without replacing its transport.
func traced(next aws.HTTPClient) aws.HTTPClient {
	return tracedClient{rt: otelhttp.NewTransport(doerTransport{next: next})}
}
