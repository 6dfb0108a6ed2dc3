// Package s3 implements the S3-compatible blob backend. It works with AWS S3,
// MinIO and other S3-compatible services through a configurable endpoint.
// Supported authentication: the default AWS credential chain, static keys,
// OIDC web identity and AssumeRole.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	appconfig "github.com/srcpkg/registry/internal/config"
	"github.com/srcpkg/registry/internal/storage"
)

func init() {
	storage.Register("s3", func(cfg *appconfig.Config) (storage.Storage, error) {
		return New(&cfg.Storage)
	})
}

// S3Storage implements storage.Storage for S3-compatible services
type S3Storage struct {
	client     *s3.Client
	bucket     string
	region     string
	endpoint   string
	keyPrefix  string
	publicHost string
}

// New builds a client for the configured bucket. AuthMethod is one of
// "default" (the AWS credential chain), "static" (access key pair), "oidc"
// (web identity token exchanged through STS) or "assume_role". When empty it
// is "static" if both keys are set and "default" otherwise.
func New(storageCfg *appconfig.StorageConfig) (*S3Storage, error) {
	cfg := &storageCfg.S3
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, errors.New("s3: bucket and region are required")
	}
	method, err := authMethod(cfg)
	if err != nil {
		return nil, err
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if method == "static" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to load AWS config: %w", err)
	}
	if provider := roleProvider(method, cfg, sts.NewFromConfig(awsCfg)); provider != nil {
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
			// Not every S3-compatible service understands flexible checksums.
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		})
	}

	return &S3Storage{
		client:     s3.NewFromConfig(awsCfg, clientOpts...),
		bucket:     cfg.Bucket,
		region:     cfg.Region,
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		keyPrefix:  storageCfg.KeyPrefix,
		publicHost: storageCfg.PublicHost,
	}, nil
}

// authMethod resolves the effective method and checks the settings it needs.
func authMethod(cfg *appconfig.S3StorageConfig) (string, error) {
	method := cfg.AuthMethod
	if method == "" {
		method = "default"
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			method = "static"
		}
	}

	switch method {
	case "default":
	case "static":
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return "", errors.New("s3: static auth needs access_key_id and secret_access_key")
		}
	case "oidc":
		if cfg.RoleARN == "" || cfg.WebIdentityTokenFile == "" {
			return "", errors.New("s3: oidc auth needs role_arn and web_identity_token_file")
		}
	case "assume_role":
		if cfg.RoleARN == "" {
			return "", errors.New("s3: assume_role auth needs role_arn")
		}
	default:
		return "", fmt.Errorf("s3: unsupported auth_method %q", method)
	}
	return method, nil
}

// roleProvider returns the STS-backed provider for the role based methods and
// nil for the rest.
func roleProvider(method string, cfg *appconfig.S3StorageConfig, client *sts.Client) aws.CredentialsProvider {
	switch method {
	case "oidc":
		return stscreds.NewWebIdentityRoleProvider(client, cfg.RoleARN,
			stscreds.IdentityTokenFile(cfg.WebIdentityTokenFile),
			func(o *stscreds.WebIdentityRoleOptions) {
				if cfg.RoleSessionName != "" {
					o.RoleSessionName = cfg.RoleSessionName
				}
			})
	case "assume_role":
		return stscreds.NewAssumeRoleProvider(client, cfg.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			if cfg.RoleSessionName != "" {
				o.RoleSessionName = cfg.RoleSessionName
			}
			if cfg.ExternalID != "" {
				o.ExternalID = aws.String(cfg.ExternalID)
			}
		})
	}
	return nil
}

// Upload streams the object to S3 with a single PutObject. The payload is
// sent unsigned so the body does not have to be buffered or rewound to
// compute its SHA-256 for the request signature.
func (s *S3Storage) Upload(ctx context.Context, path string, reader io.Reader, opts storage.UploadOptions) (*storage.UploadResult, error) {
	key := storage.ObjectKey(s.keyPrefix, path)

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   reader,
	}
	if opts.Size > 0 {
		input.ContentLength = aws.Int64(opts.Size)
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.ContentEncoding != "" {
		input.ContentEncoding = aws.String(opts.ContentEncoding)
	}

	_, err := s.client.PutObject(ctx, input,
		s3.WithAPIOptions(v4.SwapComputePayloadSHA256ForUnsignedPayloadMiddleware))
	if err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return &storage.UploadResult{Path: path, Key: key, Size: opts.Size}, nil
}

// Download retrieves an object from S3
func (s *S3Storage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storage.ObjectKey(s.keyPrefix, path)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	return result.Body, nil
}

// Delete removes an object from S3
func (s *S3Storage) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storage.ObjectKey(s.keyPrefix, path)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// Exists checks if an object exists at the specified path
func (s *S3Storage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storage.ObjectKey(s.keyPrefix, path)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat S3 object: %w", err)
	}
	return true, nil
}

// PublicURL returns the public location of an object: the configured public
// host if any, else the endpoint or the bucket's virtual-hosted AWS URL.
func (s *S3Storage) PublicURL(path string) string {
	key := storage.ObjectKey(s.keyPrefix, path)
	switch {
	case s.publicHost != "":
		return storage.HTTPSURL(s.publicHost, key)
	case s.endpoint != "":
		return s.endpoint + "/" + s.bucket + "/" + key
	default:
		return storage.HTTPSURL(fmt.Sprintf("%s.s3.%s.amazonaws.com", s.bucket, s.region), key)
	}
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404
}
