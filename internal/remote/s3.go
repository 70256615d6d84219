package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"syncvault/internal/apperr"
	"syncvault/internal/config"
	"syncvault/internal/crypto"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// s3API is the subset of *s3.Client the backend calls.
type s3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type S3 struct {
	client       s3API
	uploader     *manager.Uploader
	bucket       string
	prefix       string
	storageClass types.StorageClass
}

func NewS3(ctx context.Context, cfg config.S3Config, maxRetryAttempts int) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, apperr.New(apperr.KindConfig, "init s3", "s3 bucket is required")
	}
	if err := ValidateStorageClass(string(cfg.StorageClass)); err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "init s3", err)
	}

	var configOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		configOpts = append(configOpts, awsconfig.WithRegion(cfg.Region))
	}
	if maxRetryAttempts > 0 {
		configOpts = append(configOpts,
			awsconfig.WithRetryMaxAttempts(maxRetryAttempts),
			awsconfig.WithRetryMode(aws.RetryModeStandard),
		)
		slog.Debug("Configured S3 retry strategy", "mode", "standard", "maxAttempts", maxRetryAttempts)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "init s3", fmt.Errorf("failed to load AWS config: %w", err))
	}

	// S3-compatible endpoints usually take keys from the environment only.
	if cfg.Endpoint != "" {
		if accessKey := os.Getenv("AWS_ACCESS_KEY_ID"); accessKey != "" {
			if secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY"); secretKey != "" {
				awsCfg.Credentials = credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
			}
		}
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
		slog.Info("S3 client initialized with custom endpoint", "endpoint", cfg.Endpoint)
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return newS3(client, cfg.Bucket, cfg.Prefix, cfg.StorageClass), nil
}

func newS3(client s3API, bucket, prefix string, storageClass types.StorageClass) *S3 {
	if storageClass == "" {
		storageClass = types.StorageClassStandard
	}
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenSupported
	})
	return &S3{
		client:       client,
		uploader:     uploader,
		bucket:       bucket,
		prefix:       strings.Trim(prefix, "/"),
		storageClass: storageClass,
	}
}

func (s *S3) Name() string {
	return config.BackendS3
}

func (s *S3) TestConnection(ctx context.Context) (bool, string) {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return false, s3Error("head bucket", err).Error()
	}
	return true, fmt.Sprintf("bucket %s is accessible", s.bucket)
}

// EnsureDir is a no-op; S3 has no directories.
func (s *S3) EnsureDir(ctx context.Context, dir string) error {
	return nil
}

func (s *S3) Upload(ctx context.Context, p string, content []byte) error {
	return s.upload(ctx, p, content)
}

// UploadMultipart hands the object to the SDK uploader, which splits it into
// parts of at least partSize bytes and uploads them concurrently.
func (s *S3) UploadMultipart(ctx context.Context, p string, content []byte, partSize int64) error {
	if partSize < manager.MinUploadPartSize {
		partSize = manager.MinUploadPartSize
	}
	return s.upload(ctx, p, content, func(u *manager.Uploader) {
		u.PartSize = partSize
	})
}

func (s *S3) upload(ctx context.Context, p string, content []byte, opts ...func(*manager.Uploader)) error {
	key := s.key(p)
	input := &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(content),
		StorageClass: s.storageClass,
		Metadata:     map[string]string{"blake3": crypto.Hash(content)},
	}

	if _, err := s.uploader.Upload(ctx, input, opts...); err != nil {
		return s3Error("put "+key, err)
	}
	slog.Debug("Uploaded to S3", "bucket", s.bucket, "key", key, "storageClass", s.storageClass)
	return nil
}

func (s *S3) Download(ctx context.Context, p string) ([]byte, error) {
	key := s.key(p)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s3Error("get "+key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, apperr.FromTransport("get "+key, err)
	}
	return data, nil
}

func (s *S3) Delete(ctx context.Context, p string) error {
	key := s.key(p)
	// DeleteObject succeeds for missing keys, so check first.
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return s3Error("head "+key, err)
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return s3Error("delete "+key, err)
	}
	return nil
}

func (s *S3) List(ctx context.Context, dir string) ([]ObjectInfo, error) {
	prefix := s.key(dir)
	if prefix != "" {
		prefix += "/"
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var objects []ObjectInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s3Error("list "+prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			p := s.path(strings.TrimSuffix(aws.ToString(cp.Prefix), "/"))
			objects = append(objects, ObjectInfo{Path: p, Name: path.Base(p), IsDir: true})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix {
				continue
			}
			p := s.path(key)
			info := ObjectInfo{Path: p, Name: path.Base(p), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				info.ModTime = obj.LastModified.UTC()
			}
			objects = append(objects, info)
		}
	}
	return objects, nil
}

func (s *S3) key(p string) string {
	return strings.TrimPrefix(path.Join("/", s.prefix, Clean(p)), "/")
}

func (s *S3) path(key string) string {
	if s.prefix != "" {
		key = strings.TrimPrefix(key, s.prefix+"/")
	}
	return Clean(key)
}

func s3Error(op string, err error) error {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return apperr.Wrap(apperr.KindNotFound, op, err)
	}

	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return apperr.Wrap(apperr.KindNotFound, op, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "Forbidden":
			return apperr.Wrap(apperr.KindAuth, op, err)
		}
		if ae.ErrorFault() == smithy.FaultServer {
			return apperr.Wrap(apperr.KindConnection, op, err)
		}
		return apperr.Wrap(apperr.KindRequest, op, err)
	}
	return apperr.FromTransport(op, err)
}

// ValidateStorageClass rejects classes whose objects need a restore before
// they can be read back.
func ValidateStorageClass(storageClass string) error {
	if storageClass == "GLACIER" || storageClass == "DEEP_ARCHIVE" {
		return fmt.Errorf("storage class %s is not immediately accessible (requires restore)", storageClass)
	}
	return nil
}
