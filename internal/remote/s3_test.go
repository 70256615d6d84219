package remote

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"syncvault/internal/apperr"
	"syncvault/internal/config"
	"syncvault/internal/crypto"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3Object struct {
	data     []byte
	metadata map[string]string
	class    types.StorageClass
}

// fakeS3 keeps objects in memory and answers the calls S3 makes.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeS3Object
	parts   map[int32][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]fakeS3Object{}, parts: map[int32][]byte{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = fakeS3Object{data: data, metadata: in.Metadata, class: in.StorageClass}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parts = map[int32][]byte{}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("mp-1")}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parts[aws.ToInt32(in.PartNumber)] = data
	return &s3.UploadPartOutput{ETag: aws.String("etag")}, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	numbers := make([]int, 0, len(f.parts))
	for n := range f.parts {
		numbers = append(numbers, int(n))
	}
	sort.Ints(numbers)
	var buf bytes.Buffer
	for _, n := range numbers {
		buf.Write(f.parts[int32(n)])
	}
	f.objects[aws.ToString(in.Key)] = fakeS3Object{data: buf.Bytes()}
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(obj.data))), Metadata: obj.metadata}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if aws.ToString(in.Bucket) != "backups" {
		return nil, &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)
	out := &s3.ListObjectsV2Output{}
	seen := map[string]bool{}
	modified := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if i := strings.Index(rest, delim); delim != "" && i >= 0 {
			cp := prefix + rest[:i+1]
			if !seen[cp] {
				seen[cp] = true
				out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
			}
			continue
		}
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(f.objects[k].data))),
			LastModified: aws.Time(modified),
		})
	}
	return out, nil
}

func TestS3RoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := newS3(fake, "backups", "/vault/", "")

	payload := []byte(`{"data":"{}"}`)
	require.NoError(t, s.Upload(ctx, "/backup_x/cloud-1.json", payload))

	obj, ok := fake.objects["vault/backup_x/cloud-1.json"]
	require.True(t, ok, "keys are prefixed and have no leading slash")
	assert.Equal(t, crypto.Hash(payload), obj.metadata["blake3"])
	assert.Equal(t, types.StorageClassStandard, obj.class)

	got, err := s.Download(ctx, "/backup_x/cloud-1.json")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	objects, err := s.List(ctx, "/")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, ObjectInfo{Path: "/backup_x", Name: "backup_x", IsDir: true}, objects[0])

	objects, err = s.List(ctx, "/backup_x")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "/backup_x/cloud-1.json", objects[0].Path)
	assert.Equal(t, int64(len(payload)), objects[0].Size)

	require.NoError(t, s.Delete(ctx, "/backup_x/cloud-1.json"))
	err = s.Delete(ctx, "/backup_x/cloud-1.json")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = s.Download(ctx, "/backup_x/cloud-1.json")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestS3UploadMultipart(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := newS3(fake, "backups", "", types.StorageClassStandardIa)

	payload := bytes.Repeat([]byte("0123456789abcdef"), 700*1024) // ~11 MiB, three parts
	require.NoError(t, s.UploadMultipart(ctx, "/big.json", payload, 1024))

	assert.Len(t, fake.parts, 3, "part size is raised to the S3 minimum")
	got, err := s.Download(ctx, "/big.json")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestS3TestConnection(t *testing.T) {
	ctx := context.Background()

	ok, _ := newS3(newFakeS3(), "backups", "", "").TestConnection(ctx)
	assert.True(t, ok)

	ok, msg := newS3(newFakeS3(), "other", "", "").TestConnection(ctx)
	assert.False(t, ok)
	assert.Contains(t, msg, "AccessDenied")
}

func TestS3Error(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{name: "no such key", err: &types.NoSuchKey{}, want: apperr.KindNotFound},
		{name: "head not found", err: &types.NotFound{}, want: apperr.KindNotFound},
		{name: "access denied", err: &smithy.GenericAPIError{Code: "AccessDenied"}, want: apperr.KindAuth},
		{name: "bad signature", err: &smithy.GenericAPIError{Code: "SignatureDoesNotMatch"}, want: apperr.KindAuth},
		{name: "server fault", err: &smithy.GenericAPIError{Code: "InternalError", Fault: smithy.FaultServer}, want: apperr.KindConnection},
		{name: "client fault", err: &smithy.GenericAPIError{Code: "InvalidArgument", Fault: smithy.FaultClient}, want: apperr.KindRequest},
		{name: "cancelled", err: context.Canceled, want: apperr.KindCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperr.KindOf(s3Error("op", tt.err)))
		})
	}
}

func TestValidateStorageClass(t *testing.T) {
	tests := []struct {
		name         string
		storageClass string
		wantErr      bool
	}{
		{name: "STANDARD is accessible", storageClass: "STANDARD"},
		{name: "STANDARD_IA is accessible", storageClass: "STANDARD_IA"},
		{name: "INTELLIGENT_TIERING is accessible", storageClass: "INTELLIGENT_TIERING"},
		{name: "GLACIER needs a restore", storageClass: "GLACIER", wantErr: true},
		{name: "DEEP_ARCHIVE needs a restore", storageClass: "DEEP_ARCHIVE", wantErr: true},
		{name: "empty string defaults to STANDARD", storageClass: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStorageClass(tt.storageClass)
			if tt.wantErr {
				assert.ErrorContains(t, err, "not immediately accessible")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewS3RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), config.S3Config{Region: "eu-west-1"}, 3)
	assert.True(t, apperr.Is(err, apperr.KindConfig))
}
