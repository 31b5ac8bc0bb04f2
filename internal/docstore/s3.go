package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store implements Store against an S3-compatible backend (AWS S3 or
// MinIO). Single bucket; keys map to object keys directly.
type S3Store struct {
	client *s3.Client
	bucket string
}

// S3Config holds explicit construction parameters (mostly for tests). For
// prod we rely primarily on environment variables.
type S3Config struct {
	Region    string
	Bucket    string
	Endpoint  string // optional; enables a custom endpoint (e.g. MinIO)
	PathStyle bool
}

// Environment variables:
//
//	TRACECORE_DOCSTORE_DRIVER=s3
//	TRACECORE_DOCSTORE_S3_BUCKET=<bucket> (required)
//	TRACECORE_DOCSTORE_S3_REGION=<region> (default us-east-1)
//	TRACECORE_DOCSTORE_S3_ENDPOINT=<url> (optional, for MinIO)
//	TRACECORE_DOCSTORE_S3_PATH_STYLE=true|false (default false)
//	AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY / AWS_SESSION_TOKEN (optional)

// NewS3 creates an S3 document store from S3Config.
func NewS3(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

// OpenS3FromEnv constructs an S3 document store from process environment.
func OpenS3FromEnv(ctx context.Context) (*S3Store, error) {
	bucket := os.Getenv("TRACECORE_DOCSTORE_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("TRACECORE_DOCSTORE_S3_BUCKET required for s3 driver")
	}
	return NewS3(ctx, S3Config{
		Bucket:    bucket,
		Region:    os.Getenv("TRACECORE_DOCSTORE_S3_REGION"),
		Endpoint:  os.Getenv("TRACECORE_DOCSTORE_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("TRACECORE_DOCSTORE_S3_PATH_STYLE"), "true"),
	})
}

// Driver reports the backend kind.
func (s *S3Store) Driver() Driver { return DriverS3 }

// Put uploads the document as JSON. Create-only is emulated via Head first.
func (s *S3Store) Put(ctx context.Context, key string, doc any) (Info, error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return Info{}, err
	}
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &k}); err == nil {
		return Info{}, fmt.Errorf("%w: %s", ErrAlreadyExists, key)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return Info{}, err
	}
	contentType := contentTypeJSON
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &k,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	}); err != nil {
		return Info{}, err
	}
	return s.Head(ctx, key)
}

// Get downloads and decodes the document under key.
func (s *S3Store) Get(ctx context.Context, key string, out any) (Info, error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return Info{}, err
	}
	obj, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &k})
	if err != nil {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	defer func() { _ = obj.Body.Close() }()
	body, err := io.ReadAll(obj.Body)
	if err != nil {
		return Info{}, err
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return Info{}, err
		}
	}
	return s.objectInfo(k, int64(len(body)), obj.ETag, obj.LastModified), nil
}

// Head reports object metadata.
func (s *S3Store) Head(ctx context.Context, key string) (Info, error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return Info{}, err
	}
	obj, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &k})
	if err != nil {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	var size int64
	if obj.ContentLength != nil {
		size = *obj.ContentLength
	}
	return s.objectInfo(k, size, obj.ETag, obj.LastModified), nil
}

// Delete removes the object. S3 deletes are idempotent, so the store assumes
// the object existed when the call succeeds.
func (s *S3Store) Delete(ctx context.Context, key string) (bool, error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return false, err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &k}); err != nil {
		return false, err
	}
	return true, nil
}

// List returns the objects whose keys start with prefix, sorted by key.
func (s *S3Store) List(ctx context.Context, prefix string) ([]Info, error) {
	var infos []Info
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            &prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			var size int64
			if obj.Size != nil {
				size = *obj.Size
			}
			infos = append(infos, s.objectInfo(aws.ToString(obj.Key), size, obj.ETag, obj.LastModified))
		}
		if out.IsTruncated != nil && *out.IsTruncated && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (s *S3Store) objectInfo(key string, size int64, etag *string, lastModified *time.Time) Info {
	info := Info{
		Key:  key,
		Size: size,
		URI:  "s3://" + s.bucket + "/" + key,
	}
	if etag != nil {
		info.ETag = strings.Trim(*etag, "\"")
	}
	if lastModified != nil {
		info.LastModified = lastModified.UTC().Format(time.RFC3339)
	}
	return info
}
