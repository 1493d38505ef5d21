package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/config"
	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/ze"
)

// objectUploader is the part of manager.Uploader S3Uploader uses.
type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Uploader publishes builds to an S3-compatible bucket:
//
//	<prefix>/assets/<hash>
//	<prefix>/snapshots/<snapshot_id>.json
//	<prefix>/build-stats/<snapshot_id>.json
type S3Uploader struct {
	client    objectUploader
	bucket    string
	prefix    string
	publicURL string
}

var _ ze.Uploader = (*S3Uploader)(nil)

// NewS3Uploader builds an uploader from an s3 target. Static keys are
// used when both are set; otherwise the default AWS credential chain.
func NewS3Uploader(ctx context.Context, cfg config.TargetConfig) (*S3Uploader, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 target requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Uploader(manager.NewUploader(client), cfg.S3Bucket, cfg.S3Prefix, cfg.PublicURL), nil
}

func newS3Uploader(client objectUploader, bucket, prefix, publicURL string) *S3Uploader {
	return &S3Uploader{
		client:    client,
		bucket:    bucket,
		prefix:    strings.Trim(prefix, "/"),
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

func (u *S3Uploader) Upload(ctx context.Context, req ze.UploadRequest) (string, error) {
	if req.Snapshot == nil {
		return "", fmt.Errorf("upload request has no snapshot")
	}

	err := forEachAsset(ctx, req.Assets, defaultConcurrency, func(ctx context.Context, a *ze.AssetRecord) error {
		return u.put(ctx, u.key("assets", a.Hash), a.Buffer, contentType(a.Extname))
	})
	if err != nil {
		return "", fmt.Errorf("uploading assets: %w", err)
	}

	id := req.Snapshot.SnapshotID
	if len(req.BuildStats) > 0 {
		if err := u.put(ctx, u.key("build-stats", id+".json"), req.BuildStats, "application/json"); err != nil {
			return "", fmt.Errorf("uploading build stats: %w", err)
		}
	}

	data, err := json.Marshal(req.Snapshot)
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}
	snapshotKey := u.key("snapshots", id+".json")
	if err := u.put(ctx, snapshotKey, data, "application/json"); err != nil {
		return "", fmt.Errorf("uploading snapshot: %w", err)
	}

	if u.publicURL != "" {
		return u.publicURL + "/" + id, nil
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, snapshotKey), nil
}

func (u *S3Uploader) key(parts ...string) string {
	return path.Join(append([]string{u.prefix}, parts...)...)
}

func (u *S3Uploader) put(ctx context.Context, key string, data []byte, ctype string) error {
	_, err := u.client.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(ctype),
	})
	if err != nil {
		return fmt.Errorf("putting s3://%s/%s: %w", u.bucket, key, err)
	}
	return nil
}
