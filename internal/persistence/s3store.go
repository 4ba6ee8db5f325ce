package persistence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"filippo.io/age"

	"dhcpd/internal/lease"
)

// S3Store persists the lease table snapshot as an object in an S3-compatible
// bucket, using the same yaml+zstd[+age] pipeline as FileStore. Grounded on
// a plain PutObject/GetObject surface, restricted to what this store needs.
type S3Store struct {
	api    *s3.Client
	Bucket string

	Recipients []age.Recipient
	Identities []age.Identity
	Pools      []PoolRange
}

// NewS3Store builds an S3Store against an S3-compatible endpoint, following
// static credentials with optional path-style addressing for non-AWS
// endpoints such as SeaweedFS/MinIO.
func NewS3Store(ctx context.Context, endpoint, region, accessKey, secretKey, bucket string, forcePathStyle bool) (*S3Store, error) {
	if endpoint == "" {
		return nil, errors.New("s3 endpoint is required")
	}
	if accessKey == "" || secretKey == "" {
		return nil, errors.New("s3 access key and secret key are required")
	}
	if region == "" {
		region = "us-east-1"
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}

	cfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		awsconfig.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = forcePathStyle
		o.BaseEndpoint = aws.String(endpoint)
	})

	return &S3Store{api: client, Bucket: bucket}, nil
}

// Write encodes records and uploads them to key within Bucket.
func (s *S3Store) Write(ctx context.Context, key string, records []*lease.Record) error {
	dtos := make([]recordDTO, len(records))
	for i, r := range records {
		dtos[i] = toDTO(r)
	}

	plain, err := yaml.Marshal(dtos)
	if err != nil {
		return fmt.Errorf("marshal lease snapshot: %w", err)
	}

	var compressed bytes.Buffer
	enc, err := zstd.NewWriter(&compressed)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := enc.Write(plain); err != nil {
		enc.Close()
		return fmt.Errorf("compress lease snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close zstd writer: %w", err)
	}

	final := compressed.Bytes()
	if len(s.Recipients) > 0 {
		final, err = encryptPayload(compressed.Bytes(), s.Recipients)
		if err != nil {
			return fmt.Errorf("encrypt lease snapshot: %w", err)
		}
	}

	size := int64(len(final))
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.Bucket,
		Key:           &key,
		Body:          bytes.NewReader(final),
		ContentLength: &size,
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// Read downloads and decodes key from Bucket, applying FilterForLoad.
func (s *S3Store) Read(ctx context.Context, key string) ([]*lease.Record, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.Bucket,
		Key:    &key,
	})
	if err != nil {
		var notFound interface{ ErrorCode() string }
		if errors.As(err, &notFound) && (notFound.ErrorCode() == "NoSuchKey" || notFound.ErrorCode() == "NotFound") {
			return nil, nil
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object body: %w", err)
	}

	if len(s.Identities) > 0 {
		data, err = decryptPayload(data, s.Identities)
		if err != nil {
			return nil, fmt.Errorf("decrypt snapshot: %w", err)
		}
	}

	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()

	plain, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}

	var dtos []recordDTO
	if err := yaml.Unmarshal(plain, &dtos); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	records := make([]*lease.Record, 0, len(dtos))
	for _, dto := range dtos {
		records = append(records, fromDTO(dto))
	}
	return FilterForLoad(records, s.Pools), nil
}
