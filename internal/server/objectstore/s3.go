package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/carselling/uploadpipe/internal/common"
)

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
)

// Config holds S3 connection settings for the upload bucket.
type Config struct {
	RootUser      string
	RootPassword  string
	Bucket        string
	Region        string
	BaseEndpoint  string
	CDNDomain     string
	PresignExpiry time.Duration
}

// S3Client implements Client over an S3-compatible backend (AWS S3, MinIO).
type S3Client struct {
	cfg     Config
	client  *s3.Client
	presign *s3.PresignClient
}

// NewS3Client builds a client with static credentials against the configured
// endpoint.
func NewS3Client(ctx context.Context, cfg Config) (*S3Client, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.RootUser,
			cfg.RootPassword,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Client{cfg: cfg, client: client, presign: newS3PresignClient(client)}, nil
}

func (c *S3Client) PresignUpload(ctx context.Context, key, contentType string) (*UploadTarget, error) {
	expiry := c.cfg.PresignExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}

	in := &s3.PutObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	req, err := presignPutObject(c.presign, ctx, in, s3.WithPresignExpires(expiry))
	if err != nil {
		return nil, fmt.Errorf("presign put: %w", err)
	}

	return &UploadTarget{URL: req.URL, Key: key, ExpiresAt: time.Now().Add(expiry)}, nil
}

func (c *S3Client) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	out, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("head object: %w", err)
	}

	hash := strings.Trim(aws.ToString(out.ETag), `"`)
	objectID := hash
	if id := aws.ToString(out.VersionId); id != "" {
		objectID = id
	}

	return &ObjectInfo{
		ObjectID:    objectID,
		ContentHash: hash,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
	}, nil
}

func (c *S3Client) Copy(ctx context.Context, srcKey, dstKey string) (string, error) {
	out, err := c.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(c.cfg.Bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(c.cfg.Bucket + "/" + url.PathEscape(srcKey)),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return "", common.ErrorNotFound
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if out.CopyObjectResult == nil {
		return "", fmt.Errorf("copy object: empty result")
	}
	return strings.Trim(aws.ToString(out.CopyObjectResult.ETag), `"`), nil
}

func (c *S3Client) Delete(ctx context.Context, key string) error {
	// S3 DeleteObject is idempotent: deleting a missing key succeeds.
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (c *S3Client) DeleteByPrefix(ctx context.Context, prefix string) error {
	var token *string
	for {
		page, err := c.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.cfg.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return fmt.Errorf("list objects: %w", err)
		}

		if len(page.Contents) > 0 {
			ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
			for _, obj := range page.Contents {
				ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
			}
			_, err = c.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(c.cfg.Bucket),
				Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
			})
			if err != nil {
				return fmt.Errorf("delete objects: %w", err)
			}
		}

		if !aws.ToBool(page.IsTruncated) {
			return nil
		}
		token = page.NextContinuationToken
	}
}

func (c *S3Client) PublicURL(key string) string {
	domain := strings.TrimSuffix(c.cfg.CDNDomain, "/")
	return domain + "/" + key
}
