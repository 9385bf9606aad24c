package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/guardiavault/vault-recovery-backend/interfaces"
)

// S3Archive stores fragment ciphertext copies in an S3 or compatible bucket.
type S3Archive struct {
	client      *s3.S3
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3Archive creates an S3 archive over the given bucket and key prefix.
// An empty endpoint selects AWS proper; set it for MinIO and friends.
func NewS3Archive(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Archive, error) {
	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	return &S3Archive{
		client:      s3.New(sess),
		bucketName:  bucketName,
		prefix:      prefix,
		log:         log,
		locationURI: uri,
	}, nil
}

func (a *S3Archive) Put(ctx context.Context, key interfaces.FragmentKey, ciphertext []byte) (string, error) {
	ref := path.Join(a.prefix, key.String())
	_, err := a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucketName),
		Key:    aws.String(ref),
		Body:   bytes.NewReader(ciphertext),
	})
	if err != nil {
		return "", fmt.Errorf("failed to put fragment to S3: %w", err)
	}

	a.log.Debug("Archived fragment to S3",
		slog.String("bucket", a.bucketName),
		slog.String("key", ref),
		slog.Int("size", len(ciphertext)))
	return ref, nil
}

func (a *S3Archive) Get(ctx context.Context, ref string) ([]byte, error) {
	out, err := a.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucketName),
		Key:    aws.String(ref),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get fragment from S3: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (a *S3Archive) Available(ctx context.Context) bool {
	_, err := a.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.bucketName),
	})
	if err != nil {
		a.log.Debug("S3 archive unavailable", "err", err)
		return false
	}
	return true
}

func (a *S3Archive) Name() string {
	return fmt.Sprintf("s3-%s", a.bucketName)
}

func (a *S3Archive) LocationURI() string {
	return a.locationURI
}
