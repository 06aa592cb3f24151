package services

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	sc "github.com/mivanovs/telegate/internal/server/config"
)

// Seams for testing the AWS SDK interaction without real object storage.
var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in)
	}
)

// PhotoArchive stores profile photos in S3-compatible object storage
// (MinIO in the default deployment) and hands back the object key.
type PhotoArchive struct {
	config *sc.Config
}

func NewPhotoArchive(config *sc.Config) *PhotoArchive {
	return &PhotoArchive{config: config}
}

func photoStorageKey(profileID int64) string {
	return fmt.Sprintf("profiles/%d/%v.jpg", profileID, uuid.New())
}

func (a *PhotoArchive) getClient() (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(context.Background(),
		awsconfig.WithRegion(a.config.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			a.config.S3RootUser,     // MINIO_ROOT_USER
			a.config.S3RootPassword, // MINIO_ROOT_PASSWORD
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(a.config.S3BaseEndpoint)
		o.UsePathStyle = true
	}), nil
}

// Store uploads photo bytes for a profile and returns the object key.
func (a *PhotoArchive) Store(ctx context.Context, profileID int64, data []byte) (string, error) {
	client, err := a.getClient()
	if err != nil {
		return "", err
	}

	bucket := a.config.S3Bucket
	key := photoStorageKey(profileID)
	contentType := "image/jpeg"

	if _, err := putObject(client, ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	}); err != nil {
		return "", err
	}

	return key, nil
}
