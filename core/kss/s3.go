// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package kss

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/relabs-tech/homebase/core/logger"
)

// S3Configuration contains the configuration for the S3 KSS service
type S3Configuration struct {
	AWSRegion     string
	AWSBucketName string
	// AccessID and AccessKey are optional. Without them the default credential chain is used.
	AccessID  string
	AccessKey string
	// KeyPrefix is prepended to all keys
	KeyPrefix string
}

// S3 is the implementation of the KSS driver for AWS S3
type S3 struct {
	client      *s3.Client
	bucket      string
	baseKeyName string
}

var _ Driver = (*S3)(nil)

// LoadAWSConfig loads the AWS configuration for region, with static credentials if accessID is set
func LoadAWSConfig(ctx context.Context, region, accessID, accessKey string) (aws.Config, error) {
	options := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if accessID != "" {
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessID, accessKey, "")))
	}
	return config.LoadDefaultConfig(ctx, options...)
}

// NewS3 returns a new S3
func NewS3(kssConfig S3Configuration) (*S3, error) {
	if kssConfig.AWSBucketName == "" {
		return nil, fmt.Errorf("AWSBucketName must not be empty")
	}
	cfg, err := LoadAWSConfig(context.Background(), kssConfig.AWSRegion, kssConfig.AccessID, kssConfig.AccessKey)
	if err != nil {
		return nil, err
	}
	logger.Default().Debugln("KSS S3 enabled")
	return &S3{
		client:      s3.NewFromConfig(cfg),
		bucket:      kssConfig.AWSBucketName,
		baseKeyName: kssConfig.KeyPrefix,
	}, nil
}

// Delete deletes the key file
func (s *S3) Delete(ctx context.Context, key string) error {
	rlog := logger.FromContext(ctx)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.baseKeyName + key),
	})
	if err != nil {
		rlog.WithError(err).Errorln("could not delete", s.baseKeyName+key)
		return err
	}
	rlog.Infoln("deleted", s.baseKeyName+key)
	return nil
}

// DeleteAllWithPrefix deletes all keys starting with prefix
func (s *S3) DeleteAllWithPrefix(ctx context.Context, prefix string) error {
	keys, err := s.ListAllWithPrefix(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// ListAllWithPrefix lists all keys starting with prefix. The returned keys do not carry the
// driver's key prefix.
func (s *S3) ListAllWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.baseKeyName + prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("cannot list objects in %s: %w", s.bucket, err)
		}
		for _, item := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(item.Key), s.baseKeyName))
		}
	}
	return keys, nil
}

// GetPreSignedURL returns a pre-signed URL that can be used with the given method until expireIn has passed
func (s *S3) GetPreSignedURL(ctx context.Context, method Method, key string, expireIn time.Duration) (string, error) {
	client := s3.NewPresignClient(s.client)

	var (
		resp *v4.PresignedHTTPRequest
		err  error
	)
	switch method {
	case Get:
		resp, err = client.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.baseKeyName + key),
		}, s3.WithPresignExpires(expireIn))
	case Put:
		resp, err = client.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.baseKeyName + key),
		}, s3.WithPresignExpires(expireIn))
	default:
		err = fmt.Errorf("unsupported method %s to presign '%s'", method, s.baseKeyName+key)
	}
	if err != nil {
		return "", err
	}
	return resp.URL, nil
}
