// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Command homebase-backup snapshots and restores the site's key-value store
//
// The store is configured from the environment like the site, see site.Service.
//
//	homebase-backup -dir ./backups          write a snapshot file to ./backups
//	homebase-backup -s3                     upload a snapshot to AWS_BUCKET
//	homebase-backup -restore file.json      restore a snapshot file
//	homebase-backup -restore s3://b/k.json  restore a snapshot from S3
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/relabs-tech/homebase/core/backup"
	"github.com/relabs-tech/homebase/core/kss"
	"github.com/relabs-tech/homebase/core/kv"
	"github.com/relabs-tech/homebase/core/logger"
	"github.com/relabs-tech/homebase/site"
)

var (
	dir     = flag.String("dir", ".", "the directory for snapshot files")
	toS3    = flag.Bool("s3", false, "upload the snapshot to AWS_BUCKET instead of writing a file")
	restore = flag.String("restore", "", "restore the snapshot from this file or s3://bucket/key")
)

// s3Folder is the key prefix of snapshots in the bucket
const s3Folder = "backups/"

// uploader is the part of manager.Uploader the backup needs
type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// downloader is the part of manager.Downloader the restore needs
type downloader interface {
	Download(ctx context.Context, w io.WriterAt, input *s3.GetObjectInput, options ...func(*manager.Downloader)) (int64, error)
}

func main() {
	flag.Parse()
	service, err := site.ServiceFromEnvironment()
	if err != nil {
		panic(err)
	}
	logger.InitLogger(logger.ParseLevel(service.LogLevel))
	rlog := logger.Default()
	ctx := context.Background()

	store, err := service.OpenStore()
	if err != nil {
		rlog.WithError(err).Fatalln("cannot open store")
	}
	defer store.Close()

	var s3Client *s3.Client
	if *toS3 || strings.HasPrefix(*restore, "s3://") {
		cfg, err := kss.LoadAWSConfig(ctx, service.AWSRegion, service.AWSAccessID, service.AWSAccessKey)
		if err != nil {
			rlog.WithError(err).Fatalln("cannot load aws configuration")
		}
		s3Client = s3.NewFromConfig(cfg)
	}

	prefix := service.KVPrefix + ":"
	switch {
	case strings.HasPrefix(*restore, "s3://"):
		err = restoreFromS3(ctx, store, manager.NewDownloader(s3Client), *restore)
	case *restore != "":
		err = restoreFromFile(ctx, store, *restore)
	case *toS3:
		var location string
		location, err = backupToS3(ctx, store, prefix, manager.NewUploader(s3Client), service.AWSBucket)
		if err == nil {
			rlog.Infoln("uploaded snapshot to", location)
		}
	default:
		var path string
		path, err = backupToDir(ctx, store, prefix, *dir)
		if err == nil {
			rlog.Infoln("wrote snapshot to", path)
		}
	}
	if err != nil {
		rlog.WithError(err).Fatalln("backup failed")
	}
}

// backupToDir writes a snapshot of all keys with prefix into dir and returns the file path
func backupToDir(ctx context.Context, store kv.Store, prefix, dir string) (string, error) {
	snapshot, err := backup.Take(ctx, store, prefix)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	path := filepath.Join(dir, snapshot.Name())
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return "", err
	}
	if err := snapshot.Write(file); err != nil {
		file.Close()
		return "", err
	}
	return path, file.Close()
}

// backupToS3 uploads a snapshot of all keys with prefix into bucket and returns its location
func backupToS3(ctx context.Context, store kv.Store, prefix string, up uploader, bucket string) (string, error) {
	if bucket == "" {
		return "", fmt.Errorf("AWS_BUCKET is not set")
	}
	snapshot, err := backup.Take(ctx, store, prefix)
	if err != nil {
		return "", err
	}
	var buffer bytes.Buffer
	if err := snapshot.Write(&buffer); err != nil {
		return "", err
	}
	key := s3Folder + snapshot.Name()
	_, err = up.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        &buffer,
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return "s3://" + bucket + "/" + key, nil
}

func restoreFromFile(ctx context.Context, store kv.Store, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	snapshot, err := backup.Read(file)
	if err != nil {
		return err
	}
	return backup.Restore(ctx, store, snapshot)
}

// restoreFromS3 restores the snapshot at location s3://bucket/key
func restoreFromS3(ctx context.Context, store kv.Store, down downloader, location string) error {
	bucket, key, ok := strings.Cut(strings.TrimPrefix(location, "s3://"), "/")
	if !ok || bucket == "" || key == "" {
		return fmt.Errorf("invalid location '%s', expected s3://bucket/key", location)
	}
	buffer := manager.NewWriteAtBuffer(nil)
	if _, err := down.Download(ctx, buffer, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("download %s: %w", location, err)
	}
	snapshot, err := backup.Read(bytes.NewReader(buffer.Bytes()))
	if err != nil {
		return err
	}
	return backup.Restore(ctx, store, snapshot)
}
