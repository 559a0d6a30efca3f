// Package publish uploads finished outputs.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/rotblauer/admintiles/tilez"
)

var ErrNoBucket = errors.New("no s3 bucket")

// Key is the object key of an output file: its base name.
func Key(path string) string {
	return filepath.Base(path)
}

// ContentType of a tile CSV, gzipped or not.
func ContentType(path string) string {
	if tilez.IsGZ(path) {
		return "application/gzip"
	}
	return "text/csv"
}

// UploadS3 uploads the file at path to bucket under key.
// The AWS library uses environment variables to configure itself.
func UploadS3(ctx context.Context, bucket, key, path string) error {
	if bucket == "" {
		return ErrNoBucket
	}
	f, err := tilez.OpenRaw(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sess := session.Must(session.NewSession())
	uploader := s3manager.NewUploader(sess)
	out, err := uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(ContentType(path)),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == request.CanceledErrorCode {
			return fmt.Errorf("s3 upload canceled: %w", err)
		}
		return fmt.Errorf("s3 upload %s: %w", key, err)
	}
	slog.Info("Uploaded to S3", "bucket", bucket, "key", key, "location", out.Location)
	return nil
}
