package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/leozw/store-monitor/internal/uptime"
)

// FileSink writes reports as <dir>/<report_id>.csv.
type FileSink struct {
	dir string
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// Write goes through a temporary file so a crash never leaves a partial
// report under the final name.
func (s *FileSink) Write(ctx context.Context, reportID string, rows []uptime.Row) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, reportID+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteCSV(tmp, rows); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to sync report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close report: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	final := filepath.Join(s.dir, reportID+".csv")
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", fmt.Errorf("failed to publish report: %w", err)
	}

	abs, err := filepath.Abs(final)
	if err != nil {
		return final, nil
	}
	return abs, nil
}

// ObjectPutter is the subset of the S3 client used by S3Sink.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads reports to s3://<bucket>/<prefix><report_id>.csv.
type S3Sink struct {
	client ObjectPutter
	bucket string
	prefix string
}

func NewS3Sink(client ObjectPutter, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Sink) Write(ctx context.Context, reportID string, rows []uptime.Row) (string, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows); err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	key := path.Join(s.prefix, reportID+".csv")
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentType:   aws.String("text/csv"),
		ContentLength: aws.Int64(int64(buf.Len())),
		Metadata: map[string]string{
			"report-id": reportID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload report: %w", err)
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
