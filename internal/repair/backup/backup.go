package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/robfig/cron/v3"
)

// Logger is the minimal logging interface required by backups.
type Logger interface {
	Infof(string, ...interface{})
	Errorf(string, ...interface{})
}

// S3Config describes an S3 compatible bucket.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewS3Client builds a client for the configured bucket.
func NewS3Client(cfg S3Config) (*s3.S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("backup: bucket is required")
	}
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("backup: aws session: %w", err)
	}
	return s3.New(sess), nil
}

// Uploader copies store files to a bucket under backups/<timestamp>/.
type Uploader struct {
	client s3iface.S3API
	bucket string
	files  func() []string
	now    func() time.Time
}

// NewUploader constructs an Uploader. files is evaluated on every run.
func NewUploader(client s3iface.S3API, bucket string, files func() []string) *Uploader {
	return &Uploader{client: client, bucket: bucket, files: files, now: time.Now}
}

// Run uploads every existing file and returns the object keys written.
func (u *Uploader) Run(ctx context.Context) ([]string, error) {
	prefix := "backups/" + u.now().UTC().Format("20060102T150405Z")
	var keys []string
	for _, path := range u.files() {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return keys, fmt.Errorf("backup: read %s: %w", path, err)
		}
		key := prefix + "/" + filepath.Base(path)
		_, err = u.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(u.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String("application/json"),
		})
		if err != nil {
			return keys, fmt.Errorf("backup: upload %s: %w", key, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Schedule runs the uploader on the cron spec and returns the started scheduler.
func Schedule(spec string, u *Uploader, timeout time.Duration, logger Logger) (*cron.Cron, error) {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		keys, err := u.Run(ctx)
		if err != nil {
			logger.Errorf("backup failed after %d files: %v", len(keys), err)
			return
		}
		logger.Infof("backup uploaded %d files", len(keys))
	})
	if err != nil {
		return nil, fmt.Errorf("backup: invalid schedule %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}
