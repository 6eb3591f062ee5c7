package backup

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

type fakeS3 struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string]string
	fail    bool
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	if f.fail {
		return nil, errors.New("bucket unavailable")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)] = string(body)
	return &s3.PutObjectOutput{}, nil
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

func TestUploaderCopiesExistingFiles(t *testing.T) {
	dir := t.TempDir()
	requests := filepath.Join(dir, "requests.json")
	if err := os.WriteFile(requests, []byte(`{"items":[]}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	missing := filepath.Join(dir, "tasks.json")

	fake := &fakeS3{objects: map[string]string{}}
	u := NewUploader(fake, "bucket", func() []string { return []string{requests, missing} })
	u.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

	keys, err := u.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "backups/20240501T100000Z/requests.json"
	if len(keys) != 1 || keys[0] != want {
		t.Fatalf("keys = %v", keys)
	}
	if got := fake.objects["bucket/"+want]; got != `{"items":[]}` {
		t.Fatalf("object body = %q", got)
	}
}

func TestUploaderReportsUploadFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	u := NewUploader(&fakeS3{objects: map[string]string{}, fail: true}, "bucket", func() []string { return []string{path} })
	if _, err := u.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "users.json") {
		t.Fatalf("err = %v", err)
	}
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	u := NewUploader(&fakeS3{objects: map[string]string{}}, "bucket", func() []string { return nil })
	if _, err := Schedule("not a cron", u, time.Second, nopLogger{}); err == nil {
		t.Fatalf("expected invalid schedule error")
	}
	c, err := Schedule("@daily", u, time.Second, nopLogger{})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	<-c.Stop().Done()
}

func TestNewS3ClientNeedsBucket(t *testing.T) {
	if _, err := NewS3Client(S3Config{}); err == nil {
		t.Fatalf("expected error without bucket")
	}
}
