package cloud

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakePut struct {
	objects map[string]string
	types   map[string]string
	failKey string
}

func (f *fakePut) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Key)
	if key == f.failKey {
		return nil, errors.New("access denied")
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[key] = string(data)
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func TestReportKey(t *testing.T) {
	tests := []struct {
		prefix, path, want string
	}{
		{"reports/run-1", "/tmp/out/metrics_by_npi_ndc.json", "reports/run-1/metrics_by_npi_ndc.json"},
		{"/reports/run-1/", "out/a.parquet", "reports/run-1/a.parquet"},
		{"", "out/a.json", "a.json"},
	}
	for _, tt := range tests {
		if got := ReportKey(tt.prefix, tt.path); got != tt.want {
			t.Errorf("ReportKey(%q, %q) = %q, want %q", tt.prefix, tt.path, got, tt.want)
		}
	}
}

func TestUploadReports(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "metrics_by_npi_ndc.json")
	b := filepath.Join(dir, "top2_chains_per_ndc.parquet")
	os.WriteFile(a, []byte("[]"), 0o644)
	os.WriteFile(b, []byte("PAR1"), 0o644)

	fake := &fakePut{objects: map[string]string{}, types: map[string]string{}}
	c := &S3Client{client: fake, bucket: "bucket"}

	keys, err := c.UploadReports(context.Background(), "runs/abc", []string{a, b})
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "runs/abc/metrics_by_npi_ndc.json" || keys[1] != "runs/abc/top2_chains_per_ndc.parquet" {
		t.Errorf("unexpected keys %v", keys)
	}
	if fake.objects[keys[0]] != "[]" || fake.types[keys[0]] != "application/json" {
		t.Errorf("unexpected object %q (%s)", fake.objects[keys[0]], fake.types[keys[0]])
	}
	if fake.types[keys[1]] != "application/vnd.apache.parquet" {
		t.Errorf("unexpected content type %s", fake.types[keys[1]])
	}
}

func TestUploadReports_StopsOnFailure(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	os.WriteFile(a, []byte("[]"), 0o644)
	os.WriteFile(b, []byte("[]"), 0o644)

	fake := &fakePut{objects: map[string]string{}, types: map[string]string{}, failKey: "p/a.json"}
	c := &S3Client{client: fake, bucket: "bucket"}

	keys, err := c.UploadReports(context.Background(), "p", []string{a, b})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(keys) != 0 || len(fake.objects) != 0 {
		t.Errorf("expected nothing uploaded after failure, got %v", keys)
	}
}
