package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", p, err)
	}
	return p
}

func TestLocalStorage_UploadDownload(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	work := t.TempDir()
	src := writeTemp(t, work, "src.gstf", "payload")

	if err := s.Upload(ctx, src, "study1/file1.gstf"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	ok, err := s.Exists(ctx, "study1/file1.gstf")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v; want true", ok, err)
	}

	dst := filepath.Join(work, "out", "copy.gstf")
	if err := s.Download(ctx, "study1/file1.gstf", dst); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "payload" {
		t.Errorf("downloaded %q, want payload", got)
	}
}

func TestLocalStorage_DownloadMissing(t *testing.T) {
	s, _ := NewLocalStorage(t.TempDir())
	err := s.Download(context.Background(), "nope", filepath.Join(t.TempDir(), "x"))
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := NewLocalStorage(t.TempDir())
	src := writeTemp(t, t.TempDir(), "f", "x")
	for _, p := range []string{"export/p0/a.shard", "export/p1/b.shard", "other/c"} {
		if err := s.Upload(ctx, src, p); err != nil {
			t.Fatalf("Upload %s: %v", p, err)
		}
	}

	objects, err := s.ListObjects(ctx, "export/")
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(objects) != 2 || objects[0] != "export/p0/a.shard" || objects[1] != "export/p1/b.shard" {
		t.Fatalf("ListObjects = %v", objects)
	}

	if err := s.Delete(ctx, "export/p0/a.shard"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "export/p0/a.shard"); err != nil {
		t.Fatalf("second Delete should be a no-op: %v", err)
	}
	if ok, _ := s.Exists(ctx, "export/p0/a.shard"); ok {
		t.Error("object still exists after delete")
	}
}

func TestLocalStorage_CancelledContext(t *testing.T) {
	s, _ := NewLocalStorage(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Upload(ctx, "a", "b"); !errors.Is(err, context.Canceled) {
		t.Errorf("Upload with cancelled context = %v", err)
	}
}

func TestOpen_Locations(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, loc := range []string{dir, "file://" + dir} {
		s, err := Open(ctx, loc, DefaultS3Config())
		if err != nil {
			t.Fatalf("Open(%q): %v", loc, err)
		}
		if ls, ok := s.(*LocalStorage); !ok || ls.BasePath() != dir {
			t.Errorf("Open(%q) = %#v", loc, s)
		}
	}

	for _, loc := range []string{"", "gs://bucket", "s3:///nobucket"} {
		if _, err := Open(ctx, loc, DefaultS3Config()); err == nil {
			t.Errorf("Open(%q) should fail", loc)
		}
	}
}
