package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	if err := s.Put(ctx, "a_user.png", strings.NewReader("png-bytes")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ok, err := s.Exists(ctx, "a_user.png")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}

	rc, err := s.Get(ctx, "a_user.png")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "png-bytes" {
		t.Errorf("data = %q", data)
	}

	objs, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objs) != 1 || objs[0].Name != "a_user.png" || objs[0].Size != int64(len("png-bytes")) {
		t.Errorf("List = %+v", objs)
	}

	if err := s.Delete(ctx, "a_user.png"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// Second delete is a no-op.
	if err := s.Delete(ctx, "a_user.png"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
	if _, err := s.Get(ctx, "a_user.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete: %v", err)
	}
}

func TestLocalStore_ListSkipsTempFilesAndDirs(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewLocalStore(dir)

	if err := os.WriteFile(filepath.Join(dir, ".upload-123"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.png"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	objs, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objs) != 1 || objs[0].Name != "b.png" {
		t.Errorf("List = %+v", objs)
	}
}

func TestLocalStore_RejectsPathNames(t *testing.T) {
	s, _ := NewLocalStore(t.TempDir())

	names := []string{"", "../escape.png", "a/b.png", ".hidden"}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			if err := s.Put(context.Background(), name, strings.NewReader("x")); err == nil {
				t.Errorf("Put(%q) should fail", name)
			}
		})
	}
}
