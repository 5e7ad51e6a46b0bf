package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("new local storage: %v", err)
	}

	content := []byte("object payload")
	key := "posts/ab/cd.png"
	if err := store.Upload(ctx, key, bytes.NewReader(content), int64(len(content)), "image/png"); err != nil {
		t.Fatalf("upload: %v", err)
	}

	ok, err := store.Exists(ctx, key)
	if err != nil || !ok {
		t.Fatalf("exists = (%v, %v), want (true, nil)", ok, err)
	}

	rc, err := store.Download(ctx, key)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	got, err := io.ReadAll(rc)
	rc.Close()
	if err != nil || !bytes.Equal(got, content) {
		t.Fatalf("downloaded %q (err %v), want %q", got, err, content)
	}

	if url := store.GetURL(key); !strings.HasPrefix(url, "file://") || !strings.HasSuffix(url, "cd.png") {
		t.Errorf("url = %q", url)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := store.Exists(ctx, key); ok {
		t.Error("object still exists after delete")
	}
	// Deleting a missing object is not an error.
	if err := store.Delete(ctx, key); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestLocalStorageOverwrite(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("new local storage: %v", err)
	}

	if err := store.Upload(ctx, "k", strings.NewReader("one"), 3, "text/plain"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := store.Upload(ctx, "k", strings.NewReader("two"), 3, "text/plain"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	rc, err := store.Download(ctx, "k")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "two" {
		t.Errorf("content = %q, want overwritten value", got)
	}
}

func TestLocalStorageRejectsBadKeys(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("new local storage: %v", err)
	}

	for _, key := range []string{"../escape", "/abs/path", "."} {
		t.Run(key, func(t *testing.T) {
			if err := store.Upload(ctx, key, strings.NewReader("x"), 1, "text/plain"); err == nil {
				t.Errorf("upload with key %q succeeded", key)
			}
			if _, err := store.Download(ctx, key); err == nil {
				t.Errorf("download with key %q succeeded", key)
			}
		})
	}
}

func TestNewLocalStorageRequiresRoot(t *testing.T) {
	if _, err := NewLocalStorage(""); err == nil {
		t.Error("empty root accepted")
	}
}
