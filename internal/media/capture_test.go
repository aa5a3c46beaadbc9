package media

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestCaptureHashesRawBytes(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "shot.jpg")
	content := []byte("raw image bytes")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	c := NewCapturer(filepath.Join(dir, "managed"))
	item, err := c.Capture("step-1", src, 12.9, 77.5)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	sum := sha256.Sum256(content)
	if item.ContentHash != hex.EncodeToString(sum[:]) {
		t.Fatalf("hash mismatch: %s", item.ContentHash)
	}
	if item.ByteSize != int64(len(content)) {
		t.Fatalf("expected size %d, got %d", len(content), item.ByteSize)
	}
	if item.ContentType != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %s", item.ContentType)
	}
	if item.Uploaded {
		t.Fatalf("fresh capture must not be uploaded")
	}

	managed, err := os.ReadFile(item.URI)
	if err != nil {
		t.Fatalf("read managed copy: %v", err)
	}
	if string(managed) != string(content) {
		t.Fatalf("managed copy differs from source")
	}
}

func TestCaptureMissingFileFails(t *testing.T) {
	c := NewCapturer(t.TempDir())
	if _, err := c.Capture("step-1", "/does/not/exist.jpg", 0, 0); err == nil {
		t.Fatalf("expected error for missing source")
	}
}

func TestCaptureUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "blob.weird")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	c := NewCapturer(filepath.Join(dir, "managed"))
	item, err := c.Capture("step-1", src, 0, 0)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if item.ContentType != "application/octet-stream" {
		t.Fatalf("expected fallback content type, got %s", item.ContentType)
	}
}

func TestMediaType(t *testing.T) {
	if (Item{ContentType: "video/mp4"}).MediaType() != "video" {
		t.Fatalf("expected video")
	}
	if (Item{ContentType: "image/jpeg"}).MediaType() != "photo" {
		t.Fatalf("expected photo")
	}
}
