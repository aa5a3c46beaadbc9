package media

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Item describes one captured photo or video. The content hash and byte size
// form the immutable identity of the file and are never recomputed.
type Item struct {
	StepID      string    `json:"step_id"`
	URI         string    `json:"uri"`
	ContentHash string    `json:"content_hash"`
	ContentType string    `json:"content_type"`
	ByteSize    int64     `json:"byte_size"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	CapturedAt  time.Time `json:"captured_at"`
	Uploaded    bool      `json:"uploaded"`
	RemoteKey   string    `json:"remote_key,omitempty"`
}

// MediaType maps the item's content type onto the service's media_type field.
func (i Item) MediaType() string {
	if strings.HasPrefix(i.ContentType, "video/") {
		return "video"
	}
	return "photo"
}

// Capturer ingests raw captured files into a managed media directory so the
// queued file path outlives the producing app's cache.
type Capturer struct {
	dir   string
	nowFn func() time.Time
}

func NewCapturer(dir string) *Capturer {
	return &Capturer{dir: dir, nowFn: time.Now}
}

// Capture hashes and sizes the source file in a single pass while copying it
// into the managed directory. Any read or hash failure fails the whole capture
// attempt; the step stays incomplete and the operator retries.
func (c *Capturer) Capture(stepID, srcPath string, lat, lng float64) (Item, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return Item{}, fmt.Errorf("open capture: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return Item{}, fmt.Errorf("mkdir media dir: %w", err)
	}

	ext := filepath.Ext(srcPath)
	dstPath := filepath.Join(c.dir, uuid.NewString()+ext)
	dst, err := os.Create(dstPath)
	if err != nil {
		return Item{}, fmt.Errorf("create managed copy: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(hasher, dst), src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dstPath)
		return Item{}, fmt.Errorf("hash capture: %w", err)
	}

	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return Item{
		StepID:      stepID,
		URI:         dstPath,
		ContentHash: hex.EncodeToString(hasher.Sum(nil)),
		ContentType: contentType,
		ByteSize:    size,
		Lat:         lat,
		Lng:         lng,
		CapturedAt:  c.nowFn().UTC(),
	}, nil
}
