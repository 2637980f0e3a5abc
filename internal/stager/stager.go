// Package stager moves document payloads in and out of the durable
// Cloud Storage staging area.
package stager

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
)

var (
	// ErrStorageUnavailable marks transient backend failures; the caller
	// decides whether to retry.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrQuotaExceeded marks writes rejected for size or quota reasons.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrNotFound marks locators that do not resolve to an object.
	ErrNotFound = errors.New("object not found")
)

// resumableThreshold matches the upload client's chunked-upload cutover.
const resumableThreshold = 5 * 1024 * 1024

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Stager stages byte payloads under a configured prefix and fetches them
// back by locator.
type Stager struct {
	client *storage.Client
	bucket string
	prefix string
}

// New returns a Stager writing under gs://<bucket>/<prefix>/.
func New(client *storage.Client, bucket, prefix string) *Stager {
	return &Stager{client: client, bucket: bucket, prefix: prefix}
}

// Stage writes content to a fresh object and returns its gs:// locator.
// Object names carry a per-attempt unique suffix, so retrying a failed
// write never collides with a previously visible object.
func (s *Stager) Stage(ctx context.Context, content []byte, filename, mimeType string) (string, error) {
	safeName := unsafeChars.ReplaceAllString(filename, "_")
	objectName := fmt.Sprintf("%s/%d-%s-%s", s.prefix, time.Now().UnixMilli(), uuid.NewString(), safeName)

	w := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = mimeType
	w.SendCRC32C = true
	w.CRC32C = crc32c(content)
	if len(content) < resumableThreshold {
		w.ChunkSize = 0 // single-request upload for small payloads
	}

	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return "", mapWriteErr(objectName, err)
	}
	if err := w.Close(); err != nil {
		return "", mapWriteErr(objectName, err)
	}

	locator := fmt.Sprintf("gs://%s/%s", s.bucket, objectName)
	slog.Info("Staged object.", "locator", locator, "sizeBytes", len(content))
	return locator, nil
}

// Fetch downloads the object behind locator and returns its bytes and
// declared content type.
func (s *Stager) Fetch(ctx context.Context, locator string) ([]byte, string, error) {
	bucket, object, err := ParseLocator(locator)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, locator)
	}

	r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, "", mapReadErr(locator, err)
	}
	defer r.Close()

	content, err := io.ReadAll(r)
	if err != nil {
		return nil, "", mapReadErr(locator, err)
	}

	mimeType := r.Attrs.ContentType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return content, mimeType, nil
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func crc32c(b []byte) uint32 {
	return crc32.Checksum(b, castagnoli)
}

var locatorPattern = regexp.MustCompile(`^gs://([^/]+)/(.+)$`)

// ParseLocator splits a gs:// locator into bucket and object name.
func ParseLocator(locator string) (bucket, object string, err error) {
	m := locatorPattern.FindStringSubmatch(locator)
	if m == nil {
		return "", "", fmt.Errorf("invalid locator %q", locator)
	}
	return m[1], m[2], nil
}

func mapWriteErr(objectName string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusForbidden, http.StatusRequestEntityTooLarge, http.StatusTooManyRequests:
			return fmt.Errorf("%w: writing %s: %v", ErrQuotaExceeded, objectName, err)
		}
	}
	return fmt.Errorf("%w: writing %s: %v", ErrStorageUnavailable, objectName, err)
}

func mapReadErr(locator string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, locator)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, locator)
	}
	return fmt.Errorf("%w: reading %s: %v", ErrStorageUnavailable, locator, err)
}
