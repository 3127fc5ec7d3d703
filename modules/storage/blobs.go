package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	fsjetstream "github.com/go-monolith/mono/plugin/fs-jetstream"
	gonanoid "github.com/jaevor/go-nanoid"
)

const (
	defaultContentType = "application/octet-stream"
	fileIDLength       = 12
)

// sanitizeFilename removes path separators and dangerous characters from filename.
func sanitizeFilename(filename string) string {
	clean := filepath.Base(filepath.Clean(filename))
	clean = strings.ReplaceAll(clean, "/", "_")
	clean = strings.ReplaceAll(clean, "\\", "_")
	if clean == "." || clean == ".." || clean == "" {
		return "unnamed"
	}
	return clean
}

// ValidKeySegment reports whether a room name can be used as-is as the first
// segment of a storage key.
func ValidKeySegment(roomName string) bool {
	if roomName == "" || roomName == "." || roomName == ".." {
		return false
	}
	return !strings.ContainsAny(roomName, "/\\*> \t\n")
}

// RoomOfKey returns the room segment of a storage key.
func RoomOfKey(key string) (string, error) {
	room, rest, found := strings.Cut(key, "/")
	if !found || rest == "" || !ValidKeySegment(room) {
		return "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	return room, nil
}

// StoredObject describes an uploaded file.
type StoredObject struct {
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	Digest      string    `json:"digest"`
	CreatedAt   time.Time `json:"created_at"`
}

// BlobStore keeps uploaded room files in a JetStream object store bucket.
// Keys have the form <room>/<id>-<filename>.
type BlobStore struct {
	bucket fsjetstream.FileStoragePort
	newID  func() string
}

// NewBlobStore creates a blob store over the given bucket.
func NewBlobStore(bucket fsjetstream.FileStoragePort) (*BlobStore, error) {
	newID, err := gonanoid.Standard(fileIDLength)
	if err != nil {
		return nil, fmt.Errorf("failed to create id generator: %w", err)
	}
	return &BlobStore{bucket: bucket, newID: newID}, nil
}

// Put streams a file into the room's namespace.
func (b *BlobStore) Put(_ context.Context, roomName, filename, contentType string, reader io.Reader) (*StoredObject, error) {
	if !ValidKeySegment(roomName) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRoomName, roomName)
	}
	if contentType == "" {
		contentType = defaultContentType
	}
	safeName := sanitizeFilename(filename)
	key := fmt.Sprintf("%s/%s-%s", roomName, b.newID(), safeName)

	info, err := b.bucket.PutReader(key, reader, 0,
		fsjetstream.WithDescription(fmt.Sprintf("Room file: %s", safeName)),
		fsjetstream.WithHeaders(map[string]string{
			"Content-Type":  contentType,
			"Original-Name": safeName,
			"Room":          roomName,
			"Uploaded-At":   time.Now().Format(time.RFC3339),
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	return &StoredObject{
		Key:         key,
		Name:        safeName,
		Size:        int64(info.Size),
		ContentType: contentType,
		Digest:      info.Digest,
		CreatedAt:   info.ModTime,
	}, nil
}

// Stat returns metadata of a stored file.
func (b *BlobStore) Stat(key string) (*StoredObject, error) {
	objects, err := b.bucket.List(fsjetstream.WithPrefix(key))
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	for _, obj := range objects {
		if obj.Name != key {
			continue
		}
		contentType := defaultContentType
		if ct, ok := obj.Headers["Content-Type"]; ok {
			contentType = ct
		}
		return &StoredObject{
			Key:         obj.Name,
			Name:        obj.Headers["Original-Name"],
			Size:        int64(obj.Size),
			ContentType: contentType,
			Digest:      obj.Digest,
			CreatedAt:   obj.ModTime,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrFileNotFound, key)
}

// Open returns a reader for a stored file.
func (b *BlobStore) Open(key string) (io.ReadCloser, error) {
	reader, _, err := b.bucket.GetReader(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileNotFound, err)
	}
	return reader, nil
}

// DeleteRoom removes every file of a room and returns the deleted keys.
func (b *BlobStore) DeleteRoom(roomName string) ([]string, error) {
	if !ValidKeySegment(roomName) {
		return nil, nil
	}
	objects, err := b.bucket.List(fsjetstream.WithPrefix(roomName + "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to list room files: %w", err)
	}

	var (
		deleted []string
		errs    []error
	)
	for _, obj := range objects {
		if err := b.bucket.Delete(obj.Name); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", obj.Name, err))
			continue
		}
		deleted = append(deleted, obj.Name)
	}
	return deleted, errors.Join(errs...)
}
