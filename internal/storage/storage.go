// Package storage persists fetched media bytes under durable, tenant-scoped
// keys and hands back permanent URLs.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ObjectStore is the contract the webhook pipeline needs: store bytes, get a
// permanent URL.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// LocalStore writes objects under a base directory and serves them from a
// public base URL.
type LocalStore struct {
	BaseDir       string
	PublicBaseURL string
}

func NewLocalStore(baseDir, publicBaseURL string) *LocalStore {
	return &LocalStore{
		BaseDir:       baseDir,
		PublicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

func (s *LocalStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	path := filepath.Join(s.BaseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating media directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing media file: %w", err)
	}
	return s.PublicBaseURL + "/media/" + key, nil
}

// ExtensionFromContentType maps a media response content-type to a file
// extension for the stored object key.
func ExtensionFromContentType(contentType string) string {
	// Strip codec parameters ("audio/ogg; codecs=opus" -> "audio/ogg")
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	switch contentType {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "video/mp4":
		return "mp4"
	case "video/3gpp":
		return "3gp"
	case "audio/ogg":
		return "ogg"
	case "audio/mpeg":
		return "mp3"
	case "audio/aac":
		return "aac"
	case "audio/amr":
		return "amr"
	case "application/pdf":
		return "pdf"
	default:
		return "bin"
	}
}
