package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

var thumbnailable = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true}

// CanThumbnail reports whether rel names an image format Thumbnail can decode.
func CanThumbnail(rel string) bool {
	return thumbnailable[strings.ToLower(filepath.Ext(rel))]
}

// Thumbnail writes a JPEG preview of the image at rel, fitted into a
// size x size box, next to the original as <name>.thumb.jpg.
// It returns the relative path of the preview.
func (l *Local) Thumbnail(rel string, size int) (string, error) {
	if !CanThumbnail(rel) {
		return "", fmt.Errorf("thumbnail: unsupported format %q", filepath.Ext(rel))
	}
	src, err := l.resolve(rel)
	if err != nil {
		return "", err
	}
	img, err := imaging.Open(src)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", rel, err)
	}
	thumb := imaging.Fit(img, size, size, imaging.Lanczos)

	out := strings.TrimSuffix(rel, filepath.Ext(rel)) + ".thumb.jpg"
	dst, err := l.resolve(out)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".partial-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := imaging.Encode(tmp, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		tmp.Close()
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync thumbnail: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close thumbnail: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("chmod thumbnail: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("rename thumbnail: %w", err)
	}
	return out, nil
}
