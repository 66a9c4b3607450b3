package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ramiqadoumi/go-media-flow/internal/domain"
)

// knownExt lists the extensions kept from a remote URL when naming a file.
var knownExt = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".gif": true,
	".mp4": true, ".mov": true, ".webm": true,
	".pdf": true, ".html": true, ".svg": true,
}

// Stored describes a file written by Materialize.
type Stored struct {
	Path   string // relative to the storage root, slash separated
	Bytes  int64
	SHA256 string
}

// Local stores artifacts under a single root directory. It is the only
// component that writes to the filesystem.
type Local struct {
	root string
}

// NewLocal creates the root directory if needed and returns a Local rooted there.
func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %q: %w", abs, err)
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute storage root.
func (l *Local) Root() string { return l.root }

// ArtifactName returns the collision-free relative name for one artifact of a task.
func ArtifactName(taskID string, index int, remoteURL string, now time.Time) string {
	ext := ".bin"
	if u, err := url.Parse(remoteURL); err == nil {
		if e := strings.ToLower(path.Ext(u.Path)); knownExt[e] {
			ext = e
		}
	}
	return fmt.Sprintf("%s/%s_%d%s", now.UTC().Format("2006/01/02"), taskID, index, ext)
}

// Materialize streams r into name under the root. The data is written to a
// temporary file in the destination directory, synced and renamed, so the
// final path only ever holds a complete file.
func (l *Local) Materialize(ctx context.Context, r io.Reader, name string) (Stored, error) {
	dst, err := l.resolve(name)
	if err != nil {
		return Stored{}, err
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Stored{}, fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return Stored{}, fmt.Errorf("create temp file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), &ctxReader{ctx: ctx, r: r})
	if err != nil {
		return Stored{}, fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		return Stored{}, fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return Stored{}, fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return Stored{}, fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return Stored{}, fmt.Errorf("rename into %s: %w", name, err)
	}
	committed = true

	return Stored{
		Path:   filepath.ToSlash(name),
		Bytes:  n,
		SHA256: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// Open returns the file at rel. Paths that are absolute, leave the root
// (directly or through a symlink) or do not name a regular file yield
// ArtifactNotFoundError.
func (l *Local) Open(rel string) (*os.File, error) {
	p, err := l.resolve(rel)
	if err != nil {
		return nil, err
	}
	fi, err := os.Lstat(p)
	if err != nil || !fi.Mode().IsRegular() || strings.HasPrefix(fi.Name(), ".partial-") {
		return nil, &domain.ArtifactNotFoundError{Path: rel}
	}
	if !l.within(p) {
		return nil, &domain.ArtifactNotFoundError{Path: rel}
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, &domain.ArtifactNotFoundError{Path: rel}
	}
	return f, nil
}

// Remove deletes the given files. Missing files are ignored.
func (l *Local) Remove(rels ...string) error {
	var first error
	for _, rel := range rels {
		p, err := l.resolve(rel)
		if err != nil {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && first == nil {
			first = fmt.Errorf("remove %s: %w", rel, err)
		}
	}
	return first
}

func (l *Local) resolve(rel string) (string, error) {
	if rel == "" || strings.HasPrefix(rel, "/") || filepath.IsAbs(rel) {
		return "", &domain.ArtifactNotFoundError{Path: rel}
	}
	p := filepath.Join(l.root, filepath.FromSlash(rel))
	r, err := filepath.Rel(l.root, p)
	if err != nil || r == "." || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", &domain.ArtifactNotFoundError{Path: rel}
	}
	return p, nil
}

// within reports whether p, with every symlink in its directories
// resolved, still lies under the root.
func (l *Local) within(p string) bool {
	root, err := filepath.EvalSymlinks(l.root)
	if err != nil {
		return false
	}
	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		return false
	}
	r, err := filepath.Rel(root, real)
	return err == nil && r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator))
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
