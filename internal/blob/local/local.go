// Package local implements blob.Store on the local filesystem. Files are
// served back to the publishing API by the HTTP server under /media/{id}.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jo-hoe/reelcaster/internal/blob"
	"github.com/jo-hoe/reelcaster/internal/common"
	"github.com/jo-hoe/reelcaster/internal/util"
)

var _ blob.Store = (*Store)(nil)

var reID = regexp.MustCompile(`^[0-9a-f-]{36}$`)

// Store keeps each file at baseDir/uploads/{id}/{name}.
type Store struct {
	dir     string
	baseURL string
}

// New creates a store under baseDir/uploads whose fetch links start with publicBaseURL.
func New(baseDir, publicBaseURL string) *Store {
	return &Store{
		dir:     filepath.Join(baseDir, common.UploadsDirName),
		baseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

func (s *Store) Upload(ctx context.Context, path, mimeType, name string) (blob.File, error) {
	if err := ctx.Err(); err != nil {
		return blob.File{}, err
	}
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return blob.File{}, fmt.Errorf("invalid file name %q", name)
	}

	src, err := os.Open(path)
	if err != nil {
		return blob.File{}, fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = src.Close() }()

	id := util.NewID()
	fileDir := filepath.Join(s.dir, id)
	if err := os.MkdirAll(fileDir, 0o755); err != nil {
		return blob.File{}, fmt.Errorf("ensure uploads dir: %w", err)
	}
	dstPath := filepath.Join(fileDir, name)
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return blob.File{}, fmt.Errorf("create file: %w", err)
	}
	n, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.RemoveAll(fileDir)
		return blob.File{}, fmt.Errorf("copy upload: %w", err)
	}
	if mimeType == "" {
		mimeType = mimeFor(name)
	}
	return blob.File{ID: id, Name: name, MimeType: mimeType, Size: n}, nil
}

func (s *Store) List(ctx context.Context) ([]blob.File, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []blob.File{}, nil
		}
		return nil, fmt.Errorf("read uploads dir: %w", err)
	}
	out := make([]blob.File, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() || !reID.MatchString(e.Name()) {
			continue
		}
		f, err := s.stat(e.Name())
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *Store) FetchLink(_ context.Context, id string) (string, error) {
	if _, err := s.stat(id); err != nil {
		return "", err
	}
	return s.baseURL + common.PathMedia + "/" + url.PathEscape(id), nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	if !reID.MatchString(id) {
		return fmt.Errorf("file %q: %w", id, blob.ErrNotFound)
	}
	fileDir := filepath.Join(s.dir, id)
	if _, err := os.Stat(fileDir); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file %q: %w", id, blob.ErrNotFound)
	}
	return os.RemoveAll(fileDir)
}

// Open returns the stored file for serving. The caller closes it.
func (s *Store) Open(id string) (*os.File, blob.File, error) {
	f, err := s.stat(id)
	if err != nil {
		return nil, blob.File{}, err
	}
	fh, err := os.Open(filepath.Join(s.dir, id, f.Name))
	if err != nil {
		return nil, blob.File{}, fmt.Errorf("open file: %w", err)
	}
	return fh, f, nil
}

func (s *Store) stat(id string) (blob.File, error) {
	if !reID.MatchString(id) {
		return blob.File{}, fmt.Errorf("file %q: %w", id, blob.ErrNotFound)
	}
	entries, err := os.ReadDir(filepath.Join(s.dir, id))
	if err != nil || len(entries) == 0 {
		return blob.File{}, fmt.Errorf("file %q: %w", id, blob.ErrNotFound)
	}
	info, err := entries[0].Info()
	if err != nil {
		return blob.File{}, fmt.Errorf("stat file: %w", err)
	}
	name := entries[0].Name()
	return blob.File{
		ID:       id,
		Name:     name,
		MimeType: mimeFor(name),
		Size:     info.Size(),
	}, nil
}

func mimeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if common.IsSegmentExtension(ext) {
		return common.SegmentMimeType(ext)
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return common.MimeOctetStream
}
