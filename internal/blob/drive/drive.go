// Package drive implements blob.Store on a Google Drive folder.
package drive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jo-hoe/reelcaster/internal/blob"
)

var _ blob.Store = (*Store)(nil)

const listPageSize = 100

// Store keeps segments as files under one Drive parent folder.
type Store struct {
	svc    *drive.Service
	folder string
}

// New authenticates with a service account key file and returns a store bound to folder.
func New(ctx context.Context, credentialsFile, folder string, opts ...option.ClientOption) (*Store, error) {
	if folder == "" {
		return nil, errors.New("drive parent folder is required")
	}
	if credentialsFile != "" {
		opts = append([]option.ClientOption{
			option.WithCredentialsFile(credentialsFile),
			option.WithScopes(drive.DriveScope),
		}, opts...)
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &Store{svc: svc, folder: folder}, nil
}

func (s *Store) Upload(ctx context.Context, path, mimeType, name string) (blob.File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return blob.File{}, fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = fh.Close() }()

	if name == "" {
		name = filepath.Base(path)
	}
	meta := &drive.File{Name: name, Parents: []string{s.folder}}
	call := s.svc.Files.Create(meta).Fields("id", "name", "mimeType", "size").Context(ctx)
	if mimeType != "" {
		call = call.Media(fh, googleapi.ContentType(mimeType))
	} else {
		call = call.Media(fh)
	}
	created, err := call.Do()
	if err != nil {
		return blob.File{}, fmt.Errorf("upload %s: %w", name, mapErr(err))
	}
	return toFile(created), nil
}

func (s *Store) List(ctx context.Context) ([]blob.File, error) {
	q := fmt.Sprintf("'%s' in parents and trashed=false", s.folder)
	out := []blob.File{}
	pageToken := ""
	for {
		call := s.svc.Files.List().
			Q(q).
			PageSize(listPageSize).
			Fields("nextPageToken, files(id, name, mimeType, size)").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		res, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list folder %s: %w", s.folder, mapErr(err))
		}
		for _, f := range res.Files {
			out = append(out, toFile(f))
		}
		if res.NextPageToken == "" {
			return out, nil
		}
		pageToken = res.NextPageToken
	}
}

// FetchLink grants anyone-with-link read access and returns the download link.
func (s *Store) FetchLink(ctx context.Context, id string) (string, error) {
	perm := &drive.Permission{Type: "anyone", Role: "reader"}
	if _, err := s.svc.Permissions.Create(id, perm).Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("share file %s: %w", id, mapErr(err))
	}
	f, err := s.svc.Files.Get(id).Fields("webContentLink").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("get link for %s: %w", id, mapErr(err))
	}
	if f.WebContentLink == "" {
		return "", fmt.Errorf("file %s has no download link", id)
	}
	return f.WebContentLink, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.svc.Files.Delete(id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete file %s: %w", id, mapErr(err))
	}
	return nil
}

func toFile(f *drive.File) blob.File {
	return blob.File{ID: f.Id, Name: f.Name, MimeType: f.MimeType, Size: f.Size}
}

func mapErr(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	if gerr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", blob.ErrNotFound, gerr.Message)
	}
	if blob.Rejected(gerr.Code) {
		return fmt.Errorf("%w: %w", blob.ErrRejected, err)
	}
	return err
}
