package gdrive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const pdfMimeType = "application/pdf"

// Archiver uploads dispatched summary PDFs into one Drive folder. Uploading
// the same file name twice replaces the earlier copy.
type Archiver struct {
	service  *drive.Service
	folderID string
	fileIDs  map[string]string
	mu       sync.Mutex
}

func NewArchiver(ctx context.Context, credPath, folderID string) (*Archiver, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	return newArchiver(ctx, folderID, option.WithCredentials(config))
}

func newArchiver(ctx context.Context, folderID string, opts ...option.ClientOption) (*Archiver, error) {
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &Archiver{
		service:  svc,
		folderID: folderID,
		fileIDs:  make(map[string]string),
	}, nil
}

// Upload stores data under name and returns the Drive file id.
func (a *Archiver) Upload(ctx context.Context, name string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if fileID, ok := a.fileIDs[name]; ok {
		_, err := a.service.Files.Update(fileID, &drive.File{}).
			Media(bytes.NewReader(data)).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("drive update %s: %w", name, err)
		}
		return fileID, nil
	}

	file, err := a.service.Files.Create(&drive.File{
		Name:     name,
		MimeType: pdfMimeType,
		Parents:  []string{a.folderID},
	}).Media(bytes.NewReader(data)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive create %s: %w", name, err)
	}

	a.fileIDs[name] = file.Id
	return file.Id, nil
}
