package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"github.com/quarry-ai/quarry/internal/source"
)

// DriveService is the slice of the Drive API the extractor needs.
// *GoogleDrive adapts the real client; tests substitute a fake.
type DriveService interface {
	// ListFolder returns the non-trashed direct children of a folder.
	ListFolder(ctx context.Context, folderID string) ([]*drive.File, error)

	// FetchText returns a file's content as plain text, exporting
	// Google-native formats. ok=false means the format has no text
	// representation and the file is skipped.
	FetchText(ctx context.Context, f *drive.File) (text string, ok bool, err error)
}

// Google Workspace MIME types and their export targets.
const (
	mimeFolder      = "application/vnd.google-apps.folder"
	mimeDocument    = "application/vnd.google-apps.document"
	mimeSpreadsheet = "application/vnd.google-apps.spreadsheet"
	mimeSlides      = "application/vnd.google-apps.presentation"
)

var driveExports = map[string]string{
	mimeDocument:    "text/plain",
	mimeSpreadsheet: "text/csv",
	mimeSlides:      "text/plain",
}

// driveExtractor handles KindDriveFolder sources. The locator is the
// folder ID; the service handle arrives already authenticated.
type driveExtractor struct {
	service  DriveService
	maxBytes int
	logger   *slog.Logger
}

func (d *driveExtractor) extract(ctx context.Context, src source.KnowledgeSource, emit EmitFunc) error {
	return d.walkFolder(ctx, src, src.Locator, "", emit)
}

func (d *driveExtractor) walkFolder(ctx context.Context, src source.KnowledgeSource, folderID, prefix string, emit EmitFunc) error {
	files, err := d.service.ListFolder(ctx, folderID)
	if err != nil {
		return fmt.Errorf("listing drive folder %s: %w", folderID, err)
	}

	seen := make(map[string]int, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Drive folders allow several entries with the same name; repeat
		// names get the file id appended so document paths stay unique.
		name := f.Name
		if seen[f.Name] > 0 {
			name = disambiguateName(f.Name, f.Id)
		}
		seen[f.Name]++

		path := prefix + name
		if f.MimeType == mimeFolder {
			if err := d.walkFolder(ctx, src, f.Id, path+"/", emit); err != nil {
				// A vanished or forbidden subfolder is a per-document
				// grade failure, not a source failure.
				if emitErr := emit(Item{Path: path, Err: &Error{Path: path, Cause: err}}); emitErr != nil {
					return emitErr
				}
			}
			continue
		}

		if !src.Filter.Match(path) {
			continue
		}
		if _, native := driveExports[f.MimeType]; !native && !supportedExtension(f.Name) {
			continue
		}

		text, ok, err := d.service.FetchText(ctx, f)
		if err != nil {
			if emitErr := emit(Item{Path: path, Err: &Error{Path: path, Cause: err}}); emitErr != nil {
				return emitErr
			}
			continue
		}
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		if len(text) > d.maxBytes {
			d.logger.Debug("skipping oversized drive file", "path", path, "size", len(text))
			continue
		}

		var modTime time.Time
		if f.ModifiedTime != "" {
			modTime, _ = time.Parse(time.RFC3339, f.ModifiedTime)
		}

		ct := contentTypeFor(f.Name)
		if f.MimeType == mimeSpreadsheet {
			ct = source.ContentTabular
		}

		if err := emit(Item{
			Path:        path,
			Text:        text,
			ContentType: ct,
			Hash:        HashText(text),
			ModTime:     modTime,
		}); err != nil {
			return err
		}
	}
	return nil
}

// disambiguateName inserts the file id before the extension so the
// name stays recognizable and extension-based handling is unaffected.
func disambiguateName(name, id string) string {
	if dot := strings.LastIndex(name, "."); dot > 0 {
		return name[:dot] + " (" + id + ")" + name[dot:]
	}
	return name + " (" + id + ")"
}

// GoogleDrive adapts *drive.Service to DriveService with client-side
// rate limiting so folder walks stay inside the API quota.
type GoogleDrive struct {
	svc     *drive.Service
	limiter *rate.Limiter
}

// NewGoogleDrive wraps an authenticated Drive service.
func NewGoogleDrive(svc *drive.Service) *GoogleDrive {
	return &GoogleDrive{
		svc:     svc,
		limiter: rate.NewLimiter(rate.Limit(8), 4),
	}
}

// ListFolder implements DriveService.
func (g *GoogleDrive) ListFolder(ctx context.Context, folderID string) ([]*drive.File, error) {
	var files []*drive.File
	call := g.svc.Files.List().
		Q(fmt.Sprintf("'%s' in parents and trashed = false", folderID)).
		Fields("nextPageToken, files(id, name, mimeType, size, modifiedTime)").
		PageSize(200).
		Context(ctx)

	err := call.Pages(ctx, func(page *drive.FileList) error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		files = append(files, page.Files...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// FetchText implements DriveService.
func (g *GoogleDrive) FetchText(ctx context.Context, f *drive.File) (string, bool, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", false, err
	}

	if exportMime, ok := driveExports[f.MimeType]; ok {
		resp, err := g.svc.Files.Export(f.Id, exportMime).Context(ctx).Download()
		if err != nil {
			return "", false, fmt.Errorf("exporting %s: %w", f.Name, err)
		}
		return readBody(resp.Body, f.Name)
	}

	resp, err := g.svc.Files.Get(f.Id).Context(ctx).Download()
	if err != nil {
		var apiErr *googleapi.Error
		// Formats without a direct download (e.g. other Google-native
		// types) are skipped rather than failed.
		if errors.As(err, &apiErr) && apiErr.Code == 403 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("downloading %s: %w", f.Name, err)
	}
	return readBody(resp.Body, f.Name)
}

func readBody(body io.ReadCloser, name string) (string, bool, error) {
	defer func() { _ = body.Close() }()
	data, err := io.ReadAll(body)
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", name, err)
	}
	if looksBinary(data) {
		return "", false, nil
	}
	return string(data), true, nil
}
