package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"os"

	"github.com/andresuchdata/gdrive-helper/pkg/logger"
	"github.com/gabriel-vasile/mimetype"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 1000

	listFields = "nextPageToken, files(id, name)"
)

type File struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Page is one list response. NextPageToken is empty on the last page.
type Page struct {
	Files         []File `json:"files"`
	NextPageToken string `json:"nextPageToken,omitempty"`
}

func clampPageSize(n int) int64 {
	switch {
	case n <= 0:
		return DefaultPageSize
	case n > MaxPageSize:
		return MaxPageSize
	}
	return int64(n)
}

// ListFiles returns the first page of at most pageSize files.
func ListFiles(ctx context.Context, client *AuthorizedClient, pageSize int) ([]File, error) {
	page, err := ListPage(ctx, client, pageSize, "")
	if err != nil {
		return nil, err
	}
	return page.Files, nil
}

// ListPage fetches a single page starting at pageToken ("" for the first).
func ListPage(ctx context.Context, client *AuthorizedClient, pageSize int, pageToken string) (*Page, error) {
	var result *drive.FileList
	err := client.do(ctx, func() error {
		call := client.service.Files.List().
			PageSize(clampPageSize(pageSize)).
			Fields(listFields).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		var err error
		result, err = call.Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	page := &Page{
		Files:         make([]File, 0, len(result.Files)),
		NextPageToken: result.NextPageToken,
	}
	for _, f := range result.Files {
		page.Files = append(page.Files, File{ID: f.Id, Name: f.Name})
	}
	return page, nil
}

// Files yields every file, following continuation tokens lazily. Each range
// over the sequence starts again from the first page. Iteration stops after
// the first error is yielded.
func Files(ctx context.Context, client *AuthorizedClient, pageSize int) iter.Seq2[File, error] {
	return func(yield func(File, error) bool) {
		token := ""
		for {
			page, err := ListPage(ctx, client, pageSize, token)
			if err != nil {
				yield(File{}, err)
				return
			}
			for _, f := range page.Files {
				if !yield(f, nil) {
					return
				}
			}
			if page.NextPageToken == "" {
				return
			}
			token = page.NextPageToken
		}
	}
}

// UploadFile streams localPath into folderID as fileName and returns the new
// file id. An empty mimeType is detected from the content; an empty folderID
// uploads into the Drive root.
func UploadFile(ctx context.Context, client *AuthorizedClient, fileName, localPath, mimeType, folderID string) (string, error) {
	// Fail on bad input before the first request.
	f, err := openUploadSource(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if mimeType == "" {
		mimeType, err = detectMIME(f)
		if err != nil {
			return "", err
		}
	}

	meta := &drive.File{Name: fileName}
	if folderID != "" {
		meta.Parents = []string{folderID}
	}

	var created *drive.File
	err = client.do(ctx, func() error {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return &LocalFileError{Path: localPath, Err: err}
		}

		var err error
		created, err = client.service.Files.Create(meta).
			Media(f, googleapi.ContentType(mimeType)).
			Fields("id").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return "", err
	}
	if created.Id == "" {
		return "", &RemoteAPIError{Status: http.StatusOK, Message: "upload response carried no file id"}
	}

	logger.Component("drive").Info().
		Str("file_id", created.Id).
		Str("name", fileName).
		Str("mime_type", mimeType).
		Msg("file uploaded")
	return created.Id, nil
}

func openUploadSource(localPath string) (*os.File, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, &LocalFileError{Path: localPath, Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &LocalFileError{Path: localPath, Err: err}
	}
	if info.IsDir() {
		f.Close()
		return nil, &LocalFileError{Path: localPath, Err: errors.New("is a directory")}
	}
	return f, nil
}

func detectMIME(f *os.File) (string, error) {
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return "", &LocalFileError{Path: f.Name(), Err: fmt.Errorf("detect mime type: %w", err)}
	}
	return mt.String(), nil
}

// do checks the token, runs call, and on a 401 refreshes and retries once.
func (c *AuthorizedClient) do(ctx context.Context, call func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.source.Token(); err != nil {
		return err
	}

	err := call()
	if err == nil {
		return nil
	}

	remoteErr := remoteError(err)
	var apiErr *RemoteAPIError
	if !errors.As(remoteErr, &apiErr) || !apiErr.Unauthorized() || !c.source.invalidate() {
		return remoteErr
	}

	logger.Component("drive").Debug().Msg("access token rejected, refreshing and retrying once")
	if _, err := c.source.Token(); err != nil {
		return err
	}
	return remoteError(call())
}
