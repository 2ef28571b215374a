package wp

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"
)

// Media is an item of a site's media library.
type Media struct {
	ID       int64
	URL      string
	File     string
	MIMEType string
	Title    string
	Date     time.Time
	Width    int
	Height   int
}

// LocalMedia is a file waiting to be uploaded. Open is called once per
// attempt, so a retried upload reads the file again from the start.
type LocalMedia struct {
	Filename string
	MIMEType string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// LocalFile describes the file at path for upload. The MIME type is guessed
// from the extension.
func LocalFile(path string) (LocalMedia, error) {
	info, err := os.Stat(path)
	if err != nil {
		return LocalMedia{}, err
	}
	if info.IsDir() {
		return LocalMedia{}, fmt.Errorf("%s is a directory", path)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return LocalMedia{
		Filename: filepath.Base(path),
		MIMEType: mimeType,
		Size:     info.Size(),
		Open:     func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// UploadState is where an upload is in its lifecycle.
type UploadState int

const (
	Uploading UploadState = iota
	UploadEnded
	UploadFailed
)

func (s UploadState) String() string {
	switch s {
	case Uploading:
		return "uploading"
	case UploadEnded:
		return "ended"
	case UploadFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Upload is a snapshot of one upload tracked by a MediaCoordinator.
type Upload struct {
	ID       string
	Site     SiteRef
	File     LocalMedia
	State    UploadState
	Progress float64 // fraction of the file sent, 0 to 1
	Media    Media   // set once State is UploadEnded
	Err      error   // set while State is UploadFailed
	Attempts int
}

// MediaEvent is delivered to upload observers on every state or progress
// change.
type MediaEvent struct {
	Upload
}

// Media actions. All of them are dispatched by MediaCoordinator itself when
// a remote call completes.

type MediaUploaded struct {
	UploadID string
	Site     SiteRef
	Media    Media
}

type MediaUploadFailed struct {
	UploadID string
	Site     SiteRef
	Err      error
}

type ReceiveMediaLibrary struct {
	Site  SiteRef
	Media []Media
}

type ReceiveMediaLibraryFailed struct {
	Site SiteRef
	Err  error
}
