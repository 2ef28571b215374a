package wpcom

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"wpsync/internal/wp"
)

// mediaPageSize is the number of library items requested per sync.
const mediaPageSize = 100

// UploadError is a file the media endpoint refused while answering 200.
type UploadError struct {
	Filename string
	Code     string
	Message  string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("uploading %s: %s: %s", e.Filename, e.Code, e.Message)
}

// MediaRemote implements wp.MediaRemote on the v1.1 media endpoints.
type MediaRemote struct {
	client *Client
}

var _ wp.MediaRemote = (*MediaRemote)(nil)

func NewMediaRemote(client *Client) *MediaRemote {
	return &MediaRemote{client: client}
}

type mediaJSON struct {
	ID       int64  `json:"ID"`
	URL      string `json:"URL"`
	File     string `json:"file"`
	MIMEType string `json:"mime_type"`
	Title    string `json:"title"`
	Date     string `json:"date"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

func (m mediaJSON) media() wp.Media {
	return wp.Media{
		ID:       m.ID,
		URL:      m.URL,
		File:     m.File,
		MIMEType: m.MIMEType,
		Title:    m.Title,
		Date:     parseTime(m.Date),
		Width:    m.Width,
		Height:   m.Height,
	}
}

type mediaListJSON struct {
	Media *[]mediaJSON `json:"media"`
}

type uploadJSON struct {
	Media  []mediaJSON `json:"media"`
	Errors []struct {
		File    string `json:"file"`
		Error   string `json:"error"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (r *MediaRemote) GetMediaLibrary(ctx context.Context, siteID int64) ([]wp.Media, error) {
	query := url.Values{}
	query.Set("number", fmt.Sprint(mediaPageSize))

	var payload mediaListJSON
	path := fmt.Sprintf("%ssites/%d/media", apiVersion1_1, siteID)
	if err := r.client.get(ctx, path, query, &payload); err != nil {
		return nil, err
	}
	if payload.Media == nil {
		return nil, fmt.Errorf("media of site %d: %w", siteID, ErrDecodingFailure)
	}

	media := make([]wp.Media, 0, len(*payload.Media))
	for _, m := range *payload.Media {
		media = append(media, m.media())
	}
	return media, nil
}

// UploadMedia streams file as the "media[]" part of a multipart form.
func (r *MediaRemote) UploadMedia(ctx context.Context, siteID int64, file wp.LocalMedia, progress func(sent, total int64)) (wp.Media, error) {
	body, writer := io.Pipe()
	form := multipart.NewWriter(writer)
	go func() {
		writer.CloseWithError(writeMediaForm(form, file, progress))
	}()

	var payload uploadJSON
	path := fmt.Sprintf("%ssites/%d/media/new", apiVersion1_1, siteID)
	if err := r.client.send(ctx, http.MethodPost, path, nil, body, form.FormDataContentType(), &payload); err != nil {
		_ = body.CloseWithError(err)
		return wp.Media{}, err
	}
	if len(payload.Media) > 0 {
		return payload.Media[0].media(), nil
	}
	if len(payload.Errors) > 0 {
		e := payload.Errors[0]
		return wp.Media{}, &UploadError{Filename: file.Filename, Code: e.Error, Message: e.Message}
	}
	return wp.Media{}, fmt.Errorf("upload of %s: %w", file.Filename, ErrDecodingFailure)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeMediaForm(form *multipart.Writer, file wp.LocalMedia, progress func(sent, total int64)) error {
	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", file.Filename, err)
	}
	defer func() { _ = src.Close() }()

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="media[]"; filename="%s"`, quoteEscaper.Replace(file.Filename)))
	header.Set("Content-Type", file.MIMEType)
	part, err := form.CreatePart(header)
	if err != nil {
		return err
	}

	if _, err := io.Copy(part, &countingReader{r: src, total: file.Size, progress: progress}); err != nil {
		return fmt.Errorf("sending %s: %w", file.Filename, err)
	}
	return form.Close()
}

// countingReader reports the bytes read through it after every Read.
type countingReader struct {
	r        io.Reader
	sent     int64
	total    int64
	progress func(sent, total int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 && c.progress != nil {
		c.sent += int64(n)
		c.progress(c.sent, c.total)
	}
	return n, err
}

// parseTime reads the API's ISO 8601 dates. Unparseable dates are zero.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
