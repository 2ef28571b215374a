package wpcom_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wpsync/internal/wp"
	"wpsync/internal/wpcom"
)

const uploadedBody = `{
	"media": [{
		"ID": 77, "URL": "https://example.files.wordpress.com/2017/11/notes.txt",
		"file": "notes.txt", "mime_type": "text/plain", "title": "notes",
		"date": "2017-11-15T18:13:11+00:00", "width": 0, "height": 0
	}],
	"errors": []
}`

func textFile(name, content string) wp.LocalMedia {
	return wp.LocalMedia{
		Filename: name,
		MIMEType: "text/plain",
		Size:     int64(len(content)),
		Open:     func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(content)), nil },
	}
}

func TestMediaRemote_UploadMedia(t *testing.T) {
	srv := newAPIServer(t)
	srv.on(http.MethodPost, "/rest/v1.1/sites/42/media/new", http.StatusOK, uploadedBody)

	var mu sync.Mutex
	var sent []int64
	progress := func(n, total int64) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, int64(11), total)
		sent = append(sent, n)
	}

	media, err := srv.provider(t).MediaRemote("secret").UploadMedia(context.Background(), 42, textFile(`my "notes".txt`, "hello world"), progress)
	require.NoError(t, err)
	assert.Equal(t, wp.Media{
		ID:       77,
		URL:      "https://example.files.wordpress.com/2017/11/notes.txt",
		File:     "notes.txt",
		MIMEType: "text/plain",
		Title:    "notes",
		Date:     time.Date(2017, 11, 15, 18, 13, 11, 0, time.UTC),
	}, media)

	mu.Lock()
	require.NotEmpty(t, sent)
	assert.Equal(t, int64(11), sent[len(sent)-1])
	mu.Unlock()

	req := srv.last()
	assert.Equal(t, "Bearer secret", req.Auth)
	mediaType, params, err := mime.ParseMediaType(req.Type)
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)

	form := multipart.NewReader(strings.NewReader(req.Body), params["boundary"])
	part, err := form.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "media[]", part.FormName())
	assert.Equal(t, `my "notes".txt`, part.FileName())
	assert.Equal(t, "text/plain", part.Header.Get("Content-Type"))
	content, err := io.ReadAll(part)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(content))
	_, err = form.NextPart()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMediaRemote_UploadErrors(t *testing.T) {
	t.Run("rejected file", func(t *testing.T) {
		srv := newAPIServer(t)
		srv.on(http.MethodPost, "/rest/v1.1/sites/42/media/new", http.StatusOK,
			`{"media": [], "errors": [{"file": "a.exe", "error": "upload_error", "message": "Sorry, this file type is not permitted."}]}`)

		_, err := srv.provider(t).MediaRemote("secret").UploadMedia(context.Background(), 42, textFile("a.exe", "MZ"), func(int64, int64) {})
		var uploadErr *wpcom.UploadError
		require.ErrorAs(t, err, &uploadErr)
		assert.Equal(t, "a.exe", uploadErr.Filename)
		assert.Equal(t, "upload_error", uploadErr.Code)
	})

	t.Run("file cannot be opened", func(t *testing.T) {
		srv := newAPIServer(t)
		srv.on(http.MethodPost, "/rest/v1.1/sites/42/media/new", http.StatusOK, uploadedBody)
		gone := errors.New("file is gone")
		file := wp.LocalMedia{Filename: "gone.txt", Open: func() (io.ReadCloser, error) { return nil, gone }}

		_, err := srv.provider(t).MediaRemote("secret").UploadMedia(context.Background(), 42, file, func(int64, int64) {})
		assert.ErrorIs(t, err, gone)
	})

	t.Run("http error", func(t *testing.T) {
		srv := newAPIServer(t)
		srv.on(http.MethodPost, "/rest/v1.1/sites/42/media/new", http.StatusForbidden,
			`{"error":"unauthorized","message":"User cannot upload media."}`)

		_, err := srv.provider(t).MediaRemote("secret").UploadMedia(context.Background(), 42, textFile("a.txt", "a"), func(int64, int64) {})
		var apiErr *wpcom.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	})
}

func TestMediaRemote_GetMediaLibrary(t *testing.T) {
	srv := newAPIServer(t)
	srv.on(http.MethodGet, "/rest/v1.1/sites/42/media", http.StatusOK, `{
		"found": 2,
		"media": [
			{"ID": 2, "URL": "https://example.files.wordpress.com/b.jpg", "file": "b.jpg", "mime_type": "image/jpeg",
			 "date": "2017-11-15T18:13:11+00:00", "width": 640, "height": 480},
			{"ID": 1, "file": "a.pdf", "mime_type": "application/pdf", "date": "not a date"}
		]
	}`)

	media, err := srv.provider(t).MediaRemote("secret").GetMediaLibrary(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "number=100", srv.last().Query)
	require.Len(t, media, 2)
	assert.Equal(t, 640, media[0].Width)
	assert.Equal(t, time.Date(2017, 11, 15, 18, 13, 11, 0, time.UTC), media[0].Date)
	assert.True(t, media[1].Date.IsZero())

	srv.on(http.MethodGet, "/rest/v1.1/sites/42/media", http.StatusOK, `{"found": 0}`)
	_, err = srv.provider(t).MediaRemote("secret").GetMediaLibrary(context.Background(), 42)
	assert.ErrorIs(t, err, wpcom.ErrDecodingFailure)
}

func TestPostsRemote_GetPosts(t *testing.T) {
	srv := newAPIServer(t)
	srv.on(http.MethodGet, "/rest/v1.1/sites/42/posts", http.StatusOK, `{
		"found": 1,
		"posts": [{
			"ID": 9, "title": "Bridge", "content": "Steel\n\nand stone", "excerpt": "",
			"status": "publish", "type": "jetpack-portfolio",
			"date": "2017-11-15T18:13:11+00:00", "modified": "2017-11-16T08:00:00+00:00",
			"URL": "https://example.wordpress.com/portfolio/bridge/"
		}]
	}`)

	posts, err := srv.provider(t).PostRemote("secret").GetPosts(context.Background(), 42,
		wp.PostQuery{Type: wp.PortfolioPostType, Status: "publish", Number: 5})
	require.NoError(t, err)
	assert.Equal(t, "context=edit&number=5&status=publish&type=jetpack-portfolio", srv.last().Query)
	assert.Equal(t, []wp.Post{{
		ID:       9,
		Title:    "Bridge",
		Content:  "Steel\n\nand stone",
		Status:   "publish",
		Type:     wp.PortfolioPostType,
		Date:     time.Date(2017, 11, 15, 18, 13, 11, 0, time.UTC),
		Modified: time.Date(2017, 11, 16, 8, 0, 0, 0, time.UTC),
		URL:      "https://example.wordpress.com/portfolio/bridge/",
	}}, posts)
}

func TestPostsRemote_Autosave(t *testing.T) {
	srv := newAPIServer(t)
	srv.on(http.MethodPost, "/rest/v1.1/sites/42/posts/9/autosave", http.StatusOK,
		`{"ID": 120, "post_ID": 9, "modified": "2017-11-16T08:00:00+00:00", "preview_URL": "https://example.wordpress.com/?p=9&preview=true"}`)

	result, err := srv.provider(t).PostRemote("secret").Autosave(context.Background(), 42,
		wp.Post{ID: 9, Title: "Bridge", Content: "<p>Steel</p>", Status: "publish"})
	require.NoError(t, err)
	assert.Equal(t, wp.AutosaveResult{
		RevisionID: 120,
		PostID:     9,
		Modified:   time.Date(2017, 11, 16, 8, 0, 0, 0, time.UTC),
		PreviewURL: "https://example.wordpress.com/?p=9&preview=true",
	}, result)

	req := srv.last()
	assert.Equal(t, "application/json", req.Type)
	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(req.Body), &body))
	assert.Equal(t, map[string]string{"title": "Bridge", "content": "<p>Steel</p>", "excerpt": ""}, body)

	srv.on(http.MethodPost, "/rest/v1.1/sites/42/posts/9/autosave", http.StatusOK, `{}`)
	_, err = srv.provider(t).PostRemote("secret").Autosave(context.Background(), 42, wp.Post{ID: 9})
	assert.ErrorIs(t, err, wpcom.ErrDecodingFailure)
}
