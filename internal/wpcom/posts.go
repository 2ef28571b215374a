package wpcom

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"wpsync/internal/wp"
)

// PostsRemote implements wp.PostRemote on the v1.1 posts endpoints.
type PostsRemote struct {
	client *Client
}

var _ wp.PostRemote = (*PostsRemote)(nil)

func NewPostsRemote(client *Client) *PostsRemote {
	return &PostsRemote{client: client}
}

type postJSON struct {
	ID       int64  `json:"ID"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Excerpt  string `json:"excerpt"`
	Status   string `json:"status"`
	Type     string `json:"type"`
	Date     string `json:"date"`
	Modified string `json:"modified"`
	URL      string `json:"URL"`
}

type postsJSON struct {
	Posts *[]postJSON `json:"posts"`
}

type autosaveRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Excerpt string `json:"excerpt"`
}

type autosaveJSON struct {
	ID         int64  `json:"ID"`
	PostID     int64  `json:"post_ID"`
	Modified   string `json:"modified"`
	PreviewURL string `json:"preview_URL"`
}

// GetPosts lists posts in edit context, so content comes back as stored
// rather than rendered.
func (r *PostsRemote) GetPosts(ctx context.Context, siteID int64, q wp.PostQuery) ([]wp.Post, error) {
	query := url.Values{}
	query.Set("context", "edit")
	if q.Type != "" {
		query.Set("type", q.Type)
	}
	if q.Status != "" {
		query.Set("status", q.Status)
	}
	if q.Number > 0 {
		query.Set("number", strconv.Itoa(q.Number))
	}

	var payload postsJSON
	path := fmt.Sprintf("%ssites/%d/posts", apiVersion1_1, siteID)
	if err := r.client.get(ctx, path, query, &payload); err != nil {
		return nil, err
	}
	if payload.Posts == nil {
		return nil, fmt.Errorf("posts of site %d: %w", siteID, ErrDecodingFailure)
	}

	posts := make([]wp.Post, 0, len(*payload.Posts))
	for _, p := range *payload.Posts {
		posts = append(posts, wp.Post{
			ID:       p.ID,
			Title:    p.Title,
			Content:  p.Content,
			Excerpt:  p.Excerpt,
			Status:   p.Status,
			Type:     p.Type,
			Date:     parseTime(p.Date),
			Modified: parseTime(p.Modified),
			URL:      p.URL,
		})
	}
	return posts, nil
}

func (r *PostsRemote) Autosave(ctx context.Context, siteID int64, post wp.Post) (wp.AutosaveResult, error) {
	body := autosaveRequest{Title: post.Title, Content: post.Content, Excerpt: post.Excerpt}

	var payload autosaveJSON
	path := fmt.Sprintf("%ssites/%d/posts/%d/autosave", apiVersion1_1, siteID, post.ID)
	if err := r.client.post(ctx, path, body, &payload); err != nil {
		return wp.AutosaveResult{}, err
	}
	if payload.ID == 0 {
		return wp.AutosaveResult{}, fmt.Errorf("autosave of post %d: %w", post.ID, ErrDecodingFailure)
	}
	return wp.AutosaveResult{
		RevisionID: payload.ID,
		PostID:     payload.PostID,
		Modified:   parseTime(payload.Modified),
		PreviewURL: payload.PreviewURL,
	}, nil
}
