package wp

import (
	"context"
	"fmt"
	"time"
)

// PortfolioPostType is the post type Jetpack stores portfolio projects as.
const PortfolioPostType = "jetpack-portfolio"

const defaultPostCount = 20

// Post is a post as returned by the API, with content in its stored form.
type Post struct {
	ID       int64
	Title    string
	Content  string
	Excerpt  string
	Status   string
	Type     string
	Date     time.Time
	Modified time.Time
	URL      string
}

// PostQuery narrows a post listing. Zero fields leave the API's defaults.
type PostQuery struct {
	Type   string
	Status string
	Number int
}

// AutosaveResult is the revision an autosave created.
type AutosaveResult struct {
	RevisionID int64
	PostID     int64
	Modified   time.Time
	PreviewURL string
}

// PostService lists posts and portfolio projects and autosaves edits.
type PostService struct {
	accounts AccountSource
	remotes  RemoteProvider
	logger   Logger
}

func NewPostService(accounts AccountSource, remotes RemoteProvider, logger Logger) *PostService {
	return &PostService{
		accounts: accounts,
		remotes:  remotes,
		logger:   loggerOrNop(logger),
	}
}

// Posts lists the posts of site matching query.
func (s *PostService) Posts(ctx context.Context, site SiteRef, query PostQuery) ([]Post, error) {
	remote, err := s.remote(site)
	if err != nil {
		return nil, fmt.Errorf("listing posts for %s: %w", site, err)
	}
	if query.Number <= 0 {
		query.Number = defaultPostCount
	}

	posts, err := remote.GetPosts(ctx, site.SiteID, query)
	if err != nil {
		return nil, fmt.Errorf("listing posts for %s: %w", site, err)
	}
	s.logger.Debug("listed posts", "site", site.SiteID, "type", query.Type, "count", len(posts))
	return posts, nil
}

// Portfolio lists the portfolio projects of site.
func (s *PostService) Portfolio(ctx context.Context, site SiteRef, number int) ([]Post, error) {
	return s.Posts(ctx, site, PostQuery{Type: PortfolioPostType, Number: number})
}

// Autosave stores post's title, content and excerpt as an autosave revision
// without touching the published post.
func (s *PostService) Autosave(ctx context.Context, site SiteRef, post Post) (AutosaveResult, error) {
	if post.ID == 0 {
		return AutosaveResult{}, ErrPostNotSaved
	}
	remote, err := s.remote(site)
	if err != nil {
		return AutosaveResult{}, fmt.Errorf("autosaving post %d on %s: %w", post.ID, site, err)
	}

	result, err := remote.Autosave(ctx, site.SiteID, post)
	if err != nil {
		return AutosaveResult{}, fmt.Errorf("autosaving post %d on %s: %w", post.ID, site, err)
	}
	s.logger.Info("post autosaved", "site", site.SiteID, "post", post.ID, "revision", result.RevisionID)
	return result, nil
}

func (s *PostService) remote(site SiteRef) (PostRemote, error) {
	account, ok := s.accounts.Account(site.AccountID)
	if !ok {
		return nil, ErrAccountNotFound
	}
	return s.remotes.PostRemote(account.Token), nil
}
