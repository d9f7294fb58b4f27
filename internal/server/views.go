package server

import (
	"time"

	"bilimshare/internal/feed"
	"bilimshare/internal/models"
	"bilimshare/internal/render"
)

// AuthorView is the public face of a user inside feed payloads.
type AuthorView struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Role models.Role `json:"role,omitempty"`
}

// CommentView is a comment with its replies.
type CommentView struct {
	ID         string        `json:"id"`
	Text       string        `json:"text"`
	AuthorID   string        `json:"author_id"`
	AuthorName string        `json:"author_name"`
	ParentID   *string       `json:"parent_id"`
	CreatedAt  time.Time     `json:"created_at"`
	Replies    []CommentView `json:"replies"`
}

// PostView is a feed entry.
type PostView struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Body         string        `json:"body"`
	BodyHTML     string        `json:"body_html"`
	Excerpt      string        `json:"excerpt"`
	Category     string        `json:"category"`
	Image        string        `json:"image"`
	CreatedAt    time.Time     `json:"created_at"`
	Author       AuthorView    `json:"author"`
	Likes        int           `json:"likes"`
	LikedByMe    bool          `json:"liked_by_me"`
	CommentCount int           `json:"comment_count"`
	Comments     []CommentView `json:"comments"`
}

// CategoryFacet is a category with its post count.
type CategoryFacet struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// PopularView is an entry of the popular list.
type PopularView struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Likes    int    `json:"likes"`
}

// StatsView is a leaderboard row.
type StatsView struct {
	User  AuthorView `json:"user"`
	Posts int        `json:"posts"`
	Likes int        `json:"likes"`
	Score int        `json:"score"`
}

// FeedResponse is the body of GET /api/feed.
type FeedResponse struct {
	Generation  uint64          `json:"generation"`
	BuiltAt     time.Time       `json:"built_at"`
	Category    string          `json:"category"`
	Total       int             `json:"total"`
	Posts       []PostView      `json:"posts"`
	Categories  []CategoryFacet `json:"categories"`
	Popular     []PopularView   `json:"popular"`
	Leaderboard []StatsView     `json:"leaderboard"`
}

// ProfileResponse is the body of GET /api/users/:id.
type ProfileResponse struct {
	User  *models.User `json:"user"`
	Stats StatsView    `json:"stats"`
	Posts []PostView   `json:"posts"`
}

// CompatAuthor mirrors the embedded author of the original posts listing.
type CompatAuthor struct {
	Name string `json:"name"`
}

// CompatLike mirrors one like row of the original posts listing.
type CompatLike struct {
	UserID string `json:"user_id"`
}

// CompatPost is one entry of GET /api/posts.
type CompatPost struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Body       string        `json:"body"`
	Category   string        `json:"category"`
	Image      string        `json:"image"`
	Author     string        `json:"author"`
	CreatedAt  time.Time     `json:"created_at"`
	Users      *CompatAuthor `json:"users"`
	Likes      []CompatLike  `json:"likes"`
	LikesCount int           `json:"likesCount"`
}

func authorView(v *feed.ViewModel, id string) AuthorView {
	a := AuthorView{ID: id, Name: v.AuthorName(id)}
	if u, ok := v.Author(id); ok {
		a.Role = u.Role
	}
	return a
}

func newCommentViews(v *feed.ViewModel, nodes []*feed.ThreadNode) []CommentView {
	out := make([]CommentView, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, CommentView{
			ID:         n.Comment.ID,
			Text:       n.Comment.Text,
			AuthorID:   n.Comment.AuthorID,
			AuthorName: v.CommenterName(n.Comment.AuthorID),
			ParentID:   n.Comment.ParentID,
			CreatedAt:  n.Comment.CreatedAt,
			Replies:    newCommentViews(v, n.Replies),
		})
	}
	return out
}

func newPostView(v *feed.ViewModel, p models.Post, viewerID string) PostView {
	return PostView{
		ID:           p.ID,
		Title:        p.Title,
		Body:         p.Body,
		BodyHTML:     render.Markdown(p.Body),
		Excerpt:      feed.Excerpt(render.PlainText(p.Body), feed.ExcerptLength),
		Category:     p.Category,
		Image:        p.Image,
		CreatedAt:    p.CreatedAt,
		Author:       authorView(v, p.AuthorID),
		Likes:        v.LikesFor(p.ID).Count,
		LikedByMe:    v.LikedBy(p.ID, viewerID),
		CommentCount: len(v.CommentsFor(p.ID)),
		Comments:     newCommentViews(v, feed.Thread(v, p.ID)),
	}
}

func newPostViews(v *feed.ViewModel, posts []models.Post, viewerID string) []PostView {
	out := make([]PostView, 0, len(posts))
	for _, p := range posts {
		out = append(out, newPostView(v, p, viewerID))
	}
	return out
}

func newStatsView(s feed.UserStats) StatsView {
	return StatsView{
		User:  AuthorView{ID: s.User.ID, Name: s.User.Name, Role: s.User.Role},
		Posts: s.PostsCount,
		Likes: s.LikesReceived,
		Score: s.Score,
	}
}

func newFeedResponse(snap *feed.Snapshot, posts []models.Post, category, viewerID string) FeedResponse {
	resp := FeedResponse{
		Generation:  snap.Generation,
		BuiltAt:     snap.BuiltAt,
		Category:    category,
		Total:       len(snap.View.Posts),
		Posts:       newPostViews(snap.View, posts, viewerID),
		Categories:  make([]CategoryFacet, 0, len(snap.Categories)),
		Popular:     make([]PopularView, 0, len(snap.Popular)),
		Leaderboard: make([]StatsView, 0, len(snap.Leaderboard)),
	}
	for _, name := range snap.Categories {
		resp.Categories = append(resp.Categories, CategoryFacet{Name: name, Count: snap.CategoryCounts[name]})
	}
	for _, p := range snap.Popular {
		resp.Popular = append(resp.Popular, PopularView{
			ID:       p.ID,
			Title:    p.Title,
			Category: p.Category,
			Likes:    snap.View.LikesFor(p.ID).Count,
		})
	}
	for _, row := range snap.Leaderboard {
		resp.Leaderboard = append(resp.Leaderboard, newStatsView(row))
	}
	return resp
}

func newCompatPost(p models.Post) CompatPost {
	out := CompatPost{
		ID:         p.ID,
		Title:      p.Title,
		Body:       p.Body,
		Category:   p.Category,
		Image:      p.Image,
		Author:     p.AuthorID,
		CreatedAt:  p.CreatedAt,
		Likes:      make([]CompatLike, 0, len(p.Likes)),
		LikesCount: len(p.Likes),
	}
	if p.Author != nil {
		out.Users = &CompatAuthor{Name: p.Author.Name}
	}
	for _, l := range p.Likes {
		out.Likes = append(out.Likes, CompatLike{UserID: l.UserID})
	}
	return out
}
